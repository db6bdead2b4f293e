package wiki

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// MaxSlugLength bounds slugs and tag names.
const MaxSlugLength = 64

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

var reservedSlugs = map[string]struct{}{}

func init() {
	for _, slug := range []string{
		"create", "edit", "p", "ajax", "history", "manage", "static", "media",
		"accounts", "tags", "init-config", "upload", "upload-info", "about",
		"stats", "terms", "privacy", "easter", "search", "help", "circles",
		"protect", "kt", "embed", "api", "changed-since", "metrics", "healthz",
		"diff", "leaderboard", "docs", "schemas",
	} {
		reservedSlugs[slug] = struct{}{}
	}
}

// IsReservedSlug reports whether slug collides with a built-in route.
func IsReservedSlug(slug string) bool {
	_, ok := reservedSlugs[slug]
	return ok
}

// ValidateSlug checks the slug grammar and the reserved list.
func ValidateSlug(slug string) error {
	switch {
	case slug == "":
		return &ValidationError{Field: "slug", Value: slug, Reason: "must not be empty"}
	case utf8.RuneCountInString(slug) > MaxSlugLength:
		return &ValidationError{Field: "slug", Value: slug, Reason: "too long"}
	case !slugPattern.MatchString(slug):
		return &ValidationError{Field: "slug", Value: slug, Reason: "only lowercase letters, digits and single hyphens are allowed"}
	case IsReservedSlug(slug):
		return &ValidationError{Field: "slug", Value: slug, Reason: "reserved"}
	}
	return nil
}

// NormalizeTag lowercases a tag, turns spaces and underscores into hyphens and
// drops a leading hash.
func NormalizeTag(raw string) string {
	tag := strings.ToLower(strings.TrimSpace(raw))
	tag = strings.NewReplacer(" ", "-", "_", "-").Replace(tag)
	return strings.TrimLeft(tag, "#")
}

// NormalizeTags normalises, deduplicates and sorts tags, dropping empty ones.
func NormalizeTags(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	tags := make([]string, 0, len(raw))
	for _, r := range raw {
		tag := NormalizeTag(r)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// ValidateTags normalises tags and rejects any outside the slug grammar.
func ValidateTags(raw []string) ([]string, error) {
	tags := NormalizeTags(raw)
	for _, tag := range tags {
		if utf8.RuneCountInString(tag) > MaxSlugLength || !slugPattern.MatchString(tag) {
			return nil, &ValidationError{Field: "tags", Value: tag, Reason: "only letters, digits and hyphens are allowed"}
		}
	}
	return tags, nil
}

// SplitTags splits a comma separated tag list.
func SplitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func validateTitle(title string) (string, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return "", &ValidationError{Field: "title", Value: title, Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(trimmed) > 256 {
		return "", &ValidationError{Field: "title", Value: title, Reason: "too long"}
	}
	return trimmed, nil
}
