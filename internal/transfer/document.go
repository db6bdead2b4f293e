package transfer

import (
	"strconv"
	"strings"
)

// Document is the JSON interchange format for exported pages.
type Document struct {
	Pages []PageRecord          `json:"pages"`
	Users map[string]UserRecord `json:"users"`
}

// PageRecord is one exported page.
type PageRecord struct {
	Title      string           `json:"title"`
	URL        *string          `json:"url"`
	Tags       []string         `json:"tags"`
	Calendar   *float64         `json:"calendar,omitempty"`
	IsRedirect bool             `json:"is_redirect"`
	IsLocked   bool             `json:"is_locked"`
	IsCW       bool             `json:"is_cw"`
	History    []RevisionRecord `json:"history"`
}

// RevisionRecord is one revision of an exported page.
type RevisionRecord struct {
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
	User      *uint   `json:"user"`
	Comment   string  `json:"comment"`
	Length    int     `json:"length"`
}

// UserRecord describes an author referenced by RevisionRecord.User.
type UserRecord struct {
	Name string `json:"name"`
}

// SelectorKind tells how a selector line picks pages.
type SelectorKind int

const (
	SelectByID SelectorKind = iota
	SelectByTag
	SelectBySlug
	SelectByTitle
)

// Selector picks pages for export.
type Selector struct {
	Kind  SelectorKind
	Value string
}

// ParseSelectors reads one selector per line: "+<id>", "#<tag>", "/<slug>/"
// or a plain title. Lines shorter than two characters are ignored.
func ParseSelectors(raw string) []Selector {
	var selectors []Selector
	for _, line := range strings.Split(raw, "\n") {
		item := strings.TrimSpace(line)
		if len(item) < 2 {
			continue
		}

		switch item[0] {
		case '+':
			if _, err := strconv.ParseUint(item[1:], 10, 64); err != nil {
				selectors = append(selectors, Selector{Kind: SelectByTitle, Value: item})
				continue
			}
			selectors = append(selectors, Selector{Kind: SelectByID, Value: item[1:]})
		case '#':
			selectors = append(selectors, Selector{Kind: SelectByTag, Value: item[1:]})
		case '/':
			selectors = append(selectors, Selector{Kind: SelectBySlug, Value: strings.TrimRight(item[1:], "/")})
		default:
			selectors = append(selectors, Selector{Kind: SelectByTitle, Value: item})
		}
	}
	return selectors
}
