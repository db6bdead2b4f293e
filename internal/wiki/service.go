package wiki

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salvi/app/internal/content"
	"salvi/app/internal/links"
	"salvi/app/internal/markup"
	"salvi/app/internal/permission"
	"salvi/app/internal/revision"
)

// ContentWarningPlaceholder stands in for the excerpt of pages flagged with a content warning.
const ContentWarningPlaceholder = "(This page has a content warning. Open it to read its content.)"

const (
	defaultDescriptionSize = 200
	defaultListLimit       = 20
	maxListLimit           = 200
	maxPropertyKeyLength   = 64
)

// Recorder receives workflow events, typically for metrics.
type Recorder interface {
	PageCreated()
	PageEdited(appended bool)
	RemoteApplied(applied bool)
}

type nopRecorder struct{}

func (nopRecorder) PageCreated()       {}
func (nopRecorder) PageEdited(bool)    {}
func (nopRecorder) RemoteApplied(bool) {}

// Dependencies wires the service. Recorder, SentryHub, DescriptionSize and Now are optional.
type Dependencies struct {
	DB              *gorm.DB
	Pages           *Repository
	Content         *content.Store
	Ledger          *revision.Ledger
	Graph           *links.Graph
	Permissions     *permission.Engine
	Renderer        *markup.Renderer
	Recorder        Recorder
	Logger          *logrus.Logger
	SentryHub       *sentry.Hub
	DescriptionSize int
	Now             func() time.Time
}

// Service orchestrates page workflows over the content store, revision
// ledger, link graph and permission engine.
type Service struct {
	db              *gorm.DB
	pages           *Repository
	content         *content.Store
	ledger          *revision.Ledger
	graph           *links.Graph
	perms           *permission.Engine
	renderer        *markup.Renderer
	recorder        Recorder
	logger          *logrus.Logger
	sentryHub       *sentry.Hub
	descriptionSize int
	now             func() time.Time
}

// NewService wires the wiki service with its dependencies.
func NewService(deps Dependencies) (*Service, error) {
	switch {
	case deps.DB == nil:
		return nil, eris.New("gorm DB is required")
	case deps.Pages == nil:
		return nil, eris.New("page repository is required")
	case deps.Content == nil:
		return nil, eris.New("content store is required")
	case deps.Ledger == nil:
		return nil, eris.New("revision ledger is required")
	case deps.Graph == nil:
		return nil, eris.New("link graph is required")
	case deps.Permissions == nil:
		return nil, eris.New("permission engine is required")
	case deps.Renderer == nil:
		return nil, eris.New("markup renderer is required")
	}

	s := &Service{
		db:              deps.DB,
		pages:           deps.Pages,
		content:         deps.Content,
		ledger:          deps.Ledger,
		graph:           deps.Graph,
		perms:           deps.Permissions,
		renderer:        deps.Renderer,
		recorder:        deps.Recorder,
		logger:          deps.Logger,
		sentryHub:       deps.SentryHub,
		descriptionSize: deps.DescriptionSize,
		now:             deps.Now,
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	if s.descriptionSize <= 0 {
		s.descriptionSize = defaultDescriptionSize
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s, nil
}

type stores struct {
	pages  *Repository
	ledger *revision.Ledger
	graph  *links.Graph
}

// inTx runs fn inside one transaction spanning pages, revisions, blobs and links.
func (s *Service) inTx(ctx context.Context, fn func(st stores) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(stores{
			pages:  s.pages.WithTx(tx),
			ledger: s.ledger.WithTx(tx),
			graph:  s.graph.WithTx(tx),
		})
	})
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC()
}

// CreateInput describes a new page.
type CreateInput struct {
	Slug           string
	Title          string
	Text           string
	Tags           []string
	Comment        string
	Calendar       *time.Time
	ContentWarning bool
}

// CreatePage creates a page and its first revision in one transaction.
func (s *Service) CreatePage(ctx context.Context, identity permission.Identity, in CreateInput) (*Page, error) {
	slug := strings.TrimSpace(in.Slug)

	need := permission.Create
	if slug != "" {
		need |= permission.SetURL
	}
	if len(NormalizeTags(in.Tags)) > 0 {
		need |= permission.SetTags
	}
	if err := s.perms.Require(ctx, identity, nil, need); err != nil {
		return nil, eris.Wrap(err, "creating page")
	}

	title, err := validateTitle(in.Title)
	if err != nil {
		return nil, err
	}
	if slug != "" {
		if err := ValidateSlug(slug); err != nil {
			return nil, err
		}
	}
	tags, err := ValidateTags(in.Tags)
	if err != nil {
		return nil, err
	}

	now := s.timestamp()
	page := &Page{
		Title:            title,
		OwnerID:          identity.UserID(),
		IsContentWarning: in.ContentWarning,
		Calendar:         in.Calendar,
		Touched:          now,
	}
	if slug != "" {
		page.Slug = &slug
	}

	err = s.inTx(ctx, func(st stores) error {
		if slug != "" {
			owner, err := st.pages.SlugOwner(ctx, slug)
			if err != nil {
				return err
			}
			if owner != 0 {
				return eris.Wrapf(ErrConflict, "slug %s is taken", slug)
			}
		}

		if err := st.pages.Create(ctx, page); err != nil {
			return err
		}

		if _, err := st.ledger.Append(ctx, revision.AppendInput{
			PageID:    page.ID,
			AuthorID:  identity.UserID(),
			Comment:   in.Comment,
			Text:      in.Text,
			Timestamp: now,
		}); err != nil {
			return err
		}

		if err := st.pages.ChangeTags(ctx, page.ID, tags); err != nil {
			return err
		}

		return st.graph.Refresh(ctx, page.ID, in.Text)
	})
	if err != nil {
		if !eris.Is(err, ErrConflict) {
			s.recordError(logrus.Fields{"title": title}, err, "creating page")
		}
		return nil, eris.Wrap(err, "creating page")
	}

	s.recorder.PageCreated()
	s.logInfo(logrus.Fields{"page_id": page.ID, "user_id": identity.ID}, "page created")

	return page, nil
}

// EditInput describes changes to a page. Nil fields are left unchanged.
type EditInput struct {
	Title          *string
	Slug           *string
	Text           *string
	Tags           []string
	Comment        string
	Locked         *bool
	ContentWarning *bool
	Calendar       *time.Time
	ClearCalendar  bool
	// BaseRevisionID, when set, must match the latest revision or the edit
	// fails with ErrConflict.
	BaseRevisionID uint
}

// EditResult reports the outcome of an edit.
type EditResult struct {
	Page     *Page
	Revision *revision.Revision
	Appended bool
}

// EditPage applies an edit. Authorization is checked before anything else;
// a revision is appended only when the text actually changes.
func (s *Service) EditPage(ctx context.Context, identity permission.Identity, pageID uint, in EditInput) (*EditResult, error) {
	page, err := s.pages.Get(ctx, pageID)
	if err != nil {
		return nil, eris.Wrapf(err, "editing page %d", pageID)
	}
	if page == nil {
		return nil, eris.Wrapf(ErrNotFound, "page %d", pageID)
	}

	target := page.Target()
	bits, err := s.perms.Effective(ctx, identity, target)
	if err != nil {
		return nil, eris.Wrapf(err, "evaluating permissions on page %d", pageID)
	}
	if !permission.CanEdit(identity, target, bits) {
		return nil, eris.Wrapf(ErrForbidden, "editing page %d", pageID)
	}

	var newSlug string
	slugChanged := false
	if in.Slug != nil {
		newSlug = strings.TrimSpace(*in.Slug)
		slugChanged = newSlug != page.SlugValue()
	}
	if slugChanged && !bits.Has(permission.SetURL) {
		return nil, eris.Wrapf(ErrForbidden, "changing the slug of page %d", pageID)
	}

	tagsChanged := false
	if in.Tags != nil {
		current, err := s.pages.Tags(ctx, pageID)
		if err != nil {
			return nil, eris.Wrapf(err, "editing page %d", pageID)
		}
		tagsChanged = !equalStrings(NormalizeTags(in.Tags), current)
	}
	if tagsChanged && !bits.Has(permission.SetTags) {
		return nil, eris.Wrapf(ErrForbidden, "changing the tags of page %d", pageID)
	}

	if in.Locked != nil && *in.Locked != page.IsLocked && !mayManage(identity, target) {
		return nil, eris.Wrapf(ErrForbidden, "changing the lock of page %d", pageID)
	}

	var title string
	if in.Title != nil {
		if title, err = validateTitle(*in.Title); err != nil {
			return nil, err
		}
	}
	if slugChanged && newSlug != "" {
		if err := ValidateSlug(newSlug); err != nil {
			return nil, err
		}
	}
	var tags []string
	if tagsChanged {
		if tags, err = ValidateTags(in.Tags); err != nil {
			return nil, err
		}
	}

	now := s.timestamp()
	result := &EditResult{Page: page}

	err = s.inTx(ctx, func(st stores) error {
		latest, err := st.ledger.Latest(ctx, pageID)
		if err != nil {
			return err
		}
		if in.BaseRevisionID != 0 && (latest == nil || latest.ID != in.BaseRevisionID) {
			return eris.Wrapf(ErrConflict, "page %d changed since revision %d", pageID, in.BaseRevisionID)
		}

		if slugChanged && newSlug != "" {
			owner, err := st.pages.SlugOwner(ctx, newSlug)
			if err != nil {
				return err
			}
			if owner != 0 && owner != pageID {
				return eris.Wrapf(ErrConflict, "slug %s is taken", newSlug)
			}
		}

		if in.Text != nil {
			changed := latest == nil
			if latest != nil {
				current, err := st.ledger.Text(ctx, latest)
				if err != nil {
					return err
				}
				changed = current != *in.Text
			}

			if changed {
				rev, err := st.ledger.Append(ctx, revision.AppendInput{
					PageID:    pageID,
					AuthorID:  identity.UserID(),
					Comment:   in.Comment,
					Text:      *in.Text,
					Timestamp: now,
				})
				if err != nil {
					return err
				}
				result.Revision = rev
				result.Appended = true
			}
		}
		if result.Revision == nil {
			result.Revision = latest
		}

		if in.Title != nil {
			page.Title = title
		}
		if slugChanged {
			if newSlug == "" {
				page.Slug = nil
			} else {
				page.Slug = &newSlug
			}
		}
		if in.Locked != nil {
			page.IsLocked = *in.Locked
		}
		if in.ContentWarning != nil {
			page.IsContentWarning = *in.ContentWarning
		}
		if in.ClearCalendar {
			page.Calendar = nil
		} else if in.Calendar != nil {
			page.Calendar = in.Calendar
		}
		page.Touched = now

		if err := st.pages.Save(ctx, page); err != nil {
			return err
		}

		if tagsChanged {
			if err := st.pages.ChangeTags(ctx, pageID, tags); err != nil {
				return err
			}
		}

		if result.Appended {
			return st.graph.Refresh(ctx, pageID, *in.Text)
		}
		return nil
	})
	if err != nil {
		if !eris.Is(err, ErrConflict) {
			s.recordError(logrus.Fields{"page_id": pageID}, err, "editing page")
		}
		return nil, eris.Wrapf(err, "editing page %d", pageID)
	}

	s.recorder.PageEdited(result.Appended)
	s.logInfo(logrus.Fields{"page_id": pageID, "user_id": identity.ID, "appended": result.Appended}, "page edited")

	return result, nil
}

// PageRef addresses a page by id or by slug.
type PageRef struct {
	ID   uint
	Slug string
}

// PageView is everything needed to display a page.
type PageView struct {
	Page        *Page
	Revision    *revision.Revision
	Text        string
	HTML        string
	TOC         []markup.Heading
	Tags        []string
	Permissions permission.Bits
	Editable    bool
	Description string
}

// ViewPage resolves a page, its latest revision and the rendered text.
func (s *Service) ViewPage(ctx context.Context, identity permission.Identity, ref PageRef) (*PageView, error) {
	page, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	bits, err := s.readable(ctx, identity, page)
	if err != nil {
		return nil, err
	}

	view := &PageView{
		Page:        page,
		Permissions: bits,
		Editable:    permission.CanEdit(identity, page.Target(), bits),
	}

	if view.Tags, err = s.pages.Tags(ctx, page.ID); err != nil {
		return nil, eris.Wrapf(err, "viewing page %d", page.ID)
	}

	view.Revision, err = s.ledger.Latest(ctx, page.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "viewing page %d", page.ID)
	}
	if view.Revision == nil {
		s.logWarn(logrus.Fields{"page_id": page.ID}, "page has no revisions")
		view.Description = s.ShortDescription(page, "")
		return view, nil
	}

	if view.Text, err = s.ledger.Text(ctx, view.Revision); err != nil {
		s.recordError(logrus.Fields{"page_id": page.ID}, err, "reading latest revision")
		return nil, eris.Wrapf(err, "viewing page %d", page.ID)
	}

	rendered := s.renderer.Render(view.Text, markup.Options{TOC: true})
	view.HTML = rendered.HTML
	view.TOC = rendered.TOC
	view.Description = s.ShortDescription(page, view.Text)

	return view, nil
}

// Preview renders text without storing anything.
func (s *Service) Preview(text string) markup.Result {
	return s.renderer.Render(text, markup.Options{TOC: true})
}

// ShortDescription is the excerpt shown in listings and meta tags. Pages
// flagged with a content warning never leak their text.
func (s *Service) ShortDescription(page *Page, text string) string {
	if page != nil && page.IsContentWarning {
		return ContentWarningPlaceholder
	}
	return s.renderer.Excerpt(text, s.descriptionSize)
}

// HistoryView lists the revisions of a page, newest first.
type HistoryView struct {
	Page      *Page
	Revisions []revision.Revision
}

// History returns the revision history of a page.
func (s *Service) History(ctx context.Context, identity permission.Identity, pageID uint) (*HistoryView, error) {
	page, err := s.resolve(ctx, PageRef{ID: pageID})
	if err != nil {
		return nil, err
	}
	if _, err := s.readable(ctx, identity, page); err != nil {
		return nil, err
	}

	revs, err := s.ledger.History(ctx, pageID)
	if err != nil {
		return nil, eris.Wrapf(err, "listing history of page %d", pageID)
	}

	return &HistoryView{Page: page, Revisions: revs}, nil
}

// RevisionView is a single historical revision with its rendered text.
type RevisionView struct {
	Page     *Page
	Revision *revision.Revision
	Text     string
	HTML     string
}

// Revision returns one revision of a page.
func (s *Service) Revision(ctx context.Context, identity permission.Identity, revisionID uint) (*RevisionView, error) {
	rev, page, err := s.revisionWithPage(ctx, identity, revisionID)
	if err != nil {
		return nil, err
	}

	text, err := s.ledger.Text(ctx, rev)
	if err != nil {
		return nil, eris.Wrapf(err, "reading revision %d", revisionID)
	}

	return &RevisionView{
		Page:     page,
		Revision: rev,
		Text:     text,
		HTML:     s.renderer.Render(text, markup.Options{}).HTML,
	}, nil
}

// DiffView compares two revisions of the same page.
type DiffView struct {
	Page     *Page
	From     *revision.Revision
	To       *revision.Revision
	Segments []revision.Segment
}

// Diff compares two revisions.
func (s *Service) Diff(ctx context.Context, identity permission.Identity, fromID, toID uint) (*DiffView, error) {
	from, page, err := s.revisionWithPage(ctx, identity, fromID)
	if err != nil {
		return nil, err
	}
	to, _, err := s.revisionWithPage(ctx, identity, toID)
	if err != nil {
		return nil, err
	}
	if from.PageID != to.PageID {
		return nil, &ValidationError{Field: "revision", Value: formatUint(toID), Reason: "revisions belong to different pages"}
	}

	oldText, err := s.ledger.Text(ctx, from)
	if err != nil {
		return nil, eris.Wrapf(err, "reading revision %d", fromID)
	}
	newText, err := s.ledger.Text(ctx, to)
	if err != nil {
		return nil, eris.Wrapf(err, "reading revision %d", toID)
	}

	return &DiffView{Page: page, From: from, To: to, Segments: revision.Diff(oldText, newText)}, nil
}

// Summary is a page entry in a listing.
type Summary struct {
	Page        Page
	Tags        []string
	Description string
}

// Recent lists the most recently touched pages.
func (s *Service) Recent(ctx context.Context, limit, offset int) ([]Summary, error) {
	pages, err := s.pages.Recent(ctx, clampLimit(limit), max(offset, 0))
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, pages)
}

// ByTag lists the pages carrying tag.
func (s *Service) ByTag(ctx context.Context, tag string, limit, offset int) ([]Summary, error) {
	normalized := NormalizeTag(tag)
	if normalized == "" {
		return nil, &ValidationError{Field: "tag", Value: tag, Reason: "must not be empty"}
	}

	pages, err := s.pages.ByTag(ctx, normalized, clampLimit(limit), max(offset, 0))
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, pages)
}

// Search looks up pages by title and optionally by tag.
func (s *Service) Search(ctx context.Context, query string, includeTags bool, limit int) ([]Summary, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, &ValidationError{Field: "query", Value: query, Reason: "must not be empty"}
	}

	pages, err := s.pages.Search(ctx, trimmed, includeTags, clampLimit(limit))
	if err != nil {
		s.recordError(logrus.Fields{"query": trimmed}, err, "performing search")
		return nil, err
	}
	return s.summarize(ctx, pages)
}

// Random picks a random page.
func (s *Service) Random(ctx context.Context) (*Page, error) {
	page, err := s.pages.Random(ctx)
	if err != nil {
		s.recordError(nil, err, "selecting random wiki page")
		return nil, eris.Wrap(err, "selecting random wiki page")
	}
	if page == nil {
		return nil, eris.Wrap(ErrNoPages, "selecting random wiki page")
	}
	return page, nil
}

// MostRecent returns the most recently touched page.
func (s *Service) MostRecent(ctx context.Context) (*Page, error) {
	pages, err := s.pages.Recent(ctx, 1, 0)
	if err != nil {
		s.recordError(nil, err, "retrieving most recent wiki page")
		return nil, eris.Wrap(err, "retrieving most recent wiki page")
	}
	if len(pages) == 0 {
		return nil, eris.Wrap(ErrNoPages, "retrieving most recent wiki page")
	}
	return &pages[0], nil
}

// Stats summarises the wiki's size.
type Stats struct {
	Pages       int64
	Revisions   int64
	Tags        int64
	Blobs       int64
	StoredBytes int64
}

// Stats collects counters for the stats page.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	var err error

	if stats.Pages, stats.Tags, err = s.pages.Counts(ctx); err != nil {
		return Stats{}, err
	}
	if stats.Revisions, err = s.ledger.Count(ctx); err != nil {
		return Stats{}, err
	}
	blobs, err := s.content.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats.Blobs = blobs.Blobs
	stats.StoredBytes = blobs.StoredBytes

	return stats, nil
}

// LeaderboardEntry is a ranked page.
type LeaderboardEntry struct {
	Page Page
	links.RankEntry
}

// Leaderboard ranks pages by size and connectivity.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	lengths, err := s.ledger.LatestLengths(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := s.graph.Counts(ctx)
	if err != nil {
		return nil, err
	}

	inputs := make([]links.RankInput, 0, len(lengths))
	for pageID, length := range lengths {
		c := counts[pageID]
		inputs = append(inputs, links.RankInput{PageID: pageID, Length: length, Forward: c.Forward, Back: c.Back})
	}

	ranked := links.Rank(inputs)
	if limit = clampLimit(limit); len(ranked) > limit {
		ranked = ranked[:limit]
	}

	ids := make([]uint, 0, len(ranked))
	for _, entry := range ranked {
		ids = append(ids, entry.PageID)
	}
	pages, err := s.pages.ByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]Page, len(pages))
	for _, page := range pages {
		byID[page.ID] = page
	}

	entries := make([]LeaderboardEntry, 0, len(ranked))
	for _, entry := range ranked {
		if page, ok := byID[entry.PageID]; ok {
			entries = append(entries, LeaderboardEntry{Page: page, RankEntry: entry})
		}
	}

	return entries, nil
}

// LinksView lists the pages connected to a page.
type LinksView struct {
	Page    *Page
	Forward []Page
	Back    []Page
}

// Links returns forward and back links of a page.
func (s *Service) Links(ctx context.Context, identity permission.Identity, pageID uint) (*LinksView, error) {
	page, err := s.resolve(ctx, PageRef{ID: pageID})
	if err != nil {
		return nil, err
	}
	if _, err := s.readable(ctx, identity, page); err != nil {
		return nil, err
	}

	forwardIDs, err := s.graph.ForwardLinks(ctx, pageID)
	if err != nil {
		return nil, err
	}
	backIDs, err := s.graph.BackLinks(ctx, pageID)
	if err != nil {
		return nil, err
	}

	view := &LinksView{Page: page}
	if view.Forward, err = s.pages.ByIDs(ctx, forwardIDs); err != nil {
		return nil, err
	}
	if view.Back, err = s.pages.ByIDs(ctx, backIDs); err != nil {
		return nil, err
	}

	return view, nil
}

// ChangedSince lists ids of pages touched at or after since.
func (s *Service) ChangedSince(ctx context.Context, since time.Time) ([]uint, error) {
	return s.pages.ChangedSince(ctx, since)
}

// PageInfo is the JSON description of a page exchanged between instances.
type PageInfo struct {
	ID         uint       `json:"id"`
	URL        *string    `json:"url"`
	Title      string     `json:"title"`
	IsRedirect bool       `json:"is_redirect"`
	Touched    float64    `json:"touched"`
	IsEditable bool       `json:"is_editable"`
	Latest     LatestInfo `json:"latest"`
	Tags       []string   `json:"tags"`
	Text       *string    `json:"text,omitempty"`
}

// LatestInfo describes the latest revision inside PageInfo.
type LatestInfo struct {
	ID      *uint    `json:"id"`
	Length  int      `json:"length"`
	PubDate *float64 `json:"pub_date"`
}

// PageInfo describes a page, including its latest text when withText is set.
func (s *Service) PageInfo(ctx context.Context, identity permission.Identity, pageID uint, withText bool) (*PageInfo, error) {
	page, err := s.resolve(ctx, PageRef{ID: pageID})
	if err != nil {
		return nil, err
	}
	bits, err := s.readable(ctx, identity, page)
	if err != nil {
		return nil, err
	}

	info := &PageInfo{
		ID:         page.ID,
		URL:        page.Slug,
		Title:      page.Title,
		IsRedirect: page.IsRedirect,
		Touched:    UnixSeconds(page.Touched),
		IsEditable: permission.CanEdit(identity, page.Target(), bits),
	}

	if info.Tags, err = s.pages.Tags(ctx, page.ID); err != nil {
		return nil, err
	}
	if info.Tags == nil {
		info.Tags = []string{}
	}

	latest, err := s.ledger.Latest(ctx, page.ID)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		id := latest.ID
		pub := UnixSeconds(latest.CreatedAt)
		info.Latest = LatestInfo{ID: &id, Length: latest.Length, PubDate: &pub}
		if withText {
			text, err := s.ledger.Text(ctx, latest)
			if err != nil {
				return nil, err
			}
			info.Text = &text
		}
	}

	return info, nil
}

// Properties lists the typed properties of a page.
func (s *Service) Properties(ctx context.Context, identity permission.Identity, pageID uint) ([]Property, error) {
	page, err := s.resolve(ctx, PageRef{ID: pageID})
	if err != nil {
		return nil, err
	}
	if _, err := s.readable(ctx, identity, page); err != nil {
		return nil, err
	}
	return s.pages.Properties(ctx, pageID)
}

// Property returns a single property value.
func (s *Service) Property(ctx context.Context, identity permission.Identity, pageID uint, key string) (PropertyValue, bool, error) {
	page, err := s.resolve(ctx, PageRef{ID: pageID})
	if err != nil {
		return PropertyValue{}, false, err
	}
	if _, err := s.readable(ctx, identity, page); err != nil {
		return PropertyValue{}, false, err
	}

	prop, err := s.pages.Property(ctx, pageID, key)
	if err != nil || prop == nil {
		return PropertyValue{}, false, err
	}
	return PropertyValue{Kind: prop.Kind, Raw: prop.Value}, true, nil
}

// SetProperty stores a property; the identity must be able to edit the page.
func (s *Service) SetProperty(ctx context.Context, identity permission.Identity, pageID uint, key string, value PropertyValue) error {
	if err := validatePropertyKey(key); err != nil {
		return err
	}
	if !value.Kind.valid() {
		return &ValidationError{Field: "kind", Value: string(value.Kind), Reason: "unknown property kind"}
	}
	if err := s.requireEdit(ctx, identity, pageID); err != nil {
		return err
	}
	return s.pages.SetProperty(ctx, pageID, key, value)
}

// DeleteProperty removes a property; the identity must be able to edit the page.
func (s *Service) DeleteProperty(ctx context.Context, identity permission.Identity, pageID uint, key string) error {
	if err := validatePropertyKey(key); err != nil {
		return err
	}
	if err := s.requireEdit(ctx, identity, pageID); err != nil {
		return err
	}
	return s.pages.DeleteProperty(ctx, pageID, key)
}

// SetOverride grants a group extra capabilities on a page. Only the page
// owner and admins may manage overrides.
func (s *Service) SetOverride(ctx context.Context, identity permission.Identity, pageID uint, groupName string, bits permission.Bits) error {
	groupID, err := s.manageableGroup(ctx, identity, pageID, groupName)
	if err != nil {
		return err
	}
	return s.perms.SetOverride(ctx, pageID, groupID, bits)
}

// DeleteOverride revokes a group override on a page.
func (s *Service) DeleteOverride(ctx context.Context, identity permission.Identity, pageID uint, groupName string) error {
	groupID, err := s.manageableGroup(ctx, identity, pageID, groupName)
	if err != nil {
		return err
	}
	return s.perms.DeleteOverride(ctx, pageID, groupID)
}

func (s *Service) manageableGroup(ctx context.Context, identity permission.Identity, pageID uint, groupName string) (uint, error) {
	page, err := s.resolve(ctx, PageRef{ID: pageID})
	if err != nil {
		return 0, err
	}
	if !mayManage(identity, page.Target()) {
		return 0, eris.Wrapf(ErrForbidden, "managing overrides of page %d", pageID)
	}

	group, err := s.perms.GroupByName(ctx, strings.TrimSpace(groupName))
	if err != nil {
		return 0, err
	}
	if group == nil {
		return 0, eris.Wrapf(ErrNotFound, "group %s", groupName)
	}
	return group.ID, nil
}

// RestoreRevision is one historical revision handed to Restore.
type RestoreRevision struct {
	Text      string
	Comment   string
	Timestamp time.Time
}

// RestoreInput describes a page reconstructed from an export. Revisions are
// newest first.
type RestoreInput struct {
	Slug             string
	Title            string
	Tags             []string
	Calendar         *time.Time
	IsRedirect       bool
	IsLocked         bool
	IsContentWarning bool
	Revisions        []RestoreRevision
	// OverwriteSlug takes the slug away from a page already holding it.
	// Otherwise the restored page is created without a slug.
	OverwriteSlug bool
}

// Restore recreates a page with its history, attributing every revision to
// identity.
func (s *Service) Restore(ctx context.Context, identity permission.Identity, in RestoreInput) (*Page, int, error) {
	if len(in.Revisions) == 0 {
		return nil, 0, &ValidationError{Field: "history", Value: in.Title, Reason: "must contain at least one revision"}
	}

	title, err := validateTitle(in.Title)
	if err != nil {
		return nil, 0, err
	}
	slug := strings.TrimSpace(in.Slug)
	if slug != "" {
		if err := ValidateSlug(slug); err != nil {
			return nil, 0, err
		}
	}
	tags, err := ValidateTags(in.Tags)
	if err != nil {
		return nil, 0, err
	}

	page := &Page{
		Title:            title,
		OwnerID:          identity.UserID(),
		IsRedirect:       in.IsRedirect,
		IsLocked:         in.IsLocked,
		IsContentWarning: in.IsContentWarning,
		Calendar:         in.Calendar,
		Touched:          in.Revisions[0].Timestamp.UTC(),
	}
	if page.Touched.IsZero() {
		page.Touched = s.timestamp()
	}

	err = s.inTx(ctx, func(st stores) error {
		if slug != "" {
			owner, err := st.pages.SlugOwner(ctx, slug)
			if err != nil {
				return err
			}
			switch {
			case owner == 0:
				page.Slug = &slug
			case in.OverwriteSlug:
				if err := st.pages.ClearSlug(ctx, owner); err != nil {
					return err
				}
				page.Slug = &slug
			}
		}

		if err := st.pages.Create(ctx, page); err != nil {
			return err
		}

		for i := len(in.Revisions) - 1; i >= 0; i-- {
			rev := in.Revisions[i]
			if _, err := st.ledger.Append(ctx, revision.AppendInput{
				PageID:    page.ID,
				AuthorID:  identity.UserID(),
				Comment:   rev.Comment,
				Text:      rev.Text,
				Timestamp: rev.Timestamp,
			}); err != nil {
				return err
			}
		}

		if err := st.pages.ChangeTags(ctx, page.ID, tags); err != nil {
			return err
		}

		return st.graph.Refresh(ctx, page.ID, in.Revisions[0].Text)
	})
	if err != nil {
		s.recordError(logrus.Fields{"title": title}, err, "restoring page")
		return nil, 0, eris.Wrap(err, "restoring page")
	}

	return page, len(in.Revisions), nil
}

// RemotePage is a page as reported by a master instance.
type RemotePage struct {
	ID           uint
	Slug         *string
	Title        string
	IsRedirect   bool
	Touched      time.Time
	Tags         []string
	Text         string
	Length       int
	RevisionTime time.Time
}

// ApplyRemote upserts a page pulled from a master instance, keyed by id. An
// existing page is only updated when the remote copy was touched later.
func (s *Service) ApplyRemote(ctx context.Context, remote RemotePage) (bool, error) {
	if remote.ID == 0 {
		return false, eris.Wrap(ErrIntegrity, "remote page has no id")
	}
	if got := utf8.RuneCountInString(remote.Text); got != remote.Length {
		return false, eris.Wrapf(ErrIntegrity, "remote page %d: text length %d does not match %d", remote.ID, got, remote.Length)
	}

	tags := NormalizeTags(remote.Tags)
	touched := remote.Touched.UTC()
	applied := false

	err := s.inTx(ctx, func(st stores) error {
		page, err := st.pages.Get(ctx, remote.ID)
		if err != nil {
			return err
		}

		if remote.Slug != nil && *remote.Slug != "" {
			owner, err := st.pages.SlugOwner(ctx, *remote.Slug)
			if err != nil {
				return err
			}
			if owner != 0 && owner != remote.ID {
				return eris.Wrapf(ErrIntegrity, "slug %s already belongs to page %d", *remote.Slug, owner)
			}
		}

		var latest *revision.Revision
		if page == nil {
			page = &Page{ID: remote.ID, IsSynced: true, Touched: touched}
			page.Slug, page.Title, page.IsRedirect = remote.Slug, remote.Title, remote.IsRedirect
			if err := st.pages.Create(ctx, page); err != nil {
				return err
			}
		} else {
			if !touched.After(page.Touched) {
				return nil
			}
			if latest, err = st.ledger.Latest(ctx, page.ID); err != nil {
				return err
			}
		}

		page.Slug, page.Title, page.IsRedirect, page.Touched = remote.Slug, remote.Title, remote.IsRedirect, touched
		if err := st.pages.Save(ctx, page); err != nil {
			return err
		}
		if err := st.pages.ChangeTags(ctx, page.ID, tags); err != nil {
			return err
		}

		changed := latest == nil
		if latest != nil {
			current, err := st.ledger.Text(ctx, latest)
			if err != nil {
				return err
			}
			changed = current != remote.Text
		}
		if changed {
			if _, err := st.ledger.Append(ctx, revision.AppendInput{
				PageID:    page.ID,
				Text:      remote.Text,
				Timestamp: remote.RevisionTime,
			}); err != nil {
				return err
			}
			if err := st.graph.Refresh(ctx, page.ID, remote.Text); err != nil {
				return err
			}
		}

		applied = true
		return nil
	})
	if err != nil {
		s.recordError(logrus.Fields{"page_id": remote.ID}, err, "applying remote page")
		return false, eris.Wrapf(err, "applying remote page %d", remote.ID)
	}

	s.recorder.RemoteApplied(applied)
	return applied, nil
}

func (s *Service) resolve(ctx context.Context, ref PageRef) (*Page, error) {
	var page *Page
	var err error
	switch {
	case ref.ID != 0:
		page, err = s.pages.Get(ctx, ref.ID)
	case strings.TrimSpace(ref.Slug) != "":
		page, err = s.pages.GetBySlug(ctx, ref.Slug)
	default:
		return nil, &ValidationError{Field: "page", Value: "", Reason: "id or slug is required"}
	}
	if err != nil {
		s.recordError(logrus.Fields{"page_id": ref.ID, "slug": ref.Slug}, err, "resolving page")
		return nil, eris.Wrap(err, "resolving page")
	}
	if page == nil {
		if ref.ID != 0 {
			return nil, eris.Wrapf(ErrNotFound, "page %d", ref.ID)
		}
		return nil, eris.Wrapf(ErrNotFound, "page %s", ref.Slug)
	}
	return page, nil
}

func (s *Service) readable(ctx context.Context, identity permission.Identity, page *Page) (permission.Bits, error) {
	bits, err := s.perms.Effective(ctx, identity, page.Target())
	if err != nil {
		return 0, eris.Wrapf(err, "evaluating permissions on page %d", page.ID)
	}
	if !bits.Has(permission.Read) {
		return 0, eris.Wrapf(ErrForbidden, "reading page %d", page.ID)
	}
	return bits, nil
}

func (s *Service) requireEdit(ctx context.Context, identity permission.Identity, pageID uint) error {
	page, err := s.resolve(ctx, PageRef{ID: pageID})
	if err != nil {
		return err
	}
	ok, err := s.perms.CanEdit(ctx, identity, page.Target())
	if err != nil {
		return err
	}
	if !ok {
		return eris.Wrapf(ErrForbidden, "editing page %d", pageID)
	}
	return nil
}

func (s *Service) revisionWithPage(ctx context.Context, identity permission.Identity, revisionID uint) (*revision.Revision, *Page, error) {
	rev, err := s.ledger.Get(ctx, revisionID)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "fetching revision %d", revisionID)
	}
	if rev == nil {
		return nil, nil, eris.Wrapf(ErrNotFound, "revision %d", revisionID)
	}

	page, err := s.resolve(ctx, PageRef{ID: rev.PageID})
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.readable(ctx, identity, page); err != nil {
		return nil, nil, err
	}
	return rev, page, nil
}

func (s *Service) summarize(ctx context.Context, pages []Page) ([]Summary, error) {
	summaries := make([]Summary, 0, len(pages))
	for i := range pages {
		page := pages[i]
		tags, err := s.pages.Tags(ctx, page.ID)
		if err != nil {
			return nil, err
		}

		text := ""
		if !page.IsContentWarning {
			latest, err := s.ledger.Latest(ctx, page.ID)
			if err != nil {
				return nil, err
			}
			if latest != nil {
				if text, err = s.ledger.Text(ctx, latest); err != nil {
					return nil, err
				}
			}
		}

		summaries = append(summaries, Summary{
			Page:        page,
			Tags:        tags,
			Description: s.ShortDescription(&page, text),
		})
	}
	return summaries, nil
}

func (s *Service) recordError(fields logrus.Fields, err error, message string) {
	if err == nil {
		return
	}

	if s.logger != nil {
		entry := s.logger.WithField("error", err.Error())
		if len(fields) > 0 {
			entry = entry.WithFields(fields)
		}
		entry.Error(message)
	}

	if s.sentryHub != nil {
		s.sentryHub.CaptureException(err)
	}
}

func (s *Service) logInfo(fields logrus.Fields, message string) {
	if s.logger != nil {
		s.logger.WithField("component", "wiki").WithFields(fields).Info(message)
	}
}

func (s *Service) logWarn(fields logrus.Fields, message string) {
	if s.logger != nil {
		s.logger.WithField("component", "wiki").WithFields(fields).Warn(message)
	}
}

func mayManage(identity permission.Identity, target *permission.Target) bool {
	return (identity.Admin && !identity.Guest()) || identity.Owns(target)
}

func validatePropertyKey(key string) error {
	if strings.TrimSpace(key) == "" || utf8.RuneCountInString(key) > maxPropertyKeyLength {
		return &ValidationError{Field: "key", Value: key, Reason: "must be between 1 and 64 characters"}
	}
	return nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	}
	return limit
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
