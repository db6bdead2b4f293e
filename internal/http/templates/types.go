package templates

import "time"

// DefaultFooterNote is shown in the shared layout.
const DefaultFooterNote = "Pages are written by the people who read them. Every change is kept in the page history."

// Site carries the values every page shares.
type Site struct {
	Title string
}

// PageLink points at a page.
type PageLink struct {
	Title string
	URL   string
}

// Summary is one row of a page listing.
type Summary struct {
	Title       string
	URL         string
	Description string
	Tags        []string
	Touched     time.Time
}

// TOCEntry is one heading of a table of contents.
type TOCEntry struct {
	Title    string
	ID       string
	Children []TOCEntry
}

// HomePageData contains dynamic values rendered on the landing page.
type HomePageData struct {
	Site      Site
	PageCount int64
	Recent    []Summary
}

// PageViewData holds a rendered wiki page.
type PageViewData struct {
	Site           Site
	Title          string
	URL            string
	Description    string
	HTML           string
	TOC            []TOCEntry
	Tags           []string
	Calendar       *time.Time
	Updated        time.Time
	RevisionID     uint
	HistoryURL     string
	Editable       bool
	Locked         bool
	ContentWarning bool
	BackLinks      []PageLink
}

// RevisionRow is one line of a history listing.
type RevisionRow struct {
	ID      uint
	URL     string
	DiffURL string
	Author  string
	Comment string
	Length  int
	Created time.Time
}

// HistoryPageData lists the revisions of a page.
type HistoryPageData struct {
	Site      Site
	Title     string
	PageURL   string
	Revisions []RevisionRow
}

// RevisionPageData shows one historical revision.
type RevisionPageData struct {
	Site       Site
	Title      string
	PageURL    string
	HistoryURL string
	RevisionID uint
	Created    time.Time
	HTML       string
}

// DiffSegment is a run of equal, inserted or deleted text.
type DiffSegment struct {
	Kind string
	Text string
}

// DiffPageData compares two revisions.
type DiffPageData struct {
	Site     Site
	Title    string
	PageURL  string
	FromID   uint
	ToID     uint
	Segments []DiffSegment
}

// ListPageData is a generic page listing: tags, search results, recent changes.
type ListPageData struct {
	Site       Site
	Heading    string
	ShowSearch bool
	Query      string
	Message    string
	Results    []Summary
	PrevURL    string
	NextURL    string
}

// StatsPageData shows the size of the wiki.
type StatsPageData struct {
	Site        Site
	Pages       int64
	Revisions   int64
	Tags        int64
	Blobs       int64
	StoredBytes int64
}

// LeaderboardRow is one ranked page.
type LeaderboardRow struct {
	Rank    int
	Title   string
	URL     string
	Score   int
	Length  int
	Forward int
	Back    int
}

// LeaderboardPageData ranks pages.
type LeaderboardPageData struct {
	Site Site
	Rows []LeaderboardRow
}

// ErrorPageData holds information for rendering an error view.
type ErrorPageData struct {
	Site        Site
	StatusLabel string
	Message     string
}

// EmbedPageData is a page body without site chrome.
type EmbedPageData struct {
	Title string
	HTML  string
}
