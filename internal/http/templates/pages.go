package templates

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"
)

// HomePage lists the latest changes.
func HomePage(data HomePageData) templ.Component {
	return layout(data.Site, "", func(w *writer) {
		w.raw(`<section class="intro"><h1>`)
		w.text(data.Site.Title)
		w.raw(`</h1><p>`)
		w.text(itoa(data.PageCount) + " pages so far.")
		w.raw(`</p></section><section><h2>Recently changed</h2>`)
		if len(data.Recent) == 0 {
			w.raw(`<p class="empty">Nothing here yet.</p>`)
		} else {
			w.summaries(data.Recent)
		}
		w.raw(`</section>`)
	})
}

// WikiPage renders a page with its table of contents.
func WikiPage(data PageViewData) templ.Component {
	return layout(data.Site, data.Title, func(w *writer) {
		w.raw(`<article class="page">`)
		w.raw(`<h1>`)
		w.text(data.Title)
		w.raw(`</h1><p class="meta">`)
		if !data.Updated.IsZero() {
			w.raw(`Updated `)
			w.time(data.Updated)
		}
		if data.Calendar != nil {
			w.raw(` · Dated `)
			w.time(*data.Calendar)
		}
		if data.Locked {
			w.raw(` · <span class="locked">Locked</span>`)
		}
		w.raw(` · `)
		w.link(data.HistoryURL, "History")
		w.raw(`</p>`)

		if data.ContentWarning {
			w.raw(`<details class="content-warning"><summary>This page has a content warning. Show it anyway.</summary>`)
		}
		if len(data.TOC) > 0 {
			w.raw(`<nav class="toc"><h2>Contents</h2>`)
			toc(w, data.TOC)
			w.raw(`</nav>`)
		}
		w.raw(`<div class="body">`)
		w.raw(data.HTML)
		w.raw(`</div>`)
		if data.ContentWarning {
			w.raw(`</details>`)
		}

		w.tags(data.Tags)

		if len(data.BackLinks) > 0 {
			w.raw(`<section class="backlinks"><h2>Linked from</h2><ul>`)
			for _, link := range data.BackLinks {
				w.raw(`<li>`)
				w.link(link.URL, link.Title)
				w.raw(`</li>`)
			}
			w.raw(`</ul></section>`)
		}
		w.raw(`</article>`)
	})
}

func toc(w *writer, entries []TOCEntry) {
	w.raw(`<ul>`)
	for _, entry := range entries {
		w.raw(`<li>`)
		w.link("#"+entry.ID, entry.Title)
		if len(entry.Children) > 0 {
			toc(w, entry.Children)
		}
		w.raw(`</li>`)
	}
	w.raw(`</ul>`)
}

// HistoryPage lists revisions newest first.
func HistoryPage(data HistoryPageData) templ.Component {
	return layout(data.Site, "History of "+data.Title, func(w *writer) {
		w.raw(`<h1>History of `)
		w.link(data.PageURL, data.Title)
		w.raw(`</h1><table class="history"><thead><tr><th>Revision</th><th>Date</th><th>Author</th><th>Length</th><th>Comment</th><th></th></tr></thead><tbody>`)
		for _, row := range data.Revisions {
			w.raw(`<tr><td>`)
			w.link(row.URL, fmt.Sprintf("#%d", row.ID))
			w.raw(`</td><td>`)
			w.time(row.Created)
			w.raw(`</td><td>`)
			if row.Author == "" {
				w.raw(`<em>anonymous</em>`)
			} else {
				w.text(row.Author)
			}
			w.raw(`</td><td>`)
			w.text(itoa(int64(row.Length)))
			w.raw(`</td><td>`)
			w.text(row.Comment)
			w.raw(`</td><td>`)
			if row.DiffURL != "" {
				w.link(row.DiffURL, "diff")
			}
			w.raw(`</td></tr>`)
		}
		w.raw(`</tbody></table>`)
	})
}

// RevisionPage shows an old revision.
func RevisionPage(data RevisionPageData) templ.Component {
	return layout(data.Site, data.Title, func(w *writer) {
		w.raw(`<article class="page revision"><h1>`)
		w.link(data.PageURL, data.Title)
		w.raw(`</h1><p class="meta">`)
		w.rawf("Revision #%d from ", data.RevisionID)
		w.time(data.Created)
		w.raw(` · `)
		w.link(data.HistoryURL, "History")
		w.raw(`</p><div class="body">`)
		w.raw(data.HTML)
		w.raw(`</div></article>`)
	})
}

// DiffPage shows the changes between two revisions.
func DiffPage(data DiffPageData) templ.Component {
	return layout(data.Site, "Changes to "+data.Title, func(w *writer) {
		w.raw(`<h1>Changes to `)
		w.link(data.PageURL, data.Title)
		w.raw(`</h1><p class="meta">`)
		w.rawf("Revision #%d → #%d", data.FromID, data.ToID)
		w.raw(`</p><pre class="diff">`)
		for _, segment := range data.Segments {
			switch segment.Kind {
			case "insert":
				w.raw(`<ins>`)
				w.text(segment.Text)
				w.raw(`</ins>`)
			case "delete":
				w.raw(`<del>`)
				w.text(segment.Text)
				w.raw(`</del>`)
			default:
				w.text(segment.Text)
			}
		}
		w.raw(`</pre>`)
	})
}

// ListPage renders search results, tag listings and similar lists.
func ListPage(data ListPageData) templ.Component {
	return layout(data.Site, data.Heading, func(w *writer) {
		w.raw(`<h1>`)
		w.text(data.Heading)
		w.raw(`</h1>`)
		if data.ShowSearch {
			w.raw(`<form class="search-page" action="/search/" method="get"><input type="search" name="q" value="`)
			w.text(data.Query)
			w.raw(`"><label><input type="checkbox" name="tags" value="true"> include tags</label><button type="submit">Search</button></form>`)
		}
		if data.Message != "" {
			w.raw(`<p class="message">`)
			w.text(data.Message)
			w.raw(`</p>`)
		}
		if len(data.Results) > 0 {
			w.summaries(data.Results)
		} else if data.Message == "" && (!data.ShowSearch || data.Query != "") {
			w.raw(`<p class="empty">No pages found.</p>`)
		}
		if data.PrevURL != "" || data.NextURL != "" {
			w.raw(`<nav class="pager">`)
			if data.PrevURL != "" {
				w.link(data.PrevURL, "← Newer")
			}
			if data.NextURL != "" {
				w.link(data.NextURL, "Older →")
			}
			w.raw(`</nav>`)
		}
	})
}

// StatsPage shows wiki counters.
func StatsPage(data StatsPageData) templ.Component {
	return layout(data.Site, "Statistics", func(w *writer) {
		w.raw(`<h1>Statistics</h1><dl class="stats">`)
		for _, row := range []struct {
			label string
			value int64
		}{
			{"Pages", data.Pages},
			{"Revisions", data.Revisions},
			{"Tags", data.Tags},
			{"Stored texts", data.Blobs},
			{"Stored bytes", data.StoredBytes},
		} {
			w.raw(`<dt>`)
			w.text(row.label)
			w.raw(`</dt><dd>`)
			w.text(itoa(row.value))
			w.raw(`</dd>`)
		}
		w.raw(`</dl>`)
	})
}

// LeaderboardPage ranks pages by size and connectivity.
func LeaderboardPage(data LeaderboardPageData) templ.Component {
	return layout(data.Site, "Leaderboard", func(w *writer) {
		w.raw(`<h1>Leaderboard</h1><table class="leaderboard"><thead><tr><th>#</th><th>Page</th><th>Score</th><th>Length</th><th>Links out</th><th>Links in</th></tr></thead><tbody>`)
		for _, row := range data.Rows {
			w.rawf(`<tr><td>%d</td><td>`, row.Rank)
			w.link(row.URL, row.Title)
			w.rawf(`</td><td>%d</td><td>%d</td><td>%d</td><td>%d</td></tr>`, row.Score, row.Length, row.Forward, row.Back)
		}
		w.raw(`</tbody></table>`)
	})
}

// ErrorPage renders an error status.
func ErrorPage(data ErrorPageData) templ.Component {
	return layout(data.Site, data.StatusLabel, func(w *writer) {
		w.raw(`<section class="error"><h1>`)
		w.text(data.StatusLabel)
		w.raw(`</h1><p>`)
		w.text(data.Message)
		w.raw(`</p><p>`)
		w.link("/", "Back to the front page")
		w.raw(`</p></section>`)
	})
}

// EmbedPage renders a page body for embedding in other sites.
func EmbedPage(data EmbedPageData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w := &writer{out: out}
		w.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>`)
		w.text(data.Title)
		w.raw(`</title><link rel="stylesheet" href="/static/style.css"></head><body class="embed"><article class="page"><div class="body">`)
		w.raw(data.HTML)
		w.raw(`</div></article></body></html>`)
		return w.err
	})
}
