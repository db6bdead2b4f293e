package templates

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/a-h/templ"
)

// RawHTML returns a templ component that writes the provided HTML without escaping.
func RawHTML(html string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, err := io.WriteString(w, html)
		return err
	})
}

// writer accumulates the first write error so components can emit markup
// without checking every call.
type writer struct {
	out io.Writer
	err error
}

func (w *writer) raw(s string) {
	if w.err == nil {
		_, w.err = io.WriteString(w.out, s)
	}
}

func (w *writer) text(s string) {
	w.raw(templ.EscapeString(s))
}

func (w *writer) rawf(format string, args ...any) {
	w.raw(fmt.Sprintf(format, args...))
}

func (w *writer) link(href, label string) {
	w.raw(`<a href="`)
	w.text(href)
	w.raw(`">`)
	w.text(label)
	w.raw(`</a>`)
}

func (w *writer) time(t time.Time) {
	w.raw(`<time datetime="`)
	w.text(t.UTC().Format(time.RFC3339))
	w.raw(`">`)
	w.text(t.UTC().Format("2006-01-02 15:04"))
	w.raw(`</time>`)
}

func (w *writer) tags(tags []string) {
	if len(tags) == 0 {
		return
	}
	w.raw(`<ul class="tags">`)
	for _, tag := range tags {
		w.raw(`<li>`)
		w.link("/tags/"+tag+"/", "#"+tag)
		w.raw(`</li>`)
	}
	w.raw(`</ul>`)
}

func (w *writer) summaries(items []Summary) {
	w.raw(`<ul class="summaries">`)
	for _, item := range items {
		w.raw(`<li><h3>`)
		w.link(item.URL, item.Title)
		w.raw(`</h3><p>`)
		w.text(item.Description)
		w.raw(`</p>`)
		w.tags(item.Tags)
		w.raw(`</li>`)
	}
	w.raw(`</ul>`)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

func layout(site Site, title string, body func(w *writer)) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		w := &writer{out: out}
		w.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		w.raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		w.raw(`<title>`)
		if title != "" {
			w.text(title)
			w.raw(` • `)
		}
		w.text(site.Title)
		w.raw(`</title><link rel="stylesheet" href="/static/style.css"></head><body>`)
		w.raw(`<header><a class="brand" href="/">`)
		w.text(site.Title)
		w.raw(`</a><nav><a href="/p/most_recent/">Latest</a><a href="/p/random/">Random</a>`)
		w.raw(`<a href="/leaderboard/">Leaderboard</a><a href="/stats/">Stats</a></nav>`)
		w.raw(`<form class="search" action="/search/" method="get"><input type="search" name="q" placeholder="Search"></form></header><main>`)
		body(w)
		w.raw(`</main><footer>`)
		w.text(DefaultFooterNote)
		w.raw(`</footer></body></html>`)
		return w.err
	})
}
