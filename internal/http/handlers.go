package http

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"strings"

	"github.com/a-h/templ"
	"github.com/danielgtaylor/huma/v2"
	"github.com/sirupsen/logrus"

	"salvi/app/internal/db"
	"salvi/app/internal/http/templates"
	"salvi/app/internal/markup"
	"salvi/app/internal/revision"
	"salvi/app/internal/wiki"
)

const searchResultsLimit = 50

type idInput struct {
	ID uint `path:"id"`
}

type slugInput struct {
	Slug string `path:"slug"`
}

type diffInput struct {
	From uint `path:"from"`
	To   uint `path:"to"`
}

type tagInput struct {
	Tag  string `path:"tag"`
	Page int    `query:"page" minimum:"1" default:"1"`
}

type searchInput struct {
	Query string `query:"q"`
	Tags  bool   `query:"tags"`
}

type healthResponse struct {
	Status int
	Body   struct {
		Status   string `json:"status"`
		Database string `json:"database"`
	}
}

func (s *Server) registerPageRoutes() {
	missing := []int{stdhttp.StatusNotFound, stdhttp.StatusInternalServerError}
	readable := []int{stdhttp.StatusForbidden, stdhttp.StatusNotFound, stdhttp.StatusInternalServerError}

	huma.Get(s.api, "/", s.homeHandler, htmlOperation("Front page", missing...))
	huma.Get(s.api, "/p/most_recent/", s.mostRecentHandler, htmlOperation("Redirect to the latest page", append([]int{stdhttp.StatusFound}, missing...)...))
	huma.Get(s.api, "/p/random/", s.randomHandler, htmlOperation("Redirect to a random page", append([]int{stdhttp.StatusFound}, missing...)...))
	huma.Get(s.api, "/p/{id}/", s.pageByIDHandler, htmlOperation("View page by id", readable...))
	huma.Get(s.api, "/{slug}/", s.pageBySlugHandler, htmlOperation("View page by slug", readable...))
	huma.Get(s.api, "/embed/{id}/", s.embedHandler, htmlOperation("Embeddable page body", readable...))
	huma.Get(s.api, "/history/{id}/", s.historyHandler, htmlOperation("Page history", readable...))
	huma.Get(s.api, "/history/revision/{id}/", s.revisionHandler, htmlOperation("View one revision", readable...))
	huma.Get(s.api, "/diff/{from}/{to}/", s.diffHandler, htmlOperation("Compare revisions", append([]int{stdhttp.StatusBadRequest}, readable...)...))
	huma.Get(s.api, "/tags/{tag}/", s.tagHandler, htmlOperation("Pages by tag", append([]int{stdhttp.StatusBadRequest}, missing...)...))
	huma.Get(s.api, "/search/", s.searchHandler, htmlOperation("Search pages", stdhttp.StatusBadRequest, stdhttp.StatusInternalServerError))
	huma.Get(s.api, "/stats/", s.statsHandler, htmlOperation("Wiki statistics", missing...))
	huma.Get(s.api, "/leaderboard/", s.leaderboardHandler, htmlOperation("Most connected pages", missing...))
}

func (s *Server) registerHealthRoute() {
	huma.Get(s.api, "/healthz", s.healthHandler, func(op *huma.Operation) {
		op.Summary = "Health check"
	})
}

// segments reports how many path segments the request carried. Subtree
// patterns match deeper paths too, so handlers reject anything longer than
// their own route.
func segments(ctx context.Context) int {
	path := strings.Trim(requestPathFromContext(ctx), "/")
	if path == "" {
		return 0
	}
	return strings.Count(path, "/") + 1
}

func (s *Server) notFound(ctx context.Context) (*htmlResponse, error) {
	return s.renderErrorResponse(ctx, stdhttp.StatusNotFound, "We couldn't find that page.")
}

func (s *Server) homeHandler(ctx context.Context, _ *struct{}) (*htmlResponse, error) {
	if segments(ctx) != 0 {
		return s.notFound(ctx)
	}

	stats, err := s.wiki.Stats(ctx)
	if err != nil {
		return s.pageError(ctx, err, "counting pages", nil)
	}
	recent, err := s.wiki.Recent(ctx, s.itemsPerPage, 0)
	if err != nil {
		return s.pageError(ctx, err, "listing recent pages", nil)
	}

	return s.render(ctx, templates.HomePage(templates.HomePageData{
		Site:      s.site,
		PageCount: stats.Pages,
		Recent:    summaries(recent),
	}), "rendering home page", nil)
}

func (s *Server) mostRecentHandler(ctx context.Context, _ *struct{}) (*htmlResponse, error) {
	page, err := s.wiki.MostRecent(ctx)
	if err != nil {
		return s.pageError(ctx, err, "loading most recent page", nil)
	}
	return redirectResponse(page.Path()), nil
}

func (s *Server) randomHandler(ctx context.Context, _ *struct{}) (*htmlResponse, error) {
	page, err := s.wiki.Random(ctx)
	if err != nil {
		return s.pageError(ctx, err, "selecting random page", nil)
	}
	return redirectResponse(page.Path()), nil
}

func (s *Server) pageByIDHandler(ctx context.Context, input *idInput) (*htmlResponse, error) {
	if segments(ctx) != 2 {
		return s.notFound(ctx)
	}
	return s.viewPage(ctx, wiki.PageRef{ID: input.ID})
}

func (s *Server) pageBySlugHandler(ctx context.Context, input *slugInput) (*htmlResponse, error) {
	if segments(ctx) != 1 {
		return s.notFound(ctx)
	}
	return s.viewPage(ctx, wiki.PageRef{Slug: strings.TrimSpace(input.Slug)})
}

func (s *Server) viewPage(ctx context.Context, ref wiki.PageRef) (*htmlResponse, error) {
	identity := IdentityFromContext(ctx)
	fields := logrus.Fields{"page_id": ref.ID, "slug": ref.Slug}

	view, err := s.wiki.ViewPage(ctx, identity, ref)
	if err != nil {
		return s.pageError(ctx, err, "loading wiki page", fields)
	}

	data := templates.PageViewData{
		Site:           s.site,
		Title:          view.Page.Title,
		URL:            view.Page.Path(),
		Description:    view.Description,
		HTML:           view.HTML,
		TOC:            tocEntries(view.TOC),
		Tags:           view.Tags,
		Calendar:       view.Page.Calendar,
		Updated:        view.Page.Touched,
		HistoryURL:     fmt.Sprintf("/history/%d/", view.Page.ID),
		Editable:       view.Editable,
		Locked:         view.Page.IsLocked,
		ContentWarning: view.Page.IsContentWarning,
	}
	if view.Revision != nil {
		data.RevisionID = view.Revision.ID
	}

	if connected, err := s.wiki.Links(ctx, identity, view.Page.ID); err != nil {
		s.recordError(ctx, err, "loading back links", fields)
	} else {
		for i := range connected.Back {
			data.BackLinks = append(data.BackLinks, templates.PageLink{Title: connected.Back[i].Title, URL: connected.Back[i].Path()})
		}
	}

	return s.render(ctx, templates.WikiPage(data), "rendering wiki page", fields)
}

func (s *Server) embedHandler(ctx context.Context, input *idInput) (*htmlResponse, error) {
	if segments(ctx) != 2 {
		return s.notFound(ctx)
	}

	view, err := s.wiki.ViewPage(ctx, IdentityFromContext(ctx), wiki.PageRef{ID: input.ID})
	if err != nil {
		return s.pageError(ctx, err, "loading embedded page", logrus.Fields{"page_id": input.ID})
	}

	return s.render(ctx, templates.EmbedPage(templates.EmbedPageData{
		Title: view.Page.Title,
		HTML:  view.HTML,
	}), "rendering embedded page", logrus.Fields{"page_id": input.ID})
}

func (s *Server) historyHandler(ctx context.Context, input *idInput) (*htmlResponse, error) {
	if segments(ctx) != 2 {
		return s.notFound(ctx)
	}
	fields := logrus.Fields{"page_id": input.ID}

	history, err := s.wiki.History(ctx, IdentityFromContext(ctx), input.ID)
	if err != nil {
		return s.pageError(ctx, err, "loading history", fields)
	}

	authors, err := s.authorNames(ctx, history.Revisions)
	if err != nil {
		return s.pageError(ctx, err, "resolving revision authors", fields)
	}

	rows := make([]templates.RevisionRow, 0, len(history.Revisions))
	for i, rev := range history.Revisions {
		row := templates.RevisionRow{
			ID:      rev.ID,
			URL:     fmt.Sprintf("/history/revision/%d/", rev.ID),
			Author:  "anonymous",
			Comment: rev.Comment,
			Length:  rev.Length,
			Created: rev.CreatedAt,
		}
		if rev.AuthorID != nil {
			row.Author = authors[*rev.AuthorID]
		}
		if i+1 < len(history.Revisions) {
			row.DiffURL = fmt.Sprintf("/diff/%d/%d/", history.Revisions[i+1].ID, rev.ID)
		}
		rows = append(rows, row)
	}

	return s.render(ctx, templates.HistoryPage(templates.HistoryPageData{
		Site:      s.site,
		Title:     history.Page.Title,
		PageURL:   history.Page.Path(),
		Revisions: rows,
	}), "rendering history", fields)
}

func (s *Server) revisionHandler(ctx context.Context, input *idInput) (*htmlResponse, error) {
	if segments(ctx) != 3 {
		return s.notFound(ctx)
	}
	fields := logrus.Fields{"revision_id": input.ID}

	view, err := s.wiki.Revision(ctx, IdentityFromContext(ctx), input.ID)
	if err != nil {
		return s.pageError(ctx, err, "loading revision", fields)
	}

	return s.render(ctx, templates.RevisionPage(templates.RevisionPageData{
		Site:       s.site,
		Title:      view.Page.Title,
		PageURL:    view.Page.Path(),
		HistoryURL: fmt.Sprintf("/history/%d/", view.Page.ID),
		RevisionID: view.Revision.ID,
		Created:    view.Revision.CreatedAt,
		HTML:       view.HTML,
	}), "rendering revision", fields)
}

func (s *Server) diffHandler(ctx context.Context, input *diffInput) (*htmlResponse, error) {
	if segments(ctx) != 3 {
		return s.notFound(ctx)
	}
	fields := logrus.Fields{"from": input.From, "to": input.To}

	view, err := s.wiki.Diff(ctx, IdentityFromContext(ctx), input.From, input.To)
	if err != nil {
		return s.pageError(ctx, err, "comparing revisions", fields)
	}

	return s.render(ctx, templates.DiffPage(templates.DiffPageData{
		Site:     s.site,
		Title:    view.Page.Title,
		PageURL:  view.Page.Path(),
		FromID:   view.From.ID,
		ToID:     view.To.ID,
		Segments: diffSegments(view.Segments),
	}), "rendering diff", fields)
}

func (s *Server) tagHandler(ctx context.Context, input *tagInput) (*htmlResponse, error) {
	if segments(ctx) != 2 {
		return s.notFound(ctx)
	}
	fields := logrus.Fields{"tag": input.Tag}

	page := max(input.Page, 1)
	results, err := s.wiki.ByTag(ctx, input.Tag, s.itemsPerPage+1, (page-1)*s.itemsPerPage)
	if err != nil {
		return s.pageError(ctx, err, "listing tag", fields)
	}

	tag := wiki.NormalizeTag(input.Tag)
	data := templates.ListPageData{
		Site:    s.site,
		Heading: "#" + tag,
	}
	if len(results) > s.itemsPerPage {
		results = results[:s.itemsPerPage]
		data.NextURL = fmt.Sprintf("/tags/%s/?page=%d", tag, page+1)
	}
	if page > 1 {
		data.PrevURL = fmt.Sprintf("/tags/%s/?page=%d", tag, page-1)
	}
	data.Results = summaries(results)
	if len(data.Results) == 0 {
		data.Message = "No pages carry this tag."
	}

	return s.render(ctx, templates.ListPage(data), "rendering tag listing", fields)
}

func (s *Server) searchHandler(ctx context.Context, input *searchInput) (*htmlResponse, error) {
	if segments(ctx) != 1 {
		return s.notFound(ctx)
	}

	query := strings.TrimSpace(input.Query)
	data := templates.ListPageData{
		Site:       s.site,
		Heading:    "Search",
		ShowSearch: true,
		Query:      query,
	}

	if query != "" {
		results, err := s.wiki.Search(ctx, query, input.Tags, searchResultsLimit)
		if err != nil {
			return s.pageError(ctx, err, "search request failed", logrus.Fields{"query": query})
		}
		data.Results = summaries(results)
		if len(data.Results) == 0 {
			data.Message = "Nothing matched your search."
		}
	}

	return s.render(ctx, templates.ListPage(data), "rendering search page", logrus.Fields{"query": query})
}

func (s *Server) statsHandler(ctx context.Context, _ *struct{}) (*htmlResponse, error) {
	if segments(ctx) != 1 {
		return s.notFound(ctx)
	}

	stats, err := s.wiki.Stats(ctx)
	if err != nil {
		return s.pageError(ctx, err, "collecting stats", nil)
	}

	return s.render(ctx, templates.StatsPage(templates.StatsPageData{
		Site:        s.site,
		Pages:       stats.Pages,
		Revisions:   stats.Revisions,
		Tags:        stats.Tags,
		Blobs:       stats.Blobs,
		StoredBytes: stats.StoredBytes,
	}), "rendering stats", nil)
}

func (s *Server) leaderboardHandler(ctx context.Context, _ *struct{}) (*htmlResponse, error) {
	if segments(ctx) != 1 {
		return s.notFound(ctx)
	}

	entries, err := s.wiki.Leaderboard(ctx, s.itemsPerPage)
	if err != nil {
		return s.pageError(ctx, err, "ranking pages", nil)
	}

	rows := make([]templates.LeaderboardRow, 0, len(entries))
	for i := range entries {
		entry := &entries[i]
		rows = append(rows, templates.LeaderboardRow{
			Rank:    i + 1,
			Title:   entry.Page.Title,
			URL:     entry.Page.Path(),
			Score:   entry.Score,
			Length:  entry.Length,
			Forward: entry.Forward,
			Back:    entry.Back,
		})
	}

	return s.render(ctx, templates.LeaderboardPage(templates.LeaderboardPageData{
		Site: s.site,
		Rows: rows,
	}), "rendering leaderboard", nil)
}

func (s *Server) healthHandler(ctx context.Context, _ *struct{}) (*healthResponse, error) {
	resp := &healthResponse{}
	resp.Body.Status = "ok"
	resp.Body.Database = "ok"

	sqlDB, err := db.SQLDB(s.db)
	if err != nil {
		s.recordError(ctx, err, "obtaining sql db", nil)
		resp.Body.Status = "degraded"
		resp.Body.Database = "error"
		resp.Status = stdhttp.StatusServiceUnavailable
	} else if pingErr := sqlDB.PingContext(ctx); pingErr != nil {
		s.recordError(ctx, pingErr, "pinging database", nil)
		resp.Body.Status = "degraded"
		resp.Body.Database = "error"
		resp.Status = stdhttp.StatusServiceUnavailable
	}

	if resp.Status == 0 {
		resp.Status = stdhttp.StatusOK
	}

	return resp, nil
}

func (s *Server) render(ctx context.Context, component templ.Component, message string, fields logrus.Fields) (*htmlResponse, error) {
	body, err := renderComponent(ctx, component)
	if err != nil {
		s.recordError(ctx, err, message, fields)
		return s.renderErrorResponse(ctx, stdhttp.StatusInternalServerError, errorFallbackMessage)
	}
	return newHTMLResponse(stdhttp.StatusOK, body), nil
}

func (s *Server) authorNames(ctx context.Context, revisions []revision.Revision) (map[uint]string, error) {
	seen := make(map[uint]struct{})
	ids := make([]uint, 0, len(revisions))
	for _, rev := range revisions {
		if rev.AuthorID == nil {
			continue
		}
		if _, ok := seen[*rev.AuthorID]; ok {
			continue
		}
		seen[*rev.AuthorID] = struct{}{}
		ids = append(ids, *rev.AuthorID)
	}
	return s.directory.Names(ctx, ids)
}

func summaries(items []wiki.Summary) []templates.Summary {
	out := make([]templates.Summary, 0, len(items))
	for i := range items {
		item := &items[i]
		out = append(out, templates.Summary{
			Title:       item.Page.Title,
			URL:         item.Page.Path(),
			Description: item.Description,
			Tags:        item.Tags,
			Touched:     item.Page.Touched,
		})
	}
	return out
}

func tocEntries(headings []markup.Heading) []templates.TOCEntry {
	if len(headings) == 0 {
		return nil
	}
	entries := make([]templates.TOCEntry, 0, len(headings))
	for _, h := range headings {
		entries = append(entries, templates.TOCEntry{Title: h.Title, ID: h.ID, Children: tocEntries(h.Children)})
	}
	return entries
}

func diffSegments(in []revision.Segment) []templates.DiffSegment {
	out := make([]templates.DiffSegment, 0, len(in))
	for _, seg := range in {
		kind := "equal"
		switch seg.Op {
		case revision.OpInsert:
			kind = "insert"
		case revision.OpDelete:
			kind = "delete"
		}
		out = append(out, templates.DiffSegment{Kind: kind, Text: seg.Text})
	}
	return out
}
