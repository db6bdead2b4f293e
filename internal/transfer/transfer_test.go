package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"salvi/app/internal/content"
	"salvi/app/internal/db"
	"salvi/app/internal/links"
	"salvi/app/internal/markup"
	"salvi/app/internal/permission"
	"salvi/app/internal/revision"
	"salvi/app/internal/wiki"
)

func TestParseSelectors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want []Selector
	}{
		{name: "id", raw: "+12", want: []Selector{{Kind: SelectByID, Value: "12"}}},
		{name: "tag", raw: "#recipes", want: []Selector{{Kind: SelectByTag, Value: "recipes"}}},
		{name: "slug", raw: "/hello-world/", want: []Selector{{Kind: SelectBySlug, Value: "hello-world"}}},
		{name: "title", raw: "Hello World", want: []Selector{{Kind: SelectByTitle, Value: "Hello World"}}},
		{name: "short lines skipped", raw: "x\n\n  +3  \n", want: []Selector{{Kind: SelectByID, Value: "3"}}},
		{name: "non numeric id is a title", raw: "+one", want: []Selector{{Kind: SelectByTitle, Value: "+one"}}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ParseSelectors(tc.raw)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d selectors, got %+v", len(tc.want), got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("selector %d: expected %+v, got %+v", i, tc.want[i], got[i])
				}
			}
		})
	}
}

func TestExportSelectsPagesAndHistory(t *testing.T) {
	t.Parallel()

	env := setupTransfer(t)
	ctx := context.Background()

	first := env.createPage(t, wiki.CreateInput{Slug: "first", Title: "First", Text: "v1", Tags: []string{"keep"}})
	env.editText(t, first.ID, "v2")
	env.createPage(t, wiki.CreateInput{Title: "Second", Text: "other", Tags: []string{"keep"}})
	env.createPage(t, wiki.CreateInput{Title: "Ignored", Text: "nope"})

	doc, err := env.exporter.Export(ctx, env.admin, ParseSelectors("#keep\n/first/"), ExportOptions{IncludeHistory: true, IncludeUsers: true})
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}

	if len(doc.Pages) != 2 {
		t.Fatalf("expected two pages, got %d", len(doc.Pages))
	}
	exported := doc.Pages[0]
	if exported.Title != "First" || exported.URL == nil || *exported.URL != "first" {
		t.Fatalf("unexpected first record %+v", exported)
	}
	if len(exported.History) != 2 || exported.History[0].Text != "v2" || exported.History[1].Text != "v1" {
		t.Fatalf("expected newest-first history, got %+v", exported.History)
	}
	if exported.History[0].User == nil || doc.Users[formatID(*exported.History[0].User)].Name != "root" {
		t.Fatalf("expected author to be recorded, got %+v / %+v", exported.History[0].User, doc.Users)
	}

	latestOnly, err := env.exporter.Export(ctx, env.admin, ParseSelectors("+"+formatID(first.ID)), ExportOptions{})
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	if len(latestOnly.Pages) != 1 || len(latestOnly.Pages[0].History) != 1 || latestOnly.Pages[0].History[0].User != nil {
		t.Fatalf("expected latest revision without users, got %+v", latestOnly.Pages)
	}
}

func TestExportRejectsEmptySelection(t *testing.T) {
	t.Parallel()

	env := setupTransfer(t)

	_, err := env.exporter.Export(context.Background(), env.admin, nil, ExportOptions{})
	var validation *wiki.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestImportRoundTripCountsFailures(t *testing.T) {
	t.Parallel()

	env := setupTransfer(t)
	ctx := context.Background()

	page := env.createPage(t, wiki.CreateInput{Slug: "origin", Title: "Origin", Text: "one"})
	env.editText(t, page.ID, "two")

	doc, err := env.exporter.Export(ctx, env.admin, ParseSelectors("/origin/"), ExportOptions{IncludeHistory: true})
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(doc); err != nil {
		t.Fatalf("encoding export failed: %v", err)
	}
	if !strings.Contains(buf.String(), `"is_cw":false`) {
		t.Fatalf("expected wire field names, got %s", buf.String())
	}

	decoded, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	decoded.Pages = append(decoded.Pages, PageRecord{
		Title:   "Broken",
		History: []RevisionRecord{{Text: "abc", Length: 7}},
	})

	report, err := env.importer.Import(ctx, env.admin, decoded, ImportOptions{})
	if err != nil {
		t.Fatalf("Import returned error: %v", err)
	}
	if report.Pages != 1 || report.Revisions != 2 || report.Failed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	pages, err := env.repo.ByTitle(ctx, "Origin")
	if err != nil {
		t.Fatalf("ByTitle returned error: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected original and imported page, got %d", len(pages))
	}
	if pages[1].Slug != nil {
		t.Fatalf("expected imported page without slug when not overwriting")
	}
}

func TestImportRequiresAdmin(t *testing.T) {
	t.Parallel()

	env := setupTransfer(t)

	_, err := env.importer.Import(context.Background(), permission.Anonymous(), &Document{}, ImportOptions{})
	if !eris.Is(err, wiki.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	_, err := Decode(strings.NewReader("{"))
	var validation *wiki.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

type transferEnv struct {
	repo     *wiki.Repository
	service  *wiki.Service
	exporter *Exporter
	importer *Importer
	admin    permission.Identity
}

func (e transferEnv) createPage(t *testing.T, in wiki.CreateInput) *wiki.Page {
	t.Helper()

	page, err := e.service.CreatePage(context.Background(), e.admin, in)
	if err != nil {
		t.Fatalf("CreatePage returned error: %v", err)
	}
	return page
}

func (e transferEnv) editText(t *testing.T, pageID uint, text string) {
	t.Helper()

	if _, err := e.service.EditPage(context.Background(), e.admin, pageID, wiki.EditInput{Text: &text}); err != nil {
		t.Fatalf("EditPage returned error: %v", err)
	}
}

func formatID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func setupTransfer(t *testing.T) transferEnv {
	t.Helper()
	ctx := context.Background()

	gormDB, err := db.Open(db.Options{Path: filepath.Join(t.TempDir(), "transfer.db")})
	if err != nil {
		t.Fatalf("db.Open returned error: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := db.Close(gormDB); closeErr != nil {
			t.Fatalf("closing database failed: %v", closeErr)
		}
	})

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	if err := wiki.Migrate(ctx, gormDB, logger); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}

	repo, err := wiki.NewRepository(gormDB, logger)
	if err != nil {
		t.Fatalf("NewRepository returned error: %v", err)
	}
	store, err := content.NewStore(gormDB, logger)
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}
	ledger, err := revision.NewLedger(gormDB, store, logger)
	if err != nil {
		t.Fatalf("NewLedger returned error: %v", err)
	}
	graph, err := links.NewGraph(gormDB, logger)
	if err != nil {
		t.Fatalf("NewGraph returned error: %v", err)
	}
	engine, err := permission.NewEngine(gormDB, logger)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	directory, err := permission.NewDirectory(gormDB, engine, logger)
	if err != nil {
		t.Fatalf("NewDirectory returned error: %v", err)
	}

	service, err := wiki.NewService(wiki.Dependencies{
		DB:          gormDB,
		Pages:       repo,
		Content:     store,
		Ledger:      ledger,
		Graph:       graph,
		Permissions: engine,
		Renderer:    markup.NewRenderer(logger),
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	exporter, err := NewExporter(repo, ledger, engine, directory, logger)
	if err != nil {
		t.Fatalf("NewExporter returned error: %v", err)
	}
	importer, err := NewImporter(service, nil, logger)
	if err != nil {
		t.Fatalf("NewImporter returned error: %v", err)
	}

	if _, err := directory.EnsureUser(ctx, "root", true); err != nil {
		t.Fatalf("EnsureUser returned error: %v", err)
	}
	admin, err := directory.Lookup(ctx, "root")
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}

	return transferEnv{repo: repo, service: service, exporter: exporter, importer: importer, admin: admin}
}
