package wiki

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"

	"salvi/app/internal/content"
	"salvi/app/internal/links"
	"salvi/app/internal/markup"
	"salvi/app/internal/permission"
	"salvi/app/internal/revision"
)

func TestNewServiceRequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewService(Dependencies{}); err == nil {
		t.Fatalf("expected error when dependencies are missing")
	}
}

func TestCreateAndViewPage(t *testing.T) {
	t.Parallel()

	env := setupService(t)
	ctx := context.Background()
	alice := env.user(t, "alice", false)

	page, err := env.service.CreatePage(ctx, alice, CreateInput{
		Slug:  "hello",
		Title: "Hello",
		Text:  "# Intro\n\nSome **bold** text.",
		Tags:  []string{"Foo", "#bar", "foo"},
	})
	if err != nil {
		t.Fatalf("CreatePage returned error: %v", err)
	}
	if page.OwnerID == nil || *page.OwnerID != alice.ID {
		t.Fatalf("expected alice to own the page, got %v", page.OwnerID)
	}

	view, err := env.service.ViewPage(ctx, alice, PageRef{Slug: "hello"})
	if err != nil {
		t.Fatalf("ViewPage returned error: %v", err)
	}

	if view.Page.ID != page.ID {
		t.Fatalf("expected page %d, got %d", page.ID, view.Page.ID)
	}
	if !strings.Contains(view.HTML, "<strong>bold</strong>") {
		t.Fatalf("expected rendered html, got %q", view.HTML)
	}
	if len(view.TOC) != 1 || view.TOC[0].Title != "Intro" {
		t.Fatalf("expected one heading in the TOC, got %+v", view.TOC)
	}
	if len(view.Tags) != 2 || view.Tags[0] != "bar" || view.Tags[1] != "foo" {
		t.Fatalf("expected normalized tags [bar foo], got %v", view.Tags)
	}
	if !view.Editable {
		t.Fatalf("expected owner to be able to edit")
	}
	if view.Description != "Some bold text." {
		t.Fatalf("unexpected description %q", view.Description)
	}
}

func TestCreatePageRejectsTakenAndReservedSlugs(t *testing.T) {
	t.Parallel()

	env := setupService(t)
	ctx := context.Background()
	alice := env.user(t, "alice", false)

	if _, err := env.service.CreatePage(ctx, alice, CreateInput{Slug: "taken", Title: "First"}); err != nil {
		t.Fatalf("CreatePage returned error: %v", err)
	}

	_, err := env.service.CreatePage(ctx, alice, CreateInput{Slug: "taken", Title: "Second"})
	if !eris.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for taken slug, got %v", err)
	}

	_, err = env.service.CreatePage(ctx, alice, CreateInput{Slug: "edit", Title: "Reserved"})
	var validation *ValidationError
	if !errors.As(err, &validation) || validation.Field != "slug" {
		t.Fatalf("expected slug validation error, got %v", err)
	}

	stats, err := env.service.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if stats.Pages != 1 || stats.Revisions != 1 {
		t.Fatalf("expected rejected creations to leave nothing behind, got %+v", stats)
	}
}

func TestAnonymousCannotCreatePages(t *testing.T) {
	t.Parallel()

	env := setupService(t)

	_, err := env.service.CreatePage(context.Background(), permission.Anonymous(), CreateInput{Title: "Guest"})
	if !eris.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestEditWithIdenticalTextKeepsHistory(t *testing.T) {
	t.Parallel()

	env := setupService(t)
	ctx := context.Background()
	alice := env.user(t, "alice", false)

	page, err := env.service.CreatePage(ctx, alice, CreateInput{Title: "Same", Text: "unchanged"})
	if err != nil {
		t.Fatalf("CreatePage returned error: %v", err)
	}

	text := "unchanged"
	result, err := env.service.EditPage(ctx, alice, page.ID, EditInput{Text: &text})
	if err != nil {
		t.Fatalf("EditPage returned error: %v", err)
	}
	if result.Appended {
		t.Fatalf("expected identical text not to append a revision")
	}

	history, err := env.service.History(ctx, alice, page.ID)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if len(history.Revisions) != 1 {
		t.Fatalf("expected a single revision, got %d", len(history.Revisions))
	}
	if !result.Page.Touched.After(page.Touched) {
		t.Fatalf("expected touched to advance, got %s then %s", page.Touched, result.Page.Touched)
	}
}

func TestEditMaintainsLinkGraph(t *testing.T) {
	t.Parallel()

	env := setupService(t)
	ctx := context.Background()
	alice := env.user(t, "alice", false)

	target, err := env.service.CreatePage(ctx, alice, CreateInput{Slug: "target", Title: "Target"})
	if err != nil {
		t.Fatalf("CreatePage returned error: %v", err)
	}
	source, err := env.service.CreatePage(ctx, alice, CreateInput{Title: "Source", Text: "nothing yet"})
	if err != nil {
		t.Fatalf("CreatePage returned error: %v", err)
	}

	linked := "See [target](/p/" + formatUint(target.ID) + "/)."
	if _, err := env.service.EditPage(ctx, alice, source.ID, EditInput{Text: &linked}); err != nil {
		t.Fatalf("EditPage returned error: %v", err)
	}

	view, err := env.service.Links(ctx, alice, target.ID)
	if err != nil {
		t.Fatalf("Links returned error: %v", err)
	}
	if len(view.Back) != 1 || view.Back[0].ID != source.ID {
		t.Fatalf("expected back link from source, got %+v", view.Back)
	}

	unlinked := "No more links."
	if _, err := env.service.EditPage(ctx, alice, source.ID, EditInput{Text: &unlinked}); err != nil {
		t.Fatalf("EditPage returned error: %v", err)
	}

	view, err = env.service.Links(ctx, alice, target.ID)
	if err != nil {
		t.Fatalf("Links returned error: %v", err)
	}
	if len(view.Back) != 0 {
		t.Fatalf("expected back link to be removed, got %+v", view.Back)
	}
}

func TestEditLockedPageRequiresOwner(t *testing.T) {
	t.Parallel()

	env := setupService(t)
	ctx := context.Background()
	alice := env.user(t, "alice", false)
	bob := env.user(t, "bob", false)

	page, err := env.service.CreatePage(ctx, alice, CreateInput{Title: "Locked", Text: "v1"})
	if err != nil {
		t.Fatalf("CreatePage returned error: %v", err)
	}

	locked := true
	if _, err := env.service.EditPage(ctx, bob, page.ID, EditInput{Locked: &locked}); !eris.Is(err, ErrForbidden) {
		t.Fatalf("expected non-owner to be unable to lock, got %v", err)
	}
	if _, err := env.service.EditPage(ctx, alice, page.ID, EditInput{Locked: &locked}); err != nil {
		t.Fatalf("EditPage returned error: %v", err)
	}

	text := "v2"
	if _, err := env.service.EditPage(ctx, bob, page.ID, EditInput{Text: &text}); !eris.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-owner edit, got %v", err)
	}

	history, err := env.service.History(ctx, alice, page.ID)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if len(history.Revisions) != 1 {
		t.Fatalf("expected forbidden edit not to append, got %d revisions", len(history.Revisions))
	}

	if _, err := env.service.EditPage(ctx, alice, page.ID, EditInput{Text: &text}); err != nil {
		t.Fatalf("expected owner to edit locked page, got %v", err)
	}

	admin := env.user(t, "root", true)
	other := "v3"
	if _, err := env.service.EditPage(ctx, admin, page.ID, EditInput{Text: &other}); err != nil {
		t.Fatalf("expected admin to edit locked page, got %v", err)
	}
}

func TestEditRejectsStaleBaseRevision(t *testing.T) {
	t.Parallel()

	env := setupService(t)
	ctx := context.Background()
	alice := env.user(t, "alice", false)

	page, err := env.service.CreatePage(ctx, alice, CreateInput{Title: "Racy", Text: "v1"})
	if err != nil {
		t.Fatalf("CreatePage returned error: %v", err)
	}
	view, err := env.service.ViewPage(ctx, alice, PageRef{ID: page.ID})
	if err != nil {
		t.Fatalf("ViewPage returned error: %v", err)
	}
	base := view.Revision.ID

	first := "v2"
	if _, err := env.service.EditPage(ctx, alice, page.ID, EditInput{Text: &first, BaseRevisionID: base}); err != nil {
		t.Fatalf("EditPage returned error: %v", err)
	}

	second := "v2 from elsewhere"
	if _, err := env.service.EditPage(ctx, alice, page.ID, EditInput{Text: &second, BaseRevisionID: base}); !eris.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for stale base, got %v", err)
	}
}

func TestEditSlugConflictLeavesPageUntouched(t *testing.T) {
	t.Parallel()

	env := setupService(t)
	ctx := context.Background()
	alice := env.user(t, "alice", false)

	if _, err := env.service.CreatePage(ctx, alice, CreateInput{Slug: "first", Title: "First"}); err != nil {
		t.Fatalf("CreatePage returned error: %v", err)
	}
	second, err := env.service.CreatePage(ctx, alice, CreateInput{Slug: "second", Title: "Second", Text: "v1"})
	if err != nil {
		t.Fatalf("CreatePage returned error: %v", err)
	}

	slug := "first"
	text := "v2"
	if _, err := env.service.EditPage(ctx, alice, second.ID, EditInput{Slug: &slug, Text: &text}); !eris.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	view, err := env.service.ViewPage(ctx, alice, PageRef{Slug: "second"})
	if err != nil {
		t.Fatalf("ViewPage returned error: %v", err)
	}
	if view.Text != "v1" {
		t.Fatalf("expected rolled back text v1, got %q", view.Text)
	}
}

func TestContentWarningHidesDescription(t *testing.T) {
	t.Parallel()

	env := setupService(t)
	ctx := context.Background()
	alice := env.user(t, "alice", false)

	if _, err := env.service.CreatePage(ctx, alice, CreateInput{Title: "Careful", Text: "graphic details", ContentWarning: true}); err != nil {
		t.Fatalf("CreatePage returned error: %v", err)
	}

	summaries, err := env.service.Recent(ctx, 10, 0)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Description != ContentWarningPlaceholder {
		t.Fatalf("expected placeholder description, got %+v", summaries)
	}
}

func TestDiffAndRevision(t *testing.T) {
	t.Parallel()

	env := setupService(t)
	ctx := context.Background()
	alice := env.user(t, "alice", false)

	page, err := env.service.CreatePage(ctx, alice, CreateInput{Title: "Diffs", Text: "hello world"})
	if err != nil {
		t.Fatalf("CreatePage returned error: %v", err)
	}
	text := "hello there world"
	if _, err := env.service.EditPage(ctx, alice, page.ID, EditInput{Text: &text}); err != nil {
		t.Fatalf("EditPage returned error: %v", err)
	}

	history, err := env.service.History(ctx, alice, page.ID)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	newest, oldest := history.Revisions[0], history.Revisions[1]

	diff, err := env.service.Diff(ctx, alice, oldest.ID, newest.ID)
	if err != nil {
		t.Fatalf("Diff returned error: %v", err)
	}
	var inserted strings.Builder
	for _, segment := range diff.Segments {
		if segment.Op == revision.OpInsert {
			inserted.WriteString(segment.Text)
		}
	}
	if strings.TrimSpace(inserted.String()) != "there" {
		t.Fatalf("expected insertion of %q, got %q", "there", inserted.String())
	}

	old, err := env.service.Revision(ctx, alice, oldest.ID)
	if err != nil {
		t.Fatalf("Revision returned error: %v", err)
	}
	if old.Text != "hello world" {
		t.Fatalf("expected old text, got %q", old.Text)
	}
}

func TestRandomWithoutPages(t *testing.T) {
	t.Parallel()

	env := setupService(t)

	if _, err := env.service.Random(context.Background()); !eris.Is(err, ErrNoPages) {
		t.Fatalf("expected ErrNoPages, got %v", err)
	}
}

func TestPageInfoDescribesLatestRevision(t *testing.T) {
	t.Parallel()

	env := setupService(t)
	ctx := context.Background()
	alice := env.user(t, "alice", false)

	page, err := env.service.CreatePage(ctx, alice, CreateInput{Slug: "info", Title: "Info", Text: "héllo", Tags: []string{"x"}})
	if err != nil {
		t.Fatalf("CreatePage returned error: %v", err)
	}

	info, err := env.service.PageInfo(ctx, permission.Anonymous(), page.ID, true)
	if err != nil {
		t.Fatalf("PageInfo returned error: %v", err)
	}

	if info.URL == nil || *info.URL != "info" {
		t.Fatalf("expected url info, got %v", info.URL)
	}
	if info.Latest.ID == nil || info.Latest.Length != 5 {
		t.Fatalf("expected latest length 5, got %+v", info.Latest)
	}
	if info.Text == nil || *info.Text != "héllo" {
		t.Fatalf("expected text to be included, got %v", info.Text)
	}
	if len(info.Tags) != 1 || info.Tags[0] != "x" {
		t.Fatalf("unexpected tags %v", info.Tags)
	}
	if info.Touched != UnixSeconds(page.Touched) {
		t.Fatalf("expected touched %v, got %v", UnixSeconds(page.Touched), info.Touched)
	}
}

func TestApplyRemoteCreatesAndRespectsTouched(t *testing.T) {
	t.Parallel()

	env := setupService(t)
	ctx := context.Background()
	slug := "remote"
	touched := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	applied, err := env.service.ApplyRemote(ctx, RemotePage{
		ID:      77,
		Slug:    &slug,
		Title:   "Remote",
		Touched: touched,
		Tags:    []string{"synced"},
		Text:    "from master",
		Length:  11,
	})
	if err != nil {
		t.Fatalf("ApplyRemote returned error: %v", err)
	}
	if !applied {
		t.Fatalf("expected new remote page to be applied")
	}

	view, err := env.service.ViewPage(ctx, permission.Anonymous(), PageRef{ID: 77})
	if err != nil {
		t.Fatalf("ViewPage returned error: %v", err)
	}
	if !view.Page.IsSynced || view.Text != "from master" {
		t.Fatalf("expected synced page with remote text, got %+v / %q", view.Page, view.Text)
	}

	applied, err = env.service.ApplyRemote(ctx, RemotePage{
		ID: 77, Slug: &slug, Title: "Stale", Touched: touched, Text: "stale", Length: 5,
	})
	if err != nil {
		t.Fatalf("ApplyRemote returned error: %v", err)
	}
	if applied {
		t.Fatalf("expected remote copy with equal touched time to be skipped")
	}

	applied, err = env.service.ApplyRemote(ctx, RemotePage{
		ID: 77, Slug: &slug, Title: "Fresh", Touched: touched.Add(time.Hour), Text: "fresh", Length: 5,
	})
	if err != nil {
		t.Fatalf("ApplyRemote returned error: %v", err)
	}
	if !applied {
		t.Fatalf("expected newer remote copy to be applied")
	}

	history, err := env.service.History(ctx, permission.Anonymous(), 77)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if len(history.Revisions) != 2 || history.Page.Title != "Fresh" {
		t.Fatalf("expected two revisions and new title, got %d / %q", len(history.Revisions), history.Page.Title)
	}

	_, err = env.service.ApplyRemote(ctx, RemotePage{ID: 78, Title: "Broken", Touched: touched, Text: "abc", Length: 4})
	if !eris.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity for length mismatch, got %v", err)
	}
}

func TestRestoreRebuildsHistoryAndSlug(t *testing.T) {
	t.Parallel()

	env := setupService(t)
	ctx := context.Background()
	alice := env.user(t, "alice", false)

	existing, err := env.service.CreatePage(ctx, alice, CreateInput{Slug: "shared", Title: "Existing"})
	if err != nil {
		t.Fatalf("CreatePage returned error: %v", err)
	}

	day := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	input := RestoreInput{
		Slug:  "shared",
		Title: "Imported",
		Tags:  []string{"old"},
		Revisions: []RestoreRevision{
			{Text: "second", Timestamp: day.Add(time.Hour)},
			{Text: "first", Timestamp: day},
		},
	}

	kept, count, err := env.service.Restore(ctx, alice, input)
	if err != nil {
		t.Fatalf("Restore returned error: %v", err)
	}
	if count != 2 || kept.Slug != nil {
		t.Fatalf("expected slugless import with two revisions, got %d / %v", count, kept.Slug)
	}

	input.OverwriteSlug = true
	taken, _, err := env.service.Restore(ctx, alice, input)
	if err != nil {
		t.Fatalf("Restore returned error: %v", err)
	}
	if taken.SlugValue() != "shared" {
		t.Fatalf("expected overwrite to take the slug, got %q", taken.SlugValue())
	}

	previous, err := env.service.ViewPage(ctx, alice, PageRef{ID: existing.ID})
	if err != nil {
		t.Fatalf("ViewPage returned error: %v", err)
	}
	if previous.Page.Slug != nil {
		t.Fatalf("expected previous holder to lose its slug")
	}

	view, err := env.service.ViewPage(ctx, alice, PageRef{Slug: "shared"})
	if err != nil {
		t.Fatalf("ViewPage returned error: %v", err)
	}
	if view.Text != "second" || !view.Revision.CreatedAt.Equal(day.Add(time.Hour)) {
		t.Fatalf("expected newest revision to be latest, got %q at %s", view.Text, view.Revision.CreatedAt)
	}
}

func TestPropertiesRequireEditRights(t *testing.T) {
	t.Parallel()

	env := setupService(t)
	ctx := context.Background()
	alice := env.user(t, "alice", false)

	page, err := env.service.CreatePage(ctx, alice, CreateInput{Title: "Props"})
	if err != nil {
		t.Fatalf("CreatePage returned error: %v", err)
	}

	locked := true
	if _, err := env.service.EditPage(ctx, alice, page.ID, EditInput{Locked: &locked}); err != nil {
		t.Fatalf("EditPage returned error: %v", err)
	}

	if err := env.service.SetProperty(ctx, permission.Anonymous(), page.ID, "mood", StringValue("calm")); !eris.Is(err, ErrForbidden) {
		t.Fatalf("expected anonymous user to be unable to edit a locked page, got %v", err)
	}
	if err := env.service.SetProperty(ctx, alice, page.ID, "mood", StringValue("calm")); err != nil {
		t.Fatalf("SetProperty returned error: %v", err)
	}

	value, ok, err := env.service.Property(ctx, alice, page.ID, "mood")
	if err != nil || !ok {
		t.Fatalf("Property returned %v, %v", ok, err)
	}
	if s, isString := value.String(); !isString || s != "calm" {
		t.Fatalf("expected string property calm, got %+v", value)
	}
}

func TestLeaderboardRanksConnectedPages(t *testing.T) {
	t.Parallel()

	env := setupService(t)
	ctx := context.Background()
	alice := env.user(t, "alice", false)

	hub, err := env.service.CreatePage(ctx, alice, CreateInput{Slug: "hub", Title: "Hub", Text: "center"})
	if err != nil {
		t.Fatalf("CreatePage returned error: %v", err)
	}
	for _, title := range []string{"Spoke one", "Spoke two"} {
		if _, err := env.service.CreatePage(ctx, alice, CreateInput{Title: title, Text: "[hub](/hub/)"}); err != nil {
			t.Fatalf("CreatePage returned error: %v", err)
		}
	}

	entries, err := env.service.Leaderboard(ctx, 10)
	if err != nil {
		t.Fatalf("Leaderboard returned error: %v", err)
	}
	if len(entries) != 3 || entries[0].Page.ID != hub.ID || entries[0].Back != 2 {
		t.Fatalf("expected hub to lead with two back links, got %+v", entries)
	}
}

type serviceEnv struct {
	service   *Service
	directory *permission.Directory
}

func (e serviceEnv) user(t *testing.T, name string, admin bool) permission.Identity {
	t.Helper()
	ctx := context.Background()

	if _, err := e.directory.EnsureUser(ctx, name, admin); err != nil {
		t.Fatalf("EnsureUser returned error: %v", err)
	}
	identity, err := e.directory.Lookup(ctx, name)
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	return identity
}

// steppingClock hands out strictly increasing timestamps.
type steppingClock struct {
	mu   sync.Mutex
	next time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = c.next.Add(time.Second)
	return c.next
}

func setupService(t *testing.T) serviceEnv {
	t.Helper()

	gormDB := openTestDB(t, "service.db")
	logger := silentLogger()

	repo, err := NewRepository(gormDB, logger)
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

	clock := &steppingClock{next: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	service, err := NewService(Dependencies{
		DB:          gormDB,
		Pages:       repo,
		Content:     store,
		Ledger:      ledger,
		Graph:       graph,
		Permissions: engine,
		Renderer:    markup.NewRenderer(logger),
		Logger:      logger,
		Now:         clock.Now,
	})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	return serviceEnv{service: service, directory: directory}
}
