package wiki

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salvi/app/internal/db"
)

func TestNewRepositoryRequiresDatabase(t *testing.T) {
	t.Parallel()

	if _, err := NewRepository(nil, nil); err == nil {
		t.Fatalf("expected error when database is nil")
	}
}

func TestGetBySlugReturnsNilForMissingPage(t *testing.T) {
	t.Parallel()

	repo, _ := setupRepository(t)

	page, err := repo.GetBySlug(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetBySlug returned error: %v", err)
	}
	if page != nil {
		t.Fatalf("expected nil page for missing slug, got %+v", page)
	}
}

func TestCreateAndSlugOwner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo, _ := setupRepository(t)

	slug := "alpha"
	page := &Page{Slug: &slug, Title: "Alpha", Touched: time.Now()}
	if err := repo.Create(ctx, page); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	owner, err := repo.SlugOwner(ctx, "alpha")
	if err != nil {
		t.Fatalf("SlugOwner returned error: %v", err)
	}
	if owner != page.ID {
		t.Fatalf("expected slug owner %d, got %d", page.ID, owner)
	}

	if err := repo.ClearSlug(ctx, page.ID); err != nil {
		t.Fatalf("ClearSlug returned error: %v", err)
	}
	owner, err = repo.SlugOwner(ctx, "alpha")
	if err != nil {
		t.Fatalf("SlugOwner returned error: %v", err)
	}
	if owner != 0 {
		t.Fatalf("expected slug to be free, got owner %d", owner)
	}

	stored, err := repo.Get(ctx, page.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if stored.Slug != nil || stored.Path() != "/p/1/" {
		t.Fatalf("expected id path after clearing slug, got %q", stored.Path())
	}
}

func TestChangeTagsAppliesDifference(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo, gormDB := setupRepository(t)
	page := createTestPage(t, repo, "tagged")

	if err := repo.ChangeTags(ctx, page.ID, []string{"go", "wiki"}); err != nil {
		t.Fatalf("ChangeTags returned error: %v", err)
	}

	var goTag Tag
	if err := gormDB.Where("page_id = ? AND name = ?", page.ID, "go").First(&goTag).Error; err != nil {
		t.Fatalf("loading tag failed: %v", err)
	}

	if err := repo.ChangeTags(ctx, page.ID, []string{"go", "notes"}); err != nil {
		t.Fatalf("ChangeTags returned error: %v", err)
	}

	tags, err := repo.Tags(ctx, page.ID)
	if err != nil {
		t.Fatalf("Tags returned error: %v", err)
	}
	if len(tags) != 2 || tags[0] != "go" || tags[1] != "notes" {
		t.Fatalf("unexpected tags %v", tags)
	}

	var kept Tag
	if err := gormDB.Where("page_id = ? AND name = ?", page.ID, "go").First(&kept).Error; err != nil {
		t.Fatalf("loading tag failed: %v", err)
	}
	if kept.ID != goTag.ID {
		t.Fatalf("expected unchanged tag to keep its row, got %d and %d", goTag.ID, kept.ID)
	}

	byTag, err := repo.ByTag(ctx, "notes", 10, 0)
	if err != nil {
		t.Fatalf("ByTag returned error: %v", err)
	}
	if len(byTag) != 1 || byTag[0].ID != page.ID {
		t.Fatalf("expected page under tag notes, got %+v", byTag)
	}
}

func TestSearchMatchesTitlesAndTags(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo, _ := setupRepository(t)

	garden := createTestPage(t, repo, "Garden notes")
	recipes := createTestPage(t, repo, "Recipes")
	createTestPage(t, repo, "100% done")

	if err := repo.ChangeTags(ctx, recipes.ID, []string{"garden"}); err != nil {
		t.Fatalf("ChangeTags returned error: %v", err)
	}

	titles, err := repo.Search(ctx, "garden", false, 10)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(titles) != 1 || titles[0].ID != garden.ID {
		t.Fatalf("expected title match only, got %+v", titles)
	}

	withTags, err := repo.Search(ctx, "garden", true, 10)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(withTags) != 2 {
		t.Fatalf("expected title and tag matches, got %+v", withTags)
	}

	escaped, err := repo.Search(ctx, "%", false, 10)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(escaped) != 1 || escaped[0].Title != "100% done" {
		t.Fatalf("expected literal percent match, got %+v", escaped)
	}
}

func TestChangedSinceIsInclusive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo, _ := setupRepository(t)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	older := &Page{Title: "Older", Touched: base.Add(-time.Hour)}
	exact := &Page{Title: "Exact", Touched: base}
	newer := &Page{Title: "Newer", Touched: base.Add(time.Minute)}
	for _, page := range []*Page{older, exact, newer} {
		if err := repo.Create(ctx, page); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}

	ids, err := repo.ChangedSince(ctx, base)
	if err != nil {
		t.Fatalf("ChangedSince returned error: %v", err)
	}
	if len(ids) != 2 || ids[0] != exact.ID || ids[1] != newer.ID {
		t.Fatalf("expected [%d %d], got %v", exact.ID, newer.ID, ids)
	}
}

func TestPropertiesAreTyped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo, _ := setupRepository(t)
	page := createTestPage(t, repo, "Props")

	if err := repo.SetProperty(ctx, page.ID, "stars", IntValue(3)); err != nil {
		t.Fatalf("SetProperty returned error: %v", err)
	}
	if err := repo.SetProperty(ctx, page.ID, "stars", IntValue(5)); err != nil {
		t.Fatalf("SetProperty returned error: %v", err)
	}

	prop, err := repo.Property(ctx, page.ID, "stars")
	if err != nil {
		t.Fatalf("Property returned error: %v", err)
	}
	value := PropertyValue{Kind: prop.Kind, Raw: prop.Value}
	if n, ok := value.Int(); !ok || n != 5 {
		t.Fatalf("expected int property 5, got %+v", value)
	}
	if _, ok := value.Bool(); ok {
		t.Fatalf("expected int property not to decode as bool")
	}

	if err := repo.DeleteProperty(ctx, page.ID, "stars"); err != nil {
		t.Fatalf("DeleteProperty returned error: %v", err)
	}
	prop, err = repo.Property(ctx, page.ID, "stars")
	if err != nil {
		t.Fatalf("Property returned error: %v", err)
	}
	if prop != nil {
		t.Fatalf("expected property to be removed, got %+v", prop)
	}
}

func createTestPage(t *testing.T, repo *Repository, title string) *Page {
	t.Helper()

	page := &Page{Title: title, Touched: time.Now()}
	if err := repo.Create(context.Background(), page); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	return page
}

func setupRepository(t *testing.T) (*Repository, *gorm.DB) {
	t.Helper()

	gormDB := openTestDB(t, "repository.db")

	repo, err := NewRepository(gormDB, silentLogger())
	if err != nil {
		t.Fatalf("NewRepository returned error: %v", err)
	}

	return repo, gormDB
}

func openTestDB(t *testing.T, filename string) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), filename)
	gormDB, err := db.Open(db.Options{Path: path})
	if err != nil {
		t.Fatalf("db.Open returned error: %v", err)
	}

	t.Cleanup(func() {
		if closeErr := db.Close(gormDB); closeErr != nil {
			t.Fatalf("closing database failed: %v", closeErr)
		}
	})

	if err := Migrate(context.Background(), gormDB, silentLogger()); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}

	return gormDB
}

func silentLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
