package permission

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"salvi/app/internal/db"
)

func TestNewEngineRequiresDatabase(t *testing.T) {
	t.Parallel()

	if _, err := NewEngine(nil, nil); err == nil {
		t.Fatalf("expected error when database is nil")
	}
}

func TestEnsureDefaultGroupIsIdempotent(t *testing.T) {
	t.Parallel()

	engine, _ := setupEngine(t)
	ctx := context.Background()

	first, err := engine.EnsureDefaultGroup(ctx)
	if err != nil {
		t.Fatalf("EnsureDefaultGroup returned error: %v", err)
	}
	second, err := engine.EnsureDefaultGroup(ctx)
	if err != nil {
		t.Fatalf("EnsureDefaultGroup returned error: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("expected the same default group, got %d and %d", first.ID, second.ID)
	}
	if first.Permissions != All {
		t.Fatalf("expected default group to hold all bits, got %s", first.Permissions)
	}
}

func TestEffectiveAnonymousUsesDefaultGroup(t *testing.T) {
	t.Parallel()

	engine, _ := setupEngine(t)
	ctx := context.Background()

	if _, err := engine.EnsureDefaultGroup(ctx); err != nil {
		t.Fatalf("EnsureDefaultGroup returned error: %v", err)
	}

	bits, err := engine.Effective(ctx, Anonymous(), nil)
	if err != nil {
		t.Fatalf("Effective returned error: %v", err)
	}
	if bits != Read {
		t.Fatalf("expected anonymous site-wide bits read, got %s", bits)
	}
}

func TestEffectiveAppliesOverridesAndLock(t *testing.T) {
	t.Parallel()

	engine, directory := setupEngine(t)
	ctx := context.Background()

	readers, err := engine.SaveGroup(ctx, "readers", Read)
	if err != nil {
		t.Fatalf("SaveGroup returned error: %v", err)
	}

	owner := mustUser(t, directory, "owner", readers.ID)
	editor := mustUser(t, directory, "editor", readers.ID)

	target := &Target{PageID: 42, OwnerID: &owner.ID}

	bits, err := engine.Effective(ctx, editor, target)
	if err != nil {
		t.Fatalf("Effective returned error: %v", err)
	}
	if bits != Read {
		t.Fatalf("expected read before override, got %s", bits)
	}

	if err := engine.SetOverride(ctx, 42, readers.ID, Edit|SetTags); err != nil {
		t.Fatalf("SetOverride returned error: %v", err)
	}

	bits, err = engine.Effective(ctx, editor, target)
	if err != nil {
		t.Fatalf("Effective returned error: %v", err)
	}
	if bits != Read|Edit|SetTags {
		t.Fatalf("expected override to add edit|set_tags, got %s", bits)
	}

	other, err := engine.Effective(ctx, editor, &Target{PageID: 43})
	if err != nil {
		t.Fatalf("Effective returned error: %v", err)
	}
	if other != Read {
		t.Fatalf("expected override scoped to page 42, got %s on page 43", other)
	}

	target.Locked = true
	if err := engine.Require(ctx, editor, target, Edit); !eris.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden on locked page, got %v", err)
	}

	canEdit, err := engine.CanEdit(ctx, owner, target)
	if err != nil {
		t.Fatalf("CanEdit returned error: %v", err)
	}
	if !canEdit {
		t.Fatalf("expected owner to keep edit rights on locked page")
	}

	if err := engine.DeleteOverride(ctx, 42, readers.ID); err != nil {
		t.Fatalf("DeleteOverride returned error: %v", err)
	}

	overrides, err := engine.Overrides(ctx, 42)
	if err != nil {
		t.Fatalf("Overrides returned error: %v", err)
	}
	if len(overrides) != 0 {
		t.Fatalf("expected overrides removed, got %v", overrides)
	}
}

func TestSetOverrideReplacesValue(t *testing.T) {
	t.Parallel()

	engine, _ := setupEngine(t)
	ctx := context.Background()

	group, err := engine.SaveGroup(ctx, "writers", Read)
	if err != nil {
		t.Fatalf("SaveGroup returned error: %v", err)
	}

	for _, bits := range []Bits{Edit, SetURL} {
		if err := engine.SetOverride(ctx, 1, group.ID, bits); err != nil {
			t.Fatalf("SetOverride returned error: %v", err)
		}
	}

	overrides, err := engine.Overrides(ctx, 1)
	if err != nil {
		t.Fatalf("Overrides returned error: %v", err)
	}
	if len(overrides) != 1 || overrides[0].Permissions != SetURL {
		t.Fatalf("expected a single set_url override, got %#v", overrides)
	}
}

func TestDirectoryLookup(t *testing.T) {
	t.Parallel()

	_, directory := setupEngine(t)
	ctx := context.Background()

	anon, err := directory.Lookup(ctx, "  ")
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if !anon.Anonymous {
		t.Fatalf("expected anonymous identity for blank name")
	}

	unknown, err := directory.Lookup(ctx, "ghost")
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if !unknown.Anonymous {
		t.Fatalf("expected anonymous identity for unknown name")
	}

	user, err := directory.EnsureUser(ctx, "alice", true)
	if err != nil {
		t.Fatalf("EnsureUser returned error: %v", err)
	}

	identity, err := directory.Lookup(ctx, "alice")
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if identity.ID != user.ID || !identity.Admin || identity.Anonymous {
		t.Fatalf("unexpected identity %#v", identity)
	}
	if len(identity.Groups) != 1 {
		t.Fatalf("expected membership in the default group, got %v", identity.Groups)
	}

	names, err := directory.Names(ctx, []uint{user.ID, 999})
	if err != nil {
		t.Fatalf("Names returned error: %v", err)
	}
	if names[user.ID] != "alice" || len(names) != 1 {
		t.Fatalf("unexpected names %v", names)
	}
}

func mustUser(t *testing.T, directory *Directory, name string, groupID uint) Identity {
	t.Helper()
	ctx := context.Background()

	user, err := directory.EnsureUser(ctx, name, false)
	if err != nil {
		t.Fatalf("EnsureUser returned error: %v", err)
	}
	if err := directory.AddMember(ctx, user.ID, groupID); err != nil {
		t.Fatalf("AddMember returned error: %v", err)
	}

	// Drop the default membership so only groupID counts.
	if err := directory.db.Where("user_id = ? AND group_id <> ?", user.ID, groupID).Delete(&Membership{}).Error; err != nil {
		t.Fatalf("pruning memberships failed: %v", err)
	}

	identity, err := directory.Lookup(ctx, name)
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	return identity
}

func setupEngine(t *testing.T) (*Engine, *Directory) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "permissions.db")
	gormDB, err := db.Open(db.Options{Path: path})
	if err != nil {
		t.Fatalf("db.Open returned error: %v", err)
	}

	t.Cleanup(func() {
		if closeErr := db.Close(gormDB); closeErr != nil {
			t.Fatalf("closing database failed: %v", closeErr)
		}
	})

	if err := gormDB.AutoMigrate(&User{}, &Group{}, &Membership{}, &Override{}); err != nil {
		t.Fatalf("AutoMigrate returned error: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	engine, err := NewEngine(gormDB, logger)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}

	directory, err := NewDirectory(gormDB, engine, logger)
	if err != nil {
		t.Fatalf("NewDirectory returned error: %v", err)
	}

	return engine, directory
}
