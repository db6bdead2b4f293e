package bootstrap

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"salvi/app/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		DBPath:     filepath.Join(t.TempDir(), "salvi.db"),
		AuthHeader: "X-Remote-User",
		RateLimit: config.RateLimit{
			RequestsPerSecond: 5,
			Burst:             10,
			ClientTTL:         time.Minute,
		},
		Site: config.Site{Title: "Salvi", ItemsPerPage: 20, DescriptionSize: 200},
	}
}

func silentLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestBuildWiresServer(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Extensions = []string{"importexport", "sync"}

	result, err := Build(context.Background(), Dependencies{Config: cfg, Logger: silentLogger()})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	t.Cleanup(func() {
		if err := result.Cleanup(); err != nil {
			t.Fatalf("cleanup failed: %v", err)
		}
	})

	if result.HTTPServer == nil || result.Core.Wiki == nil {
		t.Fatalf("expected server and wiki service to be wired")
	}

	group, err := result.Core.Permissions.GroupByName(context.Background(), "default")
	if err != nil {
		t.Fatalf("GroupByName returned error: %v", err)
	}
	if group == nil {
		t.Fatalf("expected migrations to seed the default group")
	}
}

func TestBuildRejectsUnknownExtension(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Extensions = []string{"circles"}

	_, err := Build(context.Background(), Dependencies{Config: cfg, Logger: silentLogger()})
	if err == nil {
		t.Fatalf("expected unknown extension to fail startup")
	}
	if !strings.Contains(err.Error(), "circles") {
		t.Fatalf("expected error to name the extension, got %v", err)
	}
}

func TestOpenRequiresConfig(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), Dependencies{}); err == nil {
		t.Fatalf("expected error without configuration")
	}
}
