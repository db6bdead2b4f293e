package bootstrap

import (
	"context"

	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salvi/app/internal/config"
	"salvi/app/internal/content"
	"salvi/app/internal/db"
	apphttp "salvi/app/internal/http"
	"salvi/app/internal/links"
	"salvi/app/internal/markup"
	"salvi/app/internal/metrics"
	"salvi/app/internal/permission"
	"salvi/app/internal/revision"
	"salvi/app/internal/transfer"
	"salvi/app/internal/wiki"
)

type Dependencies struct {
	Config    *config.Config
	Logger    *logrus.Logger
	SentryHub *sentry.Hub
}

// Core holds the persistence-backed components shared by the server and the
// command line tool.
type Core struct {
	Database    *gorm.DB
	Pages       *wiki.Repository
	Content     *content.Store
	Ledger      *revision.Ledger
	Graph       *links.Graph
	Permissions *permission.Engine
	Directory   *permission.Directory
	Wiki        *wiki.Service
	Exporter    *transfer.Exporter
	Importer    *transfer.Importer
	Metrics     *metrics.Metrics
}

// Close releases the database.
func (c *Core) Close() error {
	return db.Close(c.Database)
}

type Result struct {
	Core       *Core
	HTTPServer *apphttp.Server
	Cleanup    func() error
}

// Open migrates the database and wires every domain component.
func Open(ctx context.Context, deps Dependencies) (*Core, error) {
	if deps.Config == nil {
		return nil, eris.New("configuration is required")
	}

	gormDB, err := db.Open(db.Options{Path: deps.Config.DBPath, Log: deps.Logger})
	if err != nil {
		return nil, eris.Wrap(err, "opening database")
	}

	closeOnError := func(wrapper error) (*Core, error) {
		if closeErr := db.Close(gormDB); closeErr != nil && deps.Logger != nil {
			deps.Logger.WithError(closeErr).Error("closing database after bootstrap failure")
		}
		return nil, wrapper
	}

	if err := wiki.Migrate(ctx, gormDB, deps.Logger); err != nil {
		return closeOnError(eris.Wrap(err, "running wiki migrations"))
	}

	core := &Core{Database: gormDB, Metrics: metrics.New()}

	if core.Pages, err = wiki.NewRepository(gormDB, deps.Logger); err != nil {
		return closeOnError(eris.Wrap(err, "creating page repository"))
	}
	if core.Content, err = content.NewStore(gormDB, deps.Logger); err != nil {
		return closeOnError(eris.Wrap(err, "creating content store"))
	}
	if core.Ledger, err = revision.NewLedger(gormDB, core.Content, deps.Logger); err != nil {
		return closeOnError(eris.Wrap(err, "creating revision ledger"))
	}
	if core.Graph, err = links.NewGraph(gormDB, deps.Logger); err != nil {
		return closeOnError(eris.Wrap(err, "creating link graph"))
	}
	if core.Permissions, err = permission.NewEngine(gormDB, deps.Logger); err != nil {
		return closeOnError(eris.Wrap(err, "creating permission engine"))
	}
	if core.Directory, err = permission.NewDirectory(gormDB, core.Permissions, deps.Logger); err != nil {
		return closeOnError(eris.Wrap(err, "creating user directory"))
	}

	core.Wiki, err = wiki.NewService(wiki.Dependencies{
		DB:              gormDB,
		Pages:           core.Pages,
		Content:         core.Content,
		Ledger:          core.Ledger,
		Graph:           core.Graph,
		Permissions:     core.Permissions,
		Renderer:        markup.NewRenderer(deps.Logger),
		Recorder:        core.Metrics,
		Logger:          deps.Logger,
		SentryHub:       deps.SentryHub,
		DescriptionSize: deps.Config.Site.DescriptionSize,
	})
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating wiki service"))
	}

	if core.Exporter, err = transfer.NewExporter(core.Pages, core.Ledger, core.Permissions, core.Directory, deps.Logger); err != nil {
		return closeOnError(eris.Wrap(err, "creating exporter"))
	}
	if core.Importer, err = transfer.NewImporter(core.Wiki, core.Metrics, deps.Logger); err != nil {
		return closeOnError(eris.Wrap(err, "creating importer"))
	}

	return core, nil
}

// Build composes the Salvi application layers, including the HTTP transport.
func Build(ctx context.Context, deps Dependencies) (Result, error) {
	core, err := Open(ctx, deps)
	if err != nil {
		return Result{}, err
	}

	cfg := deps.Config
	httpServer, err := apphttp.NewServer(apphttp.Options{
		Wiki:      core.Wiki,
		Directory: core.Directory,
		Exporter:  core.Exporter,
		Importer:  core.Importer,
		Database:  core.Database,
		Metrics:   core.Metrics,
		Logger:    deps.Logger,
		SentryHub: deps.SentryHub,
		RateLimiter: apphttp.RateLimiterSettings{
			Burst:             cfg.RateLimit.Burst,
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			ClientTTL:         cfg.RateLimit.ClientTTL,
		},
		AuthHeader:   cfg.AuthHeader,
		SiteTitle:    cfg.Site.Title,
		ItemsPerPage: cfg.Site.ItemsPerPage,
		Extensions:   cfg.Extensions,
	})
	if err != nil {
		if closeErr := core.Close(); closeErr != nil && deps.Logger != nil {
			deps.Logger.WithError(closeErr).Error("closing database after bootstrap failure")
		}
		return Result{}, eris.Wrap(err, "initialising http server")
	}

	cleanup := func() error {
		httpServer.Close()
		return core.Close()
	}

	return Result{
		Core:       core,
		HTTPServer: httpServer,
		Cleanup:    cleanup,
	}, nil
}
