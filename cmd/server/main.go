package main

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"salvi/app/internal/app/bootstrap"
	"salvi/app/internal/config"
	applog "salvi/app/internal/log"
	"salvi/app/internal/mirror"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return eris.Wrap(err, "failure loading configuration")
	}

	logger, err := applog.NewLogger(cfg.LogLevel)
	if err != nil {
		return eris.Wrap(err, "failure initialising logger")
	}

	sentryHub, flush, err := applog.InitSentry(logger, applog.SentrySettings{
		DSN:            cfg.SentryDSN,
		Environment:    cfg.Environment,
		IdentityHeader: cfg.AuthHeader,
	})
	if err != nil {
		return eris.Wrap(err, "failure initialising sentry")
	}
	defer flush()

	app, err := bootstrap.Build(ctx, bootstrap.Dependencies{
		Config:    cfg,
		Logger:    logger,
		SentryHub: sentryHub,
	})
	if err != nil {
		return eris.Wrap(err, "bootstrapping application")
	}
	defer func() {
		if closeErr := app.Cleanup(); closeErr != nil {
			logger.WithError(closeErr).Error("closing application")
		}
	}()

	if cfg.Sync.Master != "" && cfg.Sync.Schedule != "" {
		if err := startSync(ctx, cfg, app.Core, logger); err != nil {
			return err
		}
	}

	httpServer := &stdhttp.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", cfg.ServerPort),
		Handler:           app.HTTPServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.WithFields(logrus.Fields{
		"addr":       httpServer.Addr,
		"extensions": cfg.Extensions,
	}).Info("starting http server")

	serverErrCh := make(chan error, 1)
	go func() {
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErrCh <- err
		} else {
			serverErrCh <- nil
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErrCh:
		if err != nil {
			return eris.Wrap(err, "http server error")
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "shutting down http server")
	}

	logger.Info("http server shut down cleanly")
	return nil
}

// startSync runs the pull client in the background on the configured schedule.
func startSync(ctx context.Context, cfg *config.Config, core *bootstrap.Core, logger *logrus.Logger) error {
	if err := mirror.ValidateSchedule(cfg.Sync.Schedule); err != nil {
		return eris.Wrap(err, "validating SYNC_SCHEDULE")
	}

	source, err := mirror.NewHTTPSource(cfg.Sync.Master)
	if err != nil {
		return eris.Wrap(err, "configuring sync source")
	}

	syncer, err := mirror.NewSyncer(source, core.Wiki, mirror.NewState(cfg.Sync.StatePath), core.Metrics, logger)
	if err != nil {
		return eris.Wrap(err, "configuring syncer")
	}

	go mirror.Schedule(ctx, syncer, cfg.Sync.Schedule, logger)
	return nil
}
