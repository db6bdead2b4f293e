package mirror

import (
	"context"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

const retryDelay = 30 * time.Second

// ValidateSchedule reports whether expr is a cron expression gronx accepts.
func ValidateSchedule(expr string) error {
	gron := gronx.New()
	if !gron.IsValid(expr) {
		return eris.Errorf("invalid sync schedule: %q", expr)
	}
	return nil
}

// Schedule runs the syncer on every tick of the cron expression until ctx is
// cancelled. Failed polls are logged and retried on the next tick.
func Schedule(ctx context.Context, syncer *Syncer, expr string, logger *logrus.Logger) error {
	if err := ValidateSchedule(expr); err != nil {
		return err
	}

	for {
		next, err := gronx.NextTickAfter(expr, time.Now(), false)
		if err != nil {
			if logger != nil {
				logger.WithFields(logrus.Fields{"component": "sync", "cron": expr, "error": err.Error()}).Error("computing next sync tick failed")
			}
			select {
			case <-time.After(retryDelay):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil
		}

		if _, err := syncer.Run(ctx); err != nil && ctx.Err() == nil && logger != nil {
			logger.WithFields(logrus.Fields{"component": "sync", "error": err.Error()}).Error("scheduled sync failed")
		}
	}
}
