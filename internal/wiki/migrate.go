package wiki

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salvi/app/internal/content"
	"salvi/app/internal/links"
	"salvi/app/internal/permission"
	"salvi/app/internal/revision"
)

// Models lists every table of the wiki schema.
func Models() []any {
	return []any{
		&content.Blob{},
		&revision.Revision{},
		&links.Link{},
		&permission.User{},
		&permission.Group{},
		&permission.Membership{},
		&permission.Override{},
		&Page{},
		&Tag{},
		&Property{},
	}
}

// Migrate applies the wiki schema using Gorm's AutoMigrate, seeds the default
// group and logs progress.
func Migrate(ctx context.Context, db *gorm.DB, logger *logrus.Logger) error {
	if db == nil {
		return eris.New("gorm DB is required")
	}

	logFields := logrus.Fields{"component": "wiki.migrate"}
	if logger != nil {
		logger.WithFields(logFields).Info("applying wiki schema")
	}

	if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		if logger != nil {
			logger.WithFields(logFields).WithField("error", err.Error()).Error("wiki schema migration failed")
		}
		return eris.Wrap(err, "auto migrating wiki schema")
	}

	engine, err := permission.NewEngine(db, logger)
	if err != nil {
		return eris.Wrap(err, "creating permission engine for seeding")
	}

	group, err := engine.EnsureDefaultGroup(ctx)
	if err != nil {
		if logger != nil {
			logger.WithFields(logFields).WithField("error", err.Error()).Error("seeding default group failed")
		}
		return eris.Wrap(err, "seeding default group")
	}

	if logger != nil {
		logger.WithFields(logFields).WithField("default_group", group.Name).Info("wiki schema migration complete")
	}

	return nil
}
