package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"salvi/app/internal/app/bootstrap"
	"salvi/app/internal/config"
	applog "salvi/app/internal/log"
	"salvi/app/internal/permission"
)

// operator is the identity used when no --as user is given: it may read and
// write everything but owns nothing.
var operator = permission.Identity{Name: "salvictl", Admin: true}

type cli struct {
	dbPath  string
	verbose bool
	as      string
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "salvictl",
		Short:         "Administer a Salvi wiki database",
		Long:          "salvictl migrates the schema, moves pages in and out of a Salvi wiki, pulls changes from a master instance and manages users and groups.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVar(&c.dbPath, "db", "", "database path (defaults to DB_PATH)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable verbose output")
	root.PersistentFlags().StringVar(&c.as, "as", "", "act as this user instead of the operator")

	root.AddCommand(
		c.migrateCmd(),
		c.exportCmd(),
		c.importCmd(),
		c.syncCmd(),
		c.userCmd(),
		c.groupCmd(),
		c.memberCmd(),
	)

	return root
}

func (c *cli) config() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, eris.Wrap(err, "failure loading configuration")
	}
	if c.dbPath != "" {
		cfg.DBPath = c.dbPath
	}
	return cfg, nil
}

func (c *cli) open(cmd *cobra.Command) (*bootstrap.Core, *config.Config, *logrus.Logger, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, nil, nil, err
	}

	logger := applog.NewConsoleLogger(cmd.ErrOrStderr(), c.verbose)
	core, err := bootstrap.Open(cmd.Context(), bootstrap.Dependencies{Config: cfg, Logger: logger})
	if err != nil {
		return nil, nil, nil, err
	}
	return core, cfg, logger, nil
}

func (c *cli) identity(ctx context.Context, core *bootstrap.Core) (permission.Identity, error) {
	if c.as == "" {
		return operator, nil
	}

	identity, err := core.Directory.Lookup(ctx, c.as)
	if err != nil {
		return permission.Identity{}, err
	}
	if identity.Anonymous {
		return permission.Identity{}, eris.Errorf("unknown user %q", c.as)
	}
	return identity, nil
}

func closeCore(core *bootstrap.Core, logger *logrus.Logger) {
	if err := core.Close(); err != nil {
		logger.WithError(err).Error("closing database")
	}
}
