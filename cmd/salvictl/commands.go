package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"salvi/app/internal/mirror"
	"salvi/app/internal/permission"
	"salvi/app/internal/transfer"
)

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			core, cfg, logger, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer closeCore(core, logger)

			fmt.Fprintf(cmd.OutOrStdout(), "schema of %s is up to date\n", cfg.DBPath)
			return nil
		},
	}
}

func (c *cli) exportCmd() *cobra.Command {
	var (
		history bool
		users   bool
		from    string
		out     string
	)

	cmd := &cobra.Command{
		Use:   "export [selector...]",
		Short: "Export pages as JSON",
		Long: `Export pages selected by +<id>, #<tag>, /<slug>/ or a page title.

Selectors come from the arguments, or one per line from --from (use - for stdin).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := strings.Join(args, "\n")
			if from != "" {
				data, err := readInput(cmd, from)
				if err != nil {
					return err
				}
				raw += "\n" + string(data)
			}

			selectors := transfer.ParseSelectors(raw)
			if len(selectors) == 0 {
				return eris.New("no selectors given")
			}

			core, _, logger, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer closeCore(core, logger)

			identity, err := c.identity(cmd.Context(), core)
			if err != nil {
				return err
			}

			doc, err := core.Exporter.Export(cmd.Context(), identity, selectors, transfer.ExportOptions{
				IncludeHistory: history,
				IncludeUsers:   users,
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				file, err := os.Create(out)
				if err != nil {
					return eris.Wrapf(err, "creating %s", out)
				}
				defer file.Close()
				w = file
			}

			encoder := json.NewEncoder(w)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(doc); err != nil {
				return eris.Wrap(err, "writing export")
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d pages\n", len(doc.Pages))
			return nil
		},
	}

	cmd.Flags().BoolVar(&history, "history", false, "include every revision, not only the latest")
	cmd.Flags().BoolVar(&users, "users", false, "include revision authors")
	cmd.Flags().StringVar(&from, "from", "", "read selectors from this file")
	cmd.Flags().StringVarP(&out, "output", "o", "", "write to this file instead of stdout")

	return cmd
}

func (c *cli) importCmd() *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import pages from an export document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			doc, err := transfer.Decode(bytes.NewReader(data))
			if err != nil {
				return err
			}

			core, _, logger, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer closeCore(core, logger)

			identity, err := c.identity(cmd.Context(), core)
			if err != nil {
				return err
			}

			report, err := core.Importer.Import(cmd.Context(), identity, doc, transfer.ImportOptions{OverwriteSlugs: overwrite})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "imported %d pages with %d revisions, %d failed\n", report.Pages, report.Revisions, report.Failed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite-slugs", false, "take slugs away from existing pages")

	return cmd
}

func (c *cli) syncCmd() *cobra.Command {
	var master, statePath, schedule string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull changed pages from a master instance",
		Long:  "Pull changed pages once, or keep pulling on a cron schedule until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			core, cfg, logger, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer closeCore(core, logger)

			if master == "" {
				master = cfg.Sync.Master
			}
			if statePath == "" {
				statePath = cfg.Sync.StatePath
			}
			if schedule == "" {
				schedule = cfg.Sync.Schedule
			}
			if master == "" {
				return eris.New("no master configured: pass --master or set SYNC_MASTER")
			}

			source, err := mirror.NewHTTPSource(master)
			if err != nil {
				return err
			}
			syncer, err := mirror.NewSyncer(source, core.Wiki, mirror.NewState(statePath), core.Metrics, logger)
			if err != nil {
				return err
			}

			if schedule != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "syncing from %s on %q\n", master, schedule)
				return mirror.Schedule(cmd.Context(), syncer, schedule, logger)
			}

			report, err := syncer.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d, skipped %d, failed %d\n", report.Applied, report.Skipped, report.Failed)
			return nil
		},
	}

	cmd.Flags().StringVar(&master, "master", "", "master instance URL (defaults to SYNC_MASTER)")
	cmd.Flags().StringVar(&statePath, "state", "", "high-water mark file (defaults to SYNC_STATE_PATH)")
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron expression; runs once when empty")

	return cmd
}

func (c *cli) userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage users"}

	var admin bool
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a user in the default group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, _, logger, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer closeCore(core, logger)

			created, err := core.Directory.EnsureUser(cmd.Context(), args[0], admin)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %s has id %d\n", created.Name, created.ID)
			return nil
		},
	}
	add.Flags().BoolVar(&admin, "admin", false, "grant every capability everywhere")

	user.AddCommand(add)
	return user
}

func (c *cli) groupCmd() *cobra.Command {
	group := &cobra.Command{Use: "group", Short: "Manage groups"}

	set := &cobra.Command{
		Use:   "set <name> <capabilities>",
		Short: "Create a group or change its baseline capabilities",
		Long:  "Capabilities are a comma separated list of read, edit, create, set_url, set_tags or all.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bits, ok := permission.ParseBits(args[1])
			if !ok {
				return eris.Errorf("unknown capability in %q", args[1])
			}

			core, _, logger, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer closeCore(core, logger)

			saved, err := core.Permissions.SaveGroup(cmd.Context(), args[0], bits)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "group %s: %s\n", saved.Name, saved.Permissions)
			return nil
		},
	}

	group.AddCommand(set)
	return group
}

func (c *cli) memberCmd() *cobra.Command {
	member := &cobra.Command{Use: "member", Short: "Manage group memberships"}

	add := &cobra.Command{
		Use:   "add <user> <group>",
		Short: "Put a user into a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, _, logger, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer closeCore(core, logger)

			identity, err := core.Directory.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if identity.Anonymous {
				return eris.Errorf("unknown user %q", args[0])
			}

			group, err := core.Permissions.GroupByName(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			if group == nil {
				return eris.Errorf("unknown group %q", args[1])
			}

			if err := core.Directory.AddMember(cmd.Context(), identity.ID, group.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is a member of %s\n", identity.Name, group.Name)
			return nil
		},
	}

	member.AddCommand(add)
	return member
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		return data, eris.Wrap(err, "reading stdin")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "reading %s", path)
	}
	return data, nil
}
