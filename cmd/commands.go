package cmd

import (
	"context"
	"errors"

	"mysql-mirror/internal/application"
	"mysql-mirror/internal/confirmation"
	"mysql-mirror/internal/display"

	"github.com/spf13/cobra"
)

// errRestoreDeclined is returned when the operator answers no
var errRestoreDeclined = errors.New("restore cancelled")

func newBackupCmd(opts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Copy every primary table into the backup database",
		Long: `Copy the structure and rows of every primary table into the backup database,
replacing the previous copy table by table. The status record row is never
copied. The outcome is written to the status record.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, err := display.ParseFormat(format)
			if err != nil {
				return err
			}

			return opts.run(cmd, func(ctx context.Context, app *application.Application) error {
				report, err := app.Engine().Backup(ctx)
				if renderErr := opts.renderer(cmd, outputFormat).Report(report); renderErr != nil && err == nil {
					return renderErr
				}
				return err
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "output format (table, json, yaml)")
	return cmd
}

func newRestoreCmd(opts *rootOptions) *cobra.Command {
	var (
		format      string
		autoApprove bool
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Replace primary tables with their backup copies",
		Long: `Rebuild every primary table that exists in the backup database from its backup
copy. Each table is built under a staging name and swapped in with one RENAME,
so a failure never leaves a live table missing. Primary tables absent from the
backup are left untouched. The auto-backup toggle survives the restore.

Restore asks for confirmation unless --yes is given, and refuses to run
without --yes when stdin is not a terminal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, err := display.ParseFormat(format)
			if err != nil {
				return err
			}

			return opts.run(cmd, func(ctx context.Context, app *application.Application) error {
				confirm := confirmation.NewConfirmationService(opts.colors(cmd.ErrOrStderr()))
				ok, err := confirm.ConfirmRestore(ctx, app.RestorePlan(ctx), autoApprove)
				if err != nil {
					return err
				}
				if !ok {
					return errRestoreDeclined
				}

				report, err := app.Engine().Restore(ctx)
				if renderErr := opts.renderer(cmd, outputFormat).Report(report); renderErr != nil && err == nil {
					return renderErr
				}
				return err
			})
		},
	}

	cmd.Flags().BoolVarP(&autoApprove, "yes", "y", false, "restore without asking for confirmation")
	cmd.Flags().StringVar(&format, "format", "table", "output format (table, json, yaml)")
	return cmd
}

func newInitCmd(opts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create missing tables in the backup database",
		Long: `Prepare the backup database: create the schema itself when
engine.create_backup_database is set, create the status table in the primary,
and create every primary table missing from the backup, without rows.
Existing tables are left as they are, so init can be run any number of times.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, err := display.ParseFormat(format)
			if err != nil {
				return err
			}

			return opts.run(cmd, func(ctx context.Context, app *application.Application) error {
				report, err := app.Engine().InitializeBackupDatabase(ctx)
				if err != nil {
					return err
				}
				return opts.renderer(cmd, outputFormat).InitReport(report)
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "output format (table, json, yaml)")
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var (
		format      string
		enableAuto  bool
		disableAuto bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status record, optionally switching auto-backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, err := display.ParseFormat(format)
			if err != nil {
				return err
			}

			return opts.run(cmd, func(ctx context.Context, app *application.Application) error {
				if enableAuto || disableAuto {
					if err := app.Engine().SetAutoBackup(ctx, enableAuto); err != nil {
						return err
					}
				}

				st, err := app.Engine().GetStatus(ctx)
				if err != nil {
					return err
				}
				return opts.renderer(cmd, outputFormat).Status(st)
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "output format (table, json, yaml)")
	cmd.Flags().BoolVar(&enableAuto, "enable-auto", false, "turn scheduled backups on")
	cmd.Flags().BoolVar(&disableAuto, "disable-auto", false, "turn scheduled backups off")
	cmd.MarkFlagsMutuallyExclusive("enable-auto", "disable-auto")
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run scheduled backups",
		Long: `Serve the HTTP API:

  POST /api/backup               run a backup
  POST /api/restore              run a restore
  POST /api/init                 create missing backup tables
  GET  /api/status               read the status record
  PUT  /api/status/auto-backup   {"enabled": true|false}
  GET  /healthz                  database versions
  GET  /metrics                  Prometheus metrics

Runs never overlap; a request arriving during a run gets 409 Conflict.
While auto-backup is enabled, a backup starts every server.auto_backup_interval.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, app *application.Application) error {
				return app.Serve(ctx)
			})
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from server.listen)")
	return cmd
}
