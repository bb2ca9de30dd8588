package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"mysql-mirror/internal/application"
	"mysql-mirror/internal/config"
	"mysql-mirror/internal/display"
	"mysql-mirror/internal/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootOptions holds the persistent flags shared by every subcommand
type rootOptions struct {
	configFile string
	envFiles   []string
	primaryDSN string
	backupDSN  string
	logLevel   string
	logFormat  string
	noColor    bool
	theme      string
}

// flagKeys maps flags onto configuration keys
var flagKeys = map[string]string{
	"primary-dsn": "primary.dsn",
	"backup-dsn":  "backup.dsn",
	"log-level":   "log.level",
	"log-format":  "log.format",
	"listen":      "server.listen",
}

// reportedError marks an error already printed with troubleshooting hints
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

// Execute adds all child commands to the root command and runs it.
// This is called by main.main().
func Execute() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		var reported reportedError
		if !errors.As(err, &reported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "mysql-mirror",
		Short: "Mirror a MySQL database into a backup database and restore it back",
		Long: `mysql-mirror copies every table of a primary MySQL database, structure and rows,
into a backup database, and restores the primary from that backup on demand.

A status record kept in the primary tracks the last backup and restore and
whether scheduled backups are enabled. It is never copied or overwritten.

Examples:
  # Create missing tables in the backup database
  mysql-mirror init

  # Copy the primary into the backup database
  mysql-mirror backup

  # Replace primary tables with their backup copies
  mysql-mirror restore --yes

  # Show the status record as JSON
  mysql-mirror status --format=json

  # Serve the HTTP API with scheduled backups
  mysql-mirror serve`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (default is $HOME/.mysql-mirror.yaml)")
	flags.StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, ".env files to load; missing files are skipped")
	flags.StringVar(&opts.primaryDSN, "primary-dsn", "", "primary database DSN (user:pass@tcp(host:3306)/db)")
	flags.StringVar(&opts.backupDSN, "backup-dsn", "", "backup database DSN")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: quiet, normal, verbose, debug")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable color output")
	flags.StringVar(&opts.theme, "theme", "dark", "color theme (dark, light, high-contrast, plain)")

	rootCmd.AddCommand(
		newBackupCmd(opts),
		newRestoreCmd(opts),
		newInitCmd(opts),
		newStatusCmd(opts),
		newServeCmd(opts),
		createVersionCommand(),
		createConfigCommand(),
	)
	return rootCmd
}

// loadConfig resolves flags > environment (.env included) > config file > defaults
func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := config.LoadDotEnv(o.envFiles...); err != nil {
		return nil, err
	}

	v, err := config.NewViper(o.configFile)
	if err != nil {
		return nil, err
	}
	if err := bindFlags(v, cmd); err != nil {
		return nil, err
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	level := logging.ParseLevel(strings.ToLower(cfg.Log.Level))
	if used := v.ConfigFileUsed(); used != "" && (level == logging.LogLevelVerbose || level == logging.LogLevelDebug) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Using config file:", used)
	}
	return cfg, nil
}

// bindFlags binds only flags set on the command line so that unset flags
// never shadow the environment or the config file
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	return nil
}

// run loads the configuration, wires the application and runs fn with a
// context cancelled on SIGINT/SIGTERM. Errors from fn are printed with
// troubleshooting hints.
func (o *rootOptions) run(cmd *cobra.Command, fn func(ctx context.Context, app *application.Application) error) error {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return err
	}

	app, err := application.NewApplication(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := app.Context(cmd.Context())
	defer cancel()

	if err := fn(ctx, app); err != nil {
		app.HandleError(cmd.ErrOrStderr(), err)
		return reportedError{err}
	}
	return nil
}

// renderer writes to the command's stdout, colored only when that is a terminal
func (o *rootOptions) renderer(cmd *cobra.Command, format display.OutputFormat) *display.Renderer {
	return display.NewRenderer(cmd.OutOrStdout(), format, o.colors(cmd.OutOrStdout()))
}

func (o *rootOptions) colors(w io.Writer) display.ColorSystem {
	file, ok := w.(*os.File)
	if o.noColor || !ok {
		return display.NewPlainColorSystem()
	}
	return display.NewColorSystem(display.GetThemeByName(o.theme), file)
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Long:  "Print the version information for mysql-mirror",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mysql-mirror version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}

// createConfigCommand creates the config subcommand for generating sample config
func createConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Generate a sample configuration file",
		Long: `Generate a sample configuration file that can be used with the --config flag.

Examples:
  mysql-mirror config > ~/.mysql-mirror.yaml`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), config.Sample)
		},
	}
}
