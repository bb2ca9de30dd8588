package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"mysql-mirror/internal/config"
	"mysql-mirror/internal/confirmation"
	"mysql-mirror/internal/database"
	"mysql-mirror/internal/engine"
	appErrors "mysql-mirror/internal/errors"
	"mysql-mirror/internal/logging"
	"mysql-mirror/internal/metrics"
	"mysql-mirror/internal/server"
)

// Application wires configuration, logging, connections and the engine
type Application struct {
	config          *config.Config
	logger          *logging.Logger
	conns           *database.ConnectionPair
	engine          *engine.Engine
	metrics         *metrics.Collector
	shutdownHandler *appErrors.GracefulShutdownHandler
	listening       bool
	closed          bool
}

// NewApplication creates an application logging to stderr, so that command
// output on stdout stays machine readable
func NewApplication(cfg *config.Config) (*Application, error) {
	logConfig := cfg.Log.LoggerConfig()
	logConfig.Output = os.Stderr

	logger, err := logging.NewLogger(logConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return NewApplicationWithLogger(cfg, logger), nil
}

// NewApplicationWithLogger creates an application with an existing logger.
// No connection is opened until the first run.
func NewApplicationWithLogger(cfg *config.Config, logger *logging.Logger) *Application {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	conns := database.NewConnectionPair(cfg.Primary, cfg.Backup, logger)
	collector := metrics.NewCollector()

	eng := engine.New(conns, engine.Options{
		BatchSize:            cfg.Engine.BatchSize,
		StatusTable:          cfg.Engine.StatusTable,
		StatusKey:            cfg.Engine.StatusKey,
		ExcludeTables:        cfg.Engine.ExcludeTables,
		CreateBackupDatabase: cfg.Engine.CreateBackupDatabase,
		QueryTimeout:         cfg.Primary.Timeout,
	}, logger).WithObserver(collector)

	app := &Application{
		config:          cfg,
		logger:          logger,
		conns:           conns,
		engine:          eng,
		metrics:         collector,
		shutdownHandler: appErrors.NewGracefulShutdownHandler(),
	}
	return app
}

// Engine returns the engine
func (app *Application) Engine() *engine.Engine {
	return app.engine
}

// Logger returns the application logger
func (app *Application) Logger() *logging.Logger {
	return app.logger
}

// Metrics returns the collector observing every run
func (app *Application) Metrics() *metrics.Collector {
	return app.metrics
}

// Context returns a context cancelled on SIGINT/SIGTERM. A cancelled run
// stops at its next statement; connections stay open until Close.
func (app *Application) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	app.shutdownHandler.RegisterShutdownFunc(func() error {
		cancel()
		return nil
	})
	if !app.listening {
		app.shutdownHandler.Start()
		app.listening = true
	}
	return ctx, cancel
}

// Close cancels outstanding contexts, then releases connections and the
// log file. It is safe to call more than once.
func (app *Application) Close() error {
	if app.closed {
		return nil
	}
	app.closed = true

	if app.listening {
		app.shutdownHandler.Stop()
		app.listening = false
	}
	app.shutdownHandler.Shutdown()

	return errors.Join(app.conns.Close(), app.logger.Close())
}

// RestorePlan describes the pending restore for the confirmation prompt.
// An unreadable status record is reported as never backed up.
func (app *Application) RestorePlan(ctx context.Context) confirmation.RestorePlan {
	plan := confirmation.RestorePlan{
		Primary: app.config.Primary.DatabaseName(),
		Backup:  app.config.Backup.DatabaseName(),
	}

	st, err := app.engine.GetStatus(ctx)
	if err != nil {
		app.logger.WithField("error", err.Error()).Warn("Could not read the status record")
		return plan
	}
	plan.LastBackupTime = st.LastBackupTime
	plan.LastBackupOK = st.LastBackupSuccess
	return plan
}

// Serve runs the HTTP server and the auto-backup scheduler until ctx is done
func (app *Application) Serve(ctx context.Context) error {
	runner := server.NewRunner(app.engine)
	srv := server.New(runner, app.logger,
		server.WithHealthChecker(app.conns),
		server.WithMetrics(app.metrics.Handler()),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		server.NewScheduler(runner, app.config.Server.AutoBackupInterval, app.logger).Run(ctx)
	}()

	err := srv.ListenAndServe(ctx, app.config.Server.Listen)
	cancel()
	<-schedulerDone
	return err
}

// HandleError prints a user-facing message and troubleshooting hints to w
// and logs the details
func (app *Application) HandleError(w io.Writer, err error) {
	if err == nil {
		return
	}

	var appErr *appErrors.AppError
	if !errors.As(err, &appErr) {
		appErr = appErrors.NewErrorClassifier().ClassifyError(err)
	}

	fmt.Fprintf(w, "Error: %s\n", appErrors.Describe(err))

	app.logger.WithFields(map[string]interface{}{
		"error_type":  string(appErr.Type),
		"recoverable": appErr.IsRecoverable(),
		"context":     appErr.Context,
	}).Debug("Command failed")

	provideTroubleshootingHints(w, appErr.Type)
}

// provideTroubleshootingHints provides helpful troubleshooting information
func provideTroubleshootingHints(w io.Writer, errorType appErrors.ErrorType) {
	var hints []string

	switch errorType {
	case appErrors.ErrorTypeConnection:
		hints = []string{
			"Check that both database servers are running",
			"Verify the host, port and database of primary and backup",
			"Ensure network connectivity to the database servers",
		}
	case appErrors.ErrorTypePermission:
		hints = []string{
			"Verify the username and password are correct",
			"The backup user needs CREATE, DROP, ALTER and INSERT on the backup database",
			"The primary user needs the same on the primary database to restore",
		}
	case appErrors.ErrorTypeSchema:
		hints = []string{
			"Check that the user can run SHOW TABLES and SHOW CREATE TABLE",
			"Run 'mysql-mirror init' to create missing tables in the backup database",
		}
	case appErrors.ErrorTypeReplication:
		hints = []string{
			"Check free disk space on the destination server",
			"Tables copied before the failure are listed in the report",
			"Re-run the command once the cause is fixed; every run starts from scratch",
		}
	case appErrors.ErrorTypeValidation:
		hints = []string{
			"Check that the database names are correct",
			"Run a backup before restoring",
		}
	case appErrors.ErrorTypeTimeout:
		hints = []string{
			"Try increasing primary.timeout and backup.timeout",
			"Check database server performance",
		}
	default:
		return
	}

	fmt.Fprintf(w, "\nTroubleshooting hints:\n")
	for _, hint := range hints {
		fmt.Fprintf(w, "- %s\n", hint)
	}
}
