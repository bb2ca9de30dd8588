// Package engine orchestrates full-database backup and restore runs between
// a primary and a backup MySQL database.
package engine

import (
	"context"
	"database/sql"
	"time"

	"mysql-mirror/internal/database"
	"mysql-mirror/internal/errors"
	"mysql-mirror/internal/logging"
	"mysql-mirror/internal/replication"
	"mysql-mirror/internal/schema"
	"mysql-mirror/internal/status"

	"github.com/google/uuid"
)

// Operation names, also used as metric and log labels
const (
	OperationBackup     = "backup"
	OperationRestore    = "restore"
	OperationInitialize = "init"
)

// Connections supplies the two databases a run works on
type Connections interface {
	Primary(ctx context.Context) (*sql.DB, error)
	Backup(ctx context.Context) (*sql.DB, error)
}

// BackupDatabaseCreator is implemented by connection providers that can
// create the backup schema itself.
type BackupDatabaseCreator interface {
	EnsureBackupDatabase(ctx context.Context) error
}

// Observer receives run and table events, typically for metrics
type Observer interface {
	RunStarted(operation string)
	RunFinished(operation string, duration time.Duration, err error)
	TableReplicated(operation string, rows int64, duration time.Duration, err error)
	StatusWriteFailed()
}

type nopObserver struct{}

func (nopObserver) RunStarted(string) {}

func (nopObserver) RunFinished(string, time.Duration, error) {}

func (nopObserver) TableReplicated(string, int64, time.Duration, error) {}

func (nopObserver) StatusWriteFailed() {}

// Options tunes an Engine
type Options struct {
	BatchSize            int
	StatusTable          string
	StatusKey            string
	ExcludeTables        []string
	CreateBackupDatabase bool
	QueryTimeout         time.Duration
}

// Engine runs backup, restore and initialization against a connection pair.
// It assumes callers never run two operations at once.
type Engine struct {
	conns      Connections
	inspector  *schema.Inspector
	replicator *replication.Replicator
	logger     *logging.Logger
	observer   Observer
	options    Options
	now        func() time.Time
	newID      func() string
}

// New creates an engine
func New(conns Connections, options Options, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Engine{
		conns: conns,
		inspector: schema.NewInspector(logger).
			WithTimeout(options.QueryTimeout).
			WithExcludePatterns(options.ExcludeTables...),
		replicator: replication.NewReplicator(logger).WithBatchSize(options.BatchSize),
		logger:     logger,
		observer:   nopObserver{},
		options:    options,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// WithObserver attaches an observer
func (e *Engine) WithObserver(observer Observer) *Engine {
	if observer != nil {
		e.observer = observer
	}
	return e
}

func (e *Engine) statusStore(q database.Querier) *status.Store {
	return status.NewStore(q).WithTable(e.options.StatusTable, e.options.StatusKey)
}

// rowFilter returns the filter that keeps the status row out of a copy of table
func (e *Engine) rowFilter(store *status.Store, table string) *replication.RowFilter {
	if table != store.Table() {
		return nil
	}
	column, key := store.Exclusion()
	return &replication.RowFilter{Column: column, Value: key}
}

// pin reserves one session from db. Session settings such as
// FOREIGN_KEY_CHECKS only hold on that session.
func pin(ctx context.Context, db *sql.DB) (*sql.Conn, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, errors.NewConnectionError("failed to reserve a database session", err)
	}
	return conn, nil
}

// writeStatus persists u; failures are logged and counted, never returned
func (e *Engine) writeStatus(ctx context.Context, store *status.Store, u status.Update) {
	ctx = context.WithoutCancel(ctx)
	if err := store.EnsureTable(ctx); err != nil {
		e.statusWriteFailed(ctx, err)
		return
	}
	if err := store.Upsert(ctx, u); err != nil {
		e.statusWriteFailed(ctx, err)
	}
}

func (e *Engine) observeTable(operation string, result *replication.Result, err error) {
	if result == nil {
		e.observer.TableReplicated(operation, 0, 0, err)
		return
	}
	e.observer.TableReplicated(operation, result.CopiedRows, result.Duration, err)
}

func (e *Engine) statusWriteFailed(ctx context.Context, err error) {
	e.observer.StatusWriteFailed()
	e.logger.WithContext(ctx).WithField("error", err.Error()).Error("Failed to write status record")
}

// TableReport summarizes one table of a run
type TableReport struct {
	Name     string        `json:"name" yaml:"name"`
	Target   string        `json:"target,omitempty" yaml:"target,omitempty"`
	Rows     int64         `json:"rows" yaml:"rows"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Report summarizes a backup or restore run. On failure it holds the tables
// completed before the failing one.
type Report struct {
	RunID     string        `json:"run_id" yaml:"run_id"`
	Operation string        `json:"operation" yaml:"operation"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	Tables    []TableReport `json:"tables" yaml:"tables"`
	Skipped   []string      `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Warnings  []string      `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// RowsCopied totals the rows of all completed tables
func (r *Report) RowsCopied() int64 {
	var total int64
	for _, t := range r.Tables {
		total += t.Rows
	}
	return total
}

func (r *Report) add(result *replication.Result) {
	target := result.Target
	if target == result.Table {
		target = ""
	}
	r.Tables = append(r.Tables, TableReport{
		Name:     result.Table,
		Target:   target,
		Rows:     result.CopiedRows,
		Duration: result.Duration,
	})
}
