package engine

import (
	"context"
	"database/sql"

	"mysql-mirror/internal/database"
	"mysql-mirror/internal/replication"
	"mysql-mirror/internal/status"
)

// Backup copies every replicable primary table into the backup database,
// one table at a time in name order, and records the outcome in the status
// record. Any table failure fails the whole run. The status record is
// written even when the run fails, as long as the primary is reachable.
func (e *Engine) Backup(ctx context.Context) (*Report, error) {
	ctx, run := e.startRun(ctx, OperationBackup)

	primary, err := e.conns.Primary(ctx)
	if err != nil {
		return run.report, run.finish(err)
	}
	store := e.statusStore(primary)

	err = e.backup(ctx, run, primary, store)

	run.enter(StateWritingStatus, nil)
	e.writeStatus(ctx, store, status.BackupOutcome(e.now(), err))

	return run.report, run.finish(err)
}

func (e *Engine) backup(ctx context.Context, run *run, primary *sql.DB, store *status.Store) (err error) {
	if err := store.EnsureTable(ctx); err != nil {
		e.logger.WithContext(ctx).WithField("error", err.Error()).Warn("Status table is not available")
	}
	if record, err := store.Read(ctx); err != nil {
		e.logger.WithContext(ctx).WithField("error", err.Error()).Warn("Could not read status record")
	} else if record != nil {
		e.logger.WithContext(ctx).WithField("auto_backup", record.IsEnabled).Debug("Status record read")
	}

	backupDB, err := e.conns.Backup(ctx)
	if err != nil {
		return err
	}

	run.enter(StateListing, nil)
	snapshot, err := e.inspector.Inspect(ctx, primary)
	if err != nil {
		return err
	}
	if snapshot.IsEmpty() {
		e.logger.WithContext(ctx).WithField("database", snapshot.Database).Warn("Primary database has no tables to back up")
	}

	conn, err := pin(ctx, backupDB)
	if err != nil {
		return err
	}
	defer conn.Close()

	scope, err := database.DisableForeignKeyChecks(ctx, conn)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := scope.Release(ctx); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}()

	for i, table := range snapshot.Tables() {
		run.enter(StateReplicatingTables, map[string]interface{}{"index": i, "table": table.Name})

		result, err := e.replicator.Replicate(ctx, primary, conn, replication.Request{
			Table:   table,
			Exclude: e.rowFilter(store, table.Name),
		})
		e.observeTable(OperationBackup, result, err)
		if err != nil {
			return err
		}
		run.report.add(result)
	}

	return nil
}
