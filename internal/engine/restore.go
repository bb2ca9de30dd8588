package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"mysql-mirror/internal/database"
	"mysql-mirror/internal/errors"
	"mysql-mirror/internal/replication"
	"mysql-mirror/internal/schema"
	"mysql-mirror/internal/status"
)

// Restore rebuilds the primary from the backup database. Every table is
// first copied into a staging table, then all of them are swapped in with a
// single RENAME, so the primary moves from its old tables to the restored
// ones in one step and a live table is never empty or half filled. A
// failure before the swap leaves the primary as it was. The reserved status
// row is never taken from the backup: the record read before the run is
// written back together with the restore outcome.
func (e *Engine) Restore(ctx context.Context) (*Report, error) {
	ctx, run := e.startRun(ctx, OperationRestore)

	primary, err := e.conns.Primary(ctx)
	if err != nil {
		return run.report, run.finish(err)
	}
	store := e.statusStore(primary)

	run.enter(StateReadingStatus, nil)
	previous, err := store.Read(ctx)
	if err != nil {
		e.writeStatus(ctx, store, status.RestoreOutcome(e.now(), err))
		return run.report, run.finish(err)
	}

	err = e.restore(ctx, run, primary, store)

	run.enter(StateReinstatingStatus, nil)
	update := status.RestoreOutcome(e.now(), err)
	if previous != nil {
		update = previous.Update().Merge(update)
	}
	e.writeStatus(ctx, store, update)

	return run.report, run.finish(err)
}

// stagedTable is a restored table waiting for the swap
type stagedTable struct {
	*schema.StagingTable
	result *replication.Result
}

// dependent is a primary table outside the backup with foreign keys into it
type dependent struct {
	table string
	keys  []schema.Constraint
}

func (e *Engine) restore(ctx context.Context, run *run, primary *sql.DB, store *status.Store) (err error) {
	backupDB, err := e.conns.Backup(ctx)
	if err != nil {
		return err
	}

	conn, err := pin(ctx, primary)
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

	run.enter(StateDroppingPrimaryTables, nil)
	if err := e.dropArtifacts(ctx, conn); err != nil {
		return err
	}

	run.enter(StateListingBackup, nil)
	snapshot, err := e.inspector.Inspect(ctx, backupDB)
	if err != nil {
		return err
	}
	if snapshot.IsEmpty() {
		return errors.NewAppError(errors.ErrorTypeValidation,
			fmt.Sprintf("backup database %s has no tables to restore", snapshot.Database), nil)
	}

	live, err := e.inspector.ListTables(ctx, conn)
	if err != nil {
		return err
	}
	liveSet := make(map[string]bool, len(live))
	for _, name := range live {
		liveSet[name] = true
		if !snapshot.Has(name) {
			run.report.Skipped = append(run.report.Skipped, name)
		}
	}
	if len(run.report.Skipped) > 0 {
		e.logger.WithContext(ctx).WithField("tables", run.report.Skipped).Warn("Primary tables missing from the backup are left unchanged")
	}

	dependents, err := e.dependents(ctx, conn, run.report.Skipped, snapshot.Has)
	if err != nil {
		return err
	}

	var staged []*stagedTable
	swapped := false
	defer func() {
		if swapped {
			return
		}
		for _, st := range staged {
			e.dropQuietly(ctx, conn, st.Staging)
		}
	}()

	token := run.token()
	for i, table := range snapshot.Tables() {
		run.enter(StateRebuildingTables, map[string]interface{}{"index": i, "table": table.Name})
		st, err := e.stage(ctx, backupDB, conn, store, table, snapshot.Has, token)
		if st != nil {
			staged = append(staged, st)
		}
		if err != nil {
			return err
		}
	}

	run.enter(StateSwappingTables, map[string]interface{}{"tables": len(staged)})
	if err := e.swap(ctx, conn, staged, liveSet); err != nil {
		return err
	}
	swapped = true

	for _, st := range staged {
		st.result.Target = st.Name
		run.report.add(st.result)
	}

	run.enter(StateFinalizingTables, nil)
	e.finalize(ctx, run, conn, staged, liveSet, dependents)
	return nil
}

// dependents captures the foreign keys that skipped tables hold into restored
// tables. The swap carries them over to the retired tables, so they are
// pointed back at the live names afterwards.
func (e *Engine) dependents(ctx context.Context, conn *sql.Conn, skipped []string, restored func(string) bool) ([]dependent, error) {
	var deps []dependent
	for _, table := range skipped {
		ddl, err := e.inspector.CaptureDDL(ctx, conn, table)
		if err != nil {
			return nil, err
		}
		if keys := schema.ForeignKeysTo(ddl, restored); len(keys) > 0 {
			deps = append(deps, dependent{table: table, keys: keys})
		}
	}
	return deps, nil
}

// stage fills the staging copy of table. The staging table is returned
// whenever it may have been created, so that it can be dropped.
func (e *Engine) stage(ctx context.Context, source *sql.DB, conn *sql.Conn, store *status.Store, table *schema.TableDescriptor, restored func(string) bool, token string) (*stagedTable, error) {
	prepared, err := schema.PrepareStaging(table, restored, token)
	if err != nil {
		err = errors.NewReplicationError(fmt.Sprintf("cannot prepare staging table for %s", table.Name), err).
			WithContext("table", table.Name)
		e.observeTable(OperationRestore, nil, err)
		return nil, err
	}

	result, err := e.replicator.Replicate(ctx, source, conn, replication.Request{
		Table:   table,
		Target:  prepared.Staging,
		DDL:     prepared.DDL,
		Exclude: e.rowFilter(store, table.Name),
	})
	e.observeTable(OperationRestore, result, err)
	return &stagedTable{StagingTable: prepared, result: result}, err
}

// swap moves every staging table into place with one RENAME. Live tables
// take their retired names in the same statement.
func (e *Engine) swap(ctx context.Context, conn *sql.Conn, staged []*stagedTable, live map[string]bool) error {
	pairs := make([]string, 0, 2*len(staged))
	for _, st := range staged {
		name := database.QuoteIdentifier(st.Name)
		if live[st.Name] {
			pairs = append(pairs, name+" TO "+database.QuoteIdentifier(schema.RetiredName(st.Name)))
		}
		pairs = append(pairs, database.QuoteIdentifier(st.Staging)+" TO "+name)
	}
	stmt := "RENAME TABLE " + strings.Join(pairs, ", ")

	startTime := time.Now()
	_, err := conn.ExecContext(ctx, stmt)
	e.logger.LogSQLExecution(stmt, time.Since(startTime), 0, err)
	if err != nil {
		return errors.NewReplicationError("failed to swap restored tables into place", err).
			WithContext("tables", len(staged))
	}
	return nil
}

// finalize drops the retired tables, gives constraints back their captured
// names and points skipped tables' foreign keys at the restored tables. The
// restore has already taken effect, so failures here are warnings.
func (e *Engine) finalize(ctx context.Context, run *run, conn *sql.Conn, staged []*stagedTable, live map[string]bool, dependents []dependent) {
	ctx = context.WithoutCancel(ctx)

	for _, st := range staged {
		if !live[st.Name] {
			continue
		}
		retired := schema.RetiredName(st.Name)
		if err := e.execDDL(ctx, conn, "DROP TABLE IF EXISTS "+database.QuoteIdentifier(retired)); err != nil {
			run.warn(fmt.Sprintf("failed to drop retired table %s; it is removed on the next restore", retired), err)
		}
	}

	for _, st := range staged {
		for i, c := range st.Constraints {
			temporary := st.TemporaryNames[i]
			if err := e.execDDL(ctx, conn, schema.DropConstraint(st.Name, temporary, c.ForeignKey)); err != nil {
				run.warn(fmt.Sprintf("failed to rename constraint %s of table %s; it keeps the name %s", c.Name, st.Name, temporary), err)
				continue
			}
			if err := e.execDDL(ctx, conn, schema.AddConstraint(st.Name, c)); err != nil {
				run.warn(fmt.Sprintf("failed to restore constraint %s of table %s", c.Name, st.Name), err)
			}
		}
	}

	for _, dep := range dependents {
		for _, key := range dep.keys {
			if err := e.execDDL(ctx, conn, schema.DropConstraint(dep.table, key.Name, true)); err != nil {
				run.warn(fmt.Sprintf("foreign key %s of table %s still references the retired %s", key.Name, dep.table, key.ReferencedTable()), err)
				continue
			}
			if err := e.execDDL(ctx, conn, schema.AddConstraint(dep.table, key)); err != nil {
				run.warn(fmt.Sprintf("failed to recreate foreign key %s of table %s", key.Name, dep.table), err)
			}
		}
	}
}

func (e *Engine) execDDL(ctx context.Context, conn *sql.Conn, stmt string) error {
	startTime := time.Now()
	_, err := conn.ExecContext(ctx, stmt)
	e.logger.LogSQLExecution(stmt, time.Since(startTime), 0, err)
	return err
}

// dropArtifacts removes staging and retired tables left by an interrupted restore
func (e *Engine) dropArtifacts(ctx context.Context, conn *sql.Conn) error {
	artifacts, err := e.inspector.ListArtifacts(ctx, conn)
	if err != nil {
		return err
	}
	for _, name := range artifacts {
		if _, err := conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+database.QuoteIdentifier(name)); err != nil {
			return errors.NewReplicationError(fmt.Sprintf("failed to drop leftover table %s", name), err).
				WithContext("table", name)
		}
		e.logger.WithContext(ctx).WithField("table", name).Info("Dropped leftover restore table")
	}
	return nil
}

func (e *Engine) dropQuietly(ctx context.Context, conn *sql.Conn, table string) {
	if _, err := conn.ExecContext(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS "+database.QuoteIdentifier(table)); err != nil {
		e.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"table": table,
			"error": err.Error(),
		}).Warn("Failed to drop staging table")
	}
}
