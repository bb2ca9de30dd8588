package engine

import (
	"context"
	"fmt"
	"time"

	"mysql-mirror/internal/database"
	"mysql-mirror/internal/errors"
	"mysql-mirror/internal/schema"
)

// InitReport lists what InitializeBackupDatabase did on the backup
type InitReport struct {
	Created  []string `json:"created" yaml:"created"`
	Existing []string `json:"existing" yaml:"existing"`
}

// InitializeBackupDatabase prepares the backup database: the schema is
// created when missing and the provider supports it, the primary status
// table is ensured, and every primary table absent from the backup is
// created there without rows. Existing backup tables are left untouched,
// so calling it again is a no-op.
func (e *Engine) InitializeBackupDatabase(ctx context.Context) (*InitReport, error) {
	ctx, run := e.startRun(ctx, OperationInitialize)
	report := &InitReport{Created: []string{}, Existing: []string{}}
	err := e.initialize(ctx, run, report)
	return report, run.finish(err)
}

func (e *Engine) initialize(ctx context.Context, run *run, report *InitReport) (err error) {
	if e.options.CreateBackupDatabase {
		if creator, ok := e.conns.(BackupDatabaseCreator); ok {
			if err := creator.EnsureBackupDatabase(ctx); err != nil {
				return err
			}
		}
	}

	primary, err := e.conns.Primary(ctx)
	if err != nil {
		return err
	}
	if err := e.statusStore(primary).EnsureTable(ctx); err != nil {
		return err
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
	present, err := e.inspector.ListTables(ctx, backupDB)
	if err != nil {
		return err
	}

	existing := make(map[string]bool, len(present))
	for _, name := range present {
		existing[name] = true
	}

	var missing []*schema.TableDescriptor
	for _, table := range snapshot.Tables() {
		if existing[table.Name] {
			report.Existing = append(report.Existing, table.Name)
			continue
		}
		missing = append(missing, table)
	}
	if len(missing) == 0 {
		e.logger.WithContext(ctx).WithField("tables", len(report.Existing)).Info("Backup database already initialized")
		return nil
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

	for i, table := range missing {
		run.enter(StateCreatingTables, map[string]interface{}{"index": i, "table": table.Name})

		ddl, err := schema.CreateIfNotExists(table.DDL)
		if err != nil {
			return errors.NewSchemaError(fmt.Sprintf("unusable DDL for table %s", table.Name), err)
		}

		startTime := time.Now()
		_, err = conn.ExecContext(ctx, ddl)
		e.logger.LogSQLExecution(ddl, time.Since(startTime), 0, err)
		if err != nil {
			return errors.NewReplicationError(fmt.Sprintf("failed to create table %s", table.Name), err).
				WithContext("table", table.Name)
		}
		report.Created = append(report.Created, table.Name)
	}

	return nil
}
