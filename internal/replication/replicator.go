package replication

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mysql-mirror/internal/database"
	"mysql-mirror/internal/errors"
	"mysql-mirror/internal/logging"
	"mysql-mirror/internal/schema"
)

const (
	// DefaultBatchSize is the number of rows per INSERT statement
	DefaultBatchSize = 500
	// maxPlaceholders is the server's limit on parameters in one prepared statement
	maxPlaceholders = 65535
)

// RowFilter keeps rows whose Column equals Value out of a copy.
// Comparison is NULL-safe.
type RowFilter struct {
	Column string
	Value  interface{}
}

func (f *RowFilter) clause() (string, []interface{}) {
	if f == nil || f.Column == "" {
		return "", nil
	}
	return " WHERE NOT (" + database.QuoteIdentifier(f.Column) + " <=> ?)", []interface{}{f.Value}
}

// Request describes one table copy
type Request struct {
	Table *schema.TableDescriptor
	// Target is the destination table name; defaults to Table.Name
	Target string
	// DDL creates the target table; defaults to Table.DDL renamed to Target
	DDL     string
	Exclude *RowFilter
}

func (r Request) target() string {
	if r.Target != "" {
		return r.Target
	}
	return r.Table.Name
}

// RowSet is a batch of rows in column order
type RowSet struct {
	Columns []string
	Rows    [][]interface{}
}

// Len returns the number of rows
func (rs *RowSet) Len() int {
	return len(rs.Rows)
}

// Row returns row i keyed by column name
func (rs *RowSet) Row(i int) map[string]interface{} {
	row := make(map[string]interface{}, len(rs.Columns))
	for j, column := range rs.Columns {
		row[column] = rs.Rows[i][j]
	}
	return row
}

// Result summarizes one table copy
type Result struct {
	Table      string
	Target     string
	SourceRows int64
	CopiedRows int64
	Batches    int
	Duration   time.Duration
}

// Replicator copies a table's definition and rows between two databases.
// It does not manage foreign key checks; callers bracket a whole sequence
// of copies with a database.ForeignKeyScope.
type Replicator struct {
	batchSize int
	logger    *logging.Logger
}

// NewReplicator creates a replicator with the default batch size
func NewReplicator(logger *logging.Logger) *Replicator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Replicator{batchSize: DefaultBatchSize, logger: logger}
}

// WithBatchSize sets the rows per INSERT statement
func (r *Replicator) WithBatchSize(size int) *Replicator {
	if size > 0 {
		r.batchSize = size
	}
	return r
}

// BatchSize returns the configured rows per INSERT statement
func (r *Replicator) BatchSize() int {
	return r.batchSize
}

// Replicate makes the destination table an exact copy of the source table:
// the destination is dropped, recreated from the captured DDL and refilled.
// The source cursor is opened first so that an unreadable source leaves the
// destination untouched.
func (r *Replicator) Replicate(ctx context.Context, source, destination database.Querier, req Request) (*Result, error) {
	if req.Table == nil {
		return nil, errors.NewAppError(errors.ErrorTypeValidation, "replication request has no table", nil)
	}
	if err := req.Table.Validate(); err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeValidation, err.Error(), nil)
	}

	startTime := time.Now()
	result := &Result{Table: req.Table.Name, Target: req.target()}

	err := r.replicate(ctx, source, destination, req, result)
	result.Duration = time.Since(startTime)
	r.logger.LogTableReplication(ctx, result.Table, result.Target, result.CopiedRows, result.Duration, err)

	return result, err
}

func (r *Replicator) replicate(ctx context.Context, source, destination database.Querier, req Request, result *Result) error {
	table := req.Table
	where, args := req.Exclude.clause()

	count, err := r.count(ctx, source, table.Name, where, args)
	if err != nil {
		return err
	}
	result.SourceRows = count

	query := "SELECT " + selectList(table) + " FROM " + database.QuoteIdentifier(table.Name) + where + orderBy(table)
	rows, err := source.QueryContext(ctx, query, args...)
	if err != nil {
		return errors.NewReplicationError(fmt.Sprintf("failed to read rows of table %s", table.Name), err).
			WithContext("table", table.Name)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return errors.NewReplicationError(fmt.Sprintf("failed to read columns of table %s", table.Name), err)
	}

	if err := r.recreate(ctx, destination, table, result.Target, req.DDL); err != nil {
		return err
	}

	perStatement := r.rowsPerStatement(len(columns))
	batch := &RowSet{Columns: columns, Rows: make([][]interface{}, 0, perStatement)}

	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return errors.NewReplicationError(fmt.Sprintf("failed to scan row of table %s", table.Name), err)
		}
		batch.Rows = append(batch.Rows, values)

		if batch.Len() == perStatement {
			if err := r.insert(ctx, destination, result, batch); err != nil {
				return err
			}
			batch.Rows = batch.Rows[:0]
		}
	}

	if err := rows.Err(); err != nil {
		return errors.NewReplicationError(fmt.Sprintf("failed while reading rows of table %s", table.Name), err)
	}

	if batch.Len() > 0 {
		if err := r.insert(ctx, destination, result, batch); err != nil {
			return err
		}
	}

	if result.CopiedRows != result.SourceRows {
		r.logger.WithFields(map[string]interface{}{
			"table":       table.Name,
			"source_rows": result.SourceRows,
			"copied_rows": result.CopiedRows,
		}).Warn("Row count changed during copy; source is being written to")
	}

	return nil
}

func (r *Replicator) count(ctx context.Context, source database.Querier, table, where string, args []interface{}) (int64, error) {
	var count int64
	query := "SELECT COUNT(*) FROM " + database.QuoteIdentifier(table) + where
	if err := source.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, errors.NewReplicationError(fmt.Sprintf("failed to count rows of table %s", table), err).
			WithContext("table", table)
	}
	return count, nil
}

// recreate drops the destination table and runs the captured DDL under the target name
func (r *Replicator) recreate(ctx context.Context, destination database.Querier, table *schema.TableDescriptor, target, override string) error {
	ddl := table.DDL
	if override != "" {
		ddl = override
	} else if target != table.Name {
		renamed, err := schema.RenameCreateTable(ddl, target)
		if err != nil {
			return errors.NewReplicationError(fmt.Sprintf("cannot retarget DDL of table %s", table.Name), err)
		}
		ddl = renamed
	}

	if err := r.exec(ctx, destination, "DROP TABLE IF EXISTS "+database.QuoteIdentifier(target)); err != nil {
		return errors.NewReplicationError(fmt.Sprintf("failed to drop table %s", target), err).
			WithContext("table", target)
	}

	if err := r.exec(ctx, destination, ddl); err != nil {
		return errors.NewReplicationError(fmt.Sprintf("failed to create table %s", target), err).
			WithContext("table", target)
	}

	return nil
}

func (r *Replicator) insert(ctx context.Context, destination database.Querier, result *Result, batch *RowSet) error {
	stmt := insertStatement(result.Target, batch.Columns, batch.Len())
	args := make([]interface{}, 0, batch.Len()*len(batch.Columns))
	for _, row := range batch.Rows {
		args = append(args, row...)
	}

	startTime := time.Now()
	res, err := destination.ExecContext(ctx, stmt, args...)
	var affected int64
	if res != nil {
		affected, _ = res.RowsAffected()
	}
	r.logger.LogSQLExecution(stmt, time.Since(startTime), affected, err)

	if err != nil {
		return errors.NewReplicationError(fmt.Sprintf("failed to insert rows into %s", result.Target), err).
			WithContext("table", result.Target).
			WithContext("batch", result.Batches+1)
	}

	result.CopiedRows += int64(batch.Len())
	result.Batches++
	return nil
}

func (r *Replicator) exec(ctx context.Context, q database.Querier, stmt string) error {
	startTime := time.Now()
	_, err := q.ExecContext(ctx, stmt)
	r.logger.LogSQLExecution(logging.SanitizeSQL(stmt), time.Since(startTime), 0, err)
	return err
}

func (r *Replicator) rowsPerStatement(columns int) int {
	n := r.batchSize
	if columns > 0 && n*columns > maxPlaceholders {
		n = maxPlaceholders / columns
	}
	if n < 1 {
		n = 1
	}
	return n
}

// selectList names the insertable columns; generated columns are rejected by INSERT
func selectList(table *schema.TableDescriptor) string {
	if len(table.Columns) == 0 {
		return "*"
	}
	quoted := make([]string, len(table.Columns))
	for i, column := range table.Columns {
		quoted[i] = database.QuoteIdentifier(column)
	}
	return strings.Join(quoted, ", ")
}

func orderBy(table *schema.TableDescriptor) string {
	if !table.HasPrimaryKey() {
		return ""
	}
	quoted := make([]string, len(table.PrimaryKey))
	for i, column := range table.PrimaryKey {
		quoted[i] = database.QuoteIdentifier(column)
	}
	return " ORDER BY " + strings.Join(quoted, ", ")
}

func insertStatement(table string, columns []string, rows int) string {
	quoted := make([]string, len(columns))
	for i, column := range columns {
		quoted[i] = database.QuoteIdentifier(column)
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(database.QuoteIdentifier(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(quoted, ", "))
	b.WriteString(") VALUES ")
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
	}
	return b.String()
}
