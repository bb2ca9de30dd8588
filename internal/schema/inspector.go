package schema

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"strings"
	"time"

	"mysql-mirror/internal/database"
	"mysql-mirror/internal/errors"
	"mysql-mirror/internal/logging"
)

// DefaultExcludePatterns names the bookkeeping tables of common migration
// tools. They describe the schema history of one database and must not be
// copied over another's.
var DefaultExcludePatterns = []string{
	"knex_migrations*",
	"SequelizeMeta",
	"_prisma_migrations",
	"schema_migrations",
	"goose_db_version",
	"flyway_schema_history",
	"__drizzle_migrations",
}

// Inspector enumerates tables and captures their definitions
type Inspector struct {
	queryTimeout time.Duration
	exclude      []string
	logger       *logging.Logger
}

// NewInspector creates a new schema inspector
func NewInspector(logger *logging.Logger) *Inspector {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	exclude := make([]string, len(DefaultExcludePatterns))
	copy(exclude, DefaultExcludePatterns)
	return &Inspector{
		queryTimeout: 30 * time.Second,
		exclude:      exclude,
		logger:       logger,
	}
}

// WithTimeout sets the per-query timeout
func (i *Inspector) WithTimeout(timeout time.Duration) *Inspector {
	if timeout > 0 {
		i.queryTimeout = timeout
	}
	return i
}

// WithExcludePatterns adds glob patterns of tables to skip
func (i *Inspector) WithExcludePatterns(patterns ...string) *Inspector {
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			i.exclude = append(i.exclude, p)
		}
	}
	return i
}

// Excluded reports whether a table is reserved and must not be replicated.
// Matching is case-insensitive since lower_case_table_names varies by server.
func (i *Inspector) Excluded(name string) bool {
	if IsArtifact(name) {
		return true
	}
	lower := strings.ToLower(name)
	for _, pattern := range i.exclude {
		if ok, err := path.Match(strings.ToLower(pattern), lower); err == nil && ok {
			return true
		}
	}
	return false
}

// ListTables returns the base tables of the connected schema in name order,
// minus reserved tables.
func (i *Inspector) ListTables(ctx context.Context, q database.Querier) ([]string, error) {
	names, err := i.listAll(ctx, q)
	if err != nil {
		return nil, err
	}

	tables := make([]string, 0, len(names))
	for _, name := range names {
		if i.Excluded(name) {
			i.logger.WithField("table", name).Debug("Skipping reserved table")
			continue
		}
		tables = append(tables, name)
	}
	return tables, nil
}

// ListArtifacts returns leftover staging and retired tables from interrupted restores
func (i *Inspector) ListArtifacts(ctx context.Context, q database.Querier) ([]string, error) {
	names, err := i.listAll(ctx, q)
	if err != nil {
		return nil, err
	}

	var artifacts []string
	for _, name := range names {
		if IsArtifact(name) {
			artifacts = append(artifacts, name)
		}
	}
	return artifacts, nil
}

func (i *Inspector) listAll(ctx context.Context, q database.Querier) ([]string, error) {
	query := `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME
	`

	ctx, cancel := context.WithTimeout(ctx, i.queryTimeout)
	defer cancel()

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.NewSchemaError("failed to query tables", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.NewSchemaError("failed to scan table name", err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewSchemaError("error iterating table rows", err)
	}

	return names, nil
}

// CaptureDDL returns the exact CREATE TABLE statement of a table
func (i *Inspector) CaptureDDL(ctx context.Context, q database.Querier, table string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, i.queryTimeout)
	defer cancel()

	var name, ddl string
	err := q.QueryRowContext(ctx, "SHOW CREATE TABLE "+database.QuoteIdentifier(table)).Scan(&name, &ddl)
	if err != nil {
		return "", errors.NewSchemaError(fmt.Sprintf("failed to capture DDL for table %s", table), err).
			WithContext("table", table)
	}

	if strings.TrimSpace(ddl) == "" {
		return "", errors.NewSchemaError(fmt.Sprintf("empty DDL returned for table %s", table), nil).
			WithContext("table", table)
	}

	return ddl, nil
}

// PrimaryKey returns the primary key columns of a table in index order
func (i *Inspector) PrimaryKey(ctx context.Context, q database.Querier, table string) ([]string, error) {
	query := `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.STATISTICS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND INDEX_NAME = 'PRIMARY'
		ORDER BY SEQ_IN_INDEX
	`

	ctx, cancel := context.WithTimeout(ctx, i.queryTimeout)
	defer cancel()

	rows, err := q.QueryContext(ctx, query, table)
	if err != nil {
		return nil, errors.NewSchemaError(fmt.Sprintf("failed to query primary key for table %s", table), err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var column string
		if err := rows.Scan(&column); err != nil {
			return nil, errors.NewSchemaError("failed to scan primary key column", err)
		}
		columns = append(columns, column)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewSchemaError("error iterating primary key rows", err)
	}

	return columns, nil
}

// Columns returns the columns of a table that accept explicit values, in
// table order. VIRTUAL and STORED generated columns are left out; columns
// with an expression default are kept.
func (i *Inspector) Columns(ctx context.Context, q database.Querier, table string) ([]string, error) {
	query := `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
			AND (EXTRA NOT LIKE '%GENERATED%' OR EXTRA LIKE '%DEFAULT_GENERATED%')
		ORDER BY ORDINAL_POSITION
	`

	ctx, cancel := context.WithTimeout(ctx, i.queryTimeout)
	defer cancel()

	rows, err := q.QueryContext(ctx, query, table)
	if err != nil {
		return nil, errors.NewSchemaError(fmt.Sprintf("failed to query columns for table %s", table), err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var column string
		if err := rows.Scan(&column); err != nil {
			return nil, errors.NewSchemaError("failed to scan column name", err)
		}
		columns = append(columns, column)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewSchemaError("error iterating column rows", err)
	}

	if len(columns) == 0 {
		return nil, errors.NewSchemaError(fmt.Sprintf("table %s has no insertable columns", table), nil).
			WithContext("table", table)
	}

	return columns, nil
}

// Describe captures the descriptor of one table
func (i *Inspector) Describe(ctx context.Context, q database.Querier, table string) (*TableDescriptor, error) {
	ddl, err := i.CaptureDDL(ctx, q, table)
	if err != nil {
		return nil, err
	}

	pk, err := i.PrimaryKey(ctx, q, table)
	if err != nil {
		return nil, err
	}

	columns, err := i.Columns(ctx, q, table)
	if err != nil {
		return nil, err
	}

	return &TableDescriptor{Name: table, DDL: ddl, PrimaryKey: pk, Columns: columns}, nil
}

// Inspect lists and describes every replicable table. Any catalog failure
// fails the whole call; a partial snapshot is never returned.
func (i *Inspector) Inspect(ctx context.Context, q database.Querier) (*Snapshot, error) {
	startTime := time.Now()

	current, err := i.CurrentDatabase(ctx, q)
	if err != nil {
		return nil, err
	}

	names, err := i.ListTables(ctx, q)
	if err != nil {
		i.logger.LogSchemaInspection(ctx, current, 0, time.Since(startTime), err)
		return nil, err
	}

	snapshot := NewSnapshot(current)
	for _, name := range names {
		table, err := i.Describe(ctx, q, name)
		if err != nil {
			i.logger.LogSchemaInspection(ctx, current, 0, time.Since(startTime), err)
			return nil, err
		}
		snapshot.Add(table)
	}

	i.logger.LogSchemaInspection(ctx, current, snapshot.Len(), time.Since(startTime), nil)
	return snapshot, nil
}

// CurrentDatabase retrieves the schema the connection is bound to
func (i *Inspector) CurrentDatabase(ctx context.Context, q database.Querier) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, i.queryTimeout)
	defer cancel()

	var name sql.NullString
	if err := q.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&name); err != nil {
		return "", errors.NewSchemaError("failed to get current schema", err)
	}

	if !name.Valid || name.String == "" {
		return "", errors.NewSchemaError("no schema selected", nil)
	}

	return name.String, nil
}
