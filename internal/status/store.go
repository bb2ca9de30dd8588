// Package status persists the single backup status record in the primary database.
package status

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"mysql-mirror/internal/database"
	"mysql-mirror/internal/errors"

	"github.com/go-sql-driver/mysql"
)

const (
	// DefaultTable is the status table name
	DefaultTable = "backup_status"
	// DefaultKey is the reserved primary key value of the status row
	DefaultKey = "__backup_status__"
	// keyColumn is the primary key column of the status table
	keyColumn = "id"

	errNoSuchTable = 1146
)

// Record is the persisted status of the backup system
type Record struct {
	IsEnabled          bool       `json:"is_enabled" yaml:"is_enabled"`
	LastBackupTime     *time.Time `json:"last_backup_time,omitempty" yaml:"last_backup_time,omitempty"`
	LastBackupSuccess  *bool      `json:"last_backup_success,omitempty" yaml:"last_backup_success,omitempty"`
	LastBackupError    string     `json:"last_backup_error,omitempty" yaml:"last_backup_error,omitempty"`
	LastRestoreTime    *time.Time `json:"last_restore_time,omitempty" yaml:"last_restore_time,omitempty"`
	LastRestoreSuccess *bool      `json:"last_restore_success,omitempty" yaml:"last_restore_success,omitempty"`
	LastRestoreError   string     `json:"last_restore_error,omitempty" yaml:"last_restore_error,omitempty"`
	UpdatedAt          *time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// Update is a partial record; nil fields are left as stored
type Update struct {
	IsEnabled          *bool
	LastBackupTime     *time.Time
	LastBackupSuccess  *bool
	LastBackupError    *string
	LastRestoreTime    *time.Time
	LastRestoreSuccess *bool
	LastRestoreError   *string
}

// Update returns the full record as an update, for reinstating it verbatim
func (r *Record) Update() Update {
	return Update{
		IsEnabled:          Bool(r.IsEnabled),
		LastBackupTime:     r.LastBackupTime,
		LastBackupSuccess:  r.LastBackupSuccess,
		LastBackupError:    String(r.LastBackupError),
		LastRestoreTime:    r.LastRestoreTime,
		LastRestoreSuccess: r.LastRestoreSuccess,
		LastRestoreError:   String(r.LastRestoreError),
	}
}

// BackupOutcome builds the update written after a backup run
func BackupOutcome(at time.Time, err error) Update {
	return Update{
		LastBackupTime:    Time(at),
		LastBackupSuccess: Bool(err == nil),
		LastBackupError:   String(errors.Describe(err)),
	}
}

// RestoreOutcome builds the update written after a restore run
func RestoreOutcome(at time.Time, err error) Update {
	return Update{
		LastRestoreTime:    Time(at),
		LastRestoreSuccess: Bool(err == nil),
		LastRestoreError:   String(errors.Describe(err)),
	}
}

// Merge overlays the set fields of other onto u
func (u Update) Merge(other Update) Update {
	if other.IsEnabled != nil {
		u.IsEnabled = other.IsEnabled
	}
	if other.LastBackupTime != nil {
		u.LastBackupTime = other.LastBackupTime
	}
	if other.LastBackupSuccess != nil {
		u.LastBackupSuccess = other.LastBackupSuccess
	}
	if other.LastBackupError != nil {
		u.LastBackupError = other.LastBackupError
	}
	if other.LastRestoreTime != nil {
		u.LastRestoreTime = other.LastRestoreTime
	}
	if other.LastRestoreSuccess != nil {
		u.LastRestoreSuccess = other.LastRestoreSuccess
	}
	if other.LastRestoreError != nil {
		u.LastRestoreError = other.LastRestoreError
	}
	return u
}

// IsEmpty reports whether no field is set
func (u Update) IsEmpty() bool {
	return len(u.assignments()) == 0
}

type assignment struct {
	column string
	value  interface{}
}

// assignments lists the set fields in a fixed column order
func (u Update) assignments() []assignment {
	var out []assignment
	if u.IsEnabled != nil {
		out = append(out, assignment{"is_enabled", *u.IsEnabled})
	}
	if u.LastBackupTime != nil {
		out = append(out, assignment{"last_backup_time", u.LastBackupTime.UTC()})
	}
	if u.LastBackupSuccess != nil {
		out = append(out, assignment{"last_backup_success", *u.LastBackupSuccess})
	}
	if u.LastBackupError != nil {
		out = append(out, assignment{"last_backup_error", nullable(*u.LastBackupError)})
	}
	if u.LastRestoreTime != nil {
		out = append(out, assignment{"last_restore_time", u.LastRestoreTime.UTC()})
	}
	if u.LastRestoreSuccess != nil {
		out = append(out, assignment{"last_restore_success", *u.LastRestoreSuccess})
	}
	if u.LastRestoreError != nil {
		out = append(out, assignment{"last_restore_error", nullable(*u.LastRestoreError)})
	}
	return out
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Bool returns a pointer to b
func Bool(b bool) *bool { return &b }

// String returns a pointer to s
func String(s string) *string { return &s }

// Time returns a pointer to t
func Time(t time.Time) *time.Time { return &t }

// Store reads and writes the status record. It lives in the primary only.
type Store struct {
	q     database.Querier
	table string
	key   string
}

// NewStore creates a store over q using the default table and key
func NewStore(q database.Querier) *Store {
	return &Store{q: q, table: DefaultTable, key: DefaultKey}
}

// WithTable overrides the table and key; empty values keep the defaults
func (s *Store) WithTable(table, key string) *Store {
	if table != "" {
		s.table = table
	}
	if key != "" {
		s.key = key
	}
	return s
}

// Table returns the status table name
func (s *Store) Table() string {
	return s.table
}

// Exclusion returns the column and value that identify the status row
func (s *Store) Exclusion() (string, string) {
	return keyColumn, s.key
}

// EnsureTable creates the status table when it does not exist
func (s *Store) EnsureTable(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS ` + database.QuoteIdentifier(s.table) + ` (
		id VARCHAR(64) NOT NULL,
		is_enabled TINYINT(1) NOT NULL DEFAULT 0,
		last_backup_time DATETIME(6) NULL,
		last_backup_success TINYINT(1) NULL,
		last_backup_error TEXT NULL,
		last_restore_time DATETIME(6) NULL,
		last_restore_success TINYINT(1) NULL,
		last_restore_error TEXT NULL,
		updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
		PRIMARY KEY (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

	if _, err := s.q.ExecContext(ctx, stmt); err != nil {
		return errors.NewStatusError(fmt.Sprintf("failed to create status table %s", s.table), err)
	}
	return nil
}

// Read returns the stored record, or nil when there is none yet
func (s *Store) Read(ctx context.Context) (*Record, error) {
	query := `
		SELECT is_enabled, last_backup_time, last_backup_success, last_backup_error,
			last_restore_time, last_restore_success, last_restore_error, updated_at
		FROM ` + database.QuoteIdentifier(s.table) + `
		WHERE id = ?
	`

	var (
		record                        Record
		backupTime, restoreTime       mysql.NullTime
		updatedAt                     mysql.NullTime
		backupSuccess, restoreSuccess sql.NullBool
		backupError, restoreError     sql.NullString
	)

	err := s.q.QueryRowContext(ctx, query, s.key).Scan(
		&record.IsEnabled,
		&backupTime,
		&backupSuccess,
		&backupError,
		&restoreTime,
		&restoreSuccess,
		&restoreError,
		&updatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) || isNoSuchTable(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStatusError("failed to read status record", err)
	}

	record.LastBackupTime = timePtr(backupTime)
	record.LastBackupSuccess = boolPtr(backupSuccess)
	record.LastBackupError = backupError.String
	record.LastRestoreTime = timePtr(restoreTime)
	record.LastRestoreSuccess = boolPtr(restoreSuccess)
	record.LastRestoreError = restoreError.String
	record.UpdatedAt = timePtr(updatedAt)

	return &record, nil
}

// Upsert writes the set fields of u, creating the record if needed.
// Fields not set in u keep their stored values.
func (s *Store) Upsert(ctx context.Context, u Update) error {
	assignments := u.assignments()

	columns := []string{database.QuoteIdentifier(keyColumn)}
	placeholders := []string{"?"}
	args := []interface{}{s.key}
	updates := make([]string, 0, len(assignments)+1)

	for _, a := range assignments {
		quoted := database.QuoteIdentifier(a.column)
		columns = append(columns, quoted)
		placeholders = append(placeholders, "?")
		args = append(args, a.value)
		updates = append(updates, quoted+" = VALUES("+quoted+")")
	}
	updates = append(updates, "`updated_at` = CURRENT_TIMESTAMP(6)")

	stmt := "INSERT INTO " + database.QuoteIdentifier(s.table) +
		" (" + strings.Join(columns, ", ") + ") VALUES (" + strings.Join(placeholders, ", ") + ")" +
		" ON DUPLICATE KEY UPDATE " + strings.Join(updates, ", ")

	if _, err := s.q.ExecContext(ctx, stmt, args...); err != nil {
		return errors.NewStatusError("failed to write status record", err)
	}
	return nil
}

func isNoSuchTable(err error) bool {
	var mysqlErr *mysql.MySQLError
	return stderrors.As(err, &mysqlErr) && mysqlErr.Number == errNoSuchTable
}

func timePtr(t mysql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func boolPtr(b sql.NullBool) *bool {
	if !b.Valid {
		return nil
	}
	v := b.Bool
	return &v
}
