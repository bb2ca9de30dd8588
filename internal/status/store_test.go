package status

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"testing"
	"time"

	"mysql-mirror/internal/errors"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var readColumns = []string{
	"is_enabled", "last_backup_time", "last_backup_success", "last_backup_error",
	"last_restore_time", "last_restore_success", "last_restore_error", "updated_at",
}

func newStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestEnsureTable(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS `backup_status`")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.EnsureTable(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureTable_Failure(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnError(fmt.Errorf("read only"))

	err := store.EnsureTable(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeStatus, errors.GetErrorType(err))
}

func TestRead(t *testing.T) {
	store, mock := newStore(t)
	backupAt := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT is_enabled, .* FROM `backup_status` WHERE id = \\?").
		WithArgs(DefaultKey).
		WillReturnRows(sqlmock.NewRows(readColumns).
			AddRow(true, backupAt, false, "table images: disk full", nil, nil, nil, []byte("2024-05-01 03:00:01.000000")))

	record, err := store.Read(context.Background())
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.True(t, record.IsEnabled)
	require.NotNil(t, record.LastBackupTime)
	assert.True(t, backupAt.Equal(*record.LastBackupTime))
	require.NotNil(t, record.LastBackupSuccess)
	assert.False(t, *record.LastBackupSuccess)
	assert.Equal(t, "table images: disk full", record.LastBackupError)
	assert.Nil(t, record.LastRestoreTime)
	assert.Nil(t, record.LastRestoreSuccess)
	assert.Empty(t, record.LastRestoreError)
	require.NotNil(t, record.UpdatedAt)
	assert.Equal(t, 1, record.UpdatedAt.Second())
}

func TestRead_Absent(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"no row", sql.ErrNoRows},
		{"no table", &mysql.MySQLError{Number: 1146, Message: "Table 'app.backup_status' doesn't exist"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newStore(t)
			mock.ExpectQuery("SELECT is_enabled").WillReturnError(tt.err)

			record, err := store.Read(context.Background())
			require.NoError(t, err)
			assert.Nil(t, record)
		})
	}
}

func TestRead_Failure(t *testing.T) {
	store, mock := newStore(t)
	mock.ExpectQuery("SELECT is_enabled").WillReturnError(&mysql.MySQLError{Number: 1045, Message: "Access denied"})

	record, err := store.Read(context.Background())
	require.Error(t, err)
	assert.Nil(t, record)
	assert.Equal(t, errors.ErrorTypeStatus, errors.GetErrorType(err))
}

func TestUpsert_WritesOnlySetFields(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectExec(regexp.QuoteMeta(
		"INSERT INTO `backup_status` (`id`, `is_enabled`) VALUES (?, ?) " +
			"ON DUPLICATE KEY UPDATE `is_enabled` = VALUES(`is_enabled`), `updated_at` = CURRENT_TIMESTAMP(6)")).
		WithArgs(DefaultKey, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Upsert(context.Background(), Update{IsEnabled: Bool(true)}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_BackupOutcome(t *testing.T) {
	store, mock := newStore(t)
	at := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(
		"INSERT INTO `backup_status` (`id`, `last_backup_time`, `last_backup_success`, `last_backup_error`) VALUES (?, ?, ?, ?)")).
		WithArgs(DefaultKey, at, false, "replication: boom").
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := store.Upsert(context.Background(), BackupOutcome(at, errors.NewReplicationError("boom", nil)))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_SuccessClearsError(t *testing.T) {
	store, mock := newStore(t)
	at := time.Date(2024, 5, 2, 3, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO `backup_status`").
		WithArgs(DefaultKey, at, true, nil).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, store.Upsert(context.Background(), BackupOutcome(at, nil)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_Failure(t *testing.T) {
	store, mock := newStore(t)
	mock.ExpectExec("INSERT INTO").WillReturnError(fmt.Errorf("deadlock"))

	err := store.Upsert(context.Background(), Update{IsEnabled: Bool(false)})
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeStatus, errors.GetErrorType(err))
}

func TestCustomTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db).WithTable("mirror_state", "singleton")
	assert.Equal(t, "mirror_state", store.Table())
	column, key := store.Exclusion()
	assert.Equal(t, "id", column)
	assert.Equal(t, "singleton", key)

	mock.ExpectQuery("FROM `mirror_state`").WithArgs("singleton").WillReturnError(sql.ErrNoRows)
	record, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Nil(t, record)

	store.WithTable("", "")
	assert.Equal(t, "mirror_state", store.Table(), "empty overrides keep current values")
}

func TestRecordUpdate_RoundTrip(t *testing.T) {
	at := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)
	record := &Record{
		IsEnabled:         true,
		LastBackupTime:    &at,
		LastBackupSuccess: Bool(true),
	}

	u := record.Update()
	require.NotNil(t, u.IsEnabled)
	assert.True(t, *u.IsEnabled)
	assert.Equal(t, &at, u.LastBackupTime)
	assert.Nil(t, u.LastRestoreTime)

	cols := make([]string, 0)
	for _, a := range u.assignments() {
		cols = append(cols, a.column)
	}
	assert.Equal(t, []string{"is_enabled", "last_backup_time", "last_backup_success", "last_backup_error", "last_restore_error"}, cols)
}

func TestUpdateMerge(t *testing.T) {
	restoredAt := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	preserved := Update{IsEnabled: Bool(true), LastRestoreError: String("old failure")}

	merged := preserved.Merge(RestoreOutcome(restoredAt, nil))

	assert.True(t, *merged.IsEnabled)
	assert.Equal(t, "", *merged.LastRestoreError)
	assert.True(t, *merged.LastRestoreSuccess)
	assert.Equal(t, restoredAt, *merged.LastRestoreTime)
	assert.False(t, merged.IsEmpty())
	assert.True(t, Update{}.IsEmpty())
}
