package database

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
	"testing"
	"time"

	"mysql-mirror/internal/errors"
	"mysql-mirror/internal/logging"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:     "localhost",
		Port:     3306,
		Username: "root",
		Password: "password",
		Database: "app_backup",
		Timeout:  time.Second,
	}
}

// mockOpener hands out the given mock pools in order and records the DSNs it saw.
type mockOpener struct {
	pools []*sql.DB
	dsns  []string
}

func (m *mockOpener) open(_ string, dsn string) (*sql.DB, error) {
	m.dsns = append(m.dsns, dsn)
	db := m.pools[0]
	m.pools = m.pools[1:]
	return db, nil
}

func newPingMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	return db, mock
}

func newTestService(opener *mockOpener) *Service {
	return NewServiceWithOptions(time.Second, 3, time.Millisecond).
		WithLogger(logging.NewNopLogger()).
		WithOpener(opener.open)
}

func TestNewService(t *testing.T) {
	service := NewService()
	if service == nil {
		t.Fatal("Expected service to be created")
	}
	if service.connectionTimeout != 30*time.Second {
		t.Errorf("Expected default timeout to be 30s, got %v", service.connectionTimeout)
	}
	if service.maxRetries != 3 {
		t.Errorf("Expected default max retries to be 3, got %d", service.maxRetries)
	}
}

func TestNewServiceWithOptions(t *testing.T) {
	timeout := 10 * time.Second
	maxRetries := 5
	retryDelay := 1 * time.Second

	service := NewServiceWithOptions(timeout, maxRetries, retryDelay)
	if service.connectionTimeout != timeout {
		t.Errorf("Expected timeout to be %v, got %v", timeout, service.connectionTimeout)
	}
	if service.maxRetries != maxRetries {
		t.Errorf("Expected max retries to be %d, got %d", maxRetries, service.maxRetries)
	}
	if service.retryDelay != retryDelay {
		t.Errorf("Expected retry delay to be %v, got %v", retryDelay, service.retryDelay)
	}
}

func TestNewServiceWithLogger(t *testing.T) {
	logger := logging.NewNopLogger()
	service := NewServiceWithLogger(logger)
	if service.logger != logger {
		t.Error("Expected custom logger to be set")
	}
}

func TestConnect_Success(t *testing.T) {
	db, mock := newPingMock(t)
	mock.ExpectPing()

	opener := &mockOpener{pools: []*sql.DB{db}}
	got, err := newTestService(opener).Connect(context.Background(), RolePrimary, testConfig())

	require.NoError(t, err)
	assert.Same(t, db, got)
	require.Len(t, opener.dsns, 1)
	assert.Contains(t, opener.dsns[0], "/app_backup")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnect_RetriesRecoverableFailure(t *testing.T) {
	first, firstMock := newPingMock(t)
	firstMock.ExpectPing().WillReturnError(mysql.ErrInvalidConn)
	firstMock.ExpectClose()

	second, secondMock := newPingMock(t)
	secondMock.ExpectPing()

	opener := &mockOpener{pools: []*sql.DB{first, second}}
	got, err := newTestService(opener).Connect(context.Background(), RoleBackup, testConfig())

	require.NoError(t, err)
	assert.Same(t, second, got)
	assert.Len(t, opener.dsns, 2)
	assert.NoError(t, firstMock.ExpectationsWereMet())
	assert.NoError(t, secondMock.ExpectationsWereMet())
}

func TestConnect_AccessDeniedIsNotRetried(t *testing.T) {
	db, mock := newPingMock(t)
	mock.ExpectPing().WillReturnError(&mysql.MySQLError{Number: 1045, Message: "Access denied"})
	mock.ExpectClose()

	opener := &mockOpener{pools: []*sql.DB{db}}
	_, err := newTestService(opener).Connect(context.Background(), RolePrimary, testConfig())

	require.Error(t, err)
	assert.Len(t, opener.dsns, 1)
	assert.Equal(t, errors.ErrorTypeConnection, errors.GetErrorType(err))
	assert.Contains(t, err.Error(), "cannot reach primary database")
}

func TestConnect_InvalidDSN(t *testing.T) {
	service := newTestService(&mockOpener{})

	_, err := service.Connect(context.Background(), RolePrimary, DatabaseConfig{DSN: "not a dsn"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetErrorType(err))
}

func TestTestConnection_NilDB(t *testing.T) {
	service := NewService()

	err := service.TestConnection(context.Background(), nil)
	if err == nil {
		t.Error("Expected error for nil database connection")
	}
}

func TestClose_NilDB(t *testing.T) {
	service := NewService()

	err := service.Close(nil)
	if err != nil {
		t.Errorf("Expected no error for closing nil connection, got %v", err)
	}
}

func TestGetVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT VERSION()")).
		WillReturnRows(sqlmock.NewRows([]string{"VERSION()"}).AddRow("8.0.36"))

	version, err := newTestService(&mockOpener{}).GetVersion(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, "8.0.36", version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetVersion_NilDB(t *testing.T) {
	service := NewService()

	_, err := service.GetVersion(context.Background(), nil)
	if err == nil {
		t.Error("Expected error for nil database connection")
	}
}

func TestEnsureDatabase(t *testing.T) {
	db, mock := newPingMock(t)
	mock.ExpectPing()
	mock.ExpectExec(regexp.QuoteMeta("CREATE DATABASE IF NOT EXISTS `app_backup`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	opener := &mockOpener{pools: []*sql.DB{db}}
	err := newTestService(opener).EnsureDatabase(context.Background(), testConfig())

	require.NoError(t, err)
	require.Len(t, opener.dsns, 1)
	assert.False(t, strings.Contains(opener.dsns[0], "app_backup"), "server DSN must not name the schema")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureDatabase_RequiresName(t *testing.T) {
	err := newTestService(&mockOpener{}).EnsureDatabase(context.Background(), DatabaseConfig{Host: "localhost", Port: 3306})
	require.Error(t, err)
}
