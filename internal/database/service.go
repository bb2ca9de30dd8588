package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"mysql-mirror/internal/errors"
	"mysql-mirror/internal/logging"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// DatabaseService defines the interface for database operations
type DatabaseService interface {
	Connect(ctx context.Context, role Role, config DatabaseConfig) (*sql.DB, error)
	TestConnection(ctx context.Context, db *sql.DB) error
	Close(db *sql.DB) error
	GetVersion(ctx context.Context, db *sql.DB) (string, error)
	EnsureDatabase(ctx context.Context, config DatabaseConfig) error
}

// OpenFunc opens a connection pool; sql.Open by default
type OpenFunc func(driverName, dataSourceName string) (*sql.DB, error)

// Service implements the DatabaseService interface
type Service struct {
	connectionTimeout time.Duration
	maxRetries        int
	retryDelay        time.Duration
	logger            *logging.Logger
	retryHandler      *errors.RetryHandler
	open              OpenFunc
}

// NewService creates a new database service with default settings
func NewService() *Service {
	return NewServiceWithLogger(logging.NewDefaultLogger())
}

// NewServiceWithOptions creates a new database service with custom options
func NewServiceWithOptions(timeout time.Duration, maxRetries int, retryDelay time.Duration) *Service {
	retryConfig := errors.RetryConfig{
		MaxAttempts: maxRetries,
		BaseDelay:   retryDelay,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}

	return &Service{
		connectionTimeout: timeout,
		maxRetries:        maxRetries,
		retryDelay:        retryDelay,
		logger:            logging.NewDefaultLogger(),
		retryHandler:      errors.NewRetryHandler(retryConfig),
		open:              sql.Open,
	}
}

// NewServiceWithLogger creates a new database service with a custom logger
func NewServiceWithLogger(logger *logging.Logger) *Service {
	return &Service{
		connectionTimeout: 30 * time.Second,
		maxRetries:        3,
		retryDelay:        2 * time.Second,
		logger:            logger,
		retryHandler:      errors.NewDefaultRetryHandler(),
		open:              sql.Open,
	}
}

// WithLogger replaces the service logger
func (s *Service) WithLogger(logger *logging.Logger) *Service {
	s.logger = logger
	return s
}

// WithOpener replaces the function used to open connection pools
func (s *Service) WithOpener(open OpenFunc) *Service {
	s.open = open
	return s
}

// Connect establishes a connection to the MySQL database with retry logic
func (s *Service) Connect(ctx context.Context, role Role, config DatabaseConfig) (*sql.DB, error) {
	dsn, err := config.DataSourceName()
	if err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeValidation,
			fmt.Sprintf("invalid %s database configuration", role), err)
	}
	return s.connectDSN(ctx, role, config, dsn)
}

func (s *Service) connectDSN(ctx context.Context, role Role, config DatabaseConfig, dsn string) (*sql.DB, error) {
	startTime := time.Now()

	s.logger.WithFields(map[string]interface{}{
		"role":     string(role),
		"address":  config.Address(),
		"database": config.DatabaseName(),
	}).Debug("Attempting database connection")

	ctx, cancel := context.WithTimeout(ctx, s.connectionTimeout)
	defer cancel()

	var db *sql.DB
	err := s.retryHandler.Retry(ctx, func() error {
		var connectErr error

		db, connectErr = s.open("mysql", dsn)
		if connectErr != nil {
			return errors.WrapError(connectErr, "failed to open database connection")
		}

		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if testErr := s.TestConnection(ctx, db); testErr != nil {
			db.Close()
			db = nil
			return testErr
		}

		return nil
	})

	s.logger.LogDatabaseConnection(string(role), config.Address(), config.DatabaseName(), err == nil, time.Since(startTime), err)

	if err != nil {
		return nil, errors.WrapAs(errors.ErrorTypeConnection, err,
			fmt.Sprintf("cannot reach %s database", role))
	}

	return db, nil
}

// TestConnection verifies that the database connection is working
func (s *Service) TestConnection(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, s.connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return errors.WrapError(err, "failed to ping database")
	}

	s.logger.Debug("Database connection test successful")
	return nil
}

// Close gracefully closes the database connection
func (s *Service) Close(db *sql.DB) error {
	if db == nil {
		return nil
	}

	if err := db.Close(); err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to close database connection")
		return errors.WrapError(err, "failed to close database connection")
	}

	s.logger.Debug("Database connection closed")
	return nil
}

// GetVersion retrieves the MySQL server version
func (s *Service) GetVersion(ctx context.Context, db *sql.DB) (string, error) {
	if db == nil {
		return "", errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}

	var version string
	query := "SELECT VERSION()"
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, s.connectionTimeout)
	defer cancel()

	err := db.QueryRowContext(ctx, query).Scan(&version)
	s.logger.LogSQLExecution(query, time.Since(startTime), 1, err)

	if err != nil {
		return "", errors.WrapError(err, "failed to get database version")
	}

	return version, nil
}

// EnsureDatabase creates the configured schema when it does not exist yet.
// It connects without a default schema, since that schema may be missing.
func (s *Service) EnsureDatabase(ctx context.Context, config DatabaseConfig) error {
	name := config.DatabaseName()
	if name == "" {
		return errors.NewAppError(errors.ErrorTypeValidation, "database name is required", nil)
	}

	dsn, err := config.ServerDataSourceName()
	if err != nil {
		return errors.NewAppError(errors.ErrorTypeValidation, "invalid database configuration", err)
	}

	db, err := s.connectDSN(ctx, RoleBackup, config, dsn)
	if err != nil {
		return err
	}
	defer s.Close(db)

	stmt := "CREATE DATABASE IF NOT EXISTS " + QuoteIdentifier(name) +
		" CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"
	startTime := time.Now()
	_, err = db.ExecContext(ctx, stmt)
	s.logger.LogSQLExecution(stmt, time.Since(startTime), 0, err)
	if err != nil {
		return errors.WrapAs(errors.ErrorTypeConnection, err, fmt.Sprintf("failed to create database %s", name))
	}

	return nil
}
