package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"mysql-mirror/internal/logging"
)

// ConnectionPair owns the primary and backup connection pools. Each side
// connects lazily on first use and is replaced when it stops answering pings.
type ConnectionPair struct {
	service DatabaseService
	logger  *logging.Logger

	primaryConfig DatabaseConfig
	backupConfig  DatabaseConfig

	mu        sync.Mutex
	primaryDB *sql.DB
	backupDB  *sql.DB
}

// NewConnectionPair creates a pair backed by the default service
func NewConnectionPair(primary, backup DatabaseConfig, logger *logging.Logger) *ConnectionPair {
	return NewConnectionPairWithService(NewServiceWithLogger(logger), primary, backup, logger)
}

// NewConnectionPairWithService creates a pair with a custom service
func NewConnectionPairWithService(service DatabaseService, primary, backup DatabaseConfig, logger *logging.Logger) *ConnectionPair {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ConnectionPair{
		service:       service,
		logger:        logger,
		primaryConfig: primary,
		backupConfig:  backup,
	}
}

// Primary returns a live handle to the primary database
func (cp *ConnectionPair) Primary(ctx context.Context) (*sql.DB, error) {
	return cp.get(ctx, RolePrimary)
}

// Backup returns a live handle to the backup database
func (cp *ConnectionPair) Backup(ctx context.Context) (*sql.DB, error) {
	return cp.get(ctx, RoleBackup)
}

func (cp *ConnectionPair) get(ctx context.Context, role Role) (*sql.DB, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	slot, config := cp.slot(role)

	if *slot != nil {
		err := cp.service.TestConnection(ctx, *slot)
		if err == nil {
			return *slot, nil
		}
		cp.logger.WithFields(map[string]interface{}{
			"role":  string(role),
			"error": err.Error(),
		}).Warn("Cached database connection failed health check, reconnecting")
		cp.service.Close(*slot)
		*slot = nil
	}

	db, err := cp.service.Connect(ctx, role, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", role, err)
	}

	*slot = db
	return db, nil
}

func (cp *ConnectionPair) slot(role Role) (**sql.DB, DatabaseConfig) {
	if role == RolePrimary {
		return &cp.primaryDB, cp.primaryConfig
	}
	return &cp.backupDB, cp.backupConfig
}

// EnsureBackupDatabase creates the backup schema when the server lacks it
func (cp *ConnectionPair) EnsureBackupDatabase(ctx context.Context) error {
	if err := cp.service.EnsureDatabase(ctx, cp.backupConfig); err != nil {
		return fmt.Errorf("failed to create backup database: %w", err)
	}
	return nil
}

// Versions returns the server version of each side, connecting as needed
func (cp *ConnectionPair) Versions(ctx context.Context) (map[Role]string, error) {
	versions := make(map[Role]string, 2)
	for _, role := range []Role{RolePrimary, RoleBackup} {
		db, err := cp.get(ctx, role)
		if err != nil {
			return versions, err
		}
		version, err := cp.service.GetVersion(ctx, db)
		if err != nil {
			return versions, fmt.Errorf("failed to get %s database version: %w", role, err)
		}
		versions[role] = version
	}
	return versions, nil
}

// Close gracefully closes all database connections
func (cp *ConnectionPair) Close() error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	var errs []error

	if cp.primaryDB != nil {
		if err := cp.service.Close(cp.primaryDB); err != nil {
			errs = append(errs, fmt.Errorf("failed to close primary database: %w", err))
		}
		cp.primaryDB = nil
	}

	if cp.backupDB != nil {
		if err := cp.service.Close(cp.backupDB); err != nil {
			errs = append(errs, fmt.Errorf("failed to close backup database: %w", err))
		}
		cp.backupDB = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing connections: %v", errs)
	}

	return nil
}
