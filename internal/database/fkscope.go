package database

import (
	"context"
	"sync"

	"mysql-mirror/internal/errors"
)

const (
	disableForeignKeyChecks = "SET FOREIGN_KEY_CHECKS = 0"
	enableForeignKeyChecks  = "SET FOREIGN_KEY_CHECKS = 1"
)

// ForeignKeyScope keeps referential checks disabled on one session until
// Release is called. The setting is per session, so q must be a pinned
// *sql.Conn (or a Tx) rather than a pool.
type ForeignKeyScope struct {
	q    Querier
	once sync.Once
	err  error
}

// DisableForeignKeyChecks opens a scope on q
func DisableForeignKeyChecks(ctx context.Context, q Querier) (*ForeignKeyScope, error) {
	if _, err := q.ExecContext(ctx, disableForeignKeyChecks); err != nil {
		return nil, errors.WrapAs(errors.ErrorTypeReplication, err, "failed to disable foreign key checks")
	}
	return &ForeignKeyScope{q: q}, nil
}

// Release re-enables the checks. It is idempotent and ignores cancellation of ctx.
func (s *ForeignKeyScope) Release(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.once.Do(func() {
		if _, err := s.q.ExecContext(context.WithoutCancel(ctx), enableForeignKeyChecks); err != nil {
			s.err = errors.WrapAs(errors.ErrorTypeReplication, err, "failed to re-enable foreign key checks")
		}
	})
	return s.err
}
