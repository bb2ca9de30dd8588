package engine

import (
	"context"

	"mysql-mirror/internal/status"
)

// Status is the status record as reported to callers. A missing record
// means no backup has ever run.
type Status struct {
	Exists        bool `json:"exists" yaml:"exists"`
	status.Record `yaml:",inline"`
}

// GetStatus reads the status record from the primary
func (e *Engine) GetStatus(ctx context.Context) (*Status, error) {
	primary, err := e.conns.Primary(ctx)
	if err != nil {
		return nil, err
	}

	record, err := e.statusStore(primary).Read(ctx)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return &Status{}, nil
	}
	return &Status{Exists: true, Record: *record}, nil
}

// SetAutoBackup switches the auto-backup toggle, leaving the rest of the record as is
func (e *Engine) SetAutoBackup(ctx context.Context, enabled bool) error {
	primary, err := e.conns.Primary(ctx)
	if err != nil {
		return err
	}

	store := e.statusStore(primary)
	if err := store.EnsureTable(ctx); err != nil {
		return err
	}
	if err := store.Upsert(ctx, status.Update{IsEnabled: status.Bool(enabled)}); err != nil {
		return err
	}

	e.logger.WithContext(ctx).WithField("enabled", enabled).Info("Auto-backup toggled")
	return nil
}
