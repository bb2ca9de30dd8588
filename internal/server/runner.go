// Package server exposes the engine over HTTP and runs the auto-backup
// scheduler. Backup, restore and initialization never overlap.
package server

import (
	"context"
	"errors"
	"sync"

	"mysql-mirror/internal/engine"
)

// ErrBusy is returned when another run is already in progress
var ErrBusy = errors.New("another backup, restore or init run is in progress")

// Engine is the part of *engine.Engine the server drives
type Engine interface {
	Backup(ctx context.Context) (*engine.Report, error)
	Restore(ctx context.Context) (*engine.Report, error)
	InitializeBackupDatabase(ctx context.Context) (*engine.InitReport, error)
	GetStatus(ctx context.Context) (*engine.Status, error)
	SetAutoBackup(ctx context.Context, enabled bool) error
}

// Runner admits one engine run at a time. A run started while another is
// active fails immediately with ErrBusy instead of queueing.
type Runner struct {
	engine Engine

	mu      sync.Mutex
	running string
}

// NewRunner wraps e
func NewRunner(e Engine) *Runner {
	return &Runner{engine: e}
}

// Running returns the operation in progress, or "" when idle
func (r *Runner) Running() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Runner) acquire(operation string) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running != "" {
		return nil, ErrBusy
	}
	r.running = operation
	return func() {
		r.mu.Lock()
		r.running = ""
		r.mu.Unlock()
	}, nil
}

// Backup runs a backup unless another run is active
func (r *Runner) Backup(ctx context.Context) (*engine.Report, error) {
	release, err := r.acquire(engine.OperationBackup)
	if err != nil {
		return nil, err
	}
	defer release()
	return r.engine.Backup(ctx)
}

// Restore runs a restore unless another run is active
func (r *Runner) Restore(ctx context.Context) (*engine.Report, error) {
	release, err := r.acquire(engine.OperationRestore)
	if err != nil {
		return nil, err
	}
	defer release()
	return r.engine.Restore(ctx)
}

// Initialize prepares the backup database unless another run is active
func (r *Runner) Initialize(ctx context.Context) (*engine.InitReport, error) {
	release, err := r.acquire(engine.OperationInitialize)
	if err != nil {
		return nil, err
	}
	defer release()
	return r.engine.InitializeBackupDatabase(ctx)
}

// Status reads the status record; it does not wait for a running run
func (r *Runner) Status(ctx context.Context) (*engine.Status, error) {
	return r.engine.GetStatus(ctx)
}

// SetAutoBackup switches the auto-backup toggle
func (r *Runner) SetAutoBackup(ctx context.Context, enabled bool) error {
	return r.engine.SetAutoBackup(ctx, enabled)
}
