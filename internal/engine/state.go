package engine

import (
	"context"
	"fmt"
	"strings"

	"mysql-mirror/internal/errors"
	"mysql-mirror/internal/logging"
)

// State is a step of a run
type State string

const (
	StateIdle                  State = "idle"
	StateListing               State = "listing"
	StateReplicatingTables     State = "replicating_tables"
	StateWritingStatus         State = "writing_status"
	StateReadingStatus         State = "reading_status"
	StateDroppingPrimaryTables State = "dropping_primary_tables"
	StateListingBackup         State = "listing_backup"
	StateRebuildingTables      State = "rebuilding_tables"
	StateSwappingTables        State = "swapping_tables"
	StateFinalizingTables      State = "finalizing_tables"
	StateReinstatingStatus     State = "reinstating_status"
	StateCreatingTables        State = "creating_tables"
	StateDone                  State = "done"
	StateFailed                State = "failed"
)

// run tracks one engine operation from start to finish
type run struct {
	engine    *Engine
	ctx       context.Context
	operation string
	state     State
	report    *Report
	done      func(error)
}

func (e *Engine) startRun(ctx context.Context, operation string) (context.Context, *run) {
	id := e.newID()
	ctx = logging.ContextWithRunID(ctx, id)

	r := &run{
		engine:    e,
		ctx:       ctx,
		operation: operation,
		report: &Report{
			RunID:     id,
			Operation: operation,
			StartedAt: e.now(),
			Tables:    []TableReport{},
		},
	}
	r.done = e.logger.LogOperationStart(ctx, operation, map[string]interface{}{"run_id": id})
	e.observer.RunStarted(operation)
	r.enter(StateIdle, nil)

	return ctx, r
}

func (r *run) enter(state State, fields map[string]interface{}) {
	r.state = state
	r.engine.logger.LogRunState(r.ctx, r.operation, string(state), fields)
}

// token is a short run-unique tag for names that must not collide with
// those of an earlier run
func (r *run) token() string {
	token := strings.ReplaceAll(r.report.RunID, "-", "")
	if len(token) > 8 {
		token = token[:8]
	}
	return token
}

// warn records a problem that leaves the run successful
func (r *run) warn(message string, err error) {
	if err != nil {
		message = fmt.Sprintf("%s: %s", message, errors.Describe(err))
	}
	r.report.Warnings = append(r.report.Warnings, message)
	r.engine.logger.WithContext(r.ctx).WithField("state", string(r.state)).Warn(message)
}

// finish moves the run to Done or Failed and returns err unchanged
func (r *run) finish(err error) error {
	r.report.Duration = r.engine.now().Sub(r.report.StartedAt)
	if r.report.Duration < 0 {
		r.report.Duration = 0
	}

	if err != nil {
		r.report.Error = errors.Describe(err)
		r.enter(StateFailed, map[string]interface{}{"failed_in": string(r.state)})
	} else {
		r.enter(StateDone, map[string]interface{}{"tables": len(r.report.Tables)})
	}

	r.done(err)
	r.engine.observer.RunFinished(r.operation, r.report.Duration, err)
	return err
}
