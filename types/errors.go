// Error taxonomy for the engine. Sentinels enable errors.Is/errors.As
// assertions rather than string matching; StageError preserves the
// failing stage and the underlying cause in the chain.
package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for pipeline failure classification.
var (
	// ErrConflict indicates a project already has an active run.
	ErrConflict = errors.New("project has an active run")

	// ErrRunNotFound indicates no live run matches the given id.
	ErrRunNotFound = errors.New("run not found")

	// ErrQualityCeiling indicates the iteration budget was exhausted
	// without passing the quality gate.
	ErrQualityCeiling = errors.New("quality ceiling not reached")

	// ErrUserAborted indicates an explicit abort signal.
	ErrUserAborted = errors.New("user aborted")

	// ErrFatalWorker indicates a non-retryable worker failure
	// (e.g. an unparseable completion response).
	ErrFatalWorker = errors.New("fatal worker error")

	// ErrTransientWorker indicates a retryable worker failure that
	// outlasted its retry budget.
	ErrTransientWorker = errors.New("transient worker error")

	// ErrInvalidSignal indicates a control signal not valid in the
	// run's current state (e.g. approve before the document is ready).
	ErrInvalidSignal = errors.New("signal not valid in current state")
)

// Terminal reason strings surfaced on failed runs.
const (
	ReasonQualityCeiling = "quality_ceiling_not_reached"
	ReasonUserAborted    = "user_aborted"
	ReasonWorkerFailed   = "worker_failed"
	ReasonDeployFailed   = "deploy_failed"
)

// StageError wraps an underlying error with the stage and worker role
// it occurred in. It preserves the original error for errors.Is/As.
type StageError struct {
	// Kind is the sentinel for classification (e.g. ErrFatalWorker).
	Kind error
	// Stage is the pipeline stage that failed.
	Stage Stage
	// Role is the worker involved, if any.
	Role WorkerRole
	// Err is the underlying error.
	Err error
}

func (e *StageError) Error() string {
	if e.Role != "" {
		return fmt.Sprintf("%s/%s: %v: %v", e.Stage, e.Role, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

// Unwrap returns the underlying error for chain traversal.
func (e *StageError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *StageError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// NewStageError creates a classified stage error.
func NewStageError(kind error, stage Stage, role WorkerRole, err error) *StageError {
	return &StageError{Kind: kind, Stage: stage, Role: role, Err: err}
}
