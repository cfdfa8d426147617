// Package adapter defines the downstream notification boundary.
//
// Adapters publish run completion notifications to external systems.
// The engine owns adapter lifecycle; users provide configuration only.
package adapter

import (
	"context"
	"time"

	"github.com/pithecene-io/crucible/types"
)

// RunCompletedEvent is the payload published when a run reaches a
// terminal state. The JSON shape is the external contract; fields are
// never removed, only added.
type RunCompletedEvent struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"` // always "run_completed"
	RunID           string `json:"run_id"`
	ProjectID       string `json:"project_id"`
	Status          string `json:"status"` // succeeded or failed
	Reason          string `json:"reason,omitempty"`
	// Score is the best version's quality score, absent when no
	// version was ever evaluated.
	Score      *int   `json:"score,omitempty"`
	Iterations int    `json:"iterations"`
	Versions   int    `json:"versions"`
	Timestamp  string `json:"timestamp"` // RFC 3339
}

// ContractVersion is the current notification contract version.
const ContractVersion = "1.0"

// NewRunCompletedEvent builds the notification payload from a
// terminal run snapshot.
func NewRunCompletedEvent(run *types.Run) *RunCompletedEvent {
	e := &RunCompletedEvent{
		ContractVersion: ContractVersion,
		EventType:       "run_completed",
		RunID:           run.ID,
		ProjectID:       run.ProjectID,
		Status:          string(run.Status),
		Reason:          run.Reason,
		Iterations:      run.Iteration,
		Versions:        len(run.Versions),
		Timestamp:       run.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if best := run.Best(); best != nil && best.Score != nil {
		s := *best.Score
		e.Score = &s
	}
	return e
}

// Adapter publishes run completion events to a downstream system.
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Publish sends a run completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *RunCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// EventPublisher is implemented by adapters that can also forward the
// live event stream, not just terminal notifications. Callers
// type-assert; forwarding is best-effort.
type EventPublisher interface {
	PublishEvent(ctx context.Context, e types.EventEnvelope) error
}
