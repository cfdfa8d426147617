package types

import "time"

// EventKind represents the kind of a run lifecycle event.
type EventKind string

// Event kinds emitted by the engine and the hub.
const (
	// EventStageEntered marks a state machine transition.
	EventStageEntered EventKind = "stage_entered"
	// EventDocReady signals that the project document awaits approval.
	EventDocReady EventKind = "doc_ready"
	// EventVersionCreated signals a new artifact version.
	EventVersionCreated EventKind = "version_created"
	// EventEvaluation carries the quality gate verdict for a version.
	EventEvaluation EventKind = "evaluation"
	// EventRetry signals a loop back to the Developer with findings attached.
	EventRetry EventKind = "retry"
	// EventRunPaused / EventRunResumed track external control signals.
	EventRunPaused  EventKind = "run_paused"
	EventRunResumed EventKind = "run_resumed"
	// EventRunSucceeded / EventRunFailed are terminal.
	EventRunSucceeded EventKind = "run_succeeded"
	EventRunFailed    EventKind = "run_failed"
	// EventGap tells a replaying subscriber that requested history has
	// aged out of the ring buffer and a full snapshot fetch is required.
	EventGap EventKind = "gap"
	// EventHeartbeat is a keepalive sent on idle subscriptions.
	EventHeartbeat EventKind = "heartbeat"
)

// IsTerminal returns true if this event kind ends a run's stream.
// Terminal events are never dropped by subscriber queues.
func (k EventKind) IsTerminal() bool {
	return k == EventRunSucceeded || k == EventRunFailed
}

// EventEnvelope is the envelope for all run events.
// Fields carry msgpack tags to match the observer SDK wire format.
type EventEnvelope struct {
	// RunID is the canonical run identifier.
	RunID string `msgpack:"run_id" json:"run_id"`
	// ProjectID is the owning project, the subscription key.
	ProjectID string `msgpack:"project_id" json:"project_id"`
	// Seq is the monotonic per-run sequence number, starts at 1.
	// Gapless for any continuously connected subscriber.
	Seq int64 `msgpack:"seq" json:"seq"`
	// Stage is the pipeline stage the event was emitted from.
	Stage Stage `msgpack:"stage" json:"stage"`
	// Kind is the event kind discriminator.
	Kind EventKind `msgpack:"kind" json:"kind"`
	// Payload is the kind-specific payload.
	Payload map[string]any `msgpack:"payload,omitempty" json:"payload,omitempty"`
	// Ts is the event timestamp.
	Ts time.Time `msgpack:"ts" json:"ts"`
}
