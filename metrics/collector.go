// Package metrics provides process-wide pipeline metrics collection.
//
// The Collector accumulates counters across runs. It is a leaf package
// with no internal dependencies. All increment methods are nil-receiver
// safe so optional instrumentation never forces nil checks on callers.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Safe to read concurrently after creation.
type Snapshot struct {
	// Run lifecycle
	RunsStarted   int64
	RunsSucceeded int64
	RunsFailed    int64
	RunsAborted   int64

	// Pipeline loop
	Iterations        int64
	QualityCeilings   int64
	DeployRetries     int64
	CompletionRetries int64

	// Event hub
	EventsPublished    int64
	EventsDropped      int64
	EventsReplayed     int64
	SubscribersEvicted int64

	// Durable layer
	CheckpointWrites   int64
	CheckpointFailures int64
	CasesRecorded      int64
}

// Collector accumulates pipeline metrics.
// Thread-safe via sync.Mutex.
type Collector struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// IncRunStarted records a run start.
func (c *Collector) IncRunStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.snap.RunsStarted++
	c.mu.Unlock()
}

// IncRunSucceeded records a successful run completion.
func (c *Collector) IncRunSucceeded() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.snap.RunsSucceeded++
	c.mu.Unlock()
}

// IncRunFailed records a failed run.
func (c *Collector) IncRunFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.snap.RunsFailed++
	c.mu.Unlock()
}

// IncRunAborted records a user-aborted run.
func (c *Collector) IncRunAborted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.snap.RunsAborted++
	c.mu.Unlock()
}

// IncIteration records one develop→evaluate loop.
func (c *Collector) IncIteration() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.snap.Iterations++
	c.mu.Unlock()
}

// IncQualityCeiling records an iteration budget exhaustion.
func (c *Collector) IncQualityCeiling() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.snap.QualityCeilings++
	c.mu.Unlock()
}

// IncDeployRetry records one Deployer retry.
func (c *Collector) IncDeployRetry() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.snap.DeployRetries++
	c.mu.Unlock()
}

// IncCompletionRetry records one completion-service retry.
func (c *Collector) IncCompletionRetry() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.snap.CompletionRetries++
	c.mu.Unlock()
}

// IncEventsPublished records a published event.
func (c *Collector) IncEventsPublished() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.snap.EventsPublished++
	c.mu.Unlock()
}

// IncEventsDropped records an event dropped by a subscriber queue.
func (c *Collector) IncEventsDropped() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.snap.EventsDropped++
	c.mu.Unlock()
}

// IncEventsReplayed records an event replayed from the ring buffer.
func (c *Collector) IncEventsReplayed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.snap.EventsReplayed++
	c.mu.Unlock()
}

// IncSubscriberEvicted records a heartbeat eviction.
func (c *Collector) IncSubscriberEvicted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.snap.SubscribersEvicted++
	c.mu.Unlock()
}

// IncCheckpointWrite records a checkpoint persistence.
func (c *Collector) IncCheckpointWrite() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.snap.CheckpointWrites++
	c.mu.Unlock()
}

// IncCheckpointFailure records a failed checkpoint persistence.
func (c *Collector) IncCheckpointFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.snap.CheckpointFailures++
	c.mu.Unlock()
}

// IncCaseRecorded records an archived case.
func (c *Collector) IncCaseRecorded() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.snap.CasesRecorded++
	c.mu.Unlock()
}

// Snapshot returns a consistent copy of all counters.
// Nil-safe: a nil Collector returns the zero Snapshot.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}
