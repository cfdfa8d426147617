// Package engine hosts the orchestrator: a registry of run actors,
// each driving one request through the documenter → developer →
// evaluate → deploy pipeline.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/crucible/adapter"
	"github.com/pithecene-io/crucible/casebook"
	"github.com/pithecene-io/crucible/config"
	"github.com/pithecene-io/crucible/gate"
	"github.com/pithecene-io/crucible/hub"
	"github.com/pithecene-io/crucible/log"
	"github.com/pithecene-io/crucible/metrics"
	"github.com/pithecene-io/crucible/store"
	"github.com/pithecene-io/crucible/types"
	"github.com/pithecene-io/crucible/worker"
)

// Options injects the engine's collaborators. Workers, Store, Casebook
// and Hub are required; Adapter and Collector are optional.
type Options struct {
	Workers   worker.Set
	Store     *store.Store
	Casebook  *casebook.Book
	Hub       *hub.Hub
	Adapter   adapter.Adapter
	Collector *metrics.Collector
	// NewLogger builds per-run loggers. Defaults to log.NewLogger;
	// tests inject log.NewNop wrappers.
	NewLogger func(runID, projectID string) *log.Logger
}

// Engine creates and supervises runs. Safe for concurrent use.
type Engine struct {
	config    config.Config
	workers   worker.Set
	store     *store.Store
	book      *casebook.Book
	hub       *hub.Hub
	adapter   adapter.Adapter
	collector *metrics.Collector
	registry  *registry
	rubric    gate.Rubric
	log       *log.Logger
	newLogger func(runID, projectID string) *log.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds an engine and starts its retention janitor.
func New(cfg config.Config, opts Options) *Engine {
	cfg.ApplyDefaults()
	if opts.NewLogger == nil {
		opts.NewLogger = log.NewLogger
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		config:    cfg,
		workers:   opts.Workers,
		store:     opts.Store,
		book:      opts.Casebook,
		hub:       opts.Hub,
		adapter:   opts.Adapter,
		collector: opts.Collector,
		registry:  newRegistry(cfg.Registry.Retention.Duration),
		rubric:    gate.Rubric{Bonuses: cfg.Gate.Bonuses},
		log:       opts.NewLogger("", ""),
		newLogger: opts.NewLogger,
		baseCtx:   ctx,
		cancel:    cancel,
	}
	e.wg.Add(1)
	go e.janitor()
	return e
}

// CreateRun registers and starts a run for the project. At most one
// active run per project: a second create returns ErrConflict before
// any goroutine is spawned.
func (e *Engine) CreateRun(ctx context.Context, projectID string, req types.Request) (*types.Run, error) {
	now := time.Now().UTC()
	run := &types.Run{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		Request:     req,
		Stage:       types.StageDocumenting,
		Status:      types.RunPending,
		BestVersion: -1,
		Progress:    types.StageDocumenting.Progress(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := run.Validate(); err != nil {
		return nil, err
	}

	a := newActor(e, run)
	if err := e.registry.create(a); err != nil {
		return nil, err
	}
	e.collector.IncRunStarted()

	// Persist the pending run before the actor starts so a crash
	// between create and first transition still leaves a record.
	if err := e.store.SaveCheckpoint(ctx, run); err != nil {
		e.collector.IncCheckpointFailure()
		e.log.Warn("initial checkpoint failed", map[string]any{
			"run_id": run.ID, "error": err.Error(),
		})
	} else {
		e.collector.IncCheckpointWrite()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		a.loop(e.baseCtx)
	}()
	return run.Clone(), nil
}

// Approve releases a run waiting at the document approval gate.
func (e *Engine) Approve(ctx context.Context, runID string) error {
	return e.signal(ctx, runID, sigApprove)
}

// Pause suspends stage progression, cancelling any in-flight worker
// call. The interrupted stage re-runs after Resume.
func (e *Engine) Pause(ctx context.Context, runID string) error {
	return e.signal(ctx, runID, sigPause)
}

// Resume continues a paused run.
func (e *Engine) Resume(ctx context.Context, runID string) error {
	return e.signal(ctx, runID, sigResume)
}

// Abort terminates a run. The run fails with reason user_aborted and
// still emits its terminal event and case.
func (e *Engine) Abort(ctx context.Context, runID string) error {
	return e.signal(ctx, runID, sigAbort)
}

func (e *Engine) signal(ctx context.Context, runID string, k signalKind) error {
	a, err := e.registry.lookup(runID)
	if err != nil {
		return err
	}
	return a.signalSync(ctx, k)
}

// Snapshot returns a copy of the run's current state. Falls back to
// the durable checkpoint for runs already evicted from the registry.
func (e *Engine) Snapshot(ctx context.Context, runID string) (*types.Run, error) {
	if a, err := e.registry.lookup(runID); err == nil {
		return a.Snapshot(), nil
	}
	run, err := e.store.LoadCheckpoint(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, types.ErrRunNotFound
	}
	return run, err
}

// Done returns a channel closed when the run's actor exits.
func (e *Engine) Done(runID string) (<-chan struct{}, error) {
	a, err := e.registry.lookup(runID)
	if err != nil {
		return nil, err
	}
	return a.done, nil
}

// Close stops the janitor and aborts in-flight runs, waiting for all
// actors to finish their terminal bookkeeping.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// archive records the terminal run as a case and notifies the
// downstream adapter. Runs on its own goroutine.
func (e *Engine) archive(run *types.Run, decisions []string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		c := types.Case{
			ID:          run.ID,
			ProjectID:   run.ProjectID,
			Fingerprint: casebook.Fingerprint(run.Request.Text),
			Decisions:   decisions,
			FinalScore:  -1,
			Success:     run.Status == types.RunSucceeded,
			Iterations:  run.Iteration,
		}
		if best := run.Best(); best != nil && best.Score != nil {
			c.FinalScore = *best.Score
		}
		if err := e.book.Record(ctx, c); err != nil {
			e.log.Warn("case archive failed", map[string]any{
				"run_id": run.ID, "error": err.Error(),
			})
		} else {
			e.collector.IncCaseRecorded()
		}

		if e.adapter == nil {
			return
		}
		if err := e.adapter.Publish(ctx, adapter.NewRunCompletedEvent(run)); err != nil {
			e.log.Warn("downstream notify failed", map[string]any{
				"run_id": run.ID, "error": err.Error(),
			})
		}
	}()
}

// janitor evicts terminal runs past the retention window and frees
// their hub buffers.
func (e *Engine) janitor() {
	defer e.wg.Done()

	interval := e.config.Registry.Retention.Duration / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.baseCtx.Done():
			return
		case now := <-ticker.C:
			for _, a := range e.registry.sweep(now) {
				e.hub.ReleaseRun(a.run.ProjectID, a.run.ID)
			}
		}
	}
}
