package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pithecene-io/crucible/casebook"
	"github.com/pithecene-io/crucible/gate"
	"github.com/pithecene-io/crucible/log"
	"github.com/pithecene-io/crucible/types"
	"github.com/pithecene-io/crucible/worker"
)

type signalKind int

const (
	sigApprove signalKind = iota
	sigPause
	sigResume
	sigAbort
)

func (k signalKind) String() string {
	switch k {
	case sigApprove:
		return "approve"
	case sigPause:
		return "pause"
	case sigResume:
		return "resume"
	case sigAbort:
		return "abort"
	}
	return "unknown"
}

// signal is one external control request. reply carries the validation
// result back to the caller synchronously.
type signal struct {
	kind  signalKind
	reply chan error
}

// errRerunStage flows up from a pause that interrupted a stage: the
// state machine re-enters the same stage after resume.
var errRerunStage = errors.New("stage interrupted, rerun")

// actor owns one Run. All mutation happens on the actor's goroutine;
// external callers interact only through signals and snapshots.
type actor struct {
	eng *Engine
	run *types.Run
	log *log.Logger

	ctrl chan signal
	done chan struct{}

	mu       sync.Mutex
	snapshot *types.Run
	termAt   time.Time

	decisions []string
}

func newActor(eng *Engine, run *types.Run) *actor {
	return &actor{
		eng:      eng,
		run:      run,
		log:      eng.newLogger(run.ID, run.ProjectID),
		ctrl:     make(chan signal),
		done:     make(chan struct{}),
		snapshot: run.Clone(),
	}
}

// Snapshot returns a copy of the run safe for concurrent readers.
func (a *actor) Snapshot() *types.Run {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot.Clone()
}

func (a *actor) terminalAt() (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.termAt, !a.termAt.IsZero()
}

// signalSync delivers a control signal and waits for the actor's
// verdict. Terminal runs accept no signals.
func (a *actor) signalSync(ctx context.Context, k signalKind) error {
	s := signal{kind: k, reply: make(chan error, 1)}
	select {
	case a.ctrl <- s:
	case <-a.done:
		return fmt.Errorf("%s: run already finished: %w", k, types.ErrInvalidSignal)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-s.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// mutate applies fn to the run under lock and refreshes the published
// snapshot. Only ever called from the actor goroutine.
func (a *actor) mutate(fn func(r *types.Run)) {
	a.mu.Lock()
	fn(a.run)
	a.run.UpdatedAt = time.Now().UTC()
	a.snapshot = a.run.Clone()
	a.mu.Unlock()
}

func (a *actor) decide(d string) {
	a.decisions = append(a.decisions, d)
}

// checkpoint persists the run. Always called before the matching event
// is published, so observers never see state the store has not.
func (a *actor) checkpoint(ctx context.Context) {
	if err := a.eng.store.SaveCheckpoint(ctx, a.run); err != nil {
		a.eng.collector.IncCheckpointFailure()
		a.log.Error("checkpoint write failed", map[string]any{"error": err.Error()})
		return
	}
	a.eng.collector.IncCheckpointWrite()
}

func (a *actor) emit(kind types.EventKind, payload map[string]any) {
	a.eng.hub.Publish(types.EventEnvelope{
		RunID:     a.run.ID,
		ProjectID: a.run.ProjectID,
		Stage:     a.run.Stage,
		Kind:      kind,
		Payload:   payload,
		Ts:        time.Now().UTC(),
	})
}

// transition moves the state machine to the next stage:
// checkpoint first, then announce.
func (a *actor) transition(ctx context.Context, next types.Stage) {
	a.mutate(func(r *types.Run) {
		r.Stage = next
		r.Progress = next.Progress()
	})
	a.checkpoint(ctx)
	a.emit(types.EventStageEntered, map[string]any{"stage": string(next)})
	a.log.Info("stage entered", map[string]any{"stage": string(next)})
}

// loop drives the run to a terminal state.
func (a *actor) loop(ctx context.Context) {
	defer close(a.done)

	a.mutate(func(r *types.Run) { r.Status = types.RunActive })
	a.checkpoint(ctx)
	a.emit(types.EventStageEntered, map[string]any{"stage": string(a.run.Stage)})
	a.log.Info("run started", map[string]any{"request_len": len(a.run.Request.Text)})

	for {
		var err error
		switch a.run.Stage {
		case types.StageDocumenting:
			err = a.document(ctx)
		case types.StageAwaitingApproval:
			err = a.awaitApproval(ctx)
		case types.StageDeveloping:
			err = a.develop(ctx)
		case types.StageEvaluating:
			err = a.evaluate(ctx)
		case types.StageFrontend:
			err = a.frontend(ctx)
		case types.StageDeploying:
			err = a.deploy(ctx)
		default:
			err = fmt.Errorf("unexpected stage %q", a.run.Stage)
		}

		switch {
		case err == nil:
		case errors.Is(err, errRerunStage):
			continue
		case errors.Is(err, types.ErrUserAborted), errors.Is(err, context.Canceled):
			a.fail(types.ReasonUserAborted, types.ErrUserAborted)
		case errors.Is(err, types.ErrQualityCeiling):
			a.fail(types.ReasonQualityCeiling, err)
		default:
			reason := types.ReasonWorkerFailed
			if a.run.Stage == types.StageDeploying {
				reason = types.ReasonDeployFailed
			}
			a.fail(reason, err)
		}

		if a.run.Stage.IsTerminal() {
			a.finish()
			return
		}
	}
}

// invoke runs one worker under the stage timeout while servicing
// control signals. Abort cancels the in-flight completion call; pause
// cancels it too and the stage re-runs after resume.
func (a *actor) invoke(ctx context.Context, w worker.Worker, in worker.StageInput) (worker.StageOutput, error) {
	cctx, cancel := context.WithTimeout(ctx, a.eng.config.Pipeline.WorkerTimeout.Duration)
	defer cancel()

	res := make(chan stageResult, 1)
	go func() {
		out, err := w.Run(cctx, in)
		res <- stageResult{out: out, err: err}
	}()

	for {
		select {
		case r := <-res:
			return r.out, r.err
		case s := <-a.ctrl:
			switch s.kind {
			case sigAbort:
				s.reply <- nil
				cancel()
				<-res
				return worker.StageOutput{}, types.ErrUserAborted
			case sigPause:
				cancel()
				<-res
				if err := a.pauseUntilResume(ctx, s); err != nil {
					return worker.StageOutput{}, err
				}
				return worker.StageOutput{}, errRerunStage
			default:
				s.reply <- fmt.Errorf("%s during %s: %w", s.kind, a.run.Stage, types.ErrInvalidSignal)
			}
		}
	}
}

type stageResult struct {
	out worker.StageOutput
	err error
}

// pauseUntilResume parks the run. Returns nil on resume (caller
// re-enters its stage) or ErrUserAborted.
func (a *actor) pauseUntilResume(ctx context.Context, pauseSig signal) error {
	a.mutate(func(r *types.Run) { r.Status = types.RunPaused })
	a.checkpoint(ctx)
	a.emit(types.EventRunPaused, nil)
	a.log.Info("run paused", nil)
	pauseSig.reply <- nil

	for {
		s := <-a.ctrl
		switch s.kind {
		case sigResume:
			a.mutate(func(r *types.Run) { r.Status = types.RunActive })
			a.checkpoint(ctx)
			a.emit(types.EventRunResumed, nil)
			a.log.Info("run resumed", nil)
			s.reply <- nil
			return nil
		case sigAbort:
			s.reply <- nil
			return types.ErrUserAborted
		default:
			s.reply <- fmt.Errorf("%s while paused: %w", s.kind, types.ErrInvalidSignal)
		}
	}
}

// similarCases consults the casebook for context. Failures are logged
// and swallowed: case memory is advisory, never load-bearing.
func (a *actor) similarCases(ctx context.Context) []casebook.ScoredCase {
	k := a.eng.config.Pipeline.SimilarCases
	if k <= 0 {
		return nil
	}
	cases, err := a.eng.book.FindSimilar(ctx, a.run.Request.Text, k)
	if err != nil {
		a.log.Warn("similar case lookup failed", map[string]any{"error": err.Error()})
		return nil
	}
	return cases
}

// document runs the Documenter. A failure here fails the run
// immediately: nothing downstream can proceed without a document.
func (a *actor) document(ctx context.Context) error {
	out, err := a.invoke(ctx, a.eng.workers.Documenter, worker.StageInput{
		Request:      a.run.Request,
		SimilarCases: a.similarCases(ctx),
	})
	if err != nil {
		return err
	}

	a.decide("document")
	a.mutate(func(r *types.Run) { r.Document = out.Document })
	a.transition(ctx, types.StageAwaitingApproval)
	a.emit(types.EventDocReady, map[string]any{"document": out.Document})
	return nil
}

// awaitApproval blocks until the document is approved or the run is
// aborted. Pause is allowed while waiting.
func (a *actor) awaitApproval(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-a.ctrl:
			switch s.kind {
			case sigApprove:
				s.reply <- nil
				a.decide("approve")
				a.transition(ctx, types.StageDeveloping)
				return nil
			case sigAbort:
				s.reply <- nil
				return types.ErrUserAborted
			case sigPause:
				if err := a.pauseUntilResume(ctx, s); err != nil {
					return err
				}
			default:
				s.reply <- fmt.Errorf("%s while awaiting approval: %w", s.kind, types.ErrInvalidSignal)
			}
		}
	}
}

func (a *actor) develop(ctx context.Context) error {
	var prior []types.Finding
	if latest := a.run.Latest(); latest != nil {
		prior = latest.Findings
	}

	out, err := a.invoke(ctx, a.eng.workers.Developer, worker.StageInput{
		Request:       a.run.Request,
		Document:      a.run.Document,
		Version:       a.run.Latest(),
		PriorFindings: prior,
		SimilarCases:  a.similarCases(ctx),
		Iteration:     a.run.Iteration,
	})
	if err != nil {
		return err
	}

	v := types.ArtifactVersion{
		Number:     a.run.NextVersionNumber(),
		Content:    out.Content,
		ProducedBy: types.StageDeveloping,
		Metrics:    out.Metrics,
		CreatedAt:  time.Now().UTC(),
	}
	var appendErr error
	a.mutate(func(r *types.Run) { appendErr = r.AppendVersion(v) })
	if appendErr != nil {
		return appendErr
	}

	a.checkpoint(ctx)
	a.emit(types.EventVersionCreated, map[string]any{
		"version": v.Number,
		"blocks":  len(v.Content),
	})
	a.transition(ctx, types.StageEvaluating)
	return nil
}

// evaluate runs the Supervisor and Tester concurrently against the
// latest version, merges their findings, scores the result, and
// decides: advance, retry, or give up.
func (a *actor) evaluate(ctx context.Context) error {
	latest := a.run.Latest()
	if latest == nil {
		return errors.New("evaluating with no version")
	}
	in := worker.StageInput{
		Request:   a.run.Request,
		Document:  a.run.Document,
		Version:   latest,
		Iteration: a.run.Iteration,
	}

	cctx, cancel := context.WithTimeout(ctx, a.eng.config.Pipeline.WorkerTimeout.Duration)
	defer cancel()

	res := make(chan stageResult, 2)
	for _, w := range []worker.Worker{a.eng.workers.Supervisor, a.eng.workers.Tester} {
		go func(w worker.Worker) {
			out, err := w.Run(cctx, in)
			res <- stageResult{out: out, err: err}
		}(w)
	}

	// Join barrier: both evaluators must report before any decision.
	var outs []worker.StageOutput
	var firstErr error
	for received := 0; received < 2; {
		select {
		case r := <-res:
			received++
			if r.err != nil && firstErr == nil {
				firstErr = r.err
			}
			outs = append(outs, r.out)
		case s := <-a.ctrl:
			switch s.kind {
			case sigAbort:
				s.reply <- nil
				cancel()
				for ; received < 2; received++ {
					<-res
				}
				return types.ErrUserAborted
			case sigPause:
				cancel()
				for ; received < 2; received++ {
					<-res
				}
				if err := a.pauseUntilResume(ctx, s); err != nil {
					return err
				}
				return errRerunStage
			default:
				s.reply <- fmt.Errorf("%s during %s: %w", s.kind, a.run.Stage, types.ErrInvalidSignal)
			}
		}
	}
	if firstErr != nil {
		return firstErr
	}

	var verdict gate.Verdict
	a.mutate(func(r *types.Run) {
		v := &r.Versions[len(r.Versions)-1]
		for _, out := range outs {
			v.Findings = append(v.Findings, out.Findings...)
			for name, value := range out.Metrics {
				if v.Metrics == nil {
					v.Metrics = make(map[string]float64)
				}
				v.Metrics[name] = value
			}
		}
		verdict = gate.Score(v, a.eng.rubric)
		v.Score = &verdict.Score
		if best := r.Best(); best == nil || best.Score == nil || verdict.Score > *best.Score {
			r.BestVersion = len(r.Versions) - 1
		}
		r.Iteration++
	})
	a.eng.collector.IncIteration()

	passed := verdict.Passes(a.eng.config.Pipeline.PassScore)
	a.checkpoint(ctx)
	a.emit(types.EventEvaluation, map[string]any{
		"version":       latest.Number,
		"score":         verdict.Score,
		"bonus":         verdict.Bonus,
		"blocking":      verdict.Blocking,
		"test_failures": verdict.TestFailures,
		"passed":        passed,
	})
	a.log.Info("version evaluated", map[string]any{
		"version": latest.Number,
		"score":   verdict.Score,
		"passed":  passed,
	})

	if passed {
		a.decide(fmt.Sprintf("advance:%d", verdict.Score))
		next := types.StageDeploying
		if a.eng.config.Pipeline.Frontend {
			next = types.StageFrontend
		}
		a.transition(ctx, next)
		return nil
	}

	if a.run.Iteration >= a.eng.config.Pipeline.MaxIterations {
		a.eng.collector.IncQualityCeiling()
		return fmt.Errorf("no version passed after %d iterations: %w",
			a.run.Iteration, types.ErrQualityCeiling)
	}

	a.decide(fmt.Sprintf("retry:%d", a.run.Iteration))
	a.emit(types.EventRetry, map[string]any{
		"iteration": a.run.Iteration,
		"findings":  verdict.Blocking + verdict.TestFailures,
	})
	a.transition(ctx, types.StageDeveloping)
	return nil
}

// frontend runs an extra Developer pass layering UI blocks over the
// accepted version.
func (a *actor) frontend(ctx context.Context) error {
	base := a.run.Latest()
	out, err := a.invoke(ctx, a.eng.workers.Developer, worker.StageInput{
		Request:   a.run.Request,
		Document:  a.run.Document,
		Version:   base,
		Iteration: a.run.Iteration,
		Frontend:  true,
	})
	if err != nil {
		return err
	}

	content := make(map[string]string, len(base.Content)+len(out.Content))
	for name, body := range base.Content {
		content[name] = body
	}
	for name, body := range out.Content {
		content[name] = body
	}
	v := types.ArtifactVersion{
		Number:     a.run.NextVersionNumber(),
		Content:    content,
		ProducedBy: types.StageFrontend,
		CreatedAt:  time.Now().UTC(),
	}
	var appendErr error
	a.mutate(func(r *types.Run) { appendErr = r.AppendVersion(v) })
	if appendErr != nil {
		return appendErr
	}

	a.decide("frontend")
	a.checkpoint(ctx)
	a.emit(types.EventVersionCreated, map[string]any{
		"version":  v.Number,
		"blocks":   len(v.Content),
		"frontend": true,
	})
	a.transition(ctx, types.StageDeploying)
	return nil
}

// deploy ships the latest version with bounded exponential backoff.
// Transient deploy failures retry; fatal ones fail the run.
func (a *actor) deploy(ctx context.Context) error {
	attempts := a.eng.config.Pipeline.DeployRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			a.eng.collector.IncDeployRetry()
			a.emit(types.EventRetry, map[string]any{"attempt": i + 1})
			backoff := time.Duration(1<<uint(i-1)) * time.Second
			if err := a.sleep(ctx, backoff); err != nil {
				return err
			}
		}

		out, err := a.invoke(ctx, a.eng.workers.Deployer, worker.StageInput{
			Request:  a.run.Request,
			Document: a.run.Document,
			Version:  a.run.Latest(),
		})
		if err == nil {
			a.decide("deploy")
			a.succeed(ctx, out.Report)
			return nil
		}
		if errors.Is(err, errRerunStage) ||
			errors.Is(err, types.ErrUserAborted) ||
			errors.Is(err, types.ErrFatalWorker) {
			return err
		}
		lastErr = err
		a.log.Warn("deploy attempt failed", map[string]any{
			"attempt": i + 1,
			"error":   err.Error(),
		})
	}
	return fmt.Errorf("deploy gave up after %d attempts: %w", attempts, lastErr)
}

// sleep waits out a backoff while staying responsive to signals.
func (a *actor) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case s := <-a.ctrl:
			switch s.kind {
			case sigAbort:
				s.reply <- nil
				return types.ErrUserAborted
			case sigPause:
				if err := a.pauseUntilResume(ctx, s); err != nil {
					return err
				}
				return errRerunStage
			default:
				s.reply <- fmt.Errorf("%s during %s: %w", s.kind, a.run.Stage, types.ErrInvalidSignal)
			}
		}
	}
}

func (a *actor) succeed(ctx context.Context, report map[string]any) {
	a.mutate(func(r *types.Run) {
		r.Stage = types.StageSucceeded
		r.Status = types.RunSucceeded
		r.Reason = "deployed"
		r.Progress = 1
	})
	a.checkpoint(ctx)

	payload := map[string]any{"reason": "deployed"}
	if report != nil {
		payload["report"] = report
	}
	if best := a.run.Best(); best != nil && best.Score != nil {
		payload["score"] = *best.Score
	}
	a.emit(types.EventRunSucceeded, payload)
	a.eng.collector.IncRunSucceeded()
	a.log.Info("run succeeded", payload)
}

func (a *actor) fail(reason string, cause error) {
	a.decide("fail:" + reason)
	a.mutate(func(r *types.Run) {
		r.Stage = types.StageFailed
		r.Status = types.RunFailed
		r.Reason = reason
		r.Progress = 1
	})
	// Background context: the terminal checkpoint must land even when
	// the engine itself is shutting down.
	a.checkpoint(context.Background())
	a.emit(types.EventRunFailed, map[string]any{
		"reason": reason,
		"error":  cause.Error(),
	})
	if reason == types.ReasonUserAborted {
		a.eng.collector.IncRunAborted()
	} else {
		a.eng.collector.IncRunFailed()
	}
	a.log.Warn("run failed", map[string]any{"reason": reason, "error": cause.Error()})
}

// finish archives the run and frees its project slot. Archival runs
// off the actor goroutine so a slow store or adapter never delays
// actor teardown.
func (a *actor) finish() {
	a.mu.Lock()
	a.termAt = time.Now()
	a.mu.Unlock()

	a.eng.registry.release(a)
	a.eng.archive(a.Snapshot(), a.decisions)
}
