// Package types defines core domain types for the Crucible engine.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
	"time"
)

// Stage identifies a pipeline stage.
type Stage string

// Pipeline stages in nominal order. Evaluating loops back to Developing
// until the quality gate passes or the iteration budget is exhausted.
const (
	StageDocumenting      Stage = "documenting"
	StageAwaitingApproval Stage = "awaiting_doc_approval"
	StageDeveloping       Stage = "developing"
	StageEvaluating       Stage = "evaluating"
	StageFrontend         Stage = "frontend"
	StageDeploying        Stage = "deploying"
	StageSucceeded        Stage = "succeeded"
	StageFailed           Stage = "failed"
)

// IsTerminal returns true if the stage ends the pipeline.
func (s Stage) IsTerminal() bool {
	return s == StageSucceeded || s == StageFailed
}

// Progress returns a coarse completion fraction for the stage.
// Used for observer display only; transitions are the source of truth.
func (s Stage) Progress() float64 {
	switch s {
	case StageDocumenting:
		return 0.1
	case StageAwaitingApproval:
		return 0.2
	case StageDeveloping:
		return 0.4
	case StageEvaluating:
		return 0.6
	case StageFrontend:
		return 0.75
	case StageDeploying:
		return 0.9
	case StageSucceeded, StageFailed:
		return 1.0
	default:
		return 0
	}
}

// RunStatus is the lifecycle status of a run.
type RunStatus string

const (
	// RunPending indicates the run is registered but not yet started.
	RunPending RunStatus = "pending"
	// RunActive indicates the run actor is progressing through stages.
	RunActive RunStatus = "active"
	// RunPaused indicates stage progression is suspended by external signal.
	RunPaused RunStatus = "paused"
	// RunSucceeded indicates the pipeline delivered its artifact.
	RunSucceeded RunStatus = "succeeded"
	// RunFailed indicates the pipeline ended without delivering.
	RunFailed RunStatus = "failed"
)

// IsTerminal returns true if the status is final.
func (s RunStatus) IsTerminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// WorkerRole identifies one of the five pipeline workers.
type WorkerRole string

const (
	RoleDocumenter WorkerRole = "documenter"
	RoleDeveloper  WorkerRole = "developer"
	RoleSupervisor WorkerRole = "supervisor"
	RoleTester     WorkerRole = "tester"
	RoleDeployer   WorkerRole = "deployer"
)

// Request is the originating project request.
type Request struct {
	// Text is the free-form natural language requirement.
	Text string `json:"text"`
	// Options carries structured request options, uninterpreted by the engine.
	Options map[string]any `json:"options,omitempty"`
}

// FindingKind classifies a quality or test issue.
type FindingKind string

const (
	FindingQuality     FindingKind = "quality"
	FindingTestFailure FindingKind = "test_failure"
	FindingRisk        FindingKind = "risk"
)

// Severity is the severity of a finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Blocking returns true for severities that veto pipeline advancement
// regardless of the aggregate score.
func (s Severity) Blocking() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// Finding is a single quality or test issue attached to an artifact version.
type Finding struct {
	Kind     FindingKind `json:"kind" msgpack:"kind"`
	Severity Severity    `json:"severity" msgpack:"severity"`
	Message  string      `json:"message" msgpack:"message"`
	// Location is an optional hint (file path, block name) for the issue.
	Location string `json:"location,omitempty" msgpack:"location,omitempty"`
}

// ArtifactVersion is an immutable snapshot produced by the Developer.
// Once created it is never mutated; retries supersede it with the next
// version number.
type ArtifactVersion struct {
	// Number is monotonic per run, starting at 1. Never reused.
	Number int `json:"number"`
	// Content maps named blocks (typically file paths) to bodies.
	// The engine never interprets block contents.
	Content map[string]string `json:"content"`
	// ProducedBy is the stage that created this version.
	ProducedBy Stage `json:"produced_by"`
	// Score is the quality gate score, nil until evaluated.
	Score *int `json:"score,omitempty"`
	// Findings are the issues recorded against this version.
	Findings []Finding `json:"findings,omitempty"`
	// Metrics are numeric signals reported by workers (e.g. coverage),
	// consumed by rubric bonus rules.
	Metrics map[string]float64 `json:"metrics,omitempty"`
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`
}

// Run is one end-to-end pipeline execution for a project request.
// Owned exclusively by its run actor; mutated only through state
// machine transitions.
type Run struct {
	// ID is the canonical run identifier. Must be globally unique.
	ID string `json:"id"`
	// ProjectID is the owning project. At most one active run per project.
	ProjectID string `json:"project_id"`
	// Request is the originating request.
	Request Request `json:"request"`
	// Stage is the current pipeline stage.
	Stage Stage `json:"stage"`
	// Status is the lifecycle status.
	Status RunStatus `json:"status"`
	// Document is the approved (or pending) project document.
	Document string `json:"document,omitempty"`
	// Versions is the ordered artifact version history.
	Versions []ArtifactVersion `json:"versions,omitempty"`
	// Iteration counts completed develop→evaluate loops.
	Iteration int `json:"iteration"`
	// BestVersion is the index into Versions of the highest-scoring
	// version, or -1 when no version has been evaluated.
	BestVersion int `json:"best_version"`
	// Reason is the human-readable terminal reason, set on success or failure.
	Reason string `json:"reason,omitempty"`
	// Progress is a coarse completion fraction for observers.
	Progress float64 `json:"progress"`
	// CreatedAt / UpdatedAt are lifecycle timestamps.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate validates run identity.
func (r *Run) Validate() error {
	if r.ID == "" {
		return errors.New("run id must be non-empty")
	}
	if r.ProjectID == "" {
		return errors.New("project id must be non-empty")
	}
	if r.Request.Text == "" {
		return errors.New("request text must be non-empty")
	}
	return nil
}

// NextVersionNumber returns the number the next artifact version must use.
func (r *Run) NextVersionNumber() int {
	return len(r.Versions) + 1
}

// AppendVersion appends a version, enforcing strictly increasing numbers.
func (r *Run) AppendVersion(v ArtifactVersion) error {
	if want := r.NextVersionNumber(); v.Number != want {
		return fmt.Errorf("version number %d out of sequence, want %d", v.Number, want)
	}
	r.Versions = append(r.Versions, v)
	return nil
}

// Best returns the best-scoring evaluated version, or nil.
func (r *Run) Best() *ArtifactVersion {
	if r.BestVersion < 0 || r.BestVersion >= len(r.Versions) {
		return nil
	}
	return &r.Versions[r.BestVersion]
}

// Latest returns the most recent version, or nil.
func (r *Run) Latest() *ArtifactVersion {
	if len(r.Versions) == 0 {
		return nil
	}
	return &r.Versions[len(r.Versions)-1]
}

// Clone returns a deep copy safe to hand to observers.
func (r *Run) Clone() *Run {
	out := *r
	out.Versions = make([]ArtifactVersion, len(r.Versions))
	for i, v := range r.Versions {
		cv := v
		cv.Content = cloneStringMap(v.Content)
		cv.Findings = append([]Finding(nil), v.Findings...)
		cv.Metrics = cloneFloatMap(v.Metrics)
		if v.Score != nil {
			s := *v.Score
			cv.Score = &s
		}
		out.Versions[i] = cv
	}
	out.Request.Options = cloneAnyMap(r.Request.Options)
	return &out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneFloatMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
