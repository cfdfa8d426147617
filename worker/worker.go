// Package worker implements the five pipeline worker adapters:
// Documenter, Developer, Supervisor, Tester, Deployer.
//
// Each adapter is a thin function over the completion client: build a
// prompt from the stage input, call the service, parse the structured
// response. The engine never interprets artifact content; workers never
// make transition decisions.
package worker

import (
	"context"

	"github.com/pithecene-io/crucible/casebook"
	"github.com/pithecene-io/crucible/completion"
	"github.com/pithecene-io/crucible/types"
)

// StageInput is the read-only input handed to a worker invocation.
type StageInput struct {
	// Request is the originating project request.
	Request types.Request
	// Document is the approved project document, once it exists.
	Document string
	// Version is the artifact version under evaluation, or the prior
	// version on a Developer retry. Nil on the first iteration.
	Version *types.ArtifactVersion
	// PriorFindings are the findings from the immediately preceding
	// evaluation, fed back into Developer retries.
	PriorFindings []types.Finding
	// SimilarCases are prior-run summaries for context. May be empty.
	SimilarCases []casebook.ScoredCase
	// Iteration is the current develop→evaluate loop count.
	Iteration int
	// Frontend marks the optional frontend development pass.
	Frontend bool
}

// StageOutput is the result of a worker invocation. Only the fields a
// given role produces are populated.
type StageOutput struct {
	// Document is the generated project document (Documenter).
	Document string
	// Content are the generated content blocks (Developer).
	Content map[string]string
	// Findings are quality or test issues (Supervisor, Tester).
	Findings []types.Finding
	// Metrics are numeric signals such as coverage (Supervisor, Tester).
	Metrics map[string]float64
	// TestsPassed reports the test verdict (Tester).
	TestsPassed bool
	// Report is role-specific detail (Deployer).
	Report map[string]any
}

// Worker is one pipeline stage adapter.
type Worker interface {
	Role() types.WorkerRole
	Run(ctx context.Context, in StageInput) (StageOutput, error)
}

// Set bundles the five adapters for the engine.
type Set struct {
	Documenter Worker
	Developer  Worker
	Supervisor Worker
	Tester     Worker
	Deployer   Worker
}

// NewSet builds the standard adapter set over a completion client.
func NewSet(client completion.Client) Set {
	return Set{
		Documenter: &Documenter{client: client},
		Developer:  &Developer{client: client},
		Supervisor: &Supervisor{client: client},
		Tester:     &Tester{client: client},
		Deployer:   &Deployer{client: client},
	}
}
