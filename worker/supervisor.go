package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/pithecene-io/crucible/completion"
	"github.com/pithecene-io/crucible/types"
)

// Supervisor reviews an artifact version for quality and risk issues.
// It reports findings and metrics; the quality gate turns them into the
// score the engine decides on.
type Supervisor struct {
	client completion.Client
}

// Role implements Worker.
func (s *Supervisor) Role() types.WorkerRole { return types.RoleSupervisor }

type supervisorResponse struct {
	Findings []wireFinding      `json:"findings"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
}

// Run reviews the version under evaluation.
func (s *Supervisor) Run(ctx context.Context, in StageInput) (StageOutput, error) {
	if in.Version == nil {
		return StageOutput{}, types.NewStageError(types.ErrFatalWorker,
			types.StageEvaluating, s.Role(), fmt.Errorf("no version to review"))
	}

	var b strings.Builder
	b.WriteString("Review the following project files for quality and security issues. ")
	b.WriteString(`Respond with JSON only: {"findings": [{"kind": "quality|risk", "severity": "critical|high|medium|low", "message": "...", "location": "<file>"}], "metrics": {"<name>": <number>}}.`)
	b.WriteString(" An empty findings array means the code is clean.\n\n")
	writeContent(&b, in.Version.Content)

	raw, err := s.client.Complete(ctx, b.String(), completion.Options{Role: string(s.Role())})
	if err != nil {
		return StageOutput{}, err
	}

	var resp supervisorResponse
	if err := decodeResponse(raw, types.StageEvaluating, s.Role(), &resp); err != nil {
		return StageOutput{}, err
	}

	out := StageOutput{Metrics: resp.Metrics}
	for _, wf := range resp.Findings {
		out.Findings = append(out.Findings, wf.toDomain(types.FindingQuality))
	}
	return out, nil
}

// writeContent renders content blocks into a prompt section.
func writeContent(b *strings.Builder, content map[string]string) {
	for _, name := range sortedKeys(content) {
		fmt.Fprintf(b, "--- %s ---\n%s\n", name, content[name])
	}
}
