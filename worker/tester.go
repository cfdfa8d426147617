package worker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pithecene-io/crucible/completion"
	"github.com/pithecene-io/crucible/types"
)

// Tester exercises an artifact version and reports test failures.
// Failures surface as test_failure findings so the gate can veto
// advancement regardless of the quality score.
type Tester struct {
	client completion.Client
}

// Role implements Worker.
func (t *Tester) Role() types.WorkerRole { return types.RoleTester }

type testerResponse struct {
	Passed   bool    `json:"passed"`
	Failures []struct {
		Name     string `json:"name"`
		Message  string `json:"message"`
		Location string `json:"location,omitempty"`
	} `json:"failures,omitempty"`
	Coverage float64 `json:"coverage,omitempty"`
}

// Run evaluates the version's test behavior.
func (t *Tester) Run(ctx context.Context, in StageInput) (StageOutput, error) {
	if in.Version == nil {
		return StageOutput{}, types.NewStageError(types.ErrFatalWorker,
			types.StageEvaluating, t.Role(), fmt.Errorf("no version to test"))
	}

	var b strings.Builder
	b.WriteString("Derive and evaluate tests for the following project files. ")
	b.WriteString(`Respond with JSON only: {"passed": <bool>, "failures": [{"name": "...", "message": "...", "location": "<file>"}], "coverage": <0..1>}.`)
	b.WriteString("\n\n")
	writeContent(&b, in.Version.Content)

	raw, err := t.client.Complete(ctx, b.String(), completion.Options{Role: string(t.Role())})
	if err != nil {
		return StageOutput{}, err
	}

	var resp testerResponse
	if err := decodeResponse(raw, types.StageEvaluating, t.Role(), &resp); err != nil {
		return StageOutput{}, err
	}

	out := StageOutput{TestsPassed: resp.Passed}
	if resp.Coverage > 0 {
		out.Metrics = map[string]float64{"coverage": resp.Coverage}
	}
	for _, f := range resp.Failures {
		severity := types.SeverityHigh
		out.Findings = append(out.Findings, types.Finding{
			Kind:     types.FindingTestFailure,
			Severity: severity,
			Message:  fmt.Sprintf("%s: %s", f.Name, f.Message),
			Location: f.Location,
		})
	}
	// A failed verdict with no itemized failures still blocks.
	if !resp.Passed && len(resp.Failures) == 0 {
		out.Findings = append(out.Findings, types.Finding{
			Kind:     types.FindingTestFailure,
			Severity: types.SeverityHigh,
			Message:  "test run reported failure without detail",
		})
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
