package worker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pithecene-io/crucible/casebook"
	"github.com/pithecene-io/crucible/types"
)

// stripFence removes a surrounding markdown code fence, if present.
// Completion services habitually wrap JSON in ```json blocks.
func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:] // drop the language tag line
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// decodeResponse parses a structured completion response into out.
// A malformed response is a fatal worker error: no retry can repair a
// service that emits unparseable output for a well-formed prompt.
func decodeResponse(raw string, stage types.Stage, role types.WorkerRole, out any) error {
	cleaned := stripFence(raw)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return types.NewStageError(types.ErrFatalWorker, stage, role,
			fmt.Errorf("malformed completion response: %w", err))
	}
	return nil
}

// findingFromWire maps a wire finding onto the domain type, defaulting
// unknown severities to low rather than failing the whole response.
type wireFinding struct {
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Location string `json:"location,omitempty"`
}

func (w wireFinding) toDomain(defaultKind types.FindingKind) types.Finding {
	f := types.Finding{
		Kind:     types.FindingKind(w.Kind),
		Severity: types.Severity(w.Severity),
		Message:  w.Message,
		Location: w.Location,
	}
	switch f.Kind {
	case types.FindingQuality, types.FindingTestFailure, types.FindingRisk:
	default:
		f.Kind = defaultKind
	}
	switch f.Severity {
	case types.SeverityCritical, types.SeverityHigh, types.SeverityMedium, types.SeverityLow:
	default:
		f.Severity = types.SeverityLow
	}
	return f
}

// summarizeCases renders similar prior cases as prompt context lines.
func summarizeCases(cases []casebook.ScoredCase) string {
	if len(cases) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Prior similar projects (outcome, score, iterations):\n")
	for _, sc := range cases {
		outcome := "failed"
		if sc.Case.Success {
			outcome = "succeeded"
		}
		fmt.Fprintf(&b, "- %s: %s, score %d, %d iterations\n",
			sc.Case.Fingerprint, outcome, sc.Case.FinalScore, sc.Case.Iterations)
	}
	return b.String()
}

// summarizeFindings renders prior findings as prompt context lines.
func summarizeFindings(findings []types.Finding) string {
	if len(findings) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Issues found in the previous version (fix all of them):\n")
	for _, f := range findings {
		if f.Location != "" {
			fmt.Fprintf(&b, "- [%s/%s] %s (%s)\n", f.Kind, f.Severity, f.Message, f.Location)
			continue
		}
		fmt.Fprintf(&b, "- [%s/%s] %s\n", f.Kind, f.Severity, f.Message)
	}
	return b.String()
}
