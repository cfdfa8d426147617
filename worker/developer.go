package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/pithecene-io/crucible/completion"
	"github.com/pithecene-io/crucible/types"
)

// Developer produces artifact versions from the approved document.
// On retries it receives the preceding evaluation's findings and must
// address them in the next version.
type Developer struct {
	client completion.Client
}

// Role implements Worker.
func (d *Developer) Role() types.WorkerRole { return types.RoleDeveloper }

type developerResponse struct {
	Files map[string]string `json:"files"`
	Notes string            `json:"notes,omitempty"`
}

// Run generates the next artifact version's content blocks.
func (d *Developer) Run(ctx context.Context, in StageInput) (StageOutput, error) {
	stage := types.StageDeveloping
	if in.Frontend {
		stage = types.StageFrontend
	}

	var b strings.Builder
	if in.Frontend {
		b.WriteString("Generate the user-facing frontend for the project below. ")
	} else {
		b.WriteString("Implement the project described by the document below. ")
	}
	b.WriteString(`Respond with JSON only: {"files": {"<path>": "<content>", ...}, "notes": "<optional>"}.`)
	b.WriteString("\n\n")

	if ctxLines := summarizeCases(in.SimilarCases); ctxLines != "" {
		b.WriteString(ctxLines)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Project document:\n%s\n", in.Document)

	if in.Version != nil && len(in.PriorFindings) > 0 {
		b.WriteString("\n")
		b.WriteString(summarizeFindings(in.PriorFindings))
		fmt.Fprintf(&b, "\nThis is revision attempt %d. Previous version had %d files.\n",
			in.Iteration+1, len(in.Version.Content))
	}

	raw, err := d.client.Complete(ctx, b.String(), completion.Options{Role: string(d.Role())})
	if err != nil {
		return StageOutput{}, err
	}

	var resp developerResponse
	if err := decodeResponse(raw, stage, d.Role(), &resp); err != nil {
		return StageOutput{}, err
	}
	if len(resp.Files) == 0 {
		return StageOutput{}, types.NewStageError(types.ErrFatalWorker, stage, d.Role(),
			fmt.Errorf("response contains no files"))
	}
	return StageOutput{Content: resp.Files}, nil
}
