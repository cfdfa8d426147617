package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/pithecene-io/crucible/completion"
	"github.com/pithecene-io/crucible/types"
)

// Documenter turns the raw request into a project document for human
// approval. A Documenter failure has no prior artifact to fall back on,
// so the engine fails the run without retrying this stage.
type Documenter struct {
	client completion.Client
}

// Role implements Worker.
func (d *Documenter) Role() types.WorkerRole { return types.RoleDocumenter }

// Run generates the project document. The response is free text, not JSON.
func (d *Documenter) Run(ctx context.Context, in StageInput) (StageOutput, error) {
	var b strings.Builder
	b.WriteString("Write a concise software project document for the request below. ")
	b.WriteString("Cover goals, scope, deliverables and acceptance criteria. ")
	b.WriteString("Return only the document text.\n\n")
	if ctxLines := summarizeCases(in.SimilarCases); ctxLines != "" {
		b.WriteString(ctxLines)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Request:\n%s\n", in.Request.Text)

	doc, err := d.client.Complete(ctx, b.String(), completion.Options{Role: string(d.Role())})
	if err != nil {
		return StageOutput{}, err
	}

	doc = strings.TrimSpace(doc)
	if doc == "" {
		return StageOutput{}, types.NewStageError(types.ErrFatalWorker,
			types.StageDocumenting, d.Role(), fmt.Errorf("empty document"))
	}
	return StageOutput{Document: doc}, nil
}
