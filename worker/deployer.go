package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/pithecene-io/crucible/completion"
	"github.com/pithecene-io/crucible/types"
)

// Deployer prepares the delivery of the winning artifact version.
// The engine retries Deployer failures with exponential backoff up to
// a small fixed bound.
type Deployer struct {
	client completion.Client
}

// Role implements Worker.
func (d *Deployer) Role() types.WorkerRole { return types.RoleDeployer }

type deployerResponse struct {
	Status string `json:"status"`
	URL    string `json:"url,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

// Run produces the deployment report for the version.
func (d *Deployer) Run(ctx context.Context, in StageInput) (StageOutput, error) {
	if in.Version == nil {
		return StageOutput{}, types.NewStageError(types.ErrFatalWorker,
			types.StageDeploying, d.Role(), fmt.Errorf("no version to deploy"))
	}

	var b strings.Builder
	b.WriteString("Produce a deployment plan and manifest for the following project files. ")
	b.WriteString(`Respond with JSON only: {"status": "ok|failed", "url": "<optional endpoint>", "notes": "<optional>"}.`)
	b.WriteString("\n\n")
	writeContent(&b, in.Version.Content)

	raw, err := d.client.Complete(ctx, b.String(), completion.Options{Role: string(d.Role())})
	if err != nil {
		return StageOutput{}, err
	}

	var resp deployerResponse
	if err := decodeResponse(raw, types.StageDeploying, d.Role(), &resp); err != nil {
		return StageOutput{}, err
	}
	if resp.Status != "ok" {
		return StageOutput{}, types.NewStageError(types.ErrTransientWorker,
			types.StageDeploying, d.Role(), fmt.Errorf("deploy reported %q: %s", resp.Status, resp.Notes))
	}

	report := map[string]any{"status": resp.Status}
	if resp.URL != "" {
		report["url"] = resp.URL
	}
	if resp.Notes != "" {
		report["notes"] = resp.Notes
	}
	return StageOutput{Report: report}, nil
}
