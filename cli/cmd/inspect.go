package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/crucible/iox"
	"github.com/pithecene-io/crucible/store"
)

// InspectCommand returns the inspect command. Read-only: renders the
// durable checkpoint of a run, live or finished.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Show the stored state of a run",
		ArgsUsage: "<run-id>",
		Flags: []cli.Flag{
			ConfigFlag,
			&cli.BoolFlag{
				Name:  "content",
				Usage: "Include artifact content blocks in the output",
			},
		},
		Action: inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: crucible inspect <run-id>", exitInternal)
	}
	runID := c.Args().First()

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInternal)
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("open store: %v", err), exitInternal)
	}
	defer iox.DiscardClose(st)

	run, err := st.LoadCheckpoint(c.Context, runID)
	if errors.Is(err, store.ErrNotFound) {
		return cli.Exit(fmt.Sprintf("run %s not found", runID), exitPipeline)
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("load checkpoint: %v", err), exitInternal)
	}

	if !c.Bool("content") {
		// Content blocks can be large; strip them unless asked for.
		for i := range run.Versions {
			run.Versions[i].Content = map[string]string{
				"(blocks)": fmt.Sprintf("%d omitted, use --content", len(run.Versions[i].Content)),
			}
		}
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(run)
}
