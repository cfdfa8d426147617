package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/crucible/casebook"
	"github.com/pithecene-io/crucible/iox"
	"github.com/pithecene-io/crucible/store"
)

// StatsResponse aggregates case memory statistics.
type StatsResponse struct {
	TotalCases   int64   `json:"total_cases"`
	Succeeded    int64   `json:"succeeded"`
	SuccessRate  float64 `json:"success_rate"`
	AverageScore float64 `json:"average_score"`
}

// StatsCommand returns the stats command. Read-only: derived facts
// from the case memory.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:   "stats",
		Usage:  "Show case memory statistics",
		Flags:  []cli.Flag{ConfigFlag},
		Action: statsAction,
	}
}

func statsAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInternal)
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("open store: %v", err), exitInternal)
	}
	defer iox.DiscardClose(st)

	stats, err := casebook.New(st).Stats(c.Context)
	if err != nil {
		return cli.Exit(fmt.Sprintf("stats: %v", err), exitInternal)
	}

	resp := StatsResponse{
		TotalCases:   stats.Total,
		Succeeded:    stats.Succeeded,
		AverageScore: stats.AverageScore,
	}
	if stats.Total > 0 {
		resp.SuccessRate = float64(stats.Succeeded) / float64(stats.Total)
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
