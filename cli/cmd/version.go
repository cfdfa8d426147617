package cmd

import (
	"encoding/json"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/crucible/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// VersionCommand returns the version command.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(VersionResponse{
				Version: types.Version,
				Commit:  commit,
			})
		},
	}
}
