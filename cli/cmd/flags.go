// Package cmd provides CLI commands for the crucible binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags.
var (
	// ConfigFlag selects the YAML config file. Without it, built-in
	// defaults apply.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to YAML config file",
		EnvVars: []string{"CRUCIBLE_CONFIG"},
	}

	// QuietFlag suppresses the event stream on stdout.
	QuietFlag = &cli.BoolFlag{
		Name:  "quiet",
		Usage: "Suppress event output, print only the final summary",
	}
)
