package completion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandClient invokes an external completion command, feeding the
// prompt on stdin and reading the completion from stdout. This is the
// CLI-facing client; services substitute their own Client.
type CommandClient struct {
	command string
	args    []string
}

// NewCommand creates a command-backed completion client.
func NewCommand(command string, args ...string) (*CommandClient, error) {
	if command == "" {
		return nil, errors.New("completion command must be non-empty")
	}
	return &CommandClient{command: command, args: args}, nil
}

// Complete runs the command once. Exit failures classify as service
// unavailable; a missing binary classifies as invalid request since no
// retry can repair it.
func (c *CommandClient) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.command, c.args...)
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return "", NewError(ErrTimeout, fmt.Errorf("%s after %s: %w", c.command, time.Since(start), ctx.Err()))
		}
		if _, lookErr := exec.LookPath(c.command); lookErr != nil {
			return "", NewError(ErrInvalidRequest, fmt.Errorf("completion command not found: %w", lookErr))
		}
		return "", NewError(ErrServiceUnavailable,
			fmt.Errorf("%s: %s: %w", c.command, strings.TrimSpace(stderr.String()), err))
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return "", NewError(ErrServiceUnavailable, errors.New("empty completion response"))
	}
	return out, nil
}

// Verify CommandClient implements Client.
var _ Client = (*CommandClient)(nil)
