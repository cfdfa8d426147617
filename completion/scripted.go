package completion

import (
	"context"
	"errors"
	"sync"
)

// ScriptedClient returns canned responses in order. For tests and
// offline dry runs. Each entry is either a response string or an error;
// the script is consumed one entry per call. After the script is
// exhausted, calls fail as service unavailable.
type ScriptedClient struct {
	mu      sync.Mutex
	script  []ScriptEntry
	next    int
	prompts []string
}

// ScriptEntry is one scripted call result.
type ScriptEntry struct {
	Response string
	Err      error
}

// NewScripted creates a scripted client.
func NewScripted(entries ...ScriptEntry) *ScriptedClient {
	return &ScriptedClient{script: entries}
}

// Complete returns the next scripted entry.
func (c *ScriptedClient) Complete(ctx context.Context, prompt string, _ Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", NewError(ErrTimeout, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.prompts = append(c.prompts, prompt)
	if c.next >= len(c.script) {
		return "", NewError(ErrServiceUnavailable, errors.New("script exhausted"))
	}
	entry := c.script[c.next]
	c.next++

	if entry.Err != nil {
		return "", entry.Err
	}
	return entry.Response, nil
}

// Prompts returns a copy of all prompts seen, in call order.
func (c *ScriptedClient) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

// Calls returns how many Complete calls were made.
func (c *ScriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}

// Verify ScriptedClient implements Client.
var _ Client = (*ScriptedClient)(nil)
