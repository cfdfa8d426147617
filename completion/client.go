// Package completion defines the text-completion service boundary.
//
// The engine never models prompt construction or output interpretation;
// it consumes this capability interface and its fixed error taxonomy.
// Any implementation substitutes a concrete client.
package completion

import (
	"context"
	"time"
)

// Options tune a single completion call.
type Options struct {
	// Role labels the calling worker, for provider-side routing/telemetry.
	Role string
	// Timeout bounds the call. Zero means the caller's context governs.
	Timeout time.Duration
}

// Client is the uniform interface to the external completion capability.
// Complete must observe ctx cancellation and return a typed error from
// this package's taxonomy rather than being forcibly killed.
type Client interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}
