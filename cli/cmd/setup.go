package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/crucible/adapter"
	"github.com/pithecene-io/crucible/adapter/redis"
	"github.com/pithecene-io/crucible/adapter/webhook"
	"github.com/pithecene-io/crucible/config"
)

// loadConfig resolves the effective configuration for a command.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// buildAdapter constructs the configured downstream adapter, or nil
// when none is configured.
func buildAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	retries := -1
	if cfg.Retries != nil {
		retries = *cfg.Retries
	}

	switch cfg.Type {
	case "":
		return nil, nil
	case "redis":
		rc := redis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
		}
		if retries >= 0 {
			rc.Retries = retries
		} else {
			rc.Retries = redis.DefaultRetries
		}
		return redis.New(rc)
	case "webhook":
		wc := webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
		}
		if retries >= 0 {
			wc.Retries = retries
		} else {
			wc.Retries = webhook.DefaultRetries
		}
		return webhook.New(wc)
	default:
		return nil, fmt.Errorf("unknown adapter type %q", cfg.Type)
	}
}
