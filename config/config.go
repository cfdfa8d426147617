package config

import (
	"fmt"
	"time"
)

// Config represents a crucible.yaml configuration file.
// Zero values are replaced by defaults in ApplyDefaults; Validate
// rejects values that cannot be defaulted away.
type Config struct {
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Completion CompletionConfig `yaml:"completion"`
	Hub        HubConfig        `yaml:"hub"`
	Registry   RegistryConfig   `yaml:"registry"`
	Store      StoreConfig      `yaml:"store"`
	Gate       GateConfig       `yaml:"gate"`
	Adapter    AdapterConfig    `yaml:"adapter"`
}

// PipelineConfig is the single authoritative retry/quality policy.
// The engine reads thresholds from here and nowhere else.
type PipelineConfig struct {
	// PassScore is the minimum quality score to advance past the
	// develop→evaluate loop.
	PassScore int `yaml:"pass_score"`
	// MaxIterations bounds the develop→evaluate loop.
	MaxIterations int `yaml:"max_iterations"`
	// DeployRetries bounds Deployer retries.
	DeployRetries int `yaml:"deploy_retries"`
	// WorkerTimeout bounds a single worker invocation.
	WorkerTimeout Duration `yaml:"worker_timeout"`
	// Frontend enables the optional frontend development pass.
	Frontend bool `yaml:"frontend"`
	// SimilarCases is how many prior cases to feed Documenter/Developer.
	SimilarCases int `yaml:"similar_cases"`
}

// CompletionConfig holds completion-service client defaults.
type CompletionConfig struct {
	// Command is the external completion command to invoke
	// (prompt on stdin, completion on stdout). Used by the CLI.
	Command string `yaml:"command"`
	// Args are extra arguments for Command.
	Args []string `yaml:"args,omitempty"`
	// MaxAttempts bounds retries of rate-limited/unavailable calls
	// (1 initial + MaxAttempts-1 retries).
	MaxAttempts int `yaml:"max_attempts"`
	// BaseBackoff is the initial backoff; doubles per retry.
	BaseBackoff Duration `yaml:"base_backoff"`
}

// HubConfig holds event hub tuning.
type HubConfig struct {
	// RingSize is the per-run replay buffer size.
	RingSize int `yaml:"ring_size"`
	// SubscriberQueue is the per-subscriber bounded queue size.
	SubscriberQueue int `yaml:"subscriber_queue"`
	// HeartbeatInterval is the idle keepalive interval.
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	// MaxMissedHeartbeats is the strike count before eviction.
	MaxMissedHeartbeats int `yaml:"max_missed_heartbeats"`
}

// RegistryConfig holds run registry tuning.
type RegistryConfig struct {
	// Retention is how long terminal runs stay queryable before eviction.
	Retention Duration `yaml:"retention"`
}

// StoreConfig holds durable store settings.
type StoreConfig struct {
	// Path is the sqlite database path. ":memory:" is valid for tests.
	Path string `yaml:"path"`
}

// GateConfig holds rubric bonus rules. Deduction arithmetic is fixed.
type GateConfig struct {
	// Bonuses are positive rubric signals, capped at +15 total.
	Bonuses []BonusRule `yaml:"bonuses,omitempty"`
}

// BonusRule awards points when a version metric meets a threshold.
type BonusRule struct {
	// Metric is the version metric key (e.g. "coverage").
	Metric string `yaml:"metric"`
	// Threshold is the minimum metric value for the award.
	Threshold float64 `yaml:"threshold"`
	// Points is the award, positive.
	Points int `yaml:"points"`
}

// AdapterConfig holds downstream notification adapter settings.
type AdapterConfig struct {
	Type    string            `yaml:"type"` // "", "redis" or "webhook"
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Defaults mirrored from the original system's scattered constants,
// consolidated into one policy per the redesign notes.
const (
	DefaultPassScore           = 80
	DefaultMaxIterations       = 5
	DefaultDeployRetries       = 3
	DefaultWorkerTimeout       = 120 * time.Second
	DefaultSimilarCases        = 3
	DefaultMaxAttempts         = 4
	DefaultBaseBackoff         = 500 * time.Millisecond
	DefaultRingSize            = 100
	DefaultSubscriberQueue     = 32
	DefaultHeartbeatInterval   = 15 * time.Second
	DefaultMaxMissedHeartbeats = 4
	DefaultRetention           = 10 * time.Minute
)

// ApplyDefaults fills zero-valued tunables.
func (c *Config) ApplyDefaults() {
	if c.Pipeline.PassScore == 0 {
		c.Pipeline.PassScore = DefaultPassScore
	}
	if c.Pipeline.MaxIterations == 0 {
		c.Pipeline.MaxIterations = DefaultMaxIterations
	}
	if c.Pipeline.DeployRetries == 0 {
		c.Pipeline.DeployRetries = DefaultDeployRetries
	}
	if c.Pipeline.WorkerTimeout.Duration == 0 {
		c.Pipeline.WorkerTimeout.Duration = DefaultWorkerTimeout
	}
	if c.Pipeline.SimilarCases == 0 {
		c.Pipeline.SimilarCases = DefaultSimilarCases
	}
	if c.Completion.MaxAttempts == 0 {
		c.Completion.MaxAttempts = DefaultMaxAttempts
	}
	if c.Completion.BaseBackoff.Duration == 0 {
		c.Completion.BaseBackoff.Duration = DefaultBaseBackoff
	}
	if c.Hub.RingSize == 0 {
		c.Hub.RingSize = DefaultRingSize
	}
	if c.Hub.SubscriberQueue == 0 {
		c.Hub.SubscriberQueue = DefaultSubscriberQueue
	}
	if c.Hub.HeartbeatInterval.Duration == 0 {
		c.Hub.HeartbeatInterval.Duration = DefaultHeartbeatInterval
	}
	if c.Hub.MaxMissedHeartbeats == 0 {
		c.Hub.MaxMissedHeartbeats = DefaultMaxMissedHeartbeats
	}
	if c.Registry.Retention.Duration == 0 {
		c.Registry.Retention.Duration = DefaultRetention
	}
	if c.Store.Path == "" {
		c.Store.Path = "crucible.db"
	}
}

// Validate rejects values that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Pipeline.PassScore < 0 || c.Pipeline.PassScore > 100 {
		return fmt.Errorf("pipeline.pass_score must be in [0,100], got %d", c.Pipeline.PassScore)
	}
	if c.Pipeline.MaxIterations < 1 {
		return fmt.Errorf("pipeline.max_iterations must be >= 1, got %d", c.Pipeline.MaxIterations)
	}
	if c.Pipeline.DeployRetries < 0 {
		return fmt.Errorf("pipeline.deploy_retries must be >= 0, got %d", c.Pipeline.DeployRetries)
	}
	if c.Completion.MaxAttempts < 1 {
		return fmt.Errorf("completion.max_attempts must be >= 1, got %d", c.Completion.MaxAttempts)
	}
	if c.Hub.RingSize < 1 {
		return fmt.Errorf("hub.ring_size must be >= 1, got %d", c.Hub.RingSize)
	}
	if c.Hub.SubscriberQueue < 1 {
		return fmt.Errorf("hub.subscriber_queue must be >= 1, got %d", c.Hub.SubscriberQueue)
	}
	for _, b := range c.Gate.Bonuses {
		if b.Metric == "" {
			return fmt.Errorf("gate bonus rule missing metric")
		}
		if b.Points <= 0 {
			return fmt.Errorf("gate bonus points must be > 0, got %d for %q", b.Points, b.Metric)
		}
	}
	switch c.Adapter.Type {
	case "", "redis", "webhook":
	default:
		return fmt.Errorf("unknown adapter type %q", c.Adapter.Type)
	}
	return nil
}
