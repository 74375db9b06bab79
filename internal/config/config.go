// Package config loads the runtime configuration from YAML or JSON5 files,
// resolving $include directives and environment variable references.
package config

import (
	"fmt"
	"time"

	"github.com/shepherd-ai/shepherd/internal/observability"
)

// Config is the top-level runtime configuration.
type Config struct {
	Server     ServerConfig              `yaml:"server" json:"server"`
	Model      ModelConfig               `yaml:"model" json:"model"`
	Store      StoreConfig               `yaml:"store" json:"store"`
	Profiles   ProfilesConfig            `yaml:"profiles" json:"profiles"`
	Router     RouterConfig              `yaml:"router" json:"router"`
	Compaction CompactionConfig          `yaml:"compaction" json:"compaction"`
	Approvals  ApprovalsConfig           `yaml:"approvals" json:"approvals"`
	Secrets    SecretsConfig             `yaml:"secrets" json:"secrets"`
	Logging    observability.LogConfig   `yaml:"logging" json:"logging"`
	Tracing    observability.TraceConfig `yaml:"tracing" json:"tracing"`
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr" json:"addr"`

	// AuthSecret enables JWT verification on the websocket endpoint when
	// non-empty. Tokens must be HS256-signed with this secret.
	AuthSecret string `yaml:"auth_secret" json:"auth_secret"`

	// ReadTimeout bounds request header reads.
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// ModelConfig selects and configures the model provider.
type ModelConfig struct {
	// Provider is "openai" or "anthropic".
	Provider string `yaml:"provider" json:"provider"`

	// Model is the provider model identifier.
	Model string `yaml:"model" json:"model"`

	// APIKey authenticates against the provider. Usually set via
	// ${OPENAI_API_KEY} or ${ANTHROPIC_API_KEY} expansion.
	APIKey string `yaml:"api_key" json:"api_key"`

	// BaseURL overrides the provider endpoint, for gateways and
	// OpenAI-compatible local servers.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// MaxTokens caps completion length. Zero uses the provider default.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`
}

// StoreConfig selects the conversation store backend.
type StoreConfig struct {
	// Driver is "memory", "sqlite" or "postgres".
	Driver string `yaml:"driver" json:"driver"`

	// DSN is the sqlite file path or the postgres connection string.
	DSN string `yaml:"dsn" json:"dsn"`
}

// ProfilesConfig configures the agent profile source.
type ProfilesConfig struct {
	// Dir holds one YAML profile document per agent.
	Dir string `yaml:"dir" json:"dir"`

	// Watch reloads profiles when files in Dir change.
	Watch bool `yaml:"watch" json:"watch"`

	// Insecure switches tool-server connections from https to http.
	Insecure bool `yaml:"insecure" json:"insecure"`
}

// RouterConfig configures multi-agent selection.
type RouterConfig struct {
	// FallbackAgent receives the conversation when the router produces an
	// unknown agent name. Defaults to the first enabled profile.
	FallbackAgent string `yaml:"fallback_agent" json:"fallback_agent"`

	// StickyThreshold is the consecutive-selection streak after which the
	// router recommends pinning the agent.
	StickyThreshold int `yaml:"sticky_threshold" json:"sticky_threshold"`
}

// CompactionConfig tunes history summarization.
type CompactionConfig struct {
	// Threshold is the uncovered message count that triggers compaction.
	Threshold int `yaml:"threshold" json:"threshold"`
}

// ApprovalsConfig tunes gated tool-call handling.
type ApprovalsConfig struct {
	// TTL expires suspended approvals; expired suspensions are resolved as
	// cancellations. Zero disables expiry.
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// PruneSchedule is the cron expression for the expiry sweep.
	PruneSchedule string `yaml:"prune_schedule" json:"prune_schedule"`
}

// SecretsConfig configures credential lookup for tool-server basic auth.
type SecretsConfig struct {
	// Dir holds one YAML credentials document per secret name.
	Dir string `yaml:"dir" json:"dir"`
}

// Default returns a Config with production defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Model: ModelConfig{
			Provider: "openai",
			Model:    "gpt-4o",
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		Profiles: ProfilesConfig{
			Dir:   "profiles",
			Watch: true,
		},
		Router: RouterConfig{
			StickyThreshold: 3,
		},
		Compaction: CompactionConfig{
			Threshold: 7,
		},
		Approvals: ApprovalsConfig{
			PruneSchedule: "@every 1m",
		},
		Logging: observability.LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks cross-field constraints that the schema cannot express.
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown model provider %q", c.Model.Provider)
	}
	if c.Model.Model == "" {
		return fmt.Errorf("model name is required")
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store driver %q requires a dsn", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.Compaction.Threshold < 2 {
		return fmt.Errorf("compaction threshold must be at least 2, got %d", c.Compaction.Threshold)
	}
	if c.Router.StickyThreshold < 1 {
		return fmt.Errorf("sticky threshold must be positive, got %d", c.Router.StickyThreshold)
	}
	return nil
}
