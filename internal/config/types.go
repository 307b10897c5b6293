package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/scaffoldd/internal/logging"
)

// Secret is a string that redacts itself when printed or marshaled.
type Secret string

// String implements fmt.Stringer. Always returns redacted value.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer for %#v formatting.
func (s Secret) GoString() string {
	return "Secret([REDACTED])"
}

// Value returns the actual secret value. Use sparingly.
func (s Secret) Value() string {
	return string(s)
}

// IsSet returns true if the secret has a non-empty value.
func (s Secret) IsSet() bool {
	return s != ""
}

// MarshalJSON implements json.Marshaler. Always returns redacted value.
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("[REDACTED]")
}

// Config is the root scaffoldd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    logging.Config   `koanf:"logging"`
	SCM        SCMConfig        `koanf:"scm"`
	Completion CompletionConfig `koanf:"completion"`
	Templates  TemplatesConfig  `koanf:"templates"`
	Workspace  WorkspaceConfig  `koanf:"workspace"`
	Sessions   SessionsConfig   `koanf:"sessions"`
	Compliance ComplianceConfig `koanf:"compliance"`
	Polling    PollingConfig    `koanf:"polling"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	EventBuffer     int           `koanf:"event_buffer"`
}

// SCMConfig selects and configures the source-control provider.
type SCMConfig struct {
	// Platform is "github" or "azuredevops".
	Platform      string `koanf:"platform"`
	Organization  string `koanf:"organization"`
	DefaultBranch string `koanf:"default_branch"`
	Token         Secret `koanf:"token"`
	// BaseURL overrides the API endpoint (Azure DevOps org URL, GHE, tests).
	BaseURL string `koanf:"base_url"`
	// RateLimit is the sustained API request rate per second.
	RateLimit float64 `koanf:"rate_limit"`
}

// CompletionConfig configures the natural-language completion provider
// used for requirement extraction.
type CompletionConfig struct {
	Enabled bool   `koanf:"enabled"`
	Model   string `koanf:"model"`
	APIKey  Secret `koanf:"api_key"`
}

// TemplatesConfig locates the template catalog.
type TemplatesConfig struct {
	Dir   string `koanf:"dir"`
	Watch bool   `koanf:"watch"`
}

// WorkspaceConfig locates per-session working directories.
type WorkspaceConfig struct {
	Root string `koanf:"root"`
}

// SessionsConfig controls the session registry.
type SessionsConfig struct {
	// MaxIdle is how long an inactive session survives before eviction.
	MaxIdle       time.Duration `koanf:"max_idle"`
	EvictInterval time.Duration `koanf:"evict_interval"`
}

// ComplianceConfig tunes the compliance module pipeline.
type ComplianceConfig struct {
	// Critical lists module IDs whose failure fails the whole session.
	Critical []string `koanf:"critical"`
	// RequireSBOM forces the SBOM module on regardless of request features.
	RequireSBOM bool `koanf:"require_sbom"`
	// AllowedLanguages restricts what the policy engine accepts; empty allows all.
	AllowedLanguages []string `koanf:"allowed_languages"`
}

// PollingConfig bounds remote pipeline-status polling.
type PollingConfig struct {
	MaxAttempts    int           `koanf:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
}

// NewDefaultConfig returns the hardcoded defaults, before file and env overrides.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8096,
			ShutdownTimeout: 10 * time.Second,
			EventBuffer:     64,
		},
		Logging: *logging.NewDefaultConfig(),
		SCM: SCMConfig{
			Platform:      "github",
			DefaultBranch: "main",
			RateLimit:     5,
		},
		Completion: CompletionConfig{
			Enabled: false,
			Model:   "gpt-4o-mini",
		},
		Templates: TemplatesConfig{
			Dir:   "templates",
			Watch: true,
		},
		Workspace: WorkspaceConfig{
			Root: "workspaces",
		},
		Sessions: SessionsConfig{
			MaxIdle:       2 * time.Hour,
			EvictInterval: 5 * time.Minute,
		},
		Polling: PollingConfig{
			MaxAttempts:    10,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
	}
}

// Validate checks configuration for hard errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.EventBuffer <= 0 {
		return fmt.Errorf("server event_buffer must be > 0, got %d", c.Server.EventBuffer)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	switch c.SCM.Platform {
	case "github", "azuredevops":
	default:
		return fmt.Errorf("scm platform must be 'github' or 'azuredevops', got %q", c.SCM.Platform)
	}
	if c.SCM.DefaultBranch == "" {
		return fmt.Errorf("scm default_branch must not be empty")
	}
	if c.Templates.Dir == "" {
		return fmt.Errorf("templates dir must not be empty")
	}
	if c.Workspace.Root == "" {
		return fmt.Errorf("workspace root must not be empty")
	}
	if c.Sessions.MaxIdle <= 0 {
		return fmt.Errorf("sessions max_idle must be > 0")
	}
	if c.Polling.MaxAttempts <= 0 {
		return fmt.Errorf("polling max_attempts must be > 0")
	}
	return nil
}

// Warnings returns non-fatal configuration problems. The health endpoint
// reports a degraded status while any warning is present.
func (c *Config) Warnings() []string {
	var warnings []string
	if !c.SCM.Token.IsSet() {
		warnings = append(warnings, fmt.Sprintf("scm token for %s is not set; delivery will fail", c.SCM.Platform))
	}
	if c.SCM.Organization == "" {
		warnings = append(warnings, "scm organization is not set")
	}
	if c.Completion.Enabled && !c.Completion.APIKey.IsSet() {
		warnings = append(warnings, "completion enabled but api_key is not set; falling back to heuristics")
	}
	return warnings
}
