package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration for codex-webapp.
//
// Provider API keys are never read from this file; they come from the
// environment (OPENAI_API_KEY, ANTHROPIC_API_KEY) so the config can be
// checked into a dotfiles repo without leaking secrets.
type Config struct {
	// ListenAddr is the HTTP listen address, e.g. "127.0.0.1:8787".
	ListenAddr string `yaml:"listen_addr,omitempty"`

	// DataDir holds the SQLite database and per-session workspaces.
	// If empty, it defaults to ~/.codex-webapp.
	DataDir string `yaml:"data_dir,omitempty"`

	Chat ChatConfig `yaml:"chat"`

	// LogFormat is "json" or "text".
	LogFormat string `yaml:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `yaml:"log_level,omitempty"`
}

// ChatConfig controls turn execution against the agent runtime.
//
// Provider, Model and ReasoningEffort are startup defaults only: once the
// server is running they live in the settings store and can be changed over
// the API (which clears the thread cache, since a live thread is bound to the
// configuration in effect when it was created).
type ChatConfig struct {
	// Provider selects the agent backend: "openai" or "anthropic".
	Provider string `yaml:"provider,omitempty"`
	// Model is the provider model id, e.g. "gpt-5.2-codex".
	Model string `yaml:"model,omitempty"`
	// ReasoningEffort is "minimal|low|medium|high" (OpenAI only).
	ReasoningEffort string `yaml:"reasoning_effort,omitempty"`

	// Instructions is the fixed operating preamble prepended to every turn.
	Instructions string `yaml:"instructions,omitempty"`

	// StallTimeout fails a turn when no agent event arrives for the duration.
	// When zero, it defaults to 2 minutes.
	StallTimeout time.Duration `yaml:"stall_timeout,omitempty"`
	// MaxWallTime is the hard cap for a single turn's lifetime.
	// When zero, it defaults to 15 minutes.
	MaxWallTime time.Duration `yaml:"max_wall_time,omitempty"`
	// StreamWriteTimeout is the per-frame write deadline for the NDJSON stream.
	// When zero, it defaults to 5 seconds.
	StreamWriteTimeout time.Duration `yaml:"stream_write_timeout,omitempty"`

	// MaxAttachments caps the attachment count per message. Default 4.
	MaxAttachments int `yaml:"max_attachments,omitempty"`
	// MaxAttachmentBytes caps a single decoded attachment. Default 5 MiB.
	MaxAttachmentBytes int64 `yaml:"max_attachment_bytes,omitempty"`
}

const (
	DefaultListenAddr      = "127.0.0.1:8787"
	DefaultProvider        = "openai"
	DefaultModel           = "gpt-5.2-codex"
	DefaultReasoningEffort = "medium"

	DefaultStallTimeout       = 2 * time.Minute
	DefaultMaxWallTime        = 15 * time.Minute
	DefaultStreamWriteTimeout = 5 * time.Second

	DefaultMaxAttachments     = 4
	DefaultMaxAttachmentBytes = 5 << 20
)

// DefaultInstructions is the operating preamble sent ahead of every user turn.
const DefaultInstructions = "You are a coding assistant working inside a per-session workspace directory. " +
	"Files the user attaches are saved under the workspace's attachments directory; " +
	"read them from the paths listed in the message. Keep answers concise."

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown log_format: %s", c.LogFormat)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log_level: %s", c.LogLevel)
	}
	if err := c.Chat.Validate(); err != nil {
		return fmt.Errorf("invalid chat config: %w", err)
	}
	return nil
}

func (c *ChatConfig) Validate() error {
	if c == nil {
		return errors.New("nil chat config")
	}
	switch strings.ToLower(strings.TrimSpace(c.Provider)) {
	case "", "openai", "anthropic":
	default:
		return fmt.Errorf("unknown provider: %s", c.Provider)
	}
	switch strings.ToLower(strings.TrimSpace(c.ReasoningEffort)) {
	case "", "minimal", "low", "medium", "high":
	default:
		return fmt.Errorf("unknown reasoning_effort: %s", c.ReasoningEffort)
	}
	if c.StallTimeout < 0 || c.MaxWallTime < 0 || c.StreamWriteTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.MaxAttachments < 0 {
		return errors.New("max_attachments must not be negative")
	}
	if c.MaxAttachmentBytes < 0 {
		return errors.New("max_attachment_bytes must not be negative")
	}
	return nil
}

func (c *ChatConfig) EffectiveProvider() string {
	if c == nil {
		return DefaultProvider
	}
	if v := strings.ToLower(strings.TrimSpace(c.Provider)); v != "" {
		return v
	}
	return DefaultProvider
}

func (c *ChatConfig) EffectiveModel() string {
	if c == nil {
		return DefaultModel
	}
	if v := strings.TrimSpace(c.Model); v != "" {
		return v
	}
	return DefaultModel
}

func (c *ChatConfig) EffectiveReasoningEffort() string {
	if c == nil {
		return DefaultReasoningEffort
	}
	if v := strings.ToLower(strings.TrimSpace(c.ReasoningEffort)); v != "" {
		return v
	}
	return DefaultReasoningEffort
}

func (c *ChatConfig) EffectiveInstructions() string {
	if c == nil {
		return DefaultInstructions
	}
	if v := strings.TrimSpace(c.Instructions); v != "" {
		return v
	}
	return DefaultInstructions
}

func (c *ChatConfig) EffectiveStallTimeout() time.Duration {
	if c == nil || c.StallTimeout <= 0 {
		return DefaultStallTimeout
	}
	return c.StallTimeout
}

func (c *ChatConfig) EffectiveMaxWallTime() time.Duration {
	if c == nil || c.MaxWallTime <= 0 {
		return DefaultMaxWallTime
	}
	return c.MaxWallTime
}

func (c *ChatConfig) EffectiveStreamWriteTimeout() time.Duration {
	if c == nil || c.StreamWriteTimeout <= 0 {
		return DefaultStreamWriteTimeout
	}
	return c.StreamWriteTimeout
}

func (c *ChatConfig) EffectiveMaxAttachments() int {
	if c == nil || c.MaxAttachments <= 0 {
		return DefaultMaxAttachments
	}
	return c.MaxAttachments
}

func (c *ChatConfig) EffectiveMaxAttachmentBytes() int64 {
	if c == nil || c.MaxAttachmentBytes <= 0 {
		return DefaultMaxAttachmentBytes
	}
	return c.MaxAttachmentBytes
}

// DefaultConfigPath returns the default config path:
//
//	~/.codex-webapp/config.yaml
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "codex-webapp.config.yaml"
	}
	return filepath.Join(home, ".codex-webapp", "config.yaml")
}

// DefaultDataDir returns ~/.codex-webapp, falling back to a relative dir.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "codex-webapp-data"
	}
	return filepath.Join(home, ".codex-webapp")
}

// Load reads the config file at path. A missing file yields a config of pure
// defaults rather than an error, so first runs need no setup step.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := &Config{}
			applyEnvOverrides(cfg)
			return cfg, cfg.Validate()
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(os.Getenv("CODEX_WEBAPP_LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("CODEX_WEBAPP_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("CODEX_WEBAPP_PROVIDER")); v != "" {
		cfg.Chat.Provider = v
	}
	if v := strings.TrimSpace(os.Getenv("CODEX_WEBAPP_MODEL")); v != "" {
		cfg.Chat.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("CODEX_WEBAPP_REASONING_EFFORT")); v != "" {
		cfg.Chat.ReasoningEffort = v
	}
}
