// Package config loads the process-wide operational toggles for autoheal.
// Values come from an optional YAML file, overridden by environment
// variables (a .env file in the working directory is loaded first).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider kinds understood by the AI orchestrator
const (
	KindAnthropic = "anthropic"
	KindGemini    = "gemini"
	KindOpenAI    = "openai"
)

// Config holds everything read at process start.
// It is treated as immutable once Load returns.
type Config struct {
	// Target is the monitored application
	Target TargetConfig `yaml:"target"`

	// AutoFix permits the fix publisher to run at all.
	// Default: true
	AutoFix bool `yaml:"auto-fix"`

	// AutoDeploy permits merging an opened pull request without review.
	// Default: false
	AutoDeploy bool `yaml:"auto-deploy"`

	// RequireMatch turns a find/replace change whose oldText is absent
	// into a publish failure instead of a silent no-op.
	// Default: true
	RequireMatch *bool `yaml:"require-match,omitempty"`

	// OwnerChannelID is the notification recipient
	OwnerChannelID string `yaml:"owner-channel-id"`

	History   HistoryConfig   `yaml:"history"`
	Providers []ProviderConfig `yaml:"providers"`
	GitHub    GitHubConfig    `yaml:"github"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	App       AppContext      `yaml:"app"`

	// ControlAddr is the listen address of the status/control HTTP server.
	// Empty disables the server. Default: "127.0.0.1:8787"
	ControlAddr string `yaml:"control-addr"`

	// MemoryFile is where remediation records are persisted.
	// Default: "autoheal_memory.json"
	MemoryFile string `yaml:"memory-file"`

	LogLevel string `yaml:"log-level"`
	LogFile  string `yaml:"log-file"`
}

// TargetConfig configures the reachability probe
type TargetConfig struct {
	URL string `yaml:"url"`

	// Interval between probe cycles. Default: "120s", minimum "10s"
	Interval string `yaml:"interval"`

	// Timeout of a single probe. Default: "10s", minimum "1s"
	Timeout string `yaml:"timeout"`
}

// HistoryConfig bounds the in-memory error history
type HistoryConfig struct {
	// Cap is the number of failure events retained. Default: 50
	Cap int `yaml:"cap"`

	// MaxAge drops events older than this. Default: "24h"
	MaxAge string `yaml:"max-age"`
}

// ProviderConfig describes one completion provider.
// A provider without an API key is disabled.
type ProviderConfig struct {
	Name        string  `yaml:"name"`
	Kind        string  `yaml:"kind"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api-key"`
	BaseURL     string  `yaml:"base-url,omitempty"`
	MaxTokens   int     `yaml:"max-tokens"`
	Temperature float64 `yaml:"temperature"`
	Timeout     string  `yaml:"timeout"`
}

// GitHubConfig configures the version-control hosting API
type GitHubConfig struct {
	Token         string `yaml:"token"`
	Repo          string `yaml:"repo"`
	DefaultBranch string `yaml:"default-branch"`
	APIBase       string `yaml:"api-base"`
	Timeout       string `yaml:"timeout"`
}

// TelegramConfig configures the notification channel
type TelegramConfig struct {
	Token   string `yaml:"token"`
	APIBase string `yaml:"api-base"`
}

// AppContext is the fixed application metadata embedded in diagnosis prompts
type AppContext struct {
	Name  string `yaml:"name"`
	Stack string `yaml:"stack"`
	Notes string `yaml:"notes"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{AutoFix: true}
	cfg.Providers = defaultProviders()
	cfg.Sanitize()
	return cfg
}

func defaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{Name: "Claude", Kind: KindAnthropic, Model: "claude-sonnet-4-5-20250929"},
		{Name: "Gemini", Kind: KindGemini, Model: "gemini-2.0-flash"},
		{Name: "Kimi", Kind: KindOpenAI, Model: "moonshot-v1-8k", BaseURL: "https://api.moonshot.ai/v1"},
	}
}

// Load reads .env, the optional YAML file at path, then environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{AutoFix: true}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if len(cfg.Providers) == 0 {
		cfg.Providers = defaultProviders()
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() error {
	setString(&cfg.Target.URL, "TARGET_URL")
	setString(&cfg.Target.Interval, "PROBE_INTERVAL")
	setString(&cfg.Target.Timeout, "PROBE_TIMEOUT")
	setString(&cfg.OwnerChannelID, "OWNER_CHAT_ID")
	setString(&cfg.GitHub.Token, "GITHUB_TOKEN")
	setString(&cfg.GitHub.Repo, "GITHUB_REPO")
	setString(&cfg.GitHub.DefaultBranch, "GITHUB_DEFAULT_BRANCH")
	setString(&cfg.Telegram.Token, "TELEGRAM_TOKEN")
	setString(&cfg.ControlAddr, "AUTOHEAL_CONTROL_ADDR")
	setString(&cfg.LogLevel, "AUTOHEAL_LOG_LEVEL")

	for _, b := range []struct {
		dst *bool
		key string
	}{
		{&cfg.AutoFix, "AUTO_FIX_ENABLED"},
		{&cfg.AutoDeploy, "AUTO_DEPLOY_ENABLED"},
	} {
		if v, ok := os.LookupEnv(b.key); ok && v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", b.key, err)
			}
			*b.dst = parsed
		}
	}

	keys := map[string]string{
		KindAnthropic: "CLAUDE_API_KEY",
		KindGemini:    "GEMINI_API_KEY",
		KindOpenAI:    "KIMI_API_KEY",
	}
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.APIKey != "" {
			continue
		}
		if named := os.Getenv(strings.ToUpper(p.Name) + "_API_KEY"); named != "" {
			p.APIKey = named
			continue
		}
		if key, ok := keys[p.Kind]; ok {
			p.APIKey = os.Getenv(key)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// Sanitize fills defaults and clamps out-of-range values
func (cfg *Config) Sanitize() {
	if cfg == nil {
		return
	}

	cfg.Target.Interval = clampDuration(cfg.Target.Interval, "120s", 10*time.Second)
	cfg.Target.Timeout = clampDuration(cfg.Target.Timeout, "10s", time.Second)

	if cfg.History.Cap < 1 {
		cfg.History.Cap = 50
	}
	cfg.History.MaxAge = clampDuration(cfg.History.MaxAge, "24h", time.Minute)

	if cfg.RequireMatch == nil {
		requireMatch := true
		cfg.RequireMatch = &requireMatch
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Name == "" {
			p.Name = p.Kind
		}
		if p.MaxTokens <= 0 {
			p.MaxTokens = 1024
		}
		if p.Temperature < 0 || p.Temperature > 2 {
			p.Temperature = 0.2
		}
		p.Timeout = clampDuration(p.Timeout, "60s", time.Second)
	}

	if cfg.GitHub.DefaultBranch == "" {
		cfg.GitHub.DefaultBranch = "main"
	}
	if cfg.GitHub.APIBase == "" {
		cfg.GitHub.APIBase = "https://api.github.com"
	}
	cfg.GitHub.Timeout = clampDuration(cfg.GitHub.Timeout, "30s", time.Second)

	if cfg.Telegram.APIBase == "" {
		cfg.Telegram.APIBase = "https://api.telegram.org"
	}

	if cfg.ControlAddr == "" {
		cfg.ControlAddr = "127.0.0.1:8787"
	}
	if cfg.MemoryFile == "" {
		cfg.MemoryFile = "autoheal_memory.json"
	}
	if cfg.App.Name == "" {
		cfg.App.Name = "web application"
	}
}

func clampDuration(value, fallback string, min time.Duration) string {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < min {
		return fallback
	}
	return value
}

// Validate reports configuration that cannot be repaired by defaults
func (cfg *Config) Validate() error {
	if cfg.Target.URL == "" {
		return fmt.Errorf("target url is required (target.url or TARGET_URL)")
	}
	if cfg.GitHub.Repo != "" && strings.Count(cfg.GitHub.Repo, "/") != 1 {
		return fmt.Errorf("github repo must be owner/name, got %q", cfg.GitHub.Repo)
	}
	for _, p := range cfg.Providers {
		switch p.Kind {
		case KindAnthropic, KindGemini, KindOpenAI:
		default:
			return fmt.Errorf("provider %s: unknown kind %q", p.Name, p.Kind)
		}
	}
	return nil
}

// ProbeInterval returns the parsed probe interval
func (cfg *Config) ProbeInterval() time.Duration { return mustDuration(cfg.Target.Interval) }

// ProbeTimeout returns the parsed probe timeout
func (cfg *Config) ProbeTimeout() time.Duration { return mustDuration(cfg.Target.Timeout) }

// HistoryMaxAge returns the parsed history retention window
func (cfg *Config) HistoryMaxAge() time.Duration { return mustDuration(cfg.History.MaxAge) }

// RequireExactMatch reports the no-op change policy
func (cfg *Config) RequireExactMatch() bool { return cfg.RequireMatch == nil || *cfg.RequireMatch }

// GitHubEnabled reports whether version-control credentials are present
func (cfg *Config) GitHubEnabled() bool { return cfg.GitHub.Token != "" && cfg.GitHub.Repo != "" }

// GitHubTimeout returns the per-request timeout of the hosting API
func (cfg *Config) GitHubTimeout() time.Duration { return mustDuration(cfg.GitHub.Timeout) }

// TimeoutDuration returns the parsed provider timeout
func (p ProviderConfig) TimeoutDuration() time.Duration { return mustDuration(p.Timeout) }

// Enabled reports whether the provider has a credential
func (p ProviderConfig) Enabled() bool { return p.APIKey != "" }

// mustDuration parses a value that Sanitize already validated
func mustDuration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}
