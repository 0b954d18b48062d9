// Package config handles loading, validating, and hot-reloading Aspy's
// configuration from <user-config-dir>/aspy/config.toml.
//
// Precedence is env > file > defaults, matching the external interface
// contract: every field has a built-in default, the file overrides it, and
// a handful of documented environment variables override the file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config is the top-level Aspy configuration.
type Config struct {
	BindAddr     string                    `toml:"bind_addr"`
	LogDir       string                    `toml:"log_dir"`
	LogLevel     string                    `toml:"log_level"`
	ContextLimit int                       `toml:"context_limit"`
	Features     FeaturesConfig            `toml:"features"`
	Augmentation AugmentationConfig        `toml:"augmentation"`
	Redaction    RedactionConfig           `toml:"redaction"`
	Lifestats    LifestatsConfig           `toml:"lifestats"`
	Embeddings   EmbeddingsConfig          `toml:"embeddings"`
	Parser       ParserConfig              `toml:"parser"`
	Clients      map[string]ClientConfig   `toml:"clients"`
	Providers    map[string]ProviderConfig `toml:"providers"`
}

// FeaturesConfig toggles optional work that can be disabled without
// affecting the proxy's core tee/forward behavior.
type FeaturesConfig struct {
	Storage       bool `toml:"storage"`
	ThinkingPanel bool `toml:"thinking_panel"`
	Stats         bool `toml:"stats"`
}

// AugmentationConfig controls synthesized SSE frame injection (§4.C).
type AugmentationConfig struct {
	ContextWarning           bool      `toml:"context_warning"`
	ContextWarningThresholds []float64 `toml:"context_warning_thresholds"`
}

// RedactionConfig points the pipeline's redaction processor at its rule
// file and per-builtin toggle map (§4.D).
type RedactionConfig struct {
	RulesPath string          `toml:"rules_path"`
	Builtin   map[string]bool `toml:"builtin"`
}

// LifestatsConfig controls the memory subsystem (store + writer + retention).
type LifestatsConfig struct {
	Enabled         bool   `toml:"enabled"`
	DBPath          string `toml:"db_path"`
	StoreThinking   bool   `toml:"store_thinking"`
	StoreToolIO     bool   `toml:"store_tool_io"`
	MaxThinkingSize int    `toml:"max_thinking_size"`
	RetentionDays   int    `toml:"retention_days"`
	ChannelBuffer   int    `toml:"channel_buffer"`
	BatchSize       int    `toml:"batch_size"`
	FlushIntervalMs int    `toml:"flush_interval_ms"`
}

// EmbeddingsConfig configures the background embedding indexer (§4.I).
type EmbeddingsConfig struct {
	Provider       string `toml:"provider"` // "disabled" | "local" | "remote"
	Model          string `toml:"model"`
	APIBase        string `toml:"api_base"`
	AuthMethod     string `toml:"auth_method"` // "bearer" | "api_key"
	APIKey         string `toml:"api_key"`
	BatchSize      int    `toml:"batch_size"`
	PollIntervalS  int    `toml:"poll_interval_secs"`
}

// ParserConfig resolves Open Question #3: TTL and threshold values treated
// as configuration rather than hardcoded constants.
type ParserConfig struct {
	ToolCallTTLSecs              int     `toml:"tool_call_ttl_secs"`
	ContextCompactThresholdPct   float64 `toml:"context_compact_threshold_pct"`
}

// ClientConfig names a routable client id (§6 proxy path grammar).
type ClientConfig struct {
	Name     string   `toml:"name"`
	Provider string   `toml:"provider"`
	Tags     []string `toml:"tags"`
}

// ProviderConfig maps a provider key to its upstream base URL and credential
// strategy.
type ProviderConfig struct {
	BaseURL    string `toml:"base_url"`
	Name       string `toml:"name"`
	AuthMethod string `toml:"auth_method"` // "passthrough" | "replace" | "header"
	APIKey     string `toml:"api_key"`
	HeaderName string `toml:"header_name"`
}

// Load reads and parses config.toml from the given path, applies env
// overrides, and validates the result. A missing file is not an error —
// defaults (plus env overrides) are used, matching first-run behavior.
func Load(path string) (*Config, error) {
	cfg := applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// WriteDefault writes a default config.toml with all fields populated.
func WriteDefault(path string) error {
	cfg := applyDefaults()
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating default config %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString("# Aspy configuration. See SPEC_FULL.md section 6 for the full key reference.\n\n"); err != nil {
		return err
	}
	enc := toml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}
	return nil
}

func applyDefaults() *Config {
	return &Config{
		BindAddr:     "127.0.0.1:8080",
		LogDir:       "",
		LogLevel:     "info",
		ContextLimit: 200_000,
		Features: FeaturesConfig{
			Storage:       true,
			ThinkingPanel: true,
			Stats:         true,
		},
		Augmentation: AugmentationConfig{
			ContextWarning:           true,
			ContextWarningThresholds: []float64{70, 85, 95},
		},
		Redaction: RedactionConfig{
			RulesPath: "",
			Builtin:   map[string]bool{},
		},
		Lifestats: LifestatsConfig{
			Enabled:         true,
			DBPath:          "",
			StoreThinking:   true,
			StoreToolIO:     true,
			MaxThinkingSize: 16384,
			RetentionDays:   90,
			ChannelBuffer:   10000,
			BatchSize:       100,
			FlushIntervalMs: 1000,
		},
		Embeddings: EmbeddingsConfig{
			Provider:      "disabled",
			Model:         "",
			BatchSize:     32,
			PollIntervalS: 30,
		},
		Parser: ParserConfig{
			ToolCallTTLSecs:            600,
			ContextCompactThresholdPct: 10,
		},
		Clients:   map[string]ClientConfig{},
		Providers: map[string]ProviderConfig{
			"anthropic": {BaseURL: "https://api.anthropic.com", Name: "Anthropic", AuthMethod: "passthrough"},
			"openai":    {BaseURL: "https://api.openai.com", Name: "OpenAI", AuthMethod: "passthrough"},
		},
	}
}

// applyEnvOverrides applies the documented environment variable overrides.
// Invalid values fall back to the existing (file or default) value with a
// warning rather than aborting startup.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("ASPY_BIND_ADDR"); ok && v != "" {
		cfg.BindAddr = v
	}
	if v, ok := os.LookupEnv("ASPY_LOG_DIR"); ok && v != "" {
		cfg.LogDir = v
	}
	if v, ok := os.LookupEnv("ASPY_LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv("ASPY_CONTEXT_LIMIT"); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ContextLimit = n
		}
	}
	if v, ok := os.LookupEnv("ASPY_EMBEDDINGS_API_KEY"); ok && v != "" {
		cfg.Embeddings.APIKey = v
	}
}

// validate checks the config for logical errors after parsing and env
// overrides are applied.
func validate(cfg *Config) error {
	if cfg.BindAddr == "" {
		return fmt.Errorf("bind_addr must not be empty")
	}
	if cfg.ContextLimit <= 0 {
		return fmt.Errorf("context_limit must be positive")
	}
	if cfg.Lifestats.ChannelBuffer <= 0 {
		return fmt.Errorf("lifestats.channel_buffer must be positive")
	}
	if cfg.Lifestats.BatchSize <= 0 {
		return fmt.Errorf("lifestats.batch_size must be positive")
	}
	if cfg.Parser.ToolCallTTLSecs <= 0 {
		return fmt.Errorf("parser.tool_call_ttl_secs must be positive")
	}
	for name, c := range cfg.Clients {
		if c.Provider == "" {
			return fmt.Errorf("client %q: provider is required", name)
		}
		if _, ok := cfg.Providers[c.Provider]; !ok {
			return fmt.Errorf("client %q: unknown provider %q", name, c.Provider)
		}
	}
	for name, p := range cfg.Providers {
		if p.BaseURL == "" {
			return fmt.Errorf("provider %q: base_url is required", name)
		}
	}
	return nil
}
