package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NonexistentFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.toml"))
	if err != nil {
		t.Fatalf("Load with nonexistent file should not error: %v", err)
	}

	if cfg.BindAddr != "127.0.0.1:8080" {
		t.Errorf("default bind_addr: expected 127.0.0.1:8080, got %q", cfg.BindAddr)
	}
	if cfg.ContextLimit != 200_000 {
		t.Errorf("default context_limit: expected 200000, got %d", cfg.ContextLimit)
	}
	if !cfg.Lifestats.Enabled {
		t.Error("default lifestats.enabled: expected true")
	}
	if cfg.Lifestats.ChannelBuffer != 10000 {
		t.Errorf("default channel_buffer: expected 10000, got %d", cfg.Lifestats.ChannelBuffer)
	}
	if cfg.Embeddings.Provider != "disabled" {
		t.Errorf("default embeddings provider: expected disabled, got %q", cfg.Embeddings.Provider)
	}
	if len(cfg.Providers) != 2 {
		t.Errorf("default providers: expected 2, got %d", len(cfg.Providers))
	}
	if cfg.Providers["anthropic"].BaseURL != "https://api.anthropic.com" {
		t.Errorf("anthropic base_url: got %q", cfg.Providers["anthropic"].BaseURL)
	}
}

func TestLoad_ValidTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
bind_addr = "0.0.0.0:9090"
context_limit = 100000

[lifestats]
enabled = false
batch_size = 50

[providers.anthropic]
base_url = "https://api.anthropic.com"

[clients.dev-1]
provider = "anthropic"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.BindAddr != "0.0.0.0:9090" {
		t.Errorf("bind_addr: expected 0.0.0.0:9090, got %q", cfg.BindAddr)
	}
	if cfg.ContextLimit != 100000 {
		t.Errorf("context_limit: expected 100000, got %d", cfg.ContextLimit)
	}
	if cfg.Lifestats.Enabled {
		t.Error("lifestats.enabled: expected false")
	}
	if cfg.Lifestats.BatchSize != 50 {
		t.Errorf("lifestats.batch_size: expected 50, got %d", cfg.Lifestats.BatchSize)
	}
	if cfg.Clients["dev-1"].Provider != "anthropic" {
		t.Errorf("clients.dev-1.provider: got %q", cfg.Clients["dev-1"].Provider)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(`not = [valid toml`), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestLoad_UnknownClientProvider(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
[clients.dev-1]
provider = "does-not-exist"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for client referencing unknown provider")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ASPY_BIND_ADDR", "10.0.0.1:1234")
	t.Setenv("ASPY_CONTEXT_LIMIT", "50000")

	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BindAddr != "10.0.0.1:1234" {
		t.Errorf("expected env override for bind_addr, got %q", cfg.BindAddr)
	}
	if cfg.ContextLimit != 50000 {
		t.Errorf("expected env override for context_limit, got %d", cfg.ContextLimit)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		c := *applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}, wantErr: false},
		{name: "empty bind_addr", mutate: func(c *Config) { c.BindAddr = "" }, wantErr: true},
		{name: "zero context_limit", mutate: func(c *Config) { c.ContextLimit = 0 }, wantErr: true},
		{name: "zero channel buffer", mutate: func(c *Config) { c.Lifestats.ChannelBuffer = 0 }, wantErr: true},
		{name: "zero batch size", mutate: func(c *Config) { c.Lifestats.BatchSize = 0 }, wantErr: true},
		{name: "zero ttl", mutate: func(c *Config) { c.Parser.ToolCallTTLSecs = 0 }, wantErr: true},
		{
			name: "client missing provider",
			mutate: func(c *Config) {
				c.Clients = map[string]ClientConfig{"x": {}}
			},
			wantErr: true,
		},
		{
			name: "provider missing base_url",
			mutate: func(c *Config) {
				c.Providers["broken"] = ProviderConfig{}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := validate(&cfg)
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestWriteDefault_Roundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file not created: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load after WriteDefault: %v", err)
	}

	if cfg.BindAddr != "127.0.0.1:8080" {
		t.Errorf("roundtrip bind_addr: expected 127.0.0.1:8080, got %q", cfg.BindAddr)
	}
	if !cfg.Lifestats.Enabled {
		t.Error("roundtrip lifestats.enabled: expected true")
	}
}
