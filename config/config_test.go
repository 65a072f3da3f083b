package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `
general:
  debug: true
  default_timeout: 2m

server:
  address: ":9090"
  jwt_secret: "test-secret"

llm:
  providers:
    openai:
      type: openai
      api_key: "sk-test"
      models:
        fast:
          name: fast
          api_name: gpt-4o-mini
          cost_per_1k_input: 0.00015
          cost_per_1k_output: 0.0006
  routing:
    generation: fast

capability:
  providers:
    - name: local
      address: "stdio:tagweave toolserver"
    - name: remote
      address: "https://tools.example.com/mcp"
  discovery_cache_ttl: 5m

storage:
  postgres:
    host: localhost
    dbname: tagweave
    user: tagweave
    password: secret

shapes:
  output_file: shapes/output.json
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.General.Debug {
		t.Error("expected general.debug true")
	}
	if cfg.General.DefaultTimeout != 2*time.Minute {
		t.Errorf("default_timeout = %v, want 2m", cfg.General.DefaultTimeout)
	}
	if cfg.Server.Address != ":9090" {
		t.Errorf("address = %q, want :9090", cfg.Server.Address)
	}
	// Defaults and normalization.
	if !cfg.Server.StreamEnabled {
		t.Error("expected stream_enabled default true")
	}
	if cfg.Server.TokenTTL != 12*time.Hour {
		t.Errorf("token_ttl = %v, want 12h default", cfg.Server.TokenTTL)
	}
	if cfg.General.MaxConcurrentRuns != 8 {
		t.Errorf("max_concurrent_runs = %d, want 8 default", cfg.General.MaxConcurrentRuns)
	}
	if cfg.Capability.CallTimeout != 60*time.Second {
		t.Errorf("call_timeout = %v, want 60s default", cfg.Capability.CallTimeout)
	}
	if got := cfg.LLM.Providers["openai"].Models["fast"].APIName; got != "gpt-4o-mini" {
		t.Errorf("model api_name = %q", got)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("TAGWEAVE_SERVER_ADDRESS", ":7070")
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Address != ":7070" {
		t.Errorf("address = %q, want env override :7070", cfg.Server.Address)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"no providers", `
llm:
  routing:
    generation: fast
shapes:
  output_file: out.json
`},
		{"no routing", `
llm:
  providers:
    openai:
      type: openai
shapes:
  output_file: out.json
`},
		{"no output shape", `
llm:
  providers:
    openai:
      type: openai
  routing:
    generation: fast
`},
		{"bad capability address", `
llm:
  providers:
    openai:
      type: openai
  routing:
    generation: fast
capability:
  providers:
    - name: weird
      address: "ftp://nope"
shapes:
  output_file: out.json
`},
		{"duplicate capability provider", `
llm:
  providers:
    openai:
      type: openai
  routing:
    generation: fast
capability:
  providers:
    - name: twin
      address: "stdio:a"
    - name: twin
      address: "stdio:b"
shapes:
  output_file: out.json
`},
		{"pins without secret", `
llm:
  providers:
    openai:
      type: openai
  routing:
    generation: fast
capability:
  catalog_pins:
    local: abc123
shapes:
  output_file: out.json
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tc.yaml)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestModelFor(t *testing.T) {
	l := LLMConfig{Routing: RoutingConfig{Generation: "big", Selection: "small", Fallback: "fb"}}
	if got := l.ModelFor("generation"); got != "big" {
		t.Errorf("generation = %q", got)
	}
	if got := l.ModelFor("selection"); got != "small" {
		t.Errorf("selection = %q", got)
	}
	if got := l.ModelFor("synthesis"); got != "fb" {
		t.Errorf("synthesis should fall back, got %q", got)
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", User: "u", Password: "p", DBName: "tw"}
	want := "postgres://u:p@db:5432/tw?sslmode=disable"
	if got := p.DSN(); got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
	p.URL = "postgres://other"
	if got := p.DSN(); got != "postgres://other" {
		t.Errorf("DSN should prefer url, got %q", got)
	}
}

func TestRedisAddr(t *testing.T) {
	var r RedisConfig
	if got := r.Addr(); got != "" {
		t.Errorf("empty redis should yield empty addr, got %q", got)
	}
	r.Host = "cache"
	if got := r.Addr(); got != "cache:6379" {
		t.Errorf("addr = %q", got)
	}
}
