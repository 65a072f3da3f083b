// Package config loads and validates the service configuration. A yaml file
// named config is searched along the usual paths, and any key can be
// overridden with a TAGWEAVE_-prefixed environment variable (dots become
// underscores, so llm.providers.openai.api_key is
// TAGWEAVE_LLM_PROVIDERS_OPENAI_API_KEY).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service.
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Capability CapabilityConfig `mapstructure:"capability"`
	Payment    PaymentConfig    `mapstructure:"payment"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Shapes     ShapesConfig     `mapstructure:"shapes"`
}

// GeneralConfig contains application-wide settings.
type GeneralConfig struct {
	Debug             bool          `mapstructure:"debug"`
	LogLevel          string        `mapstructure:"log_level"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
	MaxConcurrentRuns int           `mapstructure:"max_concurrent_runs"`
}

func (g GeneralConfig) Normalize() GeneralConfig {
	if g.DefaultTimeout <= 0 {
		g.DefaultTimeout = 5 * time.Minute
	}
	if g.MaxConcurrentRuns <= 0 {
		g.MaxConcurrentRuns = 8
	}
	return g
}

// ServerConfig contains HTTP server and auth settings. APIKeyHashes are
// bcrypt hashes of accepted API keys; a presented key is exchanged for a
// short-lived JWT signed with JWTSecret.
type ServerConfig struct {
	Address          string        `mapstructure:"address"`
	JWTSecret        string        `mapstructure:"jwt_secret"`
	APIKeyHashes     []string      `mapstructure:"api_key_hashes"`
	TokenTTL         time.Duration `mapstructure:"token_ttl"`
	StreamEnabled    bool          `mapstructure:"stream_enabled"`
	SchedulerEnabled bool          `mapstructure:"scheduler_enabled"`
}

func (s ServerConfig) Normalize() ServerConfig {
	if s.Address == "" {
		s.Address = ":8080"
	}
	if s.TokenTTL <= 0 {
		s.TokenTTL = 12 * time.Hour
	}
	return s
}

// LLMConfig contains generation provider configurations.
type LLMConfig struct {
	Providers map[string]LLMProviderConfig `mapstructure:"providers"`
	Routing   RoutingConfig                `mapstructure:"routing"`
}

// LLMProviderConfig represents a single generation backend.
type LLMProviderConfig struct {
	Type    string                 `mapstructure:"type"` // openai or openai_compatible
	APIKey  string                 `mapstructure:"api_key"`
	BaseURL string                 `mapstructure:"base_url"`
	Models  map[string]ModelConfig `mapstructure:"models"`
	Timeout time.Duration          `mapstructure:"timeout"`
}

// ModelConfig describes one model offered by a provider.
type ModelConfig struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// RoutingConfig names the model used for each kind of call. Selection and
// synthesis calls are short and frequent; they usually route to a cheaper
// model than the final generation.
type RoutingConfig struct {
	Generation string `mapstructure:"generation"`
	Selection  string `mapstructure:"selection"`
	Synthesis  string `mapstructure:"synthesis"`
	Fallback   string `mapstructure:"fallback"`
}

func (l LLMConfig) Validate() error {
	if len(l.Providers) == 0 {
		return fmt.Errorf("llm.providers: at least one provider required")
	}
	if l.Routing.Generation == "" && l.Routing.Fallback == "" {
		return fmt.Errorf("llm.routing: generation or fallback model required")
	}
	return nil
}

// ModelFor resolves a routing slot to a model key, falling back to the
// routing fallback when the slot is empty.
func (l LLMConfig) ModelFor(slot string) string {
	var m string
	switch slot {
	case "generation":
		m = l.Routing.Generation
	case "selection":
		m = l.Routing.Selection
	case "synthesis":
		m = l.Routing.Synthesis
	}
	if m == "" {
		m = l.Routing.Fallback
	}
	if m == "" {
		m = l.Routing.Generation
	}
	return m
}

// CapabilityProviderConfig is one entry in the provider catalog offered to
// the model. Address schemes: http(s):// for remote servers, stdio: for a
// local command.
type CapabilityProviderConfig struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
	Address     string `mapstructure:"address"`
}

// CapabilityConfig controls discovery and invocation of tool providers.
// CatalogPins maps provider name to an expected catalog checksum; a signed
// mismatch on discovery aborts the run.
type CapabilityConfig struct {
	Providers         []CapabilityProviderConfig `mapstructure:"providers"`
	DiscoveryCacheTTL time.Duration              `mapstructure:"discovery_cache_ttl"`
	CatalogPins       map[string]string          `mapstructure:"catalog_pins"`
	SigningSecret     string                     `mapstructure:"signing_secret"`
	CallTimeout       time.Duration              `mapstructure:"call_timeout"`
}

func (c CapabilityConfig) Validate() error {
	seen := map[string]bool{}
	for _, p := range c.Providers {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("capability.providers: entry with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("capability.providers: duplicate name %q", p.Name)
		}
		seen[p.Name] = true
		if !strings.HasPrefix(p.Address, "http://") && !strings.HasPrefix(p.Address, "https://") && !strings.HasPrefix(p.Address, "stdio:") {
			return fmt.Errorf("capability.providers: %q has unsupported address %q", p.Name, p.Address)
		}
	}
	if len(c.CatalogPins) > 0 && strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("capability.signing_secret required when catalog_pins are set")
	}
	return nil
}

func (c CapabilityConfig) Normalize() CapabilityConfig {
	if c.DiscoveryCacheTTL <= 0 {
		c.DiscoveryCacheTTL = 10 * time.Minute
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 60 * time.Second
	}
	return c
}

// PaymentConfig controls the paywall-aware HTTP transport.
type PaymentConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

func (p PaymentConfig) Normalize() PaymentConfig {
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	if p.RetryInterval <= 0 {
		p.RetryInterval = 500 * time.Millisecond
	}
	return p
}

// TelemetryConfig contains telemetry and cost tracking settings.
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
	PeriodicLogs bool `mapstructure:"periodic_logs"`
}

// StorageConfig groups backing stores.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings. URL wins when set.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" || strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres: url or host+dbname required")
	}
	return nil
}

// DSN renders the connection string lib/pq expects.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings. Redis is optional: it
// backs the discovery cache and scheduler locks, and both degrade without
// it.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns host:port, or empty when redis is unconfigured.
func (r RedisConfig) Addr() string {
	if strings.TrimSpace(r.Host) == "" {
		return ""
	}
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return r.Host + ":" + port
}

// ShapesConfig points at the JSON shape declarations the service is
// constructed with.
type ShapesConfig struct {
	InputFile  string `mapstructure:"input_file"`
	OutputFile string `mapstructure:"output_file"`
}

func (s ShapesConfig) Validate() error {
	if strings.TrimSpace(s.OutputFile) == "" {
		return fmt.Errorf("shapes.output_file required")
	}
	return nil
}

// LoadConfig loads config from path, or from the standard search paths when
// path is empty.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetDefault("server.stream_enabled", true)
	v.SetDefault("server.scheduler_enabled", true)
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.cost_tracking", true)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("TAGWEAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.General = cfg.General.Normalize()
	cfg.Server = cfg.Server.Normalize()
	cfg.Capability = cfg.Capability.Normalize()
	cfg.Payment = cfg.Payment.Normalize()

	if err := cfg.LLM.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Capability.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Shapes.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
