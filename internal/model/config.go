package model

import "time"

// Config is the complete runtime configuration.
// Secrets (client secret, API key, bearer token) are excluded from YAML output
// and are expected to come from environment variables.
type Config struct {
	Claims       ClaimsConfig      `yaml:"claims" mapstructure:"claims"`
	Retry        RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Model        ModelConfig       `yaml:"model" mapstructure:"model"`
	Cache        CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Audit        AuditConfig       `yaml:"audit" mapstructure:"audit"`
	Server       ServerConfig      `yaml:"server" mapstructure:"server"`
	Logging      LoggingConfig     `yaml:"logging" mapstructure:"logging"`
	Concurrency  ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimiting RateLimitConfig   `yaml:"rate_limiting" mapstructure:"rate_limiting"`
}

// ClaimsConfig points the extraction client at the claims system.
type ClaimsConfig struct {
	BaseURL      string        `yaml:"base_url" mapstructure:"base_url"`
	TokenURL     string        `yaml:"token_url" mapstructure:"token_url"`
	Scopes       []string      `yaml:"scopes,omitempty" mapstructure:"scopes"`
	ClientID     string        `yaml:"client_id,omitempty" mapstructure:"client_id"`
	ClientSecret string        `yaml:"-" mapstructure:"client_secret"`
	Token        string        `yaml:"-" mapstructure:"token"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent    string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	HTTPProxy    string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy   string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy      string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// RetryConfig tunes the transient-failure retry policy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	MaxElapsed  time.Duration `yaml:"max_elapsed" mapstructure:"max_elapsed"`
}

// ModelConfig selects and configures the inference backend.
type ModelConfig struct {
	Backend string        `yaml:"backend" mapstructure:"backend"` // heuristic, openai, ollama, http
	BaseURL string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Model   string        `yaml:"model,omitempty" mapstructure:"model"`
	APIKey  string        `yaml:"-" mapstructure:"api_key"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Seed    int           `yaml:"seed" mapstructure:"seed"`
}

// CacheConfig controls the inference result cache.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`
	Dir      string        `yaml:"dir,omitempty" mapstructure:"dir"`
	RedisURL string        `yaml:"redis_url,omitempty" mapstructure:"redis_url"`
}

// AuditConfig selects where audit events go.
type AuditConfig struct {
	Sink     string `yaml:"sink" mapstructure:"sink"` // log, redis, none
	RedisURL string `yaml:"redis_url,omitempty" mapstructure:"redis_url"`
	Stream   string `yaml:"stream" mapstructure:"stream"`
	MaxLen   int64  `yaml:"max_len" mapstructure:"max_len"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json, console
}

// ConcurrencyConfig bounds batch parallelism.
type ConcurrencyConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// RateLimitConfig throttles calls to the claims system.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Claims: ClaimsConfig{
			BaseURL:      "http://localhost:8000",
			Timeout:      10 * time.Second,
			UserAgent:    "claimsagent/0.1",
			MaxBodyBytes: 1 << 20,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			MaxElapsed:  30 * time.Second,
		},
		Model: ModelConfig{
			Backend: "heuristic",
			Timeout: 30 * time.Second,
			Seed:    42,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     24 * time.Hour,
		},
		Audit: AuditConfig{
			Sink:   "log",
			Stream: "claimsagent:audit",
			MaxLen: 100000,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Concurrency: ConcurrencyConfig{
			Workers: 4,
		},
		RateLimiting: RateLimitConfig{
			RequestsPerSecond: 20,
			BurstSize:         5,
		},
	}
}
