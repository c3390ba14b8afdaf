// Package config loads pipeline configuration from YAML plus
// environment overrides: a viper.Viper with every field given an
// explicit SetDefault and "." in keys mapped to "_" for env vars, then
// Unmarshal into a typed struct with Validate run afterward.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RedisConfig configures the broker's connection pool.
type RedisConfig struct {
	Addr               string        `mapstructure:"addr"`
	URL                string        `mapstructure:"url"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	DB                 int           `mapstructure:"db"`
	PoolSizeMultiplier int           `mapstructure:"pool_size_multiplier"`
	MinIdleConns       int           `mapstructure:"min_idle_conns"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
}

// DatabaseConfig configures the Postgres repository.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// BackoffConfig is the job-level retry backoff formula's parameters:
// base * 2^(attempts-1), jittered +-25%, capped at Max.
type BackoffConfig struct {
	Base time.Duration `mapstructure:"base"`
	Max  time.Duration `mapstructure:"max"`
}

// RateLimitConfig configures one kind's token bucket.
type RateLimitConfig struct {
	Max    int           `mapstructure:"max"`
	Window time.Duration `mapstructure:"window"`
}

// WorkerConfig controls the generic worker runtime.
type WorkerConfig struct {
	Concurrency       map[string]int             `mapstructure:"concurrency"`
	HeartbeatInterval time.Duration               `mapstructure:"heartbeat_interval"`
	VisibilityTimeout time.Duration               `mapstructure:"visibility_timeout"`
	Backoff           BackoffConfig               `mapstructure:"backoff"`
	RateLimits        map[string]RateLimitConfig `mapstructure:"rate_limits"`
	CompletedRetain   int64                       `mapstructure:"completed_retain"`
	FailedRetain      int64                       `mapstructure:"failed_retain"`
}

// CircuitBreakerConfig parameterizes every per-dependency breaker.
type CircuitBreakerConfig struct {
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
	MinSamples       int           `mapstructure:"min_samples"`
}

// ObservabilityConfig controls logging, metrics, and the HTTP surface.
type ObservabilityConfig struct {
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
	HTTPPort    int    `mapstructure:"http_port"`
	Environment string `mapstructure:"environment"`
}

// CatalogConfig configures the outbound app-catalog client.
type CatalogConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LLMConfig configures the Anthropic-backed classifier client.
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Temperature float64       `mapstructure:"temperature"`
}

// SupervisorConfig controls the lifecycle supervisor's scheduled sweeps.
type SupervisorConfig struct {
	DLQSweepCron      string        `mapstructure:"dlq_sweep_cron"`
	StallSweepInterval time.Duration `mapstructure:"stall_sweep_interval"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// Config is the full pipeline configuration.
type Config struct {
	Redis          RedisConfig          `mapstructure:"redis"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Worker         WorkerConfig         `mapstructure:"worker"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Observability  ObservabilityConfig  `mapstructure:"observability"`
	Catalog        CatalogConfig        `mapstructure:"catalog"`
	LLM            LLMConfig            `mapstructure:"llm"`
	Supervisor     SupervisorConfig     `mapstructure:"supervisor"`
}

func defaultConfig() *Config {
	return &Config{
		Redis: RedisConfig{
			Addr:               "localhost:6379",
			PoolSizeMultiplier: 10,
			MinIdleConns:       5,
			DialTimeout:        5 * time.Second,
			ReadTimeout:        3 * time.Second,
			WriteTimeout:       3 * time.Second,
			MaxRetries:         3,
		},
		Database: DatabaseConfig{
			URL:             "postgres://localhost:5432/reviewharvest",
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 30 * time.Minute,
			ConnectTimeout:  5 * time.Second,
		},
		Worker: WorkerConfig{
			Concurrency:       map[string]int{"SCRAPE": 4, "LABEL": 8},
			HeartbeatInterval: 10 * time.Second,
			VisibilityTimeout: 30 * time.Second,
			Backoff:           BackoffConfig{Base: 2 * time.Second, Max: 5 * time.Minute},
			RateLimits: map[string]RateLimitConfig{
				"SCRAPE": {Max: 10, Window: time.Minute},
				"LABEL":  {Max: 5, Window: time.Minute},
			},
			CompletedRetain: 1000,
			FailedRetain:    1000,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 0.5,
			Window:           time.Minute,
			CooldownPeriod:   30 * time.Second,
			MinSamples:       10,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			HTTPPort:    9090,
			Environment: "development",
		},
		Catalog: CatalogConfig{
			BaseURL: "https://itunes.apple.com",
			Timeout: 10 * time.Second,
		},
		LLM: LLMConfig{
			Model:       "claude-3-5-sonnet-20241022",
			Timeout:     60 * time.Second,
			Temperature: 0.0,
		},
		Supervisor: SupervisorConfig{
			DLQSweepCron:       "@every 5m",
			StallSweepInterval: 15 * time.Second,
			ShutdownTimeout:    30 * time.Second,
		},
	}
}

// Load reads YAML config from path (if present) with environment
// overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("redis.addr", def.Redis.Addr)
	v.SetDefault("redis.url", def.Redis.URL)
	v.SetDefault("redis.pool_size_multiplier", def.Redis.PoolSizeMultiplier)
	v.SetDefault("redis.min_idle_conns", def.Redis.MinIdleConns)
	v.SetDefault("redis.dial_timeout", def.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", def.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", def.Redis.WriteTimeout)
	v.SetDefault("redis.max_retries", def.Redis.MaxRetries)

	v.SetDefault("database.url", def.Database.URL)
	v.SetDefault("database.max_conns", def.Database.MaxConns)
	v.SetDefault("database.min_conns", def.Database.MinConns)
	v.SetDefault("database.max_conn_lifetime", def.Database.MaxConnLifetime)
	v.SetDefault("database.max_conn_idle_time", def.Database.MaxConnIdleTime)
	v.SetDefault("database.connect_timeout", def.Database.ConnectTimeout)

	v.SetDefault("worker.concurrency", def.Worker.Concurrency)
	v.SetDefault("worker.heartbeat_interval", def.Worker.HeartbeatInterval)
	v.SetDefault("worker.visibility_timeout", def.Worker.VisibilityTimeout)
	v.SetDefault("worker.backoff.base", def.Worker.Backoff.Base)
	v.SetDefault("worker.backoff.max", def.Worker.Backoff.Max)
	v.SetDefault("worker.rate_limits", def.Worker.RateLimits)
	v.SetDefault("worker.completed_retain", def.Worker.CompletedRetain)
	v.SetDefault("worker.failed_retain", def.Worker.FailedRetain)

	v.SetDefault("circuit_breaker.failure_threshold", def.CircuitBreaker.FailureThreshold)
	v.SetDefault("circuit_breaker.window", def.CircuitBreaker.Window)
	v.SetDefault("circuit_breaker.cooldown_period", def.CircuitBreaker.CooldownPeriod)
	v.SetDefault("circuit_breaker.min_samples", def.CircuitBreaker.MinSamples)

	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.log_format", def.Observability.LogFormat)
	v.SetDefault("observability.http_port", def.Observability.HTTPPort)
	v.SetDefault("observability.environment", def.Observability.Environment)

	v.SetDefault("catalog.base_url", def.Catalog.BaseURL)
	v.SetDefault("catalog.timeout", def.Catalog.Timeout)

	v.SetDefault("llm.api_key", def.LLM.APIKey)
	v.SetDefault("llm.model", def.LLM.Model)
	v.SetDefault("llm.timeout", def.LLM.Timeout)
	v.SetDefault("llm.temperature", def.LLM.Temperature)

	v.SetDefault("supervisor.dlq_sweep_cron", def.Supervisor.DLQSweepCron)
	v.SetDefault("supervisor.stall_sweep_interval", def.Supervisor.StallSweepInterval)
	v.SetDefault("supervisor.shutdown_timeout", def.Supervisor.ShutdownTimeout)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("config: read: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	// Viper lower-cases map keys read from a file; job kinds are upper-case.
	concurrency := make(map[string]int, len(cfg.Worker.Concurrency))
	for k, n := range cfg.Worker.Concurrency {
		concurrency[strings.ToUpper(k)] = n
	}
	cfg.Worker.Concurrency = concurrency
	rateLimits := make(map[string]RateLimitConfig, len(cfg.Worker.RateLimits))
	for k, rl := range cfg.Worker.RateLimits {
		rateLimits[strings.ToUpper(k)] = rl
	}
	cfg.Worker.RateLimits = rateLimits
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants the rest of the pipeline assumes hold.
func Validate(cfg *Config) error {
	if cfg.Worker.Concurrency["SCRAPE"] < 1 || cfg.Worker.Concurrency["LABEL"] < 1 {
		return fmt.Errorf("config: worker.concurrency for SCRAPE and LABEL must be >= 1")
	}
	if cfg.Worker.VisibilityTimeout < 5*time.Second {
		return fmt.Errorf("config: worker.visibility_timeout must be >= 5s")
	}
	if cfg.Worker.Backoff.Base <= 0 || cfg.Worker.Backoff.Max < cfg.Worker.Backoff.Base {
		return fmt.Errorf("config: worker.backoff.max must be >= worker.backoff.base > 0")
	}
	if cfg.Observability.HTTPPort <= 0 || cfg.Observability.HTTPPort > 65535 {
		return fmt.Errorf("config: observability.http_port must be 1..65535")
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("config: database.url must be set")
	}
	return nil
}
