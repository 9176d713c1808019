// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Index, Store, Search, RateLimit, Postgres, Redis, Kafka,
// Logging, Metrics).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultIdentity is the rate-limit identity shared by callers that present
// no token.
const DefaultIdentity = "default"

// MaxPageSize is the hard ceiling on results per page. search.maxLimit may
// lower it but never raise it.
const MaxPageSize = 100

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Index     IndexConfig     `yaml:"index"`
	Store     StoreConfig     `yaml:"store"`
	Search    SearchConfig    `yaml:"search"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
}

// IndexConfig points at an already-built full-text index.
type IndexConfig struct {
	Path    string `yaml:"path"`
	IDField string `yaml:"idField"`
}

// StoreConfig points at the key-value store holding case payloads.
type StoreConfig struct {
	Path        string        `yaml:"path"`
	Bucket      string        `yaml:"bucket"`
	OpenTimeout time.Duration `yaml:"openTimeout"`
}

// SearchConfig controls query execution limits.
type SearchConfig struct {
	DefaultLimit         int  `yaml:"defaultLimit"`
	MaxLimit             int  `yaml:"maxLimit"`
	MaxConcurrentQueries int  `yaml:"maxConcurrentQueries"`
	ParseCacheSize       int  `yaml:"parseCacheSize"`
	Diagnostics          bool `yaml:"diagnostics"`

	// SlowQueryThreshold logs searches at least this slow with their stage
	// timings. Zero disables the slow log.
	SlowQueryThreshold time.Duration `yaml:"slowQueryThreshold"`
}

// TokenConfig is the quota attached to one API token.
type TokenConfig struct {
	Name      string `yaml:"name"`
	RateLimit int    `yaml:"rateLimit"`
}

// RateLimitConfig controls per-identity admission.
type RateLimitConfig struct {
	DefaultQuota int                    `yaml:"defaultQuota"`
	Window       time.Duration          `yaml:"window"`
	TokenHeader  string                 `yaml:"tokenHeader"`
	Tokens       map[string]TokenConfig `yaml:"tokens"`
}

// PostgresConfig holds PostgreSQL connection parameters for the optional
// token directory.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// KafkaConfig holds broker and topic settings for search analytics.
type KafkaConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Brokers         []string `yaml:"brokers"`
	AnalyticsTopic  string   `yaml:"analyticsTopic"`
	EventBufferSize int      `yaml:"eventBufferSize"`
}

// LoggingConfig controls structured logging level, format and optional file
// output with rotation.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	FilePath   string `yaml:"filePath"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a validated Config populated with defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  10 * time.Second,
		},
		Index: IndexConfig{
			Path:    "data/index",
			IDField: "id",
		},
		Store: StoreConfig{
			Path:        "data/cases.db",
			Bucket:      "cases",
			OpenTimeout: time.Second,
		},
		Search: SearchConfig{
			DefaultLimit:         20,
			MaxLimit:             MaxPageSize,
			MaxConcurrentQueries: 64,
			ParseCacheSize:       1024,
			SlowQueryThreshold:   500 * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			DefaultQuota: 100,
			Window:       time.Minute,
			TokenHeader:  "X-API-Token",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "cases",
			User:            "cases",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:         []string{"localhost:9092"},
			AnalyticsTopic:  "case-search-events",
			EventBufferSize: 10000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Validate rejects configurations that would make admission ambiguous or
// impossible.
func (c *Config) Validate() error {
	var errs []error
	if c.RateLimit.DefaultQuota <= 0 {
		errs = append(errs, fmt.Errorf("rateLimit.defaultQuota must be positive, got %d", c.RateLimit.DefaultQuota))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, fmt.Errorf("rateLimit.window must be positive, got %s", c.RateLimit.Window))
	}
	for token, tc := range c.RateLimit.Tokens {
		if token == "" || token == DefaultIdentity {
			errs = append(errs, fmt.Errorf("rateLimit.tokens: %q is not a usable token", token))
		}
		if tc.RateLimit <= 0 {
			errs = append(errs, fmt.Errorf("rateLimit.tokens[%s]: rateLimit must be positive, got %d", tc.Name, tc.RateLimit))
		}
	}
	if c.Search.MaxLimit <= 0 || c.Search.MaxLimit > MaxPageSize {
		errs = append(errs, fmt.Errorf("search.maxLimit must be in 1..%d, got %d", MaxPageSize, c.Search.MaxLimit))
	}
	if c.Search.DefaultLimit < 0 {
		errs = append(errs, fmt.Errorf("search.defaultLimit must not be negative, got %d", c.Search.DefaultLimit))
	}
	if c.Search.MaxConcurrentQueries <= 0 {
		errs = append(errs, fmt.Errorf("search.maxConcurrentQueries must be positive, got %d", c.Search.MaxConcurrentQueries))
	}
	if c.Store.Bucket == "" {
		errs = append(errs, errors.New("store.bucket must not be empty"))
	}
	if c.Index.IDField == "" {
		errs = append(errs, errors.New("index.idField must not be empty"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// applyEnvOverrides reads CASES_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CASES_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("CASES_INDEX_PATH"); v != "" {
		cfg.Index.Path = v
	}
	if v := os.Getenv("CASES_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CASES_API_RATE_LIMIT"); v != "" {
		if quota, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.DefaultQuota = quota
		}
	}
	if v := os.Getenv("CASES_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.RequestTimeout = d
		}
	}
	if v := os.Getenv("CASES_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("CASES_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("CASES_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("CASES_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CASES_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CASES_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CASES_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
