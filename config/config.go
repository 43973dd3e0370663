// Package config loads the server configuration from a YAML file and
// environment variables.
//
// Values are resolved in three layers: built-in defaults, then the YAML file
// (if any), then environment variables. Environment names follow the
// deployment's .env conventions (DB_HOST, PG_DB_HOST, REDIS_DB_HOST, ...).
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v2"
)

// Config is the complete server configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Redis      RedisConfig      `yaml:"redis"`
	LLM        LLMConfig        `yaml:"llm"`
	Engine     EngineConfig     `yaml:"engine"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// ServerConfig configures the HTTP listener and logging.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	LogFormat       string        `yaml:"log_format"` // json or text
	LogLevel        string        `yaml:"log_level"`  // debug, info, warn, error
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig addresses the business database holding lg_approve and
// lg_message.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // mysql or sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`

	// Path is the SQLite file.
	Path string `yaml:"path"`
}

// CheckpointConfig selects and addresses the checkpoint store.
type CheckpointConfig struct {
	// Driver is postgres, mysql, sqlite, redis or memory. mysql reuses the
	// database section, redis the redis section.
	Driver string `yaml:"driver"`

	// Freshness is how long a verified connection is trusted before the
	// manager probes it again.
	Freshness time.Duration `yaml:"freshness"`

	Postgres PostgresConfig `yaml:"postgres"`

	// Path is the SQLite file.
	Path string `yaml:"path"`
}

// PostgresConfig addresses the Postgres checkpoint database.
type PostgresConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Database       string        `yaml:"database"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// RedisConfig addresses Redis.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// LLMConfig lists the model platforms the chat agent may use.
type LLMConfig struct {
	// Default is the platform code used by the chat agent.
	Default   string              `yaml:"default"`
	Platforms map[string]Platform `yaml:"platforms"`
}

// Platform is one model endpoint.
type Platform struct {
	Provider    string  `yaml:"provider"` // openai, anthropic or google
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

// EngineConfig tunes graph execution.
type EngineConfig struct {
	MaxSteps    int           `yaml:"max_steps"`
	NodeTimeout time.Duration `yaml:"node_timeout"`
}

// TracingConfig enables OpenTelemetry spans for engine events.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`

	// Exporter is stdout (JSON spans on stderr) or otlp (OTLP over HTTP).
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP collector host:port. Empty uses the exporter's
	// default, localhost:4318, or OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string `yaml:"endpoint"`

	// Insecure sends OTLP over plain HTTP.
	Insecure bool `yaml:"insecure"`
}

// Default returns a configuration that runs locally with SQLite and no
// external services.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			LogFormat:       "json",
			LogLevel:        "info",
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Port:   3306,
			Path:   "hitl.db",
		},
		Checkpoint: CheckpointConfig{
			Driver:    "sqlite",
			Freshness: 30 * time.Second,
			Path:      "checkpoints.db",
			Postgres: PostgresConfig{
				Port:           5432,
				ConnectTimeout: 60 * time.Second,
			},
		},
		Redis: RedisConfig{Host: "127.0.0.1", Port: 6379},
		LLM: LLMConfig{
			Default: "huoshan-doubao",
			Platforms: map[string]Platform{
				"local":              {Provider: "openai", BaseURL: "http://127.0.0.1:1234/v1/", Model: "glm-4-9b-0414", Temperature: 0.5},
				"deepseek-v3":        {Provider: "openai", BaseURL: "https://api.deepseek.com/", Model: "deepseek-chat", Temperature: 0.5},
				"huoshan-doubao":     {Provider: "openai", BaseURL: "https://ark.cn-beijing.volces.com/api/v3/", Model: "doubao-1-5-lite-32k-250115", Temperature: 0.5},
				"bailian-qwen-turbo": {Provider: "openai", BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1/", Model: "qwen-turbo", Temperature: 0.5},
			},
		},
		Engine:  EngineConfig{MaxSteps: 25},
		Tracing: TracingConfig{ServiceName: "hitl-server", Exporter: "stdout"},
	}
}

// Load reads path (skipped when empty) over the defaults, applies the
// process environment and validates the result.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an injectable environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}

	num("SERVER_PORT", &c.Server.Port)
	str("LOG_FORMAT", &c.Server.LogFormat)
	str("LOG_LEVEL", &c.Server.LogLevel)

	str("DB_DRIVER", &c.Database.Driver)
	str("DB_HOST", &c.Database.Host)
	num("DB_PORT", &c.Database.Port)
	str("DB_USERNAME", &c.Database.Username)
	str("DB_PASSWORD", &c.Database.Password)
	str("DB_DATABASE", &c.Database.Database)
	str("DB_PATH", &c.Database.Path)

	str("CHECKPOINT_DRIVER", &c.Checkpoint.Driver)
	str("CHECKPOINT_PATH", &c.Checkpoint.Path)
	str("PG_DB_HOST", &c.Checkpoint.Postgres.Host)
	num("PG_DB_PORT", &c.Checkpoint.Postgres.Port)
	str("PG_DB_USERNAME", &c.Checkpoint.Postgres.Username)
	str("PG_DB_PASSWORD", &c.Checkpoint.Postgres.Password)
	str("PG_DB_DATABASE", &c.Checkpoint.Postgres.Database)

	str("REDIS_DB_HOST", &c.Redis.Host)
	num("REDIS_DB_PORT", &c.Redis.Port)
	str("REDIS_DB_PASSWORD", &c.Redis.Password)
	num("REDIS_DB_NUMBER", &c.Redis.DB)

	str("TRACING_EXPORTER", &c.Tracing.Exporter)
	str("TRACING_ENDPOINT", &c.Tracing.Endpoint)

	str("LLM_PLATFORM", &c.LLM.Default)
	for code, p := range c.LLM.Platforms {
		if v, ok := lookup(KeyEnv(code)); ok {
			p.APIKey = v
			c.LLM.Platforms[code] = p
		}
	}

	return errors.Join(errs...)
}

// KeyEnv is the environment variable holding the API key of platform code:
// LLM_KEY_ followed by the code upper-cased with dashes as underscores.
func KeyEnv(code string) string {
	return "LLM_KEY_" + strings.ToUpper(strings.ReplaceAll(code, "-", "_"))
}

// Validate reports every missing or inconsistent setting.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}
	if !oneOf(c.Server.LogFormat, "json", "text") {
		add("server.log_format %q must be json or text", c.Server.LogFormat)
	}

	switch c.Database.Driver {
	case "mysql":
		if c.Database.Host == "" || c.Database.Database == "" {
			add("database: mysql needs host and database")
		}
	case "sqlite":
		if c.Database.Path == "" {
			add("database: sqlite needs path")
		}
	default:
		add("database.driver %q must be mysql or sqlite", c.Database.Driver)
	}

	switch c.Checkpoint.Driver {
	case "postgres":
		pg := c.Checkpoint.Postgres
		if pg.Host == "" || pg.Database == "" {
			add("checkpoint: postgres needs host and database")
		}
	case "mysql":
		if c.Database.Host == "" || c.Database.Database == "" {
			add("checkpoint: mysql uses the database section, which needs host and database")
		}
	case "sqlite":
		if c.Checkpoint.Path == "" {
			add("checkpoint: sqlite needs path")
		}
	case "redis":
		if c.Redis.Host == "" {
			add("checkpoint: redis needs redis.host")
		}
	case "memory":
	default:
		add("checkpoint.driver %q must be postgres, mysql, sqlite, redis or memory", c.Checkpoint.Driver)
	}
	if c.Checkpoint.Freshness < 0 {
		add("checkpoint.freshness must not be negative")
	}

	if _, ok := c.LLM.Platforms[c.LLM.Default]; !ok {
		add("llm.default %q is not a configured platform (have %s)", c.LLM.Default, strings.Join(c.platformCodes(), ", "))
	}
	for code, p := range c.LLM.Platforms {
		if !oneOf(p.Provider, "openai", "anthropic", "google") {
			add("llm.platforms.%s.provider %q must be openai, anthropic or google", code, p.Provider)
		}
	}

	if c.Tracing.Enabled && !oneOf(c.Tracing.Exporter, "stdout", "otlp") {
		add("tracing.exporter %q must be stdout or otlp", c.Tracing.Exporter)
	}

	if c.Engine.MaxSteps < 0 {
		add("engine.max_steps must not be negative")
	}
	if c.Engine.NodeTimeout < 0 {
		add("engine.node_timeout must not be negative")
	}

	return errors.Join(errs...)
}

// Platform returns the default platform.
func (c *Config) Platform() (string, Platform) {
	return c.LLM.Default, c.LLM.Platforms[c.LLM.Default]
}

func (c *Config) platformCodes() []string {
	codes := make([]string, 0, len(c.LLM.Platforms))
	for code := range c.LLM.Platforms {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
