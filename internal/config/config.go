// Package config loads process configuration from the environment (via a
// .env file in local development, mirroring the original Python service's
// load_dotenv() call at process start) with structural overrides available
// in an optional YAML file for anything beyond simple scalars.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the fully resolved process configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Worker   WorkerConfig   `yaml:"worker"`
	Bus      BusConfig      `yaml:"bus"`
	Plan     PlanConfig     `yaml:"plan"`
	Log      LogConfig      `yaml:"log"`
	Tavily   TavilyConfig   `yaml:"tavily"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxConns     int32  `yaml:"max_conns"`
	MigrationsDir string `yaml:"migrations_dir"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

type AnthropicConfig struct {
	APIKey string `yaml:"-"`
	Model  string `yaml:"model"`
}

type TavilyConfig struct {
	APIKey string `yaml:"-"`
}

// WorkerConfig mirrors the Celery worker_concurrency / task_time_limit /
// task_soft_time_limit knobs the original service used (see SPEC_FULL §4.4.2).
type WorkerConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	TaskTimeLimit     time.Duration `yaml:"task_time_limit"`
	TaskSoftTimeLimit time.Duration `yaml:"task_soft_time_limit"`
}

type BusConfig struct {
	SnapshotTTL          time.Duration `yaml:"snapshot_ttl"`
	SubscriberQueueDepth int           `yaml:"subscriber_queue_depth"`
}

type PlanConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the baseline configuration before environment and YAML
// overrides are applied.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		Database: DatabaseConfig{
			DSN:           "postgres://localhost:5432/convoengine?sslmode=disable",
			MaxConns:      10,
			MigrationsDir: "migrations",
		},
		Redis: RedisConfig{Addr: "localhost:6379", DB: 0},
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet-4-5-20250929",
		},
		Worker: WorkerConfig{
			Concurrency:       4,
			TaskTimeLimit:     600 * time.Second,
			TaskSoftTimeLimit: 540 * time.Second,
		},
		Bus: BusConfig{
			SnapshotTTL:          3600 * time.Second,
			SubscriberQueueDepth: 256,
		},
		Plan: PlanConfig{Enabled: true},
		Log:  LogConfig{Level: "info", Pretty: false},
	}
}

// Load reads .env (if present), then an optional YAML overlay at
// yamlPath (if non-empty and present), then applies environment variables
// on top, env taking final precedence. Returns an error for malformed or
// unreadable YAML and when ANTHROPIC_API_KEY is unset after all overlays; a
// missing .env or YAML file is not an error.
func Load(yamlPath string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if yamlPath != "" {
		if b, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", yamlPath, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: read %s: %w", yamlPath, err)
		}
	}

	applyEnv(&cfg)

	if cfg.Anthropic.APIKey == "" {
		return Config{}, fmt.Errorf("config: ANTHROPIC_API_KEY is required")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	str(&cfg.Server.Addr, "SERVER_ADDR")
	str(&cfg.Database.DSN, "DATABASE_DSN")
	str(&cfg.Database.MigrationsDir, "DATABASE_MIGRATIONS_DIR")
	i32(&cfg.Database.MaxConns, "DATABASE_MAX_CONNS")
	str(&cfg.Redis.Addr, "REDIS_ADDR")
	i(&cfg.Redis.DB, "REDIS_DB")
	str(&cfg.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	str(&cfg.Anthropic.Model, "ANTHROPIC_MODEL")
	str(&cfg.Tavily.APIKey, "TAVILY_API_KEY")
	i(&cfg.Worker.Concurrency, "WORKER_CONCURRENCY")
	dur(&cfg.Worker.TaskTimeLimit, "WORKER_TASK_TIME_LIMIT")
	dur(&cfg.Worker.TaskSoftTimeLimit, "WORKER_TASK_SOFT_TIME_LIMIT")
	dur(&cfg.Bus.SnapshotTTL, "BUS_SNAPSHOT_TTL")
	i(&cfg.Bus.SubscriberQueueDepth, "BUS_SUBSCRIBER_QUEUE_DEPTH")
	b(&cfg.Plan.Enabled, "PLAN_ENABLED")
	str(&cfg.Log.Level, "LOG_LEVEL")
	b(&cfg.Log.Pretty, "LOG_PRETTY")
}

func str(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func i(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func i32(dst *int32, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func b(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.ParseBool(v); err == nil {
			*dst = n
		}
	}
}

func dur(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := time.ParseDuration(v); err == nil {
			*dst = n
		}
	}
}
