package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	Census   CensusConfig   `yaml:"census"`
	Worker   WorkerConfig   `yaml:"worker"`
	Raking   RakingConfig   `yaml:"raking"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	AdminToken  string `yaml:"admin_token"`
	RateLimit   int    `yaml:"rate_limit_per_minute"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type CensusConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type WorkerConfig struct {
	TickIntervalMs    int `yaml:"tick_interval_ms"`
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`
	RunTimeoutMs      int `yaml:"run_timeout_ms"`
	StaleAfterMs      int `yaml:"stale_after_ms"`
}

type RakingConfig struct {
	Tolerance     float64 `yaml:"tolerance"`
	MaxIterations int     `yaml:"max_iterations"`
	TrimCap       float64 `yaml:"trim_cap"`
	TrimFloor     float64 `yaml:"trim_floor"`
	Workers       int     `yaml:"workers"`
	MatchDecimals int     `yaml:"match_decimals"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Worker.TickIntervalMs) * time.Millisecond
}

func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.Worker.RunTimeoutMs) * time.Millisecond
}

func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Worker.StaleAfterMs) * time.Millisecond
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        8700,
			MetricsPort: 8701,
			RateLimit:   120,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
		},
		NATS: NATSConfig{
			URL: "nats://localhost:4222",
		},
		Census: CensusConfig{
			URL: "http://localhost:9080",
		},
		Worker: WorkerConfig{
			TickIntervalMs:    2000,
			MaxConcurrentRuns: 2,
			RunTimeoutMs:      600000,
			StaleAfterMs:      900000,
		},
		Raking: RakingConfig{
			Tolerance:     0.0005,
			MaxIterations: 50,
			Workers:       1,
			MatchDecimals: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("RAKER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("RAKER_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = n
		}
	}
	if v := os.Getenv("RAKER_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("RAKER_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimit = n
		}
	}
	if v := os.Getenv("RAKER_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("RAKER_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("RAKER_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("RAKER_CENSUS_URL"); v != "" {
		cfg.Census.URL = v
	}
	if v := os.Getenv("RAKER_CENSUS_TOKEN"); v != "" {
		cfg.Census.Token = v
	}
	if v := os.Getenv("RAKER_TICK_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.TickIntervalMs = n
		}
	}
	if v := os.Getenv("RAKER_MAX_CONCURRENT_RUNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.MaxConcurrentRuns = n
		}
	}
	if v := os.Getenv("RAKER_RUN_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.RunTimeoutMs = n
		}
	}
	if v := os.Getenv("RAKER_STALE_AFTER_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.StaleAfterMs = n
		}
	}
	if v := os.Getenv("RAKER_TOLERANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Raking.Tolerance = f
		}
	}
	if v := os.Getenv("RAKER_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Raking.MaxIterations = n
		}
	}
	if v := os.Getenv("RAKER_TRIM_CAP"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Raking.TrimCap = f
		}
	}
	if v := os.Getenv("RAKER_TRIM_FLOOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Raking.TrimFloor = f
		}
	}
	if v := os.Getenv("RAKER_RAKE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Raking.Workers = n
		}
	}
	if v := os.Getenv("RAKER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
