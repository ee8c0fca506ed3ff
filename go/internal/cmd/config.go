package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/watchparty/go/internal/logging"
	"gopkg.in/yaml.v3"
)

// Config is the server configuration. It is read from watchparty.yaml and
// then overridden by environment variables.
type Config struct {
	Server struct {
		Port            string        `yaml:"port"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Log logging.Config `yaml:"log"`

	Database struct {
		// Enabled selects Postgres; otherwise rooms live in memory
		Enabled bool `yaml:"enabled"`
	} `yaml:"database"`

	Bus struct {
		// Driver is "local" for a single node or "jetstream" for many
		Driver        string `yaml:"driver"`
		NATSURL       string `yaml:"nats_url"`
		StreamName    string `yaml:"stream_name"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"bus"`

	Presence struct {
		// Driver is "memory" or "redis"
		Driver        string        `yaml:"driver"`
		RedisAddr     string        `yaml:"redis_addr"`
		RedisPassword string        `yaml:"redis_password"`
		RedisDB       int           `yaml:"redis_db"`
		KeyPrefix     string        `yaml:"key_prefix"`
		TTL           time.Duration `yaml:"ttl"`
	} `yaml:"presence"`

	Speaking struct {
		Enabled     bool          `yaml:"enabled"`
		Probability float64       `yaml:"probability"`
		Interval    time.Duration `yaml:"interval"`
	} `yaml:"speaking"`
}

func defaultConfig() *Config {
	var cfg Config
	cfg.Server.Port = "8080"
	cfg.Server.ShutdownTimeout = 10 * time.Second
	cfg.Log = logging.Config{Level: "info", Service: "watchparty"}
	cfg.Bus.Driver = "local"
	cfg.Bus.NATSURL = "nats://localhost:4222"
	cfg.Bus.StreamName = "PLAYBACK_STATE"
	cfg.Bus.SubjectPrefix = "watchparty.playback"
	cfg.Presence.Driver = "memory"
	cfg.Presence.RedisAddr = "localhost:6379"
	cfg.Presence.KeyPrefix = "watchparty"
	cfg.Presence.TTL = 24 * time.Hour
	cfg.Speaking.Enabled = true
	cfg.Speaking.Probability = 0.15
	cfg.Speaking.Interval = 1500 * time.Millisecond
	return &cfg
}

// loadConfig reads path over the defaults. A missing file is not an error.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	applyEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Pretty = getEnvAsBool("LOG_PRETTY", cfg.Log.Pretty)
	cfg.Database.Enabled = getEnvAsBool("DB_ENABLED", cfg.Database.Enabled)
	cfg.Bus.Driver = getEnv("BUS_DRIVER", cfg.Bus.Driver)
	cfg.Bus.NATSURL = getEnv("NATS_URL", cfg.Bus.NATSURL)
	cfg.Presence.Driver = getEnv("PRESENCE_DRIVER", cfg.Presence.Driver)
	cfg.Presence.RedisAddr = getEnv("REDIS_ADDR", cfg.Presence.RedisAddr)
	cfg.Presence.RedisPassword = getEnv("REDIS_PASSWORD", cfg.Presence.RedisPassword)
	cfg.Presence.RedisDB = getEnvAsInt("REDIS_DB", cfg.Presence.RedisDB)
}

func (c *Config) validate() error {
	switch c.Bus.Driver {
	case "local", "jetstream":
	default:
		return fmt.Errorf("unknown bus driver %q", c.Bus.Driver)
	}
	switch c.Presence.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown presence driver %q", c.Presence.Driver)
	}
	if c.Speaking.Probability < 0 || c.Speaking.Probability > 1 {
		return fmt.Errorf("speaking probability %v outside [0,1]", c.Speaking.Probability)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
