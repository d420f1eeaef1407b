package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration loaded from config.yaml.
type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Storage struct {
		Backend string `yaml:"backend"` // "memory" | "postgres"
	} `yaml:"storage"`

	Database struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"database"`
	} `yaml:"database"`

	RabbitMQ struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
	} `yaml:"rabbitmq"`

	Registry struct {
		StaleAfterSeconds    int `yaml:"stale_after_seconds"`
		SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
	} `yaml:"registry"`

	Client struct {
		SendIntervalSeconds      int `yaml:"send_interval_seconds"`
		ReconnectIntervalSeconds int `yaml:"reconnect_interval_seconds"`
		MaxReconnectAttempts     int `yaml:"max_reconnect_attempts"`
	} `yaml:"client"`

	JWT struct {
		SecretKey string `yaml:"secret_key"`
	} `yaml:"jwt"`
}

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// LoadFromFile loads config from a YAML file, applies defaults, and
// validates required fields.
func LoadFromFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets safe defaults for omitted fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendMemory
	}

	// Database
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}

	// RabbitMQ
	if cfg.RabbitMQ.Host == "" {
		cfg.RabbitMQ.Host = "localhost"
	}
	if cfg.RabbitMQ.Port == 0 {
		cfg.RabbitMQ.Port = 5672
	}

	// Registry liveness
	if cfg.Registry.StaleAfterSeconds == 0 {
		cfg.Registry.StaleAfterSeconds = 120
	}
	if cfg.Registry.SweepIntervalSeconds == 0 {
		cfg.Registry.SweepIntervalSeconds = 30
	}

	// Client session
	if cfg.Client.SendIntervalSeconds == 0 {
		cfg.Client.SendIntervalSeconds = 5
	}
	if cfg.Client.ReconnectIntervalSeconds == 0 {
		cfg.Client.ReconnectIntervalSeconds = 3
	}
	if cfg.Client.MaxReconnectAttempts == 0 {
		cfg.Client.MaxReconnectAttempts = 5
	}

	if cfg.JWT.SecretKey == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			// fallback: time-based bytes
			key = []byte(fmt.Sprintf("%d", time.Now().UnixNano()))
		}
		cfg.JWT.SecretKey = base64.StdEncoding.EncodeToString(key)
	}
}

// validate checks required fields and basic ranges.
func (c *Config) validate() error {
	var problems []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, "server.port must be in 1..65535")
	}

	switch c.Storage.Backend {
	case BackendMemory:
		// nothing else required
	case BackendPostgres:
		if c.Database.User == "" {
			problems = append(problems, "database.user is required for the postgres backend")
		}
		if c.Database.Password == "" {
			problems = append(problems, "database.password is required for the postgres backend")
		}
		if c.Database.Name == "" {
			problems = append(problems, "database.database is required for the postgres backend")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			problems = append(problems, "database.port must be in 1..65535")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.backend must be %q or %q", BackendMemory, BackendPostgres))
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Port <= 0 || c.RabbitMQ.Port > 65535 {
			problems = append(problems, "rabbitmq.port must be in 1..65535")
		}
		if c.RabbitMQ.User == "" {
			problems = append(problems, "rabbitmq.user is required when rabbitmq is enabled")
		}
		if c.RabbitMQ.Password == "" {
			problems = append(problems, "rabbitmq.password is required when rabbitmq is enabled")
		}
	}

	if c.Registry.StaleAfterSeconds < 0 || c.Registry.SweepIntervalSeconds < 0 {
		problems = append(problems, "registry intervals must not be negative")
	}
	if c.Client.MaxReconnectAttempts < 1 {
		problems = append(problems, "client.max_reconnect_attempts must be >= 1")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// StaleAfter returns the registry staleness threshold as a duration.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Registry.StaleAfterSeconds) * time.Second
}

// SweepInterval returns the liveness sweep interval as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Registry.SweepIntervalSeconds) * time.Second
}
