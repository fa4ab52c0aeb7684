// Package config loads the YAML configuration shared by the simulation
// server and the bundled agent binary.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Agent  AgentConfig  `yaml:"agent"`
	Logger LoggerConfig `yaml:"logger"`
}

// ServerConfig configures the simulation server.
type ServerConfig struct {
	Game          string        `yaml:"game"`
	StartPort     int           `yaml:"start_port"`
	AllowExternal bool          `yaml:"allow_external"`
	Agents        []string      `yaml:"agents,omitempty"`
	Seed          int64         `yaml:"seed"`
	Theme         string        `yaml:"theme"`
	MaxSteps      uint64        `yaml:"max_steps"`
	BindAttempts  int           `yaml:"bind_attempts"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

// AgentConfig configures the random agent client.
type AgentConfig struct {
	Address            string        `yaml:"address"`
	Game               string        `yaml:"game"`
	Seed               int64         `yaml:"seed"`
	ConnectionTimeout  time.Duration `yaml:"connection_timeout"`
	RetryInterval      time.Duration `yaml:"retry_interval"`
	MaxConnectAttempts int           `yaml:"max_connect_attempts"`
}

// LoggerConfig configures logging.
type LoggerConfig struct {
	Level   string `yaml:"level"`
	Dir     string `yaml:"dir"`
	Console bool   `yaml:"console"`
}

// Defaults returns the configuration used when no file is given. A zero
// seed means "seed from the clock".
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Game:         "bandit",
			StartPort:    7000,
			Theme:        "default",
			BindAttempts: 10,
		},
		Agent: AgentConfig{
			Address:           "127.0.0.1:7000",
			Game:              "bandit",
			ConnectionTimeout: 5 * time.Second,
			RetryInterval:     200 * time.Millisecond,
		},
		Logger: LoggerConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Load reads a YAML config file over the defaults and applies environment
// overrides. A missing file is not an error; an empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps SIMARENA_* environment variables onto cfg.
func ApplyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("SIMARENA_GAME"); v != "" {
		cfg.Server.Game = v
		cfg.Agent.Game = v
	}
	if v := os.Getenv("SIMARENA_START_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SIMARENA_START_PORT: %w", err)
		}
		cfg.Server.StartPort = port
	}
	if v := os.Getenv("SIMARENA_ALLOW_EXTERNAL"); v != "" {
		allow, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SIMARENA_ALLOW_EXTERNAL: %w", err)
		}
		cfg.Server.AllowExternal = allow
	}
	if v := os.Getenv("SIMARENA_AGENT_ADDRESS"); v != "" {
		cfg.Agent.Address = v
	}
	if v := os.Getenv("SIMARENA_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("SIMARENA_LOG_DIR"); v != "" {
		cfg.Logger.Dir = v
	}

	return nil
}
