package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates every problem found in a config.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any problem was recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted problem.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness and returns a
// *ValidationError listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateAgent(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	s := cfg.Server
	if s.Game == "" {
		ve.Add("server.game must be set")
	}
	if s.StartPort < 0 || s.StartPort > 65535 {
		ve.Add("server.start_port must be in [0, 65535], got %d", s.StartPort)
	}
	if s.BindAttempts < 1 {
		ve.Add("server.bind_attempts must be > 0")
	}
	if s.ReadTimeout < 0 {
		ve.Add("server.read_timeout must not be negative")
	}
	if s.WriteTimeout < 0 {
		ve.Add("server.write_timeout must not be negative")
	}

	seen := make(map[string]bool, len(s.Agents))
	for i, name := range s.Agents {
		if name == "" {
			ve.Add("server.agents[%d] must not be empty", i)
		}
		if seen[name] {
			ve.Add("server.agents[%d] duplicates %q", i, name)
		}
		seen[name] = true
	}
}

func validateAgent(cfg *Config, ve *ValidationError) {
	a := cfg.Agent
	if a.Address == "" {
		ve.Add("agent.address must be set")
	}
	if a.ConnectionTimeout <= 0 {
		ve.Add("agent.connection_timeout must be > 0")
	}
	if a.RetryInterval <= 0 {
		ve.Add("agent.retry_interval must be > 0")
	}
	if a.MaxConnectAttempts < 0 {
		ve.Add("agent.max_connect_attempts must not be negative")
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
}
