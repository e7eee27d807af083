package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate validates the configuration. Call after ApplyDefaults.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateLiveness()...)
	errs = append(errs, c.validateLogging()...)
	return errs
}

func (c *Config) validateServer() ValidationErrors {
	var errs ValidationErrors
	s := c.Server
	if s == nil {
		return append(errs, ValidationError{Field: "server", Message: "block missing"})
	}

	if !isLoopbackHost(s.Host) {
		errs = append(errs, ValidationError{Field: "server.host", Message: fmt.Sprintf("%q is not a loopback address", s.Host)})
	}
	for name, port := range map[string]int{"server.plain_port": s.PlainPort, "server.secure_port": s.SecurePort} {
		if port < 0 || port > 65535 {
			errs = append(errs, ValidationError{Field: name, Message: fmt.Sprintf("port %d out of range", port)})
		}
	}
	if s.PlainPort != 0 && s.PlainPort == s.SecurePort {
		errs = append(errs, ValidationError{Field: "server.secure_port", Message: "must differ from plain_port"})
	}
	if s.MaxConnections < 0 {
		errs = append(errs, ValidationError{Field: "server.max_connections", Message: "must not be negative"})
	}
	if _, err := time.ParseDuration(s.BindRetryDelay); err != nil {
		errs = append(errs, ValidationError{Field: "server.bind_retry_delay", Message: err.Error()})
	}
	return errs
}

func (c *Config) validateLiveness() ValidationErrors {
	var errs ValidationErrors
	l := c.Liveness
	if l == nil {
		return append(errs, ValidationError{Field: "liveness", Message: "block missing"})
	}

	parsed := map[string]time.Duration{}
	for name, raw := range map[string]string{
		"liveness.sweep_interval": l.SweepInterval,
		"liveness.idle_timeout":   l.IdleTimeout,
		"liveness.ping_interval":  l.PingInterval,
		"liveness.pong_timeout":   l.PongTimeout,
	} {
		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, ValidationError{Field: name, Message: err.Error()})
			continue
		}
		if d <= 0 {
			errs = append(errs, ValidationError{Field: name, Message: "must be positive"})
		}
		parsed[name] = d
	}

	sweep, okS := parsed["liveness.sweep_interval"]
	idle, okI := parsed["liveness.idle_timeout"]
	if okS && okI && sweep > idle {
		errs = append(errs, ValidationError{Field: "liveness.sweep_interval", Message: "must not exceed idle_timeout"})
	}
	return errs
}

func (c *Config) validateLogging() ValidationErrors {
	if c.Logging == nil {
		return nil
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
		return nil
	}
	return ValidationErrors{{Field: "logging.level", Message: fmt.Sprintf("unknown level %q", c.Logging.Level)}}
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
