// Package config loads the host's HCL configuration file.
//
// Every block is optional; missing values fall back to Default(). Durations
// are written as Go duration strings ("5s", "5m").
package config

import (
	"fmt"
	"time"
)

// CurrentSchemaVersion is written by `config init` and accepted by Load.
const CurrentSchemaVersion = "1"

// Config is the root of tether.hcl.
type Config struct {
	SchemaVersion string           `hcl:"schema_version,optional" json:"schema_version,omitempty"`
	Server        *ServerConfig    `hcl:"server,block" json:"server,omitempty"`
	TLS           *TLSConfig       `hcl:"tls,block" json:"tls,omitempty"`
	Liveness      *LivenessConfig  `hcl:"liveness,block" json:"liveness,omitempty"`
	Logging       *LoggingConfig   `hcl:"logging,block" json:"logging,omitempty"`
	Workspace     *WorkspaceConfig `hcl:"workspace,block" json:"workspace,omitempty"`
}

// ServerConfig configures the two loopback listeners.
type ServerConfig struct {
	Host           string   `hcl:"host,optional" json:"host,omitempty"`
	PlainPort      int      `hcl:"plain_port,optional" json:"plain_port,omitempty"`
	SecurePort     int      `hcl:"secure_port,optional" json:"secure_port,omitempty"`
	MaxConnections int      `hcl:"max_connections,optional" json:"max_connections,omitempty"`
	BindRetryDelay string   `hcl:"bind_retry_delay,optional" json:"bind_retry_delay,omitempty"`
	AllowedOrigins []string `hcl:"allowed_origins,optional" json:"allowed_origins,omitempty"`
	// HandshakeLimit caps upgrade attempts per origin every 10s; negative disables.
	HandshakeLimit int `hcl:"handshake_limit,optional" json:"handshake_limit,omitempty"`
}

// TLSConfig configures certificate bootstrap for the secure listener.
type TLSConfig struct {
	Enabled     *bool  `hcl:"enabled,optional" json:"enabled,omitempty"`
	CertDir     string `hcl:"cert_dir,optional" json:"cert_dir,omitempty"`
	OpenSSLPath string `hcl:"openssl_path,optional" json:"openssl_path,omitempty"`
	ValidDays   int    `hcl:"valid_days,optional" json:"valid_days,omitempty"`
}

// LivenessConfig configures idle sweeps and ping probes.
type LivenessConfig struct {
	SweepInterval string `hcl:"sweep_interval,optional" json:"sweep_interval,omitempty"`
	IdleTimeout   string `hcl:"idle_timeout,optional" json:"idle_timeout,omitempty"`
	PingInterval  string `hcl:"ping_interval,optional" json:"ping_interval,omitempty"`
	PongTimeout   string `hcl:"pong_timeout,optional" json:"pong_timeout,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `hcl:"level,optional" json:"level,omitempty"`
	JSON  bool   `hcl:"json,optional" json:"json,omitempty"`
}

// WorkspaceConfig points at the active workspace directory.
type WorkspaceConfig struct {
	Dir   string `hcl:"dir,optional" json:"dir,omitempty"`
	Watch *bool  `hcl:"watch,optional" json:"watch,omitempty"`
}

// Default returns a fully populated configuration.
func Default() *Config {
	enabled := true
	watch := true
	return &Config{
		SchemaVersion: CurrentSchemaVersion,
		Server: &ServerConfig{
			Host:           "127.0.0.1",
			PlainPort:      59210,
			SecurePort:     59211,
			MaxConnections: 64,
			BindRetryDelay: "5s",
			HandshakeLimit: 30,
		},
		TLS: &TLSConfig{
			Enabled:   &enabled,
			ValidDays: 3650,
		},
		Liveness: &LivenessConfig{
			SweepInterval: "60s",
			IdleTimeout:   "5m",
			PingInterval:  "30s",
			PongTimeout:   "30s",
		},
		Logging: &LoggingConfig{
			Level: "info",
		},
		Workspace: &WorkspaceConfig{
			Watch: &watch,
		},
	}
}

// ApplyDefaults fills every zero value from Default().
func (c *Config) ApplyDefaults() {
	d := Default()
	if c.SchemaVersion == "" {
		c.SchemaVersion = d.SchemaVersion
	}

	if c.Server == nil {
		c.Server = d.Server
	} else {
		s := c.Server
		if s.Host == "" {
			s.Host = d.Server.Host
		}
		if s.PlainPort == 0 {
			s.PlainPort = d.Server.PlainPort
		}
		if s.SecurePort == 0 {
			s.SecurePort = d.Server.SecurePort
		}
		if s.MaxConnections == 0 {
			s.MaxConnections = d.Server.MaxConnections
		}
		if s.BindRetryDelay == "" {
			s.BindRetryDelay = d.Server.BindRetryDelay
		}
		if s.HandshakeLimit == 0 {
			s.HandshakeLimit = d.Server.HandshakeLimit
		}
	}

	if c.TLS == nil {
		c.TLS = d.TLS
	} else {
		if c.TLS.Enabled == nil {
			c.TLS.Enabled = d.TLS.Enabled
		}
		if c.TLS.ValidDays == 0 {
			c.TLS.ValidDays = d.TLS.ValidDays
		}
	}

	if c.Liveness == nil {
		c.Liveness = d.Liveness
	} else {
		l := c.Liveness
		if l.SweepInterval == "" {
			l.SweepInterval = d.Liveness.SweepInterval
		}
		if l.IdleTimeout == "" {
			l.IdleTimeout = d.Liveness.IdleTimeout
		}
		if l.PingInterval == "" {
			l.PingInterval = d.Liveness.PingInterval
		}
		if l.PongTimeout == "" {
			l.PongTimeout = d.Liveness.PongTimeout
		}
	}

	if c.Logging == nil {
		c.Logging = d.Logging
	} else if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}

	if c.Workspace == nil {
		c.Workspace = d.Workspace
	} else if c.Workspace.Watch == nil {
		c.Workspace.Watch = d.Workspace.Watch
	}
}

// TLSEnabled reports whether the secure listener should be started.
func (c *Config) TLSEnabled() bool {
	return c.TLS != nil && c.TLS.Enabled != nil && *c.TLS.Enabled
}

// WatchWorkspace reports whether workspace file changes are followed.
func (c *Config) WatchWorkspace() bool {
	return c.Workspace != nil && c.Workspace.Watch != nil && *c.Workspace.Watch
}

// Durations holds the parsed duration settings.
type Durations struct {
	BindRetryDelay time.Duration
	SweepInterval  time.Duration
	IdleTimeout    time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
}

// ParseDurations parses every duration string. Call after ApplyDefaults.
func (c *Config) ParseDurations() (Durations, error) {
	var d Durations
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.bind_retry_delay", c.Server.BindRetryDelay, &d.BindRetryDelay},
		{"liveness.sweep_interval", c.Liveness.SweepInterval, &d.SweepInterval},
		{"liveness.idle_timeout", c.Liveness.IdleTimeout, &d.IdleTimeout},
		{"liveness.ping_interval", c.Liveness.PingInterval, &d.PingInterval},
		{"liveness.pong_timeout", c.Liveness.PongTimeout, &d.PongTimeout},
	}
	for _, f := range fields {
		v, err := time.ParseDuration(f.raw)
		if err != nil {
			return Durations{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}
	return d, nil
}
