package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadHCL_Defaults(t *testing.T) {
	cfg, err := LoadHCL([]byte(``), "empty.hcl")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 59210, cfg.Server.PlainPort)
	assert.Equal(t, 59211, cfg.Server.SecurePort)
	assert.True(t, cfg.TLSEnabled())
	assert.True(t, cfg.WatchWorkspace())

	d, err := cfg.ParseDurations()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d.BindRetryDelay)
	assert.Equal(t, time.Minute, d.SweepInterval)
	assert.Equal(t, 5*time.Minute, d.IdleTimeout)
	assert.Equal(t, 30*time.Second, d.PongTimeout)
}

func TestLoadHCL_Overrides(t *testing.T) {
	src := `
schema_version = "1"

server {
  host        = "localhost"
  plain_port  = 7000
  secure_port = 7001
  allowed_origins = ["https://app.example.test"]
}

tls {
  enabled = false
}

liveness {
  idle_timeout = "10m"
}

logging {
  level = "debug"
  json  = true
}
`
	cfg, err := LoadHCL([]byte(src), "tether.hcl")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 7000, cfg.Server.PlainPort)
	assert.Equal(t, []string{"https://app.example.test"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "5s", cfg.Server.BindRetryDelay, "unset fields keep defaults")
	assert.False(t, cfg.TLSEnabled())
	assert.Equal(t, "10m", cfg.Liveness.IdleTimeout)
	assert.Equal(t, "60s", cfg.Liveness.SweepInterval)
	assert.True(t, cfg.Logging.JSON)
}

func TestLoadHCL_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax", `server {`},
		{"non-loopback host", `server { host = "0.0.0.0" }`},
		{"same ports", `server {
  plain_port  = 7000
  secure_port = 7000
}`},
		{"bad duration", `liveness { idle_timeout = "forever" }`},
		{"sweep exceeds idle", `liveness {
  sweep_interval = "10m"
  idle_timeout   = "1m"
}`},
		{"bad level", `logging { level = "shout" }`},
		{"future schema", `schema_version = "9"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadHCL([]byte(tt.src), "bad.hcl")
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadFile(filepath.Join(dir, "missing.hcl"))
	require.NoError(t, err, "missing file falls back to defaults")
	assert.Equal(t, 59210, cfg.Server.PlainPort)

	jsonPath := filepath.Join(dir, "tether.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"server":{"plain_port":8100,"secure_port":8101}}`), 0o644))
	cfg, err = LoadFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 8100, cfg.Server.PlainPort)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)

	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"server":{"plain_prot":8100}}`), 0o644))
	_, err = LoadFile(jsonPath)
	assert.Error(t, err, "unknown JSON keys are rejected")
}

func TestLoadHCL_SchemaVersion(t *testing.T) {
	_, err := LoadHCL([]byte(`schema_version = "9"`), "future.hcl")
	assert.ErrorIs(t, err, ErrSchemaVersion)

	cfg, err := LoadHCL([]byte(`schema_version = "`+CurrentSchemaVersion+`"`), "current.hcl")
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, cfg.SchemaVersion)
}

func TestWriteDefault_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "tether.hcl")

	require.NoError(t, WriteDefault(path, false))
	assert.Error(t, WriteDefault(path, false), "existing file is not overwritten")
	require.NoError(t, WriteDefault(path, true))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Server, cfg.Server)
	assert.Equal(t, Default().Liveness, cfg.Liveness)
	assert.True(t, cfg.TLSEnabled())
}
