package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/tether/internal/brand"
	"grimm.is/tether/internal/config"
	"grimm.is/tether/internal/health"
	"grimm.is/tether/internal/workspace"
)

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRunCheck_ValidConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "tether.hcl")
	require.NoError(t, os.WriteFile(configPath, []byte(`
server {
  plain_port = 60000
}
tls {
  enabled = false
}
`), 0o644))

	var out bytes.Buffer
	require.NoError(t, RunCheck(configPath, "", false, &out))
	assert.Contains(t, out.String(), "Configuration valid!")
	assert.Contains(t, out.String(), "127.0.0.1:60000 (plain)")
	assert.NotContains(t, out.String(), "(secure)")
	assert.Contains(t, out.String(), "Workspace: none")
}

func TestRunCheck_InvalidConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.hcl")
	require.NoError(t, os.WriteFile(configPath, []byte(`
server {
    # Missing closing brace
`), 0o644))

	err := RunCheck(configPath, "", false, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration invalid")
}

func TestRunCheck_Workspace(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, workspace.FileName), []byte(workspace.Example), 0o644))

	var out bytes.Buffer
	require.NoError(t, RunCheck(filepath.Join(t.TempDir(), "missing.hcl"), dir, true, &out))
	assert.Contains(t, out.String(), "Workspace: default")
	assert.Contains(t, out.String(), "Rules: 2")
	assert.Contains(t, out.String(), "Bearer <api-token>")

	bad := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bad, workspace.FileName), []byte("nope: 1\n"), 0o644))
	err := RunCheck(filepath.Join(t.TempDir(), "missing.hcl"), bad, false, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workspace invalid")
}

func TestRunConfigInit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf", "tether.hcl")
	wsDir := filepath.Join(dir, "ws")

	require.NoError(t, RunConfigInit(path, wsDir, false))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, wsDir, cfg.Workspace.Dir)

	_, err = workspace.Load(wsDir)
	require.NoError(t, err)

	assert.Error(t, RunConfigInit(path, wsDir, false), "refuses to overwrite")
	assert.NoError(t, RunConfigInit(path, wsDir, true))
}

func TestRunConfigInit_ConfigOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tether.hcl")
	require.NoError(t, RunConfigInit(path, "", false))
	_, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Error(t, RunConfigInit(path, "", false))
}

func TestConfigShow(t *testing.T) {
	out, err := runRoot(t, "config", "show", "--config", filepath.Join(t.TempDir(), "none.hcl"))
	require.NoError(t, err)
	assert.Contains(t, out, "plain_port")
	assert.Contains(t, out, "59210")
}

func TestVersionCommand(t *testing.T) {
	out, err := runRoot(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tether version dev")
}

func TestCertShowAndReset(t *testing.T) {
	t.Setenv("TETHER_DATA_DIR", t.TempDir())
	configPath := filepath.Join(t.TempDir(), "tether.hcl")

	out, err := runRoot(t, "cert", "show", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Fingerprint: ")
	assert.Contains(t, out, "Generated:   yes")

	again, err := runRoot(t, "cert", "show", "--config", configPath)
	require.NoError(t, err)
	assert.NotContains(t, again, "Generated:")

	out, err = runRoot(t, "cert", "reset", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed")
}

func healthServer(t *testing.T, report health.Report) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		assert.Equal(t, brand.UserAgent(), r.UserAgent())
		_ = json.NewEncoder(w).Encode(report)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestRunStatus(t *testing.T) {
	checks := map[string]health.Check{
		"listeners": {Name: "listeners", Status: health.StatusDegraded, Message: "secure failed"},
		"clients":   {Name: "clients", Status: health.StatusHealthy, Message: "2 connected, 2 ready"},
	}

	var out bytes.Buffer
	require.NoError(t, RunStatus(healthServer(t, health.Report{Status: health.StatusDegraded, Checks: checks}), &out))
	assert.Contains(t, out.String(), "Status: degraded")
	assert.Contains(t, out.String(), "secure failed")

	err := RunStatus(healthServer(t, health.Report{Status: health.StatusUnhealthy, Checks: checks}), &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRunStatus_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := RunStatus(url, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable")
}
