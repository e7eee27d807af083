package host

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/tether/internal/config"
)

const tcpTable = `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   0: 0100007F:E6DA 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 4242 1 0000000000000000 100 0 0 10 0
   1: 0100007F:1F90 0100007F:C350 01 00000000:00000000 00:00000000 00000000  1000        0 4343 1 0000000000000000 20 4 30 10 -1
`

const tcp6Table = `  sl  local_address                         remote_address                        st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   0: 00000000000000000000000001000000:1F91 00000000000000000000000000000000:0000 0A 00000000:00000000 00:00000000 00000000     0        0 5353 1 0000000000000000 100 0 0 10 0
`

func fakeProc(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "net"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "net", "tcp"), []byte(tcpTable), 0o644))

	fdDir := filepath.Join(root, "777", "fd")
	require.NoError(t, os.MkdirAll(fdDir, 0o755))
	require.NoError(t, os.Symlink("socket:[4242]", filepath.Join(fdDir, "3")))
	require.NoError(t, os.Symlink("/dev/null", filepath.Join(fdDir, "0")))
	require.NoError(t, os.WriteFile(filepath.Join(root, "777", "cmdline"), []byte("/usr/bin/otherd\x00--flag\x00"), 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(root, "net", "tcp6"), []byte(tcp6Table), 0o644))
	fdDir = filepath.Join(root, "888", "fd")
	require.NoError(t, os.MkdirAll(fdDir, 0o755))
	require.NoError(t, os.Symlink("socket:[5353]", filepath.Join(fdDir, "5")))
	require.NoError(t, os.WriteFile(filepath.Join(root, "888", "cmdline"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "888", "comm"), []byte("kproxy\n"), 0o644))

	old := procRoot
	procRoot = root
	t.Cleanup(func() { procRoot = old })
	return root
}

func TestScanListeningPorts(t *testing.T) {
	fakeProc(t)

	owners, err := scanListeningPorts()
	require.NoError(t, err)

	// 0xE6DA = 59098; the established socket on 0x1F90 is ignored.
	require.Contains(t, owners, 59098)
	assert.Equal(t, processInfo{PID: 777, CmdLine: "otherd"}, owners[59098])
	assert.NotContains(t, owners, 8080)

	// 0x1F91 = 8081 on ::1; an empty cmdline falls back to comm.
	require.Contains(t, owners, 8081)
	assert.Equal(t, processInfo{PID: 888, CmdLine: "kproxy"}, owners[8081])
}

func TestCheckPortConflicts(t *testing.T) {
	fakeProc(t)

	warnings, err := checkPortConflicts([]portRequirement{
		{Port: 59098, Transport: "plain"},
		{Port: 59099, Transport: "secure"},
	})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "port 59098")
	assert.Contains(t, warnings[0], `"otherd"`)
	assert.Contains(t, warnings[0], "plain")
}

func TestRequiredPorts(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, []portRequirement{
		{Port: 59210, Transport: "plain"},
		{Port: 59211, Transport: "secure"},
	}, requiredPorts(cfg))

	disabled := false
	cfg.TLS.Enabled = &disabled
	assert.Equal(t, []portRequirement{{Port: 59210, Transport: "plain"}}, requiredPorts(cfg))
}

func TestScanListeningPorts_NoTables(t *testing.T) {
	old := procRoot
	procRoot = t.TempDir()
	defer func() { procRoot = old }()

	owners, err := scanListeningPorts()
	require.NoError(t, err)
	assert.Empty(t, owners)
}
