package host

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/prometheus/procfs"

	"grimm.is/tether/internal/config"
)

// procRoot is swapped in tests.
var procRoot = "/proc"

type portRequirement struct {
	Port      int
	Transport string
}

type processInfo struct {
	PID     int
	CmdLine string
}

// CheckPortConflicts reports other processes already listening on the
// ports the host needs. Bind failures are retried anyway; the warnings
// only make the cause visible before startup. Linux only.
func CheckPortConflicts(cfg *config.Config) ([]string, error) {
	if runtime.GOOS != "linux" {
		return nil, nil
	}
	return checkPortConflicts(requiredPorts(cfg))
}

func checkPortConflicts(reqs []portRequirement) ([]string, error) {
	owners, err := scanListeningPorts()
	if err != nil {
		return nil, fmt.Errorf("scan open ports: %w", err)
	}

	var warnings []string
	for _, req := range reqs {
		owner, ok := owners[req.Port]
		if !ok || owner.PID == os.Getpid() {
			continue
		}
		warnings = append(warnings, fmt.Sprintf("port %d is in use by %q (pid %d); the %s listener will retry once",
			req.Port, owner.CmdLine, owner.PID, req.Transport))
	}
	return warnings, nil
}

func requiredPorts(cfg *config.Config) []portRequirement {
	reqs := []portRequirement{{Port: cfg.Server.PlainPort, Transport: "plain"}}
	if cfg.TLSEnabled() {
		reqs = append(reqs, portRequirement{Port: cfg.Server.SecurePort, Transport: "secure"})
	}
	return reqs
}

// tcpListen is the TCP_LISTEN socket state in /proc/net/tcp{,6}.
const tcpListen = 0x0A

// scanListeningPorts maps listening TCP ports to their owning process by
// joining the socket inodes of /proc/net/tcp{,6} with /proc/<pid>/fd links.
// Sockets whose owner is not visible map to pid 0.
func scanListeningPorts() (map[int]processInfo, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, err
	}

	inodes := make(map[string]int)
	for _, table := range []func() (procfs.NetTCP, error){fs.NetTCP, fs.NetTCP6} {
		sockets, err := table()
		if err != nil {
			if errors.Is(err, iofs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		for _, s := range sockets {
			if s.St == tcpListen {
				inodes[fmt.Sprintf("socket:[%d]", s.Inode)] = int(s.LocalPort)
			}
		}
	}

	owners := make(map[int]processInfo, len(inodes))
	for _, port := range inodes {
		owners[port] = processInfo{CmdLine: "unknown"}
	}
	if len(inodes) == 0 {
		return owners, nil
	}

	procs, err := fs.AllProcs()
	if err != nil {
		return nil, err
	}
	for _, p := range procs {
		targets, err := p.FileDescriptorTargets()
		if err != nil {
			continue
		}
		var cmd string
		for _, target := range targets {
			port, ok := inodes[target]
			if !ok {
				continue
			}
			if cmd == "" {
				cmd = commandName(p)
			}
			owners[port] = processInfo{PID: p.PID, CmdLine: cmd}
		}
	}
	return owners, nil
}

func commandName(p procfs.Proc) string {
	if args, err := p.CmdLine(); err == nil && len(args) > 0 && args[0] != "" {
		return filepath.Base(args[0])
	}
	if comm, err := p.Comm(); err == nil && comm != "" {
		return comm
	}
	return fmt.Sprintf("pid %d", p.PID)
}
