package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"grimm.is/tether/internal/scheduler"
	"grimm.is/tether/internal/transport"
)

// ListenersCheck is unhealthy when no listener accepts connections and
// degraded when one of them is retrying, failed or disabled by error.
func ListenersCheck(status func() []transport.ListenerStatus) CheckFunc {
	return func(ctx context.Context) Check {
		var up int
		var problems []string
		for _, st := range status() {
			switch st.State {
			case transport.StateListening:
				up++
			case transport.StateDisabled:
				if st.LastError != "" {
					problems = append(problems, fmt.Sprintf("%s disabled: %s", st.Kind, st.LastError))
				}
			default:
				problems = append(problems, fmt.Sprintf("%s %s", st.Kind, st.State))
			}
		}

		switch {
		case up == 0:
			return Check{Status: StatusUnhealthy, Message: "no listener accepting connections; " + strings.Join(problems, "; ")}
		case len(problems) > 0:
			return Check{Status: StatusDegraded, Message: strings.Join(problems, "; ")}
		}
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("%d listener(s) up", up)}
	}
}

// CertificateCheck reports whether secure material is loaded.
func CertificateCheck(tlsEnabled bool, fingerprint func() string) CheckFunc {
	return func(ctx context.Context) Check {
		if !tlsEnabled {
			return Check{Status: StatusHealthy, Message: "secure transport disabled by configuration"}
		}
		if fp := fingerprint(); fp != "" {
			return Check{Status: StatusHealthy, Message: "fingerprint " + fp}
		}
		return Check{Status: StatusDegraded, Message: "no certificate loaded"}
	}
}

// ClientsCheck reports connection counts. It never degrades health.
func ClientsCheck(counts func() (total, ready int)) CheckFunc {
	return func(ctx context.Context) Check {
		total, ready := counts()
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("%d connected, %d ready", total, ready)}
	}
}

// DataDirCheck verifies the data directory is writable.
func DataDirCheck(dir string) CheckFunc {
	return func(ctx context.Context) Check {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return Check{Status: StatusDegraded, Message: fmt.Sprintf("create data dir: %v", err)}
		}
		probe := filepath.Join(dir, ".health_check")
		if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
			return Check{Status: StatusDegraded, Message: fmt.Sprintf("data dir not writable: %v", err)}
		}
		_ = os.Remove(probe)
		return Check{Status: StatusHealthy, Message: "data dir writable"}
	}
}

// TasksCheck degrades when a background task's last run failed.
func TasksCheck(status func() []scheduler.TaskStatus) CheckFunc {
	return func(ctx context.Context) Check {
		tasks := status()
		var failing []string
		for _, t := range tasks {
			if t.LastError != "" {
				failing = append(failing, fmt.Sprintf("%s: %s", t.ID, t.LastError))
			}
		}
		if len(failing) > 0 {
			return Check{Status: StatusDegraded, Message: strings.Join(failing, "; ")}
		}
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("%d task(s) ok", len(tasks))}
	}
}
