package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"grimm.is/tether/internal/brand"
	"grimm.is/tether/internal/health"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Query the health of a running host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.PlainPort))
			return RunStatus("http://"+addr, cmd.OutOrStdout())
		},
	}
}

// RunStatus fetches /health from baseURL and prints the report. It
// returns an error when the host is unreachable or not healthy.
func RunStatus(baseURL string, out io.Writer) error {
	client := &http.Client{Timeout: 3 * time.Second}
	req, err := http.NewRequest(http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", brand.UserAgent())
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("host not reachable: %w", err)
	}
	defer resp.Body.Close()

	var report health.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return fmt.Errorf("decode health report: %w", err)
	}

	fmt.Fprintf(out, "Status: %s\n\n", report.Status)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tSTATUS\tMESSAGE")
	for _, name := range report.Names() {
		c := report.Checks[name]
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, c.Status, c.Message)
	}
	w.Flush()

	if report.Status == health.StatusUnhealthy {
		return fmt.Errorf("host is %s", report.Status)
	}
	return nil
}
