package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"grimm.is/tether/internal/config"
	"grimm.is/tether/internal/protocol"
	"grimm.is/tether/internal/workspace"
)

func newCheckCommand() *cobra.Command {
	var workspaceDir string
	var verbose bool
	c := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration file and workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunCheck(configPath(cmd), workspaceDir, verbose, cmd.OutOrStdout())
		},
	}
	c.Flags().StringVarP(&workspaceDir, "workspace", "w", "", "Workspace directory (overrides workspace.dir)")
	c.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print the resolved rules")
	return c
}

// RunCheck validates the configuration file syntax and semantics, then the
// workspace it points at.
func RunCheck(configFile, workspaceDir string, verbose bool, out io.Writer) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	fmt.Fprintf(out, "Configuration valid!\n")
	fmt.Fprintf(out, "Schema Version: %s\n", cfg.SchemaVersion)
	fmt.Fprintf(out, "Listeners: %s:%d (plain)", cfg.Server.Host, cfg.Server.PlainPort)
	if cfg.TLSEnabled() {
		fmt.Fprintf(out, ", %s:%d (secure)", cfg.Server.Host, cfg.Server.SecurePort)
	}
	fmt.Fprintln(out)

	if workspaceDir == "" {
		workspaceDir = cfg.Workspace.Dir
	}
	if workspaceDir == "" {
		fmt.Fprintln(out, "Workspace: none")
		return nil
	}

	snap, err := workspace.Load(workspaceDir)
	if err != nil {
		return fmt.Errorf("workspace invalid: %w", err)
	}
	fmt.Fprintf(out, "Workspace: %s (%s)\n", snap.Name, snap.Dir)
	fmt.Fprintf(out, "Rules: %d\n", snap.Rules.Len())
	fmt.Fprintf(out, "Sources: %d\n", len(snap.Sources))
	fmt.Fprintf(out, "Variables: %d\n", len(snap.Variables))

	if verbose {
		fmt.Fprintln(out)
		printRules(out, snap)
	}
	return nil
}

func printRules(out io.Writer, snap *workspace.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tID\tHEADER\tVALUE\tENABLED")
	for _, cat := range protocol.Categories() {
		for _, r := range snap.Rules.Get(cat) {
			value := r.HeaderValue
			if r.IsDynamic {
				value = r.Prefix + "<" + r.SourceID + ">" + r.Suffix
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", cat, r.ID, r.HeaderName, value, r.Enabled)
		}
	}
	w.Flush()
}
