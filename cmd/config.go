package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"grimm.is/tether/internal/config"
	"grimm.is/tether/internal/workspace"
)

func newConfigCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the configuration file",
	}

	var force bool
	var workspaceDir string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath(cmd)
			if err := RunConfigInit(path, workspaceDir, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			if workspaceDir != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", filepath.Join(workspaceDir, workspace.FileName))
			}
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing files")
	initCmd.Flags().StringVarP(&workspaceDir, "workspace", "w", "", "Also create an example workspace in this directory")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(config.Marshal(cfg))
			return err
		},
	}

	c.AddCommand(initCmd, showCmd)
	return c
}

// RunConfigInit writes the default configuration to path. With a
// workspace directory it also writes an example workspace there and
// points the configuration at it.
func RunConfigInit(path, workspaceDir string, force bool) error {
	if workspaceDir == "" {
		return config.WriteDefault(path, force)
	}

	abs, err := filepath.Abs(workspaceDir)
	if err != nil {
		return err
	}
	wsFile := filepath.Join(abs, workspace.FileName)
	for _, p := range []string{path, wsFile} {
		if _, err := os.Stat(p); err == nil && !force {
			return fmt.Errorf("%s already exists", p)
		}
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("create workspace dir: %w", err)
	}
	if err := os.WriteFile(wsFile, []byte(workspace.Example), 0o644); err != nil {
		return fmt.Errorf("write workspace: %w", err)
	}

	cfg := config.Default()
	cfg.Workspace.Dir = abs
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, config.Marshal(cfg), 0o644)
}
