// Package cmd implements the tether command line.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"grimm.is/tether/internal/brand"
	"grimm.is/tether/internal/config"
	"grimm.is/tether/internal/logging"
)

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           brand.BinaryName,
		Short:         brand.Description,
		Long:          brand.Name + " runs the loopback WebSocket host browser extensions connect to.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Configuration file (default "+brand.GetConfigPath()+")")

	root.AddCommand(
		newServeCommand(),
		newCheckCommand(),
		newStatusCommand(),
		newCertCommand(),
		newConfigCommand(),
		newVersionCommand(),
	)
	return root
}

// Execute runs the command line and reports errors on stderr.
func Execute() error {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

func configPath(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path
	}
	return brand.GetConfigPath()
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configPath(cmd)
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, out io.Writer) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{Level: level, Output: out, JSON: cfg.Logging.JSON}), nil
}
