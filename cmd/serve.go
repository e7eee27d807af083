package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"grimm.is/tether/internal/config"
	"grimm.is/tether/internal/host"
	"grimm.is/tether/internal/logging"
	"grimm.is/tether/internal/workspace"
)

// shutdownTimeout bounds graceful listener shutdown.
const shutdownTimeout = 5 * time.Second

func newServeCommand() *cobra.Command {
	var workspaceDir string
	c := &cobra.Command{
		Use:   "serve",
		Short: "Run the extension host in the foreground",
		Long: `Binds the plain and secure loopback listeners, loads the active workspace
and pushes its rules, sources and recording settings to every connected
extension until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if workspaceDir != "" {
				cfg.Workspace.Dir = workspaceDir
			}
			logger, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			logging.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return RunServe(ctx, cfg, logger)
		},
	}
	c.Flags().StringVarP(&workspaceDir, "workspace", "w", "", "Workspace directory (overrides workspace.dir)")
	return c
}

// RunServe runs the host until ctx is cancelled.
func RunServe(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	if warnings, err := host.CheckPortConflicts(cfg); err != nil {
		logger.Debug("port preflight skipped", "error", err)
	} else {
		for _, w := range warnings {
			logger.Warn(w)
		}
	}

	h, err := host.New(host.Options{Config: cfg, Logger: logger})
	if err != nil {
		return fmt.Errorf("configure host: %w", err)
	}

	sub := h.Events().Subscribe(0)
	defer sub.Close()
	go journalEvents(ctx, sub, logger)

	var watcher *workspace.Watcher
	if cfg.Workspace.Dir != "" {
		watcher = workspace.NewWatcher(h, logger)
		// A broken workspace leaves the host serving empty configuration.
		if err := watcher.Switch(ctx, cfg.Workspace.Dir); err != nil {
			logger.Error("workspace not loaded", "dir", cfg.Workspace.Dir, "error", err)
		}
		if cfg.WatchWorkspace() {
			if err := watcher.Start(ctx); err != nil {
				logger.Warn("workspace changes will not be followed", "error", err)
			}
		}
	}

	eps, err := h.Start(ctx)
	if err != nil {
		return err
	}
	logger.Info("accepting extension connections", "plain", eps.Plain, "secure", eps.Secure)

	<-ctx.Done()
	logger.Info("shutting down")

	if watcher != nil {
		_ = watcher.Close()
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Stop(stopCtx)
}
