// Package host wires the transport, client registry, broadcaster and
// recording coordinator into one bridge. The owning application pushes
// full-state inputs through the Set methods and reads downstream outputs
// from the events hub.
package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"grimm.is/tether/internal/brand"
	"grimm.is/tether/internal/broadcast"
	"grimm.is/tether/internal/clock"
	"grimm.is/tether/internal/config"
	"grimm.is/tether/internal/events"
	"grimm.is/tether/internal/health"
	"grimm.is/tether/internal/logging"
	"grimm.is/tether/internal/metrics"
	"grimm.is/tether/internal/pki"
	"grimm.is/tether/internal/protocol"
	"grimm.is/tether/internal/recording"
	"grimm.is/tether/internal/registry"
	"grimm.is/tether/internal/scheduler"
	"grimm.is/tether/internal/transport"
	"grimm.is/tether/internal/workspace"
)

// healthTTL bounds how often /health re-runs the checks.
const healthTTL = 2 * time.Second

// Options configures a Host. Only Config is commonly set; the rest
// default to production implementations.
type Options struct {
	Config  *config.Config
	Capture recording.Capture
	Certs   transport.CertSource
	DataDir string

	Metrics *metrics.Registry
	Events  *events.Hub
	Logger  *logging.Logger
	Clock   clock.Clock
}

// Host is the running bridge.
type Host struct {
	cfg       *config.Config
	durations config.Durations
	logger    *logging.Logger
	metrics   *metrics.Registry
	events    *events.Hub

	registry    *registry.Registry
	broadcaster *broadcast.Broadcaster
	recording   *recording.Coordinator
	transport   *transport.Manager
	scheduler   *scheduler.Scheduler
	health      *health.Checker
}

// New builds a stopped host from configuration.
func New(opts Options) (*Host, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.ApplyDefaults()
	if errs := cfg.Validate(); errs.HasErrors() {
		return nil, errs
	}
	durations, err := cfg.ParseDurations()
	if err != nil {
		return nil, err
	}

	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Get()
	}
	if opts.Events == nil {
		opts.Events = events.NewHub()
	}
	if opts.DataDir == "" {
		opts.DataDir = brand.GetDataDir()
	}
	if opts.Certs == nil {
		opts.Certs = NewCertManager(cfg, opts.Logger)
	}

	h := &Host{
		cfg:       cfg,
		durations: durations,
		logger:    opts.Logger.WithComponent("host"),
		metrics:   opts.Metrics,
		events:    opts.Events,
	}

	h.registry = registry.New(registry.Options{
		IdleTimeout: durations.IdleTimeout,
		Peer: registry.PeerOptions{
			PingInterval: durations.PingInterval,
			PongTimeout:  durations.PongTimeout,
		},
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
		Events:  opts.Events,
		Clock:   opts.Clock,
	})
	h.broadcaster = broadcast.New(h.registry, opts.Logger, opts.Metrics)
	h.recording = recording.New(recording.Options{
		Capture:     opts.Capture,
		Broadcaster: h.broadcaster,
		Events:      opts.Events,
		Metrics:     opts.Metrics,
		Logger:      opts.Logger,
	})

	h.registry.AddInitialSnapshot(h.broadcaster.SendInitial)
	h.registry.AddInitialSnapshot(func(ctx context.Context, conn *registry.Connection) error {
		return h.recording.SendState(ctx, conn)
	})
	h.registry.AddReadyHook(h.broadcaster.Resync)
	h.registry.SetDispatcher(registry.DispatcherFunc(h.dispatch))

	h.health = health.NewChecker(healthTTL)
	h.transport = transport.NewManager(transport.Options{
		TLSEnabled:     cfg.TLSEnabled(),
		MaxConnections: cfg.Server.MaxConnections,
		RetryDelay:     durations.BindRetryDelay,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		HandshakeLimit: max(cfg.Server.HandshakeLimit, 0),
		Certs:          opts.Certs,
		Handler:        h.registry,
		Health:         h.health.Handler(),
		Metrics:        opts.Metrics,
		Events:         opts.Events,
		Logger:         opts.Logger,
	})
	h.health.Register("listeners", health.ListenersCheck(h.transport.Status))
	h.health.Register("certificate", health.CertificateCheck(cfg.TLSEnabled(), h.transport.Fingerprint))
	h.health.Register("clients", health.ClientsCheck(func() (int, int) {
		s := h.registry.Summary()
		return s.Total, s.Ready
	}))
	h.health.Register("data_dir", health.DataDirCheck(opts.DataDir))

	h.scheduler = scheduler.New(opts.Logger, opts.Clock)
	if err := h.scheduler.AddTask(scheduler.NewLivenessSweepTask(h.registry, durations.SweepInterval)); err != nil {
		return nil, err
	}
	if err := h.scheduler.AddTask(scheduler.NewStatusPublishTask(h.registry.PublishSummary, durations.SweepInterval)); err != nil {
		return nil, err
	}
	h.health.Register("tasks", health.TasksCheck(h.scheduler.Status))

	return h, nil
}

// NewCertManager builds the certificate manager described by cfg.
func NewCertManager(cfg *config.Config, logger *logging.Logger) *pki.CertManager {
	dir := cfg.TLS.CertDir
	if dir == "" {
		dir = brand.GetCertDir()
	}
	return pki.NewCertManager(dir,
		pki.WithValidDays(cfg.TLS.ValidDays),
		pki.WithGenerators(pki.NewOpenSSLGenerator(cfg.TLS.OpenSSLPath), pki.BuiltinGenerator{}),
		pki.WithLogger(logger),
	)
}

// Start binds the listeners and starts background tasks. Listener
// failures are retried in the background and do not fail Start.
func (h *Host) Start(ctx context.Context) (transport.Endpoints, error) {
	eps, err := h.transport.Start(ctx, h.cfg.Server.Host, h.cfg.Server.PlainPort, h.cfg.Server.SecurePort)
	if err != nil {
		return transport.Endpoints{}, err
	}
	h.scheduler.Start()
	h.logger.Info("host started", "plain", eps.Plain, "secure", eps.Secure)
	return eps, nil
}

// Stop closes every client, stops background tasks and shuts the
// listeners down.
func (h *Host) Stop(ctx context.Context) error {
	h.scheduler.Stop()
	h.registry.CloseAll(registry.ReasonShutdown)
	err := h.transport.Stop(ctx)
	h.logger.Info("host stopped")
	return err
}

// SetRules replaces the rule set and pushes it to every ready client.
func (h *Host) SetRules(ctx context.Context, rules protocol.RuleSet) error {
	h.broadcaster.ApplyRules(rules)
	_, err := h.broadcaster.Broadcast(ctx)
	return err
}

// SetSources replaces the source list. Dynamic rule values depend on
// source content, so rules are re-sent along with the sources.
func (h *Host) SetSources(ctx context.Context, sources []protocol.Source) error {
	h.broadcaster.ApplySources(sources)
	return h.pushConfiguration(ctx)
}

// SetVariables replaces the variable snapshot and re-resolves rules.
func (h *Host) SetVariables(ctx context.Context, vars protocol.VariableSnapshot) error {
	h.broadcaster.ApplyVariables(vars)
	_, err := h.broadcaster.Broadcast(ctx)
	return err
}

// SetNetworkState records the current network state and pushes it.
func (h *Host) SetNetworkState(ctx context.Context, state protocol.NetworkState) error {
	h.broadcaster.ApplyNetworkState(state)
	_, err := h.broadcaster.BroadcastNetworkState(ctx)
	return err
}

// SetRecordingEnabled changes the recording feature flag.
func (h *Host) SetRecordingEnabled(ctx context.Context, enabled bool) error {
	return h.recording.SetEnabled(ctx, enabled)
}

// SetHotkey changes the recording hotkey.
func (h *Host) SetHotkey(ctx context.Context, hotkey string, enabled bool) error {
	return h.recording.SetHotkey(ctx, hotkey, enabled)
}

// ApplyWorkspace replaces every upstream input from a workspace in one
// step, as on an active-workspace switch.
func (h *Host) ApplyWorkspace(ctx context.Context, snap *workspace.Snapshot) error {
	if snap == nil {
		return errors.New("nil workspace")
	}
	h.broadcaster.Apply(snap.Rules, snap.Sources)
	h.broadcaster.ApplyVariables(snap.Variables)

	var errs []error
	if err := h.pushConfiguration(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := h.recording.SetEnabled(ctx, snap.RecordingEnabled); err != nil {
		errs = append(errs, fmt.Errorf("recording flag: %w", err))
	}
	if err := h.recording.SetHotkey(ctx, snap.Hotkey, snap.HotkeyEnabled); err != nil {
		errs = append(errs, fmt.Errorf("recording hotkey: %w", err))
	}
	h.logger.Info("workspace applied", "name", snap.Name,
		"rules", snap.Rules.Len(), "waiting", len(h.broadcaster.Waiting()))
	return errors.Join(errs...)
}

func (h *Host) pushConfiguration(ctx context.Context) error {
	if _, err := h.broadcaster.BroadcastSources(ctx); err != nil {
		return fmt.Errorf("broadcast sources: %w", err)
	}
	if _, err := h.broadcaster.Broadcast(ctx); err != nil {
		return fmt.Errorf("broadcast rules: %w", err)
	}
	return nil
}

// Summary returns the current connection summary.
func (h *Host) Summary() registry.Summary {
	return h.registry.Summary()
}

// Endpoints returns the websocket URLs of the listeners.
func (h *Host) Endpoints() transport.Endpoints {
	return h.transport.Endpoints()
}

// Listeners reports both listeners.
func (h *Host) Listeners() []transport.ListenerStatus {
	return h.transport.Status()
}

// Health runs the health checks.
func (h *Host) Health(ctx context.Context) health.Report {
	return h.health.Check(ctx)
}

// Events returns the hub downstream outputs are published on.
func (h *Host) Events() *events.Hub {
	return h.events
}

// Registry exposes the client registry.
func (h *Host) Registry() *registry.Registry {
	return h.registry
}

// Broadcaster exposes the configuration broadcaster.
func (h *Host) Broadcaster() *broadcast.Broadcaster {
	return h.broadcaster
}

// Recording exposes the recording coordinator.
func (h *Host) Recording() *recording.Coordinator {
	return h.recording
}
