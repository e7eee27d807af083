// Package transport runs the two loopback listeners extension clients
// connect to: a plain one and a TLS one backed by a self-signed
// certificate. Upgrade requests become websocket channels handed to a
// ConnectionHandler; everything else gets a small diagnostic surface.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"grimm.is/tether/internal/events"
	"grimm.is/tether/internal/logging"
	"grimm.is/tether/internal/metrics"
	"grimm.is/tether/internal/pki"
	"grimm.is/tether/internal/ratelimit"
	"grimm.is/tether/internal/scheduler"
)

// DefaultRetryDelay is the fixed backoff before the single restart attempt.
const DefaultRetryDelay = 5 * time.Second

// DefaultHandshakeWindow is the window HandshakeLimit applies to.
const DefaultHandshakeWindow = 10 * time.Second

// State is a listener's lifecycle state.
type State string

const (
	StateStopped   State = "stopped"
	StateListening State = "listening"
	StateRetrying  State = "retrying"
	StateFailed    State = "failed"
	StateDisabled  State = "disabled"
)

// CertSource provides the secure listener's certificate.
type CertSource interface {
	Ensure(ctx context.Context) (*pki.Material, error)
}

// Options configures a Manager.
type Options struct {
	TLSEnabled     bool
	MaxConnections int
	RetryDelay     time.Duration
	AllowedOrigins []string

	// HandshakeLimit caps upgrade attempts per origin per HandshakeWindow.
	// Zero disables the limit.
	HandshakeLimit  int
	HandshakeWindow time.Duration

	Certs   CertSource
	Handler ConnectionHandler
	Health  http.Handler

	Metrics *metrics.Registry
	Events  *events.Hub
	Logger  *logging.Logger
}

// Endpoints are the websocket URLs clients should dial. Secure is empty
// when the secure listener is disabled.
type Endpoints struct {
	Plain  string `json:"plain"`
	Secure string `json:"secure,omitempty"`
}

// ListenerStatus reports one listener.
type ListenerStatus struct {
	Kind      Kind   `json:"kind"`
	State     State  `json:"state"`
	Addr      string `json:"addr,omitempty"`
	LastError string `json:"last_error,omitempty"`
	Restarts  int    `json:"restarts"`
}

type listener struct {
	kind Kind
	host string
	port int

	mu        sync.Mutex
	state     State
	addr      string
	lastErr   error
	restarts  int
	retryUsed bool
	server    *http.Server
	retry     *scheduler.Handle
	tlsConfig *tls.Config
}

// Manager owns both listeners.
type Manager struct {
	opts    Options
	logger  *logging.Logger
	origin  originChecker
	limiter *ratelimit.Limiter

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	listeners   map[Kind]*listener
	fingerprint string
}

// NewManager creates a stopped manager.
func NewManager(opts Options) *Manager {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	m := &Manager{
		opts:   opts,
		logger: opts.Logger.WithComponent("transport"),
		origin: newOriginChecker(opts.AllowedOrigins),
		listeners: map[Kind]*listener{
			KindPlain:  {kind: KindPlain, state: StateStopped},
			KindSecure: {kind: KindSecure, state: StateStopped},
		},
	}
	if opts.HandshakeLimit > 0 {
		if opts.HandshakeWindow <= 0 {
			opts.HandshakeWindow = DefaultHandshakeWindow
		}
		m.limiter = ratelimit.NewLimiter(opts.HandshakeLimit, opts.HandshakeWindow, nil)
	}
	return m
}

// Start binds both listeners on host. Bind and certificate failures do not
// fail Start: they are recorded per listener, logged, and bind failures
// get one delayed restart.
func (m *Manager) Start(ctx context.Context, host string, plainPort, securePort int) (Endpoints, error) {
	if !IsLoopbackHost(host) {
		return Endpoints{}, fmt.Errorf("%w: %s", ErrNotLoopback, host)
	}
	if m.opts.Handler == nil {
		return Endpoints{}, errors.New("transport: no connection handler")
	}

	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return Endpoints{}, errors.New("transport: already started")
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	plain, secure := m.listeners[KindPlain], m.listeners[KindSecure]
	m.mu.Unlock()

	plain.host, plain.port = host, plainPort
	secure.host, secure.port = host, securePort

	m.startListener(plain)

	switch {
	case !m.opts.TLSEnabled:
		m.setState(secure, StateDisabled, nil)
	case m.opts.Certs == nil:
		m.setState(secure, StateDisabled, &CertificateError{Err: errors.New("no certificate source")})
	default:
		mat, err := m.opts.Certs.Ensure(ctx)
		if mat != nil && mat.Generated {
			m.opts.Metrics.RecordCertGeneration(mat.Generator, nil)
		}
		if err != nil {
			m.opts.Metrics.RecordCertGeneration("none", err)
			cerr := &CertificateError{Err: err}
			m.logger.Error("secure transport disabled", "error", err)
			m.setState(secure, StateDisabled, cerr)
			break
		}
		m.mu.Lock()
		m.fingerprint = mat.Fingerprint
		m.mu.Unlock()
		secure.mu.Lock()
		secure.tlsConfig = mat.TLSConfig()
		secure.mu.Unlock()
		m.startListener(secure)
	}

	return m.Endpoints(), nil
}

// Endpoints returns the websocket URLs of listeners that are not disabled
// or failed.
func (m *Manager) Endpoints() Endpoints {
	var ep Endpoints
	for _, st := range m.Status() {
		if st.State == StateDisabled || st.State == StateFailed || st.State == StateStopped {
			continue
		}
		url := st.Kind.Scheme() + "://" + st.Addr
		if st.Kind == KindSecure {
			ep.Secure = url
		} else {
			ep.Plain = url
		}
	}
	return ep
}

// Fingerprint returns the secure listener's certificate fingerprint.
func (m *Manager) Fingerprint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fingerprint
}

// Status reports both listeners, plain first.
func (m *Manager) Status() []ListenerStatus {
	out := make([]ListenerStatus, 0, 2)
	for _, k := range []Kind{KindPlain, KindSecure} {
		l := m.listeners[k]
		l.mu.Lock()
		st := ListenerStatus{Kind: k, State: l.state, Addr: l.addr, Restarts: l.restarts}
		if l.lastErr != nil {
			st.LastError = l.lastErr.Error()
		}
		l.mu.Unlock()
		out = append(out, st)
	}
	return out
}

// Stop cancels any pending restart and shuts both servers down. Hijacked
// websocket connections are owned by the handler and not closed here.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	var errs []error
	for _, k := range []Kind{KindPlain, KindSecure} {
		l := m.listeners[k]
		l.mu.Lock()
		srv, retry := l.server, l.retry
		l.server, l.retry = nil, nil
		l.mu.Unlock()

		if retry != nil {
			retry.Cancel()
		}
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s listener: %w", k, err))
			}
		}
		if l.currentState() != StateDisabled {
			m.setState(l, StateStopped, nil)
		}
	}
	return errors.Join(errs...)
}

func (l *listener) currentState() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (m *Manager) startListener(l *listener) {
	if err := m.bind(l); err != nil {
		m.fail(l, err)
	}
}

// bind listens and starts serving. The serve goroutine reports abnormal
// exits through fail.
func (m *Manager) bind(l *listener) error {
	addr := net.JoinHostPort(l.host, strconv.Itoa(l.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &BindError{Kind: l.kind, Addr: addr, Err: err}
	}
	bound := ln.Addr().String()
	if m.opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, m.opts.MaxConnections)
	}

	l.mu.Lock()
	if l.tlsConfig != nil {
		ln = tls.NewListener(ln, l.tlsConfig)
	}
	srv := &http.Server{
		Handler:           m.handler(l.kind),
		ReadHeaderTimeout: 10 * time.Second,
	}
	l.server = srv
	l.addr = bound
	l.retryUsed = false
	l.mu.Unlock()

	m.setState(l, StateListening, nil)
	m.logger.Info("listener started", "transport", l.kind, "addr", bound)

	go func() {
		err := srv.Serve(ln)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}
		m.fail(l, fmt.Errorf("%s listener: serve: %w", l.kind, err))
	}()
	return nil
}

// fail records a listener failure and schedules the single restart, unless
// this failure is the restart itself.
func (m *Manager) fail(l *listener, err error) {
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	l.mu.Lock()
	if l.retryUsed {
		l.mu.Unlock()
		m.logger.Error("listener failed", "transport", l.kind, "error", err)
		m.setState(l, StateFailed, err)
		return
	}
	l.retryUsed = true
	l.server = nil
	l.mu.Unlock()

	m.logger.Warn("listener unavailable, retrying once",
		"transport", l.kind, "delay", m.opts.RetryDelay, "error", err)
	m.setState(l, StateRetrying, err)

	handle := scheduler.After(ctx, m.opts.RetryDelay, "restart-"+l.kind.String(), func(context.Context) {
		m.restart(l)
	})
	l.mu.Lock()
	l.retry = handle
	l.mu.Unlock()
}

func (m *Manager) restart(l *listener) {
	l.mu.Lock()
	l.restarts++
	l.retry = nil
	l.mu.Unlock()

	err := m.bind(l)
	m.opts.Metrics.RecordRestart(l.kind.String(), err)
	if err != nil {
		m.fail(l, err)
	}
}

func (m *Manager) setState(l *listener, state State, err error) {
	l.mu.Lock()
	l.state = state
	if err != nil {
		l.lastErr = err
	} else if state == StateListening {
		l.lastErr = nil
	}
	addr := l.addr
	l.mu.Unlock()

	m.opts.Metrics.SetListenerUp(l.kind.String(), state == StateListening)
	data := events.ListenerData{Transport: l.kind.String(), State: string(state), Addr: addr}
	if err != nil {
		data.Error = err.Error()
	}
	m.opts.Events.EmitListener(data)
}
