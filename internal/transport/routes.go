package transport

import (
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// handler routes one listener: websocket upgrades on any path, the
// diagnostic surface otherwise.
func (m *Manager) handler(kind Kind) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     m.origin.check,
	}

	r := chi.NewRouter()
	r.Use(m.countRequests(kind))

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("pong"))
	})
	if m.opts.Health != nil {
		r.Method(http.MethodGet, "/health", m.opts.Health)
	}
	if m.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", m.opts.Metrics.Handler())
	}
	if kind == KindSecure {
		r.Get("/verify-cert", m.certPage(verifyCertPage))
		r.Get("/accept-cert", m.certPage(acceptCertPage))
	}
	r.NotFound(upgradeRequired)
	r.MethodNotAllowed(upgradeRequired)

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !websocket.IsWebSocketUpgrade(req) {
			r.ServeHTTP(w, req)
			return
		}
		if m.limiter != nil && !m.limiter.Allow(req.Header.Get("Origin")) {
			m.opts.Metrics.RecordHandshakeDenied(kind.String(), "rate_limited")
			m.logger.Debug("websocket handshake throttled",
				"transport", kind, "origin", req.Header.Get("Origin"))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			m.opts.Metrics.RecordHandshakeDenied(kind.String(), "upgrade")
			m.logger.Warn("websocket upgrade rejected",
				"transport", kind, "origin", req.Header.Get("Origin"), "error", err)
			return
		}
		m.opts.Handler.ServeConn(ws, kind, clientInfo(req))
	})
}

func upgradeRequired(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Upgrade", "websocket")
	http.Error(w, "Upgrade Required", http.StatusUpgradeRequired)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (m *Manager) countRequests(kind Kind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "other"
			}
			m.opts.Metrics.RecordDiagRequest(kind.String(), route, rec.status)
		})
	}
}

type certPageData struct {
	Fingerprint string
	Endpoint    string
}

func (m *Manager) certPage(tmpl *template.Template) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := certPageData{
			Fingerprint: m.Fingerprint(),
			Endpoint:    m.Endpoints().Secure,
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			m.logger.Warn("render certificate page", "error", err)
		}
	}
}

var verifyCertPage = template.Must(template.New("verify").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Certificate verified</title></head>
<body>
<h1>Secure connection working</h1>
<p>Your browser trusts this host's certificate. The extension can now use {{.Endpoint}}.</p>
<p>SHA-1 fingerprint: <code>{{.Fingerprint}}</code></p>
<p>You can close this tab.</p>
</body>
</html>
`))

var acceptCertPage = template.Must(template.New("accept").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Accept certificate</title></head>
<body>
<h1>Trust the local certificate</h1>
<p>This host uses a self-signed certificate for its secure endpoint.
If your browser showed a warning before this page, choose to proceed to accept it.</p>
<p>Compare the fingerprint below with the one printed by <code>tether cert show</code>:</p>
<p><code>{{.Fingerprint}}</code></p>
<p>Once accepted, <a href="/verify-cert">verify the connection</a>.</p>
</body>
</html>
`))
