package transport

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"grimm.is/tether/internal/protocol"
)

var extensionSchemes = map[string]string{
	"chrome-extension":     "chrome",
	"moz-extension":        "firefox",
	"safari-web-extension": "safari",
	"ms-browser-extension": "edge",
}

// IsLoopbackHost reports whether host names the local machine.
func IsLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}

// originChecker allows browser-extension origins, loopback web origins,
// requests without an Origin header and any configured extras.
type originChecker struct {
	extra map[string]bool
}

func newOriginChecker(extra []string) originChecker {
	m := make(map[string]bool, len(extra))
	for _, o := range extra {
		m[strings.TrimRight(o, "/")] = true
	}
	return originChecker{extra: m}
}

func (c originChecker) check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if c.extra[strings.TrimRight(origin, "/")] {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if _, ok := extensionSchemes[u.Scheme]; ok {
		return true
	}
	return (u.Scheme == "http" || u.Scheme == "https") && IsLoopbackHost(u.Hostname())
}

// clientInfo reads the identity a client declares in its handshake.
// Query parameters win; otherwise the browser is inferred from the origin.
func clientInfo(r *http.Request) protocol.ClientInfo {
	q := r.URL.Query()
	info := protocol.ClientInfo{
		Name:     q.Get("clientName"),
		Version:  q.Get("clientVersion"),
		Platform: q.Get("platform"),
	}
	if info.Name == "" {
		info.Name = browserFromOrigin(r.Header.Get("Origin"))
	}
	if info.Name == "" {
		info.Name = "unknown"
	}
	return info
}

func browserFromOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return extensionSchemes[u.Scheme]
}
