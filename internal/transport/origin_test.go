package transport

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"grimm.is/tether/internal/protocol"
)

func TestIsLoopbackHost(t *testing.T) {
	for host, want := range map[string]bool{
		"127.0.0.1":   true,
		"127.1.2.3":   true,
		"::1":         true,
		"[::1]":       true,
		"localhost":   true,
		"LOCALHOST":   true,
		"0.0.0.0":     false,
		"192.168.1.4": false,
		"example.com": false,
		"":            false,
	} {
		assert.Equal(t, want, IsLoopbackHost(host), host)
	}
}

func TestClientInfo(t *testing.T) {
	req := httptest.NewRequest("GET", "/?clientName=ext&clientVersion=2.0&platform=mac", nil)
	assert.Equal(t, protocol.ClientInfo{Name: "ext", Version: "2.0", Platform: "mac"}, clientInfo(req))

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "chrome-extension://abc")
	assert.Equal(t, "chrome", clientInfo(req).Name)

	req = httptest.NewRequest("GET", "/", nil)
	assert.Equal(t, "unknown", clientInfo(req).Name)
}
