// Package pki bootstraps the self-signed certificate used by the secure
// listener. Material is generated once, persisted under the data root and
// reused on every restart until an operator clears it.
package pki

import (
	"context"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"grimm.is/tether/internal/clock"
	"grimm.is/tether/internal/logging"
)

const (
	certFileName = "server.crt"
	keyFileName  = "server.key"

	// DefaultValidDays is used when the manager is built without WithValidDays.
	DefaultValidDays = 3650
)

// ErrGeneration is wrapped by every failure to create fresh material.
var ErrGeneration = errors.New("certificate generation failed")

// Material is the loaded key pair plus its fingerprint.
type Material struct {
	Certificate tls.Certificate
	Leaf        *x509.Certificate
	CertPath    string
	KeyPath     string
	Fingerprint string
	Generated   bool   // true when created during this Ensure call
	Generator   string // which generator produced it ("" when loaded from disk)
}

// TLSConfig returns a server TLS config serving this material.
func (m *Material) TLSConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{m.Certificate},
		MinVersion:   tls.VersionTLS12,
	}
}

// CertManager owns the on-disk key pair.
type CertManager struct {
	CertDir    string
	ValidDays  int
	Generators []Generator

	logger *logging.Logger

	mu       sync.Mutex
	material *Material
}

// Option configures a CertManager.
type Option func(*CertManager)

// WithValidDays sets the validity of freshly generated certificates.
func WithValidDays(days int) Option {
	return func(m *CertManager) {
		if days > 0 {
			m.ValidDays = days
		}
	}
}

// WithGenerators replaces the generator chain.
func WithGenerators(gens ...Generator) Option {
	return func(m *CertManager) { m.Generators = gens }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *CertManager) { m.logger = l.WithComponent("pki") }
}

// NewCertManager builds a manager rooted at certDir. The default generator
// chain tries the openssl binary first and falls back to crypto/x509.
func NewCertManager(certDir string, opts ...Option) *CertManager {
	m := &CertManager{
		CertDir:    certDir,
		ValidDays:  DefaultValidDays,
		Generators: []Generator{NewOpenSSLGenerator(""), BuiltinGenerator{}},
		logger:     logging.WithComponent("pki"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CertPath returns the certificate file path.
func (m *CertManager) CertPath() string { return filepath.Join(m.CertDir, certFileName) }

// KeyPath returns the private key file path.
func (m *CertManager) KeyPath() string { return filepath.Join(m.CertDir, keyFileName) }

// Ensure loads persisted material or generates it. The result is cached.
func (m *CertManager) Ensure(ctx context.Context) (*Material, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.material != nil {
		return m.material, nil
	}

	certPath, keyPath := m.CertPath(), m.KeyPath()
	if fileExists(certPath) && fileExists(keyPath) {
		mat, err := load(certPath, keyPath)
		if err == nil {
			if clock.Now().After(mat.Leaf.NotAfter) {
				m.logger.Warn("persisted certificate has expired; clear it to regenerate",
					"not_after", mat.Leaf.NotAfter.Format(time.RFC3339), "path", certPath)
			}
			m.logger.Info("loaded certificate", "path", certPath, "fingerprint", mat.Fingerprint)
			m.material = mat
			return mat, nil
		}
		m.logger.Warn("persisted certificate unreadable, regenerating", "error", err)
	}

	if err := os.MkdirAll(m.CertDir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create cert dir: %v", ErrGeneration, err)
	}

	var attempts []error
	for _, gen := range m.Generators {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := gen.Generate(ctx, certPath, keyPath, m.ValidDays); err != nil {
			m.logger.Debug("certificate generator failed", "generator", gen.Name(), "error", err)
			attempts = append(attempts, fmt.Errorf("%s: %w", gen.Name(), err))
			continue
		}
		mat, err := load(certPath, keyPath)
		if err != nil {
			attempts = append(attempts, fmt.Errorf("%s: output unusable: %w", gen.Name(), err))
			continue
		}
		mat.Generated = true
		mat.Generator = gen.Name()
		m.logger.Info("generated certificate", "generator", gen.Name(), "path", certPath, "fingerprint", mat.Fingerprint)
		m.material = mat
		return mat, nil
	}

	if len(attempts) == 0 {
		return nil, fmt.Errorf("%w: no generators configured", ErrGeneration)
	}
	return nil, fmt.Errorf("%w: %w", ErrGeneration, errors.Join(attempts...))
}

// Fingerprint returns the cached fingerprint, or "" before Ensure succeeded.
func (m *CertManager) Fingerprint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.material == nil {
		return ""
	}
	return m.material.Fingerprint
}

// Reset removes the persisted key pair and drops the cache.
func (m *CertManager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.material = nil
	for _, p := range []string{m.CertPath(), m.KeyPath()} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

// Fingerprint formats the SHA-1 digest of a DER certificate as AA:BB:...
func Fingerprint(der []byte) string {
	sum := sha1.Sum(der)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

func load(certPath, keyPath string) (*Material, error) {
	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	if len(pair.Certificate) == 0 {
		return nil, errors.New("certificate file holds no certificate")
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	pair.Leaf = leaf
	return &Material{
		Certificate: pair,
		Leaf:        leaf,
		CertPath:    certPath,
		KeyPath:     keyPath,
		Fingerprint: Fingerprint(leaf.Raw),
	}, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
