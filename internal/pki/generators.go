package pki

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"os/exec"
	"strconv"
	"time"

	"grimm.is/tether/internal/brand"
	"grimm.is/tether/internal/clock"
)

// ErrToolUnavailable is returned when the external generator binary is missing.
var ErrToolUnavailable = errors.New("certificate tool not available")

// Generator writes a PEM certificate and private key to the given paths.
type Generator interface {
	Name() string
	Generate(ctx context.Context, certPath, keyPath string, validDays int) error
}

// OpenSSLGenerator shells out to the openssl binary.
type OpenSSLGenerator struct {
	Path    string
	Timeout time.Duration
}

// NewOpenSSLGenerator uses path, or "openssl" from PATH when empty.
func NewOpenSSLGenerator(path string) *OpenSSLGenerator {
	return &OpenSSLGenerator{Path: path, Timeout: 30 * time.Second}
}

// Name implements Generator.
func (g *OpenSSLGenerator) Name() string { return "openssl" }

// Generate implements Generator.
func (g *OpenSSLGenerator) Generate(ctx context.Context, certPath, keyPath string, validDays int) error {
	bin := g.Path
	if bin == "" {
		bin = "openssl"
	}
	resolved, err := exec.LookPath(bin)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrToolUnavailable, err)
	}

	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, resolved,
		"req", "-x509",
		"-newkey", "rsa:2048",
		"-nodes",
		"-sha256",
		"-keyout", keyPath,
		"-out", certPath,
		"-days", strconv.Itoa(validDays),
		"-subj", "/CN=localhost/O="+brand.Name,
		"-addext", "subjectAltName=DNS:localhost,IP:127.0.0.1,IP:::1",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// Leave nothing half-written for the next generator.
		os.Remove(certPath)
		os.Remove(keyPath)
		return fmt.Errorf("openssl req: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return os.Chmod(keyPath, 0o600)
}

// BuiltinGenerator creates the pair with crypto/x509; it works everywhere.
type BuiltinGenerator struct{}

// Name implements Generator.
func (BuiltinGenerator) Name() string { return "builtin" }

// Generate implements Generator.
func (BuiltinGenerator) Generate(_ context.Context, certPath, keyPath string, validDays int) error {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("failed to generate private key: %w", err)
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return fmt.Errorf("failed to generate serial number: %w", err)
	}

	notBefore := clock.Now().Add(-time.Hour)
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{brand.Name},
			CommonName:   "localhost",
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(time.Duration(validDays) * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return fmt.Errorf("failed to create certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}
	return nil
}
