package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// Marshal renders the configuration as HCL.
func Marshal(cfg *Config) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	body.SetAttributeValue("schema_version", cty.StringVal(cfg.SchemaVersion))
	body.AppendNewline()

	if s := cfg.Server; s != nil {
		b := body.AppendNewBlock("server", nil).Body()
		b.SetAttributeValue("host", cty.StringVal(s.Host))
		b.SetAttributeValue("plain_port", cty.NumberIntVal(int64(s.PlainPort)))
		b.SetAttributeValue("secure_port", cty.NumberIntVal(int64(s.SecurePort)))
		b.SetAttributeValue("max_connections", cty.NumberIntVal(int64(s.MaxConnections)))
		b.SetAttributeValue("bind_retry_delay", cty.StringVal(s.BindRetryDelay))
		b.SetAttributeValue("handshake_limit", cty.NumberIntVal(int64(s.HandshakeLimit)))
		if len(s.AllowedOrigins) > 0 {
			b.SetAttributeValue("allowed_origins", stringList(s.AllowedOrigins))
		}
		body.AppendNewline()
	}

	if t := cfg.TLS; t != nil {
		b := body.AppendNewBlock("tls", nil).Body()
		b.SetAttributeValue("enabled", cty.BoolVal(cfg.TLSEnabled()))
		if t.CertDir != "" {
			b.SetAttributeValue("cert_dir", cty.StringVal(t.CertDir))
		}
		if t.OpenSSLPath != "" {
			b.SetAttributeValue("openssl_path", cty.StringVal(t.OpenSSLPath))
		}
		b.SetAttributeValue("valid_days", cty.NumberIntVal(int64(t.ValidDays)))
		body.AppendNewline()
	}

	if l := cfg.Liveness; l != nil {
		b := body.AppendNewBlock("liveness", nil).Body()
		b.SetAttributeValue("sweep_interval", cty.StringVal(l.SweepInterval))
		b.SetAttributeValue("idle_timeout", cty.StringVal(l.IdleTimeout))
		b.SetAttributeValue("ping_interval", cty.StringVal(l.PingInterval))
		b.SetAttributeValue("pong_timeout", cty.StringVal(l.PongTimeout))
		body.AppendNewline()
	}

	if l := cfg.Logging; l != nil {
		b := body.AppendNewBlock("logging", nil).Body()
		b.SetAttributeValue("level", cty.StringVal(l.Level))
		b.SetAttributeValue("json", cty.BoolVal(l.JSON))
		body.AppendNewline()
	}

	if w := cfg.Workspace; w != nil {
		b := body.AppendNewBlock("workspace", nil).Body()
		if w.Dir != "" {
			b.SetAttributeValue("dir", cty.StringVal(w.Dir))
		}
		b.SetAttributeValue("watch", cty.BoolVal(cfg.WatchWorkspace()))
	}

	return hclwrite.Format(f.Bytes())
}

// WriteDefault writes the default configuration to path unless a file exists.
func WriteDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	return os.WriteFile(path, Marshal(Default()), 0o644)
}

func stringList(items []string) cty.Value {
	vals := make([]cty.Value, len(items))
	for i, s := range items {
		vals[i] = cty.StringVal(s)
	}
	return cty.ListVal(vals)
}
