package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// ErrSchemaVersion is returned for files written by a newer host.
var ErrSchemaVersion = errors.New("unsupported schema_version")

type decodeFunc func(data []byte, filename string, into *Config) error

// decoders maps a file extension to its format. Anything else is HCL.
var decoders = map[string]decodeFunc{
	".json": decodeJSON,
}

// LoadFile reads path, applies defaults and validates. A missing file
// yields the defaults so a fresh install runs without `config init`.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	decode, ok := decoders[strings.ToLower(filepath.Ext(path))]
	if !ok {
		decode = decodeHCL
	}
	var cfg Config
	if err := decode(data, path, &cfg); err != nil {
		return nil, err
	}
	return finish(&cfg)
}

// LoadHCL parses HCL source.
func LoadHCL(data []byte, filename string) (*Config, error) {
	var cfg Config
	if err := decodeHCL(data, filename, &cfg); err != nil {
		return nil, err
	}
	return finish(&cfg)
}

// LoadJSON parses the JSON form of the config.
func LoadJSON(data []byte) (*Config, error) {
	var cfg Config
	if err := decodeJSON(data, "", &cfg); err != nil {
		return nil, err
	}
	return finish(&cfg)
}

func decodeHCL(data []byte, filename string, into *Config) error {
	file, diags := hclparse.NewParser().ParseHCL(data, filename)
	if diags.HasErrors() {
		return fmt.Errorf("parse %s: %s", filename, diags.Error())
	}
	if diags := gohcl.DecodeBody(file.Body, nil, into); diags.HasErrors() {
		return fmt.Errorf("decode %s: %s", filename, diags.Error())
	}
	return nil
}

// decodeJSON rejects unknown keys, matching HCL's handling of
// unexpected attributes.
func decodeJSON(data []byte, filename string, into *Config) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		if filename == "" {
			filename = "config"
		}
		return fmt.Errorf("parse %s: %w", filename, err)
	}
	return nil
}

func finish(cfg *Config) (*Config, error) {
	if v := cfg.SchemaVersion; v != "" && v != CurrentSchemaVersion {
		return nil, fmt.Errorf("%w %q (this build reads %q)", ErrSchemaVersion, v, CurrentSchemaVersion)
	}
	cfg.ApplyDefaults()
	if errs := cfg.Validate(); errs.HasErrors() {
		return nil, errs
	}
	return cfg, nil
}
