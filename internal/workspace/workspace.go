// Package workspace is the stand-in owning application used by the CLI:
// it reads rules, sources, variables and recording settings from a
// workspace.yaml file and pushes full-state replacements to the host.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"

	"grimm.is/tether/internal/protocol"
)

// FileName is the workspace definition inside a workspace directory.
const FileName = "workspace.yaml"

// Source types understood by the loader.
const (
	SourceTypeStatic = "static"
	SourceTypeFile   = "file"
	SourceTypeEnv    = "env"
)

// File is the on-disk workspace format.
type File struct {
	Name      string            `yaml:"name"`
	Rules     RulesFile         `yaml:"rules"`
	Sources   []SourceFile      `yaml:"sources"`
	Variables map[string]string `yaml:"variables"`
	Recording RecordingFile     `yaml:"recording"`
}

// RulesFile groups rules by category.
type RulesFile struct {
	Header   []RuleFile `yaml:"header"`
	Request  []RuleFile `yaml:"request"`
	Response []RuleFile `yaml:"response"`
}

// RuleFile is one rule as written by a user.
type RuleFile struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Header   string   `yaml:"header"`
	Value    string   `yaml:"value"`
	Domains  []string `yaml:"domains"`
	Enabled  *bool    `yaml:"enabled"`
	Source   string   `yaml:"source"`
	Prefix   string   `yaml:"prefix"`
	Suffix   string   `yaml:"suffix"`
	Requires []string `yaml:"requires"`
	Tag      string   `yaml:"tag"`
}

// SourceFile declares a dynamic value source.
type SourceFile struct {
	ID    string `yaml:"id"`
	Type  string `yaml:"type"`
	Tag   string `yaml:"tag"`
	Path  string `yaml:"path"`
	Env   string `yaml:"env"`
	Value string `yaml:"value"`
}

// RecordingFile holds recording settings.
type RecordingFile struct {
	Enabled       bool   `yaml:"enabled"`
	Hotkey        string `yaml:"hotkey"`
	HotkeyEnabled *bool  `yaml:"hotkey_enabled"`
}

// Snapshot is a loaded workspace, ready to hand to the host.
type Snapshot struct {
	Name             string
	Dir              string
	Rules            protocol.RuleSet
	Sources          []protocol.Source
	Variables        protocol.VariableSnapshot
	RecordingEnabled bool
	Hotkey           string
	HotkeyEnabled    bool

	// watchPaths are files besides workspace.yaml whose changes require a reload.
	watchPaths []string
}

// WatchPaths returns the source files this snapshot was read from.
func (s *Snapshot) WatchPaths() []string {
	return append([]string(nil), s.watchPaths...)
}

// Load reads dir/workspace.yaml.
func Load(dir string) (*Snapshot, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("workspace path: %w", err)
	}
	data, err := os.ReadFile(filepath.Join(abs, FileName))
	if err != nil {
		return nil, fmt.Errorf("read workspace: %w", err)
	}
	return Parse(data, abs)
}

// Parse decodes a workspace definition. Relative file-source paths are
// resolved against dir.
func Parse(data []byte, dir string) (*Snapshot, error) {
	var f File
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("parse workspace: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Name:             f.Name,
		Dir:              dir,
		Variables:        protocol.VariableSnapshot(f.Variables).Clone(),
		RecordingEnabled: f.Recording.Enabled,
		Hotkey:           f.Recording.Hotkey,
		HotkeyEnabled:    f.Recording.HotkeyEnabled == nil || *f.Recording.HotkeyEnabled,
	}
	if snap.Name == "" {
		snap.Name = filepath.Base(dir)
	}

	snap.Rules = protocol.RuleSet{
		Header:   convertRules(f.Rules.Header),
		Request:  convertRules(f.Rules.Request),
		Response: convertRules(f.Rules.Response),
	}

	for _, sf := range f.Sources {
		src := protocol.Source{ID: sf.ID, Type: sf.Type, Tag: sf.Tag}
		switch sf.Type {
		case SourceTypeStatic:
			src.Content = sf.Value
		case SourceTypeEnv:
			src.Path = sf.Env
			src.Content = os.Getenv(sf.Env)
		case SourceTypeFile:
			path := sf.Path
			if !filepath.IsAbs(path) {
				path = filepath.Join(dir, path)
			}
			src.Path = path
			snap.watchPaths = append(snap.watchPaths, path)
			// A missing file is an empty source, not a load failure.
			if content, err := os.ReadFile(path); err == nil {
				src.Content = strings.TrimSpace(string(content))
			}
		}
		snap.Sources = append(snap.Sources, src)
	}
	return snap, nil
}

// Validate checks ids and source references.
func (f *File) Validate() error {
	var errs []error

	sources := make(map[string]bool, len(f.Sources))
	for i, s := range f.Sources {
		switch {
		case s.ID == "":
			errs = append(errs, fmt.Errorf("sources[%d]: id is required", i))
		case sources[s.ID]:
			errs = append(errs, fmt.Errorf("sources[%d]: duplicate id %q", i, s.ID))
		}
		sources[s.ID] = true

		switch s.Type {
		case SourceTypeStatic:
		case SourceTypeFile:
			if s.Path == "" {
				errs = append(errs, fmt.Errorf("source %q: path is required", s.ID))
			}
		case SourceTypeEnv:
			if s.Env == "" {
				errs = append(errs, fmt.Errorf("source %q: env is required", s.ID))
			}
		default:
			errs = append(errs, fmt.Errorf("source %q: unknown type %q", s.ID, s.Type))
		}
	}

	ids := make(map[string]bool)
	for cat, rules := range map[string][]RuleFile{
		"header": f.Rules.Header, "request": f.Rules.Request, "response": f.Rules.Response,
	} {
		for i, r := range rules {
			if r.ID == "" {
				errs = append(errs, fmt.Errorf("rules.%s[%d]: id is required", cat, i))
				continue
			}
			if ids[r.ID] {
				errs = append(errs, fmt.Errorf("rule %q: duplicate id", r.ID))
			}
			ids[r.ID] = true
			if r.Source != "" && !sources[r.Source] {
				errs = append(errs, fmt.Errorf("rule %q: unknown source %q", r.ID, r.Source))
			}
		}
	}
	return errors.Join(errs...)
}

func convertRules(in []RuleFile) []protocol.Rule {
	out := make([]protocol.Rule, 0, len(in))
	for _, r := range in {
		enabled := r.Enabled == nil || *r.Enabled
		out = append(out, protocol.Rule{
			ID:                r.ID,
			Name:              r.Name,
			HeaderName:        r.Header,
			HeaderValue:       r.Value,
			Domains:           append([]string(nil), r.Domains...),
			Enabled:           enabled,
			IsDynamic:         r.Source != "",
			SourceID:          r.Source,
			Prefix:            r.Prefix,
			Suffix:            r.Suffix,
			RequiredVariables: append([]string(nil), r.Requires...),
			Tag:               r.Tag,
		})
	}
	return out
}

// Example is written by `tether config init --workspace`.
const Example = `name: default

variables:
  ENV: dev

sources:
  - id: api-token
    type: file
    path: token.txt

rules:
  header:
    - id: env-header
      header: X-Environment
      value: "{{ENV}}"
      domains: ["*.example.test"]
    - id: auth
      header: Authorization
      prefix: "Bearer "
      source: api-token
      domains: ["api.example.test"]

recording:
  enabled: false
  hotkey: Alt+Shift+R
`
