// Package brand holds the product identity and resolves the host's
// on-disk locations.
//
// The identity lives in brand.json, embedded at compile time, so packaging
// scripts can read the same values.
package brand

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

//go:embed brand.json
var brandJSON []byte

// Identity is the parsed brand.json.
type Identity struct {
	Name        string `json:"name"`
	BinaryName  string `json:"binaryName"`
	Description string `json:"description"`
	EnvPrefix   string `json:"envPrefix"`
	ConfigDir   string `json:"configDir"`
	DataDir     string `json:"dataDir"`
	ConfigFile  string `json:"configFile"`
	CertDir     string `json:"certDir"`
}

var identity = mustParse(brandJSON)

func mustParse(raw []byte) Identity {
	var id Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		panic("brand.json: " + err.Error())
	}
	return id
}

var (
	Name        = identity.Name
	BinaryName  = identity.BinaryName
	Description = identity.Description

	// Set at build time via -ldflags "-X grimm.is/tether/internal/brand.Version=...".
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Get returns the embedded identity.
func Get() Identity { return identity }

// UserAgent identifies this build on outgoing HTTP requests.
func UserAgent() string {
	return Name + "/" + Version
}

// Paths are the host's resolved directories.
type Paths struct {
	ConfigDir  string
	DataDir    string
	CertDir    string
	ConfigFile string
}

// Resolve computes Paths from the environment seen through getenv.
// <PREFIX>_CONFIG_DIR and <PREFIX>_DATA_DIR win; otherwise <PREFIX>_PREFIX
// roots both trees; otherwise the home-relative defaults apply.
func Resolve(getenv func(string) string) Paths {
	env := func(suffix string) string { return getenv(identity.EnvPrefix + suffix) }

	p := Paths{
		ConfigDir: expandHome(identity.ConfigDir),
		DataDir:   expandHome(identity.DataDir),
	}
	if root := env("_PREFIX"); root != "" {
		p.ConfigDir = filepath.Join(root, "config")
		p.DataDir = filepath.Join(root, "data")
	}
	if dir := env("_CONFIG_DIR"); dir != "" {
		p.ConfigDir = dir
	}
	if dir := env("_DATA_DIR"); dir != "" {
		p.DataDir = dir
	}
	p.CertDir = filepath.Join(p.DataDir, identity.CertDir)
	p.ConfigFile = filepath.Join(p.ConfigDir, identity.ConfigFile)
	return p
}

// GetDataDir returns the data root; certificates live below it.
func GetDataDir() string { return Resolve(os.Getenv).DataDir }

// GetCertDir returns the directory holding the TLS key and certificate.
func GetCertDir() string { return Resolve(os.Getenv).CertDir }

// GetConfigPath returns the default config file path.
func GetConfigPath() string { return Resolve(os.Getenv).ConfigFile }

func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
