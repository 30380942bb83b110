package config

import (
	"os"
	"path/filepath"
)

// DefaultCLIPath returns the config file bridgectl reads when no --config flag
// is given: $BRIDGE_CONFIG, then ~/.bridgectl/config.yaml if it exists.
// An empty result means defaults and environment only.
func DefaultCLIPath() string {
	if p := os.Getenv("BRIDGE_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	p := filepath.Join(home, ".bridgectl", "config.yaml")
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// LoadCLI loads configuration for bridgectl using BRIDGE_ environment overrides.
func LoadCLI(path string) (*Config, error) {
	if path == "" {
		path = DefaultCLIPath()
	}
	return Load(path, PrefixBridge)
}
