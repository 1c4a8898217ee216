package config

import (
	"os"
	"path/filepath"
)

// SearchPaths returns the default TOML config file locations, in
// increasing priority: a system-wide file first, then a per-user file
// that overrides it, matching the "later overrides earlier" semantics
// of Load. Missing files are simply skipped by Load, so callers can pass
// this verbatim without checking existence first.
func SearchPaths() []string {
	paths := []string{"/etc/prefetchd/config.toml"}

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			configHome = filepath.Join(home, ".config")
		}
	}
	if configHome != "" {
		paths = append(paths, filepath.Join(configHome, "prefetchd", "config.toml"))
	}

	return paths
}
