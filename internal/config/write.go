package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Supported file formats for Write.
const (
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

// document renders c with durations as strings so the file stays
// readable and loads back through Load.
func (c *Config) document() map[string]any {
	return map[string]any{
		"remote": map[string]any{
			"url":     c.Remote.URL,
			"token":   c.Remote.Token,
			"timeout": c.Remote.Timeout.String(),
		},
		"store": map[string]any{
			"backend":       c.Store.Backend,
			"path":          c.Store.Path,
			"revision_path": c.Store.RevisionPath,
		},
		"sync": map[string]any{
			"actor":          c.Sync.Actor,
			"show_completed": c.Sync.ShowCompleted,
		},
		"daemon": map[string]any{
			"refresh_interval": c.Daemon.RefreshInterval.String(),
			"inbox_dir":        c.Daemon.InboxDir,
			"debounce":         c.Daemon.Debounce.String(),
		},
		"dashboard": map[string]any{
			"addr": c.Dashboard.Addr,
		},
		"log": map[string]any{
			"file":         c.Log.File,
			"max_size_mb":  c.Log.MaxSizeMB,
			"max_backups":  c.Log.MaxBackups,
			"max_age_days": c.Log.MaxAgeDays,
			"quiet":        c.Log.Quiet,
		},
	}
}

// Encode renders c in the given format.
func (c *Config) Encode(format string) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(c.document()); err != nil {
			return nil, fmt.Errorf("failed to encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode yaml: %w", err)
		}
	case FormatTOML:
		if err := toml.NewEncoder(&buf).Encode(c.document()); err != nil {
			return nil, fmt.Errorf("failed to encode toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q (want %s or %s)", format, FormatYAML, FormatTOML)
	}
	return buf.Bytes(), nil
}

// Write saves c to path. The file may hold a token, so it is created
// readable by the owner only. An existing file is left untouched unless
// overwrite is set.
func Write(path string, c *Config, format string, overwrite bool) error {
	data, err := c.Encode(format)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
