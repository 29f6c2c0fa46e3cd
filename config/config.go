// Package config provides configuration loading and management for tsproject.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete tsproject configuration
type Config struct {
	Workspace WorkspaceConfig `yaml:"workspace"`
	Project   ProjectConfig   `yaml:"project"`
	Watch     WatchConfig     `yaml:"watch"`
	Extract   ExtractConfig   `yaml:"extract"`
	NATS      NATSConfig      `yaml:"nats"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// WorkspaceConfig configures the directory tree that is scanned for projects
type WorkspaceConfig struct {
	// Root is the workspace root (auto-detected from git if empty)
	Root string `yaml:"root"`
	// ExcludeDirs are directory names never descended into
	ExcludeDirs []string `yaml:"exclude_dirs"`
	// Exclude are doublestar patterns, relative to the root, of paths to ignore
	Exclude []string `yaml:"exclude"`
}

// ProjectConfig configures project discovery
type ProjectConfig struct {
	// ConfigFiles are the base names recognised as project configuration files
	ConfigFiles []string `yaml:"config_files"`
	// DefaultLib is the default library declaration file added to every project
	DefaultLib string `yaml:"default_lib"`
}

// WatchConfig configures filesystem watching
type WatchConfig struct {
	// Enabled turns the watcher on (default: true)
	Enabled *bool `yaml:"enabled"`
	// Debounce is how long changes accumulate before a batch is dispatched
	Debounce time.Duration `yaml:"debounce"`
}

// ExtractConfig configures reference extraction
type ExtractConfig struct {
	// CacheSize is the number of extraction results kept in memory
	CacheSize int `yaml:"cache_size"`
}

// NATSConfig configures the editor bridge
type NATSConfig struct {
	// URL is the NATS server URL (empty = bridge disabled)
	URL string `yaml:"url"`
	// SubjectPrefix prefixes every bridge subject
	SubjectPrefix string `yaml:"subject_prefix"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	// Addr is the listen address of the metrics server (empty = disabled)
	Addr string `yaml:"addr"`
}

// LogConfig configures logging
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	enabled := true
	return &Config{
		Workspace: WorkspaceConfig{
			Root:        "", // Auto-detect
			ExcludeDirs: []string{".git", "node_modules"},
		},
		Project: ProjectConfig{
			ConfigFiles: []string{"tsproject.json", ".brackets-typescript"},
		},
		Watch: WatchConfig{
			Enabled:  &enabled,
			Debounce: 100 * time.Millisecond,
		},
		Extract: ExtractConfig{
			CacheSize: 1024,
		},
		NATS: NATSConfig{
			SubjectPrefix: "tsproject",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// WatchEnabled reports whether filesystem watching is on.
func (c *Config) WatchEnabled() bool {
	return c.Watch.Enabled == nil || *c.Watch.Enabled
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if len(c.Project.ConfigFiles) == 0 {
		return fmt.Errorf("project.config_files is required")
	}
	for _, name := range c.Project.ConfigFiles {
		if name == "" || strings.ContainsAny(name, `/\`) {
			return fmt.Errorf("project.config_files entries must be base names, got %q", name)
		}
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	if c.Extract.CacheSize < 0 {
		return fmt.Errorf("extract.cache_size must not be negative")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a log level name to a slog level
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", level)
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Workspace
	if other.Workspace.Root != "" {
		c.Workspace.Root = other.Workspace.Root
	}
	if len(other.Workspace.ExcludeDirs) > 0 {
		c.Workspace.ExcludeDirs = other.Workspace.ExcludeDirs
	}
	if len(other.Workspace.Exclude) > 0 {
		c.Workspace.Exclude = other.Workspace.Exclude
	}

	// Project
	if len(other.Project.ConfigFiles) > 0 {
		c.Project.ConfigFiles = other.Project.ConfigFiles
	}
	if other.Project.DefaultLib != "" {
		c.Project.DefaultLib = other.Project.DefaultLib
	}

	// Watch
	if other.Watch.Enabled != nil {
		enabled := *other.Watch.Enabled
		c.Watch.Enabled = &enabled
	}
	if other.Watch.Debounce != 0 {
		c.Watch.Debounce = other.Watch.Debounce
	}

	// Extract
	if other.Extract.CacheSize != 0 {
		c.Extract.CacheSize = other.Extract.CacheSize
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.SubjectPrefix != "" {
		c.NATS.SubjectPrefix = other.NATS.SubjectPrefix
	}

	// Metrics
	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}

	// Log
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
}
