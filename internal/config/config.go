// Package config parses the warden TOML file: transport settings, monitor
// and kill tuning, the state store and history DSN, log capture defaults
// and the server registry.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/warden/internal/logger"
	"github.com/loykin/warden/internal/process"
	"github.com/loykin/warden/internal/store"
	"github.com/spf13/viper"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Listen   string        `toml:"listen" mapstructure:"listen"`
	BasePath string        `toml:"base_path" mapstructure:"base_path"`
	Env      []string      `toml:"env" mapstructure:"env"`
	EnvFiles []string      `toml:"env_files" mapstructure:"env_files"`
	Monitor  MonitorConfig `toml:"monitor" mapstructure:"monitor"`
	Kill     KillConfig    `toml:"kill" mapstructure:"kill"`
	Store    store.Config  `toml:"store" mapstructure:"store"`
	History  HistoryConfig `toml:"history" mapstructure:"history"`
	Log      *LogConfig    `toml:"log" mapstructure:"log"`
	Metrics  MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	Servers  []ServerEntry `toml:"servers" mapstructure:"servers"`
}

type MonitorConfig struct {
	Interval     time.Duration `toml:"interval" mapstructure:"interval"`
	ProbeTimeout time.Duration `toml:"probe_timeout" mapstructure:"probe_timeout"`
}

type KillConfig struct {
	Grace time.Duration `toml:"grace" mapstructure:"grace"`
}

// HistoryConfig selects the lifecycle audit sink. An empty DSN disables it.
type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type MetricsConfig struct {
	Enabled          bool          `toml:"enabled" mapstructure:"enabled"`
	ResourceInterval time.Duration `toml:"resource_interval" mapstructure:"resource_interval"`
}

type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// ServerEntry is one [[servers]] block.
type ServerEntry struct {
	ID      string     `toml:"id" mapstructure:"id"`
	Name    string     `toml:"name" mapstructure:"name"`
	Command string     `toml:"command" mapstructure:"command"`
	WorkDir string     `toml:"workdir" mapstructure:"workdir"`
	Env     []string   `toml:"env" mapstructure:"env"`
	Ports   []int      `toml:"ports" mapstructure:"ports"`
	Color   string     `toml:"color" mapstructure:"color"`
	Log     *LogConfig `toml:"log" mapstructure:"log"`
}

// Load parses the TOML file and fills in the transport defaults. Server ids
// must be unique and non-empty here; the remaining per-server validation
// happens at registration. An empty store type or history DSN disables that
// facility.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	if fc.Listen == "" {
		fc.Listen = ":8800"
	}
	if fc.BasePath == "" {
		fc.BasePath = "/api"
	}
	seen := make(map[string]bool, len(fc.Servers))
	for i, sc := range fc.Servers {
		if strings.TrimSpace(sc.ID) == "" {
			return nil, fmt.Errorf("servers[%d]: id is required", i)
		}
		if seen[sc.ID] {
			return nil, fmt.Errorf("duplicate server id %q", sc.ID)
		}
		seen[sc.ID] = true
	}
	return &fc, nil
}

// ServerConfigs converts the [[servers]] blocks into registry entries. Log
// capture settings start from the top-level [log] defaults and are overridden
// field by field per server.
func (fc *FileConfig) ServerConfigs() []process.ServerConfig {
	out := make([]process.ServerConfig, 0, len(fc.Servers))
	for _, sc := range fc.Servers {
		out = append(out, process.ServerConfig{
			ID:       sc.ID,
			Name:     sc.Name,
			Command:  sc.Command,
			WorkDir:  sc.WorkDir,
			Env:      sc.Env,
			Ports:    sc.Ports,
			ColorTag: sc.Color,
			Log:      fc.logFor(sc.Log),
		})
	}
	return out
}

func (fc *FileConfig) logFor(pc *LogConfig) logger.Config {
	var cfg logger.Config
	if fc.Log != nil {
		cfg = logger.Config{
			Dir:        fc.Log.Dir,
			StdoutPath: fc.Log.Stdout,
			StderrPath: fc.Log.Stderr,
			MaxSizeMB:  fc.Log.MaxSizeMB,
			MaxBackups: fc.Log.MaxBackups,
			MaxAgeDays: fc.Log.MaxAgeDays,
			Compress:   fc.Log.Compress,
		}
	}
	if pc != nil {
		if pc.Dir != "" {
			cfg.Dir = pc.Dir
		}
		if pc.Stdout != "" {
			cfg.StdoutPath = pc.Stdout
		}
		if pc.Stderr != "" {
			cfg.StderrPath = pc.Stderr
		}
		if pc.MaxSizeMB != 0 {
			cfg.MaxSizeMB = pc.MaxSizeMB
		}
		if pc.MaxBackups != 0 {
			cfg.MaxBackups = pc.MaxBackups
		}
		if pc.MaxAgeDays != 0 {
			cfg.MaxAgeDays = pc.MaxAgeDays
		}
		if pc.Compress {
			cfg.Compress = true
		}
	}
	return cfg
}

// GlobalEnv merges env_files contents in order, then applies the top-level
// env list as overrides. The OS environment is layered in later, at spawn.
func (fc *FileConfig) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	for _, p := range fc.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range fc.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
