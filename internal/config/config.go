package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/scriptr/internal/engine"
	"github.com/loykin/scriptr/internal/logger"
	"github.com/loykin/scriptr/internal/restart"
	"github.com/loykin/scriptr/internal/script"
)

// File represents the top-level TOML structure.
//
//	listen = "127.0.0.1:8420"
//	catalog = "sqlite://scriptr.db"
//
//	[engine]
//	grace_period = "5s"
//	max_failures = 10
//
//	[[scripts]]
//	name = "backup"
//	path = "/usr/local/bin/backup.sh"
//	policy = "on-failure"
type File struct {
	Listen   string         `toml:"listen" mapstructure:"listen"`
	Catalog  string         `toml:"catalog" mapstructure:"catalog"`
	Engine   EngineConfig   `toml:"engine" mapstructure:"engine"`
	Log      LogConfig      `toml:"log" mapstructure:"log"`
	TLS      *TLSConfig     `toml:"tls" mapstructure:"tls"`
	Journals []string       `toml:"journals" mapstructure:"journals"`
	Scripts  []ScriptConfig `toml:"scripts" mapstructure:"scripts"`
}

// TLSConfig enables HTTPS on the API listener. With auto_generate a
// self-signed pair is created under dir on first start.
type TLSConfig struct {
	CertFile     string   `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `toml:"key_file" mapstructure:"key_file"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

type EngineConfig struct {
	GracePeriod    time.Duration `toml:"grace_period" mapstructure:"grace_period"`
	BackoffInitial time.Duration `toml:"backoff_initial" mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `toml:"backoff_max" mapstructure:"backoff_max"`
	MaxFailures    int           `toml:"max_failures" mapstructure:"max_failures"`
	MinUptime      time.Duration `toml:"min_uptime" mapstructure:"min_uptime"`
	BufferLines    int           `toml:"buffer_lines" mapstructure:"buffer_lines"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Color      bool   `toml:"color" mapstructure:"color"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// ScriptConfig is a catalog seed entry. Entries are upserted into the
// catalog at daemon start so a TOML-only deployment needs no API calls.
type ScriptConfig struct {
	ID     string   `toml:"id" mapstructure:"id"`
	Name   string   `toml:"name" mapstructure:"name"`
	Path   string   `toml:"path" mapstructure:"path"`
	Args   []string `toml:"args" mapstructure:"args"`
	Policy string   `toml:"policy" mapstructure:"policy"`
}

const (
	DefaultListen  = "127.0.0.1:8420"
	DefaultCatalog = "sqlite://scriptr.db"
)

// Load reads and validates a TOML config file.
func Load(path string) (*File, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if f.Listen == "" {
		f.Listen = DefaultListen
	}
	if f.Catalog == "" {
		f.Catalog = DefaultCatalog
	}
	if _, err := f.ScriptDefinitions(); err != nil {
		return nil, err
	}
	return &f, nil
}

// EngineConfig converts the TOML tuning into engine configuration.
// Zero values fall back to the engine defaults.
func (f *File) EngineConfig() engine.Config {
	return engine.Config{
		GracePeriod: f.Engine.GracePeriod,
		Restart: restart.Config{
			BackoffInitial: f.Engine.BackoffInitial,
			BackoffMax:     f.Engine.BackoffMax,
			MaxFailures:    f.Engine.MaxFailures,
			MinUptime:      f.Engine.MinUptime,
		},
		BufferLines: f.Engine.BufferLines,
		ScriptLog: logger.Config{
			Dir:        f.Log.Dir,
			MaxSizeMB:  f.Log.MaxSizeMB,
			MaxBackups: f.Log.MaxBackups,
			MaxAgeDays: f.Log.MaxAgeDays,
			Compress:   f.Log.Compress,
		},
	}
}

// ScriptDefinitions converts and validates the seed entries.
func (f *File) ScriptDefinitions() ([]script.Definition, error) {
	out := make([]script.Definition, 0, len(f.Scripts))
	seen := make(map[string]struct{}, len(f.Scripts))
	for _, sc := range f.Scripts {
		policy, err := script.ParsePolicy(sc.Policy)
		if err != nil {
			return nil, fmt.Errorf("script %q: %w", sc.Name, err)
		}
		def := script.Definition{
			ID:     sc.ID,
			Name:   sc.Name,
			Path:   sc.Path,
			Args:   sc.Args,
			Policy: policy,
		}
		if def.ID == "" {
			// Stable across restarts so seeds upsert instead of piling up.
			def.ID = "cfg-" + sc.Name
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("script %q: %w", sc.Name, err)
		}
		if _, dup := seen[def.ID]; dup {
			return nil, fmt.Errorf("script %q: %w: duplicate id %q", sc.Name, script.ErrInvalid, def.ID)
		}
		seen[def.ID] = struct{}{}
		out = append(out, def)
	}
	return out, nil
}
