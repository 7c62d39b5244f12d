package config

import (
	"fmt"
	"time"

	"github.com/storyfetch/storyfetch/internal/fetcher"
)

// Config holds storyfetch configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Workers int        `mapstructure:"workers" yaml:"workers"`
	Ingest  IngestCfg  `mapstructure:"ingest" yaml:"ingest"`
	Fetch   FetchCfg   `mapstructure:"fetch" yaml:"fetch"`
	Calibre CalibreCfg `mapstructure:"calibre" yaml:"calibre"`
	Retry   RetryCfg   `mapstructure:"retry" yaml:"retry"`
	Notify  NotifyCfg  `mapstructure:"notify" yaml:"notify"`
	Server  ServerCfg  `mapstructure:"server" yaml:"server"`
}

// IngestCfg configures task intake.
type IngestCfg struct {
	// WatchDir is scanned for URL drop files. Empty disables the watcher.
	WatchDir string `mapstructure:"watch_dir" yaml:"watch_dir"`
}

// FetchCfg configures the download tool invocation.
type FetchCfg struct {
	Binary    string `mapstructure:"binary" yaml:"binary"`         // fanficfare executable
	ConfigDir string `mapstructure:"config_dir" yaml:"config_dir"` // personal.ini location
	Mode      string `mapstructure:"mode" yaml:"mode"`             // "update", "update_no_force", "force"
	WorkDir   string `mapstructure:"work_dir" yaml:"work_dir"`     // epub destination when no catalog
}

// CalibreCfg configures the calibre catalog.
type CalibreCfg struct {
	Library  string `mapstructure:"library" yaml:"library"` // path or content-server URL; empty disables
	Binary   string `mapstructure:"binary" yaml:"binary"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"` // supports ${ENV_VAR} syntax
}

// RetryCfg configures the failure policy.
type RetryCfg struct {
	MaxNormalRetries int  `mapstructure:"max_normal_retries" yaml:"max_normal_retries"`
	HailMary         bool `mapstructure:"hail_mary" yaml:"hail_mary"`
	HailMaryWaitMin  int  `mapstructure:"hail_mary_wait_minutes" yaml:"hail_mary_wait_minutes"`
}

// NotifyCfg configures notification backends.
type NotifyCfg struct {
	WebhookURL      string `mapstructure:"webhook_url" yaml:"webhook_url"`
	PushbulletToken string `mapstructure:"pushbullet_token" yaml:"pushbullet_token"` // supports ${ENV_VAR} syntax
}

// ServerCfg configures the HTTP API.
type ServerCfg struct {
	Addr    string `mapstructure:"addr" yaml:"addr"`
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Workers: 4,
		Fetch: FetchCfg{
			Binary: "fanficfare",
			Mode:   fetcher.ModeUpdate,
		},
		Calibre: CalibreCfg{
			Binary: "calibredb",
		},
		Retry: RetryCfg{
			MaxNormalRetries: 11,
			HailMary:         true,
			HailMaryWaitMin:  720,
		},
		Server: ServerCfg{
			Addr:    "127.0.0.1:8188",
			Enabled: true,
		},
	}
}

// HailMaryWait returns the hail-mary delay as a duration.
func (c *Config) HailMaryWait() time.Duration {
	return time.Duration(c.Retry.HailMaryWaitMin) * time.Minute
}

// Validate rejects configurations the daemon cannot start with. Called once
// at startup; an error here is fatal.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	validMode := false
	for _, m := range fetcher.ValidModes {
		if c.Fetch.Mode == m {
			validMode = true
			break
		}
	}
	if !validMode {
		return fmt.Errorf("unknown fetch mode %q", c.Fetch.Mode)
	}
	if c.Retry.MaxNormalRetries < 0 {
		return fmt.Errorf("max_normal_retries must not be negative, got %d", c.Retry.MaxNormalRetries)
	}
	if c.Retry.HailMary && c.Retry.HailMaryWaitMin <= 0 {
		return fmt.Errorf("hail_mary_wait_minutes must be positive when hail_mary is on, got %d", c.Retry.HailMaryWaitMin)
	}
	if c.Ingest.WatchDir == "" && !c.Server.Enabled {
		return fmt.Errorf("no task source configured: set ingest.watch_dir or enable the server")
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required when the server is enabled")
	}
	return nil
}
