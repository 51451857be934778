// Package config loads sprintboard settings from .sprintboard/config.yaml
// and SPRINTBOARD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	Dir      = ".sprintboard"
	FileName = "config.yaml"
)

type Config struct {
	DBPath       string
	SnapshotPath string

	// User and Workspace select who the CLI and MCP server act as: a user
	// email and a workspace slug.
	User      string
	Workspace string

	Server   ServerConfig
	Realtime RealtimeConfig
	Email    EmailConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port string
}

type RealtimeConfig struct {
	Debounce time.Duration
	MaxWait  time.Duration
}

type EmailConfig struct {
	Enabled    bool
	WebhookURL string
	From       string
}

type LogConfig struct {
	Level  string
	Format string
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		DBPath:       filepath.Join(Dir, "sprintboard.db"),
		SnapshotPath: filepath.Join(Dir, "snapshot.jsonl"),
		Server:       ServerConfig{Port: "8000"},
		Realtime:     RealtimeConfig{Debounce: 250 * time.Millisecond, MaxWait: 2 * time.Second},
		Email:        EmailConfig{From: "sprintboard@localhost"},
		Log:          LogConfig{Level: "info", Format: "text"},
	}
}

// New returns a viper instance with defaults and environment binding set,
// reading path when it is non-empty and .sprintboard/config.yaml under dir
// otherwise.
func New(dir, path string) *viper.Viper {
	def := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.AddConfigPath(filepath.Join(dir, Dir))
	}

	v.SetEnvPrefix("SPRINTBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("db_path", def.DBPath)
	v.SetDefault("snapshot_path", def.SnapshotPath)
	v.SetDefault("user", def.User)
	v.SetDefault("workspace", def.Workspace)
	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("realtime.debounce", def.Realtime.Debounce)
	v.SetDefault("realtime.max_wait", def.Realtime.MaxWait)
	v.SetDefault("email.enabled", def.Email.Enabled)
	v.SetDefault("email.webhook_url", def.Email.WebhookURL)
	v.SetDefault("email.from", def.Email.From)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	return v
}

// Load reads configuration. A missing file yields the defaults (plus any
// environment overrides); an explicitly named path must exist.
func Load(dir, path string) (*Config, error) {
	v := New(dir, path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper maps viper keys onto a Config and validates it.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DBPath:       v.GetString("db_path"),
		SnapshotPath: v.GetString("snapshot_path"),
		User:         v.GetString("user"),
		Workspace:    v.GetString("workspace"),
		Server:       ServerConfig{Port: v.GetString("server.port")},
		Realtime: RealtimeConfig{
			Debounce: v.GetDuration("realtime.debounce"),
			MaxWait:  v.GetDuration("realtime.max_wait"),
		},
		Email: EmailConfig{
			Enabled:    v.GetBool("email.enabled"),
			WebhookURL: v.GetString("email.webhook_url"),
			From:       v.GetString("email.from"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.Realtime.Debounce <= 0 {
		return fmt.Errorf("realtime.debounce must be positive, got %s", c.Realtime.Debounce)
	}
	if c.Realtime.MaxWait < c.Realtime.Debounce {
		return fmt.Errorf("realtime.max_wait (%s) must be at least realtime.debounce (%s)", c.Realtime.MaxWait, c.Realtime.Debounce)
	}
	if c.Email.Enabled && c.Email.WebhookURL == "" {
		return fmt.Errorf("email.webhook_url is required when email is enabled")
	}
	return nil
}
