package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const appName = "post4me"

// ServerURLEnv overrides Server.BaseURL when set.
const ServerURLEnv = "P4M_SERVER_URL"

// Config holds all application configuration
type Config struct {
	Version int           `toml:"version"`
	Server  ServerConfig  `toml:"server"`
	Polling PollingConfig `toml:"polling"`
	Profile ProfileConfig `toml:"profile"`
	Digest  DigestConfig  `toml:"digest"`
	Email   EmailConfig   `toml:"email"`
}

type ServerConfig struct {
	// BaseURL is the API root, e.g. http://127.0.0.1:5000/api
	BaseURL string `toml:"base_url"`
	// WebURL is the backend's own web UI, opened from the tray.
	WebURL string `toml:"web_url"`
}

// PollingConfig intervals are in milliseconds.
type PollingConfig struct {
	ActiveMS int `toml:"active_ms"`
	IdleMS   int `toml:"idle_ms"`
	StatusMS int `toml:"status_ms"`
	LogsMS   int `toml:"logs_ms"`
}

type ProfileConfig struct {
	RefreshTime string `toml:"refresh_time"`
	Timezone    string `toml:"timezone"`
}

type DigestConfig struct {
	Enabled  bool   `toml:"enabled"`
	SendTime string `toml:"send_time"`
	// MailErrors emails every error notification as it happens.
	MailErrors bool `toml:"mail_errors"`
}

type EmailConfig struct {
	Provider string `toml:"provider"`
	SMTPHost string `toml:"smtp_host"`
	SMTPPort int    `toml:"smtp_port"`
	SMTPUser string `toml:"smtp_user"`
	SMTPPass string `toml:"smtp_pass"`
	FromAddr string `toml:"from_address"`
	ToAddr   string `toml:"to_address"`
}

// Configured reports whether enough is set to send mail.
func (e EmailConfig) Configured() bool {
	return e.SMTPHost != "" && e.FromAddr != "" && e.ToAddr != ""
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			BaseURL: "http://127.0.0.1:5000/api",
			WebURL:  "http://127.0.0.1:5000",
		},
		Polling: PollingConfig{
			ActiveMS: 3000,
			IdleMS:   15000,
			StatusMS: 30000,
			LogsMS:   5000,
		},
		Profile: ProfileConfig{
			RefreshTime: "09:00",
			Timezone:    "Local",
		},
		Digest: DigestConfig{
			SendTime: "21:00",
		},
		Email: EmailConfig{
			Provider: "smtp",
			SMTPPort: 587,
		},
	}
}

func ms(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Millisecond
}

// Active is the board refresh interval while a post is mid-transition.
func (p PollingConfig) Active() time.Duration { return ms(p.ActiveMS, 3000) }

// Idle is the board refresh interval otherwise.
func (p PollingConfig) Idle() time.Duration { return ms(p.IdleMS, 15000) }

func (p PollingConfig) Status() time.Duration { return ms(p.StatusMS, 30000) }
func (p PollingConfig) Logs() time.Duration   { return ms(p.LogsMS, 5000) }

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, appName), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// CacheDir returns the directory for rebuildable files such as log exports.
func CacheDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, appName), nil
}

// StatePath returns the sqlite file holding local state (composer draft,
// preferences).
func StatePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "state.db"), nil
}

// Load reads config from disk
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the config at path. Keys missing from the file keep their
// defaults, and the environment override is applied last.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(ServerURLEnv)); v != "" {
		c.Server.BaseURL = v
	}
}

// Save writes config to disk
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the config to path, creating its directory.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}
