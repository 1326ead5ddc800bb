package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

const (
	BackendGoogle = "google"
	BackendICloud = "icloud"

	DefaultTitle            = "McDonald's shift"
	DefaultColor            = 1
	DefaultTimezone         = "Asia/Tokyo"
	DefaultRosterURLPattern = `^https://mcdcrew\.jp/MyPage/schedule/setting/edit/.*$`
	DefaultSchedule         = "*/30 * * * *"
	DefaultFetchTimeout     = 30

	// Google Calendar event colors are numbered 1 through 11.
	minColor = 1
	maxColor = 11
)

// ErrInvalid is returned by Validate for settings that cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// Config is the persisted settings record.
type Config struct {
	// CalendarTitle is the summary given to every created event.
	CalendarTitle string `yaml:"calendar_title"`
	// CalendarColor is the Google Calendar event color id (1-11).
	CalendarColor int `yaml:"calendar_color"`

	// Timezone is the IANA zone the roster's wall-clock times are in.
	Timezone string `yaml:"timezone"`

	// Backend selects the calendar service: "google" or "icloud".
	Backend    string `yaml:"backend"`
	CalendarID string `yaml:"calendar_id"`
	Account    string `yaml:"account"`

	ICloudEndpoint string `yaml:"icloud_endpoint,omitempty"`
	ICloudCalendar string `yaml:"icloud_calendar,omitempty"`

	// Store selects the sync state backend: "json" or "sqlite".
	Store   string `yaml:"store"`
	DataDir string `yaml:"data_dir"`

	RosterURLPattern    string `yaml:"roster_url_pattern"`
	BrowserProfile      string `yaml:"browser_profile,omitempty"`
	FetchTimeoutSeconds int    `yaml:"fetch_timeout_seconds"`

	// Schedule is the cron spec used by "sync --watch".
	Schedule string `yaml:"schedule"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing values with defaults.
func (c *Config) Normalize() {
	if c.CalendarTitle == "" {
		c.CalendarTitle = DefaultTitle
	}
	if c.CalendarColor == 0 {
		c.CalendarColor = DefaultColor
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.Backend == "" {
		c.Backend = BackendGoogle
	}
	if c.CalendarID == "" {
		c.CalendarID = "primary"
	}
	if c.Account == "" {
		c.Account = "default"
	}
	if c.Store == "" {
		c.Store = "json"
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if c.RosterURLPattern == "" {
		c.RosterURLPattern = DefaultRosterURLPattern
	}
	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = DefaultFetchTimeout
	}
	if c.Schedule == "" {
		c.Schedule = DefaultSchedule
	}
}

// Validate checks values that Normalize cannot repair.
func (c *Config) Validate() error {
	if c.CalendarColor < minColor || c.CalendarColor > maxColor {
		return fmt.Errorf("%w: calendar_color must be between %d and %d, got %d", ErrInvalid, minColor, maxColor, c.CalendarColor)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalid, c.Timezone, err)
	}
	switch c.Backend {
	case BackendGoogle:
	case BackendICloud:
		if c.ICloudCalendar == "" {
			return fmt.Errorf("%w: icloud_calendar is required for the icloud backend", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.Backend)
	}
	switch c.Store {
	case "json", "sqlite":
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalid, c.Store)
	}
	return nil
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// FetchTimeout returns the roster page render timeout.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// DefaultDataDir is where state, tokens and the config live unless overridden.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "shiftcal")
	}
	return ".shiftcal"
}

// DefaultPath returns the config file location, honoring SHIFTCAL_CONFIG.
func DefaultPath() string {
	if p := os.Getenv("SHIFTCAL_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

// Load loads configuration from the given YAML path. A missing file is
// created with defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".shiftcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
