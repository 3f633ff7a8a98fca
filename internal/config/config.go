package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// BackendConfig describes how to reach the tribe REST backend.
type BackendConfig struct {
	// BaseURL is the API root, e.g. "https://tribe.example.org/api".
	BaseURL string `yaml:"base_url" json:"base_url"`
	// Token is sent as "Authorization: Token <token>". Session refresh is
	// handled outside this service.
	Token string `yaml:"token" json:"-"`
	// TimeoutSeconds bounds a single backend request.
	TimeoutSeconds int `yaml:"timeout" json:"timeout"`
	// RatePerSecond and Burst throttle outgoing requests. Zero disables it.
	RatePerSecond float64 `yaml:"rate_per_second" json:"rate_per_second"`
	Burst         int     `yaml:"burst" json:"burst"`
	// CacheDir enables conditional GETs backed by an on-disk cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

// WindowsConfig sets the fetch range (months on each side of the pivot).
type WindowsConfig struct {
	HomeMonths   int `yaml:"home_months" json:"home_months"`
	BrowseMonths int `yaml:"browse_months" json:"browse_months"`
}

// ViewerConfig is the signed-in household member this instance acts for.
type ViewerConfig struct {
	UserID      string `yaml:"user_id" json:"user_id"`
	DisplayName string `yaml:"display_name" json:"display_name"`
	Image       string `yaml:"image,omitempty" json:"image,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used for day bucketing and display (e.g. "Europe/Amsterdam").
	Timezone string `yaml:"timezone" json:"timezone"`

	// Locale selects date/time layouts, e.g. "nl" or "en-GB".
	Locale string `yaml:"locale" json:"locale"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is a cron schedule (e.g. "*/15 * * * *") for background reloads.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	Backend BackendConfig `yaml:"backend" json:"backend"`
	Windows WindowsConfig `yaml:"windows" json:"windows"`
	Viewer  ViewerConfig  `yaml:"viewer" json:"viewer"`

	// AvatarLimit caps the invitee avatars returned per event.
	AvatarLimit int `yaml:"avatar_limit" json:"avatar_limit"`

	// ICSDomain is the right-hand side of exported iCalendar UIDs.
	ICSDomain string `yaml:"ics_domain" json:"ics_domain"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`
}

const (
	defaultListen       = "127.0.0.1:8080"
	defaultTimezone     = "Europe/Amsterdam"
	defaultLocale       = "nl"
	defaultRefresh      = "*/15 * * * *"
	defaultTimeout      = 30
	defaultHomeMonths   = 3
	defaultBrowseMonths = 12
	defaultAvatarLimit  = 4
	defaultICSDomain    = "tribecal.local"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      defaultListen,
		Timezone:    defaultTimezone,
		Locale:      defaultLocale,
		WeekStart:   "monday",
		RefreshCron: defaultRefresh,
		Backend: BackendConfig{
			BaseURL:        "http://127.0.0.1:8000/api",
			TimeoutSeconds: defaultTimeout,
			RatePerSecond:  5,
			Burst:          10,
		},
		Windows: WindowsConfig{
			HomeMonths:   defaultHomeMonths,
			BrowseMonths: defaultBrowseMonths,
		},
		AvatarLimit: defaultAvatarLimit,
		ICSDomain:   defaultICSDomain,
		LogLevel:    "info",
	}
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.Locale == "" {
		c.Locale = defaultLocale
	}
	switch ws := strings.ToLower(strings.TrimSpace(c.WeekStart)); ws {
	case "monday", "sunday":
		c.WeekStart = ws
	default:
		// Unknown value; fall back to monday to avoid surprising layouts.
		c.WeekStart = "monday"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefresh
	}

	c.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.BaseURL), "/")
	if c.Backend.TimeoutSeconds <= 0 {
		c.Backend.TimeoutSeconds = defaultTimeout
	}
	if c.Backend.RatePerSecond < 0 {
		c.Backend.RatePerSecond = 0
	}
	if c.Backend.RatePerSecond > 0 && c.Backend.Burst <= 0 {
		c.Backend.Burst = 1
	}

	if c.Windows.HomeMonths <= 0 {
		c.Windows.HomeMonths = defaultHomeMonths
	}
	if c.Windows.BrowseMonths <= 0 {
		c.Windows.BrowseMonths = defaultBrowseMonths
	}
	if c.AvatarLimit <= 0 {
		c.AvatarLimit = defaultAvatarLimit
	}
	if c.ICSDomain == "" {
		c.ICSDomain = defaultICSDomain
	}
	switch lvl := strings.ToLower(strings.TrimSpace(c.LogLevel)); lvl {
	case "debug", "info", "warn", "error":
		c.LogLevel = lvl
	default:
		c.LogLevel = "info"
	}
}

// Validate reports settings that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is empty"))
	}
	if strings.TrimSpace(c.Viewer.UserID) == "" {
		errs = append(errs, errors.New("viewer.user_id is empty"))
	}
	return errors.Join(errs...)
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist, a default config is written there with 0600
// permissions and returned. Otherwise the file is parsed and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
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

	tmp, err := os.CreateTemp(dir, ".tribecal-config-*.tmp")
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

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
