package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ibeckermayer/notedraft/internal/logx"
)

const appName = "notedraft"

// Config holds all application configuration
type Config struct {
	Version    int              `toml:"version"`
	Timezone   string           `toml:"timezone"`
	Log        logx.Config      `toml:"log"`
	Browser    BrowserConfig    `toml:"browser"`
	Platform   PlatformConfig   `toml:"platform"`
	Navigation NavigationConfig `toml:"navigation"`
	Pool       PoolConfig       `toml:"pool"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Generator  GeneratorConfig  `toml:"generator"`
	Trends     TrendsConfig     `toml:"trends"`
	Store      StoreConfig      `toml:"store"`
	Email      EmailConfig      `toml:"email"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

type BrowserConfig struct {
	Headless    bool     `toml:"headless"`
	UserAgent   string   `toml:"user_agent"`
	Locale      string   `toml:"locale"`
	Timezone    string   `toml:"timezone"`
	StepTimeout Duration `toml:"step_timeout"`
	LocateWait  Duration `toml:"locate_wait"`
}

type PlatformConfig struct {
	// SelectorsFile optionally overrides the built-in strategy table. Watched for changes.
	SelectorsFile string   `toml:"selectors_file"`
	LoginWait     Duration `toml:"login_wait"`
	EditorWait    Duration `toml:"editor_wait"`
	SaveWait      Duration `toml:"save_wait"`
}

type NavigationConfig struct {
	Timeout Duration `toml:"timeout"`
	Retries int      `toml:"retries"`
	Backoff Duration `toml:"backoff"`
}

type PoolConfig struct {
	MaxSessions        int      `toml:"max_sessions"`
	IdleTimeout        Duration `toml:"idle_timeout"`
	QueueTimeout       Duration `toml:"queue_timeout"`
	OpTimeout          Duration `toml:"op_timeout"`
	LoginAttempts      int      `toml:"login_attempts"`
	RetryBackoff       Duration `toml:"retry_backoff"`
	SessionsPerMinute  float64  `toml:"sessions_per_minute"`
	ReuseStoredCookies bool     `toml:"reuse_stored_cookies"`
}

type SchedulerConfig struct {
	JobTimeout Duration `toml:"job_timeout"`
}

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

type GeneratorConfig struct {
	DefaultProvider string         `toml:"default_provider"`
	Timeout         Duration       `toml:"timeout"`
	CacheExchanges  bool           `toml:"cache_exchanges"`
	Anthropic       ProviderConfig `toml:"anthropic"`
	OpenAI          ProviderConfig `toml:"openai"`
	Gemini          ProviderConfig `toml:"gemini"`
}

type ProviderConfig struct {
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
	BaseURL string `toml:"base_url"`
}

type TrendsConfig struct {
	URL             string   `toml:"url"`
	CacheTTL        Duration `toml:"cache_ttl"`
	RefreshInterval Duration `toml:"refresh_interval"`
	Timeout         Duration `toml:"timeout"`
}

type StoreConfig struct {
	Path        string `toml:"path"`
	ArtifactDir string `toml:"artifact_dir"`
}

type EmailConfig struct {
	Provider      string `toml:"provider"`
	SMTPHost      string `toml:"smtp_host"`
	SMTPPort      int    `toml:"smtp_port"`
	SMTPUser      string `toml:"smtp_user"`
	SMTPPass      string `toml:"smtp_pass"`
	FromAddr      string `toml:"from_address"`
	ToAddr        string `toml:"to_address"`
	NotifySuccess bool   `toml:"notify_success"`
}

// Enabled reports whether failure emails should be sent.
func (e EmailConfig) Enabled() bool {
	return e.SMTPHost != "" && e.ToAddr != ""
}

type MetricsConfig struct {
	Listen string `toml:"listen"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Version:  1,
		Timezone: "Asia/Tokyo",
		Log:      logx.Config{Level: "info", Console: true},
		Browser: BrowserConfig{
			Headless:    true,
			Locale:      "ja-JP",
			Timezone:    "Asia/Tokyo",
			StepTimeout: Duration{30 * time.Second},
			LocateWait:  Duration{10 * time.Second},
		},
		Platform: PlatformConfig{
			LoginWait:  Duration{15 * time.Second},
			EditorWait: Duration{10 * time.Second},
			SaveWait:   Duration{10 * time.Second},
		},
		Navigation: NavigationConfig{
			Timeout: Duration{60 * time.Second},
			Retries: 2,
			Backoff: Duration{3 * time.Second},
		},
		Pool: PoolConfig{
			MaxSessions:        4,
			IdleTimeout:        Duration{15 * time.Minute},
			QueueTimeout:       Duration{20 * time.Minute},
			OpTimeout:          Duration{10 * time.Minute},
			LoginAttempts:      2,
			RetryBackoff:       Duration{5 * time.Second},
			SessionsPerMinute:  6,
			ReuseStoredCookies: true,
		},
		Scheduler: SchedulerConfig{
			JobTimeout: Duration{30 * time.Minute},
		},
		Generator: GeneratorConfig{
			DefaultProvider: ProviderOpenAI,
			Timeout:         Duration{120 * time.Second},
			CacheExchanges:  true,
			Anthropic:       ProviderConfig{Model: "claude-sonnet-4-20250514"},
			OpenAI:          ProviderConfig{Model: "gpt-4"},
			Gemini:          ProviderConfig{Model: "gemini-2.5-flash"},
		},
		Trends: TrendsConfig{
			URL:             "https://twittrend.jp/compare/result/23424856/1/",
			CacheTTL:        Duration{30 * time.Minute},
			RefreshInterval: Duration{30 * time.Minute},
			Timeout:         Duration{15 * time.Second},
		},
		Email: EmailConfig{
			Provider: "smtp",
			SMTPPort: 587,
		},
	}
}

// Location resolves the configured scheduling timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", c.Timezone, err)
	}
	return loc, nil
}

// StorePath returns the database path, defaulting under the config dir.
func (c *Config) StorePath() (string, error) {
	if c.Store.Path != "" {
		return c.Store.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "notedraft.db"), nil
}

// ArtifactDir returns where diagnostic screenshots go, defaulting under the cache dir.
func (c *Config) ArtifactDir() (string, error) {
	if c.Store.ArtifactDir != "" {
		return c.Store.ArtifactDir, nil
	}
	dir, err := CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "artifacts"), nil
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, appName), nil
}

// CacheDir returns the platform-appropriate cache directory
func CacheDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, appName), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads config from the default path
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads config from path. Keys absent from the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrCreate reads path, or the default path when empty. On first run it
// writes the defaults there and reports created.
func LoadOrCreate(path string) (cfg *Config, created bool, err error) {
	if path == "" {
		if path, err = ConfigPath(); err != nil {
			return nil, false, err
		}
	}
	cfg, err = LoadFile(path)
	if err == nil {
		return cfg, false, nil
	}
	if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg = Default()
	if err := cfg.SaveFile(path); err != nil {
		return cfg, false, fmt.Errorf("write default config: %w", err)
	}
	return cfg, true, nil
}

// Save writes config to the default path
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveFile(path)
}

// SaveFile writes config to path with owner-only permissions.
func (c *Config) SaveFile(path string) error {
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
