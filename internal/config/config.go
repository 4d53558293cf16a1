// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Server() ServerConfig
	Browser() BrowserConfig
	Bypass() BypassConfig
	Detector() DetectorConfig
	Interactor() InteractorConfig
	Capture() CaptureConfig
	Database() DatabaseConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserIgnoreTLSErrors(bool)

	// Server Setters
	SetServerListenAddr(string)

	// Bypass Setters
	SetBypassTimeout(d time.Duration)
	SetBypassMaxAttempts(int)
}

// Config holds the entire application configuration.
// Sections are exported for mapstructure, but callers should go through the Interface getters.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	ServerCfg     ServerConfig     `mapstructure:"server" yaml:"server"`
	BrowserCfg    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	BypassCfg     BypassConfig     `mapstructure:"bypass" yaml:"bypass"`
	DetectorCfg   DetectorConfig   `mapstructure:"detector" yaml:"detector"`
	InteractorCfg InteractorConfig `mapstructure:"interactor" yaml:"interactor"`
	CaptureCfg    CaptureConfig    `mapstructure:"capture" yaml:"capture"`
	DatabaseCfg   DatabaseConfig   `mapstructure:"database" yaml:"database"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Server() ServerConfig         { return c.ServerCfg }
func (c *Config) Browser() BrowserConfig       { return c.BrowserCfg }
func (c *Config) Bypass() BypassConfig         { return c.BypassCfg }
func (c *Config) Detector() DetectorConfig     { return c.DetectorCfg }
func (c *Config) Interactor() InteractorConfig { return c.InteractorCfg }
func (c *Config) Capture() CaptureConfig       { return c.CaptureCfg }
func (c *Config) Database() DatabaseConfig     { return c.DatabaseCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)        { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserIgnoreTLSErrors(b bool) { c.BrowserCfg.IgnoreTLSErrors = b }
func (c *Config) SetServerListenAddr(a string)     { c.ServerCfg.ListenAddr = a }
func (c *Config) SetBypassTimeout(d time.Duration) { c.BypassCfg.Timeout = d }
func (c *Config) SetBypassMaxAttempts(n int)       { c.BypassCfg.MaxAttempts = n }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// RateLimit is the sustained number of browser-backed requests per second. Zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst" yaml:"rate_burst"`
	// MaxBodyBytes caps the size of JSON request bodies.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

// BrowserConfig holds settings for the shared headless browser process.
type BrowserConfig struct {
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	DisableGPU      bool          `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	ExecPath        string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args            []string      `mapstructure:"args" yaml:"args"`
	MaxSessions     int           `mapstructure:"max_sessions" yaml:"max_sessions"`
	LaunchTimeout   time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	Locale          string        `mapstructure:"locale" yaml:"locale"`
	Timezone        string        `mapstructure:"timezone" yaml:"timezone"`
	// UserAgents is the pool a random user agent is drawn from when a request does not set one.
	UserAgents []string `mapstructure:"user_agents" yaml:"user_agents"`
}

// BypassConfig holds the timing budgets and success heuristics of a bypass run.
type BypassConfig struct {
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxAttempts        int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	PollInterval       time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	PerAttemptTimeout  time.Duration `mapstructure:"per_attempt_timeout" yaml:"per_attempt_timeout"`
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	WaitAfterBypass    time.Duration `mapstructure:"wait_after_bypass" yaml:"wait_after_bypass"`
	MinContentLength   int           `mapstructure:"min_content_length" yaml:"min_content_length"`
	StrictPredicate    bool          `mapstructure:"strict_predicate" yaml:"strict_predicate"`
	ContentMarkers     []string      `mapstructure:"content_markers" yaml:"content_markers"`
	CleanupGracePeriod time.Duration `mapstructure:"cleanup_grace_period" yaml:"cleanup_grace_period"`
}

// DetectorConfig holds the phrase sets used to classify a page as challenged.
type DetectorConfig struct {
	ChallengeDomain string   `mapstructure:"challenge_domain" yaml:"challenge_domain"`
	TitlePhrases    []string `mapstructure:"title_phrases" yaml:"title_phrases"`
	Indicators      []string `mapstructure:"indicators" yaml:"indicators"`
	AllowList       []string `mapstructure:"allow_list" yaml:"allow_list"`
}

// InteractorConfig tunes the challenge interaction strategies.
type InteractorConfig struct {
	StepTimeout       time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	FrameSelectors    []string      `mapstructure:"frame_selectors" yaml:"frame_selectors"`
	DocumentSelectors []string      `mapstructure:"document_selectors" yaml:"document_selectors"`
	Strategies        []string      `mapstructure:"strategies" yaml:"strategies"`
}

// CaptureConfig holds the default capture options applied when a request omits them.
type CaptureConfig struct {
	Screenshot bool `mapstructure:"screenshot" yaml:"screenshot"`
	FullPage   bool `mapstructure:"full_page" yaml:"full_page"`
	Width      int  `mapstructure:"width" yaml:"width"`
	Height     int  `mapstructure:"height" yaml:"height"`
}

// DatabaseConfig holds the run history database connection details.
// An empty URL disables persistence.
type DatabaseConfig struct {
	URL            string        `mapstructure:"url" yaml:"url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "cfgate")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Server --
	v.SetDefault("server.listen_addr", ":3001")
	v.SetDefault("server.request_timeout", "180s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.rate_limit", 2.0)
	v.SetDefault("server.rate_burst", 5)
	v.SetDefault("server.max_body_bytes", 1<<20)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.max_sessions", 4)
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.locale", "en-US")
	v.SetDefault("browser.timezone", "")
	v.SetDefault("browser.user_agents", DefaultUserAgents)

	// -- Bypass --
	v.SetDefault("bypass.timeout", "60s")
	v.SetDefault("bypass.max_attempts", 3)
	v.SetDefault("bypass.poll_interval", "2500ms")
	v.SetDefault("bypass.per_attempt_timeout", "15s")
	v.SetDefault("bypass.navigation_timeout", "30s")
	v.SetDefault("bypass.wait_after_bypass", "3s")
	v.SetDefault("bypass.min_content_length", 1000)
	v.SetDefault("bypass.strict_predicate", false)
	v.SetDefault("bypass.content_markers", DefaultContentMarkers)
	v.SetDefault("bypass.cleanup_grace_period", "10s")

	// -- Detector --
	v.SetDefault("detector.challenge_domain", "challenges.cloudflare.com")
	v.SetDefault("detector.title_phrases", DefaultTitlePhrases)
	v.SetDefault("detector.indicators", DefaultIndicators)
	v.SetDefault("detector.allow_list", DefaultAllowList)

	// -- Interactor --
	v.SetDefault("interactor.step_timeout", "5s")
	v.SetDefault("interactor.settle_delay", "2s")
	v.SetDefault("interactor.frame_selectors", DefaultFrameSelectors)
	v.SetDefault("interactor.document_selectors", DefaultDocumentSelectors)
	v.SetDefault("interactor.strategies", []string{"frame-checkbox", "document-selector", "keyboard-fallback"})

	// -- Capture --
	v.SetDefault("capture.screenshot", true)
	v.SetDefault("capture.full_page", true)
	v.SetDefault("capture.width", 1920)
	v.SetDefault("capture.height", 1080)

	// -- Database --
	v.SetDefault("database.url", "")
	v.SetDefault("database.connect_timeout", "10s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The database URL usually carries credentials, so it gets an explicit env binding.
	v.BindEnv("database.url", "CFGATE_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.DatabaseCfg.URL == "" {
		cfg.DatabaseCfg.URL = os.Getenv("CFGATE_DATABASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.BrowserCfg.MaxSessions <= 0 {
		return fmt.Errorf("browser.max_sessions must be a positive integer")
	}
	if c.ServerCfg.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	if c.CaptureCfg.Width <= 0 || c.CaptureCfg.Height <= 0 {
		return fmt.Errorf("capture.width and capture.height must be positive")
	}
	if err := c.BypassCfg.Validate(); err != nil {
		return fmt.Errorf("bypass configuration invalid: %w", err)
	}
	if err := c.DetectorCfg.Validate(); err != nil {
		return fmt.Errorf("detector configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the bypass timing budgets.
func (b *BypassConfig) Validate() error {
	if b.Timeout <= 0 {
		return fmt.Errorf("timeout must be a positive duration")
	}
	if b.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be greater than 0")
	}
	if b.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if b.PerAttemptTimeout <= 0 {
		return fmt.Errorf("per_attempt_timeout must be a positive duration")
	}
	if b.MinContentLength < 0 {
		return fmt.Errorf("min_content_length must not be negative")
	}
	return nil
}

// Validate checks the detector phrase sets.
func (d *DetectorConfig) Validate() error {
	if strings.TrimSpace(d.ChallengeDomain) == "" {
		return fmt.Errorf("challenge_domain is required")
	}
	if len(d.Indicators) == 0 {
		return fmt.Errorf("indicators must contain at least one entry")
	}
	return nil
}
