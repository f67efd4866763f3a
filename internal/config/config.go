// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides (e.g. CFCLEAR_SOLVER_TIMEOUT).
const EnvPrefix = "CFCLEAR"

// Config holds the entire application configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Solver      SolverConfig      `mapstructure:"solver" yaml:"solver"`
	Cache       CacheConfig       `mapstructure:"cache" yaml:"cache"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator" yaml:"coordinator"`
	Identity    IdentityConfig    `mapstructure:"identity" yaml:"identity"`
	Proxy       ProxyConfig       `mapstructure:"proxy" yaml:"proxy"`
	Display     DisplayConfig     `mapstructure:"display" yaml:"display"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
	Color       string `mapstructure:"color" yaml:"color"`
}

// BrowserConfig holds settings for the Chrome instance driven over CDP.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless" yaml:"headless"`
	HTTP2    bool `mapstructure:"http2" yaml:"http2"`
	HTTP3    bool `mapstructure:"http3" yaml:"http3"`
	// ExecPath overrides Chrome discovery. Empty uses the chromedp lookup.
	ExecPath     string   `mapstructure:"exec_path" yaml:"exec_path"`
	Args         []string `mapstructure:"args" yaml:"args"`
	WindowWidth  int      `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight int      `mapstructure:"window_height" yaml:"window_height"`
	// VirtualDisplay starts Xvfb for headed runs on machines without a display.
	VirtualDisplay bool `mapstructure:"virtual_display" yaml:"virtual_display"`
}

// SolverConfig tunes the challenge loop.
type SolverConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// CacheConfig controls reuse of the last successful clearance.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// CoordinatorConfig controls how concurrent acquisitions share the browser.
type CoordinatorConfig struct {
	SingleFlight bool `mapstructure:"single_flight" yaml:"single_flight"`
}

// IdentityConfig configures user-agent selection.
type IdentityConfig struct {
	SourceURL string `mapstructure:"source_url" yaml:"source_url"`
	// Family is the substring a candidate must contain (e.g. "Chrome").
	Family string `mapstructure:"family" yaml:"family"`
	// Fallback is used when the source yields nothing usable. Empty disables it.
	Fallback string `mapstructure:"fallback" yaml:"fallback"`
	// UserAgent pins a fixed identity and skips the source entirely.
	UserAgent       string        `mapstructure:"user_agent" yaml:"user_agent"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval" yaml:"refresh_interval"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// ProxyConfig defines the upstream proxy used by the browser.
type ProxyConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// DisplayConfig configures the Xvfb virtual display.
type DisplayConfig struct {
	Binary      string        `mapstructure:"binary" yaml:"binary"`
	Width       int           `mapstructure:"width" yaml:"width"`
	Height      int           `mapstructure:"height" yaml:"height"`
	Depth       int           `mapstructure:"depth" yaml:"depth"`
	DisplayNum  int           `mapstructure:"display_num" yaml:"display_num"`
	StartupWait time.Duration `mapstructure:"startup_wait" yaml:"startup_wait"`
}

// ServerConfig configures the HTTP API started by `cfclear serve`.
type ServerConfig struct {
	Listen             string        `mapstructure:"listen" yaml:"listen"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DefaultUserAgent is the identity used when the identity source is unusable.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36"

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
	v.SetDefault("logger.service_name", "cfclear")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.color", "auto")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.http2", true)
	v.SetDefault("browser.http3", true)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.virtual_display", false)

	// -- Solver --
	v.SetDefault("solver.timeout", "30s")

	// -- Cache --
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", "30m")

	// -- Coordinator --
	v.SetDefault("coordinator.single_flight", true)

	// -- Identity --
	v.SetDefault("identity.source_url", "https://jnrbsn.github.io/user-agents/user-agents.json")
	v.SetDefault("identity.family", "Chrome")
	v.SetDefault("identity.fallback", DefaultUserAgent)
	v.SetDefault("identity.refresh_interval", "1h")
	v.SetDefault("identity.request_timeout", "10s")

	// -- Display --
	v.SetDefault("display.binary", "Xvfb")
	v.SetDefault("display.width", 1920)
	v.SetDefault("display.height", 1080)
	v.SetDefault("display.depth", 24)
	v.SetDefault("display.display_num", 99)
	v.SetDefault("display.startup_wait", "500ms")

	// -- Server --
	v.SetDefault("server.listen", "127.0.0.1:8191")
	v.SetDefault("server.rate_limit_per_minute", 30)
	v.SetDefault("server.shutdown_timeout", "15s")
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env") into the
// process environment. Existing variables win and missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error loading env file %s: %w", f, err)
		}
	}
	return nil
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Solver.Timeout <= 0 {
		return fmt.Errorf("solver.timeout must be a positive duration")
	}
	switch c.Logger.Color {
	case "", "auto", "always", "never":
	default:
		return fmt.Errorf("logger.color must be auto, always or never, got %q", c.Logger.Color)
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be a positive duration when the cache is enabled")
	}
	if c.Identity.UserAgent == "" && c.Identity.SourceURL == "" && c.Identity.Fallback == "" {
		return fmt.Errorf("identity needs one of user_agent, source_url or fallback")
	}
	if c.Proxy.URL != "" {
		if _, err := ParseProxyURL(c.Proxy.URL); err != nil {
			return fmt.Errorf("proxy.url invalid: %w", err)
		}
	}
	if err := c.Display.Validate(); err != nil {
		return fmt.Errorf("display configuration invalid: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the DisplayConfig settings.
func (d *DisplayConfig) Validate() error {
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("width and height must be positive")
	}
	switch d.Depth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("depth must be one of 8, 16, 24, 32")
	}
	if d.DisplayNum < 0 {
		return fmt.Errorf("display_num must not be negative")
	}
	return nil
}

// Validate checks the ServerConfig settings.
func (s *ServerConfig) Validate() error {
	if s.Listen == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(s.Listen); err != nil {
		return fmt.Errorf("listen address %q: %w", s.Listen, err)
	}
	if s.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate_limit_per_minute must not be negative")
	}
	return nil
}

// ParseProxyURL parses a proxy URL and requires a scheme and host. A bare
// host:port is accepted and treated as http.
func ParseProxyURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		// "host:port" parses with the host as scheme; retry with an explicit scheme.
		u, err = url.Parse("http://" + raw)
		if err != nil {
			return nil, err
		}
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy URL %q has no host", raw)
	}
	return u, nil
}
