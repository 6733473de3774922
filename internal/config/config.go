package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrConfig is wrapped by every configuration load or validation failure.
var ErrConfig = errors.New("configuration error")

// Config holds all configuration for our application
type Config struct {
	Server      ServerConfig    `mapstructure:"server"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Polling     PollingConfig   `mapstructure:"polling"`
	Network     NetworkConfig   `mapstructure:"network"`
	Analytics   AnalyticsConfig `mapstructure:"analytics"`
	SourcesFile string          `mapstructure:"sources_file"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	Host           string   `mapstructure:"host"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
	CacheSize      int      `mapstructure:"cache_size"`
	RateLimit      float64  `mapstructure:"rate_limit"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type PollingConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	Concurrent     bool          `mapstructure:"concurrent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	OutboundRate   float64       `mapstructure:"outbound_rate"`
	OutboundBurst  int           `mapstructure:"outbound_burst"`
}

type NetworkConfig struct {
	ProbeAddress  string        `mapstructure:"probe_address"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

type AnalyticsConfig struct {
	Window       time.Duration `mapstructure:"window"`
	TrendEpsilon float64       `mapstructure:"trend_epsilon"`
	TrendMode    string        `mapstructure:"trend_mode"`
	// Anchor is "latest" (window ends at the newest reading) or "clock".
	Anchor string `mapstructure:"anchor"`
}

// Load reads configuration from file and environment variables.
//
// A .env file in the working directory is loaded first if present. ${VAR}
// references in the file are expanded, and any key can be overridden with a
// TANKWATCH_ prefixed variable (server.port -> TANKWATCH_SERVER_PORT).
func Load(path string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrConfig, err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TANKWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadConfig(bytes.NewReader([]byte(expanded))); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfig, err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal config: %v", ErrConfig, err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.Polling.Interval <= 0 {
		return fmt.Errorf("%w: polling.interval must be positive", ErrConfig)
	}
	if c.Analytics.Window <= 0 {
		return fmt.Errorf("%w: analytics.window must be positive", ErrConfig)
	}
	switch c.Analytics.Anchor {
	case "latest", "clock":
	default:
		return fmt.Errorf("%w: invalid analytics.anchor: %s", ErrConfig, c.Analytics.Anchor)
	}
	if c.SourcesFile == "" {
		return fmt.Errorf("%w: sources_file is required", ErrConfig)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.cache_size", 256)
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_limit_burst", 40)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("polling.interval", 5*time.Minute)
	v.SetDefault("polling.concurrent", false)
	v.SetDefault("polling.request_timeout", 30*time.Second)
	v.SetDefault("polling.outbound_rate", 2.0)
	v.SetDefault("polling.outbound_burst", 4)

	v.SetDefault("network.probe_address", "docs.google.com:443")
	v.SetDefault("network.probe_interval", 15*time.Second)
	v.SetDefault("network.probe_timeout", 5*time.Second)

	v.SetDefault("analytics.window", time.Hour)
	v.SetDefault("analytics.trend_epsilon", 0.01)
	v.SetDefault("analytics.trend_mode", "rate")
	v.SetDefault("analytics.anchor", "latest")

	v.SetDefault("sources_file", "sources.json")
}
