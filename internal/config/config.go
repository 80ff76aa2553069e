package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the poller.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Update  UpdateConfig  `mapstructure:"update"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type APIConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	SiteURL    string        `mapstructure:"site_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxTries   int           `mapstructure:"max_tries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	RateLimit  float64       `mapstructure:"rate_limit"`
	RateBurst  int           `mapstructure:"rate_burst"`
}

type AuthConfig struct {
	// Username is the personal account number; all digits.
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// Strategy selects the authenticator: "direct" posts credential
	// payload variants to the sign-in endpoint, "token" uses an
	// externally-captured bearer token.
	Strategy string `mapstructure:"strategy"`
	Token    string `mapstructure:"token"`
}

type UpdateConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	HistoryCacheTTL  time.Duration `mapstructure:"history_cache_ttl"`
	HistoryCacheSize int           `mapstructure:"history_cache_size"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from a YAML file. Environment variable
// references ($VAR / ${VAR}) in the file are expanded before parsing, so
// the password can stay out of the file itself.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "https://svet.kaluga.ru/test7/service")
	v.SetDefault("api.site_url", "https://svet.kaluga.ru")
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.max_tries", 3)
	v.SetDefault("api.retry_delay", "10s")
	v.SetDefault("api.rate_limit", 5.0)
	v.SetDefault("api.rate_burst", 10)

	v.SetDefault("auth.strategy", "direct")

	v.SetDefault("update.interval", "30m")
	v.SetDefault("update.cooldown", "5s")
	v.SetDefault("update.history_cache_ttl", "6h")
	v.SetDefault("update.history_cache_size", 64)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate rejects configurations the upstream is known to refuse.
func (c *Config) Validate() error {
	if c.Auth.Username == "" {
		return fmt.Errorf("auth.username is required")
	}
	for _, r := range c.Auth.Username {
		if r < '0' || r > '9' {
			return fmt.Errorf("auth.username must be the all-digits account number, got %q", c.Auth.Username)
		}
	}

	switch c.Auth.Strategy {
	case "", "direct":
		if c.Auth.Password == "" {
			return fmt.Errorf("auth.password is required for the direct strategy")
		}
	case "token":
		if c.Auth.Token == "" {
			return fmt.Errorf("auth.token is required for the token strategy")
		}
	default:
		return fmt.Errorf("unknown auth.strategy %q", c.Auth.Strategy)
	}

	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Update.Interval <= 0 {
		return fmt.Errorf("update.interval must be positive")
	}
	if c.Update.Cooldown < 0 {
		return fmt.Errorf("update.cooldown must not be negative")
	}

	return nil
}
