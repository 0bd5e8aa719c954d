// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel                string        `mapstructure:"LOG_LEVEL"`
	DBURL                   string        `mapstructure:"DB_URL"`
	HTTPAddr                string        `mapstructure:"HTTP_ADDR"`
	JWTSecret               string        `mapstructure:"JWT_SECRET"`
	GithubAPIURL            string        `mapstructure:"GITHUB_API_URL"`
	GithubToken             string        `mapstructure:"GITHUB_TOKEN"`
	GithubRequestsPerSecond float64       `mapstructure:"GITHUB_REQUESTS_PER_SECOND"`
	GithubFetchTimeout      time.Duration `mapstructure:"GITHUB_FETCH_TIMEOUT"`
	DefaultPollRate         time.Duration `mapstructure:"DEFAULT_POLL_RATE"`
	DefaultPollWait         time.Duration `mapstructure:"DEFAULT_POLL_WAIT"`
	ScheduleOwnerID         int64         `mapstructure:"SCHEDULE_OWNER_ID"`
}

var defaults = map[string]interface{}{
	"LOG_LEVEL":                  "info",
	"HTTP_ADDR":                  ":8080",
	"GITHUB_API_URL":             "",
	"GITHUB_TOKEN":               "",
	"GITHUB_REQUESTS_PER_SECOND": 5,
	"GITHUB_FETCH_TIMEOUT":       "50s",
	"DEFAULT_POLL_RATE":          "1h",
	"DEFAULT_POLL_WAIT":          "0s",
	"SCHEDULE_OWNER_ID":          1,
}

// Keys without a default still need binding so Unmarshal sees env-only values.
var required = []string{"DB_URL", "JWT_SECRET"}

// LoadConfig reads configuration from a .env file in dir (if any) and the environment.
// Environment variables win over the file.
func LoadConfig(dir string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// Load from .env file if it exists
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read .env: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key := range defaults {
		_ = v.BindEnv(key)
	}
	for _, key := range required {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DBURL == "" {
		return errors.New("DB_URL is a required configuration field")
	}
	if len(c.JWTSecret) < 16 {
		return errors.New("JWT_SECRET is required and must be at least 16 characters")
	}
	if c.GithubRequestsPerSecond < 0 {
		return errors.New("GITHUB_REQUESTS_PER_SECOND must not be negative")
	}
	if c.GithubFetchTimeout <= 0 {
		return errors.New("GITHUB_FETCH_TIMEOUT must be positive")
	}
	if c.DefaultPollRate <= 0 {
		return errors.New("DEFAULT_POLL_RATE must be positive")
	}
	if c.DefaultPollWait < 0 {
		return errors.New("DEFAULT_POLL_WAIT must not be negative")
	}
	return nil
}
