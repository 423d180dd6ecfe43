package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/raysh454/capwatch/internal/backend"
	"github.com/raysh454/capwatch/internal/logging"
)

// Config contains the runtime options of the scan coordinator and the
// surfaces built on it.
type Config struct {
	Backend backend.Config `mapstructure:"backend"`

	// PollInterval is the fixed delay between status requests.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// PollTimeout bounds a polling job, measured from submission.
	PollTimeout time.Duration `mapstructure:"poll_timeout"`

	// StreamTimeout bounds a streaming job. Streaming capabilities run longer.
	StreamTimeout time.Duration `mapstructure:"stream_timeout"`

	// Priority is sent with every job creation request.
	Priority string `mapstructure:"priority"`

	// ArchivePath is the bbolt file finished scans are recorded in. Empty disables it.
	ArchivePath string `mapstructure:"archive_path"`

	LogLevel string `mapstructure:"log_level"`
}

// DefaultConfig returns a Config populated with sensible development defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend: backend.Config{
			BaseURL:        "http://localhost:8090",
			RequestTimeout: 30 * time.Second,
		},
		PollInterval:  5 * time.Second,
		PollTimeout:   5 * time.Minute,
		StreamTimeout: 10 * time.Minute,
		Priority:      "normal",
		ArchivePath:   "~/.config/capwatch/history.db",
		LogLevel:      "warn",
	}
}

// LoadConfig layers DefaultConfig, an optional YAML file and CAPWATCH_*
// environment variables (CAPWATCH_BACKEND_BASE_URL, CAPWATCH_POLL_INTERVAL...).
// With an empty path, capwatch.yaml is looked up in the working directory and
// ~/.config/capwatch; a missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	def := DefaultConfig()
	v.SetDefault("backend.base_url", def.Backend.BaseURL)
	v.SetDefault("backend.stream_url", def.Backend.StreamURL)
	v.SetDefault("backend.api_token", def.Backend.APIToken)
	v.SetDefault("backend.request_timeout", def.Backend.RequestTimeout)
	v.SetDefault("poll_interval", def.PollInterval)
	v.SetDefault("poll_timeout", def.PollTimeout)
	v.SetDefault("stream_timeout", def.StreamTimeout)
	v.SetDefault("priority", def.Priority)
	v.SetDefault("archive_path", def.ArchivePath)
	v.SetDefault("log_level", def.LogLevel)

	v.SetEnvPrefix("CAPWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		v.SetConfigName("capwatch")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "capwatch"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		errs = append(errs, errors.New("backend.base_url cannot be empty"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	if c.PollTimeout <= 0 {
		errs = append(errs, errors.New("poll_timeout must be positive"))
	}
	if c.StreamTimeout <= 0 {
		errs = append(errs, errors.New("stream_timeout must be positive"))
	}
	if c.PollTimeout > 0 && c.PollInterval > c.PollTimeout {
		errs = append(errs, errors.New("poll_interval must not exceed poll_timeout"))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// withTimingDefaults returns a copy of cfg in which every non-positive
// interval or timeout, and an empty priority, is taken from DefaultConfig.
// A nil cfg yields DefaultConfig.
func withTimingDefaults(cfg *Config) *Config {
	def := DefaultConfig()
	if cfg == nil {
		return def
	}
	out := *cfg
	if out.PollInterval <= 0 {
		out.PollInterval = def.PollInterval
	}
	if out.PollTimeout <= 0 {
		out.PollTimeout = def.PollTimeout
	}
	if out.StreamTimeout <= 0 {
		out.StreamTimeout = def.StreamTimeout
	}
	if out.PollInterval > out.PollTimeout {
		out.PollInterval = out.PollTimeout
	}
	if strings.TrimSpace(out.Priority) == "" {
		out.Priority = def.Priority
	}
	return &out
}

// ExpandPath resolves a leading ~ to the user's home directory.
func ExpandPath(p string) (string, error) {
	if len(p) > 0 && p[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, p[1:]), nil
	}
	return p, nil
}
