package client

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"arcfeed/cmd/internal/envconf"

	"gopkg.in/yaml.v3"
)

// ConfigEnvVar names the environment variable holding the config file path.
const ConfigEnvVar = "ARCFEED_CONFIG"

// Config is the streaming client configuration.
//
// Values come from DefaultConfig, then the YAML file, then ARCFEED_*
// environment variables.
type Config struct {
	BaseURL        string        `yaml:"base_url"`
	Token          string        `yaml:"token"`
	HistoryLimit   int           `yaml:"history_limit"`
	Origin         string        `yaml:"origin"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	LogLevel       string        `yaml:"log_level"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://localhost:8080",
		HistoryLimit:   100,
		RequestTimeout: defaultRequestTimeout,
		LogLevel:       "info",
	}
}

// LoadConfig builds a Config. path may be empty, in which case ARCFEED_CONFIG
// is consulted; with neither set only defaults and environment apply.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = strings.TrimSpace(os.Getenv(ConfigEnvVar))
	}
	if path != "" {
		if err := cfg.loadFile(os.ExpandEnv(path)); err != nil {
			return Config{}, err
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("client: read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("client: parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.BaseURL = envconf.String("ARCFEED_BASE_URL", c.BaseURL)
	c.Token = envconf.String("ARCFEED_TOKEN", c.Token)
	c.HistoryLimit = envconf.Int("ARCFEED_HISTORY_LIMIT", c.HistoryLimit)
	c.Origin = envconf.String("ARCFEED_ORIGIN", c.Origin)
	c.RequestTimeout = envconf.Duration("ARCFEED_REQUEST_TIMEOUT", c.RequestTimeout)
	c.LogLevel = envconf.String("ARCFEED_LOG_LEVEL", c.LogLevel)
}

// Validate checks the configuration for obvious mistakes.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("client: base_url is required")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("client: history_limit must be positive, got %d", c.HistoryLimit)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("client: request_timeout must be positive, got %s", c.RequestTimeout)
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("client: unknown log_level %q", c.LogLevel)
	}
	return nil
}

// NewClient builds a Client from c.
func (c Config) NewClient(log *slog.Logger) (*Client, error) {
	return New(c.BaseURL,
		WithLogger(log),
		WithOrigin(c.Origin),
		WithHTTPClient(&http.Client{Timeout: c.RequestTimeout}),
	)
}
