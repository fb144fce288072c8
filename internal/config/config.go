// Package config loads server configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Upstream call modes.
const (
	ModeStream = "stream" // SSE endpoint, reply relayed frame by frame
	ModeSync   = "sync"   // multipart endpoint, reply returned as one blob
)

// Upstream holds the configuration for the single upstream conversational
// API. It is passed into the upstream client at construction so tests can
// substitute doubles.
type Upstream struct {
	Endpoint       string        `yaml:"endpoint"`
	APIKey         string        `yaml:"api_key"`
	AppID          string        `yaml:"app_id"`
	Mode           string        `yaml:"mode"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// UnmarshalYAML decodes the upstream block, accepting Go duration strings
// such as "30s" for request_timeout. Absent fields keep their prior values
// so file contents layer over defaults.
func (u *Upstream) UnmarshalYAML(value *yaml.Node) error {
	type rawUpstream struct {
		Endpoint       string `yaml:"endpoint"`
		APIKey         string `yaml:"api_key"`
		AppID          string `yaml:"app_id"`
		Mode           string `yaml:"mode"`
		RequestTimeout string `yaml:"request_timeout"`
	}
	var r rawUpstream
	if err := value.Decode(&r); err != nil {
		return err
	}
	if r.Endpoint != "" {
		u.Endpoint = r.Endpoint
	}
	if r.APIKey != "" {
		u.APIKey = r.APIKey
	}
	if r.AppID != "" {
		u.AppID = r.AppID
	}
	if r.Mode != "" {
		u.Mode = r.Mode
	}
	if r.RequestTimeout != "" {
		d, err := time.ParseDuration(r.RequestTimeout)
		if err != nil {
			return fmt.Errorf("parse request_timeout: %w", err)
		}
		u.RequestTimeout = d
	}
	return nil
}

// Config holds the full server configuration.
type Config struct {
	Addr             string   `yaml:"addr"`
	ConversationsDir string   `yaml:"conversations_dir"`
	UploadsDir       string   `yaml:"uploads_dir"`
	Upstream         Upstream `yaml:"upstream"`
}

// Load reads configuration from a YAML file (optional) and applies
// environment-variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Addr:             ":8810",
		ConversationsDir: "conversations",
		UploadsDir:       "temp_uploads",
		Upstream: Upstream{
			Mode:           ModeStream,
			RequestTimeout: 120 * time.Second,
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := os.Getenv("CHATRELAY_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("PORT"); v != "" { // Heroku-style
		cfg.Addr = ":" + v
	}
	if v := os.Getenv("CHATRELAY_CONVERSATIONS_DIR"); v != "" {
		cfg.ConversationsDir = v
	}
	if v := os.Getenv("CHATRELAY_UPLOADS_DIR"); v != "" {
		cfg.UploadsDir = v
	}
	if v := os.Getenv("CHATRELAY_UPSTREAM_ENDPOINT"); v != "" {
		cfg.Upstream.Endpoint = v
	}
	if v := os.Getenv("CHATRELAY_UPSTREAM_API_KEY"); v != "" {
		cfg.Upstream.APIKey = v
	}
	if v := os.Getenv("CHATRELAY_UPSTREAM_APP_ID"); v != "" {
		cfg.Upstream.AppID = v
	}
	if v := os.Getenv("CHATRELAY_UPSTREAM_MODE"); v != "" {
		cfg.Upstream.Mode = v
	}
	if v := os.Getenv("CHATRELAY_UPSTREAM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Upstream.RequestTimeout = d
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required configuration fields are set.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	if c.ConversationsDir == "" {
		return errors.New("conversations_dir is required")
	}
	if c.UploadsDir == "" {
		return errors.New("uploads_dir is required")
	}
	if c.Upstream.Endpoint == "" {
		return errors.New("upstream.endpoint is required")
	}
	switch c.Upstream.Mode {
	case ModeStream, ModeSync:
	default:
		return fmt.Errorf("upstream.mode must be %q or %q, got %q", ModeStream, ModeSync, c.Upstream.Mode)
	}
	return nil
}
