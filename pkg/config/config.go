// Package config loads kvwatch client configuration from a single YAML file.
//
// Fields left out of the file keep the values from Default. Unknown keys are
// an error, so a typo never silently falls back to a default.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kvwatch/kvwatch-go/pkg/connection"
	"github.com/kvwatch/kvwatch-go/pkg/transport"
)

// Transport names.
const (
	TransportFramed = "framed"
	TransportGRPC   = "grpc"
)

// DefaultAwaitTimeout bounds how long a caller waits for a watch to be
// acknowledged.
const DefaultAwaitTimeout = 5 * time.Second

// Validation errors.
var (
	ErrNoEndpoints      = errors.New("at least one endpoint is required")
	ErrUnknownTransport = errors.New("unknown transport")
	ErrTokenConflict    = errors.New("token and token_file are mutually exclusive")
	ErrBadLogLevel      = errors.New("unknown log level")
)

// Config is the client configuration.
type Config struct {
	// Endpoints is the resolved address list (host:port).
	Endpoints []string `yaml:"endpoints"`

	// Transport selects the wire protocol: "framed" or "grpc".
	// Default: framed
	Transport string `yaml:"transport"`

	// TLS enables TLS when any field is set.
	TLS transport.TLSConfig `yaml:"tls"`

	// Token or TokenFile supplies the bearer token. At most one may be set.
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`

	// Backoff tunes stream reconnection.
	Backoff connection.BackoffConfig `yaml:"backoff"`

	// DrainTimeout bounds how long Close waits for cancellations to drain.
	// Default: 250ms
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	// AttemptTimeout bounds each reconnection attempt.
	// Default: 10s
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	// AwaitTimeout bounds waiting for a watch acknowledgment.
	// Default: 5s
	AwaitTimeout time.Duration `yaml:"await_timeout"`

	// MaxMessageSize bounds a single frame or gRPC message in bytes.
	// Default: 4 MiB
	MaxMessageSize uint32 `yaml:"max_message_size"`

	// ProtocolLog, when set, records every frame to this CBOR log file.
	ProtocolLog string `yaml:"protocol_log"`

	// LogLevel is one of debug, info, warn, error.
	// Default: info
	LogLevel string `yaml:"log_level"`
}

// Default returns the default configuration. It has no endpoints, so it
// does not validate until one is added.
func Default() *Config {
	return &Config{
		Transport:      TransportFramed,
		Backoff:        connection.DefaultBackoffConfig(),
		DrainTimeout:   250 * time.Millisecond,
		AttemptTimeout: connection.DefaultAttemptTimeout,
		AwaitTimeout:   DefaultAwaitTimeout,
		MaxMessageSize: transport.DefaultMaxMessageSize,
		LogLevel:       "info",
	}
}

// LoadFile reads path over Default and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return ErrNoEndpoints
	}
	for _, ep := range c.Endpoints {
		if strings.TrimSpace(ep) == "" {
			return fmt.Errorf("empty endpoint in %v", c.Endpoints)
		}
	}

	switch c.Transport {
	case TransportFramed, TransportGRPC:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Transport)
	}

	if c.Token != "" && c.TokenFile != "" {
		return ErrTokenConflict
	}

	if c.DrainTimeout < 0 || c.AttemptTimeout < 0 || c.AwaitTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.Backoff.Max > 0 && c.Backoff.Initial > c.Backoff.Max {
		return fmt.Errorf("backoff initial %s exceeds max %s", c.Backoff.Initial, c.Backoff.Max)
	}

	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// TokenSource returns the configured token source, or nil when no token is
// configured.
func (c *Config) TokenSource() transport.TokenSource {
	switch {
	case c.Token != "":
		return transport.StaticToken(c.Token)
	case c.TokenFile != "":
		return transport.NewFileToken(c.TokenFile)
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: %q", ErrBadLogLevel, c.LogLevel)
}
