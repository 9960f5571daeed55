// Package config loads client settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/mafia/go/internal/game/connection"
	"github.com/mcdev12/mafia/go/internal/game/engine"
	"github.com/mcdev12/mafia/go/internal/game/gateway"
	"github.com/mcdev12/mafia/go/internal/game/relay"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	ServerURL        string        `yaml:"server_url"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	MaxMessageSize   int64         `yaml:"max_message_size"`
	LogLevel         string        `yaml:"log_level"`
	HTTP             HTTPConfig    `yaml:"http"`
	Relay            RelayConfig   `yaml:"relay"`
}

type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RelayConfig controls mirroring of server events to NATS JetStream.
type RelayConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	StreamName    string `yaml:"stream_name"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	conn := connection.DefaultConfig()
	transport := connection.DefaultTransportConfig()
	gw := gateway.DefaultConfig()
	rl := relay.DefaultConfig()

	return Config{
		ServerURL:        conn.URL,
		ReconnectDelay:   conn.ReconnectDelay,
		WriteTimeout:     transport.WriteTimeout,
		HandshakeTimeout: transport.HandshakeTimeout,
		MaxMessageSize:   transport.MaxMessageSize,
		LogLevel:         zerolog.InfoLevel.String(),
		HTTP: HTTPConfig{
			Addr:           gw.Addr,
			AllowedOrigins: gw.AllowedOrigins,
		},
		Relay: RelayConfig{
			URL:           rl.URL,
			StreamName:    rl.StreamName,
			SubjectPrefix: rl.SubjectPrefix,
		},
	}
}

// Load reads path, if given, over the defaults and then applies environment
// overrides. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ServerURL = getEnv("MAFIA_SERVER_URL", c.ServerURL)
	c.ReconnectDelay = getEnvAsDuration("MAFIA_RECONNECT_DELAY", c.ReconnectDelay)
	c.WriteTimeout = getEnvAsDuration("MAFIA_WRITE_TIMEOUT", c.WriteTimeout)
	c.HandshakeTimeout = getEnvAsDuration("MAFIA_HANDSHAKE_TIMEOUT", c.HandshakeTimeout)
	c.MaxMessageSize = int64(getEnvAsInt("MAFIA_MAX_MESSAGE_SIZE", int(c.MaxMessageSize)))
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.HTTP.Addr = getEnv("MAFIA_HTTP_ADDR", c.HTTP.Addr)
	c.Relay.Enabled = getEnvAsBool("MAFIA_RELAY_ENABLED", c.Relay.Enabled)
	c.Relay.URL = getEnv("NATS_URL", c.Relay.URL)
	c.Relay.StreamName = getEnv("MAFIA_RELAY_STREAM", c.Relay.StreamName)
	c.Relay.SubjectPrefix = getEnv("MAFIA_RELAY_SUBJECT_PREFIX", c.Relay.SubjectPrefix)
}

// Validate reports the first setting the client cannot run with.
func (c Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("%w: server_url is required", ErrInvalidConfig)
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("%w: server_url: %v", ErrInvalidConfig, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: server_url must use ws or wss, got %q", ErrInvalidConfig, u.Scheme)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("%w: reconnect_delay must be positive", ErrInvalidConfig)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %v", ErrInvalidConfig, err)
	}
	if c.Relay.Enabled && (c.Relay.URL == "" || c.Relay.StreamName == "" || c.Relay.SubjectPrefix == "") {
		return fmt.Errorf("%w: relay needs url, stream_name and subject_prefix", ErrInvalidConfig)
	}
	return nil
}

// Level returns the configured log level, falling back to info.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func (c Config) EngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Connection.URL = c.ServerURL
	cfg.Connection.ReconnectDelay = c.ReconnectDelay
	cfg.Transport.WriteTimeout = c.WriteTimeout
	cfg.Transport.HandshakeTimeout = c.HandshakeTimeout
	cfg.Transport.MaxMessageSize = c.MaxMessageSize
	return cfg
}

func (c Config) GatewayConfig() gateway.Config {
	cfg := gateway.DefaultConfig()
	cfg.Addr = c.HTTP.Addr
	if len(c.HTTP.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = c.HTTP.AllowedOrigins
	}
	return cfg
}

func (c Config) RelayConfig() relay.Config {
	cfg := relay.DefaultConfig()
	cfg.URL = c.Relay.URL
	cfg.StreamName = c.Relay.StreamName
	cfg.SubjectPrefix = c.Relay.SubjectPrefix
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
