// Package config provides production-grade configuration management for the
// Frostfire gateway. It supports JSON-based configuration loading layered
// with environment variable overrides, following the precedence rules a
// real deployment needs: defaults, then the config file, then the
// environment. No CLI flag overrides a configuration value.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// TLSConfig groups the optional TLS cert/key pair. If both paths are
// loadable at startup the gateway serves TLS on both the HTTP and
// WebSocket listeners; otherwise it falls back to plain with a warning.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertPath string `mapstructure:"cert_path"`
	KeyPath  string `mapstructure:"key_path"`
}

// Config holds all tunable parameters for the gateway. It is loaded once at
// startup and then shared across goroutines as a read-only value, making it
// inherently thread-safe after initialization.
type Config struct {
	// Port is the HTTP listener port (admin API + reverse proxy).
	Port int `mapstructure:"port"`

	// WSPort is the control-plane WebSocket listener port.
	WSPort int `mapstructure:"ws_port"`

	// HeartbeatInterval is how often the dead-server sweep runs.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// ServerTimeout is the maximum heartbeat silence before a server is
	// considered dead and evicted.
	ServerTimeout time.Duration `mapstructure:"server_timeout"`

	// SessionTimeout is the maximum idleness before a session is expired.
	SessionTimeout time.Duration `mapstructure:"session_timeout"`

	// AuthKey is the shared secret required on every server-plane request
	// and on dashboard login.
	AuthKey string `mapstructure:"auth_key"`

	// MaxBufferSize is the backpressure threshold, in bytes, for the
	// control-plane WebSocket send queue.
	MaxBufferSize int64 `mapstructure:"max_buffer_size"`

	TLS TLSConfig `mapstructure:"tls"`
}

const (
	defaultHeartbeatInterval = 10 * time.Second
	defaultServerTimeout     = 30 * time.Second
	defaultSessionTimeout    = 5 * time.Minute
	defaultMaxBufferSize     = 1 << 30 // 1 GiB
	defaultPlainPort         = 80
	defaultTLSPort           = 443
	defaultWSPort            = 9000
)

// DefaultConfig returns a *Config pre-filled with the source's documented
// defaults. Callers are free to mutate the returned struct; each call
// returns a fresh independent copy.
func DefaultConfig() *Config {
	return &Config{
		Port:              defaultPlainPort,
		WSPort:            defaultWSPort,
		HeartbeatInterval: defaultHeartbeatInterval,
		ServerTimeout:     defaultServerTimeout,
		SessionTimeout:    defaultSessionTimeout,
		MaxBufferSize:     defaultMaxBufferSize,
	}
}

// Load reads configuration from filename (if non-empty), layers environment
// variable overrides on top, and applies the gateway's documented port and
// auth-key selection rules. It never returns an error for a missing
// filename; a missing config file simply means defaults are used.
func Load(filename string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")

	v.SetDefault("port", defaultPlainPort)
	v.SetDefault("ws_port", defaultWSPort)
	v.SetDefault("heartbeat_interval", defaultHeartbeatInterval)
	v.SetDefault("server_timeout", defaultServerTimeout)
	v.SetDefault("session_timeout", defaultSessionTimeout)
	v.SetDefault("max_buffer_size", defaultMaxBufferSize)

	if filename != "" {
		v.SetConfigFile(filename)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config: read %q: %w", filename, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides implements the env-var precedence rules from the
// gateway's external interface: WEBSRV_* select the HTTP port depending on
// whether TLS is enabled, GATEWAY_AUTH_KEY overrides the shared secret, and
// GATEWAY_PORT/HEARTBEAT_INTERVAL/SERVER_TIMEOUT/SESSION_TIMEOUT override
// their respective config-file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WEBSRV_USESSL"); v != "" {
		cfg.TLS.Enabled = isTruthy(v)
	}
	if v := os.Getenv("WEBSRV_CERT_PATH"); v != "" {
		cfg.TLS.CertPath = v
	}
	if v := os.Getenv("WEBSRV_KEY_PATH"); v != "" {
		cfg.TLS.KeyPath = v
	}

	if cfg.TLS.Enabled && cfg.TLS.CertPath != "" && cfg.TLS.KeyPath != "" {
		// TLS-enabled gateways select their port from WEBSRV_PORTSSL, falling
		// back to 443 — never the plain-HTTP default applied above.
		if p, err := strconv.Atoi(os.Getenv("WEBSRV_PORTSSL")); err == nil {
			cfg.Port = p
		} else {
			cfg.Port = defaultTLSPort
		}
	} else {
		if p, err := strconv.Atoi(os.Getenv("WEBSRV_PORT")); err == nil {
			cfg.Port = p
		} else if cfg.Port == 0 {
			cfg.Port = defaultPlainPort
		}
	}

	if p, err := strconv.Atoi(os.Getenv("GATEWAY_PORT")); err == nil {
		cfg.WSPort = p
	}

	if v := os.Getenv("GATEWAY_AUTH_KEY"); v != "" {
		cfg.AuthKey = v
	}

	if d, err := time.ParseDuration(os.Getenv("HEARTBEAT_INTERVAL")); err == nil {
		cfg.HeartbeatInterval = d
	}
	if d, err := time.ParseDuration(os.Getenv("SERVER_TIMEOUT")); err == nil {
		cfg.ServerTimeout = d
	}
	if d, err := time.ParseDuration(os.Getenv("SESSION_TIMEOUT")); err == nil {
		cfg.SessionTimeout = d
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// HasTLS reports whether both a cert and key path are configured and TLS is
// enabled; callers still need to verify the files are actually loadable.
func (c *Config) HasTLS() bool {
	return c.TLS.Enabled && c.TLS.CertPath != "" && c.TLS.KeyPath != ""
}
