// Package config loads the keepalive binary's settings from a TOML file,
// applies KEEPALIVE_* environment overrides and validates the result.
package config

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Environment variables that override file values.
const (
	EnvHeartbeatInterval = "KEEPALIVE_HEARTBEAT_INTERVAL_SECONDS"
	EnvReconnectDelay    = "KEEPALIVE_RECONNECT_DELAY_SECONDS"
	EnvServerHost        = "KEEPALIVE_SERVER_HOST"
	EnvServerPort        = "KEEPALIVE_SERVER_PORT"
	EnvFraming           = "KEEPALIVE_FRAMING"
	EnvHTTPAddr          = "KEEPALIVE_HTTP_ADDR"
	EnvLogLevel          = "KEEPALIVE_LOG_LEVEL"
	EnvLogFormat         = "KEEPALIVE_LOG_FORMAT"
)

// Framing names accepted by the framing key.
const (
	FramingLength = "length"
	FramingVarint = "varint"
)

// Config is the full set of binary settings. Durations are whole seconds,
// matching the file keys.
type Config struct {
	HeartbeatIntervalSeconds int    `toml:"heartbeat_interval_seconds"`
	ReconnectDelaySeconds    int    `toml:"reconnect_delay_seconds"`
	ServerHost               string `toml:"server_host"`
	ServerPort               int    `toml:"server_port"`
	DialTimeoutSeconds       int    `toml:"dial_timeout_seconds"`
	WriteTimeoutSeconds      int    `toml:"write_timeout_seconds"`
	ReadIdleTimeoutSeconds   int    `toml:"read_idle_timeout_seconds"`
	MaxFrameLength           int    `toml:"max_frame_length"`
	Framing                  string `toml:"framing"`
	HTTPAddr                 string `toml:"http_addr"`
	Log                      Log    `toml:"log"`
}

// Log configures the binary's logger.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		HeartbeatIntervalSeconds: 10,
		ReconnectDelaySeconds:    10,
		ServerHost:               "127.0.0.1",
		ServerPort:               8088,
		DialTimeoutSeconds:       5,
		WriteTimeoutSeconds:      10,
		ReadIdleTimeoutSeconds:   30,
		MaxFrameLength:           1024 * 1024,
		Framing:                  FramingLength,
		HTTPAddr:                 "127.0.0.1:8080",
		Log: Log{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path on top of the defaults, then applies environment
// overrides and validates. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeFile overlays only the keys the file defines.
func decodeFile(path string, cfg *Config) error {
	var raw Config
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return errors.Wrapf(err, "load config %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return errors.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("heartbeat_interval_seconds") {
		cfg.HeartbeatIntervalSeconds = raw.HeartbeatIntervalSeconds
	}
	if meta.IsDefined("reconnect_delay_seconds") {
		cfg.ReconnectDelaySeconds = raw.ReconnectDelaySeconds
	}
	if meta.IsDefined("server_host") {
		cfg.ServerHost = strings.TrimSpace(raw.ServerHost)
	}
	if meta.IsDefined("server_port") {
		cfg.ServerPort = raw.ServerPort
	}
	if meta.IsDefined("dial_timeout_seconds") {
		cfg.DialTimeoutSeconds = raw.DialTimeoutSeconds
	}
	if meta.IsDefined("write_timeout_seconds") {
		cfg.WriteTimeoutSeconds = raw.WriteTimeoutSeconds
	}
	if meta.IsDefined("read_idle_timeout_seconds") {
		cfg.ReadIdleTimeoutSeconds = raw.ReadIdleTimeoutSeconds
	}
	if meta.IsDefined("max_frame_length") {
		cfg.MaxFrameLength = raw.MaxFrameLength
	}
	if meta.IsDefined("framing") {
		cfg.Framing = strings.ToLower(strings.TrimSpace(raw.Framing))
	}
	if meta.IsDefined("http_addr") {
		cfg.HTTPAddr = strings.TrimSpace(raw.HTTPAddr)
	}
	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "format") {
		cfg.Log.Format = strings.TrimSpace(raw.Log.Format)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	ints := []struct {
		key string
		dst *int
	}{
		{EnvHeartbeatInterval, &cfg.HeartbeatIntervalSeconds},
		{EnvReconnectDelay, &cfg.ReconnectDelaySeconds},
		{EnvServerPort, &cfg.ServerPort},
	}
	for _, e := range ints {
		raw, ok := lookup(e.key)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return errors.Wrapf(err, "parse %s", e.key)
		}
		*e.dst = v
	}

	strs := []struct {
		key string
		dst *string
	}{
		{EnvServerHost, &cfg.ServerHost},
		{EnvFraming, &cfg.Framing},
		{EnvHTTPAddr, &cfg.HTTPAddr},
		{EnvLogLevel, &cfg.Log.Level},
		{EnvLogFormat, &cfg.Log.Format},
	}
	for _, e := range strs {
		if raw, ok := lookup(e.key); ok && strings.TrimSpace(raw) != "" {
			*e.dst = strings.TrimSpace(raw)
		}
	}
	cfg.Framing = strings.ToLower(cfg.Framing)
	return nil
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	switch {
	case c.HeartbeatIntervalSeconds <= 0:
		return errors.New("heartbeat_interval_seconds must be positive")
	case c.ReconnectDelaySeconds <= 0:
		return errors.New("reconnect_delay_seconds must be positive")
	case strings.TrimSpace(c.ServerHost) == "":
		return errors.New("server_host is required")
	case c.ServerPort <= 0 || c.ServerPort > 65535:
		return errors.Errorf("server_port %d out of range", c.ServerPort)
	case c.DialTimeoutSeconds < 0:
		return errors.New("dial_timeout_seconds must not be negative")
	case c.WriteTimeoutSeconds <= 0:
		return errors.New("write_timeout_seconds must be positive")
	case c.ReadIdleTimeoutSeconds < 0:
		return errors.New("read_idle_timeout_seconds must not be negative")
	case c.MaxFrameLength <= 0:
		return errors.New("max_frame_length must be positive")
	}

	switch c.Framing {
	case FramingLength, FramingVarint:
	default:
		return errors.Errorf("unknown framing %q", c.Framing)
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		return errors.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// ServerAddr is the host:port the client dials and the server binds.
func (c Config) ServerAddr() string {
	return net.JoinHostPort(c.ServerHost, strconv.Itoa(c.ServerPort))
}

func (c Config) HeartbeatInterval() time.Duration { return seconds(c.HeartbeatIntervalSeconds) }
func (c Config) ReconnectDelay() time.Duration    { return seconds(c.ReconnectDelaySeconds) }
func (c Config) DialTimeout() time.Duration       { return seconds(c.DialTimeoutSeconds) }
func (c Config) WriteTimeout() time.Duration      { return seconds(c.WriteTimeoutSeconds) }
func (c Config) ReadIdleTimeout() time.Duration   { return seconds(c.ReadIdleTimeoutSeconds) }

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
