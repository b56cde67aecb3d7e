// Package server provides configuration helpers that define runtime defaults,
// validation, and environment overrides for the linechat service.
package server

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/linechat/internal/transport"
)

const (
	DefaultHost         = "0.0.0.0"
	DefaultPort         = 4000
	DefaultHTTPAddr     = ":8080"
	DefaultIdleTimeout  = 60 * time.Second
	DefaultReapInterval = 10 * time.Second

	defaultSendQueueSize   = 256
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// RateLimitConfig defines the parameters for per-connection command rate
// limiting. A zero Burst disables limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings.
type Config struct {
	Host            string
	Port            int
	HTTPAddr        string
	IdleTimeout     time.Duration
	ReapInterval    time.Duration
	MaxLineSize     int
	SendQueueSize   int
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	RateLimit       RateLimitConfig
}

func defaultConfig() Config {
	return Config{
		Host:            DefaultHost,
		Port:            DefaultPort,
		HTTPAddr:        DefaultHTTPAddr,
		IdleTimeout:     DefaultIdleTimeout,
		ReapInterval:    DefaultReapInterval,
		MaxLineSize:     transport.DefaultMaxLineSize,
		SendQueueSize:   defaultSendQueueSize,
		WriteTimeout:    defaultWriteTimeout,
		ShutdownTimeout: defaultShutdownTimeout,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		RateLimit: RateLimitConfig{
			RefillInterval: time.Second,
		},
	}
}

// sanitizeConfig replaces unusable values with defaults.
func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port < 0 || cfg.Port > 65535 {
		cfg.Port = def.Port
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = def.ReapInterval
	}
	if cfg.MaxLineSize <= 0 {
		cfg.MaxLineSize = def.MaxLineSize
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.RateLimit.Burst < 0 {
		cfg.RateLimit.Burst = 0
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)

	return cfg
}

// Addr returns the host:port the line listener binds to.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Unset or unparsable optional values fall back to defaults; an invalid
// CHAT_PORT is an error.
func NewConfigFromEnv() (*Config, error) {
	cfg := defaultConfig()

	if port := os.Getenv("CHAT_PORT"); port != "" {
		parsed, err := ParsePort(port)
		if err != nil {
			return nil, fmt.Errorf("invalid CHAT_PORT value %q: %w", port, err)
		}
		cfg.Port = parsed
	}

	applyEnv(&cfg)
	return &cfg, nil
}

// NewConfigWithPort is NewConfigFromEnv for an explicitly chosen port.
// CHAT_PORT is not consulted.
func NewConfigWithPort(port int) *Config {
	cfg := defaultConfig()
	cfg.Port = port
	applyEnv(&cfg)
	return &cfg
}

// applyEnv overlays every variable except CHAT_PORT.
func applyEnv(cfg *Config) {
	if host := os.Getenv("CHAT_HOST"); host != "" {
		cfg.Host = host
	}

	if addr, ok := os.LookupEnv("CHAT_HTTP_ADDR"); ok {
		cfg.HTTPAddr = strings.TrimSpace(addr)
	}

	if v := os.Getenv("CHAT_IDLE_TIMEOUT"); v != "" {
		cfg.IdleTimeout = parseDuration(v, cfg.IdleTimeout)
	}

	if v := os.Getenv("CHAT_REAP_INTERVAL"); v != "" {
		cfg.ReapInterval = parseDuration(v, cfg.ReapInterval)
	}

	if v := os.Getenv("CHAT_MAX_LINE"); v != "" {
		cfg.MaxLineSize = parseIntValue(v, cfg.MaxLineSize)
	}

	if v := os.Getenv("CHAT_SEND_QUEUE"); v != "" {
		cfg.SendQueueSize = parseIntValue(v, cfg.SendQueueSize)
	}

	if v := os.Getenv("CHAT_WRITE_TIMEOUT"); v != "" {
		cfg.WriteTimeout = parseDuration(v, cfg.WriteTimeout)
	}

	if origins := os.Getenv("CHAT_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if burst := os.Getenv("CHAT_RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("CHAT_RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseDuration(interval, cfg.RateLimit.RefillInterval)
	}
}

// ParsePort parses a TCP port number in the range 1-65535.
func ParsePort(value string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("not a number: %w", err)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go duration syntax ("90s") or a bare number of seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
