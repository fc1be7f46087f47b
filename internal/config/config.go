// Package config reads hub and client settings from the environment.
// A .env file in the working directory is loaded first when present;
// variables already set in the environment win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	EnvAddr            = "CODEROOM_ADDR"
	EnvLogLevel        = "CODEROOM_LOG_LEVEL"
	EnvPingInterval    = "CODEROOM_PING_INTERVAL"
	EnvPongWait        = "CODEROOM_PONG_WAIT"
	EnvMaxMessageBytes = "CODEROOM_MAX_MESSAGE_BYTES"
	EnvAdvertise       = "CODEROOM_ADVERTISE"
	EnvHubURL          = "CODEROOM_HUB_URL"
	EnvExecuteURL      = "CODEROOM_EXECUTE_URL"
	EnvLanguage        = "CODEROOM_LANGUAGE"
	EnvDebounce        = "CODEROOM_DEBOUNCE"
	EnvJoinRetries     = "CODEROOM_JOIN_RETRIES"
)

// DiscoverHubURL as the hub URL makes the client look for a hub over mDNS.
const DiscoverHubURL = "mdns"

// ErrInvalid wraps every malformed value.
var ErrInvalid = errors.New("invalid configuration")

// Hub configures the hub process.
type Hub struct {
	Addr            string
	LogLevel        string
	PingInterval    time.Duration
	PongWait        time.Duration
	MaxMessageBytes int64
	Advertise       bool
}

// Client configures the terminal client.
type Client struct {
	HubURL      string
	ExecuteURL  string
	Language    string
	LogLevel    string
	Debounce    time.Duration
	JoinRetries uint64
}

// DefaultHub returns the hub defaults.
func DefaultHub() Hub {
	return Hub{
		Addr:            ":8080",
		LogLevel:        "info",
		PingInterval:    25 * time.Second,
		PongWait:        60 * time.Second,
		MaxMessageBytes: 1 << 20,
	}
}

// DefaultClient returns the client defaults.
func DefaultClient() Client {
	return Client{
		HubURL:      "ws://localhost:8080/ws",
		ExecuteURL:  "",
		Language:    "python3",
		LogLevel:    "warn",
		Debounce:    100 * time.Millisecond,
		JoinRetries: 5,
	}
}

// LoadDotEnv loads path (".env" when empty) if it exists.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}

	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}

	return nil
}

// LoadHub reads the hub settings.
func LoadHub() (Hub, error) {
	cfg := DefaultHub()

	var err error

	cfg.Addr = envOr(EnvAddr, cfg.Addr)
	cfg.LogLevel = envOr(EnvLogLevel, cfg.LogLevel)

	if cfg.PingInterval, err = envOrDuration(EnvPingInterval, cfg.PingInterval); err != nil {
		return Hub{}, err
	}

	if cfg.PongWait, err = envOrDuration(EnvPongWait, cfg.PongWait); err != nil {
		return Hub{}, err
	}

	if cfg.MaxMessageBytes, err = envOrInt(EnvMaxMessageBytes, cfg.MaxMessageBytes); err != nil {
		return Hub{}, err
	}

	if cfg.Advertise, err = envOrBool(EnvAdvertise, cfg.Advertise); err != nil {
		return Hub{}, err
	}

	if cfg.PingInterval >= cfg.PongWait {
		return Hub{}, fmt.Errorf("%w: %s must be shorter than %s", ErrInvalid, EnvPingInterval, EnvPongWait)
	}

	return cfg, nil
}

// LoadClient reads the client settings.
func LoadClient() (Client, error) {
	cfg := DefaultClient()

	var err error

	cfg.HubURL = envOr(EnvHubURL, cfg.HubURL)
	cfg.ExecuteURL = envOr(EnvExecuteURL, cfg.ExecuteURL)
	cfg.Language = envOr(EnvLanguage, cfg.Language)
	cfg.LogLevel = envOr(EnvLogLevel, cfg.LogLevel)

	if cfg.Debounce, err = envOrDuration(EnvDebounce, cfg.Debounce); err != nil {
		return Client{}, err
	}

	retries, err := envOrInt(EnvJoinRetries, int64(cfg.JoinRetries))
	if err != nil {
		return Client{}, err
	}

	if retries < 0 {
		return Client{}, fmt.Errorf("%w: %s must not be negative", ErrInvalid, EnvJoinRetries)
	}

	cfg.JoinRetries = uint64(retries)

	return cfg, nil
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}

	return value
}

func envOrInt(key string, fallback int64) (int64, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}

	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalid, key, value)
	}

	return parsed, nil
}

func envOrBool(key string, fallback bool) (bool, error) {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if value == "" {
		return fallback, nil
	}

	switch value {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s=%q", ErrInvalid, key, value)
	}
}

func envOrDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalid, key, value)
	}

	return parsed, nil
}
