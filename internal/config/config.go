// Package config resolves the coordinator's environment-variable surface
// (spec.md §6 "Environment configuration") into a validated Config. Unlike
// the teacher's flag-driven internal/hub/config (a developer-run desktop
// companion), c3po is a server process addressed purely by env vars, so
// there are no flags here beyond an optional .env path — the same load
// shape codeready-toolchain-tarsy's cmd/tarsy/main.go uses for godotenv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the coordinator's runtime configuration, one field per
// spec.md §6 environment variable.
type Config struct {
	StoreURL  string // path to the SQLite database file (":memory:" for tests)
	Port      string
	BindHost  string

	ServerSecret     string
	AdminKey         string
	ProxyBearerToken string

	BehindProxy bool
	CACertPath  string

	HeartbeatTTL time.Duration
	MessageTTL   time.Duration
}

// DefaultHeartbeatTTL and DefaultMessageTTL are spec.md's defaults: an
// agent is online within 90s of its last heartbeat, and an inbox entry
// expires after 24h (spec.md §4.2 "Expiration").
const (
	DefaultHeartbeatTTL = 90 * time.Second
	DefaultMessageTTL   = 24 * time.Hour
	DefaultPort         = "4327"
	DefaultBindHost     = "0.0.0.0"
	DefaultStoreURL     = "c3po.db"
)

// Load reads the environment (optionally after loading a .env file at
// envPath, if non-empty and present) into a Config. It never fails on a
// missing .env file — that's the common case in production, where
// configuration is injected directly into the environment.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", envPath, err)
		}
	}

	heartbeatTTL, err := durationEnv("HEARTBEAT_TTL", DefaultHeartbeatTTL)
	if err != nil {
		return nil, err
	}
	messageTTL, err := durationEnv("MESSAGE_TTL", DefaultMessageTTL)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		StoreURL:         getEnv("STORE_URL", DefaultStoreURL),
		Port:             getEnv("PORT", DefaultPort),
		BindHost:         getEnv("BIND_HOST", DefaultBindHost),
		ServerSecret:     os.Getenv("SERVER_SECRET"),
		AdminKey:         os.Getenv("ADMIN_KEY"),
		ProxyBearerToken: os.Getenv("PROXY_BEARER_TOKEN"),
		BehindProxy:      boolEnv("BEHIND_PROXY"),
		CACertPath:       os.Getenv("CA_CERT_PATH"),
		HeartbeatTTL:     heartbeatTTL,
		MessageTTL:       messageTTL,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if c.HeartbeatTTL <= 0 {
		return fmt.Errorf("HEARTBEAT_TTL must be positive")
	}
	if c.MessageTTL <= 0 {
		return fmt.Errorf("MESSAGE_TTL must be positive")
	}
	return nil
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return c.BindHost + ":" + c.Port
}

// DevMode reports whether all three auth secrets are unset, per spec.md
// §4.3's "When C3PO_SERVER_SECRET, C3PO_ADMIN_KEY, and
// C3PO_PROXY_BEARER_TOKEN are all absent, dev mode applies."
func (c *Config) DevMode() bool {
	return c.ServerSecret == "" && c.AdminKey == "" && c.ProxyBearerToken == ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func boolEnv(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return false
	}
	return v
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: expected an integer number of seconds, got %q", key, raw)
	}
	return time.Duration(seconds) * time.Second, nil
}
