package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                   string `yaml:"port"`
	LogLevel               string `yaml:"logLevel"`
	DatabaseURL            string `yaml:"databaseURL"`
	RedisAddr              string `yaml:"redisAddr"`
	RedisPassword          string `yaml:"redisPassword"`
	AIServerURL            string `yaml:"aiServerURL"`
	RelayTimeout           string `yaml:"relayTimeout"`
	IdentityJWKSURL        string `yaml:"identityJwksURL"`
	IdentityIssuer         string `yaml:"identityIssuer"`
	IdentityAudience       string `yaml:"identityAudience"`
	CookieSecure           bool   `yaml:"cookieSecure"`
	ChatRateLimitPerMinute int    `yaml:"chatRateLimitPerMinute"`
}

// Load reads config from path (defaults to config.yaml) and applies
// environment overrides.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("PLANNER_PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("PLANNER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("AI_SERVER_URL"); v != "" {
		cfg.AIServerURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("PLANNER_RELAY_TIMEOUT"); v != "" {
		cfg.RelayTimeout = strings.TrimSpace(v)
	}
	if v := os.Getenv("PLANNER_IDENTITY_JWKS_URL"); v != "" {
		cfg.IdentityJWKSURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("PLANNER_IDENTITY_ISSUER"); v != "" {
		cfg.IdentityIssuer = strings.TrimSpace(v)
	}
	if v := os.Getenv("PLANNER_IDENTITY_AUDIENCE"); v != "" {
		cfg.IdentityAudience = strings.TrimSpace(v)
	}
	if v := os.Getenv("PLANNER_COOKIE_SECURE"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.CookieSecure = b
		}
	}
	if v := os.Getenv("PLANNER_CHAT_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.ChatRateLimitPerMinute = n
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.AIServerURL) == "" {
		return errors.New("config: aiServerURL is required (set in config.yaml or AI_SERVER_URL)")
	}
	if strings.TrimSpace(cfg.IdentityJWKSURL) == "" {
		return errors.New("config: identityJwksURL is required (set in config.yaml or PLANNER_IDENTITY_JWKS_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for chat rate limiting")
	}
	if cfg.ChatRateLimitPerMinute < 0 {
		return errors.New("config: chatRateLimitPerMinute must be >= 0")
	}
	return nil
}

// ParseRelayTimeout parses the optional upstream relay deadline.
func ParseRelayTimeout(raw string) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid relayTimeout duration: %w", err)
	}
	return dur, nil
}
