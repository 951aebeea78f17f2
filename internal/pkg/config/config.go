package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment overrides; "__" separates nested keys,
// e.g. AUTONOM_BACKEND__BASE_URL.
const EnvPrefix = "AUTONOM_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Backend   BackendConfig   `koanf:"backend"`
	Polling   PollingConfig   `koanf:"polling"`
	Storage   StorageConfig   `koanf:"storage"`
	Telegram  TelegramConfig  `koanf:"telegram"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Log       LogConfig       `koanf:"log"`
}

type ServerConfig struct {
	Port    int            `koanf:"port"`
	APIKeys []APIKeyConfig `koanf:"api_keys"`
}

type APIKeyConfig struct {
	KeyHash     string `koanf:"key_hash"`
	Description string `koanf:"description"`
}

// BackendConfig points the console at the meal-ordering backend.
type BackendConfig struct {
	BaseURL   string            `koanf:"base_url"`
	Timeout   time.Duration     `koanf:"timeout"`
	Streaming bool              `koanf:"streaming"` // trigger plans through the SSE endpoint
	UserAgent string            `koanf:"user_agent"`
	Auth      BackendAuthConfig `koanf:"auth"`
}

// BackendAuthConfig enables signed service tokens when SigningKey is set.
type BackendAuthConfig struct {
	SigningKey string        `koanf:"signing_key"`
	Issuer     string        `koanf:"issuer"`
	Audience   string        `koanf:"audience"`
	TTL        time.Duration `koanf:"ttl"`
}

type PollingConfig struct {
	HistoryInterval    time.Duration `koanf:"history_interval"`
	SessionInterval    time.Duration `koanf:"session_interval"`
	ResumeDelay        time.Duration `koanf:"resume_delay"`
	CelebrationDisplay time.Duration `koanf:"celebration_display"` // 0 keeps the celebration until dismissed
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// TelegramConfig enables the Telegram notifier when BotToken is set.
type TelegramConfig struct {
	BotToken string `koanf:"bot_token"`
	ChatID   int64  `koanf:"chat_id"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

type LogConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
}

var defaults = map[string]any{
	"server.port":                 8080,
	"backend.base_url":            "http://localhost:8000",
	"backend.timeout":             "30s",
	"backend.user_agent":          "autonom-console/1.0",
	"backend.auth.issuer":         "autonom-console",
	"backend.auth.ttl":            "5m",
	"polling.history_interval":    "15s",
	"polling.session_interval":    "4s",
	"polling.resume_delay":        "4s",
	"polling.celebration_display": "10s",
	"storage.type":                "sqlite",
	"storage.sqlite.path":         "autonom-console.db",
	"telemetry.service_name":      "autonom-console",
	"log.level":                   "info",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (a missing file is fine), applies AUTONOM_ environment
// overrides and fills in defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Substitute environment variables in secrets
	cfg.Backend.Auth.SigningKey = substituteEnvVars(cfg.Backend.Auth.SigningKey)
	cfg.Telegram.BotToken = substituteEnvVars(cfg.Telegram.BotToken)
	cfg.Backend.BaseURL = substituteEnvVars(cfg.Backend.BaseURL)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the console cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	}
	if c.Polling.HistoryInterval <= 0 || c.Polling.SessionInterval <= 0 {
		errs = append(errs, errors.New("polling intervals must be positive"))
	}
	if c.Polling.ResumeDelay < 0 || c.Polling.CelebrationDisplay < 0 {
		errs = append(errs, errors.New("polling delays must not be negative"))
	}
	switch c.Storage.Type {
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			errs = append(errs, errors.New("storage.sqlite.path is required"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown storage.type %q", c.Storage.Type))
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("telegram.chat_id is required with telegram.bot_token"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel returns the configured log level.
func (l LogConfig) SlogLevel() slog.Level {
	level, _ := parseLevel(l.Level)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log.level %q", s)
	}
	return level, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
