// Package config loads assistant settings from YAML with ASSISTANT_* overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "assistant.yaml"

// Config is the full application configuration.
type Config struct {
	Server    Server    `yaml:"server"`
	Upstream  Upstream  `yaml:"upstream"`
	Client    Client    `yaml:"client"`
	Voice     Voice     `yaml:"voice"`
	Log       Log       `yaml:"log"`
	Telemetry Telemetry `yaml:"telemetry"`
}

// Server configures the backend (auth, rows, functions).
type Server struct {
	Host                   string `yaml:"host"`
	Port                   string `yaml:"port"`
	Database               string `yaml:"database"`
	JWTSecret              string `yaml:"jwt_secret"`
	JWTIssuer              string `yaml:"jwt_issuer"`
	AccessTokenTTL         string `yaml:"access_token_ttl"`
	RefreshTokenTTL        string `yaml:"refresh_token_ttl"`
	RefreshStore           string `yaml:"refresh_store"` // gorm or redis
	RedisAddr              string `yaml:"redis_addr"`
	RedisPassword          string `yaml:"redis_password"`
	ChatRateLimitPerMinute int    `yaml:"chat_rate_limit_per_minute"`
}

// Upstream is the OpenAI-compatible completion endpoint the chat function relays.
type Upstream struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// Client configures the terminal client.
type Client struct {
	BaseURL   string `yaml:"base_url"`
	StatePath string `yaml:"state_path"`
	ClientID  string `yaml:"client_id"`
}

// Voice names the external commands backing speech and notifications.
type Voice struct {
	STTCommand    string `yaml:"stt_command"`
	TTSCommand    string `yaml:"tts_command"`
	NotifyCommand string `yaml:"notify_command"`
}

// Log configures the process logger.
type Log struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Telemetry toggles OpenTelemetry export.
type Telemetry struct {
	Enabled   bool   `yaml:"enabled"`
	TraceFile string `yaml:"trace_file"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Server: Server{
			Host:            "127.0.0.1",
			Port:            "8080",
			Database:        "assistant.db",
			JWTIssuer:       "assistant",
			AccessTokenTTL:  "1h",
			RefreshTokenTTL: "720h",
			RefreshStore:    "gorm",
		},
		Upstream: Upstream{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: "180s",
		},
		Client: Client{
			BaseURL:   "http://127.0.0.1:8080",
			StatePath: defaultStatePath(),
			ClientID:  "assistant-cli",
		},
		Voice: Voice{
			TTSCommand:    "espeak",
			NotifyCommand: "notify-send",
		},
		Log: Log{Level: "info"},
		Telemetry: Telemetry{
			TraceFile: filepath.Join("logs", "assistant_traces.log"),
		},
	}
}

// Load reads path (DefaultPath when empty) over Default and applies env overrides.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Host, "ASSISTANT_HOST")
	setString(&cfg.Server.Port, "ASSISTANT_PORT")
	setString(&cfg.Server.Database, "ASSISTANT_DATABASE")
	setString(&cfg.Server.JWTSecret, "ASSISTANT_JWT_SECRET")
	setString(&cfg.Server.RefreshStore, "ASSISTANT_REFRESH_STORE")
	setString(&cfg.Server.RedisAddr, "ASSISTANT_REDIS_ADDR")
	setString(&cfg.Server.RedisPassword, "ASSISTANT_REDIS_PASSWORD")
	if v := os.Getenv("ASSISTANT_CHAT_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.Server.ChatRateLimitPerMinute = n
		}
	}
	setString(&cfg.Upstream.BaseURL, "ASSISTANT_UPSTREAM_BASE_URL")
	setString(&cfg.Upstream.APIKey, "ASSISTANT_UPSTREAM_API_KEY")
	setString(&cfg.Upstream.Model, "ASSISTANT_UPSTREAM_MODEL")
	setString(&cfg.Client.BaseURL, "ASSISTANT_BASE_URL")
	setString(&cfg.Client.StatePath, "ASSISTANT_STATE_PATH")
	setString(&cfg.Log.Level, "ASSISTANT_LOG_LEVEL")
	setString(&cfg.Log.File, "ASSISTANT_LOG_FILE")
	if v := os.Getenv("ASSISTANT_TELEMETRY"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.Telemetry.Enabled = b
		}
	}
}

func setString(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}

// Duration parses value, returning def when it is empty or invalid.
func Duration(value string, def time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Addr is the listen address of the server.
func (s Server) Addr() string {
	return s.Host + ":" + s.Port
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "assistant-state.db"
	}
	return filepath.Join(home, ".assistant", "state.db")
}
