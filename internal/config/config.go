package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Speech engine selections for SPEECH_ENGINE.
const (
	SpeechEngineAuto    = "auto"
	SpeechEngineRemote  = "remote"
	SpeechEngineCommand = "command"
	SpeechEngineMock    = "mock"
)

// Config contains all runtime settings for the chat service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	LogLevel   string
	LogConsole bool

	SpeechEngine      string
	SpeechCommand     string
	SpeechLanguage    string
	SpeechChunkMax    int
	SpeechSettleDelay time.Duration
	SpeechDefaultRate float64

	ReplyDelayMin time.Duration
	ReplyDelayMax time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "silentchat"),
		AllowAnyOrigin:           false,
		LogLevel:                 envOrDefault("LOG_LEVEL", "info"),
		SpeechEngine:             strings.ToLower(envOrDefault("SPEECH_ENGINE", SpeechEngineAuto)),
		SpeechCommand:            stringsTrimSpace("SPEECH_COMMAND"),
		SpeechLanguage:           envOrDefault("SPEECH_LANGUAGE", "en"),
		SpeechChunkMax:           150,
		SpeechSettleDelay:        150 * time.Millisecond,
		SpeechDefaultRate:        1.0,
		ReplyDelayMin:            1500 * time.Millisecond,
		ReplyDelayMax:            3500 * time.Millisecond,
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 30 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.LogConsole, err = boolFromEnv("LOG_CONSOLE", cfg.LogConsole)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechChunkMax, err = intFromEnv("SPEECH_CHUNK_MAX", cfg.SpeechChunkMax)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechSettleDelay, err = durationFromEnv("SPEECH_SETTLE_DELAY", cfg.SpeechSettleDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechDefaultRate, err = floatFromEnv("SPEECH_DEFAULT_RATE", cfg.SpeechDefaultRate)
	if err != nil {
		return Config{}, err
	}
	cfg.ReplyDelayMin, err = durationFromEnv("REPLY_DELAY_MIN", cfg.ReplyDelayMin)
	if err != nil {
		return Config{}, err
	}
	cfg.ReplyDelayMax, err = durationFromEnv("REPLY_DELAY_MAX", cfg.ReplyDelayMax)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	switch cfg.SpeechEngine {
	case SpeechEngineAuto, SpeechEngineRemote, SpeechEngineCommand, SpeechEngineMock:
	default:
		return Config{}, fmt.Errorf("SPEECH_ENGINE must be one of auto, remote, command, mock (got %q)", cfg.SpeechEngine)
	}
	if cfg.SpeechChunkMax <= 0 {
		return Config{}, fmt.Errorf("SPEECH_CHUNK_MAX must be positive")
	}
	if cfg.SpeechSettleDelay < 0 {
		return Config{}, fmt.Errorf("SPEECH_SETTLE_DELAY must be >= 0")
	}
	if cfg.SpeechDefaultRate < 0.5 || cfg.SpeechDefaultRate > 2 {
		return Config{}, fmt.Errorf("SPEECH_DEFAULT_RATE must be within 0.5..2.0")
	}
	if cfg.ReplyDelayMin < 0 {
		return Config{}, fmt.Errorf("REPLY_DELAY_MIN must be >= 0")
	}
	if cfg.ReplyDelayMax <= cfg.ReplyDelayMin {
		return Config{}, fmt.Errorf("REPLY_DELAY_MAX must be greater than REPLY_DELAY_MIN")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
