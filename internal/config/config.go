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

// Config contains all runtime settings for the lead-capture chat service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	SessionTTL       time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool
	// AdminToken guards the lead history routes. Empty leaves them unmounted.
	AdminToken string

	LogLevel  string
	LogFormat string

	SessionStore string
	RedisURL     string

	DatabaseURL string

	TextGenMode       string
	TextGenHTTPURL    string
	TextGenTimeout    time.Duration
	TextGenMaxRetries int

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	MaxAssistantTurns int
	MaxStepsPerTurn   int
}

// Load reads an optional dotenv file, then environment variables, and applies safe defaults.
func Load() (Config, error) {
	if err := loadEnvFile(envOrDefault("APP_ENV_FILE", ".env")); err != nil {
		return Config{}, err
	}

	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "leadbot"),
		AllowAnyOrigin:    false,
		AdminToken:        stringsTrimSpace("APP_ADMIN_TOKEN"),
		LogLevel:          envOrDefault("APP_LOG_LEVEL", "info"),
		LogFormat:         envOrDefault("APP_LOG_FORMAT", "json"),
		SessionStore:      strings.ToLower(envOrDefault("SESSION_STORE", "memory")),
		RedisURL:          stringsTrimSpace("REDIS_URL"),
		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
		TextGenMode:       strings.ToLower(envOrDefault("TEXTGEN_MODE", "auto")),
		TextGenHTTPURL:    stringsTrimSpace("TEXTGEN_HTTP_URL"),
		TextGenMaxRetries: 2,
		OpenAIAPIKey:      stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:     stringsTrimSpace("OPENAI_BASE_URL"),
		OpenAIModel:       envOrDefault("OPENAI_MODEL", "gpt-3.5-turbo"),
		MaxAssistantTurns: 10,
		MaxStepsPerTurn:   8,
		ShutdownTimeout:   15 * time.Second,
		SessionTTL:        30 * time.Minute,
		TextGenTimeout:    30 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTTL, err = durationFromEnv("APP_SESSION_TTL", cfg.SessionTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.TextGenTimeout, err = durationFromEnv("TEXTGEN_TIMEOUT", cfg.TextGenTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TextGenMaxRetries, err = intFromEnv("TEXTGEN_MAX_RETRIES", cfg.TextGenMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxAssistantTurns, err = intFromEnv("CONVERSATION_MAX_ASSISTANT_TURNS", cfg.MaxAssistantTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxStepsPerTurn, err = intFromEnv("CONVERSATION_MAX_STEPS", cfg.MaxStepsPerTurn)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionTTL < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_TTL must be at least 5s")
	}
	if cfg.TextGenTimeout <= 0 {
		return Config{}, fmt.Errorf("TEXTGEN_TIMEOUT must be positive")
	}
	if cfg.TextGenMaxRetries < 0 {
		return Config{}, fmt.Errorf("TEXTGEN_MAX_RETRIES must be >= 0")
	}
	if cfg.MaxAssistantTurns <= 0 {
		return Config{}, fmt.Errorf("CONVERSATION_MAX_ASSISTANT_TURNS must be positive")
	}
	// The longest silent chain is determine_intent -> validate_user_info -> get_name -> validate_user_info.
	if cfg.MaxStepsPerTurn < 4 {
		return Config{}, fmt.Errorf("CONVERSATION_MAX_STEPS must be at least 4")
	}
	switch cfg.SessionStore {
	case "memory":
	case "redis":
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL is required when SESSION_STORE=redis")
		}
	default:
		return Config{}, fmt.Errorf("invalid SESSION_STORE: %q (expected memory|redis)", cfg.SessionStore)
	}

	return cfg, nil
}

func loadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	// godotenv never overrides variables that are already set.
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
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
