package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Target selects which binary's requirements Validate enforces.
type Target int

const (
	TargetBot Target = iota
	TargetWeb
	TargetCLI
)

type Config struct {
	TelegramToken string
	GeminiAPIKey  string
	// BackendURL points at a ProductScene HTTP service. Empty means the
	// operations run in-process.
	BackendURL string

	LogLevel string
	Debug    bool

	PreferIPv4 bool

	MediaGroupDebounce time.Duration
	MaxConcurrent      int
	RequestTimeout     time.Duration
	HTTPTimeout        time.Duration
	GeminiBaseURL      string
	GeminiAPIVersion   string

	MaxUploadBytes int64
	AssetTTL       time.Duration
	SessionIdle    time.Duration
	AssetDir       string
	WebAddr        string
	Narration      bool
	UseConsultant  bool
}

func Load() Config {
	cfg := Config{
		TelegramToken:      strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		GeminiAPIKey:       strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		BackendURL:         strings.TrimRight(getEnv("BACKEND_URL", ""), "/"),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Debug:              getEnvBool("DEBUG", false),
		PreferIPv4:         getEnvBool("PREFER_IPV4", true),
		MediaGroupDebounce: getEnvDuration("MEDIA_GROUP_DEBOUNCE_MS", 1200*time.Millisecond, time.Millisecond),
		MaxConcurrent:      getEnvInt("MAX_CONCURRENT", 4),
		RequestTimeout:     getEnvDuration("REQUEST_TIMEOUT_SECONDS", 180*time.Second, time.Second),
		HTTPTimeout:        getEnvDuration("HTTP_TIMEOUT_SECONDS", 180*time.Second, time.Second),
		GeminiBaseURL:      getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		GeminiAPIVersion:   getEnv("GEMINI_API_VERSION", "v1beta"),
		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_MB", 10)) << 20,
		AssetTTL:           getEnvDuration("ASSET_TTL_MINUTES", 30*time.Minute, time.Minute),
		SessionIdle:        getEnvDuration("SESSION_IDLE_MINUTES", 120*time.Minute, time.Minute),
		AssetDir:           getEnv("ASSET_DIR", "./data"),
		WebAddr:            getEnv("WEB_ADDR", ":8080"),
		Narration:          getEnvBool("NARRATION", true),
		UseConsultant:      getEnvBool("USE_AI_CONSULTANT", true),
	}

	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 180 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 180 * time.Second
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.AssetTTL < 0 {
		cfg.AssetTTL = 0
	}
	if cfg.SessionIdle <= 0 {
		cfg.SessionIdle = 120 * time.Minute
	}

	return cfg
}

// LocalBackend reports whether the operations run in this process.
func (c Config) LocalBackend() bool {
	return c.BackendURL == ""
}

func (c Config) Validate(t Target) error {
	switch {
	case t == TargetBot && c.TelegramToken == "":
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	case t == TargetWeb && c.GeminiAPIKey == "":
		return errors.New("GEMINI_API_KEY is required")
	case t != TargetWeb && c.LocalBackend() && c.GeminiAPIKey == "":
		return errors.New("GEMINI_API_KEY is required when BACKEND_URL is not set")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvDuration reads a bare number in unit, or a Go duration string.
func getEnvDuration(key string, fallback, unit time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * unit
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return fallback
}
