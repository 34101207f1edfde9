package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"nanograph/internal/gemini"
)

type Config struct {
	GeminiAPIKey     string
	GeminiBaseURL    string
	GeminiAPIVersion string
	GeminiModel      string
	VerifyKey        bool

	LogLevel string
	Debug    bool

	PreferIPv4     bool
	RequestTimeout time.Duration
	HTTPTimeout    time.Duration

	WebAddr string

	TelegramToken      string
	MaxConcurrent      int
	MediaGroupDebounce time.Duration
	SessionIdleTimeout time.Duration

	Generation gemini.GenerationConfig
}

// Load reads the environment. The API key is optional here: the access gate
// decides what happens without one.
func Load() (Config, error) {
	cfg := Config{
		GeminiAPIKey:       strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiBaseURL:      strings.TrimSpace(getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com")),
		GeminiAPIVersion:   strings.TrimSpace(getEnv("GEMINI_API_VERSION", "v1beta")),
		GeminiModel:        strings.TrimSpace(getEnv("GEMINI_IMAGE_MODEL", gemini.DefaultModel)),
		VerifyKey:          getEnvBool("VERIFY_KEY", false),
		LogLevel:           strings.ToLower(strings.TrimSpace(getEnv("LOG_LEVEL", "info"))),
		Debug:              getEnvBool("DEBUG", false),
		PreferIPv4:         getEnvBool("PREFER_IPV4", true),
		RequestTimeout:     time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 240)) * time.Second,
		HTTPTimeout:        time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 180)) * time.Second,
		WebAddr:            strings.TrimSpace(getEnv("WEB_ADDR", ":8080")),
		TelegramToken:      strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		MaxConcurrent:      getEnvInt("MAX_CONCURRENT", 4),
		MediaGroupDebounce: time.Duration(getEnvInt("MEDIA_GROUP_DEBOUNCE_MS", 1200)) * time.Millisecond,
		SessionIdleTimeout: time.Duration(getEnvInt("SESSION_IDLE_TIMEOUT_MINUTES", 120)) * time.Minute,
		Generation:         loadGeneration(),
	}

	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 240 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 180 * time.Second
	}
	if cfg.MediaGroupDebounce <= 0 {
		cfg.MediaGroupDebounce = 1200 * time.Millisecond
	}
	if cfg.SessionIdleTimeout <= 0 {
		cfg.SessionIdleTimeout = 120 * time.Minute
	}

	if u, err := url.Parse(cfg.GeminiBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Config{}, fmt.Errorf("GEMINI_BASE_URL %q is not an http(s) URL", cfg.GeminiBaseURL)
	}

	return cfg, nil
}

// RequireTelegram validates the settings only the bot needs.
func (c Config) RequireTelegram() error {
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	return nil
}

func loadGeneration() gemini.GenerationConfig {
	cfg := gemini.DefaultGenerationConfig()
	if r, err := gemini.ParseAspectRatio(getEnv("DEFAULT_ASPECT_RATIO", string(cfg.AspectRatio))); err == nil {
		cfg.AspectRatio = r
	}
	if s, err := gemini.ParseImageSize(getEnv("DEFAULT_IMAGE_SIZE", string(cfg.ImageSize))); err == nil {
		cfg.ImageSize = s
	}
	cfg.GoogleSearch = getEnvBool("DEFAULT_GOOGLE_SEARCH", false)
	return cfg
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
