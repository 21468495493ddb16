// Package config loads runtime settings from the environment, optionally
// seeded from an env file in the user's config directory.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	AppName     = "listing-agent"
	EnvFileName = "config.env"
)

// Analysis backends.
const (
	BackendService = "service"
	BackendGemini  = "gemini"
)

// RequiredEnvVars must be set for the agent to run.
var RequiredEnvVars = []string{"LISTING_SERVICE_URL", "ELEVENLABS_AGENT_ID", "LISTING_STORE_KEY"}

// envOrder is the order variables are written to the env file.
var envOrder = []string{
	"LISTING_SERVICE_URL",
	"ELEVENLABS_AGENT_ID",
	"ELEVENLABS_API_KEY",
	"ANALYSIS_BACKEND",
	"GEMINI_API_KEY",
	"LISTING_DB_PATH",
	"LISTING_STORE_KEY",
	"GCS_BUCKET",
	"MEDIA_DIR",
	"MEDIA_BASE_URL",
	"TELEGRAM_BOT_TOKEN",
	"TELEGRAM_CHAT_ID",
	"MIC_COMMAND",
	"PLAYER_COMMAND",
	"HTTP_TIMEOUT",
}

type Config struct {
	ListingServiceURL string
	AgentID           string
	ElevenLabsAPIKey  string
	AnalysisBackend   string
	GeminiAPIKey      string
	DBPath            string
	StoreKey          string
	GCSBucket         string
	MediaDir          string
	MediaBaseURL      string
	TelegramBotToken  string
	TelegramChatID    int64
	MicCommand        string
	PlayerCommand     string
	// HTTPTimeout bounds listing service requests. Zero uses the client
	// default.
	HTTPTimeout time.Duration
}

// Dir returns the application's config directory path.
// Creates the directory if it doesn't exist.
func Dir() (string, error) {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}

	configDir := filepath.Join(configBase, AppName)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// FilePath returns the full path to the env file.
func FilePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, EnvFileName), nil
}

// LoadEnvFile loads environment variables from the config file in the user's
// config directory. Errors are ignored since the file may not exist.
// Variables already set in the environment win.
func LoadEnvFile() {
	path, err := FilePath()
	if err != nil {
		return
	}
	_ = godotenv.Load(path)
}

// Missing returns the names of required variables that are not set.
func Missing() []string {
	var missing []string
	for _, v := range RequiredEnvVars {
		if strings.TrimSpace(os.Getenv(v)) == "" {
			missing = append(missing, v)
		}
	}
	return missing
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		ListingServiceURL: strings.TrimRight(os.Getenv("LISTING_SERVICE_URL"), "/"),
		AgentID:           os.Getenv("ELEVENLABS_AGENT_ID"),
		ElevenLabsAPIKey:  os.Getenv("ELEVENLABS_API_KEY"),
		AnalysisBackend:   strings.ToLower(os.Getenv("ANALYSIS_BACKEND")),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		DBPath:            os.Getenv("LISTING_DB_PATH"),
		StoreKey:          os.Getenv("LISTING_STORE_KEY"),
		GCSBucket:         os.Getenv("GCS_BUCKET"),
		MediaDir:          os.Getenv("MEDIA_DIR"),
		MediaBaseURL:      os.Getenv("MEDIA_BASE_URL"),
		TelegramBotToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		MicCommand:        os.Getenv("MIC_COMMAND"),
		PlayerCommand:     os.Getenv("PLAYER_COMMAND"),
	}

	if missing := Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	if _, err := url.ParseRequestURI(cfg.ListingServiceURL); err != nil {
		return nil, fmt.Errorf("LISTING_SERVICE_URL is not a valid URL: %w", err)
	}

	switch cfg.AnalysisBackend {
	case "":
		cfg.AnalysisBackend = BackendService
	case BackendService:
	case BackendGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required when ANALYSIS_BACKEND=%s", BackendGemini)
		}
	default:
		return nil, fmt.Errorf("ANALYSIS_BACKEND must be %q or %q, got %q", BackendService, BackendGemini, cfg.AnalysisBackend)
	}

	if cfg.DBPath == "" {
		cfg.DBPath = "listings.db"
	}
	if cfg.MediaDir == "" {
		cfg.MediaDir = "media"
	}

	if s := os.Getenv("TELEGRAM_CHAT_ID"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGRAM_CHAT_ID must be a valid integer: %w", err)
		}
		cfg.TelegramChatID = id
	}
	if (cfg.TelegramBotToken == "") != (cfg.TelegramChatID == 0) {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}

	if s := os.Getenv("HTTP_TIMEOUT"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("HTTP_TIMEOUT must be a positive duration such as 2m: %q", s)
		}
		cfg.HTTPTimeout = d
	}

	return cfg, nil
}

// WriteEnvFile writes values to path in a stable order, quoting values
// to handle special characters. Uses restrictive permissions (0600) since
// the file contains secrets.
func WriteEnvFile(path string, values map[string]string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	for _, key := range envOrder {
		if val, ok := values[key]; ok && val != "" {
			if _, err := fmt.Fprintf(f, "%s=%q\n", key, val); err != nil {
				return fmt.Errorf("failed to write %s: %w", key, err)
			}
		}
	}
	return nil
}
