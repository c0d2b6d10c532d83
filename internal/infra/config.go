package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv        string
	Port          string
	WorkspacePath string
	ComfyUIURL    string
	FFmpegPath    string
	PresetDir     string

	RunCooldown time.Duration

	MaxRuns       int
	MaxAgeDays    int
	PruneSchedule string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. WORKSPACE_PATH is the only required key.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8189"),
		WorkspacePath:    os.Getenv("WORKSPACE_PATH"),
		ComfyUIURL:       getEnv("COMFYUI_URL", "http://127.0.0.1:8188"),
		FFmpegPath:       os.Getenv("FFMPEG_PATH"),
		PresetDir:        os.Getenv("PRESET_DIR"),
		RunCooldown:      time.Second * time.Duration(getEnvInt("RUN_COOLDOWN_SECONDS", 2)),
		MaxRuns:          getEnvInt("MAX_RUNS", 200),
		MaxAgeDays:       getEnvInt("MAX_AGE_DAYS", 30),
		PruneSchedule:    getEnv("PRUNE_SCHEDULE", "0 * * * *"),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.WorkspacePath == "" {
		return nil, fmt.Errorf("WORKSPACE_PATH is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
