// Package config loads the broker's environment-driven configuration,
// per spec §6.4.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	envBaseURL       = "FT_BASE_URL"
	envControllerURL = "FT_CONTROLLER_URL"
	envDataPath      = "FT_API_DATA_PATH"
	envLogLevel      = "FT_LOG_LEVEL"
	envAuthTimeout   = "FT_AUTH_TIMEOUT"

	defaultBaseURL       = "http://localhost:3000"
	defaultControllerURL = "http://localhost:8000"
	defaultLogLevel      = "INFO"
	defaultAuthTimeout   = 900 * time.Second
)

// Config holds the broker's runtime configuration.
type Config struct {
	BaseURL       string
	ControllerURL string
	DataPath      string
	LogLevel      string
	AuthTimeout   time.Duration
}

// Load reads configuration from the environment, first attempting to
// populate it from a .env file in the working directory (best-effort,
// exactly as Pulse's own bootstrap does -- absence of the file is not
// an error).
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	return Config{
		BaseURL:       getEnv(envBaseURL, defaultBaseURL),
		ControllerURL: getEnv(envControllerURL, defaultControllerURL),
		DataPath:      getEnv(envDataPath, defaultDataPath()),
		LogLevel:      getEnv(envLogLevel, defaultLogLevel),
		AuthTimeout:   getEnvSeconds(envAuthTimeout, defaultAuthTimeout),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	seconds, err := strconv.Atoi(v)
	if err != nil || seconds <= 0 {
		log.Warn().Str("env", key).Str("value", v).Msg("invalid duration, using default")
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// defaultDataPath resolves the XDG data home fallback for FT_API_DATA_PATH.
func defaultDataPath() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "footron-api")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "footron-api")
	}
	return filepath.Join(home, ".local", "share", "footron-api")
}
