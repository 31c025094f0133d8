// Package config reads the server and CLI configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Backend names.
const (
	BackendBadger    = "badger"
	BackendFirestore = "firestore"
)

// Config holds every setting of cmd/server and cmd/veo.
type Config struct {
	Backend   string
	ProjectID string
	DataDir   string
	AuthDir   string
	Port      string

	SessionTTL time.Duration
	UndoWindow time.Duration
	// AuthRate is the sign-in requests per second allowed per client.
	AuthRate float64

	LineChannelToken  string
	LineChannelSecret string

	APIURL string
	Token  string
}

// LineEnabled reports whether the LINE webhook is configured.
func (c *Config) LineEnabled() bool {
	return c.LineChannelToken != "" && c.LineChannelSecret != ""
}

// LoadDotEnv loads .env into the environment. A missing file is not an error.
func LoadDotEnv(logger *slog.Logger, files ...string) {
	if err := godotenv.Load(files...); err != nil {
		logger.Debug("no .env file found")
	}
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Backend:           get("VEO_BACKEND", BackendBadger),
		ProjectID:         getenv("GOOGLE_CLOUD_PROJECT"),
		DataDir:           get("VEO_DATA_DIR", "./data"),
		Port:              get("PORT", "8080"),
		LineChannelToken:  getenv("LINE_CHANNEL_TOKEN"),
		LineChannelSecret: getenv("LINE_CHANNEL_SECRET"),
		APIURL:            get("VEO_API_URL", "http://localhost:8080"),
		Token:             getenv("VEO_TOKEN"),
	}
	cfg.AuthDir = get("VEO_AUTH_DIR", filepath.Join(cfg.DataDir, "auth"))

	var errs []error
	var err error
	if cfg.SessionTTL, err = time.ParseDuration(get("VEO_SESSION_TTL", "720h")); err != nil {
		errs = append(errs, fmt.Errorf("VEO_SESSION_TTL: %w", err))
	}
	if cfg.UndoWindow, err = time.ParseDuration(get("VEO_UNDO_WINDOW", "5s")); err != nil {
		errs = append(errs, fmt.Errorf("VEO_UNDO_WINDOW: %w", err))
	}
	if cfg.AuthRate, err = strconv.ParseFloat(get("VEO_AUTH_RATE", "1"), 64); err != nil {
		errs = append(errs, fmt.Errorf("VEO_AUTH_RATE: %w", err))
	}

	switch cfg.Backend {
	case BackendBadger:
	case BackendFirestore:
		if cfg.ProjectID == "" {
			errs = append(errs, errors.New("GOOGLE_CLOUD_PROJECT environment variable is required for the firestore backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("VEO_BACKEND: unknown backend %q", cfg.Backend))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
