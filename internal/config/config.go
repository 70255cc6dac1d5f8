package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment  string
	HTTPPort     string
	DatabasePath string
	FrontendDir  string

	// JWTSecret signs session tokens. Generated per-boot when unset, which
	// invalidates sessions on restart; set it explicitly in production.
	JWTSecret string

	// RecoveryTokenHash is the bcrypt hash of the out-of-band emergency
	// recovery token. Empty means the recovery endpoint is disabled.
	RecoveryTokenHash string

	// AlertURLs is a comma-separated list of shoutrrr URLs that receive
	// security-event notifications. Empty disables external alerting.
	AlertURLs []string
}

// Load reads env vars and falls back to defaults so the server can boot with zero configuration.
func Load() (Config, error) {
	cfg := Config{
		Environment:       getEnv("GATEHOUSE_ENV", "development"),
		HTTPPort:          getEnv("GATEHOUSE_HTTP_PORT", "8080"),
		DatabasePath:      getEnv("GATEHOUSE_DB_PATH", filepath.Join("data", "gatehouse.db")),
		FrontendDir:       getEnv("GATEHOUSE_FRONTEND_DIR", filepath.Clean(filepath.Join("..", "frontend", "dist"))),
		JWTSecret:         getEnv("GATEHOUSE_JWT_SECRET", ""),
		RecoveryTokenHash: getEnv("GATEHOUSE_RECOVERY_TOKEN_HASH", ""),
	}

	if urls := os.Getenv("GATEHOUSE_ALERT_URLS"); urls != "" {
		for _, u := range strings.Split(urls, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.AlertURLs = append(cfg.AlertURLs, u)
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

// IsProduction reports whether the server runs in production mode.
func (c Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}
