package config

import (
	"fmt"
	"strings"
)

const (
	defaultListenAddr  = ":8080"
	defaultStorageRoot = "./data/objects"
	defaultSpoolRoot   = "./data/quarantine"
	defaultLogLevel    = "info"
	defaultLogFormat   = "console"
	defaultJWTSecret   = "change-me-jwt-secret"
	defaultJWTTTL      = "24h"
)

// RuntimeConfig carries the non-policy settings: where to listen, where
// bytes live, how to log, how reviewers authenticate.
type RuntimeConfig struct {
	AppEnv      string
	ListenAddr  string
	DatabaseURL string
	StorageRoot string
	SpoolRoot   string
	LogLevel    string
	LogFormat   string
	JWTSecret   string
	JWTTTL      string
}

func LoadRuntimeConfig() (*RuntimeConfig, error) {
	cfg := &RuntimeConfig{
		AppEnv:      strings.ToLower(strings.TrimSpace(getEnv("APP_ENV", "dev"))),
		ListenAddr:  strings.TrimSpace(getEnv("LISTEN_ADDR", defaultListenAddr)),
		DatabaseURL: strings.TrimSpace(getEnv("DATABASE_URL", "")),
		StorageRoot: strings.TrimSpace(getEnv("STORAGE_ROOT", defaultStorageRoot)),
		SpoolRoot:   strings.TrimSpace(getEnv("QUARANTINE_SPOOL_ROOT", defaultSpoolRoot)),
		LogLevel:    strings.TrimSpace(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:   strings.TrimSpace(getEnv("LOG_FORMAT", defaultLogFormat)),
		JWTSecret:   strings.TrimSpace(getEnv("JWT_SECRET", defaultJWTSecret)),
		JWTTTL:      strings.TrimSpace(getEnv("JWT_TTL", defaultJWTTTL)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.StorageRoot == "" || cfg.SpoolRoot == "" {
		return nil, fmt.Errorf("STORAGE_ROOT and QUARANTINE_SPOOL_ROOT must not be empty")
	}
	if isProdLike(cfg.AppEnv) && isEmptyOrDefault(cfg.JWTSecret, defaultJWTSecret) {
		return nil, fmt.Errorf("in prod/release JWT_SECRET must be set and not default")
	}
	return cfg, nil
}

func isProdLike(env string) bool {
	env = strings.ToLower(strings.TrimSpace(env))
	return env == "prod" || env == "production" || env == "release"
}

func isEmptyOrDefault(v, def string) bool {
	trimmed := strings.TrimSpace(v)
	return trimmed == "" || trimmed == def
}
