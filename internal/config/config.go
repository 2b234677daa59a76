// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all FileDepot server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL string

	// Blob storage
	BaseDir string

	// Quotas: per-owner upper bound on the sum of owned file sizes,
	// trash included.
	StorageLimit int64

	// File access tokens
	FileTokenSecret   string
	FileTokenValidity time.Duration

	// API auth
	JWTSecret string

	// Uploads
	MaxUploadSize int64
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:        envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:       envOr("METRICS_ADDR", ":9090"),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		LogFormat:         envOr("LOG_FORMAT", "json"),
		DatabaseURL:       envOr("DATABASE_URL", ""),
		BaseDir:           envOr("BASE_DIR", "/data/blobs"),
		StorageLimit:      envInt64("STORAGE_LIMIT", 1024*1024*1024), // 1GB per owner
		FileTokenSecret:   envOr("FILE_TOKEN_SECRET", ""),
		FileTokenValidity: time.Duration(envInt64("FILE_TOKEN_VALIDITY", 600)) * time.Second,
		JWTSecret:         envOr("JWT_SECRET", ""),
		MaxUploadSize:     envInt64("MAX_UPLOAD_SIZE", 100*1024*1024), // 100MB
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.FileTokenSecret == "" {
		return nil, fmt.Errorf("FILE_TOKEN_SECRET is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.StorageLimit <= 0 {
		return nil, fmt.Errorf("STORAGE_LIMIT must be positive")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
