package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr        string
	DatabaseURL string
	Environment string

	// PublicBaseURL is the externally reachable origin used when
	// building download links sent to requestors.
	PublicBaseURL string

	// AuthSecret verifies bearer tokens issued by the upstream auth layer.
	AuthSecret string
	// MasterSecret seeds the export encryption key and the download-token
	// signing key via HKDF. Required in production.
	MasterSecret string

	ExportDir          string
	ExportRetention    time.Duration
	DownloadTokenTTL   time.Duration
	EncryptExports     bool
	RequestSLA         time.Duration
	ProcessTimeout     time.Duration
	CleanupInterval    time.Duration
	ComplianceInterval time.Duration
	ExpireOverdue      bool

	EmailFrom    string
	EmailEnabled bool
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPUseTLS   bool

	MaxBodyBytes   int64
	MetricsEnabled bool
}

func Load() Config {
	return Config{
		Addr:               getEnv("APP_ADDR", ":8080"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		Environment:        getEnv("APP_ENV", "development"),
		PublicBaseURL:      getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		AuthSecret:         getEnv("AUTH_SECRET", ""),
		MasterSecret:       getEnv("MASTER_SECRET", ""),
		ExportDir:          getEnv("EXPORT_DIR", "storage/exports"),
		ExportRetention:    getEnvDuration("EXPORT_RETENTION", 30*24*time.Hour),
		DownloadTokenTTL:   getEnvDuration("DOWNLOAD_TOKEN_TTL", 24*time.Hour),
		EncryptExports:     getEnvBool("ENCRYPT_EXPORTS", true),
		RequestSLA:         getEnvDuration("REQUEST_SLA", 30*24*time.Hour),
		ProcessTimeout:     getEnvDuration("PROCESS_TIMEOUT", 2*time.Minute),
		CleanupInterval:    getEnvDuration("CLEANUP_INTERVAL", time.Hour),
		ComplianceInterval: getEnvDuration("COMPLIANCE_INTERVAL", 24*time.Hour),
		ExpireOverdue:      getEnvBool("EXPIRE_OVERDUE_REQUESTS", false),
		EmailFrom:          getEnv("EMAIL_FROM", "no-reply@example.com"),
		EmailEnabled:       getEnvBool("EMAIL_ENABLED", false),
		SMTPHost:           getEnv("SMTP_HOST", ""),
		SMTPPort:           getEnvInt("SMTP_PORT", 587),
		SMTPUser:           getEnv("SMTP_USER", ""),
		SMTPPassword:       getEnv("SMTP_PASSWORD", ""),
		SMTPUseTLS:         getEnvBool("SMTP_USE_TLS", true),
		MaxBodyBytes:       int64(getEnvInt("MAX_BODY_BYTES", 1048576)),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Environment == "production" {
		if strings.TrimSpace(c.AuthSecret) == "" {
			return fmt.Errorf("AUTH_SECRET must be set to a strong value in production")
		}
		if strings.TrimSpace(c.MasterSecret) == "" {
			return fmt.Errorf("MASTER_SECRET must be set in production for export encryption and download tokens")
		}
	}
	if c.MaxBodyBytes < 1024 {
		return fmt.Errorf("MAX_BODY_BYTES must be at least 1024")
	}
	if c.ExportRetention <= 0 {
		return fmt.Errorf("EXPORT_RETENTION must be positive")
	}
	if c.DownloadTokenTTL <= 0 {
		return fmt.Errorf("DOWNLOAD_TOKEN_TTL must be positive")
	}
	if c.RequestSLA <= 0 {
		return fmt.Errorf("REQUEST_SLA must be positive")
	}
	if c.EmailEnabled && c.SMTPHost == "" {
		return fmt.Errorf("SMTP_HOST must be set when EMAIL_ENABLED is true")
	}
	return nil
}
