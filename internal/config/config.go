// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Admin authentication
	AdminUsername     string `koanf:"admin_username"`
	AdminPasswordHash string `koanf:"admin_password_hash"` // bcrypt hash of the admin password
	SessionSecret     string `koanf:"session_secret"`      // HMAC secret for admin session tokens
	SessionTTLHours   int    `koanf:"session_ttl_hours"`

	// Redis (optional; enables distributed rate limiting and its health check)
	RedisURL string `koanf:"redis_url"`

	// Evidence object storage (S3-compatible)
	EvidenceBucketName      string `koanf:"evidence_bucket_name"`
	EvidenceAccessKeyID     string `koanf:"evidence_access_key_id"`
	EvidenceSecretAccessKey string `koanf:"evidence_secret_access_key"`
	EvidenceEndpoint        string `koanf:"evidence_endpoint"`
	EvidenceMaxSizeMB       int    `koanf:"evidence_max_size_mb"`

	// Proof identifiers
	PublicIDLength int `koanf:"public_id_length"`

	// CORS (comma-separated origins; empty disables CORS handling)
	CORSAllowedOrigins string `koanf:"cors_allowed_origins"`

	// Tracing (optional; empty disables the OTLP exporter)
	OTLPEndpoint string `koanf:"otlp_endpoint"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL       = errors.New("DATABASE_URL is required")
	ErrMissingAdminPasswordHash = errors.New("ADMIN_PASSWORD_HASH is required")
	ErrMissingSessionSecret     = errors.New("SESSION_SECRET is required")
	ErrMissingEvidenceBucket    = errors.New("EVIDENCE_BUCKET_NAME is required")
	ErrMissingEvidenceAccessKey = errors.New("EVIDENCE_ACCESS_KEY_ID is required")
	ErrMissingEvidenceSecretKey = errors.New("EVIDENCE_SECRET_ACCESS_KEY is required")
	ErrMissingEvidenceEndpoint  = errors.New("EVIDENCE_ENDPOINT is required")
	ErrInvalidPort              = errors.New("PORT must be a valid integer")
	ErrInvalidPublicIDLength    = errors.New("PUBLIC_ID_LENGTH must be between 4 and 32")
)

// Default values for non-secret configuration.
const (
	DefaultPort              = 8080
	DefaultEnv               = "development"
	DefaultAdminUsername     = "admin"
	DefaultSessionTTLHours   = 8
	DefaultEvidenceMaxSizeMB = 10
	DefaultPublicIDLength    = 6
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefault("PORT", k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	sessionTTL, ttlErr := getEnvIntOrDefault("SESSION_TTL_HOURS", k.Int("session_ttl_hours"), DefaultSessionTTLHours)
	if ttlErr != nil {
		loadErrs = append(loadErrs, ttlErr)
	}

	maxSize, sizeErr := getEnvIntOrDefault("EVIDENCE_MAX_SIZE_MB", k.Int("evidence_max_size_mb"), DefaultEvidenceMaxSizeMB)
	if sizeErr != nil {
		loadErrs = append(loadErrs, sizeErr)
	}

	idLen, idLenErr := getEnvIntOrDefault("PUBLIC_ID_LENGTH", k.Int("public_id_length"), DefaultPublicIDLength)
	if idLenErr != nil {
		loadErrs = append(loadErrs, idLenErr)
	}

	cfg := &Config{
		Port:                    port,
		Env:                     getEnvOrDefault("RECEIPTLESS_ENV", k.String("env"), DefaultEnv),
		DatabaseURL:             getEnvOrDefault("DATABASE_URL", k.String("database_url"), ""),
		AdminUsername:           getEnvOrDefault("ADMIN_USERNAME", k.String("admin_username"), DefaultAdminUsername),
		AdminPasswordHash:       getEnvOrDefault("ADMIN_PASSWORD_HASH", k.String("admin_password_hash"), ""),
		SessionSecret:           getEnvOrDefault("SESSION_SECRET", k.String("session_secret"), ""),
		SessionTTLHours:         sessionTTL,
		RedisURL:                getEnvOrDefault("REDIS_URL", k.String("redis_url"), ""),
		EvidenceBucketName:      getEnvOrDefault("EVIDENCE_BUCKET_NAME", k.String("evidence_bucket_name"), ""),
		EvidenceAccessKeyID:     getEnvOrDefault("EVIDENCE_ACCESS_KEY_ID", k.String("evidence_access_key_id"), ""),
		EvidenceSecretAccessKey: getEnvOrDefault("EVIDENCE_SECRET_ACCESS_KEY", k.String("evidence_secret_access_key"), ""),
		EvidenceEndpoint:        getEnvOrDefault("EVIDENCE_ENDPOINT", k.String("evidence_endpoint"), ""),
		EvidenceMaxSizeMB:       maxSize,
		PublicIDLength:          idLen,
		CORSAllowedOrigins:      getEnvOrDefault("CORS_ALLOWED_ORIGINS", k.String("cors_allowed_origins"), ""),
		OTLPEndpoint:            getEnvOrDefault("OTLP_ENDPOINT", k.String("otlp_endpoint"), ""),
	}

	loadErrs = append(loadErrs, cfg.Validate()...)
	return cfg, loadErrs
}

// Validate checks that all required configuration values are present and sane.
// Returns a slice of all validation errors found (empty if the config is valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.AdminPasswordHash == "" {
		errs = append(errs, ErrMissingAdminPasswordHash)
	}
	if c.SessionSecret == "" {
		errs = append(errs, ErrMissingSessionSecret)
	}
	if c.EvidenceBucketName == "" {
		errs = append(errs, ErrMissingEvidenceBucket)
	}
	if c.EvidenceAccessKeyID == "" {
		errs = append(errs, ErrMissingEvidenceAccessKey)
	}
	if c.EvidenceSecretAccessKey == "" {
		errs = append(errs, ErrMissingEvidenceSecretKey)
	}
	if c.EvidenceEndpoint == "" {
		errs = append(errs, ErrMissingEvidenceEndpoint)
	}
	if c.PublicIDLength < 4 || c.PublicIDLength > 32 {
		errs = append(errs, ErrInvalidPublicIDLength)
	}

	return errs
}

// IsProduction reports whether the server is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// getEnvOrDefault returns the environment value if set, then the file value,
// then the default.
func getEnvOrDefault(envKey, fileValue, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fileValue != "" {
		return fileValue
	}
	return defaultValue
}

// getEnvIntOrDefault parses an integer from the environment with file and
// default fallbacks. A malformed environment value is reported as an error
// and the default is used.
func getEnvIntOrDefault(envKey string, fileValue, defaultValue int) (int, error) {
	if v := os.Getenv(envKey); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return defaultValue, fmt.Errorf("%s must be a valid integer, got %q", envKey, v)
		}
		return parsed, nil
	}
	if fileValue != 0 {
		return fileValue, nil
	}
	return defaultValue, nil
}
