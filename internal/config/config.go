// Package config provides configuration loading and validation for the
// audit service. It uses koanf to merge environment variables with
// optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the audit service.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Scheduled chain verification
	VerifyInterval       time.Duration `koanf:"verify_interval"`
	VerifyWindowHours    int           `koanf:"verify_window_hours"`
	VerifyLimit          int           `koanf:"verify_limit"`
	SequenceCheckEnabled bool          `koanf:"sequence_check_enabled"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL    = errors.New("DATABASE_URL is required")
	ErrInvalidPort           = errors.New("PORT must be a valid integer")
	ErrInvalidVerifyWindow   = errors.New("VERIFY_WINDOW_HOURS must be at least 1")
	ErrInvalidVerifyLimit    = errors.New("VERIFY_LIMIT must be at least 1")
	ErrInvalidVerifyInterval = errors.New("VERIFY_INTERVAL must be a valid duration")
)

// Default values for non-secret configuration.
const (
	DefaultPort                 = 8080
	DefaultEnv                  = "development"
	DefaultVerifyInterval       = time.Hour
	DefaultVerifyWindowHours    = 24
	DefaultVerifyLimit          = 300
	DefaultSequenceCheckEnabled = true
)

// Load reads configuration from environment variables and an optional
// YAML file. Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if
// valid).
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefault("PORT", k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	windowHours, windowErr := getEnvIntOrDefault("VERIFY_WINDOW_HOURS", k.Int("verify_window_hours"), DefaultVerifyWindowHours)
	if windowErr != nil {
		loadErrs = append(loadErrs, windowErr)
	}

	limit, limitErr := getEnvIntOrDefault("VERIFY_LIMIT", k.Int("verify_limit"), DefaultVerifyLimit)
	if limitErr != nil {
		loadErrs = append(loadErrs, limitErr)
	}

	interval, intervalErr := getEnvDurationOrDefault("VERIFY_INTERVAL", k.Duration("verify_interval"), DefaultVerifyInterval)
	if intervalErr != nil {
		loadErrs = append(loadErrs, intervalErr)
	}

	sequenceCheck := DefaultSequenceCheckEnabled
	if k.Exists("sequence_check_enabled") {
		sequenceCheck = k.Bool("sequence_check_enabled")
	}
	if val := os.Getenv("SEQUENCE_CHECK_ENABLED"); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			sequenceCheck = true
		case "false", "0", "no", "off":
			sequenceCheck = false
		}
	}

	cfg := &Config{
		Port:                 port,
		Env:                  getEnvOrDefault("AUDIT_ENV", k.String("env"), DefaultEnv),
		DatabaseURL:          getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		VerifyInterval:       interval,
		VerifyWindowHours:    windowHours,
		VerifyLimit:          limit,
		SequenceCheckEnabled: sequenceCheck,
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)
	return cfg, errs
}

// Validate checks that all required configuration values are present
// and sane. Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.VerifyWindowHours < 1 {
		errs = append(errs, ErrInvalidVerifyWindow)
	}
	if c.VerifyLimit < 1 {
		errs = append(errs, ErrInvalidVerifyLimit)
	}
	return errs
}

// LogSummary returns a summary of the configuration suitable for
// logging. Secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                   fmt.Sprintf("%d", c.Port),
		"env":                    c.Env,
		"database_url":           maskDatabaseURL(c.DatabaseURL),
		"verify_interval":        c.VerifyInterval.String(),
		"verify_window_hours":    fmt.Sprintf("%d", c.VerifyWindowHours),
		"verify_limit":           fmt.Sprintf("%d", c.VerifyLimit),
		"sequence_check_enabled": fmt.Sprintf("%t", c.SequenceCheckEnabled),
	}
}

// getEnvOrKoanf returns the environment variable value if set, otherwise
// the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set,
// otherwise the koanf value, or default. Returns an error if the
// environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, err)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault returns the environment variable as a
// duration if set, otherwise the koanf value, or default.
func getEnvDurationOrDefault(envKey string, koanfVal time.Duration, defaultVal time.Duration) (time.Duration, error) {
	if val := os.Getenv(envKey); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", envKey, ErrInvalidVerifyInterval)
		}
		return d, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// maskDatabaseURL masks the password in a database URL. Supports both
// postgres:// and postgresql:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return "****"
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]
	return scheme + user + ":****" + hostAndPath
}
