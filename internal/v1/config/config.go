package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	TLSCertFile   string
	TLSKeyFile    string
	SessionSecret string

	// Listener
	Host    string
	Port    string
	OpsPort string

	// Persistence
	UserDBPath string

	// Scheduling
	MaxConcurrent int

	// Optional variables with defaults
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool
	AllowedOrigins  string

	// Tracing (optional)
	OTELCollectorAddr string

	// Stats reporting interval in seconds
	StatsReportSeconds int
}

// ValidateEnv validates all required environment variables and returns a Config object
// Returns an error if any required variable is missing or invalid
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: TLS_CERT_FILE / TLS_KEY_FILE (must exist on disk)
	cfg.TLSCertFile = os.Getenv("TLS_CERT_FILE")
	if cfg.TLSCertFile == "" {
		errors = append(errors, "TLS_CERT_FILE is required")
	} else if _, err := os.Stat(cfg.TLSCertFile); err != nil {
		errors = append(errors, fmt.Sprintf("TLS_CERT_FILE not readable: %v", err))
	}
	cfg.TLSKeyFile = os.Getenv("TLS_KEY_FILE")
	if cfg.TLSKeyFile == "" {
		errors = append(errors, "TLS_KEY_FILE is required")
	} else if _, err := os.Stat(cfg.TLSKeyFile); err != nil {
		errors = append(errors, fmt.Sprintf("TLS_KEY_FILE not readable: %v", err))
	}

	// Required: SESSION_SECRET (minimum 32 characters, signs session tokens)
	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		errors = append(errors, "SESSION_SECRET is required")
	} else if len(cfg.SessionSecret) < 32 {
		errors = append(errors, fmt.Sprintf("SESSION_SECRET must be at least 32 characters (got %d)", len(cfg.SessionSecret)))
	}

	// Optional: CHAT_HOST (defaults to all interfaces)
	cfg.Host = getEnvOrDefault("CHAT_HOST", "0.0.0.0")

	// Optional: CHAT_PORT (valid port number, defaults to 8888)
	cfg.Port = getEnvOrDefault("CHAT_PORT", "8888")
	if !isValidPort(cfg.Port) {
		errors = append(errors, fmt.Sprintf("CHAT_PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	// Optional: OPS_PORT (health/stats/metrics endpoint, defaults to 8889)
	cfg.OpsPort = getEnvOrDefault("OPS_PORT", "8889")
	if !isValidPort(cfg.OpsPort) {
		errors = append(errors, fmt.Sprintf("OPS_PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.OpsPort))
	}

	// Optional: USER_DB_PATH (defaults to users.json in the working directory)
	cfg.UserDBPath = getEnvOrDefault("USER_DB_PATH", "users.json")

	// Optional: QOS_MAX_CONCURRENT (defaults to 10)
	maxConcurrent := getEnvOrDefault("QOS_MAX_CONCURRENT", "10")
	n, err := strconv.Atoi(maxConcurrent)
	if err != nil || n < 1 {
		errors = append(errors, fmt.Sprintf("QOS_MAX_CONCURRENT must be a positive integer (got '%s')", maxConcurrent))
	} else {
		cfg.MaxConcurrent = n
	}

	// Optional: STATS_REPORT_SECONDS (defaults to 60, 0 disables)
	statsInterval := getEnvOrDefault("STATS_REPORT_SECONDS", "60")
	s, err := strconv.Atoi(statsInterval)
	if err != nil || s < 0 {
		errors = append(errors, fmt.Sprintf("STATS_REPORT_SECONDS must be a non-negative integer (got '%s')", statsInterval))
	} else {
		cfg.StatsReportSeconds = s
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.OTELCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	// Log validated configuration (with secrets redacted)
	logValidatedConfig(cfg)

	return cfg, nil
}

// Addr returns the chat listener address in host:port form.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// OpsAddr returns the operations endpoint address in host:port form.
func (c *Config) OpsAddr() string {
	return c.Host + ":" + c.OpsPort
}

// isValidPort checks if a string is a valid TCP port number
func isValidPort(port string) bool {
	p, err := strconv.Atoi(port)
	return err == nil && p >= 1 && p <= 65535
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"addr", cfg.Addr(),
		"ops_addr", cfg.OpsAddr(),
		"tls_cert_file", cfg.TLSCertFile,
		"user_db_path", cfg.UserDBPath,
		"session_secret", redactSecret(cfg.SessionSecret),
		"max_concurrent", cfg.MaxConcurrent,
		"stats_report_seconds", cfg.StatsReportSeconds,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
