package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempCert(t *testing.T) (certFile, keyFile string) {
	t.Helper()
	dir := t.TempDir()
	certFile = filepath.Join(dir, "server.crt")
	keyFile = filepath.Join(dir, "server.key")
	require.NoError(t, os.WriteFile(certFile, []byte("cert"), 0o600))
	require.NoError(t, os.WriteFile(keyFile, []byte("key"), 0o600))
	return certFile, keyFile
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	certFile, keyFile := writeTempCert(t)
	t.Setenv("TLS_CERT_FILE", certFile)
	t.Setenv("TLS_KEY_FILE", keyFile)
	t.Setenv("SESSION_SECRET", "0123456789abcdef0123456789abcdef")
}

func TestValidateEnv_Defaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CHAT_HOST", "")
	t.Setenv("CHAT_PORT", "")
	t.Setenv("OPS_PORT", "")
	t.Setenv("USER_DB_PATH", "")
	t.Setenv("QOS_MAX_CONCURRENT", "")
	t.Setenv("STATS_REPORT_SECONDS", "")
	os.Unsetenv("CHAT_HOST")
	os.Unsetenv("CHAT_PORT")
	os.Unsetenv("OPS_PORT")
	os.Unsetenv("USER_DB_PATH")
	os.Unsetenv("QOS_MAX_CONCURRENT")
	os.Unsetenv("STATS_REPORT_SECONDS")

	cfg, err := ValidateEnv()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, "8888", cfg.Port)
	assert.Equal(t, "8889", cfg.OpsPort)
	assert.Equal(t, "users.json", cfg.UserDBPath)
	assert.Equal(t, 10, cfg.MaxConcurrent)
	assert.Equal(t, 60, cfg.StatsReportSeconds)
	assert.Equal(t, "production", cfg.GoEnv)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "0.0.0.0:8888", cfg.Addr())
	assert.Equal(t, "0.0.0.0:8889", cfg.OpsAddr())
}

func TestValidateEnv_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CHAT_HOST", "127.0.0.1")
	t.Setenv("CHAT_PORT", "9999")
	t.Setenv("OPS_PORT", "9998")
	t.Setenv("USER_DB_PATH", "/tmp/chat-users.json")
	t.Setenv("QOS_MAX_CONCURRENT", "32")
	t.Setenv("STATS_REPORT_SECONDS", "0")
	t.Setenv("DEVELOPMENT_MODE", "true")

	cfg, err := ValidateEnv()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9999", cfg.Addr())
	assert.Equal(t, "127.0.0.1:9998", cfg.OpsAddr())
	assert.Equal(t, "/tmp/chat-users.json", cfg.UserDBPath)
	assert.Equal(t, 32, cfg.MaxConcurrent)
	assert.Equal(t, 0, cfg.StatsReportSeconds)
	assert.True(t, cfg.DevelopmentMode)
}

func TestValidateEnv_MissingRequired(t *testing.T) {
	t.Setenv("TLS_CERT_FILE", "")
	t.Setenv("TLS_KEY_FILE", "")
	t.Setenv("SESSION_SECRET", "")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TLS_CERT_FILE is required")
	assert.Contains(t, err.Error(), "TLS_KEY_FILE is required")
	assert.Contains(t, err.Error(), "SESSION_SECRET is required")
}

func TestValidateEnv_CertFileMustExist(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TLS_CERT_FILE", "/nonexistent/server.crt")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TLS_CERT_FILE not readable")
}

func TestValidateEnv_ShortSessionSecret(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SESSION_SECRET", "tooshort")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_SECRET must be at least 32 characters")
}

func TestValidateEnv_InvalidPort(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CHAT_PORT", "notaport")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHAT_PORT must be a valid port number")
}

func TestValidateEnv_InvalidMaxConcurrent(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("QOS_MAX_CONCURRENT", "0")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QOS_MAX_CONCURRENT must be a positive integer")
}

func TestIsValidPort(t *testing.T) {
	assert.True(t, isValidPort("1"))
	assert.True(t, isValidPort("65535"))
	assert.False(t, isValidPort("0"))
	assert.False(t, isValidPort("65536"))
	assert.False(t, isValidPort("abc"))
}

func TestRedactSecret(t *testing.T) {
	assert.Equal(t, "***", redactSecret("short"))
	assert.Equal(t, "01234567***", redactSecret("0123456789abcdef"))
}
