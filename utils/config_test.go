package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"BOT_TOKEN", "GUILD_ID", "DATABASE_URL", "SQLITE_PATH", "PORT", "LOG_LEVEL",
		"HOUSE_ACCOUNT_ID", "STARTING_BALANCE", "SESSION_MAX_AGE", "SWEEP_INTERVAL",
		"SESSION_LOCK_TIMEOUT", "SETTLE_MAX_ATTEMPTS",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "house", cfg.HouseAccountID)
	assert.Equal(t, int64(1000), cfg.StartingBalance)
	assert.Equal(t, 30*time.Minute, cfg.SessionMaxAge)
	assert.Equal(t, 90*time.Second, cfg.SweepInterval)
	assert.Equal(t, 5*time.Second, cfg.SessionLockTimeout)
	assert.Equal(t, uint(3), cfg.SettleMaxAttempts)
	assert.Equal(t, "memory", cfg.LedgerBackend())
	assert.Equal(t, ":8080", cfg.HealthAddr())
}

func TestLoadConfigFromDotenv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SQLITE_PATH=/tmp/duel.db\nSESSION_MAX_AGE=10m\nPORT=9000\n"), 0o600))
	t.Setenv("PORT", "9100")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.LedgerBackend())
	assert.Equal(t, 10*time.Minute, cfg.SessionMaxAge)
	assert.Equal(t, 9100, cfg.Port, "environment wins over the dotenv file")
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("SWEEP_INTERVAL", "soon")
	_, err := LoadConfig("")
	require.Error(t, err)

	clearEnv(t)
	t.Setenv("PORT", "0")
	t.Setenv("SETTLE_MAX_ATTEMPTS", "0")
	_, err = LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT out of range")
	assert.Contains(t, err.Error(), "SETTLE_MAX_ATTEMPTS")
}

func TestLedgerBackend(t *testing.T) {
	assert.Equal(t, "postgres", Config{DatabaseURL: "postgres://x", SQLitePath: "a.db"}.LedgerBackend())
	assert.Equal(t, "sqlite", Config{SQLitePath: "a.db"}.LedgerBackend())
	assert.Equal(t, "memory", Config{DatabaseURL: "  "}.LedgerBackend())
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "WARN")
	assert.Equal(t, log.WarnLevel, logger.GetLevel())
	logger.Info("hidden")
	logger.Warn("shown", "session", "abc")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "session=abc")

	assert.Equal(t, log.InfoLevel, newLogger(&buf, "loud").GetLevel())
}
