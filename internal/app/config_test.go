package app

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	_ "github.com/odyssey-erp/fechamento/testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, BackendPostgres, cfg.StoreBackend)
	require.Equal(t, 168*time.Hour, cfg.EditWindow)
	require.Equal(t, "America/Sao_Paulo", cfg.Location().String())
	require.Equal(t, "0 6 * * *", cfg.DigestCron)
	require.Equal(t, "30 * * * *", cfg.CleanupCron)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("STORE_BACKEND", "mongo")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("STORE_BACKEND", "Redis")
	t.Setenv("TIMEZONE", "Mars/Olympus")
	_, err = LoadConfig()
	require.Error(t, err)

	t.Setenv("TIMEZONE", "UTC")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, BackendRedis, cfg.StoreBackend)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, parseLevel(&Config{LogLevel: "DEBUG"}))
	require.Equal(t, slog.LevelWarn, parseLevel(&Config{LogLevel: "warn"}))
	require.Equal(t, slog.LevelInfo, parseLevel(nil))
}

func TestInTestMode(t *testing.T) {
	require.True(t, InTestMode())
}
