package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	_ "github.com/fieldstock/fieldstock/internal/testing/guard"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	require.Equal(t, 120, cfg.AppRateLimit)
	require.Equal(t, 3, cfg.TxMaxAttempts)
	require.Equal(t, 5*time.Minute, cfg.ReconcileCacheTTL)
	require.Equal(t, "fieldstock.events", cfg.AMQPExchange)
	require.True(t, cfg.PGAutoMigrate)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("RECONCILE_TIMEZONE=Asia/Jakarta\nAPP_RATE_LIMIT=30\n"), 0o600))
	t.Setenv("APP_RATE_LIMIT", "45")
	t.Cleanup(func() { _ = os.Unsetenv("RECONCILE_TIMEZONE") })

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 45, cfg.AppRateLimit)
	loc, err := cfg.Location()
	require.NoError(t, err)
	require.Equal(t, "Asia/Jakarta", loc.String())
}

func TestValidateRejectsBadSettings(t *testing.T) {
	base := Config{TxMaxAttempts: 3, AppRateLimit: 10, ReconcileTimezone: "UTC"}
	require.NoError(t, base.Validate())

	cfg := base
	cfg.TxMaxAttempts = 0
	require.ErrorContains(t, cfg.Validate(), "TX_MAX_ATTEMPTS")

	cfg = base
	cfg.ReconcileTimezone = "Mars/Olympus"
	require.ErrorContains(t, cfg.Validate(), "RECONCILE_TIMEZONE")

	cfg = base
	cfg.AppEnv = "production"
	require.ErrorContains(t, cfg.Validate(), "PG_DSN")
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&Config{AppEnv: "production", LogFormat: "json"}, &buf).Debug("hidden")
	require.Zero(t, buf.Len())

	newLogger(&Config{AppEnv: "production", LogFormat: "json"}, &buf).Info("batch committed", slog.Int64("batch_id", 4))
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "fieldstock", line["service"])
	require.Equal(t, "production", line["env"])
	require.EqualValues(t, 4, line["batch_id"])

	buf.Reset()
	newLogger(&Config{AppEnv: "development"}, &buf).Debug("scan staged")
	require.Contains(t, buf.String(), "msg=\"scan staged\"")
}
