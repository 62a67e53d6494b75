package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/listing-lifecycle/internal/config"
	"github.com/blackmichael/listing-lifecycle/internal/domain"
	"github.com/blackmichael/listing-lifecycle/internal/memstore"
)

func testConfig(driver, url string) *config.Config {
	return &config.Config{
		Port:           3000,
		Env:            config.EnvDevelopment,
		DatabaseDriver: driver,
		DatabaseURL:    url,
		NotifyDriver:   config.NotifyLog,
		BatchLimit:     100,
		LifetimeDays:   60,
		GraceDays:      7,
		RetentionMode:  string(domain.RetentionArchive),
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestBuild_Memory(t *testing.T) {
	a, err := Build(context.Background(), testConfig(config.DatabaseMemory, ""), discard())
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &memstore.Store{}, a.Store)
	assert.Nil(t, a.SQL)
	assert.Equal(t, 60, a.Service.Policy().LifetimeDays)
}

func TestBuild_SQLite(t *testing.T) {
	cfg := testConfig(config.DatabaseSQLite, filepath.Join(t.TempDir(), "app.db"))
	a, err := Build(context.Background(), cfg, discard())
	require.NoError(t, err)

	require.NotNil(t, a.SQL)
	run, err := a.Service.RunExpiration(context.Background())
	require.NoError(t, err)
	assert.Zero(t, run.Result.Transitions())

	stats, err := a.Service.Stats(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stats.LastRun)
	assert.Equal(t, run.ID, stats.LastRun.ID)

	assert.NoError(t, a.Close())
}

func TestBuild_InvalidPolicy(t *testing.T) {
	cfg := testConfig(config.DatabaseMemory, "")
	cfg.RetentionMode = "shred"
	_, err := Build(context.Background(), cfg, discard())
	assert.Error(t, err)
}

func TestBuild_WebhookRequiresURL(t *testing.T) {
	cfg := testConfig(config.DatabaseMemory, "")
	cfg.NotifyDriver = config.NotifyWebhook
	_, err := Build(context.Background(), cfg, discard())
	assert.Error(t, err)
}
