package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/listing-lifecycle/internal/config"
	"github.com/blackmichael/listing-lifecycle/internal/domain"
	"github.com/blackmichael/listing-lifecycle/internal/sqlstore"
)

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "lifecycle", cmd.Use)

	for _, name := range []string{"run", "stats", "migrate", "toggle", "prune-runs"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestToggleRequiresOwnerFlag(t *testing.T) {
	cmd := NewRootCommand()
	toggle, _, err := cmd.Find([]string{"toggle"})
	require.NoError(t, err)
	flag := toggle.Flags().Lookup("owner")
	require.NotNil(t, flag)
	assert.Contains(t, flag.Annotations, "cobra_annotation_bash_completion_one_required_flag")
}

type harness struct {
	dbPath string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{dbPath: filepath.Join(t.TempDir(), "cli.db")}

	ctx := context.Background()
	store, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, h.dbPath)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Migrate(ctx))

	published := time.Now().UTC().Add(-61 * 24 * time.Hour).Truncate(time.Millisecond)
	require.NoError(t, store.Create(ctx, domain.Listing{
		ID:          "stale",
		OwnerID:     "user-1",
		Title:       "Stale ad",
		Status:      domain.StatusPublished,
		PublishedAt: published,
		ExpiresAt:   domain.DefaultPolicy().CalculateExpirationDate(published),
	}))
	return h
}

func (h *harness) exec(t *testing.T, args ...string) (string, error) {
	t.Helper()
	opts := &RootOptions{LoadConfig: func() (*config.Config, error) {
		return &config.Config{
			Port:           3000,
			Env:            config.EnvDevelopment,
			DatabaseDriver: config.DatabaseSQLite,
			DatabaseURL:    h.dbPath,
			NotifyDriver:   config.NotifyLog,
			BatchLimit:     500,
			LifetimeDays:   60,
			GraceDays:      7,
			RetentionMode:  string(domain.RetentionArchive),
		}, nil
	}}
	cmd := newRootCommand(opts)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunAndStats(t *testing.T) {
	h := newHarness(t)

	out, err := h.exec(t, "run", "--format", "json")
	require.NoError(t, err)
	var run domain.RunSummary
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	assert.Equal(t, 1, run.Expired)

	out, err = h.exec(t, "stats", "--format", "json")
	require.NoError(t, err)
	var report domain.StatsReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Counts[domain.StatusExpired])
	require.NotNil(t, report.LastRun)
	assert.Equal(t, run.ID, report.LastRun.ID)

	out, err = h.exec(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "EXPIRED    1")
	assert.Contains(t, out, "retention=archive")
}

func TestToggle(t *testing.T) {
	h := newHarness(t)

	_, err := h.exec(t, "toggle", "stale", "true", "--owner", "user-2")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	out, err := h.exec(t, "toggle", "stale", "true", "--owner", "user-1")
	require.NoError(t, err)
	assert.Contains(t, out, "autoRenew=true (updated)")

	out, err = h.exec(t, "toggle", "stale", "true", "--owner", "user-1")
	require.NoError(t, err)
	assert.Contains(t, out, "(unchanged)")

	_, err = h.exec(t, "toggle", "stale", "maybe", "--owner", "user-1")
	assert.Error(t, err)
}

func TestMigrateAndPrune(t *testing.T) {
	h := newHarness(t)

	out, err := h.exec(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema up to date")

	_, err = h.exec(t, "run")
	require.NoError(t, err)

	out, err = h.exec(t, "prune-runs", "--older-than", "1h", "--format", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"deleted": 0}`, out)

	_, err = h.exec(t, "prune-runs", "--older-than", "0s")
	assert.Error(t, err)
}

func TestInvalidFormat(t *testing.T) {
	h := newHarness(t)
	_, err := h.exec(t, "stats", "--format", "yaml")
	assert.Error(t, err)
}
