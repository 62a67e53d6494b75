package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/listing-lifecycle/internal/config"
	"github.com/blackmichael/listing-lifecycle/internal/domain"
	"github.com/blackmichael/listing-lifecycle/internal/memstore"
)

const (
	cronSecret = "cron-secret"
	jwtSecret  = "jwt-secret"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	store   *memstore.Store
	clock   *domain.ManualClock
	handler http.Handler
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Port:       3000,
		Env:        config.EnvDevelopment,
		CronSecret: cronSecret,
		JWTSecret:  jwtSecret,
	}
	if mutate != nil {
		mutate(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()
	clock := domain.NewManualClock(epoch)
	svc, err := domain.NewLifecycleService(domain.ServiceDeps{
		Clock:    clock,
		Policy:   domain.DefaultPolicy(),
		Listings: store,
		Runs:     store,
		Logger:   logger,
	})
	require.NoError(t, err)

	require.NoError(t, store.Create(context.Background(), domain.Listing{
		ID:          "bike",
		OwnerID:     "user-1",
		Title:       "Road bike",
		Status:      domain.StatusPublished,
		PublishedAt: epoch,
		ExpiresAt:   epoch.Add(60 * 24 * time.Hour),
	}))

	return &testEnv{
		store:   store,
		clock:   clock,
		handler: NewServer(cfg, svc, logger).Handler(),
	}
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func ownerToken(t *testing.T, subject, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec, body := env.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRunExpiration(t *testing.T) {
	env := newTestEnv(t, nil)
	env.clock.Set(epoch.Add(53 * 24 * time.Hour))

	rec, body := env.do(t, http.MethodPost, "/expiration/run", cronSecret, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Regexp(t, `^\d+ms$`, body["duration"])
	assert.EqualValues(t, 1, body["warned7d"])
	for _, k := range []string{"warned24h", "expired", "renewed", "archived", "deleted"} {
		assert.EqualValues(t, 0, body[k], k)
	}
	assert.NotEmpty(t, body["runId"])
}

func TestRunExpiration_Auth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, _ := env.do(t, http.MethodPost, "/expiration/run", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/expiration/run", "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	unconfigured := newTestEnv(t, func(c *config.Config) { c.CronSecret = "" })
	rec, body := unconfigured.do(t, http.MethodPost, "/expiration/run", cronSecret, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "configuration_error", body["error"])
}

func TestRunExpiration_RepositoryUnavailable(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.FailQuery = errors.New("connection refused")

	rec, body := env.do(t, http.MethodPost, "/expiration/run", cronSecret, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "repository_unavailable", body["error"])
	assert.Contains(t, body["message"], "connection refused")
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, body := env.do(t, http.MethodGet, "/expiration/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code, "open outside production")

	counts := body["counts"].(map[string]any)
	assert.EqualValues(t, 1, counts["PUBLISHED"])
	assert.EqualValues(t, 0, counts["EXPIRED"])

	policy := body["policy"].(map[string]any)
	assert.EqualValues(t, 60, policy["lifetimeDays"])
	assert.EqualValues(t, 7, policy["gracePeriodDays"])
	assert.Equal(t, []any{"7d", "24h"}, policy["warningWindows"])

	before, err := env.store.Get(context.Background(), "bike")
	require.NoError(t, err)
	env.do(t, http.MethodGet, "/expiration/stats", "", "")
	after, err := env.store.Get(context.Background(), "bike")
	require.NoError(t, err)
	assert.Equal(t, before, after, "stats never mutate")
}

func TestStats_ProductionRequiresSecret(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Env = config.EnvProduction })

	rec, _ := env.do(t, http.MethodGet, "/expiration/stats", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/expiration/stats", cronSecret, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestToggleAutoRenew(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := ownerToken(t, "user-1", jwtSecret)
	stranger := ownerToken(t, "user-2", jwtSecret)

	tests := []struct {
		name   string
		path   string
		token  string
		body   string
		status int
	}{
		{"unauthenticated", "/listings/bike/auto-renew", "", `{"enabled":true}`, http.StatusUnauthorized},
		{"bad signature", "/listings/bike/auto-renew", ownerToken(t, "user-1", "other"), `{"enabled":true}`, http.StatusUnauthorized},
		{"malformed body", "/listings/bike/auto-renew", owner, `{"enabled":"yes"}`, http.StatusBadRequest},
		{"missing flag", "/listings/bike/auto-renew", owner, `{}`, http.StatusBadRequest},
		{"not owner", "/listings/bike/auto-renew", stranger, `{"enabled":true}`, http.StatusForbidden},
		{"missing listing", "/listings/ghost/auto-renew", owner, `{"enabled":true}`, http.StatusNotFound},
		{"owner enables", "/listings/bike/auto-renew", owner, `{"enabled":true}`, http.StatusOK},
		{"owner enables again", "/listings/bike/auto-renew", owner, `{"enabled":true}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := env.do(t, http.MethodPatch, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	l, err := env.store.Get(context.Background(), "bike")
	require.NoError(t, err)
	assert.True(t, l.AutoRenew)
}

func TestToggleAutoRenew_Conflict(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.store.Create(context.Background(), domain.Listing{
		ID: "old", OwnerID: "user-1", Status: domain.StatusArchived,
	}))

	rec, body := env.do(t, http.MethodPatch, "/listings/old/auto-renew", ownerToken(t, "user-1", jwtSecret), `{"enabled":true}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", body["error"])
}

func TestMapDomainError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{domain.ErrForbidden, http.StatusForbidden},
		{&domain.PersistenceError{ListingID: "x", Transition: "toggle", Err: errors.New("disk full")}, http.StatusInternalServerError},
		{&domain.RepositoryUnavailableError{Pass: "grace", Err: errors.New("timeout")}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := mapDomainError(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}
