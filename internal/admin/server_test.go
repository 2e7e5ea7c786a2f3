package admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/imaginebot/internal/database"
	"github.com/digkill/imaginebot/internal/metrics"
	"github.com/digkill/imaginebot/internal/models"
	"github.com/digkill/imaginebot/internal/repository"
	"github.com/digkill/imaginebot/internal/service"
)

type testEnv struct {
	handler http.Handler
	users   *repository.UserRepository
	gens    *repository.GenerationRepository
}

func newTestEnv(t *testing.T, password string) *testEnv {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "admin_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, database.SQLite))

	users := repository.NewUserRepository(db, database.SQLite)
	gens := repository.NewGenerationRepository(db)
	svc := service.NewUserService(users, gens, service.Limits{Free: 10, Premium: 50})

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Generation("imagine", metrics.OutcomeSuccess)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(":0", "admin", password, log, svc, reg)
	return &testEnv{handler: srv.Handler(), users: users, gens: gens}
}

func (e *testEnv) do(t *testing.T, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth {
		req.SetBasicAuth("admin", "secret")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodGet, "/", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bot is running!", rec.Body.String())

	rec = env.do(t, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "imagebot_generations_total")
}

func TestAdminDisabledWithoutPassword(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodGet, "/admin/users/42", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRequiresAuth(t *testing.T) {
	env := newTestEnv(t, "secret")
	rec := env.do(t, http.MethodGet, "/admin/users/42", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
}

func TestAdminUserLifecycle(t *testing.T) {
	env := newTestEnv(t, "secret")
	ctx := context.Background()

	rec := env.do(t, http.MethodGet, "/admin/users/42", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodPut, "/admin/users/42/premium", `{"premium":true}`, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	_, err := env.users.GetOrCreate(ctx, "42", now)
	require.NoError(t, err)

	rec = env.do(t, http.MethodPut, "/admin/users/42/premium", `{"premium":true}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got userResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.IsPremium)
	assert.Equal(t, 50, got.DailyLimit)

	rec = env.do(t, http.MethodPut, "/admin/users/42/premium", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/admin/users/42", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "42", got.UserID)
	assert.Equal(t, "Photorealistic", got.PreferredStyle)
}

func TestAdminGenerationHistory(t *testing.T) {
	env := newTestEnv(t, "secret")
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	_, err := env.users.GetOrCreate(ctx, "42", now)
	require.NoError(t, err)
	for _, p := range []string{"first", "second", "third"} {
		_, err := env.gens.Record(ctx, models.GenerationRecord{
			UserID: "42", Prompt: p, Model: "FLUX.1", Style: "Anime", Quality: "Standard", GenerationTime: 2,
		}, 10, now)
		require.NoError(t, err)
	}

	rec := env.do(t, http.MethodGet, "/admin/users/42/generations?limit=2", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []generationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "third", list[0].Prompt)

	rec = env.do(t, http.MethodGet, "/admin/users/42/generations?limit=abc", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
