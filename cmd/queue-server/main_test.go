package main

import (
	"context"
	"bytes"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medqueue/medqueue/internal/config"
	"github.com/medqueue/medqueue/internal/engine"
	"github.com/medqueue/medqueue/internal/platform/auth"
	"github.com/medqueue/medqueue/internal/platform/db"
	"github.com/medqueue/medqueue/internal/platform/websocket"
)

func TestMigrationSource_EmbeddedByDefault(t *testing.T) {
	migs, err := db.LoadMigrations(migrationSource(""))
	require.NoError(t, err)
	require.NotEmpty(t, migs)
	assert.Equal(t, 1, migs[0].Version)
	assert.Contains(t, migs[0].SQL, "CREATE TABLE IF NOT EXISTS patient")
	assert.Contains(t, migs[0].SQL, "queue_changes")
}

func TestMigrationSource_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_init.sql"), []byte("SELECT 1;"), 0o600))

	data, err := fs.ReadFile(migrationSource(dir), "001_init.sql")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1;", string(data))
}

func TestPrintStatus(t *testing.T) {
	applied := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "queue", Applied: true, AppliedAt: &applied},
		{Version: 2, Name: "next"},
	})
	out := buf.String()
	assert.Contains(t, out, "applied")
	assert.Contains(t, out, "2026-03-02 09:00:00")
	assert.Contains(t, out, "pending")
}

func TestValidRoles(t *testing.T) {
	roles, err := validRoles([]string{" Doctor", "pharmacist", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{auth.RoleDoctor, auth.RolePharmacist}, roles)

	_, err = validRoles([]string{"janitor"})
	assert.ErrorContains(t, err, "unknown role")

	_, err = validRoles(nil)
	assert.Error(t, err)
}

func TestTokenCmd(t *testing.T) {
	t.Setenv("AUTH_SIGNING_KEY", strings.Repeat("k", 32))

	var out bytes.Buffer
	cmd := tokenCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--staff", "dr-rao", "--roles", "doctor"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, 2, strings.Count(strings.TrimSpace(out.String()), "."))

	cmd = tokenCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--roles", "doctor"})
	assert.ErrorContains(t, cmd.Execute(), "--staff")
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "production", "warn")
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)

	assert.Equal(t, zerolog.InfoLevel, newLogger(&buf, "production", "bogus").GetLevel())
}

func TestLoadSuggester_Default(t *testing.T) {
	s, err := loadSuggester("")
	require.NoError(t, err)
	assert.NotNil(t, s)

	_, err = loadSuggester(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func newTestEcho(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{
		CORSOrigins:    []string{"*"},
		RateLimitRPS:   100,
		RateLimitBurst: 100,
	}
	s, err := loadSuggester("")
	require.NoError(t, err)

	hub := websocket.NewHub(zerolog.Nop())
	t.Cleanup(hub.Close)
	eng := engine.New(engine.MemoryStore(), engine.DefaultConfig(),
		engine.WithPublisher(hub),
		engine.WithSuggester(s),
	)
	require.NoError(t, eng.Load(context.Background()))
	return newEcho(cfg, zerolog.Nop(), nil, nil, hub, eng)
}

func TestNewEcho_HealthAndQueue(t *testing.T) {
	h := newTestEcho(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/db", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"memory"`)

	body := `{"name":"Asha","age":65,"department":"general_medicine","severity":"severe"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"))

	var patient map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &patient))
	assert.Equal(t, "GM-001", patient["token"])
}

func TestNewEcho_ErrorShape(t *testing.T) {
	h := newTestEcho(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/departments/cardiology/call-next", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body engine.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "empty_queue", string(body.Kind))
}
