package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicebot/ledger"
)

func TestHealthRouter(t *testing.T) {
	status := newBotStatus("starting")
	h := healthRouter(status, func() int { return 3 })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Discord Bot Status: starting", rec.Body.String())

	status.Set("online")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, healthResponse{Status: "healthy", Service: "dicebot", BotStatus: "online", ActiveSessions: 3}, body)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func setupSQLiteEnv(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SQLITE_PATH", path)
	t.Setenv("STARTING_BALANCE", "1000")
	t.Setenv("HOUSE_ACCOUNT_ID", "house")
	t.Setenv("LOG_LEVEL", "error")
	return path
}

func TestPlayerCommands(t *testing.T) {
	setupSQLiteEnv(t)
	var out bytes.Buffer
	g := &Globals{out: &out}

	require.NoError(t, (&PlayerAddCmd{ID: "1", Username: "alice"}).Run(g))
	assert.Contains(t, out.String(), "alice balance=1000")

	require.NoError(t, (&PlayerGrantCmd{ID: "1", Amount: 250}).Run(g))
	assert.Contains(t, out.String(), "1 balance=1250")

	err := (&PlayerGrantCmd{ID: "1", Amount: -5000}).Run(g)
	assert.ErrorIs(t, err, ledger.ErrNegativeBalance)

	err = (&PlayerGrantCmd{ID: "nobody", Amount: 10}).Run(g)
	assert.ErrorIs(t, err, ledger.ErrPlayerNotFound)

	out.Reset()
	require.NoError(t, (&PlayerShowCmd{ID: "1"}).Run(g))
	assert.True(t, strings.HasPrefix(out.String(), "alice balance=1250"), out.String())
}

func TestPlayerAddWithReferrer(t *testing.T) {
	setupSQLiteEnv(t)
	var out bytes.Buffer
	g := &Globals{out: &out}

	opening := int64(50)
	require.NoError(t, (&PlayerAddCmd{ID: "1", Username: "alice", Balance: &opening}).Run(g))
	line := out.String()
	i := strings.Index(line, "invite=")
	require.Positive(t, i)
	code := strings.Fields(line[i+len("invite="):])[0]

	out.Reset()
	require.NoError(t, (&PlayerAddCmd{ID: "2", Username: "bob", ReferrerCode: strings.ToLower(code)}).Run(g))
	assert.Contains(t, out.String(), "referrer=1")

	err := (&PlayerAddCmd{ID: "3", ReferrerCode: "NOPE"}).Run(g)
	assert.ErrorIs(t, err, ledger.ErrInvalidCode)
}

func TestMigrate(t *testing.T) {
	var out bytes.Buffer
	g := &Globals{out: &out}

	t.Setenv("DATABASE_URL", "")
	t.Setenv("SQLITE_PATH", "")
	assert.Error(t, (&MigrateCmd{}).Run(g))

	setupSQLiteEnv(t)
	require.NoError(t, (&MigrateCmd{}).Run(g))
	assert.Equal(t, "sqlite schema is up to date\n", out.String())

	out.Reset()
	require.NoError(t, (&PlayerShowCmd{ID: "house"}).Run(g), "migrate creates the house account")
}
