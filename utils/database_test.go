package utils

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicebot/ledger"
)

func TestOpenLedgerBackends(t *testing.T) {
	ctx := context.Background()
	logger := log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})

	mem, err := OpenLedger(ctx, Config{}, logger)
	require.NoError(t, err)
	assert.IsType(t, &ledger.Memory{}, mem)

	cfg := Config{SQLitePath: filepath.Join(t.TempDir(), "ledger.db"), HouseAccountID: "house"}
	l, err := OpenLedger(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	assert.IsType(t, &ledger.SQLite{}, l)

	require.NoError(t, EnsureHouseAccount(ctx, l, cfg))
	require.NoError(t, EnsureHouseAccount(ctx, l, cfg), "ensuring twice is a no-op")
	house, err := l.GetPlayer(ctx, "house")
	require.NoError(t, err)
	assert.Equal(t, int64(0), house.Balance)

	require.NoError(t, EnsureHouseAccount(ctx, l, Config{}))
}

func TestOpenPostgresRejectsBadURL(t *testing.T) {
	_, err := OpenPostgres(context.Background(), "::not a url::")
	assert.Error(t, err)
}
