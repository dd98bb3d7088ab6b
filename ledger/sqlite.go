package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"dicebot/models"
)

// SQLite is a file-backed ledger for single-process deployments and tests.
type SQLite struct {
	db  *sql.DB
	now   func() time.Time
	codes func() string
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	s := &SQLite{db: db, now: time.Now, codes: NewInviteCode}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the ledger tables if they do not exist.
func (s *SQLite) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS players (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			invite_code TEXT NOT NULL UNIQUE,
			balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
			referrer_id TEXT REFERENCES players(id),
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS game_histories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			player_id TEXT NOT NULL REFERENCES players(id),
			session_id TEXT NOT NULL,
			stake INTEGER NOT NULL,
			result TEXT NOT NULL,
			profit INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settlements (
			settlement_key TEXT PRIMARY KEY,
			settled_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_game_histories_player ON game_histories(player_id, created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}
	return nil
}

func (s *SQLite) GetPlayer(ctx context.Context, playerID string) (*models.Player, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, invite_code, balance, COALESCE(referrer_id, ''), created_at, updated_at
		FROM players WHERE id = ?`, playerID)

	var (
		p                  models.Player
		created, updatedAt int64
	)
	if err := row.Scan(&p.ID, &p.Username, &p.InviteCode, &p.Balance, &p.ReferrerID, &created, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("get player: %w", err)
	}
	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(updatedAt)
	return &p, nil
}

func (s *SQLite) GetBalance(ctx context.Context, playerID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, "SELECT balance FROM players WHERE id = ?", playerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrPlayerNotFound
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

func (s *SQLite) ResolveReferrer(ctx context.Context, playerID string) (string, error) {
	var referrer string
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(referrer_id, '') FROM players WHERE id = ?", playerID).Scan(&referrer)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrPlayerNotFound
		}
		return "", fmt.Errorf("resolve referrer: %w", err)
	}
	return referrer, nil
}

func (s *SQLite) AdjustBalance(ctx context.Context, playerID string, delta int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	balance, err := s.adjust(ctx, tx, playerID, delta)
	if err != nil {
		return balance, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return balance, nil
}

func (s *SQLite) adjust(ctx context.Context, tx *sql.Tx, playerID string, delta int64) (int64, error) {
	var balance int64
	err := tx.QueryRowContext(ctx, "SELECT balance FROM players WHERE id = ?", playerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrPlayerNotFound
		}
		return 0, fmt.Errorf("adjust balance: %w", err)
	}
	if balance+delta < 0 {
		return balance, fmt.Errorf("adjust %s by %d: %w", playerID, delta, ErrNegativeBalance)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE players SET balance = balance + ?, updated_at = ? WHERE id = ?",
		delta, toMillis(s.now()), playerID); err != nil {
		return 0, fmt.Errorf("adjust balance: %w", err)
	}
	return balance + delta, nil
}

func (s *SQLite) EnsurePlayer(ctx context.Context, np NewPlayer) (*models.Player, error) {
	if strings.TrimSpace(np.ID) == "" {
		return nil, fmt.Errorf("player id is required")
	}
	if p, err := s.GetPlayer(ctx, np.ID); err == nil {
		return p, nil
	} else if !errors.Is(err, ErrPlayerNotFound) {
		return nil, err
	}

	var referrerID sql.NullString
	if code := normalizeCode(np.ReferrerCode); code != "" {
		var id string
		err := s.db.QueryRowContext(ctx, "SELECT id FROM players WHERE invite_code = ?", code).Scan(&id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrInvalidCode
			}
			return nil, fmt.Errorf("look up invite code: %w", err)
		}
		referrerID = sql.NullString{String: id, Valid: true}
	}

	now := toMillis(s.now())
	for attempt := 0; attempt < inviteCodeAttempts; attempt++ {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO players (id, username, invite_code, balance, referrer_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			np.ID, np.Username, s.codes(), np.Balance, referrerID, now, now)
		if err == nil {
			return s.GetPlayer(ctx, np.ID)
		}
		if !isUniqueViolation(err) {
			return nil, fmt.Errorf("create player: %w", err)
		}
		// a concurrent insert of the same id wins; otherwise the code was taken
		p, getErr := s.GetPlayer(ctx, np.ID)
		if getErr == nil {
			return p, nil
		}
		if !errors.Is(getErr, ErrPlayerNotFound) {
			return nil, getErr
		}
	}
	return nil, fmt.Errorf("create player %s: %w", np.ID, ErrCodeExhausted)
}

func (s *SQLite) History(ctx context.Context, playerID string, limit int) ([]models.GameHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT player_id, session_id, stake, result, profit, created_at
		FROM game_histories WHERE player_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []models.GameHistory
	for rows.Next() {
		var (
			h       models.GameHistory
			created int64
		)
		if err := rows.Scan(&h.PlayerID, &h.SessionID, &h.Stake, &h.Outcome, &h.Profit, &created); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		h.CreatedAt = fromMillis(created)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *SQLite) Settle(ctx context.Context, key string, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO settlements (settlement_key, settled_at) VALUES (?, ?)", key, toMillis(s.now())); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("settle %s: %w", key, ErrAlreadySettled)
		}
		return fmt.Errorf("record settlement key: %w", err)
	}

	if err := fn(&sqliteTx{store: s, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settlement: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type sqliteTx struct {
	store *SQLite
	tx    *sql.Tx
}

func (t *sqliteTx) AdjustBalance(ctx context.Context, playerID string, delta int64) (int64, error) {
	return t.store.adjust(ctx, t.tx, playerID, delta)
}

func (t *sqliteTx) Record(ctx context.Context, h models.GameHistory) error {
	created := h.CreatedAt
	if created.IsZero() {
		created = t.store.now()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO game_histories (player_id, session_id, stake, result, profit, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		h.PlayerID, h.SessionID, h.Stake, h.Outcome, h.Profit, toMillis(created))
	if err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ Ledger = (*SQLite)(nil)
