package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"dicebot/models"
)

const pgUniqueViolation = "23505"

// Postgres is the production ledger backed by a pgx pool.
type Postgres struct {
	db    *pgxpool.Pool
	codes func() string
}

// NewPostgres wraps an open pool. The pool is closed by Close.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db, codes: NewInviteCode}
}

// Migrate creates the tables the ledger needs if they do not exist
func (s *Postgres) Migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS players (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		invite_code TEXT NOT NULL UNIQUE,
		balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		referrer_id TEXT REFERENCES players(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS game_histories (
		id BIGSERIAL PRIMARY KEY,
		player_id TEXT NOT NULL REFERENCES players(id),
		session_id TEXT NOT NULL,
		stake BIGINT NOT NULL,
		result TEXT NOT NULL,
		profit BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS settlements (
		settlement_key TEXT PRIMARY KEY,
		settled_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_game_histories_player ON game_histories(player_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_players_referrer ON players(referrer_id);`

	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create ledger tables: %w", err)
	}
	return nil
}

func (s *Postgres) GetPlayer(ctx context.Context, playerID string) (*models.Player, error) {
	query := `
		SELECT id, username, invite_code, balance, COALESCE(referrer_id, ''), created_at, updated_at
		FROM players WHERE id = $1`

	var p models.Player
	err := s.db.QueryRow(ctx, query, playerID).Scan(
		&p.ID,
		&p.Username,
		&p.InviteCode,
		&p.Balance,
		&p.ReferrerID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	return &p, nil
}

func (s *Postgres) GetBalance(ctx context.Context, playerID string) (int64, error) {
	var balance int64
	err := s.db.QueryRow(ctx, "SELECT balance FROM players WHERE id = $1", playerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrPlayerNotFound
		}
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

func (s *Postgres) ResolveReferrer(ctx context.Context, playerID string) (string, error) {
	var referrer string
	err := s.db.QueryRow(ctx, "SELECT COALESCE(referrer_id, '') FROM players WHERE id = $1", playerID).Scan(&referrer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrPlayerNotFound
		}
		return "", fmt.Errorf("failed to resolve referrer: %w", err)
	}
	return referrer, nil
}

func (s *Postgres) AdjustBalance(ctx context.Context, playerID string, delta int64) (int64, error) {
	return adjustPG(ctx, s.db, playerID, delta)
}

// pgQuerier is satisfied by both the pool and a transaction.
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func adjustPG(ctx context.Context, q pgQuerier, playerID string, delta int64) (int64, error) {
	query := `
		UPDATE players
		SET balance = balance + $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND balance + $2 >= 0
		RETURNING balance`

	var balance int64
	err := q.QueryRow(ctx, query, playerID, delta).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to adjust balance: %w", err)
	}

	// Either the player is missing or the guard rejected the delta.
	var current int64
	if err := q.QueryRow(ctx, "SELECT balance FROM players WHERE id = $1", playerID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrPlayerNotFound
		}
		return 0, fmt.Errorf("failed to adjust balance: %w", err)
	}
	return current, fmt.Errorf("adjust %s by %d: %w", playerID, delta, ErrNegativeBalance)
}

func (s *Postgres) EnsurePlayer(ctx context.Context, np NewPlayer) (*models.Player, error) {
	if strings.TrimSpace(np.ID) == "" {
		return nil, fmt.Errorf("player id is required")
	}
	if p, err := s.GetPlayer(ctx, np.ID); err == nil {
		return p, nil
	} else if !errors.Is(err, ErrPlayerNotFound) {
		return nil, err
	}

	var referrerID *string
	if code := normalizeCode(np.ReferrerCode); code != "" {
		var id string
		err := s.db.QueryRow(ctx, "SELECT id FROM players WHERE invite_code = $1", code).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrInvalidCode
			}
			return nil, fmt.Errorf("failed to look up invite code: %w", err)
		}
		referrerID = &id
	}

	query := `
		INSERT INTO players (id, username, invite_code, balance, referrer_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`

	// ON CONFLICT absorbs id clashes, so a unique violation is an invite code collision
	for attempt := 0; attempt < inviteCodeAttempts; attempt++ {
		_, err := s.db.Exec(ctx, query, np.ID, np.Username, s.codes(), np.Balance, referrerID)
		if err == nil {
			return s.GetPlayer(ctx, np.ID)
		}
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
			return nil, fmt.Errorf("failed to create player: %w", err)
		}
	}
	return nil, fmt.Errorf("failed to create player %s: %w", np.ID, ErrCodeExhausted)
}

func (s *Postgres) History(ctx context.Context, playerID string, limit int) ([]models.GameHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT player_id, session_id, stake, result, profit, created_at
		FROM game_histories WHERE player_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []models.GameHistory
	for rows.Next() {
		var h models.GameHistory
		if err := rows.Scan(&h.PlayerID, &h.SessionID, &h.Stake, &h.Outcome, &h.Profit, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Postgres) Settle(ctx context.Context, key string, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		"INSERT INTO settlements (settlement_key) VALUES ($1) ON CONFLICT (settlement_key) DO NOTHING", key)
	if err != nil {
		return fmt.Errorf("failed to record settlement key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("settle %s: %w", key, ErrAlreadySettled)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit settlement: %w", err)
	}
	return nil
}

func (s *Postgres) Close() error {
	s.db.Close()
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) AdjustBalance(ctx context.Context, playerID string, delta int64) (int64, error) {
	return adjustPG(ctx, t.tx, playerID, delta)
}

func (t *pgTx) Record(ctx context.Context, h models.GameHistory) error {
	query := `
		INSERT INTO game_histories (player_id, session_id, stake, result, profit)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := t.tx.Exec(ctx, query, h.PlayerID, h.SessionID, h.Stake, h.Outcome, h.Profit); err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}
	return nil
}

var _ Ledger = (*Postgres)(nil)
