// Package ledger holds player balances, referral links and game history.
//
// Every backend applies a settlement as a single transaction keyed by an
// idempotency key: the key is recorded before any balance changes, and a key
// that was already recorded fails the whole transaction with ErrAlreadySettled.
package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"dicebot/models"
)

var (
	ErrPlayerNotFound  = errors.New("player not found")
	ErrCodeExhausted   = errors.New("no free invite code")
	ErrAlreadySettled  = errors.New("settlement already applied")
	ErrNegativeBalance = errors.New("balance would go negative")
	ErrInvalidCode     = errors.New("invite code not found")
)

// NewPlayer describes a player to register.
type NewPlayer struct {
	ID           string
	Username     string
	Balance      int64
	ReferrerCode string // optional invite code of the referring player
}

// Tx is the view of the ledger inside a settlement transaction.
type Tx interface {
	AdjustBalance(ctx context.Context, playerID string, delta int64) (int64, error)
	Record(ctx context.Context, h models.GameHistory) error
}

// Ledger is the account collaborator the duel engine calls into.
type Ledger interface {
	GetPlayer(ctx context.Context, playerID string) (*models.Player, error)
	GetBalance(ctx context.Context, playerID string) (int64, error)
	// ResolveReferrer returns the referrer of playerID, or "" when there is none.
	ResolveReferrer(ctx context.Context, playerID string) (string, error)
	AdjustBalance(ctx context.Context, playerID string, delta int64) (int64, error)
	EnsurePlayer(ctx context.Context, p NewPlayer) (*models.Player, error)
	History(ctx context.Context, playerID string, limit int) ([]models.GameHistory, error)
	// Settle runs fn in one transaction guarded by key.
	Settle(ctx context.Context, key string, fn func(Tx) error) error
	Close() error
}

// Permanent reports whether err will fail the same way on retry.
func Permanent(err error) bool {
	return errors.Is(err, ErrAlreadySettled) ||
		errors.Is(err, ErrNegativeBalance) ||
		errors.Is(err, ErrPlayerNotFound)
}

// inviteCodeAttempts bounds how often a player insert is retried with a fresh
// code after an invite code collision.
const inviteCodeAttempts = 5

// NewInviteCode returns an 8 character upper-case code.
func NewInviteCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
