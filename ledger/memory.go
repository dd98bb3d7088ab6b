package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dicebot/models"
)

// Memory is an in-process ledger used when no database is configured and in tests.
type Memory struct {
	mu        sync.Mutex
	players   map[string]*models.Player
	byCode    map[string]string
	settled   map[string]time.Time
	histories []models.GameHistory
	now       func() time.Time
	codes     func() string
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		players: make(map[string]*models.Player),
		byCode:  make(map[string]string),
		settled: make(map[string]time.Time),
		now:     time.Now,
		codes:   NewInviteCode,
	}
}

func (m *Memory) GetPlayer(ctx context.Context, playerID string) (*models.Player, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.players[playerID]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	copied := *p
	return &copied, nil
}

func (m *Memory) GetBalance(ctx context.Context, playerID string) (int64, error) {
	p, err := m.GetPlayer(ctx, playerID)
	if err != nil {
		return 0, err
	}
	return p.Balance, nil
}

func (m *Memory) ResolveReferrer(ctx context.Context, playerID string) (string, error) {
	p, err := m.GetPlayer(ctx, playerID)
	if err != nil {
		return "", err
	}
	return p.ReferrerID, nil
}

func (m *Memory) AdjustBalance(ctx context.Context, playerID string, delta int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustLocked(m.players, playerID, delta)
}

func (m *Memory) adjustLocked(players map[string]*models.Player, playerID string, delta int64) (int64, error) {
	p, ok := players[playerID]
	if !ok {
		return 0, ErrPlayerNotFound
	}
	if p.Balance+delta < 0 {
		return p.Balance, fmt.Errorf("adjust %s by %d: %w", playerID, delta, ErrNegativeBalance)
	}
	p.Balance += delta
	p.UpdatedAt = m.now()
	return p.Balance, nil
}

func (m *Memory) EnsurePlayer(ctx context.Context, np NewPlayer) (*models.Player, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(np.ID) == "" {
		return nil, fmt.Errorf("player id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.players[np.ID]; ok {
		copied := *p
		return &copied, nil
	}

	var referrerID string
	if code := normalizeCode(np.ReferrerCode); code != "" {
		id, ok := m.byCode[code]
		if !ok {
			return nil, ErrInvalidCode
		}
		referrerID = id
	}

	code := ""
	for attempt := 0; attempt < inviteCodeAttempts && code == ""; attempt++ {
		if c := m.codes(); m.byCode[c] == "" {
			code = c
		}
	}
	if code == "" {
		return nil, fmt.Errorf("create player %s: %w", np.ID, ErrCodeExhausted)
	}

	now := m.now()
	p := &models.Player{
		ID:         np.ID,
		Username:   np.Username,
		InviteCode: code,
		Balance:    np.Balance,
		ReferrerID: referrerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.players[p.ID] = p
	m.byCode[p.InviteCode] = p.ID

	copied := *p
	return &copied, nil
}

func (m *Memory) History(ctx context.Context, playerID string, limit int) ([]models.GameHistory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []models.GameHistory
	for i := len(m.histories) - 1; i >= 0; i-- {
		if m.histories[i].PlayerID != playerID {
			continue
		}
		rows = append(rows, m.histories[i])
		if limit > 0 && len(rows) == limit {
			break
		}
	}
	return rows, nil
}

// Settle stages all changes on copies of the touched players and commits them
// only when fn succeeds.
func (m *Memory) Settle(ctx context.Context, key string, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, done := m.settled[key]; done {
		return fmt.Errorf("settle %s: %w", key, ErrAlreadySettled)
	}

	tx := &memoryTx{ledger: m, staged: make(map[string]*models.Player)}
	if err := fn(tx); err != nil {
		return err
	}

	for id, p := range tx.staged {
		m.players[id] = p
	}
	m.histories = append(m.histories, tx.histories...)
	m.settled[key] = m.now()
	return nil
}

// SettledKeys lists recorded settlement keys in sorted order.
func (m *Memory) SettledKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.settled))
	for k := range m.settled {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *Memory) Close() error { return nil }

type memoryTx struct {
	ledger    *Memory
	staged    map[string]*models.Player
	histories []models.GameHistory
}

func (tx *memoryTx) AdjustBalance(ctx context.Context, playerID string, delta int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if _, ok := tx.staged[playerID]; !ok {
		p, ok := tx.ledger.players[playerID]
		if !ok {
			return 0, ErrPlayerNotFound
		}
		copied := *p
		tx.staged[playerID] = &copied
	}
	return tx.ledger.adjustLocked(tx.staged, playerID, delta)
}

func (tx *memoryTx) Record(ctx context.Context, h models.GameHistory) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = tx.ledger.now()
	}
	tx.histories = append(tx.histories, h)
	return nil
}

var _ Ledger = (*Memory)(nil)
