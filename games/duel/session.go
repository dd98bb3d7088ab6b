package duel

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stake rules
const (
	MinStake  int64 = 100
	MaxStake  int64 = 1000
	StakeStep int64 = 100
)

// ValidateStake checks the stake bounds and step.
func ValidateStake(stake int64) error {
	if stake < MinStake || stake > MaxStake || stake%StakeStep != 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidStake, stake)
	}
	return nil
}

// State is the lifecycle position of a session.
type State int

const (
	StateAwaitingCreatorRolls State = iota
	StateAwaitingOpponent
	StateAwaitingJoinerRolls
	StateSettled
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateAwaitingCreatorRolls:
		return "awaiting_creator_rolls"
	case StateAwaitingOpponent:
		return "awaiting_opponent"
	case StateAwaitingJoinerRolls:
		return "awaiting_joiner_rolls"
	case StateSettled:
		return "settled"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSettled || s == StateCancelled
}

// Cancellable reports whether the creator may still withdraw.
func (s State) Cancellable() bool {
	return s == StateAwaitingCreatorRolls || s == StateAwaitingOpponent
}

// Session is one wagered match. It is only touched while its store lock is held.
type Session struct {
	ID        string
	Stake     int64
	CreatorID string
	JoinerID  string
	State     State
	CreatedAt time.Time
	UpdatedAt time.Time

	creator Collector
	joiner  Collector

	// set by the controller before the creator's final roll is accepted
	creatorName string
	inviteCode  string
}

func newSession(creatorID string, stake int64, now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Stake:     stake,
		CreatorID: creatorID,
		State:     StateAwaitingCreatorRolls,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Session) transition(to State, now time.Time) {
	s.State = to
	s.UpdatedAt = now
}

// CreatorScore is set only once the creator has rolled all dice.
func (s *Session) CreatorScore() (int, bool) { return s.creator.Score() }

// JoinerScore is set only once the joiner has rolled all dice.
func (s *Session) JoinerScore() (int, bool) { return s.joiner.Score() }

// Participant reports whether playerID is the creator or the joiner.
func (s *Session) Participant(playerID string) bool {
	return playerID == s.CreatorID || (s.JoinerID != "" && playerID == s.JoinerID)
}

// Snapshot is a read-only copy of a session for rendering.
type Snapshot struct {
	ID           string
	Stake        int64
	CreatorID    string
	JoinerID     string
	State        State
	CreatorRolls []int
	JoinerRolls  []int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		ID:           s.ID,
		Stake:        s.Stake,
		CreatorID:    s.CreatorID,
		JoinerID:     s.JoinerID,
		State:        s.State,
		CreatorRolls: s.creator.Rolls(),
		JoinerRolls:  s.joiner.Rolls(),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}
