package duel

import (
	"errors"

	"dicebot/ledger"
)

// Validation errors: the same player may simply try again.
var (
	ErrInvalidStake      = errors.New("stake must be a multiple of 100 between 100 and 1000")
	ErrInvalidRoll       = errors.New("roll must be between 1 and 6")
	ErrRollLimitExceeded = errors.New("all dice for this player have already been rolled")
)

// State errors: the session cannot accept the operation any more.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrWrongState      = errors.New("operation not allowed in the current session state")
	ErrSelfJoin        = errors.New("cannot join your own session")
	ErrNotOwner        = errors.New("only the creator can cancel the session")
	ErrNotParticipant  = errors.New("player is not part of this session")
	ErrPlayerBusy      = errors.New("player already has an active session")
	ErrClosed          = errors.New("session controller is closed")
)

// Resource errors.
var (
	ErrPlayerNotRegistered = errors.New("player is not registered")
	ErrInsufficientBalance = errors.New("insufficient balance for stake")
	ErrLedgerUnavailable   = errors.New("ledger unavailable")
)

// Consistency errors indicate a concurrency bug or a broken ledger invariant.
var (
	ErrAlreadySettled  = errors.New("session already settled")
	ErrLockTimeout     = errors.New("timed out waiting for session lock")
	ErrSettlementVoid  = errors.New("settlement voided: ledger invariant violated")
	ErrSettlementFatal = errors.New("settlement failed after retries")
)

// Kind is the error taxonomy callers use to decide how to respond.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindState
	KindResource
	KindConsistency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindResource:
		return "resource"
	case KindConsistency:
		return "consistency"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by this package onto its Kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrInvalidStake), errors.Is(err, ErrInvalidRoll), errors.Is(err, ErrRollLimitExceeded):
		return KindValidation
	case errors.Is(err, ErrAlreadySettled), errors.Is(err, ErrLockTimeout),
		errors.Is(err, ErrSettlementVoid), errors.Is(err, ErrSettlementFatal),
		errors.Is(err, ledger.ErrAlreadySettled), errors.Is(err, ledger.ErrNegativeBalance):
		return KindConsistency
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrWrongState), errors.Is(err, ErrSelfJoin),
		errors.Is(err, ErrNotOwner), errors.Is(err, ErrNotParticipant), errors.Is(err, ErrPlayerBusy),
		errors.Is(err, ErrClosed):
		return KindState
	case errors.Is(err, ErrPlayerNotRegistered), errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrLedgerUnavailable), errors.Is(err, ledger.ErrPlayerNotFound):
		return KindResource
	default:
		return KindUnknown
	}
}
