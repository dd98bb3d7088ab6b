package duel

import "context"

// RollEvent is a die value delivered by the transport. SessionID may be empty,
// in which case the player's active session is used.
type RollEvent struct {
	SessionID string
	PlayerID  string
	Value     int
}

// RollAck acknowledges an accepted roll.
type RollAck struct {
	SessionID      string
	PlayerID       string
	Value          int
	RollsRemaining int
	CurrentTotal   int
}

// Complete reports whether the player has rolled all dice.
func (a RollAck) Complete() bool { return a.RollsRemaining == 0 }

// RollOutcome is returned for every accepted roll. Settlement is set when the
// roll completed the match.
type RollOutcome struct {
	Ack        RollAck
	Creator    bool
	Invite     *InviteReady
	Settlement *SettlementResult
}

// InviteReady is emitted once the creator has rolled all dice.
type InviteReady struct {
	SessionID    string
	Stake        int64
	CreatorID    string
	CreatorName  string
	CreatorScore int
	InviteToken  string
}

// SettlementAnnouncement goes to both participants once a match ends. Err is
// set when the settlement was voided or failed.
type SettlementAnnouncement struct {
	SessionID    string
	Stake        int64
	CreatorID    string
	JoinerID     string
	CreatorScore int
	JoinerScore  int
	Result       *SettlementResult
	Err          error
}

// Summary is the result text shown to players.
func (a SettlementAnnouncement) Summary() string {
	if a.Err != nil {
		return "match voided, no balances were changed"
	}
	if a.Result == nil {
		return ""
	}
	return a.Result.Summary()
}

// SessionExpired is emitted for every session removed by a sweep.
type SessionExpired struct {
	Session Snapshot
}

// Notifier delivers outbound events to the chat transport. Calls are made
// after the session lock is released.
type Notifier interface {
	NotifyInvite(ctx context.Context, ev InviteReady)
	NotifySettlement(ctx context.Context, ev SettlementAnnouncement)
	NotifyExpired(ctx context.Context, ev SessionExpired)
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) NotifyInvite(context.Context, InviteReady)                {}
func (NopNotifier) NotifySettlement(context.Context, SettlementAnnouncement) {}
func (NopNotifier) NotifyExpired(context.Context, SessionExpired)            {}
