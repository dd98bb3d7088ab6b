// Package duel runs two-player dice duels: session lifecycle, dice
// collection, and settlement against the ledger.
package duel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"dicebot/ledger"
)

// Config tunes the controller. Zero values fall back to defaults.
type Config struct {
	LockTimeout       time.Duration
	HouseAccountID    string
	SettleMaxAttempts uint
	SettleBackoff     time.Duration
}

// Controller owns the session store and orchestrates every session operation.
type Controller struct {
	store    *Store
	ledger   ledger.Ledger
	settler  *Settler
	notifier Notifier
	clock    quartz.Clock
	logger   *log.Logger
	cfg      Config
}

type Option func(*Controller)

func WithClock(clock quartz.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

func WithLogger(logger *log.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

func NewController(l ledger.Ledger, cfg Config, opts ...Option) *Controller {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 5 * time.Second
	}
	c := &Controller{
		ledger:   l,
		cfg:      cfg,
		clock:    quartz.NewReal(),
		logger:   log.New(io.Discard),
		notifier: NopNotifier{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithPrefix("duel")
	c.store = NewStore(c.clock, cfg.LockTimeout)
	c.settler = NewSettler(l, SettlerConfig{
		HouseAccountID:  cfg.HouseAccountID,
		MaxAttempts:     cfg.SettleMaxAttempts,
		InitialInterval: cfg.SettleBackoff,
	}, c.logger)
	return c
}

// CreateSession opens a session for creatorID. Funds are not escrowed; the
// creator's balance is only checked here and debited at settlement.
func (c *Controller) CreateSession(ctx context.Context, creatorID string, stake int64) (string, error) {
	if err := ValidateStake(stake); err != nil {
		return "", err
	}
	if err := c.checkSolvency(ctx, creatorID, stake); err != nil {
		return "", err
	}

	s := newSession(creatorID, stake, c.clock.Now())
	if err := c.store.Insert(s); err != nil {
		return "", err
	}
	c.logger.Debug("session created", "session", s.ID, "creator", creatorID, "stake", stake)
	return s.ID, nil
}

// RecordCreatorRoll adds a die to the creator's collector. The final roll
// moves the session to AwaitingOpponent and emits InviteReady.
func (c *Controller) RecordCreatorRoll(ctx context.Context, sessionID string, value int) (RollAck, error) {
	ack, _, err := c.recordCreatorRoll(ctx, sessionID, value)
	return ack, err
}

func (c *Controller) recordCreatorRoll(ctx context.Context, sessionID string, value int) (RollAck, *InviteReady, error) {
	var (
		ack    RollAck
		invite *InviteReady
	)
	err := c.store.With(ctx, sessionID, func(s *Session) error {
		if s.State != StateAwaitingCreatorRolls {
			if s.creator.Complete() {
				return ErrRollLimitExceeded
			}
			return fmt.Errorf("%w: %s", ErrWrongState, s.State)
		}
		if value < MinDieValue || value > MaxDieValue {
			return fmt.Errorf("%w: got %d", ErrInvalidRoll, value)
		}
		if s.creator.Remaining() == 1 && s.inviteCode == "" {
			p, err := c.ledger.GetPlayer(ctx, s.CreatorID)
			if err != nil {
				return c.ledgerError(err)
			}
			s.creatorName = p.DisplayName()
			s.inviteCode = p.InviteCode
		}
		if err := s.creator.Add(value); err != nil {
			return err
		}

		now := c.clock.Now()
		s.UpdatedAt = now
		ack = rollAck(s.ID, s.CreatorID, value, &s.creator)
		if s.creator.Complete() {
			s.transition(StateAwaitingOpponent, now)
			invite = &InviteReady{
				SessionID:    s.ID,
				Stake:        s.Stake,
				CreatorID:    s.CreatorID,
				CreatorName:  s.creatorName,
				CreatorScore: s.creator.Total(),
				InviteToken:  s.inviteCode,
			}
		}
		return nil
	})
	if err != nil {
		return RollAck{}, nil, err
	}
	if invite != nil {
		c.notifier.NotifyInvite(ctx, *invite)
	}
	return ack, invite, nil
}

// JoinSession seats joinerID as the opponent after checking solvency.
func (c *Controller) JoinSession(ctx context.Context, sessionID, joinerID string) error {
	return c.store.With(ctx, sessionID, func(s *Session) error {
		if joinerID == s.CreatorID {
			return ErrSelfJoin
		}
		if s.State != StateAwaitingOpponent {
			return fmt.Errorf("%w: %s", ErrWrongState, s.State)
		}
		if err := c.checkSolvency(ctx, joinerID, s.Stake); err != nil {
			return err
		}
		if err := c.store.Claim(joinerID, s.ID); err != nil {
			return err
		}
		s.JoinerID = joinerID
		s.transition(StateAwaitingJoinerRolls, c.clock.Now())
		c.logger.Debug("session joined", "session", s.ID, "joiner", joinerID)
		return nil
	})
}

// RecordJoinerRoll adds a die to the joiner's collector. The final roll
// settles the match synchronously; the session is removed whatever the
// settlement outcome.
func (c *Controller) RecordJoinerRoll(ctx context.Context, sessionID string, value int) (RollOutcome, error) {
	var (
		out      RollOutcome
		announce *SettlementAnnouncement
	)
	err := c.store.With(ctx, sessionID, func(s *Session) error {
		if s.State != StateAwaitingJoinerRolls {
			if s.joiner.Complete() {
				return ErrRollLimitExceeded
			}
			return fmt.Errorf("%w: %s", ErrWrongState, s.State)
		}
		if err := s.joiner.Add(value); err != nil {
			return err
		}

		now := c.clock.Now()
		s.UpdatedAt = now
		out.Ack = rollAck(s.ID, s.JoinerID, value, &s.joiner)
		if !s.joiner.Complete() {
			return nil
		}

		// Settled is set before the ledger is touched, so no later event on
		// this session can reach the settler again.
		s.transition(StateSettled, now)
		creatorScore, _ := s.CreatorScore()
		joinerScore, _ := s.JoinerScore()
		announce = &SettlementAnnouncement{
			SessionID:    s.ID,
			Stake:        s.Stake,
			CreatorID:    s.CreatorID,
			JoinerID:     s.JoinerID,
			CreatorScore: creatorScore,
			JoinerScore:  joinerScore,
		}

		res, err := c.settler.Settle(context.WithoutCancel(ctx), s.ID, SettlementInput{
			Stake:        s.Stake,
			CreatorID:    s.CreatorID,
			JoinerID:     s.JoinerID,
			CreatorScore: creatorScore,
			JoinerScore:  joinerScore,
		})
		if err != nil {
			announce.Err = err
			c.logger.Error("settlement failed",
				"session", s.ID, "stake", s.Stake, "creator", s.CreatorID, "joiner", s.JoinerID,
				"kind", Classify(err), "err", err)
			return err
		}
		announce.Result = res
		out.Settlement = res
		c.logger.Info("session settled", "session", s.ID, "outcome", res.Outcome, "summary", res.Summary())
		return nil
	})
	if announce != nil {
		c.notifier.NotifySettlement(ctx, *announce)
	}
	if err != nil {
		return RollOutcome{}, err
	}
	return out, nil
}

// CancelSession lets the creator withdraw before an opponent has joined.
func (c *Controller) CancelSession(ctx context.Context, sessionID, requesterID string) error {
	return c.store.With(ctx, sessionID, func(s *Session) error {
		if requesterID != s.CreatorID {
			return ErrNotOwner
		}
		if !s.State.Cancellable() {
			return fmt.Errorf("%w: %s", ErrWrongState, s.State)
		}
		s.transition(StateCancelled, c.clock.Now())
		c.logger.Debug("session cancelled", "session", s.ID)
		return nil
	})
}

// ExpireStale removes sessions idle for longer than maxAge. Age counts from
// UpdatedAt, which every roll and state change bumps, not from CreatedAt, so a
// duel that is still progressing is not cut off. Nothing was escrowed, so
// there is no ledger work to undo.
func (c *Controller) ExpireStale(ctx context.Context, now time.Time, maxAge time.Duration) []Snapshot {
	expired := c.store.Sweep(now, maxAge)
	if len(expired) > 0 {
		c.logger.Info("expired stale sessions", "count", len(expired))
	}
	for _, snap := range expired {
		c.notifier.NotifyExpired(ctx, SessionExpired{Session: snap})
	}
	return expired
}

// HandleRoll routes a roll to the creator's or joiner's collector.
func (c *Controller) HandleRoll(ctx context.Context, ev RollEvent) (RollOutcome, error) {
	sessionID := ev.SessionID
	if sessionID == "" {
		id, ok := c.store.ActiveSession(ev.PlayerID)
		if !ok {
			return RollOutcome{}, ErrSessionNotFound
		}
		sessionID = id
	}

	var creator bool
	err := c.store.With(ctx, sessionID, func(s *Session) error {
		if !s.Participant(ev.PlayerID) {
			return ErrNotParticipant
		}
		creator = ev.PlayerID == s.CreatorID
		return nil
	})
	if err != nil {
		return RollOutcome{}, err
	}

	if !creator {
		return c.RecordJoinerRoll(ctx, sessionID, ev.Value)
	}
	ack, invite, err := c.recordCreatorRoll(ctx, sessionID, ev.Value)
	if err != nil {
		return RollOutcome{}, err
	}
	return RollOutcome{Ack: ack, Creator: true, Invite: invite}, nil
}

// Session returns a copy of the session for rendering.
func (c *Controller) Session(ctx context.Context, sessionID string) (Snapshot, error) {
	var snap Snapshot
	err := c.store.With(ctx, sessionID, func(s *Session) error {
		snap = s.snapshot()
		return nil
	})
	return snap, err
}

// ActiveSession returns the session playerID currently takes part in.
func (c *Controller) ActiveSession(playerID string) (string, bool) {
	return c.store.ActiveSession(playerID)
}

// Len returns the number of live sessions.
func (c *Controller) Len() int { return c.store.Len() }

// Close tears the store down. Later operations fail with ErrClosed.
func (c *Controller) Close() {
	c.store.Close()
}

func (c *Controller) checkSolvency(ctx context.Context, playerID string, stake int64) error {
	balance, err := c.ledger.GetBalance(ctx, playerID)
	if err != nil {
		return c.ledgerError(err)
	}
	if balance < stake {
		return fmt.Errorf("%w: balance %d, stake %d", ErrInsufficientBalance, balance, stake)
	}
	return nil
}

func (c *Controller) ledgerError(err error) error {
	if errors.Is(err, ledger.ErrPlayerNotFound) {
		return ErrPlayerNotRegistered
	}
	return fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
}

func rollAck(sessionID, playerID string, value int, col *Collector) RollAck {
	return RollAck{
		SessionID:      sessionID,
		PlayerID:       playerID,
		Value:          value,
		RollsRemaining: col.Remaining(),
		CurrentTotal:   col.Total(),
	}
}
