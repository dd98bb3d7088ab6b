package duel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"

	"dicebot/ledger"
	"dicebot/models"
)

// Payout rates in basis points of the stake. Integer division floors, which
// keeps every amount reproducible.
const (
	bpsDenominator   int64 = 10000
	PayoutMultiplier int64 = 19000 // 1.9x
	ReferralFeeRate  int64 = 700   // 7%
	ProjectFeeRate   int64 = 300   // 3%
)

// SettlementKeyPrefix namespaces duel settlements in the ledger's idempotency keys.
const SettlementKeyPrefix = "duel:"

// SettlementKey is the idempotency key recorded for a session's settlement.
func SettlementKey(sessionID string) string {
	return SettlementKeyPrefix + sessionID
}

type Outcome int

const (
	OutcomeTie Outcome = iota
	OutcomeDecisive
)

func (o Outcome) String() string {
	if o == OutcomeDecisive {
		return "decisive"
	}
	return "tie"
}

// SettlementInput is everything the payout depends on.
type SettlementInput struct {
	Stake        int64
	CreatorID    string
	JoinerID     string
	CreatorScore int
	JoinerScore  int
	// Referrer of the winning player, empty when there is none.
	WinnerReferrerID string
	// House account credited with the project fee, empty to leave it untracked.
	HouseAccountID string
}

// Winner returns the winner and loser, or ok=false on a tie.
func (in SettlementInput) Winner() (winner, loser string, ok bool) {
	switch {
	case in.CreatorScore > in.JoinerScore:
		return in.CreatorID, in.JoinerID, true
	case in.JoinerScore > in.CreatorScore:
		return in.JoinerID, in.CreatorID, true
	default:
		return "", "", false
	}
}

// Adjustment is one balance change applied by a settlement.
type Adjustment struct {
	PlayerID string
	Delta    int64
}

type SettlementResult struct {
	SessionID      string
	Outcome        Outcome
	Stake          int64
	WinnerID       string
	LoserID        string
	WinnerGain     int64
	LoserLoss      int64
	ReferralFee    int64
	ReferrerID     string
	ProjectFee     int64
	HouseAccountID string
	Histories      []models.GameHistory
}

// ComputeSettlement is a pure function of the input.
func ComputeSettlement(in SettlementInput) SettlementResult {
	res := SettlementResult{Stake: in.Stake, Outcome: OutcomeTie}

	winner, loser, decisive := in.Winner()
	if !decisive {
		res.Histories = []models.GameHistory{
			{PlayerID: in.CreatorID, Stake: in.Stake, Outcome: models.OutcomeTie},
			{PlayerID: in.JoinerID, Stake: in.Stake, Outcome: models.OutcomeTie},
		}
		return res
	}

	res.Outcome = OutcomeDecisive
	res.WinnerID = winner
	res.LoserID = loser
	res.WinnerGain = in.Stake*PayoutMultiplier/bpsDenominator - in.Stake
	res.LoserLoss = -in.Stake
	res.ProjectFee = in.Stake * ProjectFeeRate / bpsDenominator
	if in.WinnerReferrerID != "" {
		res.ReferrerID = in.WinnerReferrerID
		res.ReferralFee = in.Stake * ReferralFeeRate / bpsDenominator
	}
	res.HouseAccountID = in.HouseAccountID
	res.Histories = []models.GameHistory{
		{PlayerID: winner, Stake: in.Stake, Outcome: models.OutcomeWin, Profit: res.WinnerGain},
		{PlayerID: loser, Stake: in.Stake, Outcome: models.OutcomeLoss, Profit: res.LoserLoss},
	}
	return res
}

// Retained is the part of the loser's stake nobody was credited with.
func (r SettlementResult) Retained() int64 {
	if r.Outcome == OutcomeTie {
		return 0
	}
	credited := r.WinnerGain + r.ReferralFee
	if r.HouseAccountID != "" {
		credited += r.ProjectFee
	}
	return -r.LoserLoss - credited
}

// Adjustments lists the balance changes, merged per player and ordered by
// player ID so concurrent settlements touch rows in the same order.
func (r SettlementResult) Adjustments() []Adjustment {
	if r.Outcome == OutcomeTie {
		return nil
	}
	deltas := map[string]int64{
		r.WinnerID: r.WinnerGain,
	}
	deltas[r.LoserID] += r.LoserLoss
	if r.ReferrerID != "" && r.ReferralFee > 0 {
		deltas[r.ReferrerID] += r.ReferralFee
	}
	if r.HouseAccountID != "" && r.ProjectFee > 0 {
		deltas[r.HouseAccountID] += r.ProjectFee
	}

	out := make([]Adjustment, 0, len(deltas))
	for id, d := range deltas {
		if d != 0 {
			out = append(out, Adjustment{PlayerID: id, Delta: d})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out
}

// Summary renders a one-line description for announcements and logs.
func (r SettlementResult) Summary() string {
	if r.Outcome == OutcomeTie {
		return fmt.Sprintf("tie at stake %d, balances unchanged", r.Stake)
	}
	s := fmt.Sprintf("%s wins %d from %s", r.WinnerID, r.WinnerGain, r.LoserID)
	if r.ReferrerID != "" {
		s += fmt.Sprintf(", referral %d to %s", r.ReferralFee, r.ReferrerID)
	}
	return s
}

// SettlerConfig controls retries of transient ledger failures.
type SettlerConfig struct {
	HouseAccountID  string
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Settler applies settlements to the ledger exactly once per session.
type Settler struct {
	ledger ledger.Ledger
	cfg    SettlerConfig
	logger *log.Logger
}

func NewSettler(l ledger.Ledger, cfg SettlerConfig, logger *log.Logger) *Settler {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 2 * time.Second
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Settler{ledger: l, cfg: cfg, logger: logger}
}

// Settle computes the payout for sessionID and applies it in one ledger
// transaction under the session's settlement key. Transient ledger errors are
// retried; a negative balance voids the settlement.
func (s *Settler) Settle(ctx context.Context, sessionID string, in SettlementInput) (*SettlementResult, error) {
	in.HouseAccountID = s.cfg.HouseAccountID
	key := SettlementKey(sessionID)

	attempt := 0
	operation := func() (*SettlementResult, error) {
		attempt++

		if winner, _, ok := in.Winner(); ok && in.WinnerReferrerID == "" {
			referrer, err := s.ledger.ResolveReferrer(ctx, winner)
			if err != nil {
				if ledger.Permanent(err) {
					return nil, backoff.Permanent(err)
				}
				return nil, fmt.Errorf("failed to resolve referrer: %w", err)
			}
			in.WinnerReferrerID = referrer
		}

		res := ComputeSettlement(in)
		res.SessionID = sessionID
		for i := range res.Histories {
			res.Histories[i].SessionID = sessionID
		}

		err := s.ledger.Settle(ctx, key, func(tx ledger.Tx) error {
			for _, adj := range res.Adjustments() {
				if _, err := tx.AdjustBalance(ctx, adj.PlayerID, adj.Delta); err != nil {
					return err
				}
			}
			for _, h := range res.Histories {
				if err := tx.Record(ctx, h); err != nil {
					return err
				}
			}
			return nil
		})
		switch {
		case err == nil:
			return &res, nil
		case errors.Is(err, ledger.ErrAlreadySettled) && attempt > 1:
			// an earlier attempt committed but its reply was lost
			s.logger.Warn("settlement committed by earlier attempt", "session", sessionID, "attempt", attempt)
			return &res, nil
		case errors.Is(err, ledger.ErrAlreadySettled):
			return nil, backoff.Permanent(fmt.Errorf("%w: %w", ErrAlreadySettled, err))
		case ledger.Permanent(err):
			return nil, backoff.Permanent(err)
		default:
			s.logger.Warn("settlement attempt failed", "session", sessionID, "attempt", attempt, "err", err)
			return nil, err
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialInterval
	b.MaxInterval = s.cfg.MaxInterval

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.cfg.MaxAttempts),
	)
	if err == nil {
		return res, nil
	}

	switch {
	case errors.Is(err, ErrAlreadySettled):
		return nil, err
	case errors.Is(err, ledger.ErrNegativeBalance), errors.Is(err, ledger.ErrPlayerNotFound):
		return nil, fmt.Errorf("%w: %w", ErrSettlementVoid, err)
	default:
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrSettlementFatal, attempt, err)
	}
}
