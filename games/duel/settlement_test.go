package duel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicebot/ledger"
)

func TestComputeSettlement(t *testing.T) {
	t.Run("tie changes nothing", func(t *testing.T) {
		res := ComputeSettlement(SettlementInput{Stake: 500, CreatorID: "a", JoinerID: "b", CreatorScore: 9, JoinerScore: 9, WinnerReferrerID: "r"})
		assert.Equal(t, OutcomeTie, res.Outcome)
		assert.Empty(t, res.Adjustments())
		assert.Zero(t, res.Retained())
		require.Len(t, res.Histories, 2)
		for _, h := range res.Histories {
			assert.Equal(t, "tie", h.Outcome)
			assert.Zero(t, h.Profit)
		}
	})

	t.Run("zero sum at 1000 with referrer and house", func(t *testing.T) {
		res := ComputeSettlement(SettlementInput{
			Stake: 1000, CreatorID: "a", JoinerID: "b",
			CreatorScore: 15, JoinerScore: 7,
			WinnerReferrerID: "r", HouseAccountID: "house",
		})
		assert.Equal(t, "a", res.WinnerID)
		assert.Equal(t, "b", res.LoserID)
		assert.Equal(t, int64(900), res.WinnerGain)
		assert.Equal(t, int64(-1000), res.LoserLoss)
		assert.Equal(t, int64(70), res.ReferralFee)
		assert.Equal(t, int64(30), res.ProjectFee)
		assert.Zero(t, res.WinnerGain+res.LoserLoss+res.ReferralFee+res.ProjectFee)
		assert.Zero(t, res.Retained())

		var sum int64
		for _, adj := range res.Adjustments() {
			sum += adj.Delta
		}
		assert.Zero(t, sum)
	})

	t.Run("no referrer retains the referral share", func(t *testing.T) {
		res := ComputeSettlement(SettlementInput{Stake: 1000, CreatorID: "a", JoinerID: "b", CreatorScore: 3, JoinerScore: 4})
		assert.Equal(t, "b", res.WinnerID)
		assert.Zero(t, res.ReferralFee)
		assert.Empty(t, res.ReferrerID)
		assert.Equal(t, int64(100), res.Retained())
		assert.Equal(t, []Adjustment{{PlayerID: "a", Delta: -1000}, {PlayerID: "b", Delta: 900}}, res.Adjustments())
	})

	t.Run("every stake floors the same way", func(t *testing.T) {
		for stake := MinStake; stake <= MaxStake; stake += StakeStep {
			res := ComputeSettlement(SettlementInput{Stake: stake, CreatorID: "a", JoinerID: "b", CreatorScore: 10, JoinerScore: 4, WinnerReferrerID: "r"})
			assert.Equal(t, stake*9/10, res.WinnerGain, "stake %d", stake)
			assert.Equal(t, stake*7/100, res.ReferralFee, "stake %d", stake)
			assert.Equal(t, stake*3/100, res.ProjectFee, "stake %d", stake)
		}
	})

	t.Run("loser who referred the winner gets one merged adjustment", func(t *testing.T) {
		res := ComputeSettlement(SettlementInput{Stake: 200, CreatorID: "a", JoinerID: "b", CreatorScore: 5, JoinerScore: 6, WinnerReferrerID: "a"})
		assert.Equal(t, []Adjustment{{PlayerID: "a", Delta: -186}, {PlayerID: "b", Delta: 180}}, res.Adjustments())
	})
}

// flakyLedger fails the first failures settlements with a transient error.
// With commitFirst set the first failing call still commits, as if the reply
// was lost on the way back.
type flakyLedger struct {
	ledger.Ledger
	mu          sync.Mutex
	failures    int
	commitFirst bool
	calls       int
}

var errTransient = errors.New("connection reset by peer")

func (f *flakyLedger) Settle(ctx context.Context, key string, fn func(ledger.Tx) error) error {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if call <= f.failures {
		if f.commitFirst && call == 1 {
			if err := f.Ledger.Settle(ctx, key, fn); err != nil {
				return err
			}
		}
		return errTransient
	}
	return f.Ledger.Settle(ctx, key, fn)
}

func seedLedger(t *testing.T, players map[string]int64) *ledger.Memory {
	t.Helper()
	mem := ledger.NewMemory()
	for id, balance := range players {
		_, err := mem.EnsurePlayer(context.Background(), ledger.NewPlayer{ID: id, Username: id, Balance: balance})
		require.NoError(t, err)
	}
	return mem
}

func balanceOf(t *testing.T, l ledger.Ledger, id string) int64 {
	t.Helper()
	b, err := l.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func TestSettler(t *testing.T) {
	ctx := context.Background()
	input := SettlementInput{Stake: 200, CreatorID: "creator", JoinerID: "joiner", CreatorScore: 12, JoinerScore: 18}
	fast := SettlerConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}

	t.Run("duplicate settlement applies once", func(t *testing.T) {
		mem := seedLedger(t, map[string]int64{"creator": 1000, "joiner": 1000})
		s := NewSettler(mem, fast, nil)

		res, err := s.Settle(ctx, "s1", input)
		require.NoError(t, err)
		assert.Equal(t, "joiner", res.WinnerID)

		_, err = s.Settle(ctx, "s1", input)
		require.ErrorIs(t, err, ErrAlreadySettled)
		assert.Equal(t, KindConsistency, Classify(err))

		assert.Equal(t, int64(800), balanceOf(t, mem, "creator"))
		assert.Equal(t, int64(1180), balanceOf(t, mem, "joiner"))
		assert.Equal(t, []string{"duel:s1"}, mem.SettledKeys())
	})

	t.Run("winner referrer and house are credited", func(t *testing.T) {
		mem := seedLedger(t, map[string]int64{"house": 0, "creator": 1000})
		ctx := context.Background()
		ref, err := mem.EnsurePlayer(ctx, ledger.NewPlayer{ID: "ref", Balance: 0})
		require.NoError(t, err)
		_, err = mem.EnsurePlayer(ctx, ledger.NewPlayer{ID: "joiner", Balance: 1000, ReferrerCode: ref.InviteCode})
		require.NoError(t, err)

		cfg := fast
		cfg.HouseAccountID = "house"
		s := NewSettler(mem, cfg, nil)

		stake := input
		stake.Stake = 1000
		res, err := s.Settle(ctx, "s2", stake)
		require.NoError(t, err)
		assert.Equal(t, "ref", res.ReferrerID)

		assert.Equal(t, int64(0), balanceOf(t, mem, "creator"))
		assert.Equal(t, int64(1900), balanceOf(t, mem, "joiner"))
		assert.Equal(t, int64(70), balanceOf(t, mem, "ref"))
		assert.Equal(t, int64(30), balanceOf(t, mem, "house"))
	})

	t.Run("transient failures are retried", func(t *testing.T) {
		mem := seedLedger(t, map[string]int64{"creator": 1000, "joiner": 1000})
		flaky := &flakyLedger{Ledger: mem, failures: 2}
		s := NewSettler(flaky, fast, nil)

		_, err := s.Settle(ctx, "s3", input)
		require.NoError(t, err)
		assert.Equal(t, 3, flaky.calls)
		assert.Equal(t, int64(1180), balanceOf(t, mem, "joiner"))
	})

	t.Run("lost reply is not applied twice", func(t *testing.T) {
		mem := seedLedger(t, map[string]int64{"creator": 1000, "joiner": 1000})
		flaky := &flakyLedger{Ledger: mem, failures: 1, commitFirst: true}
		s := NewSettler(flaky, fast, nil)

		_, err := s.Settle(ctx, "s4", input)
		require.NoError(t, err)
		assert.Equal(t, int64(1180), balanceOf(t, mem, "joiner"))
		assert.Equal(t, int64(800), balanceOf(t, mem, "creator"))
	})

	t.Run("retries are bounded", func(t *testing.T) {
		mem := seedLedger(t, map[string]int64{"creator": 1000, "joiner": 1000})
		flaky := &flakyLedger{Ledger: mem, failures: 10}
		s := NewSettler(flaky, fast, nil)

		_, err := s.Settle(ctx, "s5", input)
		require.ErrorIs(t, err, ErrSettlementFatal)
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 3, flaky.calls)
		assert.Equal(t, int64(1000), balanceOf(t, mem, "joiner"))
	})

	t.Run("negative balance voids the settlement", func(t *testing.T) {
		mem := seedLedger(t, map[string]int64{"creator": 100, "joiner": 1000})
		s := NewSettler(mem, fast, nil)

		_, err := s.Settle(ctx, "s6", input)
		require.ErrorIs(t, err, ErrSettlementVoid)
		assert.ErrorIs(t, err, ledger.ErrNegativeBalance)
		assert.Equal(t, KindConsistency, Classify(err))

		assert.Equal(t, int64(100), balanceOf(t, mem, "creator"))
		assert.Equal(t, int64(1000), balanceOf(t, mem, "joiner"))
		assert.Empty(t, mem.SettledKeys())
	})

	t.Run("tie records history only", func(t *testing.T) {
		mem := seedLedger(t, map[string]int64{"creator": 1000, "joiner": 1000})
		s := NewSettler(mem, fast, nil)

		tie := input
		tie.JoinerScore = tie.CreatorScore
		res, err := s.Settle(ctx, "s7", tie)
		require.NoError(t, err)
		assert.Equal(t, OutcomeTie, res.Outcome)
		assert.Equal(t, int64(1000), balanceOf(t, mem, "creator"))
		assert.Equal(t, int64(1000), balanceOf(t, mem, "joiner"))

		rows, err := mem.History(ctx, "creator", 10)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "s7", rows[0].SessionID)
	})
}
