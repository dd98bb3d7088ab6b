package duel

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Dice rules
const (
	RequiredRolls = 3
	MinDieValue   = 1
	MaxDieValue   = 6
)

// Collector accumulates one player's dice for one session. Once RequiredRolls
// values have been accepted it is terminal and rejects further rolls.
type Collector struct {
	rolls []int
	total int
}

// Add records a die value. It never changes the collector on error.
func (c *Collector) Add(value int) error {
	if c.Complete() {
		return ErrRollLimitExceeded
	}
	if value < MinDieValue || value > MaxDieValue {
		return fmt.Errorf("%w: got %d", ErrInvalidRoll, value)
	}
	c.rolls = append(c.rolls, value)
	c.total += value
	return nil
}

func (c *Collector) RollsReceived() int { return len(c.rolls) }

func (c *Collector) Remaining() int { return RequiredRolls - len(c.rolls) }

func (c *Collector) Complete() bool { return len(c.rolls) >= RequiredRolls }

// Total is the running sum of accepted rolls.
func (c *Collector) Total() int { return c.total }

// Score returns the final score, or false while rolls are outstanding.
func (c *Collector) Score() (int, bool) {
	if !c.Complete() {
		return 0, false
	}
	return c.total, true
}

// Rolls returns a copy of the accepted values in order.
func (c *Collector) Rolls() []int {
	out := make([]int, len(c.rolls))
	copy(out, c.rolls)
	return out
}

// Roller produces die values for transports that do not roll client side.
type Roller interface {
	Roll() (int, error)
}

// CryptoRoller draws uniformly from crypto/rand.
type CryptoRoller struct{}

func (CryptoRoller) Roll() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(MaxDieValue))
	if err != nil {
		return 0, fmt.Errorf("failed to roll die: %w", err)
	}
	return int(n.Int64()) + MinDieValue, nil
}
