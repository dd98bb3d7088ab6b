package models

import (
	"time"
)

// Player represents a chat user holding a chip balance in the ledger
type Player struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	InviteCode string    `json:"invite_code"`
	Balance    int64     `json:"balance"`
	ReferrerID string    `json:"referrer_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DisplayName returns the username, falling back to the player ID
func (p *Player) DisplayName() string {
	if p.Username != "" {
		return p.Username
	}
	return p.ID
}
