package models

import "time"

// Outcome labels stored with each game history row
const (
	OutcomeWin  = "win"
	OutcomeLoss = "loss"
	OutcomeTie  = "tie"
)

// GameHistory is the audit record written for one player after a settled duel
type GameHistory struct {
	PlayerID  string    `json:"player_id"`
	SessionID string    `json:"session_id"`
	Stake     int64     `json:"stake"`
	Outcome   string    `json:"outcome"`
	Profit    int64     `json:"profit"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary aggregates a player's history rows
type Summary struct {
	Wins   int
	Losses int
	Ties   int
	Profit int64
}

// Summarize folds history rows into win/loss/tie counts and net profit
func Summarize(rows []GameHistory) Summary {
	var s Summary
	for _, h := range rows {
		switch h.Outcome {
		case OutcomeWin:
			s.Wins++
		case OutcomeLoss:
			s.Losses++
		case OutcomeTie:
			s.Ties++
		}
		s.Profit += h.Profit
	}
	return s
}

// WinRate calculates the win rate as a percentage of decisive games
func (s Summary) WinRate() float64 {
	total := s.Wins + s.Losses
	if total == 0 {
		return 0.0
	}
	return (float64(s.Wins) / float64(total)) * 100
}
