package main

import (
	"context"
	"errors"
	"fmt"

	"dicebot/ledger"
	"dicebot/utils"
)

type MigrateCmd struct{}

func (c *MigrateCmd) Run(g *Globals) error {
	ctx := context.Background()
	cfg, _, err := g.load()
	if err != nil {
		return err
	}
	if cfg.LedgerBackend() == "memory" {
		return errors.New("nothing to migrate: set DATABASE_URL or SQLITE_PATH")
	}

	// opening a database ledger applies its schema
	l, cfg, _, err := g.openLedger(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	if err := utils.EnsureHouseAccount(ctx, l, cfg); err != nil {
		return err
	}
	g.printf("%s schema is up to date\n", cfg.LedgerBackend())
	return nil
}

type PlayerCmd struct {
	Add   PlayerAddCmd   `cmd:"" help:"Register a player"`
	Show  PlayerShowCmd  `cmd:"" help:"Show a player's balance and recent duels"`
	Grant PlayerGrantCmd `cmd:"" help:"Add or remove chips"`
}

type PlayerAddCmd struct {
	ID           string `arg:"" help:"Discord user ID"`
	Username     string `help:"Display name"`
	Balance      *int64 `help:"Opening balance (defaults to STARTING_BALANCE)"`
	ReferrerCode string `name:"referrer-code" help:"Invite code of the referring player"`
}

func (c *PlayerAddCmd) Run(g *Globals) error {
	ctx := context.Background()
	l, cfg, _, err := g.openLedger(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	balance := cfg.StartingBalance
	if c.Balance != nil {
		balance = *c.Balance
	}
	if balance < 0 {
		return fmt.Errorf("balance must not be negative: %d", balance)
	}

	p, err := l.EnsurePlayer(ctx, ledger.NewPlayer{
		ID:           c.ID,
		Username:     c.Username,
		Balance:      balance,
		ReferrerCode: c.ReferrerCode,
	})
	if err != nil {
		return fmt.Errorf("failed to add player: %w", err)
	}
	g.printf("%s balance=%d invite=%s referrer=%s\n", p.DisplayName(), p.Balance, p.InviteCode, p.ReferrerID)
	return nil
}

type PlayerShowCmd struct {
	ID string `arg:"" help:"Discord user ID"`
}

func (c *PlayerShowCmd) Run(g *Globals) error {
	ctx := context.Background()
	l, _, _, err := g.openLedger(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	p, err := l.GetPlayer(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("failed to get player: %w", err)
	}
	rows, err := l.History(ctx, c.ID, utils.HistorySize)
	if err != nil {
		return fmt.Errorf("failed to get history: %w", err)
	}

	g.printf("%s balance=%d invite=%s referrer=%s\n", p.DisplayName(), p.Balance, p.InviteCode, p.ReferrerID)
	for _, h := range rows {
		g.printf("  %s %-4s stake=%d profit=%d\n", h.CreatedAt.Format("2006-01-02 15:04"), h.Outcome, h.Stake, h.Profit)
	}
	return nil
}

type PlayerGrantCmd struct {
	ID     string `arg:"" help:"Discord user ID"`
	Amount int64  `arg:"" help:"Chips to add, negative to remove"`
}

func (c *PlayerGrantCmd) Run(g *Globals) error {
	ctx := context.Background()
	l, _, logger, err := g.openLedger(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	balance, err := l.AdjustBalance(ctx, c.ID, c.Amount)
	if err != nil {
		return fmt.Errorf("failed to grant chips: %w", err)
	}
	logger.Info("balance adjusted", "player", c.ID, "delta", c.Amount, "balance", balance)
	g.printf("%s balance=%d\n", c.ID, balance)
	return nil
}
