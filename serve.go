package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"dicebot/cogs"
	"dicebot/games/duel"
	"dicebot/utils"
)

type ServeCmd struct{}

func (c *ServeCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l, cfg, logger, err := g.openLedger(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	if err := utils.EnsureHouseAccount(ctx, l, cfg); err != nil {
		return err
	}

	status := newBotStatus("starting")

	var (
		session  *discordgo.Session
		notifier *cogs.DiscordNotifier
	)
	opts := []duel.Option{duel.WithLogger(logger)}
	if cfg.BotToken != "" {
		session, err = discordgo.New("Bot " + cfg.BotToken)
		if err != nil {
			return fmt.Errorf("failed to create Discord session: %w", err)
		}
		notifier = cogs.NewDiscordNotifier(session, logger.WithPrefix("notify"))
		opts = append(opts, duel.WithNotifier(notifier))
	}

	ctrl := duel.NewController(l, duel.Config{
		LockTimeout:       cfg.SessionLockTimeout,
		HouseAccountID:    cfg.HouseAccountID,
		SettleMaxAttempts: cfg.SettleMaxAttempts,
	}, opts...)
	defer ctrl.Close()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return serveHealth(ctx, cfg.HealthAddr(), healthRouter(status, ctrl.Len), logger.WithPrefix("health"))
	})
	eg.Go(func() error {
		return ctrl.RunSweeper(ctx, cfg.SweepInterval, cfg.SessionMaxAge)
	})

	if session == nil {
		logger.Warn("BOT_TOKEN not set, Discord bot will not connect")
		status.Set("no_token")
	} else {
		cog := cogs.NewDuel(ctrl, l, duel.CryptoRoller{}, notifier, logger, cfg.StartingBalance)
		b := &bot{cog: cog, guildID: cfg.GuildID, status: status, logger: logger.WithPrefix("discord")}
		eg.Go(func() error {
			return b.run(ctx, session)
		})
	}

	err = eg.Wait()
	logger.Info("shutting down", "sessions", ctrl.Len())
	return err
}

// bot wires discordgo events to the duel cog.
type bot struct {
	cog     *cogs.Duel
	guildID string
	status  *botStatus
	logger  *log.Logger
}

func (b *bot) run(ctx context.Context, s *discordgo.Session) error {
	s.Identify.Intents = discordgo.IntentsGuildMessages
	s.AddHandler(b.onReady)
	s.AddHandler(b.onInteractionCreate)

	if err := s.Open(); err != nil {
		b.status.Set("connection_failed")
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}
	b.status.Set("running")
	b.logger.Info("bot is running")

	<-ctx.Done()
	b.status.Set("shutting_down")
	return s.Close()
}

func (b *bot) onReady(s *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("logged in", "user", event.User.Username, "id", event.User.ID)
	b.status.Set("online")

	if err := s.UpdateGameStatus(0, "Dice Duels"); err != nil {
		b.logger.Warn("failed to update status", "err", err)
	}

	for _, command := range b.cog.Commands() {
		if _, err := s.ApplicationCommandCreate(s.State.User.ID, b.guildID, command); err != nil {
			b.logger.Error("failed to create command", "command", command.Name, "err", err)
		}
	}
}

func (b *bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		if !b.cog.HandleCommand(s, i) {
			b.logger.Warn("unknown command", "command", i.ApplicationCommandData().Name)
		}
	case discordgo.InteractionMessageComponent:
		b.cog.HandleComponent(s, i)
	}
}
