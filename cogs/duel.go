package cogs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"

	"dicebot/games/duel"
	"dicebot/ledger"
	"dicebot/models"
	"dicebot/utils"
)

const interactionTimeout = 10 * time.Second

// Duel maps slash commands and button presses onto the duel controller.
type Duel struct {
	ctrl            *duel.Controller
	ledger          ledger.Ledger
	roller          duel.Roller
	notifier        *DiscordNotifier
	logger          *log.Logger
	startingBalance int64
	router          *utils.ComponentRouter
}

func NewDuel(ctrl *duel.Controller, l ledger.Ledger, roller duel.Roller, notifier *DiscordNotifier, logger *log.Logger, startingBalance int64) *Duel {
	if roller == nil {
		roller = duel.CryptoRoller{}
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	d := &Duel{
		ctrl:            ctrl,
		ledger:          l,
		roller:          roller,
		notifier:        notifier,
		logger:          logger.WithPrefix("cogs"),
		startingBalance: startingBalance,
	}
	d.router = utils.NewComponentRouter()
	d.router.Handle(utils.DuelRollPrefix, d.handleRoll)
	d.router.Handle(utils.DuelJoinPrefix, d.handleJoin)
	d.router.Handle(utils.DuelCancelPrefix, d.handleCancel)
	return d
}

// Commands returns the slash commands served by this cog
func (d *Duel) Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "duel",
			Description: "Start a dice duel",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "stake",
					Description: "Chips each player puts on the line",
					Required:    true,
					Choices:     stakeChoices(),
				},
			},
		},
		{
			Name:        "balance",
			Description: "Check your current chip balance",
		},
		{
			Name:        "history",
			Description: "Show your recent duels",
		},
		{
			Name:        "duelhelp",
			Description: "How dice duels work",
		},
	}
}

// HandleCommand handles slash commands. It reports false for commands it does not own.
func (d *Duel) HandleCommand(s *discordgo.Session, i *discordgo.InteractionCreate) bool {
	var err error
	switch i.ApplicationCommandData().Name {
	case "duel":
		err = d.handleDuel(s, i)
	case "balance":
		err = d.handleBalance(s, i)
	case "history":
		err = d.handleHistory(s, i)
	case "duelhelp":
		err = utils.SendInteractionResponse(s, i,
			utils.HelpEmbed(duel.MinStake, duel.MaxStake, duel.StakeStep, duel.RequiredRolls), nil, true)
	default:
		return false
	}
	if err != nil {
		d.logger.Error("command failed", "command", i.ApplicationCommandData().Name, "err", err)
	}
	return true
}

// HandleComponent handles duel button presses
func (d *Duel) HandleComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if utils.InteractionUser(i) == nil {
		return
	}
	if err := d.router.Dispatch(s, i); err != nil {
		d.logger.Warn("component failed", "custom_id", i.MessageComponentData().CustomID, "err", err)
	}
}

func (d *Duel) handleDuel(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	user := utils.InteractionUser(i)
	player, err := d.ensurePlayer(ctx, user)
	if err != nil {
		return d.replyError(s, i, err)
	}

	opts := i.ApplicationCommandData().Options
	if len(opts) == 0 {
		return d.replyError(s, i, duel.ErrInvalidStake)
	}
	stake := opts[0].IntValue()

	sessionID, err := d.ctrl.CreateSession(ctx, player.ID, stake)
	if errors.Is(err, duel.ErrInsufficientBalance) {
		return utils.SendInteractionResponse(s, i, utils.InsufficientChipsEmbed(stake, player.Balance), nil, true)
	}
	if err != nil {
		return d.replyError(s, i, err)
	}
	if d.notifier != nil {
		d.notifier.Track(sessionID, i.ChannelID)
	}

	d.logger.Info("duel started", "session", sessionID, "creator", player.ID, "stake", stake)
	embed := utils.DuelRollsEmbed("Roll your dice", stake, player.DisplayName(), nil, "", nil)
	return utils.SendInteractionResponse(s, i, embed, utils.RollView(sessionID, true), true)
}

func (d *Duel) handleRoll(s *discordgo.Session, i *discordgo.InteractionCreate, sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	value, err := d.roller.Roll()
	if err != nil {
		return d.replyError(s, i, err)
	}
	user := utils.InteractionUser(i)
	out, err := d.ctrl.HandleRoll(ctx, duel.RollEvent{SessionID: sessionID, PlayerID: user.ID, Value: value})
	if err != nil {
		if sessionEnded(err) {
			return utils.UpdateComponentInteraction(s, i, utils.ErrorEmbed(userMessage(err)), nil)
		}
		return d.replyError(s, i, err)
	}

	snap, err := d.ctrl.Session(ctx, sessionID)
	if err != nil {
		// settled and removed
		return utils.UpdateComponentInteraction(s, i, rollsDoneEmbed(out), nil)
	}

	title := "Roll your dice"
	var components []discordgo.MessageComponent
	switch {
	case !out.Ack.Complete():
		components = utils.RollView(sessionID, out.Creator)
	case out.Creator:
		title = "Waiting for an opponent"
		components = []discordgo.MessageComponent{utils.CreateActionRow(
			utils.CreateButton(utils.DuelCancelPrefix+sessionID, "Cancel", discordgo.DangerButton, false, nil),
		)}
	}
	rolls := snap.CreatorRolls
	if !out.Creator {
		rolls = snap.JoinerRolls
	}
	embed := utils.DuelRollsEmbed(title, snap.Stake, user.Username, rolls, "", nil)
	return utils.UpdateComponentInteraction(s, i, embed, components)
}

func (d *Duel) handleJoin(s *discordgo.Session, i *discordgo.InteractionCreate, sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	user := utils.InteractionUser(i)
	player, err := d.ensurePlayer(ctx, user)
	if err != nil {
		return d.replyError(s, i, err)
	}
	if err := d.ctrl.JoinSession(ctx, sessionID, player.ID); err != nil {
		if errors.Is(err, duel.ErrInsufficientBalance) {
			snap, serr := d.ctrl.Session(ctx, sessionID)
			if serr == nil {
				return utils.SendInteractionResponse(s, i, utils.InsufficientChipsEmbed(snap.Stake, player.Balance), nil, true)
			}
		}
		return d.replyError(s, i, err)
	}

	snap, err := d.ctrl.Session(ctx, sessionID)
	if err != nil {
		return d.replyError(s, i, err)
	}
	d.logger.Info("duel joined", "session", sessionID, "joiner", player.ID)
	embed := utils.DuelRollsEmbed("Roll your dice", snap.Stake, player.DisplayName(), nil, "", nil)
	return utils.SendInteractionResponse(s, i, embed, utils.RollView(sessionID, false), true)
}

func (d *Duel) handleCancel(s *discordgo.Session, i *discordgo.InteractionCreate, sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	user := utils.InteractionUser(i)
	if err := d.ctrl.CancelSession(ctx, sessionID, user.ID); err != nil {
		return d.replyError(s, i, err)
	}
	d.logger.Info("duel cancelled", "session", sessionID)

	embed := utils.CreateBrandedEmbed("Duel cancelled", "No chips were moved.", utils.ColorTie)
	err := utils.UpdateComponentInteraction(s, i, embed, nil)
	if d.notifier != nil {
		// the pressed message may be the invite itself, so remove it after answering
		d.notifier.Retire(sessionID)
	}
	return err
}

func (d *Duel) handleBalance(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	player, err := d.ensurePlayer(ctx, utils.InteractionUser(i))
	if err != nil {
		return d.replyError(s, i, err)
	}
	return utils.SendInteractionResponse(s, i, utils.BalanceEmbed(player.DisplayName(), player.Balance, player.InviteCode), nil, true)
}

func (d *Duel) handleHistory(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	player, err := d.ensurePlayer(ctx, utils.InteractionUser(i))
	if err != nil {
		return d.replyError(s, i, err)
	}
	rows, err := d.ledger.History(ctx, player.ID, utils.HistorySize)
	if err != nil {
		return d.replyError(s, i, fmt.Errorf("%w: %w", duel.ErrLedgerUnavailable, err))
	}
	return utils.SendInteractionResponse(s, i, utils.HistoryEmbed(player.DisplayName(), rows), nil, true)
}

// ensurePlayer registers first-time users with the starting balance.
func (d *Duel) ensurePlayer(ctx context.Context, user *discordgo.User) (*models.Player, error) {
	if user == nil {
		return nil, duel.ErrPlayerNotRegistered
	}
	p, err := d.ledger.EnsurePlayer(ctx, ledger.NewPlayer{
		ID:       user.ID,
		Username: user.Username,
		Balance:  d.startingBalance,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", duel.ErrLedgerUnavailable, err)
	}
	return p, nil
}

func (d *Duel) replyError(s *discordgo.Session, i *discordgo.InteractionCreate, err error) error {
	kind := duel.Classify(err)
	if kind == duel.KindUnknown || kind == duel.KindConsistency {
		d.logger.Error("duel error", "kind", kind, "err", err)
	} else {
		d.logger.Debug("duel rejected", "kind", kind, "err", err)
	}
	return utils.RespondEphemeral(s, i, "❌ "+userMessage(err))
}

func rollsDoneEmbed(out duel.RollOutcome) *discordgo.MessageEmbed {
	desc := fmt.Sprintf("Your total: **%d**", out.Ack.CurrentTotal)
	if out.Settlement != nil {
		desc += "\n" + out.Settlement.Summary()
	}
	return utils.CreateBrandedEmbed(utils.DiceEmoji+" All dice rolled", desc, utils.ColorPending)
}

func stakeChoices() []*discordgo.ApplicationCommandOptionChoice {
	var choices []*discordgo.ApplicationCommandOptionChoice
	for stake := duel.MinStake; stake <= duel.MaxStake; stake += duel.StakeStep {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{
			Name:  strconv.FormatInt(stake, 10),
			Value: stake,
		})
	}
	return choices
}

// userMessage turns a controller error into text for the player.
func userMessage(err error) string {
	switch {
	case errors.Is(err, duel.ErrInvalidStake):
		return fmt.Sprintf("Stakes run from %s to %s in steps of %s.",
			utils.FormatChips(duel.MinStake), utils.FormatChips(duel.MaxStake), utils.FormatChips(duel.StakeStep))
	case errors.Is(err, duel.ErrInvalidRoll):
		return "That die value is not valid."
	case errors.Is(err, duel.ErrRollLimitExceeded):
		return "You have already rolled all your dice."
	case errors.Is(err, duel.ErrSessionNotFound), errors.Is(err, duel.ErrClosed):
		return utils.SessionGoneMessage
	case errors.Is(err, duel.ErrSelfJoin):
		return "You can't join your own duel."
	case errors.Is(err, duel.ErrNotOwner):
		return "Only the player who started this duel can cancel it."
	case errors.Is(err, duel.ErrNotParticipant):
		return "You're not playing in this duel."
	case errors.Is(err, duel.ErrPlayerBusy):
		return "You already have a duel in progress."
	case errors.Is(err, duel.ErrWrongState):
		return "That isn't possible at this point of the duel."
	case errors.Is(err, duel.ErrInsufficientBalance):
		return "You don't have enough chips for this stake."
	case errors.Is(err, duel.ErrPlayerNotRegistered):
		return utils.NotRegisteredMessage
	case errors.Is(err, duel.ErrLedgerUnavailable):
		return "The bank is unavailable right now. Please try again shortly."
	case errors.Is(err, duel.ErrLockTimeout):
		return "The duel is busy. Please try again."
	case errors.Is(err, duel.ErrSettlementVoid), errors.Is(err, duel.ErrSettlementFatal), errors.Is(err, duel.ErrAlreadySettled):
		return settlementErrorMessage(err)
	default:
		return "Something went wrong. Please try again."
	}
}

// sessionEnded reports whether err left the session with nothing more to
// roll, so its buttons should go. A lock timeout leaves the session alive.
func sessionEnded(err error) bool {
	return errors.Is(err, duel.ErrSettlementVoid) ||
		errors.Is(err, duel.ErrSettlementFatal) ||
		errors.Is(err, duel.ErrAlreadySettled)
}

func settlementErrorMessage(err error) string {
	if errors.Is(err, duel.ErrSettlementVoid) {
		return utils.SessionVoidMessage
	}
	if errors.Is(err, duel.ErrAlreadySettled) {
		return utils.SessionGoneMessage
	}
	return utils.SessionFailedMessage
}
