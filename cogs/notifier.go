package cogs

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"dicebot/games/duel"
	"dicebot/utils"
)

type sendFunc func(channelID string, msg *discordgo.MessageSend) (string, error)
type deleteFunc func(channelID, messageID string) error

// channelSendsPerSecond keeps sweeps that expire many sessions under
// Discord's per-channel limit.
const channelSendsPerSecond = 5

// DiscordNotifier posts duel events to the channel a duel was started in.
type DiscordNotifier struct {
	send    sendFunc
	remove  deleteFunc
	limiter *utils.RateLimiter
	logger  *log.Logger

	mu       sync.Mutex
	channels map[string]string // session -> channel
	invites  map[string]string // session -> invite message
}

func NewDiscordNotifier(s *discordgo.Session, logger *log.Logger) *DiscordNotifier {
	n := newDiscordNotifier(
		func(channelID string, msg *discordgo.MessageSend) (string, error) {
			m, err := s.ChannelMessageSendComplex(channelID, msg)
			if err != nil {
				return "", err
			}
			return m.ID, nil
		},
		func(channelID, messageID string) error {
			return s.ChannelMessageDelete(channelID, messageID)
		},
		logger,
	)
	n.limiter = utils.NewRateLimiter(quartz.NewReal(), channelSendsPerSecond)
	return n
}

func newDiscordNotifier(send sendFunc, del deleteFunc, logger *log.Logger) *DiscordNotifier {
	return &DiscordNotifier{
		send:     send,
		remove:   del,
		logger:   logger,
		channels: make(map[string]string),
		invites:  make(map[string]string),
	}
}

// Track remembers where a session was started.
func (n *DiscordNotifier) Track(sessionID, channelID string) {
	n.mu.Lock()
	n.channels[sessionID] = channelID
	n.mu.Unlock()
}

func (n *DiscordNotifier) NotifyInvite(ctx context.Context, ev duel.InviteReady) {
	channelID, ok := n.channel(ev.SessionID)
	if !ok {
		return
	}
	msgID, err := n.post(ctx, channelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{utils.InviteEmbed(ev.CreatorName, ev.Stake, ev.CreatorScore, ev.InviteToken)},
		Components: utils.InviteView(ev.SessionID),
	})
	if err != nil {
		n.logger.Error("failed to post invite", "session", ev.SessionID, "err", err)
		return
	}
	n.mu.Lock()
	n.invites[ev.SessionID] = msgID
	n.mu.Unlock()
}

func (n *DiscordNotifier) NotifySettlement(ctx context.Context, ev duel.SettlementAnnouncement) {
	channelID, ok := n.Retire(ev.SessionID)
	if !ok {
		return
	}

	var embed *discordgo.MessageEmbed
	switch {
	case ev.Err != nil:
		embed = utils.ErrorEmbed(settlementErrorMessage(ev.Err))
	case ev.Result == nil:
		return
	default:
		embed = settlementEmbed(ev)
	}

	_, err := n.post(ctx, channelID, &discordgo.MessageSend{
		Content: fmt.Sprintf("%s %s", mention(ev.CreatorID), mention(ev.JoinerID)),
		Embeds:  []*discordgo.MessageEmbed{embed},
	})
	if err != nil {
		n.logger.Error("failed to post settlement", "session", ev.SessionID, "summary", ev.Summary(), "err", err)
		return
	}
	n.logger.Info("settlement announced", "session", ev.SessionID, "channel", channelID, "summary", ev.Summary())
}

func (n *DiscordNotifier) NotifyExpired(ctx context.Context, ev duel.SessionExpired) {
	channelID, ok := n.Retire(ev.Session.ID)
	if !ok {
		return
	}
	content := mention(ev.Session.CreatorID)
	if ev.Session.JoinerID != "" {
		content += " " + mention(ev.Session.JoinerID)
	}
	_, err := n.post(ctx, channelID, &discordgo.MessageSend{
		Content: content,
		Embeds:  []*discordgo.MessageEmbed{utils.CreateBrandedEmbed("Duel expired", utils.ExpiredMessage, utils.ColorWarning)},
	})
	if err != nil {
		n.logger.Error("failed to post expiry", "session", ev.Session.ID, "err", err)
	}
}

// Retire forgets a session and removes its invite message. It returns the
// channel the session was tracked in.
func (n *DiscordNotifier) Retire(sessionID string) (string, bool) {
	n.mu.Lock()
	channelID, ok := n.channels[sessionID]
	inviteID, hasInvite := n.invites[sessionID]
	delete(n.channels, sessionID)
	delete(n.invites, sessionID)
	n.mu.Unlock()

	if hasInvite {
		if err := n.remove(channelID, inviteID); err != nil {
			n.logger.Warn("failed to remove invite", "session", sessionID, "err", err)
		}
	}
	return channelID, ok
}

func (n *DiscordNotifier) post(ctx context.Context, channelID string, msg *discordgo.MessageSend) (string, error) {
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	return n.send(channelID, msg)
}

func (n *DiscordNotifier) channel(sessionID string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch, ok := n.channels[sessionID]
	return ch, ok
}

func settlementEmbed(ev duel.SettlementAnnouncement) *discordgo.MessageEmbed {
	res := ev.Result
	winner := ""
	if res.Outcome == duel.OutcomeDecisive {
		winner = mention(res.WinnerID)
	}
	return utils.SettlementEmbed(ev.Stake,
		mention(ev.CreatorID), ev.CreatorScore,
		mention(ev.JoinerID), ev.JoinerScore,
		winner, res.WinnerGain, res.ReferralFee)
}

func mention(userID string) string {
	if userID == "" {
		return ""
	}
	return "<@" + userID + ">"
}
