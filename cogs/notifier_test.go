package cogs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicebot/games/duel"
	"dicebot/ledger"
	"dicebot/utils"
)

type sentMessage struct {
	channelID string
	msg       *discordgo.MessageSend
}

type fakeChannel struct {
	mu      sync.Mutex
	sent    []sentMessage
	deleted []string
	sendErr error
}

func (f *fakeChannel) send(channelID string, msg *discordgo.MessageSend) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, sentMessage{channelID: channelID, msg: msg})
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

func (f *fakeChannel) remove(channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, channelID+"/"+messageID)
	return nil
}

func newTestNotifier() (*DiscordNotifier, *fakeChannel) {
	f := &fakeChannel{}
	logger := log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
	return newDiscordNotifier(f.send, f.remove, logger), f
}

func TestNotifierIgnoresUntrackedSessions(t *testing.T) {
	n, f := newTestNotifier()
	ctx := context.Background()

	n.NotifyInvite(ctx, duel.InviteReady{SessionID: "s"})
	n.NotifySettlement(ctx, duel.SettlementAnnouncement{SessionID: "s", Result: &duel.SettlementResult{}})
	n.NotifyExpired(ctx, duel.SessionExpired{Session: duel.Snapshot{ID: "s"}})

	assert.Empty(t, f.sent)
	assert.Empty(t, f.deleted)
}

func TestNotifierInviteThenSettlement(t *testing.T) {
	n, f := newTestNotifier()
	ctx := context.Background()
	n.Track("s", "chan")

	n.NotifyInvite(ctx, duel.InviteReady{SessionID: "s", Stake: 200, CreatorID: "a", CreatorName: "alice", CreatorScore: 12, InviteToken: "ABCD1234"})
	require.Len(t, f.sent, 1)
	assert.Equal(t, "chan", f.sent[0].channelID)
	require.Len(t, f.sent[0].msg.Components, 1)
	row := f.sent[0].msg.Components[0].(discordgo.ActionsRow)
	assert.Equal(t, utils.DuelJoinPrefix+"s", row.Components[0].(discordgo.Button).CustomID)

	res := duel.ComputeSettlement(duel.SettlementInput{Stake: 200, CreatorID: "a", JoinerID: "b", CreatorScore: 12, JoinerScore: 5})
	n.NotifySettlement(ctx, duel.SettlementAnnouncement{
		SessionID: "s", Stake: 200, CreatorID: "a", JoinerID: "b", CreatorScore: 12, JoinerScore: 5, Result: &res,
	})

	require.Len(t, f.sent, 2)
	settled := f.sent[1].msg
	assert.Equal(t, "<@a> <@b>", settled.Content)
	assert.Equal(t, utils.ColorWin, settled.Embeds[0].Color)
	assert.Contains(t, settled.Embeds[0].Description, "**Winner:** <@a>")
	assert.Equal(t, []string{"chan/msg-1"}, f.deleted, "invite is removed once the duel is over")
	_, tracked := n.channel("s")
	assert.False(t, tracked)
}

func TestNotifierVoidedSettlement(t *testing.T) {
	n, f := newTestNotifier()
	n.Track("s", "chan")

	n.NotifySettlement(context.Background(), duel.SettlementAnnouncement{
		SessionID: "s", CreatorID: "a", JoinerID: "b",
		Err: fmt.Errorf("%w: %w", duel.ErrSettlementVoid, ledger.ErrNegativeBalance),
	})

	require.Len(t, f.sent, 1)
	assert.Equal(t, utils.SessionVoidMessage, f.sent[0].msg.Embeds[0].Description)
}

func TestNotifierLogsSettlementSummary(t *testing.T) {
	var buf bytes.Buffer
	f := &fakeChannel{}
	n := newDiscordNotifier(f.send, f.remove, log.NewWithOptions(&buf, log.Options{Level: log.InfoLevel}))
	ctx := context.Background()

	res := duel.ComputeSettlement(duel.SettlementInput{Stake: 100, CreatorID: "a", JoinerID: "b", CreatorScore: 9, JoinerScore: 4})
	ev := duel.SettlementAnnouncement{SessionID: "s", Stake: 100, CreatorID: "a", JoinerID: "b", CreatorScore: 9, JoinerScore: 4, Result: &res}
	n.Track("s", "chan")
	n.NotifySettlement(ctx, ev)
	require.Len(t, f.sent, 1)
	assert.Contains(t, buf.String(), "settlement announced")
	assert.Contains(t, buf.String(), res.Summary())

	buf.Reset()
	n.Track("v", "chan")
	n.NotifySettlement(ctx, duel.SettlementAnnouncement{SessionID: "v", CreatorID: "a", JoinerID: "b", Err: duel.ErrSettlementVoid})
	assert.Contains(t, buf.String(), "match voided, no balances were changed")
}

func TestNotifierExpired(t *testing.T) {
	n, f := newTestNotifier()
	n.Track("s", "chan")

	n.NotifyExpired(context.Background(), duel.SessionExpired{Session: duel.Snapshot{ID: "s", CreatorID: "a"}})

	require.Len(t, f.sent, 1)
	assert.Equal(t, "<@a>", f.sent[0].msg.Content)
	assert.Equal(t, utils.ExpiredMessage, f.sent[0].msg.Embeds[0].Description)
	_, tracked := n.channel("s")
	assert.False(t, tracked)
}

func TestNotifierSendFailureIsLogged(t *testing.T) {
	n, f := newTestNotifier()
	f.sendErr = errors.New("403 Forbidden")
	n.Track("s", "chan")

	n.NotifyInvite(context.Background(), duel.InviteReady{SessionID: "s"})
	n.Retire("s")
	assert.Empty(t, f.deleted, "no invite was posted")
}

// The notifier is driven by a real controller so events arrive in lifecycle order.
func TestNotifierWithController(t *testing.T) {
	ctx := context.Background()
	mem := ledger.NewMemory()
	for id, bal := range map[string]int64{"a": 1000, "b": 1000} {
		_, err := mem.EnsurePlayer(ctx, ledger.NewPlayer{ID: id, Username: strings.ToUpper(id), Balance: bal})
		require.NoError(t, err)
	}
	n, f := newTestNotifier()
	ctrl := duel.NewController(mem, duel.Config{LockTimeout: time.Second, SettleBackoff: time.Millisecond}, duel.WithNotifier(n))
	t.Cleanup(ctrl.Close)

	id, err := ctrl.CreateSession(ctx, "a", 100)
	require.NoError(t, err)
	n.Track(id, "chan")
	for _, v := range []int{6, 6, 6} {
		_, err := ctrl.HandleRoll(ctx, duel.RollEvent{SessionID: id, PlayerID: "a", Value: v})
		require.NoError(t, err)
	}
	require.Len(t, f.sent, 1, "invite posted")

	require.NoError(t, ctrl.JoinSession(ctx, id, "b"))
	for _, v := range []int{1, 1, 1} {
		_, err := ctrl.HandleRoll(ctx, duel.RollEvent{SessionID: id, PlayerID: "b", Value: v})
		require.NoError(t, err)
	}

	require.Len(t, f.sent, 2, "settlement posted")
	assert.Len(t, f.deleted, 1)
	bal, err := mem.GetBalance(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1090), bal)
}
