package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"dicebot/models"
)

// CreateBrandedEmbed creates a basic embed with bot branding
func CreateBrandedEmbed(title, description string, color int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Footer: &discordgo.MessageEmbedFooter{
			Text: FooterText,
		},
	}
}

// ErrorEmbed wraps a user-facing error message
func ErrorEmbed(message string) *discordgo.MessageEmbed {
	return CreateBrandedEmbed("Duel", message, ColorLoss)
}

// InsufficientChipsEmbed creates an embed for insufficient chips
func InsufficientChipsEmbed(requiredChips, currentBalance int64) *discordgo.MessageEmbed {
	return CreateBrandedEmbed(
		"Not Enough Chips",
		fmt.Sprintf("You don't have enough chips for this duel.\n**Your balance:** %s %s\n**Required:** %s %s",
			FormatChips(currentBalance), ChipsEmoji,
			FormatChips(requiredChips), ChipsEmoji),
		ColorLoss,
	)
}

// DuelRollsEmbed shows a duel while dice are still being rolled
func DuelRollsEmbed(title string, stake int64, creatorName string, creatorRolls []int, joinerName string, joinerRolls []int) *discordgo.MessageEmbed {
	embed := CreateBrandedEmbed(title, fmt.Sprintf("**Stake:** %s %s", FormatChips(stake), ChipsEmoji), ColorPending)
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: creatorName, Value: FormatRolls(creatorRolls), Inline: true},
	}
	if joinerName != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: joinerName, Value: FormatRolls(joinerRolls), Inline: true,
		})
	}
	return embed
}

// InviteEmbed is posted once the creator has rolled all dice
func InviteEmbed(creatorName string, stake int64, score int, inviteCode string) *discordgo.MessageEmbed {
	embed := CreateBrandedEmbed(
		fmt.Sprintf("%s %s challenges the channel", DiceEmoji, creatorName),
		fmt.Sprintf("**Stake:** %s %s\n**Score to beat:** %d\nPress **Join** to accept.", FormatChips(stake), ChipsEmoji, score),
		BotColor,
	)
	if inviteCode != "" {
		embed.Footer.Text = fmt.Sprintf("%s | invite code %s", FooterText, inviteCode)
	}
	return embed
}

// SettlementEmbed announces a finished duel
func SettlementEmbed(stake int64, creatorName string, creatorScore int, joinerName string, joinerScore int, winnerName string, winnerGain, referralFee int64) *discordgo.MessageEmbed {
	scores := fmt.Sprintf("%s: **%d**\n%s: **%d**", creatorName, creatorScore, joinerName, joinerScore)
	if winnerName == "" {
		embed := CreateBrandedEmbed("Duel tied", scores+"\n\nBalances unchanged.", ColorTie)
		return embed
	}

	// mentions do not render in titles
	embed := CreateBrandedEmbed(DiceEmoji+" Duel settled", fmt.Sprintf("%s\n\n**Winner:** %s", scores, winnerName), ColorWin)
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "Stake", Value: fmt.Sprintf("%s %s", FormatChips(stake), ChipsEmoji), Inline: true},
		{Name: "Winnings", Value: fmt.Sprintf("%s%s %s", getProfitPrefix(winnerGain), FormatChips(winnerGain), ChipsEmoji), Inline: true},
	}
	if referralFee > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "Referral", Value: fmt.Sprintf("%s %s", FormatChips(referralFee), ChipsEmoji), Inline: true,
		})
	}
	return embed
}

// BalanceEmbed shows a player's balance and invite code
func BalanceEmbed(name string, balance int64, inviteCode string) *discordgo.MessageEmbed {
	embed := CreateBrandedEmbed(
		fmt.Sprintf("%s's Balance", name),
		fmt.Sprintf("You currently have **%s** %s", FormatChips(balance), ChipsEmoji),
		BotColor,
	)
	if inviteCode != "" {
		embed.Fields = []*discordgo.MessageEmbedField{
			{Name: "Invite code", Value: "`" + inviteCode + "`", Inline: true},
		}
	}
	return embed
}

// HistoryEmbed lists a player's most recent duels
func HistoryEmbed(name string, rows []models.GameHistory) *discordgo.MessageEmbed {
	embed := CreateBrandedEmbed(fmt.Sprintf("%s's Duels", name), "", BotColor)
	if len(rows) == 0 {
		embed.Description = "No duels played yet."
		return embed
	}

	var b strings.Builder
	for _, h := range rows {
		fmt.Fprintf(&b, "`%s` %s stake %s, %s%s\n",
			h.CreatedAt.Format("Jan 02 15:04"), strings.ToUpper(h.Outcome),
			FormatChips(h.Stake), getProfitPrefix(h.Profit), FormatChips(h.Profit))
	}
	embed.Description = b.String()

	sum := models.Summarize(rows)
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "Record", Value: fmt.Sprintf("%dW / %dL / %dT", sum.Wins, sum.Losses, sum.Ties), Inline: true},
		{Name: "Win Rate", Value: fmt.Sprintf("%.1f%%", sum.WinRate()), Inline: true},
		{Name: "Net", Value: fmt.Sprintf("%s%s %s", getProfitPrefix(sum.Profit), FormatChips(sum.Profit), ChipsEmoji), Inline: true},
	}
	return embed
}

// HelpEmbed explains the rules
func HelpEmbed(minStake, maxStake, step int64, rolls int) *discordgo.MessageEmbed {
	embed := CreateBrandedEmbed(DiceEmoji+" How to duel", "", BotColor)
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "Start", Value: fmt.Sprintf("`/duel stake:<amount>` with a stake from %s to %s in steps of %s.", FormatChips(minStake), FormatChips(maxStake), FormatChips(step))},
		{Name: "Roll", Value: fmt.Sprintf("Roll %d dice. Your total is your score.", rolls)},
		{Name: "Join", Value: "Anyone with enough chips can press **Join** and roll against you."},
		{Name: "Payout", Value: "The higher total wins 90% of the stake. 7% goes to the winner's referrer and 3% to the house. Ties return nothing and cost nothing."},
	}
	return embed
}

// FormatRolls renders dice faces and the running total
func FormatRolls(rolls []int) string {
	if len(rolls) == 0 {
		return "waiting to roll"
	}
	faces := make([]string, len(rolls))
	total := 0
	for i, v := range rolls {
		face, ok := DieFaces[v]
		if !ok {
			face = strconv.Itoa(v)
		}
		faces[i] = face
		total += v
	}
	return fmt.Sprintf("%s = **%d**", strings.Join(faces, " "), total)
}

// Helper functions
func FormatChips(amount int64) string {
	return FormatNumber(amount)
}

func FormatNumber(num int64) string {
	if num < 0 {
		return "-" + FormatNumber(-num)
	}
	str := strconv.FormatInt(num, 10)
	if len(str) <= 3 {
		return str
	}

	// Add commas for thousands
	var result strings.Builder
	for i, r := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result.WriteString(",")
		}
		result.WriteRune(r)
	}

	return result.String()
}

func getProfitPrefix(profit int64) string {
	if profit > 0 {
		return "+"
	}
	return ""
}
