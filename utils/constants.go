package utils

// General Configuration
const (
	BotColor    = 0x5865F2
	FooterText  = "Dice Duel"
	HistorySize = 10
)

// Embed colors
const (
	ColorWin     = 0xFFD700 // Gold
	ColorLoss    = 0xFF0000 // Red
	ColorTie     = 0xD3D3D3 // Light grey
	ColorPending = 0x1E5631 // Casino Green
	ColorWarning = 0xF39C12 // Orange
)

// Custom IDs of duel buttons. The session ID follows the colon.
const (
	DuelRollPrefix   = "duel_roll:"
	DuelJoinPrefix   = "duel_join:"
	DuelCancelPrefix = "duel_cancel:"
)

// UI Messages
const (
	SessionGoneMessage   = "This duel is no longer available."
	SessionVoidMessage   = "The duel was voided because a balance changed during play. No chips were moved."
	SessionFailedMessage = "The duel could not be settled right now. No chips were moved; please contact an admin."
	ExpiredMessage       = "Your duel expired after a period of inactivity. No chips were moved."
	NotRegisteredMessage = "You don't have an account yet. Ask an admin to add you."
)

// Emojis and Discord Elements
const (
	ChipsEmoji = "🪙"
	DiceEmoji  = "🎲"
)

// DieFaces renders die values 1 to 6.
var DieFaces = map[int]string{
	1: "⚀",
	2: "⚁",
	3: "⚂",
	4: "⚃",
	5: "⚄",
	6: "⚅",
}
