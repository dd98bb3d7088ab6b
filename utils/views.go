package utils

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// ComponentHandler represents a function that handles component interactions
type ComponentHandler func(*discordgo.Session, *discordgo.InteractionCreate, string) error

// ComponentRouter dispatches button presses by custom ID prefix. The handler
// receives the remainder of the custom ID.
type ComponentRouter struct {
	prefixes []string
	handlers map[string]ComponentHandler
}

func NewComponentRouter() *ComponentRouter {
	return &ComponentRouter{handlers: make(map[string]ComponentHandler)}
}

// Handle registers a handler for custom IDs starting with prefix
func (cr *ComponentRouter) Handle(prefix string, handler ComponentHandler) {
	if _, exists := cr.handlers[prefix]; !exists {
		cr.prefixes = append(cr.prefixes, prefix)
	}
	cr.handlers[prefix] = handler
}

// Dispatch routes a component interaction to its handler
func (cr *ComponentRouter) Dispatch(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	customID := i.MessageComponentData().CustomID
	for _, prefix := range cr.prefixes {
		if strings.HasPrefix(customID, prefix) {
			return cr.handlers[prefix](s, i, strings.TrimPrefix(customID, prefix))
		}
	}
	return fmt.Errorf("no handler registered for component: %s", customID)
}

// CreateActionRow creates an action row with buttons
func CreateActionRow(buttons ...discordgo.MessageComponent) discordgo.MessageComponent {
	return discordgo.ActionsRow{
		Components: buttons,
	}
}

// CreateButton creates a button component
func CreateButton(customID, label string, style discordgo.ButtonStyle, disabled bool, emoji *discordgo.ComponentEmoji) discordgo.MessageComponent {
	button := discordgo.Button{
		CustomID: customID,
		Label:    label,
		Style:    style,
		Disabled: disabled,
	}

	if emoji != nil {
		button.Emoji = emoji
	}

	return button
}

// RollView is shown to a player who still has dice to roll
func RollView(sessionID string, cancellable bool) []discordgo.MessageComponent {
	buttons := []discordgo.MessageComponent{
		CreateButton(DuelRollPrefix+sessionID, "Roll", discordgo.PrimaryButton, false, &discordgo.ComponentEmoji{Name: DiceEmoji}),
	}
	if cancellable {
		buttons = append(buttons, CreateButton(DuelCancelPrefix+sessionID, "Cancel", discordgo.DangerButton, false, nil))
	}
	return []discordgo.MessageComponent{CreateActionRow(buttons...)}
}

// InviteView lets other players accept a duel
func InviteView(sessionID string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		CreateActionRow(
			CreateButton(DuelJoinPrefix+sessionID, "Join", discordgo.SuccessButton, false, &discordgo.ComponentEmoji{Name: "⚔️"}),
			CreateButton(DuelCancelPrefix+sessionID, "Cancel", discordgo.SecondaryButton, false, nil),
		),
	}
}

// SendInteractionResponse sends an interaction response with embed and components
func SendInteractionResponse(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, components []discordgo.MessageComponent, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{
		Embeds:     []*discordgo.MessageEmbed{OptimizeEmbedPayload(embed)},
		Components: components,
	}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
}

// UpdateComponentInteraction replaces the message a button belongs to. When
// the interaction token is gone it posts a fresh message to the channel.
func UpdateComponentInteraction(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, components []discordgo.MessageComponent) error {
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{OptimizeEmbedPayload(embed)},
			Components: components,
		},
	})
	if err == nil || !isWebhookExpiredError(err) {
		return err
	}
	_, err = s.ChannelMessageSendComplex(i.ChannelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{OptimizeEmbedPayload(embed)},
		Components: components,
	})
	return err
}

// RespondEphemeral sends a short private notice
func RespondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

// InteractionUser returns the invoking user for guild and DM interactions
func InteractionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func isWebhookExpiredError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "unknown webhook") ||
		strings.Contains(errStr, "\"code\": 10015") ||
		strings.Contains(errStr, "404 not found") ||
		strings.Contains(errStr, "unknown interaction")
}

// OptimizeEmbedPayload ensures embed payload is minimal and efficiently structured
func OptimizeEmbedPayload(embed *discordgo.MessageEmbed) *discordgo.MessageEmbed {
	if embed == nil {
		return embed
	}

	optimized := &discordgo.MessageEmbed{
		Title:       strings.TrimSpace(embed.Title),
		Description: strings.TrimSpace(embed.Description),
		Color:       embed.Color,
		Timestamp:   embed.Timestamp,
	}

	if embed.Footer != nil && strings.TrimSpace(embed.Footer.Text) != "" {
		optimized.Footer = &discordgo.MessageEmbedFooter{
			Text:    strings.TrimSpace(embed.Footer.Text),
			IconURL: embed.Footer.IconURL,
		}
	}

	if embed.Thumbnail != nil && embed.Thumbnail.URL != "" {
		optimized.Thumbnail = embed.Thumbnail
	}

	// drop empty fields, Discord rejects them
	for _, field := range embed.Fields {
		if field != nil && strings.TrimSpace(field.Name) != "" && strings.TrimSpace(field.Value) != "" {
			optimized.Fields = append(optimized.Fields, &discordgo.MessageEmbedField{
				Name:   strings.TrimSpace(field.Name),
				Value:  strings.TrimSpace(field.Value),
				Inline: field.Inline,
			})
		}
	}

	return optimized
}
