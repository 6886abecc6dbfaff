package infrastructure

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"satsledger/events"
	"satsledger/models"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"
)

const (
	colorApproved = 0x2ECC71
	colorRejected = 0xE74C3C
	colorNeutral  = 0x95A5A6
)

// ChannelMessenger is the part of *discordgo.Session the notifier uses
type ChannelMessenger interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier posts every committed admin action to a moderation channel
type DiscordNotifier struct {
	messenger ChannelMessenger
	channelID string
}

// NewDiscordNotifier creates a notifier posting to channelID
func NewDiscordNotifier(messenger ChannelMessenger, channelID string) *DiscordNotifier {
	return &DiscordNotifier{
		messenger: messenger,
		channelID: channelID,
	}
}

// OpenDiscordSession opens a bot session for the notifier
func OpenDiscordSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("failed to open Discord session: %w", err)
	}

	log.Info("Discord session opened for moderation feed")
	return session, nil
}

// Register subscribes the notifier to admin action events
func (n *DiscordNotifier) Register(bus *events.Bus) {
	bus.Subscribe(events.EventTypeAdminActionRecorded, n.handle)
}

func (n *DiscordNotifier) handle(ctx context.Context, event events.Event) {
	recorded, ok := event.(events.AdminActionRecordedEvent)
	if !ok {
		return
	}

	if _, err := n.messenger.ChannelMessageSendEmbed(n.channelID, BuildModerationEmbed(recorded.Action)); err != nil {
		log.WithFields(log.Fields{
			"channelID": n.channelID,
			"actionID":  recorded.Action.ID,
		}).WithError(err).Error("Failed to post moderation notice")
	}
}

// BuildModerationEmbed renders an admin action as a Discord embed
func BuildModerationEmbed(action models.AdminAction) *discordgo.MessageEmbed {
	color := colorNeutral
	switch action.Action {
	case models.AdminActionApproveWithdrawal:
		color = colorApproved
	case models.AdminActionRejectWithdrawal, models.AdminActionBanUser:
		color = colorRejected
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Admin", Value: action.AdminID, Inline: true},
		{Name: "Target", Value: fmt.Sprintf("%s `%s`", action.TargetType, action.TargetID), Inline: true},
	}

	keys := make([]string, 0, len(action.Details))
	for k := range action.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  k,
			Value: formatDetail(k, action.Details[k]),
		})
	}

	embed := &discordgo.MessageEmbed{
		Title:  strings.ReplaceAll(string(action.Action), "_", " "),
		Color:  color,
		Fields: fields,
		Footer: &discordgo.MessageEmbedFooter{Text: action.ID},
	}
	if !action.CreatedAt.IsZero() {
		embed.Timestamp = action.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return embed
}

// formatDetail shows sat amounts in BTC, the display unit
func formatDetail(key string, value any) string {
	if strings.HasSuffix(key, "_sats") {
		switch v := value.(type) {
		case int64:
			return models.Sats(v).FormatBTC() + " BTC"
		case float64:
			// JSON round trips turn integers into float64
			return models.Sats(int64(v)).FormatBTC() + " BTC"
		}
	}
	return fmt.Sprint(value)
}
