package infrastructure

import (
	"context"
	"errors"
	"testing"
	"time"

	"satsledger/events"
	"satsledger/models"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockChannelMessenger struct {
	mock.Mock
}

func (m *mockChannelMessenger) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	args := m.Called(channelID, embed)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*discordgo.Message), args.Error(1)
}

func TestBuildModerationEmbed_Approve(t *testing.T) {
	createdAt := time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)
	embed := BuildModerationEmbed(models.AdminAction{
		ID:         "act-1",
		AdminID:    "admin-1",
		Action:     models.AdminActionApproveWithdrawal,
		TargetType: models.TargetTypeTransaction,
		TargetID:   "tx-1",
		Details: map[string]any{
			"wallet_id":   "wallet-1",
			"amount_sats": int64(150000),
		},
		CreatedAt: createdAt,
	})

	assert.Equal(t, "APPROVE WITHDRAWAL", embed.Title)
	assert.Equal(t, colorApproved, embed.Color)
	assert.Equal(t, "act-1", embed.Footer.Text)
	assert.Equal(t, "2026-05-04T10:30:00Z", embed.Timestamp)

	require.Len(t, embed.Fields, 4)
	assert.Equal(t, "admin-1", embed.Fields[0].Value)
	assert.Equal(t, "transaction `tx-1`", embed.Fields[1].Value)
	// Details are sorted by key
	assert.Equal(t, "amount_sats", embed.Fields[2].Name)
	assert.Equal(t, "0.00150000 BTC", embed.Fields[2].Value)
	assert.Equal(t, "wallet_id", embed.Fields[3].Name)
	assert.Equal(t, "wallet-1", embed.Fields[3].Value)
}

func TestBuildModerationEmbed_RejectWithDecodedDetails(t *testing.T) {
	embed := BuildModerationEmbed(models.AdminAction{
		ID:         "act-2",
		AdminID:    "admin-2",
		Action:     models.AdminActionRejectWithdrawal,
		TargetType: models.TargetTypeTransaction,
		TargetID:   "tx-2",
		Details: map[string]any{
			"reason":      "address flagged",
			"amount_sats": float64(25),
		},
	})

	assert.Equal(t, colorRejected, embed.Color)
	assert.Empty(t, embed.Timestamp)
	require.Len(t, embed.Fields, 4)
	assert.Equal(t, "0.00000025 BTC", embed.Fields[2].Value)
	assert.Equal(t, "address flagged", embed.Fields[3].Value)
}

func TestBuildModerationEmbed_OtherKindsAreNeutral(t *testing.T) {
	embed := BuildModerationEmbed(models.AdminAction{
		Action:     models.AdminActionToggleGame,
		TargetType: models.TargetTypeGame,
		TargetID:   "dice",
	})
	assert.Equal(t, colorNeutral, embed.Color)
	assert.Equal(t, "TOGGLE GAME", embed.Title)
}

func TestDiscordNotifier_PostsRecordedActions(t *testing.T) {
	messenger := &mockChannelMessenger{}
	sent := make(chan *discordgo.MessageEmbed, 1)
	messenger.On("ChannelMessageSendEmbed", "mod-channel", mock.AnythingOfType("*discordgo.MessageEmbed")).
		Run(func(args mock.Arguments) {
			sent <- args.Get(1).(*discordgo.MessageEmbed)
		}).
		Return(&discordgo.Message{ID: "m1"}, nil).Once()

	bus := events.NewBus()
	NewDiscordNotifier(messenger, "mod-channel").Register(bus)

	bus.Emit(context.Background(), events.AdminActionRecordedEvent{Action: models.AdminAction{
		ID:         "act-3",
		AdminID:    "admin-1",
		Action:     models.AdminActionRejectWithdrawal,
		TargetType: models.TargetTypeTransaction,
		TargetID:   "tx-3",
		Details:    map[string]any{"reason": "duplicate request"},
	}})

	select {
	case embed := <-sent:
		assert.Equal(t, "act-3", embed.Footer.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("moderation notice was not posted")
	}
	messenger.AssertExpectations(t)
}

func TestDiscordNotifier_SendFailureDoesNotPanic(t *testing.T) {
	messenger := &mockChannelMessenger{}
	messenger.On("ChannelMessageSendEmbed", "mod-channel", mock.Anything).
		Return(nil, errors.New("HTTP 403 Forbidden"))

	notifier := NewDiscordNotifier(messenger, "mod-channel")
	assert.NotPanics(t, func() {
		notifier.handle(context.Background(), events.AdminActionRecordedEvent{Action: models.AdminAction{ID: "act-4"}})
	})

	// Other event types are ignored
	notifier.handle(context.Background(), events.BalanceChangeEvent{})
	messenger.AssertNumberOfCalls(t, "ChannelMessageSendEmbed", 1)
}
