package otahun

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func slashCommandInteraction(channelID string, name string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        "i1",
			Type:      discordgo.InteractionApplicationCommand,
			ChannelID: channelID,
			Data: discordgo.ApplicationCommandInteractionData{
				Name: name,
			},
		},
	}
}

func TestHandlerInteractionCreate_ActiveToggles(t *testing.T) {
	f := newPipelineFixture(t)
	handler := f.bot.discord.handlerInteractionCreate()

	handler(nil, slashCommandInteraction("c1", DiscordSlashCommandActive))
	require.Len(t, f.session.interactions, 1)
	assert.Equal(t, activatedMessage, f.session.interactions[0].Data.Content)
	assert.True(t, f.bot.activations.Active("c1"))

	handler(nil, slashCommandInteraction("c1", DiscordSlashCommandActive))
	require.Len(t, f.session.interactions, 2)
	assert.Equal(t, deactivatedMessage, f.session.interactions[1].Data.Content)
	assert.False(t, f.bot.activations.Active("c1"))

	// toggle confirmations are only visible to the invoking user
	for _, resp := range f.session.interactions {
		assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
	}
}

func TestHandlerInteractionCreate_IgnoresOtherCommands(t *testing.T) {
	f := newPipelineFixture(t)
	handler := f.bot.discord.handlerInteractionCreate()

	handler(nil, slashCommandInteraction("c1", "unrelated"))
	assert.Empty(t, f.session.interactions)
	assert.False(t, f.bot.activations.Active("c1"))
}

func TestHandlerConnectDisconnect(t *testing.T) {
	f := newPipelineFixture(t)
	disc := f.bot.discord

	disc.handlerConnect()(nil, &discordgo.Connect{})
	assert.True(t, disc.connected.Load())
	assert.Equal(t, int64(1), disc.metricConnects.Load())

	disc.handlerDisconnect()(nil, &discordgo.Disconnect{})
	assert.False(t, disc.connected.Load())
	assert.Equal(t, int64(1), disc.metricDisconnects.Load())
}

func TestRegisterCommands(t *testing.T) {
	f := newPipelineFixture(t)

	created, err := f.bot.discord.registerCommands()
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, DiscordSlashCommandActive, created[0].Name)
}
