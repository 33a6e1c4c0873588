package otahun

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Mention is a user referenced in a message's mention list.
type Mention struct {
	ID          string
	DisplayName string
}

// Attachment is a file attached to a message.
type Attachment struct {
	URL string
}

// Sticker is a sticker sent with a message.
type Sticker struct {
	ID   string
	Name string
}

// URL returns the CDN address for the sticker image.
func (s Sticker) URL() string {
	return fmt.Sprintf("https://cdn.discordapp.com/stickers/%s.png", s.ID)
}

// MessageRef points at the message this event replies to.
type MessageRef struct {
	MessageID string
	ChannelID string
}

// MessageEvent is the normalized form of an inbound chat message, with
// every optional field made explicit.
type MessageEvent struct {
	MessageID   string
	ChannelID   string
	GuildID     string
	AuthorID    string
	AuthorName  string
	AuthorBot   bool
	Content     string
	Timestamp   time.Time
	Mentions    []Mention
	Reference   *MessageRef
	Attachments []Attachment
	Stickers    []Sticker
}

// MentionsUser reports whether the given user appears in the event's
// mention list.
func (e MessageEvent) MentionsUser(userID string) bool {
	for _, m := range e.Mentions {
		if m.ID == userID {
			return true
		}
	}
	return false
}

// NewMessageEvent converts a discordgo message into a MessageEvent,
// guarding every optional field.
func NewMessageEvent(m *discordgo.Message) MessageEvent {
	event := MessageEvent{
		MessageID: m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}

	if m.Author != nil {
		event.AuthorID = m.Author.ID
		event.AuthorName = displayName(m.Author, m.Member)
		event.AuthorBot = m.Author.Bot
	}

	for _, mention := range m.Mentions {
		if mention == nil {
			continue
		}
		event.Mentions = append(
			event.Mentions,
			Mention{ID: mention.ID, DisplayName: displayName(mention, nil)},
		)
	}

	if ref := m.MessageReference; ref != nil && ref.MessageID != "" {
		channelID := ref.ChannelID
		if channelID == "" {
			channelID = m.ChannelID
		}
		event.Reference = &MessageRef{
			MessageID: ref.MessageID,
			ChannelID: channelID,
		}
	}

	for _, att := range m.Attachments {
		if att == nil || att.URL == "" {
			continue
		}
		event.Attachments = append(event.Attachments, Attachment{URL: att.URL})
	}

	for _, st := range m.StickerItems {
		if st == nil {
			continue
		}
		event.Stickers = append(
			event.Stickers,
			Sticker{ID: st.ID, Name: st.Name},
		)
	}

	return event
}

// displayName picks the friendliest available name for a user: guild
// nickname, then global display name, then username.
func displayName(u *discordgo.User, member *discordgo.Member) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}
