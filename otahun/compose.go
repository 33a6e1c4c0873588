package otahun

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
)

// Composer assembles the ordered prompt sent to the completion
// endpoint: recorded turns, then reply context, then attachment and
// sticker references, then the current message. A fragment that can't
// be built (e.g. the reply target fails to fetch) is omitted; the
// rest of the prompt still goes out.
type Composer struct {
	botUserID  func() string
	contentCap int
	fetcher    MessageFetcher
	logger     *slog.Logger
}

func NewComposer(
	botUserID func() string,
	contentCap int,
	fetcher MessageFetcher,
	logger *slog.Logger,
) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{
		botUserID:  botUserID,
		contentCap: contentCap,
		fetcher:    fetcher,
		logger:     logger,
	}
}

func promptMessage(content string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: content,
	}
}

// FormatTurn renders a recorded turn as a single prompt line.
func FormatTurn(turn Turn) string {
	if turn.Bot {
		return fmt.Sprintf("[BOT] %s: %s", turn.Speaker, turn.Content)
	}
	return fmt.Sprintf("%s: %s", turn.Speaker, turn.Content)
}

// BuildPrompt produces the full ordered message sequence for the
// completion call. Output order is fixed: prior turns, reply context,
// reply attachments/stickers, current attachments/stickers, current
// message.
func (c *Composer) BuildPrompt(
	ctx context.Context,
	turns []Turn,
	event MessageEvent,
) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns)+4)

	for _, turn := range turns {
		messages = append(messages, promptMessage(FormatTurn(turn)))
	}

	messages = append(messages, c.replyContext(ctx, event)...)

	for _, att := range event.Attachments {
		messages = append(
			messages,
			promptMessage(fmt.Sprintf("[Attachment] %s", att.URL)),
		)
	}
	for _, st := range event.Stickers {
		messages = append(
			messages,
			promptMessage(fmt.Sprintf("[Sticker] %s %s", st.Name, st.URL())),
		)
	}

	content := c.renderContent(event)
	current := fmt.Sprintf("%s: %s", event.AuthorName, content)
	if event.AuthorBot {
		current = fmt.Sprintf("[BOT] %s: %s", event.AuthorName, content)
	}
	messages = append(messages, promptMessage(current))

	return messages
}

// replyContext builds the prompt fragment for the message this event
// replies to. A failed fetch drops the fragment with a warning.
func (c *Composer) replyContext(
	ctx context.Context,
	event MessageEvent,
) []openai.ChatCompletionMessage {
	if event.Reference == nil || event.Reference.MessageID == "" {
		return nil
	}
	if c.fetcher == nil {
		return nil
	}

	ref, err := c.fetcher.ChannelMessage(
		event.Reference.ChannelID,
		event.Reference.MessageID,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		c.logger.WarnContext(
			ctx,
			"omitting reply context",
			"channel_id", event.Reference.ChannelID,
			"message_id", event.Reference.MessageID,
			tint.Err(err),
		)
		return nil
	}

	author := ""
	if ref.Author != nil {
		author = displayName(ref.Author, ref.Member)
	}

	messages := []openai.ChatCompletionMessage{
		promptMessage(fmt.Sprintf(
			"[Replying to %s]: %s",
			author,
			truncate(ref.Content, c.contentCap),
		)),
	}
	for _, att := range ref.Attachments {
		if att == nil || att.URL == "" {
			continue
		}
		messages = append(
			messages,
			promptMessage(fmt.Sprintf("[Attachment] %s", att.URL)),
		)
	}
	for _, st := range ref.StickerItems {
		if st == nil {
			continue
		}
		sticker := Sticker{ID: st.ID, Name: st.Name}
		messages = append(
			messages,
			promptMessage(fmt.Sprintf("[Sticker] %s %s", st.Name, sticker.URL())),
		)
	}

	return messages
}

// renderContent strips the bot's own leading mention and rewrites the
// remaining mentions as readable @names.
func (c *Composer) renderContent(event MessageEvent) string {
	content := StripLeadingMention(event.Content, c.botUserID())
	for _, mention := range event.Mentions {
		name := "@" + mention.DisplayName
		content = strings.ReplaceAll(
			content, fmt.Sprintf("<@!%s>", mention.ID), name,
		)
		content = strings.ReplaceAll(
			content, fmt.Sprintf("<@%s>", mention.ID), name,
		)
	}
	return strings.TrimSpace(content)
}
