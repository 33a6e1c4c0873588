package otahun

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// MessageSender is the outbound message surface used by the
// dispatcher. *discordgo.Session satisfies this.
type MessageSender interface {
	ChannelMessageSend(
		channelID string,
		content string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessageSendReply(
		channelID string,
		content string,
		reference *discordgo.MessageReference,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
}

// Dispatcher chunks a reply to fit the transport size limit and emits
// the chunks in order, pausing between them so the recipient sees them
// arrive in sequence.
type Dispatcher struct {
	sender       MessageSender
	maxChunkSize int
	pause        time.Duration
	errorMessage string
	emptyMessage string
	logger       *slog.Logger

	// sleep is swapped out in tests
	sleep func(ctx context.Context, d time.Duration)
}

func NewDispatcher(
	sender MessageSender,
	cfg *ChatConfig,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sender:       sender,
		maxChunkSize: discordMaxMessageLength,
		pause:        cfg.InterChunkPause,
		errorMessage: DefaultDeliveryErrorMessage,
		emptyMessage: DefaultEmptyResponseMessage,
		logger:       logger,
		sleep:        sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Deliver sends text as one or more reply chunks to the event's
// channel. An empty or whitespace-only reply is replaced by a fixed
// fallback line. A failed send is answered with a single best-effort
// error chunk; if that also fails, it's dropped.
func (d *Dispatcher) Deliver(
	ctx context.Context,
	event MessageEvent,
	text string,
) error {
	if strings.TrimSpace(text) == "" {
		text = d.emptyMessage
	}

	reference := &discordgo.MessageReference{
		MessageID: event.MessageID,
		ChannelID: event.ChannelID,
		GuildID:   event.GuildID,
	}

	for i, chunk := range ChunkText(text, d.maxChunkSize) {
		if i > 0 {
			d.sleep(ctx, d.pause)
		}
		_, err := d.sender.ChannelMessageSendReply(
			event.ChannelID,
			chunk,
			reference,
			discordgo.WithContext(ctx),
		)
		if err != nil {
			d.logger.ErrorContext(
				ctx,
				"send failed",
				"channel_id", event.ChannelID,
				"chunk", i,
				"chunk_length", len(chunk),
				tint.Err(err),
			)
			if _, sendErr := d.sender.ChannelMessageSend(
				event.ChannelID,
				d.errorMessage,
				discordgo.WithContext(ctx),
			); sendErr != nil {
				d.logger.WarnContext(
					ctx,
					"error fallback also failed",
					"channel_id", event.ChannelID,
					tint.Err(sendErr),
				)
			}
			return err
		}
	}
	return nil
}
