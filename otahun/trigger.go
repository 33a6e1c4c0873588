package otahun

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// resetPattern matches the reserved reset phrase anywhere in a message.
// Reset attempts are always intercepted and refused.
var resetPattern = regexp.MustCompile(`(?i)(?:^|\s)!reset(?:[\s!.,?]|$)`)

// IsResetAttempt reports whether the message content contains the
// reserved reset phrase.
func IsResetAttempt(content string) bool {
	return resetPattern.MatchString(content)
}

// DefaultKeywordTriggers returns the stock list of words and phrases
// which force a response even without a mention.
func DefaultKeywordTriggers() []string {
	return []string{
		"server down",
		"server dead",
		"bug bounty",
		"hacking",
		"discord",
		"otahun",
		"coding",
		"anime",
		"waifu",
		"geek",
		"nerd",
		"help",
		"roast",
		"narcissist",
		"everyone",
		"anyone",
		"teach",
		"skill",
		"hack",
		"solve this",
		"solve",
		"mf",
	}
}

// compileKeywordTriggers wraps each trigger in case-insensitive word
// boundaries. Invalid patterns can't occur since the input is quoted.
func compileKeywordTriggers(triggers []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(triggers))
	for _, t := range triggers {
		patterns = append(
			patterns,
			regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(t)+`\b`),
		)
	}
	return patterns
}

// StripLeadingMention removes a leading mention of the given user from
// message content, so "@bot hello" composes as just "hello".
func StripLeadingMention(content string, userID string) string {
	stripped := strings.TrimSpace(content)
	for _, mention := range []string{
		fmt.Sprintf("<@!%s>", userID),
		fmt.Sprintf("<@%s>", userID),
	} {
		if strings.HasPrefix(stripped, mention) {
			return strings.TrimSpace(strings.TrimPrefix(stripped, mention))
		}
	}
	return stripped
}

// ActivationSet tracks the channels in which the bot responds to every
// message, without requiring a mention.
type ActivationSet struct {
	mu       sync.RWMutex
	channels map[string]bool
}

func NewActivationSet() *ActivationSet {
	return &ActivationSet{channels: map[string]bool{}}
}

// Activate marks the channel active, reporting whether the state changed.
func (a *ActivationSet) Activate(channelID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.channels[channelID] {
		return false
	}
	a.channels[channelID] = true
	return true
}

// Deactivate clears the channel, reporting whether the state changed.
func (a *ActivationSet) Deactivate(channelID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.channels[channelID] {
		return false
	}
	delete(a.channels, channelID)
	return true
}

// Toggle flips the channel's state and returns the new state.
func (a *ActivationSet) Toggle(channelID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.channels[channelID] {
		delete(a.channels, channelID)
		return false
	}
	a.channels[channelID] = true
	return true
}

func (a *ActivationSet) Active(channelID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.channels[channelID]
}

// MessageFetcher retrieves a single channel message, used to inspect
// the target of a reply. *discordgo.Session satisfies this.
type MessageFetcher interface {
	ChannelMessage(
		channelID string,
		messageID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
}

// TriggerEvaluator decides whether an inbound message requires a
// response: explicit mention, reply to one of the bot's messages,
// per-channel activation, or a keyword match. botUserID is a func
// because the bot's real user ID only becomes known once the gateway
// ready payload arrives.
type TriggerEvaluator struct {
	botUserID   func() string
	keywords    []*regexp.Regexp
	activations *ActivationSet
	fetcher     MessageFetcher
	logger      *slog.Logger
}

func NewTriggerEvaluator(
	botUserID func() string,
	triggers []string,
	activations *ActivationSet,
	fetcher MessageFetcher,
	logger *slog.Logger,
) *TriggerEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &TriggerEvaluator{
		botUserID:   botUserID,
		keywords:    compileKeywordTriggers(triggers),
		activations: activations,
		fetcher:     fetcher,
		logger:      logger,
	}
}

// ShouldRespond reports whether the bot must respond to the event.
// The reply target is only fetched when no cheaper trigger already
// matched; a failed fetch degrades to "not a reply to us".
func (t *TriggerEvaluator) ShouldRespond(
	ctx context.Context,
	event MessageEvent,
) bool {
	if t.activations.Active(event.ChannelID) {
		return true
	}
	if event.MentionsUser(t.botUserID()) {
		return true
	}
	for _, pattern := range t.keywords {
		if pattern.MatchString(event.Content) {
			return true
		}
	}
	return t.isReplyToBot(ctx, event)
}

func (t *TriggerEvaluator) isReplyToBot(
	ctx context.Context,
	event MessageEvent,
) bool {
	if event.Reference == nil || event.Reference.MessageID == "" {
		return false
	}
	if t.fetcher == nil {
		return false
	}
	ref, err := t.fetcher.ChannelMessage(
		event.ChannelID,
		event.Reference.MessageID,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		t.logger.WarnContext(
			ctx,
			"unable to fetch reply target",
			"channel_id", event.ChannelID,
			"message_id", event.Reference.MessageID,
			tint.Err(err),
		)
		return false
	}
	return ref.Author != nil && ref.Author.ID == t.botUserID()
}
