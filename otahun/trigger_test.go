package otahun

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBotUserID = "999000999"

// stubFetcher returns a canned message or error for ChannelMessage.
type stubFetcher struct {
	message *discordgo.Message
	err     error
	calls   int
}

func (s *stubFetcher) ChannelMessage(
	_ string,
	_ string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.calls++
	return s.message, s.err
}

func TestIsResetAttempt(t *testing.T) {
	testCases := []struct {
		content  string
		expected bool
	}{
		{"!reset", true},
		{"!RESET", true},
		{"please !reset now", true},
		{"!reset!", true},
		{"!reset.", true},
		{"!reset, thanks", true},
		{"re!reset", false},
		{"!resetting", false},
		{"nothing here", false},
	}

	for _, tc := range testCases {
		t.Run(
			tc.content, func(t *testing.T) {
				assert.Equal(t, tc.expected, IsResetAttempt(tc.content))
			},
		)
	}
}

func TestStripLeadingMention(t *testing.T) {
	testCases := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name:     "plain mention",
			content:  "<@999000999> hello",
			expected: "hello",
		},
		{
			name:     "nickname mention",
			content:  "<@!999000999> hello",
			expected: "hello",
		},
		{
			name:     "no mention",
			content:  "hello",
			expected: "hello",
		},
		{
			name:     "mention mid-message is kept",
			content:  "hello <@999000999>",
			expected: "hello <@999000999>",
		},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				assert.Equal(
					t,
					tc.expected,
					StripLeadingMention(tc.content, testBotUserID),
				)
			},
		)
	}
}

func TestActivationSet(t *testing.T) {
	set := NewActivationSet()

	assert.False(t, set.Active("c1"))
	assert.True(t, set.Activate("c1"))
	assert.False(t, set.Activate("c1"), "second activation is a no-op")
	assert.True(t, set.Active("c1"))

	assert.True(t, set.Deactivate("c1"))
	assert.False(t, set.Deactivate("c1"), "second deactivation is a no-op")
	assert.False(t, set.Active("c1"))

	assert.True(t, set.Toggle("c2"))
	assert.True(t, set.Active("c2"))
	assert.False(t, set.Toggle("c2"))
	assert.False(t, set.Active("c2"))
}

func TestTriggerEvaluator_Policy(t *testing.T) {
	ctx := context.Background()
	activations := NewActivationSet()
	evaluator := NewTriggerEvaluator(
		testBotID,
		DefaultKeywordTriggers(),
		activations,
		&stubFetcher{err: errors.New("not found")},
		nil,
	)

	quiet := MessageEvent{
		ChannelID:  "c1",
		AuthorID:   "u1",
		AuthorName: "someone",
		Content:    "just chatting about the weather",
	}
	assert.False(t, evaluator.ShouldRespond(ctx, quiet))

	// activating the channel flips an otherwise-identical message
	activations.Activate("c1")
	assert.True(t, evaluator.ShouldRespond(ctx, quiet))
	activations.Deactivate("c1")
	assert.False(t, evaluator.ShouldRespond(ctx, quiet))

	mentioned := quiet
	mentioned.Mentions = []Mention{{ID: testBotUserID, DisplayName: "Otahun"}}
	assert.True(t, evaluator.ShouldRespond(ctx, mentioned))

	keyworded := quiet
	keyworded.Content = "is the server down again?"
	assert.True(t, evaluator.ShouldRespond(ctx, keyworded))
}

func TestTriggerEvaluator_KeywordsAreWordBounded(t *testing.T) {
	evaluator := NewTriggerEvaluator(
		testBotID,
		[]string{"help"},
		NewActivationSet(),
		nil,
		nil,
	)
	ctx := context.Background()

	assert.True(
		t,
		evaluator.ShouldRespond(
			ctx,
			MessageEvent{ChannelID: "c1", Content: "can anyone help me"},
		),
	)
	assert.False(
		t,
		evaluator.ShouldRespond(
			ctx,
			MessageEvent{ChannelID: "c1", Content: "she is helpful"},
		),
	)
}

func TestTriggerEvaluator_ReplyToBot(t *testing.T) {
	ctx := context.Background()

	fetcher := &stubFetcher{
		message: &discordgo.Message{
			ID:     "m1",
			Author: &discordgo.User{ID: testBotUserID},
		},
	}
	evaluator := NewTriggerEvaluator(
		testBotID, nil, NewActivationSet(), fetcher, nil,
	)

	event := MessageEvent{
		ChannelID: "c1",
		Content:   "and another thing",
		Reference: &MessageRef{MessageID: "m1", ChannelID: "c1"},
	}
	assert.True(t, evaluator.ShouldRespond(ctx, event))
	require.Equal(t, 1, fetcher.calls)

	// reply to someone else's message
	fetcher.message.Author = &discordgo.User{ID: "someone-else"}
	assert.False(t, evaluator.ShouldRespond(ctx, event))
}

func TestTriggerEvaluator_FetchFailureDegrades(t *testing.T) {
	evaluator := NewTriggerEvaluator(
		testBotID,
		nil,
		NewActivationSet(),
		&stubFetcher{err: errors.New("boom")},
		nil,
	)

	event := MessageEvent{
		ChannelID: "c1",
		Content:   "following up",
		Reference: &MessageRef{MessageID: "m1", ChannelID: "c1"},
	}
	assert.False(t, evaluator.ShouldRespond(context.Background(), event))
}
