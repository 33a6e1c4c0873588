package otahun

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChatConfig() *ChatConfig {
	cfg := DefaultConfig().Chat
	return cfg
}

func TestContextStore_KeyForScopes(t *testing.T) {
	cfg := testChatConfig()
	cfg.ContextScope = ContextScopeUser
	store := NewContextStore(cfg)
	assert.Equal(
		t,
		ConversationKey{ChannelID: "c1", UserID: "u1"},
		store.KeyFor("c1", "u1"),
	)

	cfg = testChatConfig()
	cfg.ContextScope = ContextScopeChannel
	store = NewContextStore(cfg)
	assert.Equal(
		t,
		ConversationKey{ChannelID: "c1"},
		store.KeyFor("c1", "u1"),
	)
}

func TestConversationContext_BoundedRing(t *testing.T) {
	cfg := testChatConfig()
	cfg.MaxContextTurns = 10
	store := NewContextStore(cfg)
	convo := store.Get(store.KeyFor("c1", "u1"))

	for i := 0; i < 15; i++ {
		convo.Append(
			Turn{
				Speaker:   "someone",
				Content:   fmt.Sprintf("message %d", i),
				Timestamp: time.Now(),
			},
		)
	}

	turns := convo.Turns()
	require.Len(t, turns, 10)
	// the most recent N turns, in original relative order
	for i, turn := range turns {
		assert.Equal(t, fmt.Sprintf("message %d", i+5), turn.Content)
	}
}

func TestConversationContext_TruncatesContent(t *testing.T) {
	cfg := testChatConfig()
	cfg.TurnContentMaxLength = 500
	store := NewContextStore(cfg)
	convo := store.Get(store.KeyFor("c1", "u1"))

	convo.Append(Turn{Speaker: "someone", Content: strings.Repeat("x", 600)})

	turns := convo.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, strings.Repeat("x", 500), turns[0].Content)
}

func TestContextStore_SameKeyReturnsSameContext(t *testing.T) {
	store := NewContextStore(testChatConfig())
	key := store.KeyFor("c1", "u1")

	first := store.Get(key)
	first.Append(Turn{Speaker: "someone", Content: "hello"})

	second := store.Get(key)
	assert.Len(t, second.Turns(), 1)
}

func TestContextStore_EvictsLeastRecentlyUsed(t *testing.T) {
	cfg := testChatConfig()
	cfg.MaxConversations = 2
	store := NewContextStore(cfg)

	keyA := store.KeyFor("c1", "u1")
	keyB := store.KeyFor("c1", "u2")
	keyC := store.KeyFor("c1", "u3")

	store.Get(keyA).Append(Turn{Speaker: "a", Content: "from a"})
	store.Get(keyB).Append(Turn{Speaker: "b", Content: "from b"})

	// touch A so B becomes least recently used
	store.Get(keyA)
	store.Get(keyC)

	assert.Equal(t, 2, store.Len())

	_, hasA := store.entries[keyA]
	_, hasB := store.entries[keyB]
	_, hasC := store.entries[keyC]
	assert.True(t, hasA, "recently touched conversation should survive")
	assert.False(t, hasB, "least recently used conversation should be evicted")
	assert.True(t, hasC)
}

func TestContextStore_EvictionSkipsLockedConversation(t *testing.T) {
	cfg := testChatConfig()
	cfg.MaxConversations = 2
	store := NewContextStore(cfg)

	keyA := store.KeyFor("c1", "u1")
	keyB := store.KeyFor("c1", "u2")
	keyC := store.KeyFor("c1", "u3")
	keyD := store.KeyFor("c1", "u4")

	convoA := store.Get(keyA)
	store.Get(keyB)

	// A is mid-pipeline: oldest but not evictable
	convoA.Lock()
	store.Get(keyC)

	_, hasA := store.entries[keyA]
	_, hasB := store.entries[keyB]
	assert.True(t, hasA, "locked conversation must not be evicted")
	assert.False(t, hasB, "next-oldest unlocked conversation evicted instead")

	convoA.Unlock()
	store.Get(keyD)

	_, hasA = store.entries[keyA]
	assert.False(t, hasA, "unlocked conversation is evictable again")
}
