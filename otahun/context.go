package otahun

import (
	"container/list"
	"sync"
	"time"
)

// ContextScope selects how conversation keys are derived from an
// inbound message.
type ContextScope string

const (
	// ContextScopeUser isolates conversation history per (channel, user)
	ContextScopeUser ContextScope = "user"

	// ContextScopeChannel shares one conversation history per channel
	ContextScopeChannel ContextScope = "channel"
)

// ConversationKey identifies an isolated stream of conversation
// history. The zero UserID marks a channel-scoped key.
type ConversationKey struct {
	ChannelID string
	UserID    string
}

// Turn is one recorded exchange fragment. Immutable once appended.
type Turn struct {
	Speaker   string
	Content   string
	Bot       bool
	MessageID string
	Timestamp time.Time
}

// ConversationContext holds the bounded ring of recent turns for one
// conversation key. Callers must hold the context's lock across the
// full read-compose-complete-append sequence so a concurrent message
// for the same key can't observe a stale turn order.
type ConversationContext struct {
	mu         sync.Mutex
	key        ConversationKey
	turns      []Turn
	maxTurns   int
	contentCap int
}

func (c *ConversationContext) Lock()   { c.mu.Lock() }
func (c *ConversationContext) Unlock() { c.mu.Unlock() }

func (c *ConversationContext) Key() ConversationKey {
	return c.key
}

// Turns returns a copy of the recorded turns, oldest first.
func (c *ConversationContext) Turns() []Turn {
	turns := make([]Turn, len(c.turns))
	copy(turns, c.turns)
	return turns
}

// Append records a turn, truncating its content to the configured cap
// and discarding the oldest turn once the ring is full.
func (c *ConversationContext) Append(turn Turn) {
	turn.Content = truncate(turn.Content, c.contentCap)
	c.turns = append(c.turns, turn)
	if len(c.turns) > c.maxTurns {
		c.turns = c.turns[len(c.turns)-c.maxTurns:]
	}
}

// ContextStore maps conversation keys to their contexts. The store is
// capped: once maxConversations is exceeded, the least-recently-used
// conversation is evicted.
type ContextStore struct {
	mu         sync.Mutex
	scope      ContextScope
	maxTurns   int
	contentCap int
	maxConvs   int
	entries    map[ConversationKey]*list.Element
	order      *list.List
}

type storeEntry struct {
	key ConversationKey
	ctx *ConversationContext
}

func NewContextStore(cfg *ChatConfig) *ContextStore {
	return &ContextStore{
		scope:      cfg.ContextScope,
		maxTurns:   cfg.MaxContextTurns,
		contentCap: cfg.TurnContentMaxLength,
		maxConvs:   cfg.MaxConversations,
		entries:    make(map[ConversationKey]*list.Element),
		order:      list.New(),
	}
}

// KeyFor derives the conversation key for a message according to the
// configured scope.
func (s *ContextStore) KeyFor(channelID string, userID string) ConversationKey {
	if s.scope == ContextScopeChannel {
		return ConversationKey{ChannelID: channelID}
	}
	return ConversationKey{ChannelID: channelID, UserID: userID}
}

// Get returns the context for key, creating it if absent, and marks it
// most recently used. Creating a context past the conversation cap
// evicts the least-recently-used one.
func (s *ContextStore) Get(key ConversationKey) *ConversationContext {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		s.order.MoveToFront(elem)
		return elem.Value.(*storeEntry).ctx
	}

	ctx := &ConversationContext{
		key:        key,
		maxTurns:   s.maxTurns,
		contentCap: s.contentCap,
	}
	s.entries[key] = s.order.PushFront(&storeEntry{key: key, ctx: ctx})

	// A conversation whose lock is held is mid-pipeline; evicting it
	// would hand a concurrent same-key message a fresh context and lose
	// the in-flight appends. Skip locked entries, oldest first.
	for s.order.Len() > s.maxConvs {
		var victim *list.Element
		for elem := s.order.Back(); elem != nil; elem = elem.Prev() {
			entry := elem.Value.(*storeEntry)
			if entry.ctx.mu.TryLock() {
				entry.ctx.mu.Unlock()
				victim = elem
				break
			}
		}
		if victim == nil {
			// every conversation is mid-pipeline; tolerate the overflow
			break
		}
		s.order.Remove(victim)
		delete(s.entries, victim.Value.(*storeEntry).key)
	}

	return ctx
}

// Len reports the number of tracked conversations.
func (s *ContextStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
