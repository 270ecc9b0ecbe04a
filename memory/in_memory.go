package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/recordflow/core"
)

// InMemoryConversationStore is a volatile ConversationStore storing
// conversations in a process local map. It is safe for concurrent access and
// best suited for tests or ephemeral demo servers. Each returned conversation
// is cloned to prevent external mutation of internal state.
type InMemoryConversationStore struct {
	mu            sync.RWMutex
	conversations map[string]*core.Conversation
}

// NewInMemoryConversationStore constructs an empty in-memory conversation store.
func NewInMemoryConversationStore() *InMemoryConversationStore {
	return &InMemoryConversationStore{conversations: make(map[string]*core.Conversation)}
}

// Create stores a new conversation; an existing id is overwritten.
func (s *InMemoryConversationStore) Create(_ context.Context, conv *core.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = cloneConversation(conv)
	return nil
}

// Get returns a clone of the stored conversation or core.ErrNotFound.
func (s *InMemoryConversationStore) Get(_ context.Context, conversationID string) (*core.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return cloneConversation(conv), nil
}

// AppendMessage appends to the conversation's message log and refreshes the
// last-activity timestamp.
func (s *InMemoryConversationStore) AppendMessage(_ context.Context, conversationID string, msg core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return core.ErrNotFound
	}
	conv.Messages = append(conv.Messages, msg)
	conv.LastActivityAt = time.Now().UTC()
	return nil
}

// UpdateSummary replaces the rolling summary.
func (s *InMemoryConversationStore) UpdateSummary(_ context.Context, conversationID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return core.ErrNotFound
	}
	conv.Summary = summary
	return nil
}

// Archive flags the conversation archived.
func (s *InMemoryConversationStore) Archive(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return core.ErrNotFound
	}
	conv.Archived = true
	return nil
}

func cloneConversation(conv *core.Conversation) *core.Conversation {
	clone := *conv
	clone.Messages = append([]core.Message(nil), conv.Messages...)
	return &clone
}

// InMemoryWorkingMemoryStore is a volatile WorkingMemoryStore. Get honors the
// TTL contract: an expired record is reported as core.ErrNotFound.
type InMemoryWorkingMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*core.WorkingMemory
}

// NewInMemoryWorkingMemoryStore constructs an empty in-memory working memory store.
func NewInMemoryWorkingMemoryStore() *InMemoryWorkingMemoryStore {
	return &InMemoryWorkingMemoryStore{records: make(map[string]*core.WorkingMemory)}
}

// Get returns a clone of the stored working memory. Expired records are
// reported absent.
func (s *InMemoryWorkingMemoryStore) Get(_ context.Context, conversationID string) (*core.WorkingMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wm, ok := s.records[conversationID]
	if !ok {
		return nil, core.ErrNotFound
	}
	if wm.Expired(time.Now().UTC()) {
		return nil, core.ErrNotFound
	}
	return wm.Clone(), nil
}

// Put overwrites the working memory for its conversation. There is at most
// one record per conversation id.
func (s *InMemoryWorkingMemoryStore) Put(_ context.Context, wm *core.WorkingMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[wm.ConversationID] = wm.Clone()
	return nil
}

// Delete removes the working memory for a conversation.
func (s *InMemoryWorkingMemoryStore) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, conversationID)
	return nil
}

// PurgeExpired removes all expired records and reports how many were dropped.
func (s *InMemoryWorkingMemoryStore) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, wm := range s.records {
		if wm.Expired(now) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}
