// Package memory implements the two-tier memory manager: durable append-only
// conversation logs with a periodically regenerated rolling summary, and
// TTL-bound working memory fronted by a process-local hot cache. The durable
// store is always the write-of-record: updates persist there first and only
// then refresh the cache, so a store failure never leaves the cache ahead of
// the truth.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/recordflow/core"
	"github.com/hupe1980/recordflow/logging"
	"github.com/hupe1980/recordflow/model"
)

// Options configures Manager construction.
type Options struct {
	// WorkingMemoryTTL bounds how long task state survives inactivity. The
	// TTL slides on every update.
	WorkingMemoryTTL time.Duration
	// SummaryInterval regenerates the conversation summary every N messages.
	SummaryInterval int
	// SummaryWindow is how many trailing messages feed the summary.
	SummaryWindow int
	// Cache is the hot tier; defaults to an in-process TTL cache.
	Cache core.WorkingMemoryCache
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Manager owns both memory tiers on behalf of the supervisor and executors.
type Manager struct {
	conversations core.ConversationStore
	working       core.WorkingMemoryStore
	cache         core.WorkingMemoryCache
	llm           model.Model
	ttl           time.Duration
	summaryEvery  int
	summaryWindow int
	logger        logging.Logger
}

// NewManager constructs a memory manager over the given durable stores. The
// model is used only for summary regeneration.
func NewManager(
	conversations core.ConversationStore,
	working core.WorkingMemoryStore,
	llm model.Model,
	optFns ...func(o *Options),
) *Manager {
	opts := Options{
		WorkingMemoryTTL: time.Hour,
		SummaryInterval:  10,
		SummaryWindow:    20,
		Cache:            NewTTLCache(),
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Manager{
		conversations: conversations,
		working:       working,
		cache:         opts.Cache,
		llm:           llm,
		ttl:           opts.WorkingMemoryTTL,
		summaryEvery:  opts.SummaryInterval,
		summaryWindow: opts.SummaryWindow,
		logger:        opts.Logger,
	}
}

// WorkingMemoryTTL returns the configured TTL.
func (m *Manager) WorkingMemoryTTL() time.Duration { return m.ttl }

// EnsureConversation loads the conversation or creates it on first turn.
func (m *Manager) EnsureConversation(ctx context.Context, conversationID, userID, subjectID string) (*core.Conversation, error) {
	conv, err := m.conversations.Get(ctx, conversationID)
	if err == nil {
		return conv, nil
	}
	if !core.IsNotFound(err) {
		return nil, &core.StoreError{Op: "get conversation", Err: err}
	}

	conv = core.NewConversation(conversationID, userID, subjectID)
	if err := m.conversations.Create(ctx, conv); err != nil {
		return nil, &core.StoreError{Op: "create conversation", Err: err}
	}

	m.logger.Info("memory.conversation.created", "conversation_id", conversationID, "user_id", userID)

	return conv, nil
}

// GetConversation loads a conversation from the durable store.
func (m *Manager) GetConversation(ctx context.Context, conversationID string) (*core.Conversation, error) {
	conv, err := m.conversations.Get(ctx, conversationID)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, err
		}
		return nil, &core.StoreError{Op: "get conversation", Err: err}
	}
	return conv, nil
}

// AppendMessage appends one immutable message to the conversation log.
func (m *Manager) AppendMessage(ctx context.Context, conversationID string, msg core.Message) error {
	if err := m.conversations.AppendMessage(ctx, conversationID, msg); err != nil {
		return &core.StoreError{Op: "append message", Err: err}
	}
	return nil
}

// Archive marks the conversation archived; only an explicit external request
// reaches this.
func (m *Manager) Archive(ctx context.Context, conversationID string) error {
	if err := m.conversations.Archive(ctx, conversationID); err != nil {
		return &core.StoreError{Op: "archive conversation", Err: err}
	}
	m.cache.Delete(conversationID)
	return nil
}

// MaybeSummarize regenerates the rolling summary when the message count hits
// the configured interval. Summary failures are non-fatal: the turn already
// succeeded, the previous summary stays in place.
func (m *Manager) MaybeSummarize(ctx context.Context, conversationID string) {
	conv, err := m.conversations.Get(ctx, conversationID)
	if err != nil {
		m.logger.Warn("memory.summary.load_failed", "conversation_id", conversationID, "error", err.Error())
		return
	}
	if m.summaryEvery <= 0 || len(conv.Messages) == 0 || len(conv.Messages)%m.summaryEvery != 0 {
		return
	}

	summary, err := m.summarize(ctx, conv)
	if err != nil {
		m.logger.Warn("memory.summary.failed", "conversation_id", conversationID, "error", err.Error())
		return
	}

	if err := m.conversations.UpdateSummary(ctx, conversationID, summary); err != nil {
		m.logger.Warn("memory.summary.store_failed", "conversation_id", conversationID, "error", err.Error())
		return
	}

	m.logger.Debug("memory.summary.updated", "conversation_id", conversationID, "messages", len(conv.Messages))
}

// summarize reads the trailing window of messages through the model and
// produces a short digest.
func (m *Manager) summarize(ctx context.Context, conv *core.Conversation) (string, error) {
	var transcript strings.Builder
	if conv.Summary != "" {
		fmt.Fprintf(&transcript, "Previous summary: %s\n\n", conv.Summary)
	}
	for _, msg := range conv.RecentMessages(m.summaryWindow) {
		fmt.Fprintf(&transcript, "%s: %s\n", msg.Role, msg.Content)
	}

	resp, err := m.llm.Complete(ctx, model.Request{
		Instructions: "Summarize the conversation below into a short digest (3-4 sentences). " +
			"Keep concrete facts: subject identifiers, record names, decisions, open questions.",
		Messages:      []model.Message{{Role: "user", Text: transcript.String()}},
		Deterministic: true,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(resp.Text), nil
}

// GetWorkingMemory returns the live working memory for a conversation, or nil
// when none exists. The hot cache is consulted first; on miss the durable
// store is read and the cache repopulated with the remaining TTL. Expired
// records are treated as absent in either tier.
func (m *Manager) GetWorkingMemory(ctx context.Context, conversationID string) (*core.WorkingMemory, error) {
	now := time.Now().UTC()

	if wm, ok := m.cache.Get(conversationID); ok {
		if !wm.Expired(now) {
			return wm, nil
		}
		m.cache.Delete(conversationID)
	}

	wm, err := m.working.Get(ctx, conversationID)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, nil
		}
		return nil, &core.StoreError{Op: "get working memory", Err: err}
	}
	if wm.Expired(now) {
		return nil, nil
	}

	m.cache.Set(wm, time.Until(wm.ExpiresAt))

	return wm, nil
}

// UpsertWorkingMemory runs a read-modify-write cycle: load current state (or
// initialize in the planning state), apply the patch, persist durably, then
// refresh the cache, always in that order so the durable store is the
// write-of-record. On store failure the cache refresh is skipped and the
// error propagates.
func (m *Manager) UpsertWorkingMemory(ctx context.Context, conversationID string, patch func(wm *core.WorkingMemory)) (*core.WorkingMemory, error) {
	wm, err := m.GetWorkingMemory(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if wm == nil {
		wm = core.NewWorkingMemory(conversationID, m.ttl)
	} else {
		wm = wm.Clone()
	}

	patch(wm)
	wm.Touch(m.ttl)

	if err := m.working.Put(ctx, wm); err != nil {
		return nil, &core.StoreError{Op: "put working memory", Err: err}
	}

	m.cache.Set(wm, m.ttl)

	return wm, nil
}

// AppendObservation records a timestamped observation.
func (m *Manager) AppendObservation(ctx context.Context, conversationID, text string) error {
	_, err := m.UpsertWorkingMemory(ctx, conversationID, func(wm *core.WorkingMemory) {
		wm.Observations = append(wm.Observations, core.Observation{Text: text, Timestamp: time.Now().UTC()})
	})
	return err
}

// AppendReasoningStep records one reasoning trace entry.
func (m *Manager) AppendReasoningStep(ctx context.Context, conversationID, text string) error {
	_, err := m.UpsertWorkingMemory(ctx, conversationID, func(wm *core.WorkingMemory) {
		wm.ReasoningSteps = append(wm.ReasoningSteps, core.ReasoningStep{Text: text, Timestamp: time.Now().UTC()})
	})
	return err
}

// AppendToolCall records one executed tool call.
func (m *Manager) AppendToolCall(ctx context.Context, conversationID string, call core.ToolCall) error {
	_, err := m.UpsertWorkingMemory(ctx, conversationID, func(wm *core.WorkingMemory) {
		wm.ToolCalls = append(wm.ToolCalls, call)
	})
	return err
}

// AppendReflection records a reflection verdict.
func (m *Manager) AppendReflection(ctx context.Context, conversationID string, note core.ReflectionNote) error {
	_, err := m.UpsertWorkingMemory(ctx, conversationID, func(wm *core.WorkingMemory) {
		wm.Reflections = append(wm.Reflections, note)
	})
	return err
}

// Clear removes working memory from both tiers; used when a task completes or
// is abandoned.
func (m *Manager) Clear(ctx context.Context, conversationID string) error {
	if err := m.working.Delete(ctx, conversationID); err != nil && !core.IsNotFound(err) {
		return &core.StoreError{Op: "delete working memory", Err: err}
	}
	m.cache.Delete(conversationID)
	return nil
}

// PurgeExpired removes expired working memory from the durable store.
func (m *Manager) PurgeExpired(ctx context.Context) (int, error) {
	n, err := m.working.PurgeExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, &core.StoreError{Op: "purge working memory", Err: err}
	}
	if n > 0 {
		m.logger.Info("memory.working.purged", "count", n)
	}
	return n, nil
}
