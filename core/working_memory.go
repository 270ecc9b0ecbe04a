package core

import "time"

// TaskState tracks where a task currently is in its lifecycle.
type TaskState string

const (
	// TaskStatePlanning is the initial state before any tool has run.
	TaskStatePlanning TaskState = "planning"
	// TaskStateExecuting means the reasoning loop is issuing tool calls.
	TaskStateExecuting TaskState = "executing"
	// TaskStateEvaluating means the loop finished and reflection is running.
	TaskStateEvaluating TaskState = "evaluating"
	// TaskStateCompleted is the terminal success state.
	TaskStateCompleted TaskState = "completed"
	// TaskStateFailed is the terminal failure state.
	TaskStateFailed TaskState = "failed"
)

// Observation is a timestamped note recorded during task execution.
type Observation struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ReasoningStep is one entry of the model's reasoning trace.
type ReasoningStep struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ReflectionNote is a persisted reflection verdict for a completed task.
type ReflectionNote struct {
	WasSuccessful    bool      `json:"was_successful"`
	LessonsLearned   []string  `json:"lessons_learned,omitempty"`
	CorrectionNeeded bool      `json:"correction_needed"`
	CorrectionPlan   string    `json:"correction_plan,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// WorkingMemory is the ephemeral per-conversation task state. It is keyed by
// conversation ID, TTL-bound, and owned exclusively by the task executor of
// the conversation's active dispatch. A record whose ExpiresAt has passed is
// logically absent.
type WorkingMemory struct {
	ConversationID  string           `json:"conversation_id"`
	CurrentTask     string           `json:"current_task,omitempty"`
	TaskState       TaskState        `json:"task_state"`
	Observations    []Observation    `json:"observations,omitempty"`
	ReasoningSteps  []ReasoningStep  `json:"reasoning_steps,omitempty"`
	ToolCalls       []ToolCall       `json:"tool_calls,omitempty"`
	Reflections     []ReflectionNote `json:"reflections,omitempty"`
	PendingProposal *Proposal        `json:"pending_proposal,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	ExpiresAt       time.Time        `json:"expires_at"`
}

// NewWorkingMemory initializes working memory in the planning state with the
// given TTL.
func NewWorkingMemory(conversationID string, ttl time.Duration) *WorkingMemory {
	now := time.Now().UTC()
	return &WorkingMemory{
		ConversationID: conversationID,
		TaskState:      TaskStatePlanning,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
}

// Expired reports whether the record's TTL has passed at the given instant.
func (wm *WorkingMemory) Expired(now time.Time) bool {
	return !wm.ExpiresAt.IsZero() && now.After(wm.ExpiresAt)
}

// Touch extends the TTL from now. The TTL slides on every update so a task
// only loses state after a full TTL of inactivity.
func (wm *WorkingMemory) Touch(ttl time.Duration) {
	wm.ExpiresAt = time.Now().UTC().Add(ttl)
}

// Clone returns a deep copy safe for independent mutation.
func (wm *WorkingMemory) Clone() *WorkingMemory {
	clone := *wm
	clone.Observations = append([]Observation(nil), wm.Observations...)
	clone.ReasoningSteps = append([]ReasoningStep(nil), wm.ReasoningSteps...)
	clone.ToolCalls = append([]ToolCall(nil), wm.ToolCalls...)
	clone.Reflections = append([]ReflectionNote(nil), wm.Reflections...)
	if wm.PendingProposal != nil {
		p := *wm.PendingProposal
		clone.PendingProposal = &p
	}
	return &clone
}
