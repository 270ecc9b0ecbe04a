package core

import "time"

// Intent is the classified purpose of a user turn. Closed enum; anything the
// classifier cannot place lands on IntentGeneral.
type Intent string

const (
	// IntentCreate adds a new record for the subject.
	IntentCreate Intent = "create"
	// IntentRetrieve looks up or lists existing records.
	IntentRetrieve Intent = "retrieve"
	// IntentModify changes an existing record.
	IntentModify Intent = "modify"
	// IntentRemove deletes an existing record.
	IntentRemove Intent = "remove"
	// IntentVisualize builds a relationship graph over the subject's records.
	IntentVisualize Intent = "visualize"
	// IntentGeneral is the fallback conversational path with no tools.
	IntentGeneral Intent = "general"
	// IntentClarification marks a reply to a prior clarification request.
	IntentClarification Intent = "clarification"
)

// ParseIntent maps a string onto the closed intent enum.
func ParseIntent(s string) (Intent, bool) {
	switch Intent(s) {
	case IntentCreate, IntentRetrieve, IntentModify, IntentRemove,
		IntentVisualize, IntentGeneral, IntentClarification:
		return Intent(s), true
	}
	return IntentGeneral, false
}

// RequiresSubject reports whether the intent needs a subject identifier
// before any task executor may be dispatched.
func (i Intent) RequiresSubject() bool {
	switch i {
	case IntentCreate, IntentRetrieve, IntentModify, IntentRemove, IntentVisualize:
		return true
	}
	return false
}

// FailureKind categorizes why a task result failed (or remained open) so the
// reflection engine can derive a correction plan from structured fields
// instead of pattern matching free text.
type FailureKind string

const (
	// FailureNone marks a clean result.
	FailureNone FailureKind = ""
	// FailurePrecondition marks a missing required input.
	FailurePrecondition FailureKind = "precondition"
	// FailureNotFound marks a lookup that matched nothing.
	FailureNotFound FailureKind = "not_found"
	// FailurePendingConfirmation marks a mutation held for confirmation.
	FailurePendingConfirmation FailureKind = "pending_confirmation"
	// FailureBudgetExhausted marks an iteration budget exhaustion.
	FailureBudgetExhausted FailureKind = "budget_exhausted"
	// FailureToolError marks a tool failure unresolved at loop end.
	FailureToolError FailureKind = "tool_error"
	// FailureInfrastructure marks an unrecoverable backend error.
	FailureInfrastructure FailureKind = "infrastructure"
)

// TaskResult is the single outcome of one task executor invocation. It is
// consumed by the supervisor and reflection engine and then discarded; only
// its derived message and trace are persisted.
type TaskResult struct {
	Success          bool                 `json:"success"`
	Message          string               `json:"message"`
	Data             map[string]any       `json:"data,omitempty"`
	RequiresFollowUp bool                 `json:"requires_follow_up"`
	FailureKind      FailureKind          `json:"failure_kind,omitempty"`
	Confirmation     *ConfirmationRequest `json:"confirmation,omitempty"`
	Reasoning        string               `json:"-"`
	ToolCalls        []ToolCall           `json:"-"`
}

// ConfirmationRequest carries the preview and risk verdict of a mutation held
// pending explicit user confirmation.
type ConfirmationRequest struct {
	ProposalID string   `json:"proposal_id"`
	Preview    string   `json:"preview"`
	Level      string   `json:"level"`
	Reasons    []string `json:"reasons,omitempty"`
}

// ChangeRequest describes a proposed mutation of the document store. It is
// the unit the risk assessor classifies and the confirmation gate commits.
type ChangeRequest struct {
	Action       string         `json:"action"` // create, update, delete
	ResourceKind string         `json:"resource_kind"`
	RecordID     string         `json:"record_id,omitempty"`
	SubjectID    string         `json:"subject_id"`
	Fields       map[string]any `json:"fields,omitempty"`
	TargetIDs    []string       `json:"target_ids,omitempty"`
}

// TargetCount returns the number of records the change touches.
func (c ChangeRequest) TargetCount() int {
	if len(c.TargetIDs) > 0 {
		return len(c.TargetIDs)
	}
	if c.RecordID != "" || c.Action == "create" {
		return 1
	}
	return 0
}

// Proposal is a previewed, not yet committed change. The same proposal is
// reusable on retry: committing it twice with the same idempotency key must
// not double-apply.
type Proposal struct {
	ID                   string        `json:"id"`
	Change               ChangeRequest `json:"change"`
	Preview              string        `json:"preview"`
	Level                string        `json:"level"`
	Reasons              []string      `json:"reasons,omitempty"`
	RequiresConfirmation bool          `json:"requires_confirmation"`
	CreatedAt            time.Time     `json:"created_at"`
}
