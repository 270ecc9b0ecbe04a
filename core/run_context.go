package core

import (
	"context"

	"github.com/hupe1980/recordflow/logging"
)

// RunContext carries the execution scope of one dispatched task: the ambient
// cancellation context, the identifiers binding the run to its conversation,
// user and subject, and the side-data buffer tools accumulate into the final
// TaskResult. The run context (and the working memory it guards) is owned by
// exactly one task executor for the duration of the dispatch.
type RunContext struct {
	Context        context.Context
	ConversationID string
	RunID          string
	UserID         string
	SubjectID      string
	Data           map[string]any

	*loggerAdapter
}

// NewRunContext constructs a RunContext with an empty side-data buffer.
func NewRunContext(
	ctx context.Context,
	conversationID, runID, userID, subjectID string,
	logger logging.Logger,
) *RunContext {
	return &RunContext{
		Context:        ctx,
		ConversationID: conversationID,
		RunID:          runID,
		UserID:         userID,
		SubjectID:      subjectID,
		Data:           map[string]any{},
		loggerAdapter:  newLoggerAdapter(logger),
	}
}

// Done returns a channel closed when the underlying context is cancelled.
func (rc *RunContext) Done() <-chan struct{} { return rc.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (rc *RunContext) Err() error { return rc.Context.Err() }

// SetData stages a side-data value (e.g. a created record id) for the final
// TaskResult. The run is single-goroutine so no locking is needed.
func (rc *RunContext) SetData(k string, v any) { rc.Data[k] = v }

// GetData returns a staged side-data value and whether it was set.
func (rc *RunContext) GetData(k string) (any, bool) {
	v, ok := rc.Data[k]
	return v, ok
}
