package core

import (
	"context"

	"github.com/hupe1980/recordflow/logging"
)

// ToolContext provides a constrained, auditable surface for tool
// implementations invoked by the reasoning loop. Tools reach the ambient
// context, the conversation/subject identifiers and the side-data buffer
// through it; they never touch the conversation log or working memory
// directly.
type ToolContext struct {
	runCtx         *RunContext
	functionCallID string

	*loggerAdapter
}

// NewToolContext constructs a tool context bound to a parent RunContext and
// unique functionCallID.
func NewToolContext(runCtx *RunContext, functionCallID string) *ToolContext {
	return &ToolContext{
		runCtx:         runCtx,
		functionCallID: functionCallID,
		loggerAdapter:  newLoggerAdapter(runCtx.Logger()),
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.runCtx.Context }

// ConversationID returns the conversation the invocation belongs to.
func (tc *ToolContext) ConversationID() string { return tc.runCtx.ConversationID }

// RunID returns the run ID associated with the tool invocation.
func (tc *ToolContext) RunID() string { return tc.runCtx.RunID }

// UserID returns the owning user of the conversation.
func (tc *ToolContext) UserID() string { return tc.runCtx.UserID }

// SubjectID returns the subject whose records are being operated on.
func (tc *ToolContext) SubjectID() string { return tc.runCtx.SubjectID }

// FunctionCallID returns the function call ID correlating model request and
// tool execution.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.loggerAdapter.Logger() }

// SetData stages a side-data value on the run for the final TaskResult.
func (tc *ToolContext) SetData(k string, v any) { tc.runCtx.SetData(k, v) }
