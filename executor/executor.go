// Package executor implements the bounded self-correcting reasoning loop. An
// executor seeds a model transcript with task instructions and the allowed
// tool definitions, then alternates between model turns and sequential tool
// execution until the model produces a final text answer or the iteration
// budget runs out. Tool failures are fed back into the transcript as
// structured results so the model can correct course instead of aborting.
package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/recordflow/core"
	"github.com/hupe1980/recordflow/logging"
	"github.com/hupe1980/recordflow/memory"
	"github.com/hupe1980/recordflow/model"
	"github.com/hupe1980/recordflow/tool"
)

// DefaultMaxIterations bounds the reasoning loop. Ten model turns is enough
// for any routed task; a loop still calling tools past that is stuck.
const DefaultMaxIterations = 10

// pendingProposalKey is the run-data key under which the confirmation gate
// stages a held proposal for the supervisor's confirmation path.
const pendingProposalKey = "pending_proposal"

// Options configures an Executor.
type Options struct {
	// MaxIterations caps model turns per task. Defaults to DefaultMaxIterations.
	MaxIterations int

	// Logger receives structured loop events. Defaults to a no-op logger.
	Logger logging.Logger
}

// Executor runs one kind of task (create, retrieve, ...) with a fixed
// instruction set and a validated tool subset.
type Executor struct {
	name          string
	instructions  string
	model         model.Model
	tools         *tool.Registry
	memory        *memory.Manager
	maxIterations int
	logger        logging.Logger
}

// New creates a task executor. The registry should already be restricted to
// the tools this task kind may use.
func New(name, instructions string, m model.Model, tools *tool.Registry, mem *memory.Manager, optFns ...func(o *Options)) *Executor {
	opts := Options{
		MaxIterations: DefaultMaxIterations,
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}

	return &Executor{
		name:          name,
		instructions:  instructions,
		model:         m,
		tools:         tools,
		memory:        mem,
		maxIterations: opts.MaxIterations,
		logger:        opts.Logger,
	}
}

// Name returns the executor's task kind name.
func (e *Executor) Name() string { return e.name }

// Execute runs the reasoning loop for one task. The returned TaskResult is
// always usable: budget exhaustion and tool failures degrade into a result
// with RequiresFollowUp set rather than an error. Only an unreachable model
// yields FailureInfrastructure.
func (e *Executor) Execute(runCtx *core.RunContext, input string) core.TaskResult {
	e.setTaskState(runCtx, input, core.TaskStateExecuting)

	transcript := []model.Message{{Role: "user", Text: input}}
	defs := e.tools.Definitions()

	var lastToolError, lastToolCode string

	for iteration := 1; iteration <= e.maxIterations; iteration++ {
		resp, err := e.model.Complete(runCtx.Context, model.Request{
			Instructions: e.instructions,
			Messages:     transcript,
			Tools:        defs,
		})
		if err != nil {
			e.logger.Error("executor.model.error", "executor", e.name, "iteration", iteration, "error", err)
			e.setTaskState(runCtx, input, core.TaskStateFailed)

			return core.TaskResult{
				Success:     false,
				Message:     "I ran into a problem reaching the assistant service. Please try again in a moment.",
				FailureKind: core.FailureInfrastructure,
			}
		}

		if resp.Text != "" && len(resp.ToolCalls) > 0 {
			// Interleaved reasoning before tool calls; keep it in the trace.
			_ = e.memory.AppendReasoningStep(runCtx.Context, runCtx.ConversationID, resp.Text)
		}

		if resp.IsFinal() {
			e.logger.Debug("executor.finished", "executor", e.name, "iterations", iteration)
			e.setTaskState(runCtx, input, core.TaskStateCompleted)

			return e.finalResult(runCtx, resp.Text, lastToolError, lastToolCode)
		}

		// Tools run sequentially in the order the model requested them; each
		// result (or failure) goes back into the transcript verbatim.
		transcript = append(transcript, model.Message{Role: "assistant", Text: resp.Text, ToolCalls: resp.ToolCalls})

		results := make([]model.ToolResult, 0, len(resp.ToolCalls))
		lastToolError = ""
		lastToolCode = ""

		for _, tc := range resp.ToolCalls {
			result, callErr := e.executeTool(runCtx, tc)
			if callErr != nil {
				lastToolError = callErr.Error()
				lastToolCode = toolErrorCode(callErr)
				results = append(results, model.ToolResult{ID: tc.ID, Name: tc.Name, Error: callErr.Error()})
				continue
			}
			results = append(results, model.ToolResult{ID: tc.ID, Name: tc.Name, Content: result})
		}

		transcript = append(transcript, model.Message{Role: "tool", ToolResults: results})
	}

	e.logger.Warn("executor.budget_exhausted", "executor", e.name, "max_iterations", e.maxIterations)
	e.setTaskState(runCtx, input, core.TaskStateFailed)

	return core.TaskResult{
		Success:          false,
		Message:          "I could not finish that request within a reasonable number of steps. Could you narrow it down, for example to a specific record or date range?",
		Data:             e.collectData(runCtx),
		RequiresFollowUp: true,
		FailureKind:      core.FailureBudgetExhausted,
	}
}

// executeTool invokes one tool call and records the invocation in working
// memory before returning the outcome to the loop.
func (e *Executor) executeTool(runCtx *core.RunContext, tc model.ToolCall) (any, error) {
	toolCtx := core.NewToolContext(runCtx, tc.ID)

	result, err := e.tools.Execute(toolCtx, tc.Name, tc.Arguments)

	trace := core.ToolCall{
		ToolName:  tc.Name,
		Arguments: decodeArgs(tc.Arguments),
		Result:    result,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		trace.Error = err.Error()
		trace.Evaluation = "failed"
	} else {
		trace.Evaluation = "ok"
	}

	if memErr := e.memory.AppendToolCall(runCtx.Context, runCtx.ConversationID, trace); memErr != nil {
		e.logger.Warn("executor.trace.append_failed", "executor", e.name, "tool", tc.Name, "error", memErr)
	}

	return result, err
}

// finalResult shapes the loop's terminal output. A proposal staged by the
// confirmation gate overrides everything else: the task is not done until the
// user confirms, and nothing has been mutated.
func (e *Executor) finalResult(runCtx *core.RunContext, text, lastToolError, lastToolCode string) core.TaskResult {
	data := e.collectData(runCtx)

	if v, ok := runCtx.GetData(pendingProposalKey); ok {
		if proposal, ok := v.(*core.Proposal); ok {
			msg := text
			if msg == "" {
				msg = fmt.Sprintf("This change needs your confirmation first:\n%s\nReply \"yes\" to apply it or \"no\" to cancel.", proposal.Preview)
			}

			return core.TaskResult{
				Success:          false,
				Message:          msg,
				Data:             data,
				RequiresFollowUp: true,
				FailureKind:      core.FailurePendingConfirmation,
				Confirmation: &core.ConfirmationRequest{
					ProposalID: proposal.ID,
					Preview:    proposal.Preview,
					Level:      proposal.Level,
					Reasons:    proposal.Reasons,
				},
			}
		}
	}

	if lastToolError != "" {
		kind := core.FailureToolError
		if lastToolCode == "NOT_FOUND" {
			kind = core.FailureNotFound
		}

		return core.TaskResult{
			Success:          false,
			Message:          text,
			Data:             data,
			RequiresFollowUp: true,
			FailureKind:      kind,
		}
	}

	return core.TaskResult{
		Success: true,
		Message: text,
		Data:    data,
	}
}

// collectData copies tool side data out of the run context, excluding the
// staged proposal which travels via the Confirmation field instead.
func (e *Executor) collectData(runCtx *core.RunContext) map[string]any {
	if len(runCtx.Data) == 0 {
		return nil
	}

	data := make(map[string]any, len(runCtx.Data))
	for k, v := range runCtx.Data {
		if k == pendingProposalKey {
			continue
		}
		data[k] = v
	}

	if len(data) == 0 {
		return nil
	}

	return data
}

func (e *Executor) setTaskState(runCtx *core.RunContext, task string, state core.TaskState) {
	_, err := e.memory.UpsertWorkingMemory(runCtx.Context, runCtx.ConversationID, func(wm *core.WorkingMemory) {
		wm.CurrentTask = task
		wm.TaskState = state
	})
	if err != nil {
		e.logger.Warn("executor.state.update_failed", "executor", e.name, "state", string(state), "error", err)
	}
}

// toolErrorCode extracts the categorization code from a tool failure so the
// final result can distinguish a missing record from a genuinely broken call.
func toolErrorCode(err error) string {
	var toolErr *tool.ToolError
	if errors.As(err, &toolErr) {
		return toolErr.Code
	}
	return ""
}

func decodeArgs(args string) map[string]any {
	if args == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(args), &m); err != nil {
		return map[string]any{"raw": args}
	}
	return m
}
