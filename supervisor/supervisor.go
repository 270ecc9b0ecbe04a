// Package supervisor is the orchestration entry point. It classifies each
// user turn into an intent, enforces preconditions, dispatches to the right
// task executor, drives the confirmation flow for held mutations, runs
// reflection over the outcome, and persists the turn into memory. Turns
// within one conversation are serialized; different conversations proceed
// concurrently.
package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/hupe1980/recordflow/core"
	"github.com/hupe1980/recordflow/executor"
	"github.com/hupe1980/recordflow/logging"
	"github.com/hupe1980/recordflow/memory"
	"github.com/hupe1980/recordflow/model"
	"github.com/hupe1980/recordflow/reflection"
	"github.com/hupe1980/recordflow/risk"
)

const generalInstructions = `You are a helpful assistant for a personal records service.
You are chatting; record tools are not available on this turn. Answer briefly and naturally.
If the user seems to want something done with their records, tell them what you can do: create, look up, update, delete and visualize records.`

// Response is the external result of one processed user turn.
type Response struct {
	Success          bool           `json:"success"`
	Message          string         `json:"message"`
	Intent           core.Intent    `json:"intent"`
	RequiresFollowUp bool           `json:"requiresFollowUp"`
	Data             map[string]any `json:"data,omitempty"`
	ConversationID   string         `json:"conversationId"`
}

// Options configures a Supervisor.
type Options struct {
	Logger logging.Logger
}

// Supervisor routes user turns to task executors and owns the turn lifecycle.
type Supervisor struct {
	model     model.Model
	executors map[core.Intent]*executor.Executor
	memory    *memory.Manager
	gate      *risk.Gate
	reflector *reflection.Engine
	logger    logging.Logger

	mu    sync.Mutex
	locks map[string]*convLock
}

// convLock is a per-conversation mutex with a waiter count, so idle entries
// can be dropped from the lock map instead of accumulating forever.
type convLock struct {
	mu   sync.Mutex
	refs int
}

// New constructs a supervisor over its injected collaborators.
func New(
	m model.Model,
	executors map[core.Intent]*executor.Executor,
	mem *memory.Manager,
	gate *risk.Gate,
	optFns ...func(o *Options),
) *Supervisor {
	opts := Options{Logger: logging.NoOpLogger{}}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Supervisor{
		model:     m,
		executors: executors,
		memory:    mem,
		gate:      gate,
		reflector: reflection.NewEngine(),
		logger:    opts.Logger,
	}
}

// Handle processes one user turn end to end and never panics outward: any
// internal failure degrades into an apologetic response with the conversation
// left consistent.
func (s *Supervisor) Handle(ctx context.Context, input, conversationID, userID, subjectID string) (resp *Response) {
	if conversationID == "" {
		conversationID = core.NewID()
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("supervisor.panic", "conversation_id", conversationID, "recover", rec, "stack", string(debug.Stack()))
			message := "Something went wrong while handling that request. Please try again."
			s.appendApology(ctx, conversationID, message)
			resp = &Response{
				Message:        message,
				Intent:         core.IntentGeneral,
				ConversationID: conversationID,
			}
		}
	}()

	unlock := s.lockConversation(conversationID)
	defer unlock()

	if _, err := s.memory.EnsureConversation(ctx, conversationID, userID, subjectID); err != nil {
		s.logger.Error("supervisor.conversation.error", "conversation_id", conversationID, "error", err)
		return s.infrastructureResponse(ctx, conversationID)
	}

	userMsg := core.NewMessage(core.RoleUser, input)
	if err := s.memory.AppendMessage(ctx, conversationID, userMsg); err != nil {
		s.logger.Error("supervisor.append_user.error", "conversation_id", conversationID, "error", err)
		return s.infrastructureResponse(ctx, conversationID)
	}

	intent, result := s.route(ctx, input, conversationID, userID, subjectID)

	note := s.reflector.Reflect(result)
	if err := s.memory.AppendReflection(ctx, conversationID, note.Note()); err != nil {
		s.logger.Warn("supervisor.reflection.append_failed", "conversation_id", conversationID, "error", err)
	}

	message := s.synthesize(result, note)

	assistantMsg := core.NewMessage(core.RoleAssistant, message)
	assistantMsg.Reasoning = result.Reasoning
	assistantMsg.ToolCalls = result.ToolCalls
	if err := s.memory.AppendMessage(ctx, conversationID, assistantMsg); err != nil {
		s.logger.Warn("supervisor.append_assistant.error", "conversation_id", conversationID, "error", err)
	}

	s.memory.MaybeSummarize(ctx, conversationID)

	return &Response{
		Success:          result.Success,
		Message:          message,
		Intent:           intent,
		RequiresFollowUp: result.RequiresFollowUp,
		Data:             result.Data,
		ConversationID:   conversationID,
	}
}

// route decides what this turn is and produces a raw task result. A pending
// proposal takes precedence over everything: the turn is read as the user's
// answer to the confirmation question.
func (s *Supervisor) route(ctx context.Context, input, conversationID, userID, subjectID string) (core.Intent, core.TaskResult) {
	if proposal := s.pendingProposal(ctx, conversationID); proposal != nil {
		return core.IntentClarification, s.resolveConfirmation(ctx, conversationID, proposal, input)
	}

	intent := s.classifyIntent(ctx, conversationID, input)
	s.logger.Info("supervisor.routed", "conversation_id", conversationID, "intent", string(intent))

	if intent == core.IntentClarification {
		// Nothing is waiting on an answer, so there is no question to
		// resolve. Acknowledge and end the turn.
		return intent, core.TaskResult{
			Success: true,
			Message: "Thanks, noted. There is no pending question right now, so just tell me what you would like me to do with the records.",
		}
	}

	if intent.RequiresSubject() && subjectID == "" {
		return intent, core.TaskResult{
			Success:          false,
			Message:          "I need to know whose records this is about before I can help with that. Which person should I use?",
			RequiresFollowUp: true,
			FailureKind:      core.FailurePrecondition,
		}
	}

	exec, ok := s.executors[intent]
	if !ok {
		return intent, s.converse(ctx, input, conversationID)
	}

	return intent, s.dispatch(ctx, exec, input, conversationID, userID, subjectID)
}

// dispatch runs one executor with conversation context and harvests any
// proposal the confirmation gate staged during the run.
func (s *Supervisor) dispatch(ctx context.Context, exec *executor.Executor, input, conversationID, userID, subjectID string) core.TaskResult {
	runCtx := core.NewRunContext(ctx, conversationID, core.NewID(), userID, subjectID, s.logger)

	result := exec.Execute(runCtx, s.buildTaskInput(ctx, input, conversationID, subjectID))

	if v, ok := runCtx.GetData("pending_proposal"); ok {
		if proposal, ok := v.(*core.Proposal); ok {
			_, err := s.memory.UpsertWorkingMemory(ctx, conversationID, func(wm *core.WorkingMemory) {
				wm.PendingProposal = proposal
			})
			if err != nil {
				s.logger.Error("supervisor.proposal.store_failed", "conversation_id", conversationID, "error", err)
			}
		}
	}

	return result
}

// buildTaskInput prefixes the user's request with the scope and recent
// conversation context the executor needs.
func (s *Supervisor) buildTaskInput(ctx context.Context, input, conversationID, subjectID string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Subject id: %s\n", subjectID)

	if conv, err := s.memory.GetConversation(ctx, conversationID); err == nil {
		if conv.Summary != "" {
			fmt.Fprintf(&b, "Conversation so far: %s\n", conv.Summary)
		}
		recent := conv.RecentMessages(6)
		if len(recent) > 1 {
			b.WriteString("Recent messages:\n")
			for _, msg := range recent[:len(recent)-1] {
				fmt.Fprintf(&b, "- %s: %s\n", msg.Role, msg.Content)
			}
		}
	}

	fmt.Fprintf(&b, "\nRequest: %s", input)

	return b.String()
}

// converse is the no-tool conversational path for general and clarification
// turns.
func (s *Supervisor) converse(ctx context.Context, input, conversationID string) core.TaskResult {
	messages := []model.Message{}

	if conv, err := s.memory.GetConversation(ctx, conversationID); err == nil {
		for _, msg := range conv.RecentMessages(6) {
			role := "user"
			if msg.Role == core.RoleAssistant {
				role = "assistant"
			}
			messages = append(messages, model.Message{Role: role, Text: msg.Content})
		}
	}

	if len(messages) == 0 {
		messages = append(messages, model.Message{Role: "user", Text: input})
	}

	resp, err := s.model.Complete(ctx, model.Request{
		Instructions: generalInstructions,
		Messages:     messages,
	})
	if err != nil {
		s.logger.Error("supervisor.converse.error", "conversation_id", conversationID, "error", err)
		return core.TaskResult{
			Success:     false,
			Message:     "I ran into a problem reaching the assistant service. Please try again in a moment.",
			FailureKind: core.FailureInfrastructure,
		}
	}

	return core.TaskResult{Success: true, Message: resp.Text}
}

// pendingProposal returns the proposal held in working memory, if any.
func (s *Supervisor) pendingProposal(ctx context.Context, conversationID string) *core.Proposal {
	wm, err := s.memory.GetWorkingMemory(ctx, conversationID)
	if err != nil || wm == nil {
		return nil
	}
	return wm.PendingProposal
}

// resolveConfirmation settles a held proposal based on the user's reply. The
// proposal id doubles as the idempotency key, so a retried confirmation can
// never double-apply.
func (s *Supervisor) resolveConfirmation(ctx context.Context, conversationID string, proposal *core.Proposal, input string) core.TaskResult {
	switch s.classifyConfirmation(ctx, proposal.Preview, input) {
	case "confirm":
		commit, err := s.gate.Commit(ctx, proposal, true, proposal.ID)
		if err != nil {
			s.logger.Error("supervisor.confirm.commit_failed", "conversation_id", conversationID, "proposal_id", proposal.ID, "error", err)
			return core.TaskResult{
				Success:          false,
				Message:          "I could not apply the change. Nothing has been modified; please try again.",
				RequiresFollowUp: true,
				FailureKind:      core.FailureInfrastructure,
			}
		}

		s.clearProposal(ctx, conversationID)

		result := core.TaskResult{
			Success: true,
			Message: "Done. " + proposal.Preview,
		}
		if commit.Record != nil {
			result.Data = map[string]any{"record_id": commit.Record.ID}
		} else if len(commit.DeletedIDs) > 0 {
			result.Data = map[string]any{"deleted_record_ids": commit.DeletedIDs}
		}

		return result

	case "cancel":
		s.clearProposal(ctx, conversationID)

		return core.TaskResult{
			Success: true,
			Message: "Okay, I have discarded that change. Nothing was modified.",
		}
	}

	// Unclear reply: keep the proposal and ask again.
	return core.TaskResult{
		Success:          false,
		Message:          fmt.Sprintf("Just to be sure: should I apply this change?\n%s\nPlease answer yes or no.", proposal.Preview),
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

func (s *Supervisor) clearProposal(ctx context.Context, conversationID string) {
	_, err := s.memory.UpsertWorkingMemory(ctx, conversationID, func(wm *core.WorkingMemory) {
		wm.PendingProposal = nil
	})
	if err != nil {
		s.logger.Warn("supervisor.proposal.clear_failed", "conversation_id", conversationID, "error", err)
	}
}

// synthesize turns the raw result and its reflection into the final user
// message, appending the correction plan when the outcome left something open
// and the message does not already carry it.
func (s *Supervisor) synthesize(result core.TaskResult, note reflection.Reflection) string {
	message := result.Message
	if message == "" {
		if result.Success {
			message = "Done."
		} else {
			message = "I could not complete that request."
		}
	}

	if note.CorrectionNeeded && note.CorrectionPlan != "" && result.FailureKind != core.FailurePendingConfirmation && result.FailureKind != core.FailurePrecondition {
		message += "\n\n" + note.CorrectionPlan
	}

	return message
}

func (s *Supervisor) infrastructureResponse(ctx context.Context, conversationID string) *Response {
	message := "I ran into a storage problem and could not process that. Please try again."
	s.appendApology(ctx, conversationID, message)

	return &Response{
		Message:        message,
		Intent:         core.IntentGeneral,
		ConversationID: conversationID,
	}
}

// appendApology records the degraded reply in the conversation log so the
// transcript explains the failed turn. Best effort; the store may be the
// thing that is broken.
func (s *Supervisor) appendApology(ctx context.Context, conversationID, message string) {
	if err := s.memory.AppendMessage(ctx, conversationID, core.NewMessage(core.RoleAssistant, message)); err != nil {
		s.logger.Warn("supervisor.apology.append_failed", "conversation_id", conversationID, "error", err)
	}
}

// lockConversation serializes turns within one conversation. The entry is
// removed again once the last holder releases it.
func (s *Supervisor) lockConversation(conversationID string) func() {
	s.mu.Lock()
	if s.locks == nil {
		s.locks = make(map[string]*convLock)
	}
	lock, ok := s.locks[conversationID]
	if !ok {
		lock = &convLock{}
		s.locks[conversationID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, conversationID)
		}
		s.mu.Unlock()
	}
}
