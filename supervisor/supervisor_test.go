package supervisor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/recordflow/core"
	"github.com/hupe1980/recordflow/executor"
	"github.com/hupe1980/recordflow/memory"
	"github.com/hupe1980/recordflow/model"
	"github.com/hupe1980/recordflow/records"
	"github.com/hupe1980/recordflow/risk"
	"github.com/hupe1980/recordflow/tool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testStack struct {
	llm        *model.MockModel
	supervisor *Supervisor
	docs       *records.InMemoryDocumentStore
	memory     *memory.Manager
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	llm := model.NewMockModel("mock")
	docs := records.NewInMemoryDocumentStore()
	search := records.NewInMemorySearchStore(docs)
	graph := records.NewInMemoryGraphStore(docs)
	gate := risk.NewGate(docs)

	mem := memory.NewManager(
		memory.NewInMemoryConversationStore(),
		memory.NewInMemoryWorkingMemoryStore(),
		llm,
	)

	registry, err := tool.NewRegistry(tool.NewRecordToolset(docs, search, graph, gate)...)
	require.NoError(t, err)

	executors, err := executor.BuildExecutors(llm, registry, mem, executor.DefaultPresets())
	require.NoError(t, err)

	return &testStack{
		llm:        llm,
		supervisor: New(llm, executors, mem, gate),
		docs:       docs,
		memory:     mem,
	}
}

func intentResponse(intent string) model.Response {
	return model.Response{Text: `{"intent": "` + intent + `"}`}
}

func decisionResponse(decision string) model.Response {
	return model.Response{Text: `{"decision": "` + decision + `"}`}
}

func TestHandleRetrieveWithSubject(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	_, err := stack.docs.Create(ctx, &core.Record{
		SubjectID: "subject-1",
		Kind:      "medication",
		Title:     "Lisinopril",
	})
	require.NoError(t, err)

	stack.llm.Enqueue(
		intentResponse("retrieve"),
		model.Response{ToolCalls: []model.ToolCall{
			{ID: "tc-1", Name: "search_records", Arguments: `{"query": "lisinopril"}`},
		}},
		model.Response{Text: "You have one record for Lisinopril."},
	)

	resp := stack.supervisor.Handle(ctx, "what meds am I on?", "conv-1", "user-1", "subject-1")

	assert.True(t, resp.Success)
	assert.Equal(t, core.IntentRetrieve, resp.Intent)
	assert.Equal(t, "You have one record for Lisinopril.", resp.Message)
	assert.Equal(t, "conv-1", resp.ConversationID)

	// Both sides of the turn land in the durable log.
	conv, err := stack.memory.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, core.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, core.RoleAssistant, conv.Messages[1].Role)
}

func TestHandleMissingSubjectShortCircuits(t *testing.T) {
	stack := newTestStack(t)

	stack.llm.Enqueue(intentResponse("retrieve"))

	resp := stack.supervisor.Handle(context.Background(), "show my records", "conv-1", "user-1", "")

	assert.False(t, resp.Success)
	assert.True(t, resp.RequiresFollowUp)
	assert.NotEmpty(t, resp.Message)

	// No executor or tool ran: the only model call was classification.
	assert.Len(t, stack.llm.Requests(), 1)
}

func TestHandleMedicationUpdateHeldThenConfirmed(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	rec, err := stack.docs.Create(ctx, &core.Record{
		SubjectID: "subject-1",
		Kind:      "medication",
		Title:     "Lisinopril",
		Fields:    map[string]any{"dosage": "10mg"},
	})
	require.NoError(t, err)

	updateArgs, _ := json.Marshal(map[string]any{
		"record_id": rec.ID,
		"kind":      "medication",
		"fields":    map[string]any{"dosage": "20mg"},
	})

	stack.llm.Enqueue(
		intentResponse("modify"),
		model.Response{ToolCalls: []model.ToolCall{
			{ID: "tc-1", Name: "update_record", Arguments: string(updateArgs)},
		}},
		model.Response{Text: "Changing the dosage needs your confirmation first."},
	)

	resp := stack.supervisor.Handle(ctx, "raise my lisinopril to 20mg", "conv-1", "user-1", "subject-1")

	assert.False(t, resp.Success)
	assert.True(t, resp.RequiresFollowUp)
	assert.Equal(t, core.IntentModify, resp.Intent)

	// Nothing was mutated while the change is held.
	unchanged, err := stack.docs.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "10mg", unchanged.Fields["dosage"])

	// The user confirms on the next turn; the held proposal commits.
	stack.llm.Enqueue(decisionResponse("confirm"))

	confirmResp := stack.supervisor.Handle(ctx, "yes, go ahead", "conv-1", "user-1", "subject-1")
	assert.True(t, confirmResp.Success)

	updated, err := stack.docs.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "20mg", updated.Fields["dosage"])

	// The proposal is settled: a further turn is classified normally again.
	wm, err := stack.memory.GetWorkingMemory(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Nil(t, wm.PendingProposal)
}

func TestHandleDeclinedConfirmationDiscards(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	rec, err := stack.docs.Create(ctx, &core.Record{
		SubjectID: "subject-1",
		Kind:      "medication",
		Title:     "Lisinopril",
	})
	require.NoError(t, err)

	deleteArgs, _ := json.Marshal(map[string]any{
		"record_id": rec.ID,
		"kind":      "medication",
	})

	stack.llm.Enqueue(
		intentResponse("remove"),
		model.Response{ToolCalls: []model.ToolCall{
			{ID: "tc-1", Name: "delete_record", Arguments: string(deleteArgs)},
		}},
		model.Response{Text: "Deleting this medication needs your confirmation."},
		decisionResponse("cancel"),
	)

	stack.supervisor.Handle(ctx, "delete my lisinopril record", "conv-1", "user-1", "subject-1")
	resp := stack.supervisor.Handle(ctx, "no, keep it", "conv-1", "user-1", "subject-1")

	assert.True(t, resp.Success)

	// The record survives and the proposal is gone.
	_, err = stack.docs.Get(ctx, rec.ID)
	assert.NoError(t, err)

	wm, err := stack.memory.GetWorkingMemory(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Nil(t, wm.PendingProposal)
}

func TestHandleUnclearConfirmationReAsks(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	rec, err := stack.docs.Create(ctx, &core.Record{
		SubjectID: "subject-1",
		Kind:      "medication",
		Title:     "Lisinopril",
	})
	require.NoError(t, err)

	deleteArgs, _ := json.Marshal(map[string]any{
		"record_id": rec.ID,
		"kind":      "medication",
	})

	stack.llm.Enqueue(
		intentResponse("remove"),
		model.Response{ToolCalls: []model.ToolCall{
			{ID: "tc-1", Name: "delete_record", Arguments: string(deleteArgs)},
		}},
		model.Response{Text: "This deletion needs confirmation."},
		decisionResponse("unclear"),
	)

	stack.supervisor.Handle(ctx, "delete my lisinopril record", "conv-1", "user-1", "subject-1")
	resp := stack.supervisor.Handle(ctx, "what's the weather like?", "conv-1", "user-1", "subject-1")

	assert.False(t, resp.Success)
	assert.True(t, resp.RequiresFollowUp)

	// The proposal stays live for the next turn.
	wm, err := stack.memory.GetWorkingMemory(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.NotNil(t, wm.PendingProposal)
}

func TestHandleGeneralConversation(t *testing.T) {
	stack := newTestStack(t)

	stack.llm.Enqueue(
		intentResponse("general"),
		model.Response{Text: "Hello! I can help you manage your records."},
	)

	resp := stack.supervisor.Handle(context.Background(), "hi there", "conv-1", "user-1", "")

	assert.True(t, resp.Success)
	assert.Equal(t, core.IntentGeneral, resp.Intent)
	assert.Equal(t, "Hello! I can help you manage your records.", resp.Message)
}

func TestHandleUnparseableClassificationFallsBack(t *testing.T) {
	stack := newTestStack(t)

	stack.llm.Enqueue(
		model.Response{Text: "I think the user wants something"},
		model.Response{Text: "Happy to help."},
	)

	resp := stack.supervisor.Handle(context.Background(), "hmm", "conv-1", "user-1", "")

	assert.True(t, resp.Success)
	assert.Equal(t, core.IntentGeneral, resp.Intent)
}

func TestHandleGeneratesConversationID(t *testing.T) {
	stack := newTestStack(t)

	stack.llm.Enqueue(
		intentResponse("general"),
		model.Response{Text: "hello"},
	)

	resp := stack.supervisor.Handle(context.Background(), "hi", "", "user-1", "")

	assert.NotEmpty(t, resp.ConversationID)
}

func TestHandleCorrectionPlanAppendedOnNotFound(t *testing.T) {
	stack := newTestStack(t)

	stack.llm.Enqueue(
		intentResponse("retrieve"),
		model.Response{ToolCalls: []model.ToolCall{
			{ID: "tc-1", Name: "get_record", Arguments: `{"record_id": "missing"}`},
		}},
		model.Response{Text: "I could not find that record."},
	)

	resp := stack.supervisor.Handle(context.Background(), "show record missing", "conv-1", "user-1", "subject-1")

	// The missing record is reflected as a not-found outcome and the
	// re-search correction plan rides along in the final message, not the
	// generic retry advice a broken tool would get.
	assert.False(t, resp.Success)
	assert.True(t, resp.RequiresFollowUp)
	assert.Contains(t, resp.Message, "I could not find that record.")
	assert.Contains(t, resp.Message, "search the records again")
	assert.NotContains(t, resp.Message, "offer to retry")
}

func TestClassificationCarriesRecentContext(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	stack.llm.Enqueue(
		intentResponse("general"),
		model.Response{Text: "You have a Lisinopril record."},
	)
	stack.supervisor.Handle(ctx, "what do you know about my meds?", "conv-1", "user-1", "subject-1")

	stack.llm.Enqueue(intentResponse("remove"))
	stack.supervisor.Handle(ctx, "delete it", "conv-1", "user-1", "")

	// The second turn's intent request sees the recent exchange, so bare
	// follow-ups like "delete it" have something to resolve against.
	reqs := stack.llm.Requests()
	require.Len(t, reqs, 3)
	classify := reqs[2]
	require.Len(t, classify.Messages, 3)
	assert.Equal(t, "what do you know about my meds?", classify.Messages[0].Text)
	assert.Equal(t, "assistant", classify.Messages[1].Role)
	assert.Equal(t, "delete it", classify.Messages[2].Text)
}

func TestHandleClarificationWithoutPendingChange(t *testing.T) {
	stack := newTestStack(t)

	stack.llm.Enqueue(intentResponse("clarification"))

	resp := stack.supervisor.Handle(context.Background(), "yes, the second one", "conv-1", "user-1", "subject-1")

	// With nothing held for confirmation there is no question to resolve;
	// the turn ends with an acknowledgement instead of a model reply.
	assert.True(t, resp.Success)
	assert.Equal(t, core.IntentClarification, resp.Intent)
	assert.Contains(t, resp.Message, "no pending question")
	assert.Len(t, stack.llm.Requests(), 1)
}

type panickingModel struct{}

func (panickingModel) Complete(context.Context, model.Request) (*model.Response, error) {
	panic("inference client broke")
}

func (panickingModel) Info() model.Info {
	return model.Info{Name: "panicking", Provider: "mock"}
}

func TestHandlePanicLogsApology(t *testing.T) {
	docs := records.NewInMemoryDocumentStore()
	gate := risk.NewGate(docs)

	mem := memory.NewManager(
		memory.NewInMemoryConversationStore(),
		memory.NewInMemoryWorkingMemoryStore(),
		model.NewMockModel("mock"),
	)

	sup := New(panickingModel{}, nil, mem, gate)
	ctx := context.Background()

	resp := sup.Handle(ctx, "hello", "conv-1", "user-1", "")

	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Message)

	// The degraded turn is still explained in the durable log.
	conv, err := mem.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, core.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, core.RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, resp.Message, conv.Messages[1].Content)
}

func TestConversationLocksAreReleased(t *testing.T) {
	stack := newTestStack(t)
	sup := stack.supervisor

	unlock := sup.lockConversation("conv-a")

	contended := make(chan struct{})
	go func() {
		defer close(contended)
		u := sup.lockConversation("conv-a")
		u()
	}()

	unlock()
	<-contended

	other := sup.lockConversation("conv-b")
	other()

	sup.mu.Lock()
	defer sup.mu.Unlock()
	assert.Empty(t, sup.locks)
}

func TestWorkingMemoryExpiryDropsProposal(t *testing.T) {
	llm := model.NewMockModel("mock")
	docs := records.NewInMemoryDocumentStore()
	gate := risk.NewGate(docs)

	mem := memory.NewManager(
		memory.NewInMemoryConversationStore(),
		memory.NewInMemoryWorkingMemoryStore(),
		llm,
		func(o *memory.Options) { o.WorkingMemoryTTL = time.Millisecond },
	)

	registry, err := tool.NewRegistry(tool.NewRecordToolset(docs, records.NewInMemorySearchStore(docs), records.NewInMemoryGraphStore(docs), gate)...)
	require.NoError(t, err)

	executors, err := executor.BuildExecutors(llm, registry, mem, executor.DefaultPresets())
	require.NoError(t, err)

	sup := New(llm, executors, mem, gate)
	ctx := context.Background()

	rec, err := docs.Create(ctx, &core.Record{SubjectID: "subject-1", Kind: "medication", Title: "Lisinopril"})
	require.NoError(t, err)

	deleteArgs, _ := json.Marshal(map[string]any{"record_id": rec.ID, "kind": "medication"})

	llm.Enqueue(
		intentResponse("remove"),
		model.Response{ToolCalls: []model.ToolCall{
			{ID: "tc-1", Name: "delete_record", Arguments: string(deleteArgs)},
		}},
		model.Response{Text: "Needs confirmation."},
	)

	sup.Handle(ctx, "delete it", "conv-1", "user-1", "subject-1")

	time.Sleep(5 * time.Millisecond)

	// The working memory (and its held proposal) has expired; the next turn
	// is classified fresh instead of resolving a stale confirmation.
	llm.Enqueue(
		intentResponse("general"),
		model.Response{Text: "What would you like to do?"},
	)

	resp := sup.Handle(ctx, "yes", "conv-1", "user-1", "subject-1")

	assert.True(t, resp.Success)
	assert.Equal(t, core.IntentGeneral, resp.Intent)

	// The record was never deleted.
	_, err = docs.Get(ctx, rec.ID)
	assert.NoError(t, err)
}
