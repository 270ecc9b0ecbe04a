package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntent(t *testing.T) {
	intent, ok := ParseIntent("retrieve")
	assert.True(t, ok)
	assert.Equal(t, IntentRetrieve, intent)

	intent, ok = ParseIntent("banana")
	assert.False(t, ok)
	assert.Equal(t, IntentGeneral, intent)
}

func TestIntentRequiresSubject(t *testing.T) {
	assert.True(t, IntentCreate.RequiresSubject())
	assert.True(t, IntentRemove.RequiresSubject())
	assert.False(t, IntentGeneral.RequiresSubject())
	assert.False(t, IntentClarification.RequiresSubject())
}

func TestChangeRequestTargetCount(t *testing.T) {
	assert.Equal(t, 1, ChangeRequest{Action: "create"}.TargetCount())
	assert.Equal(t, 1, ChangeRequest{Action: "delete", RecordID: "a"}.TargetCount())
	assert.Equal(t, 3, ChangeRequest{Action: "delete", TargetIDs: []string{"a", "b", "c"}}.TargetCount())
	assert.Equal(t, 0, ChangeRequest{Action: "delete"}.TargetCount())
}

func TestWorkingMemoryExpiry(t *testing.T) {
	wm := NewWorkingMemory("conv-1", time.Minute)

	assert.False(t, wm.Expired(time.Now()))
	assert.True(t, wm.Expired(time.Now().Add(2*time.Minute)))
}

func TestWorkingMemoryTouchSlides(t *testing.T) {
	wm := NewWorkingMemory("conv-1", time.Minute)
	before := wm.ExpiresAt

	time.Sleep(2 * time.Millisecond)
	wm.Touch(time.Minute)

	assert.True(t, wm.ExpiresAt.After(before))
}

func TestWorkingMemoryCloneIsDeep(t *testing.T) {
	wm := NewWorkingMemory("conv-1", time.Minute)
	wm.Observations = append(wm.Observations, Observation{Text: "original"})

	clone := wm.Clone()
	clone.Observations[0].Text = "mutated"
	clone.Observations = append(clone.Observations, Observation{Text: "extra"})

	assert.Equal(t, "original", wm.Observations[0].Text)
	assert.Len(t, wm.Observations, 1)
}

func TestConversationRecentMessages(t *testing.T) {
	conv := NewConversation("conv-1", "user-1", "subject-1")
	for i := 0; i < 5; i++ {
		conv.Messages = append(conv.Messages, NewMessage(RoleUser, fmt.Sprintf("msg %d", i)))
	}

	recent := conv.RecentMessages(3)
	require.Len(t, recent, 3)
	assert.Equal(t, "msg 2", recent[0].Content)
	assert.Equal(t, "msg 4", recent[2].Content)

	all := conv.RecentMessages(100)
	assert.Len(t, all, 5)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(ErrNotFound))
	assert.True(t, IsNotFound(fmt.Errorf("record x: %w", ErrNotFound)))
	assert.False(t, IsNotFound(errors.New("other")))
}

func TestAsPendingConfirmation(t *testing.T) {
	proposal := &Proposal{ID: "prop-1", Change: ChangeRequest{Action: "delete", ResourceKind: "medication"}}
	err := fmt.Errorf("wrapped: %w", &PendingConfirmationError{Proposal: proposal})

	pending, ok := AsPendingConfirmation(err)
	require.True(t, ok)
	assert.Equal(t, "prop-1", pending.Proposal.ID)

	_, ok = AsPendingConfirmation(errors.New("plain"))
	assert.False(t, ok)
}

func TestRunContextData(t *testing.T) {
	runCtx := NewRunContext(context.Background(), "conv-1", "run-1", "user-1", "subject-1", nil)

	_, ok := runCtx.GetData("missing")
	assert.False(t, ok)

	runCtx.SetData("created_record_id", "rec-1")
	v, ok := runCtx.GetData("created_record_id")
	require.True(t, ok)
	assert.Equal(t, "rec-1", v)
}

func TestToolContextExposesRunScope(t *testing.T) {
	runCtx := NewRunContext(context.Background(), "conv-1", "run-1", "user-1", "subject-1", nil)
	toolCtx := NewToolContext(runCtx, "fc-9")

	assert.Equal(t, "conv-1", toolCtx.ConversationID())
	assert.Equal(t, "subject-1", toolCtx.SubjectID())
	assert.Equal(t, "fc-9", toolCtx.FunctionCallID())

	toolCtx.SetData("graph", "g")
	v, ok := runCtx.GetData("graph")
	require.True(t, ok)
	assert.Equal(t, "g", v)
}
