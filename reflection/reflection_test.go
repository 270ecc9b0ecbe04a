package reflection

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/recordflow/core"
)

func TestReflectCleanSuccess(t *testing.T) {
	e := NewEngine()

	r := e.Reflect(core.TaskResult{Success: true, Message: "done"})

	assert.True(t, r.WasSuccessful)
	assert.False(t, r.CorrectionNeeded)
}

func TestReflectSuccessWithFollowUp(t *testing.T) {
	e := NewEngine()

	r := e.Reflect(core.TaskResult{Success: true, RequiresFollowUp: true})

	assert.True(t, r.WasSuccessful)
	assert.True(t, r.CorrectionNeeded)
	assert.NotEmpty(t, r.CorrectionPlan)
}

func TestReflectPendingConfirmationIsNotFailure(t *testing.T) {
	e := NewEngine()

	r := e.Reflect(core.TaskResult{
		Success:          false,
		RequiresFollowUp: true,
		FailureKind:      core.FailurePendingConfirmation,
	})

	// Holding a risky change for confirmation is the intended outcome.
	assert.True(t, r.WasSuccessful)
	assert.True(t, r.CorrectionNeeded)
}

func TestReflectFailureKinds(t *testing.T) {
	e := NewEngine()

	kinds := []core.FailureKind{
		core.FailurePrecondition,
		core.FailureNotFound,
		core.FailureBudgetExhausted,
		core.FailureToolError,
		core.FailureInfrastructure,
	}

	for _, kind := range kinds {
		r := e.Reflect(core.TaskResult{Success: false, FailureKind: kind})

		assert.False(t, r.WasSuccessful, "kind %s", kind)
		assert.True(t, r.CorrectionNeeded, "kind %s", kind)
		assert.NotEmpty(t, r.CorrectionPlan, "kind %s", kind)
	}
}

func TestReflectDeterministic(t *testing.T) {
	e := NewEngine()

	// Same structured outcome, different free text: the verdict must not
	// depend on phrasing.
	a := e.Reflect(core.TaskResult{Success: false, Message: "sorry, that failed", FailureKind: core.FailureNotFound})
	b := e.Reflect(core.TaskResult{Success: false, Message: "no luck at all", FailureKind: core.FailureNotFound})

	assert.Equal(t, a, b)
}

func TestNoteCarriesVerdict(t *testing.T) {
	e := NewEngine()

	r := e.Reflect(core.TaskResult{Success: false, FailureKind: core.FailureToolError})
	note := r.Note()

	assert.Equal(t, r.WasSuccessful, note.WasSuccessful)
	assert.Equal(t, r.CorrectionPlan, note.CorrectionPlan)
	assert.False(t, note.Timestamp.IsZero())
}
