// Package reflection evaluates a completed task's outcome. The verdict is
// derived from the TaskResult's structured fields (failure kind, follow-up
// flag, confirmation metadata), never from pattern matching the free text, so
// the same outcome yields the same verdict regardless of phrasing.
package reflection

import (
	"time"

	"github.com/hupe1980/recordflow/core"
)

// Reflection is the post-hoc evaluation of one task result.
type Reflection struct {
	WasSuccessful    bool     `json:"was_successful"`
	LessonsLearned   []string `json:"lessons_learned,omitempty"`
	CorrectionNeeded bool     `json:"correction_needed"`
	CorrectionPlan   string   `json:"correction_plan,omitempty"`
}

// Engine derives reflections from task results.
type Engine struct{}

// NewEngine constructs a reflection engine.
func NewEngine() *Engine { return &Engine{} }

// Reflect maps a task result onto a verdict and, where the outcome left
// something open, a correction plan the supervisor appends to the final
// message.
func (e *Engine) Reflect(result core.TaskResult) Reflection {
	switch result.FailureKind {
	case core.FailurePrecondition:
		return Reflection{
			LessonsLearned:   []string{"a required input was missing before dispatch"},
			CorrectionNeeded: true,
			CorrectionPlan:   "Ask the user to provide the missing information so the request can be retried.",
		}

	case core.FailurePendingConfirmation:
		return Reflection{
			// Holding a risky change for confirmation is the intended outcome,
			// not a failure of the task.
			WasSuccessful:    true,
			LessonsLearned:   []string{"a risky mutation was previewed and held for confirmation"},
			CorrectionNeeded: true,
			CorrectionPlan:   "Ask the user to confirm or reject the previewed change before anything is applied.",
		}

	case core.FailureNotFound:
		return Reflection{
			LessonsLearned:   []string{"the referenced record could not be found"},
			CorrectionNeeded: true,
			CorrectionPlan:   "Offer to search the records again with different terms or list what exists.",
		}

	case core.FailureBudgetExhausted:
		return Reflection{
			LessonsLearned:   []string{"the reasoning loop hit its iteration budget before finishing"},
			CorrectionNeeded: true,
			CorrectionPlan:   "Suggest narrowing the request or splitting it into smaller steps.",
		}

	case core.FailureToolError:
		return Reflection{
			LessonsLearned:   []string{"a tool failure remained unresolved at the end of the loop"},
			CorrectionNeeded: true,
			CorrectionPlan:   "Explain what failed and offer to retry the operation.",
		}

	case core.FailureInfrastructure:
		return Reflection{
			LessonsLearned:   []string{"a backend service was unavailable"},
			CorrectionNeeded: true,
			CorrectionPlan:   "Apologize and suggest trying again shortly.",
		}
	}

	if !result.Success {
		return Reflection{
			CorrectionNeeded: true,
			CorrectionPlan:   "Ask the user to rephrase or provide more detail.",
		}
	}

	if result.RequiresFollowUp {
		return Reflection{
			WasSuccessful:    true,
			LessonsLearned:   []string{"the task succeeded but left an open follow-up"},
			CorrectionNeeded: true,
			CorrectionPlan:   "Offer further assistance with the open follow-up.",
		}
	}

	return Reflection{WasSuccessful: true}
}

// Note converts a reflection into the persisted working-memory form.
func (r Reflection) Note() core.ReflectionNote {
	return core.ReflectionNote{
		WasSuccessful:    r.WasSuccessful,
		LessonsLearned:   r.LessonsLearned,
		CorrectionNeeded: r.CorrectionNeeded,
		CorrectionPlan:   r.CorrectionPlan,
		Timestamp:        time.Now().UTC(),
	}
}
