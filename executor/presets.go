package executor

import (
	"fmt"

	"github.com/hupe1980/recordflow/core"
	"github.com/hupe1980/recordflow/memory"
	"github.com/hupe1980/recordflow/model"
	"github.com/hupe1980/recordflow/tool"
)

// Preset declares the instruction set and allowed tools for one routed task
// kind. Tool names are validated against the registry at construction time.
type Preset struct {
	Intent       core.Intent
	Instructions string
	ToolNames    []string
}

const baseRules = `Rules:
- Work only with the subject the request is scoped to.
- Call tools one step at a time and read each result before deciding the next step.
- If a tool reports pending_confirmation, do not retry the change. Tell the user exactly what would change and that you need their confirmation.
- If a tool fails, adjust your arguments or approach and try once more before giving up.
- When you have what you need, answer in plain language without mentioning tools.`

// DefaultPresets returns the built-in task kinds. Every record-bound intent
// has one; general and clarification turns never reach an executor.
func DefaultPresets() []Preset {
	return []Preset{
		{
			Intent: core.IntentCreate,
			Instructions: `You create records for a subject based on the user's request.
Search first to avoid duplicates, then create the record with a clear title and the fields the user provided.
` + baseRules,
			ToolNames: []string{"search_records", "list_records", "create_record", "extract_entities"},
		},
		{
			Intent: core.IntentRetrieve,
			Instructions: `You look up a subject's records and answer questions about them.
Prefer search_records for free-text questions and get_record when an exact id is known. Summarize what you found; say clearly when nothing matches.
` + baseRules,
			ToolNames: []string{"search_records", "get_record", "list_records"},
		},
		{
			Intent: core.IntentModify,
			Instructions: `You update an existing record for a subject.
Locate the record first, confirm it is the one the user means, then apply the requested field changes with update_record.
` + baseRules,
			ToolNames: []string{"search_records", "get_record", "list_records", "update_record"},
		},
		{
			Intent: core.IntentRemove,
			Instructions: `You delete records for a subject.
Locate the record first and double check it matches the user's description before calling delete_record. Never guess at ids.
` + baseRules,
			ToolNames: []string{"search_records", "get_record", "list_records", "delete_record"},
		},
		{
			Intent: core.IntentVisualize,
			Instructions: `You build a relationship graph over a subject's records.
Use build_record_graph for the subject, then describe the notable nodes and connections in plain language.
` + baseRules,
			ToolNames: []string{"list_records", "extract_entities", "build_record_graph"},
		},
	}
}

// BuildExecutors constructs one executor per preset, restricting each to its
// declared tool subset. A preset naming an unregistered tool is a startup
// error, not a runtime one.
func BuildExecutors(m model.Model, registry *tool.Registry, mem *memory.Manager, presets []Preset, optFns ...func(o *Options)) (map[core.Intent]*Executor, error) {
	executors := make(map[core.Intent]*Executor, len(presets))

	for _, preset := range presets {
		if _, exists := executors[preset.Intent]; exists {
			return nil, fmt.Errorf("duplicate executor preset for intent %q", preset.Intent)
		}

		subset, err := registry.Subset(preset.ToolNames...)
		if err != nil {
			return nil, fmt.Errorf("preset %q: %w", preset.Intent, err)
		}

		executors[preset.Intent] = New(string(preset.Intent), preset.Instructions, m, subset, mem, optFns...)
	}

	return executors, nil
}
