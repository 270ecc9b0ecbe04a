package tool

import (
	"fmt"

	"github.com/hupe1980/recordflow/core"
	"github.com/hupe1980/recordflow/risk"
)

// NewRecordToolset builds the full set of record tools over the injected
// collaborators. Mutating tools never touch the document store directly;
// every create/update/delete goes through the confirmation gate's
// propose/commit pair, and a held mutation comes back as a structured
// pending-confirmation result rather than an error.
func NewRecordToolset(
	docs core.DocumentStore,
	search core.SearchStore,
	graph core.GraphStore,
	gate *risk.Gate,
) []Tool {
	return []Tool{
		newSearchRecordsTool(search),
		newGetRecordTool(docs),
		newListRecordsTool(docs),
		newCreateRecordTool(gate),
		newUpdateRecordTool(gate),
		newDeleteRecordTool(gate),
		newExtractEntitiesTool(graph),
		newBuildRecordGraphTool(graph),
	}
}

func newSearchRecordsTool(search core.SearchStore) Tool {
	return NewFunctionTool(
		"search_records",
		"Search the subject's records by free-text query, optionally filtered by record kind.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "Free-text search query"},
				"kind":  map[string]any{"type": "string", "description": "Optional record kind filter"},
				"limit": map[string]any{"type": "integer", "description": "Maximum number of results"},
			},
			"required": []string{"query"},
		},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			filters := core.SearchFilters{SubjectID: toolCtx.SubjectID(), Limit: 10}
			if kind, ok := args["kind"].(string); ok {
				filters.Kind = kind
			}
			if limit, ok := args["limit"].(float64); ok && limit > 0 {
				filters.Limit = int(limit)
			}

			results, err := search.Search(toolCtx.Context(), query, filters)
			if err != nil {
				return nil, err
			}

			ids := make([]string, 0, len(results))
			for _, r := range results {
				ids = append(ids, r.Record.ID)
			}
			toolCtx.SetData("matched_record_ids", ids)

			return map[string]any{"results": results, "count": len(results)}, nil
		},
	)
}

func newGetRecordTool(docs core.DocumentStore) Tool {
	return NewFunctionTool(
		"get_record",
		"Fetch a single record by its identifier.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"record_id": map[string]any{"type": "string", "description": "Record identifier"},
			},
			"required": []string{"record_id"},
		},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			recordID, _ := args["record_id"].(string)
			rec, err := docs.Get(toolCtx.Context(), recordID)
			if err != nil {
				if core.IsNotFound(err) {
					return nil, NewToolError("get_record", fmt.Sprintf("record %s not found", recordID), "NOT_FOUND")
				}
				return nil, err
			}
			return rec, nil
		},
	)
}

func newListRecordsTool(docs core.DocumentStore) Tool {
	return NewFunctionTool(
		"list_records",
		"List the subject's records, optionally filtered by record kind.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"kind": map[string]any{"type": "string", "description": "Optional record kind filter"},
			},
		},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			kind, _ := args["kind"].(string)
			records, err := docs.ListBySubject(toolCtx.Context(), toolCtx.SubjectID(), kind)
			if err != nil {
				return nil, err
			}
			return map[string]any{"records": records, "count": len(records)}, nil
		},
	)
}

func newCreateRecordTool(gate *risk.Gate) Tool {
	return NewFunctionTool(
		"create_record",
		"Create a new record for the subject. Sensitive record kinds are previewed and held until the user confirms.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"kind":            map[string]any{"type": "string", "description": "Record kind, e.g. note, condition, medication"},
				"title":           map[string]any{"type": "string", "description": "Short record title"},
				"fields":          map[string]any{"type": "object", "description": "Record field values"},
				"confirmed":       map[string]any{"type": "boolean", "description": "Set true only after the user explicitly confirmed the previewed change"},
				"idempotency_key": map[string]any{"type": "string", "description": "Key de-duplicating a retried confirmation"},
			},
			"required": []string{"kind", "title"},
		},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			fields, _ := args["fields"].(map[string]any)
			if fields == nil {
				fields = map[string]any{}
			}
			fields["title"] = args["title"]

			change := core.ChangeRequest{
				Action:       "create",
				ResourceKind: args["kind"].(string),
				SubjectID:    toolCtx.SubjectID(),
				Fields:       fields,
			}

			result, err := commitChange(toolCtx, gate, change, args)
			if err != nil {
				return nil, err
			}
			if rec, ok := result.(*risk.CommitResult); ok && rec.Record != nil {
				toolCtx.SetData("created_record_id", rec.Record.ID)
			}
			return result, nil
		},
	)
}

func newUpdateRecordTool(gate *risk.Gate) Tool {
	return NewFunctionTool(
		"update_record",
		"Update field values of an existing record. Risky changes are previewed and held until the user confirms.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"record_id":       map[string]any{"type": "string", "description": "Record identifier"},
				"kind":            map[string]any{"type": "string", "description": "Record kind of the target"},
				"fields":          map[string]any{"type": "object", "description": "Field values to set"},
				"confirmed":       map[string]any{"type": "boolean", "description": "Set true only after the user explicitly confirmed the previewed change"},
				"idempotency_key": map[string]any{"type": "string", "description": "Key de-duplicating a retried confirmation"},
			},
			"required": []string{"record_id", "kind", "fields"},
		},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			change := core.ChangeRequest{
				Action:       "update",
				ResourceKind: args["kind"].(string),
				RecordID:     args["record_id"].(string),
				SubjectID:    toolCtx.SubjectID(),
				Fields:       args["fields"].(map[string]any),
			}

			result, err := commitChange(toolCtx, gate, change, args)
			if err != nil {
				return nil, err
			}
			if rec, ok := result.(*risk.CommitResult); ok && rec.Record != nil {
				toolCtx.SetData("updated_record_id", rec.Record.ID)
			}
			return result, nil
		},
	)
}

func newDeleteRecordTool(gate *risk.Gate) Tool {
	return NewFunctionTool(
		"delete_record",
		"Delete one or more records. Deletions are previewed and held until the user confirms when the risk rules demand it.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"record_id":       map[string]any{"type": "string", "description": "Record identifier (single delete)"},
				"record_ids":      map[string]any{"type": "array", "description": "Record identifiers (bulk delete)"},
				"kind":            map[string]any{"type": "string", "description": "Record kind of the targets"},
				"confirmed":       map[string]any{"type": "boolean", "description": "Set true only after the user explicitly confirmed the previewed change"},
				"idempotency_key": map[string]any{"type": "string", "description": "Key de-duplicating a retried confirmation"},
			},
			"required": []string{"kind"},
		},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			change := core.ChangeRequest{
				Action:       "delete",
				ResourceKind: args["kind"].(string),
				SubjectID:    toolCtx.SubjectID(),
			}
			if id, ok := args["record_id"].(string); ok {
				change.RecordID = id
			}
			if ids, ok := args["record_ids"].([]any); ok {
				for _, id := range ids {
					if s, ok := id.(string); ok {
						change.TargetIDs = append(change.TargetIDs, s)
					}
				}
			}
			if change.RecordID == "" && len(change.TargetIDs) == 0 {
				return nil, NewToolError("delete_record", "record_id or record_ids is required", "VALIDATION_ERROR")
			}

			return commitChange(toolCtx, gate, change, args)
		},
	)
}

func newExtractEntitiesTool(graph core.GraphStore) Tool {
	return NewFunctionTool(
		"extract_entities",
		"Extract named entities (medications, conditions, providers) from free text.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string", "description": "Text to extract entities from"},
			},
			"required": []string{"text"},
		},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			entities, err := graph.ExtractEntities(toolCtx.Context(), args["text"].(string))
			if err != nil {
				return nil, err
			}
			return map[string]any{"entities": entities, "count": len(entities)}, nil
		},
	)
}

func newBuildRecordGraphTool(graph core.GraphStore) Tool {
	return NewFunctionTool(
		"build_record_graph",
		"Build the relationship graph over the subject's records.",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			g, err := graph.BuildGraph(toolCtx.Context(), toolCtx.SubjectID())
			if err != nil {
				return nil, err
			}
			toolCtx.SetData("graph", g)
			return g, nil
		},
	)
}

// commitChange runs the shared propose/commit flow for mutating tools. A held
// mutation is folded into a structured pending-confirmation payload so the
// reasoning loop can relay the preview instead of treating it as a failure.
func commitChange(toolCtx *core.ToolContext, gate *risk.Gate, change core.ChangeRequest, args map[string]any) (any, error) {
	proposal, err := gate.Propose(toolCtx.Context(), change)
	if err != nil {
		return nil, err
	}

	confirmed, _ := args["confirmed"].(bool)
	idempotencyKey, _ := args["idempotency_key"].(string)
	if idempotencyKey == "" {
		// A proposal commits at most once unless the caller opts into a
		// coarser key.
		idempotencyKey = proposal.ID
	}

	result, err := gate.Commit(toolCtx.Context(), proposal, confirmed, idempotencyKey)
	if err != nil {
		if pending, ok := core.AsPendingConfirmation(err); ok {
			p := pending.Proposal
			toolCtx.SetData("pending_proposal", p)
			return map[string]any{
				"pending_confirmation": true,
				"proposal_id":          p.ID,
				"preview":              p.Preview,
				"level":                p.Level,
				"reasons":              p.Reasons,
				"note":                 "No change was applied. Relay the preview to the user and ask for explicit confirmation.",
			}, nil
		}
		return nil, err
	}

	return result, nil
}
