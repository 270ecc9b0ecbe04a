package tool

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"

	"github.com/hupe1980/recordflow/core"
	"github.com/hupe1980/recordflow/model"
)

// Registry is a typed map from tool name to implementation. Registration
// rejects duplicates and Subset validates at construction time that every
// referenced tool name exists, so a dangling reference fails at startup
// instead of mid-conversation.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry constructs a registry from the given tools. Duplicate names are
// an error.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool; a duplicate name is rejected.
func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return fmt.Errorf("tool must have a non-empty name")
	}
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Subset returns a registry restricted to the named tools. Every name must
// exist in the parent registry.
func (r *Registry) Subset(names ...string) (*Registry, error) {
	sub := &Registry{tools: make(map[string]Tool, len(names))}
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			return nil, fmt.Errorf("tool %q referenced but not registered", name)
		}
		sub.tools[name] = t
	}
	return sub, nil
}

// Definitions exposes the registered tools as model tool definitions, sorted
// by name for stable prompts.
func (r *Registry) Definitions() []model.ToolDefinition {
	defs := make([]model.ToolDefinition, 0, len(r.tools))
	for _, name := range r.Names() {
		t := r.tools[name]
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Execute looks up and invokes a tool with serialized JSON arguments. Failures
// never cross the registry boundary as panics: unknown tools, argument decode
// failures, tool errors and recovered panics all come back as an error the
// caller folds into a structured tool result.
func (r *Registry) Execute(toolCtx *core.ToolContext, toolName, args string) (result any, err error) {
	impl, ok := r.tools[toolName]
	if !ok {
		return nil, NewToolError(toolName, "tool not registered", "UNKNOWN_TOOL")
	}

	var argMap map[string]any
	if args == "" {
		argMap = map[string]any{}
	} else if jsonErr := json.Unmarshal([]byte(args), &argMap); jsonErr != nil {
		return nil, &ToolError{
			Tool:    toolName,
			Message: fmt.Sprintf("failed to unmarshal args: %v", jsonErr),
			Code:    "VALIDATION_ERROR",
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			toolCtx.LogError("tool.call.panic", "tool", toolName, "recover", rec, "stack", string(debug.Stack()))
			result = nil
			err = NewToolError(toolName, fmt.Sprintf("panic recovered: %v", rec), "EXECUTION_ERROR")
		}
	}()

	return impl.Call(toolCtx, argMap)
}
