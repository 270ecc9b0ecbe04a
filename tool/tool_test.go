package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/recordflow/core"
	"github.com/hupe1980/recordflow/internal/util"
)

func newTestToolContext() *core.ToolContext {
	runCtx := core.NewRunContext(context.Background(), "conv-1", "run-1", "user-1", "subject-1", nil)
	return core.NewToolContext(runCtx, "fc-1")
}

// -------------------- Schema & Validation Tests --------------------

type sampleSchema struct {
	A string `json:"a" description:"Field A"`
	B *int   `json:"b" description:"Optional pointer field"`
	C int    `json:"c,omitempty" description:"Omit empty field"`
}

func TestCreateSchema(t *testing.T) {
	schema := util.CreateSchema(sampleSchema{})
	props, ok := schema["properties"].(map[string]any)
	assert.True(t, ok)
	assert.Contains(t, props, "a")
	assert.Contains(t, props, "b")
	assert.Contains(t, props, "c")
	// Required only includes non-pointer, non-omitempty exported fields
	req, _ := schema["required"].([]string)
	assert.ElementsMatch(t, []string{"a"}, req)
}

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"x": map[string]any{"type": "integer"},
		},
		"required": []any{"x"},
	}

	assert.NoError(t, util.ValidateParameters(map[string]any{"x": 5}, schema))

	err := util.ValidateParameters(map[string]any{}, schema)
	assert.Error(t, err)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "x", vErr.Field)
}

// -------------------- FunctionTool Tests --------------------

func TestFunctionToolCall(t *testing.T) {
	ft := NewFunctionTool("echo", "Echo the input back.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"msg": map[string]any{"type": "string"},
			},
			"required": []string{"msg"},
		},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			return args["msg"], nil
		},
	)

	result, err := ft.Call(newTestToolContext(), map[string]any{"msg": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", result)
}

func TestFunctionToolValidationError(t *testing.T) {
	ft := NewFunctionTool("strict", "Needs a field.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"x": map[string]any{"type": "string"},
			},
			"required": []string{"x"},
		},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			return nil, nil
		},
	)

	_, err := ft.Call(newTestToolContext(), map[string]any{})
	require.Error(t, err)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
}

func TestFunctionToolErrorPassthrough(t *testing.T) {
	custom := NewToolError("failing", "specific failure", "NOT_FOUND")
	ft := NewFunctionTool("failing", "Always fails.",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			return nil, custom
		},
	)

	_, err := ft.Call(newTestToolContext(), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	// An explicit ToolError crosses the boundary unchanged.
	assert.Equal(t, "NOT_FOUND", toolErr.Code)
}

func TestFunctionToolWrapsGenericError(t *testing.T) {
	ft := NewFunctionTool("broken", "Returns a plain error.",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			return nil, errors.New("boom")
		},
	)

	_, err := ft.Call(newTestToolContext(), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)
}

// -------------------- Registry Tests --------------------

func noopTool(name string) Tool {
	return NewFunctionTool(name, "test tool",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			return "ok", nil
		},
	)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(noopTool("a"), noopTool("a"))
	assert.Error(t, err)
}

func TestRegistrySubsetValidatesNames(t *testing.T) {
	reg, err := NewRegistry(noopTool("a"), noopTool("b"))
	require.NoError(t, err)

	sub, err := reg.Subset("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, sub.Names())

	_, err = reg.Subset("a", "missing")
	assert.Error(t, err)
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	reg, err := NewRegistry(noopTool("a"))
	require.NoError(t, err)

	_, err = reg.Execute(newTestToolContext(), "nope", "{}")
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "UNKNOWN_TOOL", toolErr.Code)
}

func TestRegistryExecuteBadArguments(t *testing.T) {
	reg, err := NewRegistry(noopTool("a"))
	require.NoError(t, err)

	_, err = reg.Execute(newTestToolContext(), "a", "{not-json")
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
}

func TestRegistryExecuteRecoversPanic(t *testing.T) {
	panicking := NewFunctionTool("panics", "test tool",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			panic("tool went sideways")
		},
	)

	reg, err := NewRegistry(panicking)
	require.NoError(t, err)

	_, err = reg.Execute(newTestToolContext(), "panics", "{}")
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)
}

func TestRegistryDefinitionsSorted(t *testing.T) {
	reg, err := NewRegistry(noopTool("z"), noopTool("a"), noopTool("m"))
	require.NoError(t, err)

	defs := reg.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "a", defs[0].Name)
	assert.Equal(t, "m", defs[1].Name)
	assert.Equal(t, "z", defs[2].Name)
}
