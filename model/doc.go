// Package model defines the vendor-neutral inference interface used by the
// supervisor and reasoning loop, plus the normalized request/response types
// (transcript messages, tool definitions, tool invocation requests).
// Provider adapters live in the anthropic and openai subpackages; MockModel
// supports deterministic tests.
package model
