// Package core contains the shared data model and service interfaces of
// RecordFlow: conversations and their append-only message log, the TTL-bound
// working memory a task executor reasons in, task results and intents, the
// change/proposal types flowing through the confirmation gate, and the store
// interfaces (conversation, working memory, document, search, graph) that
// concrete backends implement.
//
// Higher layers (supervisor, executor, memory, risk, tool) depend on this
// package only; backends are injected, never looked up globally.
package core
