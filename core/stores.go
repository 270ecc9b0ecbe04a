package core

import (
	"context"
	"time"
)

// Record is a domain document about a subject (person). Field-level schema
// validation is an external concern; the engine treats Fields as opaque.
type Record struct {
	ID        string         `json:"id"`
	SubjectID string         `json:"subject_id"`
	Kind      string         `json:"kind"`
	Title     string         `json:"title"`
	Fields    map[string]any `json:"fields,omitempty"`
	Status    string         `json:"status,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ConversationStore persists conversations and their append-only message log.
type ConversationStore interface {
	Create(ctx context.Context, conv *Conversation) error
	Get(ctx context.Context, conversationID string) (*Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, msg Message) error
	UpdateSummary(ctx context.Context, conversationID, summary string) error
	Archive(ctx context.Context, conversationID string) error
}

// WorkingMemoryStore is the durable tier (write-of-record) for working memory.
// Get must never return an expired record; PurgeExpired removes them.
type WorkingMemoryStore interface {
	Get(ctx context.Context, conversationID string) (*WorkingMemory, error)
	Put(ctx context.Context, wm *WorkingMemory) error
	Delete(ctx context.Context, conversationID string) error
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// WorkingMemoryCache is the process-local hot tier in front of the durable
// working memory store. Implementations evict on TTL.
type WorkingMemoryCache interface {
	Get(conversationID string) (*WorkingMemory, bool)
	Set(wm *WorkingMemory, ttl time.Duration)
	Delete(conversationID string)
}

// DocumentStore is the external record persistence collaborator.
type DocumentStore interface {
	Create(ctx context.Context, rec *Record) (*Record, error)
	Get(ctx context.Context, recordID string) (*Record, error)
	Update(ctx context.Context, recordID string, fields map[string]any) (*Record, error)
	Delete(ctx context.Context, recordID string) error
	ListBySubject(ctx context.Context, subjectID, kind string) ([]Record, error)
}

// SearchFilters narrows a search to a subject and/or record kind.
type SearchFilters struct {
	SubjectID string
	Kind      string
	Limit     int
}

// SearchResult pairs a matched record with its ranking score.
type SearchResult struct {
	Record Record  `json:"record"`
	Score  float64 `json:"score"`
}

// SearchStore is the external ranked-search collaborator.
type SearchStore interface {
	Search(ctx context.Context, query string, filters SearchFilters) ([]SearchResult, error)
}

// Entity is a named thing extracted from free text (medication, condition, ...).
type Entity struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// GraphNode is one vertex of a subject's record graph.
type GraphNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Kind  string `json:"kind"`
}

// GraphEdge is a labeled relation between two graph nodes.
type GraphEdge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label"`
}

// Graph is the node/edge view over a subject's records.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// GraphStore is the external entity-extraction / graph collaborator.
type GraphStore interface {
	ExtractEntities(ctx context.Context, text string) ([]Entity, error)
	BuildGraph(ctx context.Context, subjectID string) (*Graph, error)
}
