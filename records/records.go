// Package records provides in-memory implementations of the document, search,
// and graph collaborators. They are the default backends for development and
// tests; production deployments swap in real services behind the same
// core interfaces.
package records

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/recordflow/core"
)

// InMemoryDocumentStore keeps records in a map guarded by a mutex. All reads
// and writes clone, so callers can never mutate stored state through a
// returned pointer.
type InMemoryDocumentStore struct {
	mu      sync.RWMutex
	records map[string]*core.Record
}

// NewInMemoryDocumentStore creates an empty document store.
func NewInMemoryDocumentStore() *InMemoryDocumentStore {
	return &InMemoryDocumentStore{records: make(map[string]*core.Record)}
}

// Create stores a new record, assigning an ID and timestamps when absent.
func (s *InMemoryDocumentStore) Create(_ context.Context, rec *core.Record) (*core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneRecord(rec)
	if stored.ID == "" {
		stored.ID = core.NewID()
	}

	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	s.records[stored.ID] = stored

	return cloneRecord(stored), nil
}

// Get returns a record by ID, or core.ErrNotFound.
func (s *InMemoryDocumentStore) Get(_ context.Context, recordID string) (*core.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[recordID]
	if !ok {
		return nil, core.ErrNotFound
	}

	return cloneRecord(rec), nil
}

// Update merges fields into an existing record. A "title" or "status" key is
// promoted to the corresponding top-level attribute; everything else lands in
// Fields.
func (s *InMemoryDocumentStore) Update(_ context.Context, recordID string, fields map[string]any) (*core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordID]
	if !ok {
		return nil, core.ErrNotFound
	}

	updated := cloneRecord(rec)
	for key, value := range fields {
		switch key {
		case "title":
			if v, ok := value.(string); ok {
				updated.Title = v
				continue
			}
		case "status":
			if v, ok := value.(string); ok {
				updated.Status = v
				continue
			}
		}
		if updated.Fields == nil {
			updated.Fields = make(map[string]any)
		}
		updated.Fields[key] = value
	}
	updated.UpdatedAt = time.Now().UTC()

	s.records[recordID] = updated

	return cloneRecord(updated), nil
}

// Delete removes a record, or returns core.ErrNotFound.
func (s *InMemoryDocumentStore) Delete(_ context.Context, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[recordID]; !ok {
		return core.ErrNotFound
	}

	delete(s.records, recordID)

	return nil
}

// ListBySubject returns all records for a subject, optionally filtered by
// kind, ordered by creation time.
func (s *InMemoryDocumentStore) ListBySubject(_ context.Context, subjectID, kind string) ([]core.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Record
	for _, rec := range s.records {
		if rec.SubjectID != subjectID {
			continue
		}
		if kind != "" && rec.Kind != kind {
			continue
		}
		out = append(out, *cloneRecord(rec))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out, nil
}

func cloneRecord(rec *core.Record) *core.Record {
	clone := *rec
	if rec.Fields != nil {
		clone.Fields = make(map[string]any, len(rec.Fields))
		for k, v := range rec.Fields {
			clone.Fields[k] = v
		}
	}
	return &clone
}

// InMemorySearchStore ranks records from a document store by term overlap
// with the query. It is deliberately simple; relevance quality is the
// backing search service's job in production.
type InMemorySearchStore struct {
	docs *InMemoryDocumentStore
}

// NewInMemorySearchStore creates a search store over the given documents.
func NewInMemorySearchStore(docs *InMemoryDocumentStore) *InMemorySearchStore {
	return &InMemorySearchStore{docs: docs}
}

// Search scores every candidate record by how many query terms appear in its
// title, kind, status, or field values, and returns matches best-first.
func (s *InMemorySearchStore) Search(_ context.Context, query string, filters core.SearchFilters) ([]core.SearchResult, error) {
	terms := strings.Fields(strings.ToLower(query))

	s.docs.mu.RLock()
	defer s.docs.mu.RUnlock()

	var results []core.SearchResult
	for _, rec := range s.docs.records {
		if filters.SubjectID != "" && rec.SubjectID != filters.SubjectID {
			continue
		}
		if filters.Kind != "" && rec.Kind != filters.Kind {
			continue
		}

		score := scoreRecord(rec, terms)
		if score <= 0 {
			continue
		}

		results = append(results, core.SearchResult{Record: *cloneRecord(rec), Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].Record.ID < results[j].Record.ID
		}
		return results[i].Score > results[j].Score
	})

	if filters.Limit > 0 && len(results) > filters.Limit {
		results = results[:filters.Limit]
	}

	return results, nil
}

func scoreRecord(rec *core.Record, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}

	haystack := strings.ToLower(rec.Title + " " + rec.Kind + " " + rec.Status)
	for _, v := range rec.Fields {
		if s, ok := v.(string); ok {
			haystack += " " + strings.ToLower(s)
		}
	}

	matched := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			matched++
		}
	}

	return float64(matched) / float64(len(terms))
}

// InMemoryGraphStore derives entities and graphs from a document store.
type InMemoryGraphStore struct {
	docs *InMemoryDocumentStore
}

// NewInMemoryGraphStore creates a graph store over the given documents.
func NewInMemoryGraphStore(docs *InMemoryDocumentStore) *InMemoryGraphStore {
	return &InMemoryGraphStore{docs: docs}
}

// ExtractEntities finds known record titles mentioned in the text. Each match
// is reported once with the record's kind.
func (s *InMemoryGraphStore) ExtractEntities(_ context.Context, text string) ([]core.Entity, error) {
	lowered := strings.ToLower(text)

	s.docs.mu.RLock()
	defer s.docs.mu.RUnlock()

	seen := make(map[string]bool)
	var entities []core.Entity
	for _, rec := range s.docs.records {
		if rec.Title == "" {
			continue
		}
		if !strings.Contains(lowered, strings.ToLower(rec.Title)) {
			continue
		}
		key := strings.ToLower(rec.Title) + "|" + rec.Kind
		if seen[key] {
			continue
		}
		seen[key] = true
		entities = append(entities, core.Entity{Name: rec.Title, Kind: rec.Kind})
	}

	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Name == entities[j].Name {
			return entities[i].Kind < entities[j].Kind
		}
		return entities[i].Name < entities[j].Name
	})

	return entities, nil
}

// BuildGraph assembles a subject-centered graph: the subject as the root node
// with one edge per record, and record-to-record edges where one record's
// fields reference another's title.
func (s *InMemoryGraphStore) BuildGraph(ctx context.Context, subjectID string) (*core.Graph, error) {
	recs, err := s.docs.ListBySubject(ctx, subjectID, "")
	if err != nil {
		return nil, err
	}

	graph := &core.Graph{
		Nodes: []core.GraphNode{{ID: subjectID, Label: subjectID, Kind: "subject"}},
	}

	for _, rec := range recs {
		graph.Nodes = append(graph.Nodes, core.GraphNode{ID: rec.ID, Label: rec.Title, Kind: rec.Kind})
		graph.Edges = append(graph.Edges, core.GraphEdge{From: subjectID, To: rec.ID, Label: "has_" + rec.Kind})
	}

	for _, rec := range recs {
		text := flattenFields(rec.Fields)
		for _, other := range recs {
			if other.ID == rec.ID || other.Title == "" {
				continue
			}
			if strings.Contains(text, strings.ToLower(other.Title)) {
				graph.Edges = append(graph.Edges, core.GraphEdge{From: rec.ID, To: other.ID, Label: "mentions"})
			}
		}
	}

	return graph, nil
}

func flattenFields(fields map[string]any) string {
	var b strings.Builder
	for _, v := range fields {
		if s, ok := v.(string); ok {
			b.WriteString(strings.ToLower(s))
			b.WriteByte(' ')
		}
	}
	return b.String()
}
