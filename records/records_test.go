package records

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/recordflow/core"
)

func TestDocumentStoreCRUD(t *testing.T) {
	docs := NewInMemoryDocumentStore()
	ctx := context.Background()

	created, err := docs.Create(ctx, &core.Record{
		SubjectID: "subject-1",
		Kind:      "note",
		Title:     "Morning walk",
		Fields:    map[string]any{"distance": "2km"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := docs.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Morning walk", got.Title)

	updated, err := docs.Update(ctx, created.ID, map[string]any{"distance": "3km", "title": "Long walk"})
	require.NoError(t, err)
	assert.Equal(t, "Long walk", updated.Title)
	assert.Equal(t, "3km", updated.Fields["distance"])

	require.NoError(t, docs.Delete(ctx, created.ID))

	_, err = docs.Get(ctx, created.ID)
	assert.True(t, core.IsNotFound(err))
}

func TestDocumentStoreClonesOnRead(t *testing.T) {
	docs := NewInMemoryDocumentStore()
	ctx := context.Background()

	created, err := docs.Create(ctx, &core.Record{
		SubjectID: "subject-1",
		Kind:      "note",
		Title:     "Original",
		Fields:    map[string]any{"key": "value"},
	})
	require.NoError(t, err)

	created.Title = "mutated"
	created.Fields["key"] = "mutated"

	got, err := docs.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Original", got.Title)
	assert.Equal(t, "value", got.Fields["key"])
}

func TestListBySubjectFiltersByKind(t *testing.T) {
	docs := NewInMemoryDocumentStore()
	ctx := context.Background()

	for _, spec := range []struct{ subject, kind, title string }{
		{"subject-1", "note", "a"},
		{"subject-1", "medication", "b"},
		{"subject-2", "note", "c"},
	} {
		_, err := docs.Create(ctx, &core.Record{SubjectID: spec.subject, Kind: spec.kind, Title: spec.title})
		require.NoError(t, err)
	}

	all, err := docs.ListBySubject(ctx, "subject-1", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	meds, err := docs.ListBySubject(ctx, "subject-1", "medication")
	require.NoError(t, err)
	require.Len(t, meds, 1)
	assert.Equal(t, "b", meds[0].Title)
}

func TestSearchRanksByTermOverlap(t *testing.T) {
	docs := NewInMemoryDocumentStore()
	search := NewInMemorySearchStore(docs)
	ctx := context.Background()

	_, err := docs.Create(ctx, &core.Record{SubjectID: "subject-1", Kind: "medication", Title: "Lisinopril 10mg"})
	require.NoError(t, err)
	_, err = docs.Create(ctx, &core.Record{SubjectID: "subject-1", Kind: "note", Title: "Blood pressure reading"})
	require.NoError(t, err)

	results, err := search.Search(ctx, "lisinopril", core.SearchFilters{SubjectID: "subject-1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Lisinopril 10mg", results[0].Record.Title)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestSearchHonorsFilters(t *testing.T) {
	docs := NewInMemoryDocumentStore()
	search := NewInMemorySearchStore(docs)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := docs.Create(ctx, &core.Record{SubjectID: "subject-1", Kind: "note", Title: "pressure note"})
		require.NoError(t, err)
	}
	_, err := docs.Create(ctx, &core.Record{SubjectID: "subject-2", Kind: "note", Title: "pressure note"})
	require.NoError(t, err)

	results, err := search.Search(ctx, "pressure", core.SearchFilters{SubjectID: "subject-1", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestExtractEntitiesFindsKnownTitles(t *testing.T) {
	docs := NewInMemoryDocumentStore()
	graph := NewInMemoryGraphStore(docs)
	ctx := context.Background()

	_, err := docs.Create(ctx, &core.Record{SubjectID: "subject-1", Kind: "medication", Title: "Lisinopril"})
	require.NoError(t, err)

	entities, err := graph.ExtractEntities(ctx, "I stopped taking lisinopril last week")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "Lisinopril", entities[0].Name)
	assert.Equal(t, "medication", entities[0].Kind)
}

func TestBuildGraphConnectsSubjectAndMentions(t *testing.T) {
	docs := NewInMemoryDocumentStore()
	graph := NewInMemoryGraphStore(docs)
	ctx := context.Background()

	med, err := docs.Create(ctx, &core.Record{SubjectID: "subject-1", Kind: "medication", Title: "Lisinopril"})
	require.NoError(t, err)
	note, err := docs.Create(ctx, &core.Record{
		SubjectID: "subject-1",
		Kind:      "note",
		Title:     "Checkup",
		Fields:    map[string]any{"text": "Doctor adjusted Lisinopril dose"},
	})
	require.NoError(t, err)

	g, err := graph.BuildGraph(ctx, "subject-1")
	require.NoError(t, err)

	// Subject root plus one node per record.
	assert.Len(t, g.Nodes, 3)

	var mentions bool
	for _, edge := range g.Edges {
		if edge.From == note.ID && edge.To == med.ID && edge.Label == "mentions" {
			mentions = true
		}
	}
	assert.True(t, mentions)
}
