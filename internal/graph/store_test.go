package graph

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGraph(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleExtraction() *Extraction {
	return &Extraction{
		Entities: []ExtractedEntity{
			{Name: "Acme Corp", Type: EntityCompany, Description: "Industrial conglomerate"},
			{Name: "Jane Doe", Type: EntityPerson},
		},
		Relationships: []ExtractedRelationship{
			{Source: "Acme Corp", Target: "Jane Doe", RelationType: RelEmploys},
		},
	}
}

func TestStore_LoadExtraction(t *testing.T) {
	store := newTestGraph(t)
	ctx := context.Background()

	require.NoError(t, store.LoadExtraction(ctx, "n1", sampleExtraction()))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Entities)
	assert.Equal(t, 1, stats.Relationships)
	assert.Equal(t, 1, stats.Records)
}

func TestStore_LoadExtraction_RecordIdempotent(t *testing.T) {
	store := newTestGraph(t)
	ctx := context.Background()

	require.NoError(t, store.LoadExtraction(ctx, "n1", sampleExtraction()))
	require.NoError(t, store.LoadExtraction(ctx, "n1", sampleExtraction()))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Entities)
	assert.Equal(t, 1, stats.Relationships)
	assert.Equal(t, 1, stats.Records)
}

func TestStore_EntityMerge(t *testing.T) {
	store := newTestGraph(t)
	ctx := context.Background()

	require.NoError(t, store.LoadExtraction(ctx, "n1", &Extraction{
		Entities: []ExtractedEntity{{Name: "Acme Corp", Type: EntityCompany, Description: "short"}},
	}))
	require.NoError(t, store.LoadExtraction(ctx, "n2", &Extraction{
		Entities: []ExtractedEntity{{Name: "Acme Corp", Type: EntityCompany, Description: "a much longer description"}},
	}))

	top, err := store.TopEntities(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, 2, top[0].Mentions)
	// The longer description wins the merge.
	assert.Equal(t, "a much longer description", top[0].Description)
}

func TestStore_RelationshipEndpointsAutoCreated(t *testing.T) {
	store := newTestGraph(t)
	ctx := context.Background()

	// Relationship references an entity the extraction never listed.
	require.NoError(t, store.LoadExtraction(ctx, "n1", &Extraction{
		Entities: []ExtractedEntity{{Name: "Acme Corp", Type: EntityCompany}},
		Relationships: []ExtractedRelationship{
			{Source: "Acme Corp", Target: "Widget Co", RelationType: RelAcquires},
		},
	}))

	rels, err := store.RelationshipsFor(ctx, "Widget Co")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "Acme Corp", rels[0].Source)
	assert.Equal(t, RelAcquires, rels[0].RelationType)
	assert.Equal(t, "n1", rels[0].RecordID)
}

func TestStore_TopEntitiesOrdering(t *testing.T) {
	store := newTestGraph(t)
	ctx := context.Background()

	for i, rec := range []string{"n1", "n2", "n3"} {
		ents := []ExtractedEntity{{Name: "Acme Corp", Type: EntityCompany}}
		if i == 0 {
			ents = append(ents, ExtractedEntity{Name: "Globex", Type: EntityCompany})
		}
		require.NoError(t, store.LoadExtraction(ctx, rec, &Extraction{Entities: ents}))
	}

	top, err := store.TopEntities(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "Acme Corp", top[0].Name)
	assert.Equal(t, 3, top[0].Mentions)
}
