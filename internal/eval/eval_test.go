package eval

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvettori/fingraph/internal/graph"
)

func TestLoadGold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gold.jsonl")
	content := `{"record_id":"n1","entities":[{"name":"Acme Corp","type":"company"}],"relationships":[]}
{"record_id":"n2","entities":[],"relationships":[{"source":"Acme Corp","target":"Widget Co","relation_type":"acquires"}]}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	gold, err := LoadGold(path)
	require.NoError(t, err)
	require.Len(t, gold, 2)
	assert.Equal(t, "n1", gold[0].RecordID)
	require.Len(t, gold[1].Relationships, 1)

	t.Run("Empty", func(t *testing.T) {
		empty := filepath.Join(t.TempDir(), "empty.jsonl")
		require.NoError(t, os.WriteFile(empty, []byte("\n"), 0600))
		_, err := LoadGold(empty)
		assert.ErrorIs(t, err, ErrNoGoldRecords)
	})

	t.Run("MissingRecordID", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.jsonl")
		require.NoError(t, os.WriteFile(bad, []byte(`{"entities":[]}`+"\n"), 0600))
		_, err := LoadGold(bad)
		assert.ErrorContains(t, err, "record_id")
	})
}

func TestEvaluator_PerfectMatch(t *testing.T) {
	ev, err := New(0)
	require.NoError(t, err)

	gold := []GoldRecord{{
		RecordID: "n1",
		Entities: []graph.ExtractedEntity{
			{Name: "Acme Corp"},
			{Name: "Jane Doe"},
		},
		Relationships: []graph.ExtractedRelationship{
			{Source: "Acme Corp", Target: "Jane Doe", RelationType: "employs"},
		},
	}}
	predictions := map[string]*graph.Extraction{
		"n1": {
			Entities: []graph.ExtractedEntity{
				{Name: "Acme Corp"},
				{Name: "Jane Doe"},
			},
			Relationships: []graph.ExtractedRelationship{
				{Source: "Acme Corp", Target: "Jane Doe", RelationType: "employs"},
			},
		},
	}

	report, err := ev.Evaluate(gold, predictions)
	require.NoError(t, err)
	assert.Equal(t, 1.0, report.Entities.Precision)
	assert.Equal(t, 1.0, report.Entities.Recall)
	assert.Equal(t, 1.0, report.Entities.F1)
	assert.Equal(t, 1.0, report.Relationships.F1)
}

func TestEvaluator_FuzzyEntityMatch(t *testing.T) {
	ev, err := New(0.85)
	require.NoError(t, err)

	gold := []GoldRecord{{
		RecordID: "n1",
		Entities: []graph.ExtractedEntity{{Name: "Microsoft Corporation"}},
	}}
	predictions := map[string]*graph.Extraction{
		"n1": {Entities: []graph.ExtractedEntity{{Name: "Microsoft Corp"}}},
	}

	report, err := ev.Evaluate(gold, predictions)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Entities.TruePositives)
	assert.Zero(t, report.Entities.FalseNegatives)
}

func TestEvaluator_Mismatches(t *testing.T) {
	ev, err := New(0.9)
	require.NoError(t, err)

	gold := []GoldRecord{{
		RecordID: "n1",
		Entities: []graph.ExtractedEntity{{Name: "Acme Corp"}, {Name: "Globex"}},
		Relationships: []graph.ExtractedRelationship{
			{Source: "Acme Corp", Target: "Globex", RelationType: "acquires"},
		},
	}}
	predictions := map[string]*graph.Extraction{
		"n1": {
			Entities: []graph.ExtractedEntity{{Name: "Acme Corp"}, {Name: "Initech"}},
			Relationships: []graph.ExtractedRelationship{
				// Right endpoints, wrong relation type.
				{Source: "Acme Corp", Target: "Globex", RelationType: "partners_with"},
			},
		},
	}

	report, err := ev.Evaluate(gold, predictions)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Entities.TruePositives)
	assert.Equal(t, 1, report.Entities.FalsePositives)
	assert.Equal(t, 1, report.Entities.FalseNegatives)
	assert.InDelta(t, 0.5, report.Entities.Precision, 1e-9)
	assert.InDelta(t, 0.5, report.Entities.Recall, 1e-9)

	assert.Zero(t, report.Relationships.TruePositives)
	assert.Equal(t, 1, report.Relationships.FalsePositives)
	assert.Equal(t, 1, report.Relationships.FalseNegatives)
}

func TestEvaluator_RelationTypeNormalization(t *testing.T) {
	ev, err := New(0)
	require.NoError(t, err)

	gold := []GoldRecord{{
		RecordID: "n1",
		Relationships: []graph.ExtractedRelationship{
			{Source: "Acme", Target: "Widget", RelationType: "invests_in"},
		},
	}}
	predictions := map[string]*graph.Extraction{
		"n1": {Relationships: []graph.ExtractedRelationship{
			{Source: "Acme", Target: "Widget", RelationType: "Invests In"},
		}},
	}

	report, err := ev.Evaluate(gold, predictions)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Relationships.TruePositives)
}

func TestEvaluator_MissingPredictions(t *testing.T) {
	ev, err := New(0)
	require.NoError(t, err)

	gold := []GoldRecord{
		{RecordID: "n1", Entities: []graph.ExtractedEntity{{Name: "Acme"}}},
		{RecordID: "n2", Entities: []graph.ExtractedEntity{{Name: "Globex"}, {Name: "Initech"}}},
	}
	predictions := map[string]*graph.Extraction{
		"n1": {Entities: []graph.ExtractedEntity{{Name: "Acme"}}},
	}

	report, err := ev.Evaluate(gold, predictions)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Missing)
	assert.Equal(t, 2, report.Entities.FalseNegatives)
	assert.Equal(t, 1, report.Entities.TruePositives)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(1.5)
	assert.Error(t, err)
	_, err = New(-0.1)
	assert.Error(t, err)

	ev, err := New(0)
	require.NoError(t, err)
	assert.Equal(t, DefaultThreshold, ev.threshold)
}
