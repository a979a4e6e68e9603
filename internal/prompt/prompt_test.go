package prompt

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvettori/fingraph/internal/batch"
)

const testPrompts = `tasks:
  entity_relationship_extraction:
    system: "You extract entities and relationships from financial news."
    user: "Extract all entities from this story:\n\n{text}"
  summarize:
    system: "You summarize."
    user: "Summarize: {text}"
  broken:
    system: "No placeholder here."
    user: "Nothing to substitute."
`

func writePrompts(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testPrompts), 0600))
	return path
}

func TestLoad(t *testing.T) {
	path := writePrompts(t)

	t.Run("Found", func(t *testing.T) {
		tpl, err := Load(path, "entity_relationship_extraction")
		require.NoError(t, err)
		assert.Contains(t, tpl.System, "financial news")
		assert.Contains(t, tpl.User, Placeholder)
	})

	t.Run("UnknownTask", func(t *testing.T) {
		_, err := Load(path, "translate")
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})

	t.Run("MissingPlaceholder", func(t *testing.T) {
		_, err := Load(path, "broken")
		assert.ErrorIs(t, err, ErrNoPlaceholder)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "summarize")
		assert.Error(t, err)
	})
}

func TestTemplate_Render(t *testing.T) {
	tpl := &Template{User: "Story: {text} End."}
	assert.Equal(t, "Story: Acme acquires Widget Co. End.", tpl.Render("Acme acquires Widget Co."))
}

func TestFormatter_Format(t *testing.T) {
	path := writePrompts(t)
	tpl, err := Load(path, "entity_relationship_extraction")
	require.NoError(t, err)
	f, err := NewFormatter("gpt-4o-mini", tpl)
	require.NoError(t, err)

	req, err := f.Format(batch.Record{ID: "n42", Text: "Acme acquires Widget Co."})
	require.NoError(t, err)
	assert.Equal(t, "n42", req.RecordID)

	var body struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		ResponseFormat struct {
			Type string `json:"type"`
		} `json:"response_format"`
	}
	require.NoError(t, json.Unmarshal(req.Payload, &body))
	assert.Equal(t, "gpt-4o-mini", body.Model)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "system", body.Messages[0].Role)
	assert.Equal(t, "user", body.Messages[1].Role)
	assert.Contains(t, body.Messages[1].Content, "Acme acquires Widget Co.")
	assert.NotContains(t, body.Messages[1].Content, Placeholder)
	assert.Equal(t, "json_object", body.ResponseFormat.Type)
}

func TestFormatter_Format_EmptyText(t *testing.T) {
	f, err := NewFormatter("gpt-4o-mini", &Template{User: "{text}"})
	require.NoError(t, err)

	_, err = f.Format(batch.Record{ID: "n1", Text: "   "})
	assert.Error(t, err)
}

func TestNewFormatter_Validation(t *testing.T) {
	_, err := NewFormatter("", &Template{User: "{text}"})
	assert.Error(t, err)
	_, err = NewFormatter("gpt-4o-mini", nil)
	assert.Error(t, err)
}
