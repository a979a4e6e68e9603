// Package prompt loads extraction prompt templates from YAML and turns
// dataset records into provider batch requests.
package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mvettori/fingraph/internal/batch"
	"github.com/mvettori/fingraph/internal/provider"
)

// Placeholder is substituted with the record text in the user message.
const Placeholder = "{text}"

// Sentinel errors for template loading.
var (
	ErrTaskNotFound  = errors.New("prompt task not found")
	ErrNoPlaceholder = errors.New("user template missing text placeholder")
)

// Template is one named prompt: a system message framing the task and a
// user message template carrying the record text.
type Template struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// promptFile is the on-disk layout: task name to template.
type promptFile struct {
	Tasks map[string]Template `yaml:"tasks"`
}

// Load reads the prompt file at path and returns the template for task.
func Load(path, task string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file: %w", err)
	}

	var pf promptFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse prompt file %s: %w", path, err)
	}

	tpl, ok := pf.Tasks[task]
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrTaskNotFound, task, path)
	}
	if !strings.Contains(tpl.User, Placeholder) {
		return nil, fmt.Errorf("%w: task %q", ErrNoPlaceholder, task)
	}
	return &tpl, nil
}

// Render substitutes the record text into the user message.
func (t *Template) Render(text string) string {
	return strings.ReplaceAll(t.User, Placeholder, text)
}

// chatMessage is one message in a chat completion body.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatBody is the chat completion request body for one record.
type chatBody struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type respFormat struct {
	Type string `json:"type"`
}

// Formatter builds provider requests from dataset records using a loaded
// template. It satisfies batch.RequestFormatter.
type Formatter struct {
	model string
	tpl   *Template
}

// NewFormatter returns a Formatter for the given model and template.
func NewFormatter(model string, tpl *Template) (*Formatter, error) {
	if model == "" {
		return nil, errors.New("model cannot be empty")
	}
	if tpl == nil {
		return nil, errors.New("template cannot be nil")
	}
	return &Formatter{model: model, tpl: tpl}, nil
}

// Format renders the template for one record into a chat completion body.
// Extraction output is requested as a JSON object so downstream parsing
// does not depend on prose.
func (f *Formatter) Format(rec batch.Record) (provider.Request, error) {
	if strings.TrimSpace(rec.Text) == "" {
		return provider.Request{}, fmt.Errorf("record %s has empty text", rec.ID)
	}

	body := chatBody{
		Model: f.model,
		Messages: []chatMessage{
			{Role: "system", Content: f.tpl.System},
			{Role: "user", Content: f.tpl.Render(rec.Text)},
		},
		Temperature:    0,
		ResponseFormat: &respFormat{Type: "json_object"},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return provider.Request{}, fmt.Errorf("failed to encode request body for %s: %w", rec.ID, err)
	}
	return provider.Request{RecordID: rec.ID, Payload: payload}, nil
}
