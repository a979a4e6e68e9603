package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// OpenAI Batch API parameters.
const (
	defaultBaseURL = "https://api.openai.com"

	// completionWindow is the processing window requested for batch jobs.
	// 24h is the only window the Batch API currently offers.
	completionWindow = "24h"

	batchEndpoint = "/v1/chat/completions"
)

// httpTimeout bounds individual HTTP requests. Output files for large
// batches can be tens of megabytes, so this stays generous.
const httpTimeout = 5 * time.Minute

// OpenAIConfig configures the OpenAI batch client.
type OpenAIConfig struct {
	// APIKey is the bearer token. Required.
	APIKey string

	// BaseURL overrides the API host, useful for compatible gateways and
	// tests. Defaults to https://api.openai.com.
	BaseURL string
}

// OpenAI implements Client against the OpenAI Batch API: upload a JSONL
// input file, create a batch referencing it, poll the batch object, and
// download the output file when the job completes.
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
	log    zerolog.Logger
}

// NewOpenAI creates an OpenAI batch client.
func NewOpenAI(cfg OpenAIConfig, logger zerolog.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &OpenAI{
		cfg:    cfg,
		client: &http.Client{Timeout: httpTimeout},
		log:    logger,
	}, nil
}

// batchInputLine is one line of the JSONL input file, per the Batch API
// request format.
type batchInputLine struct {
	CustomID string          `json:"custom_id"`
	Method   string          `json:"method"`
	URL      string          `json:"url"`
	Body     json.RawMessage `json:"body"`
}

// batchObject is the subset of the Batch API's batch resource the core
// needs.
type batchObject struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	OutputFileID string `json:"output_file_id,omitempty"`
	ErrorFileID  string `json:"error_file_id,omitempty"`
}

// fileObject is the response from a file upload.
type fileObject struct {
	ID string `json:"id"`
}

// batchOutputLine is one line of the JSONL output file.
type batchOutputLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int             `json:"status_code"`
		Body       json.RawMessage `json:"body"`
	} `json:"response"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// chatCompletionBody is the subset of a chat completion response needed to
// pull out the model's text.
type chatCompletionBody struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// SubmitBatch uploads the requests as a JSONL file and creates a batch job
// referencing it. Returns the provider-assigned batch ID.
func (o *OpenAI) SubmitBatch(ctx context.Context, reqs []Request) (string, error) {
	if len(reqs) == 0 {
		return "", fmt.Errorf("cannot submit an empty batch")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, req := range reqs {
		line := batchInputLine{
			CustomID: req.RecordID,
			Method:   http.MethodPost,
			URL:      batchEndpoint,
			Body:     req.Payload,
		}
		if err := enc.Encode(&line); err != nil {
			return "", fmt.Errorf("failed to encode batch request for %s: %w", req.RecordID, err)
		}
	}

	fileID, err := o.uploadFile(ctx, buf.Bytes())
	if err != nil {
		return "", err
	}
	o.log.Debug().Str("file_id", fileID).Int("requests", len(reqs)).Msg("batch input file uploaded")

	createBody, err := json.Marshal(map[string]string{
		"input_file_id":     fileID,
		"endpoint":          batchEndpoint,
		"completion_window": completionWindow,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal batch creation request: %w", err)
	}

	var created batchObject
	if err := o.doJSON(ctx, http.MethodPost, "/v1/batches", createBody, &created); err != nil {
		return "", fmt.Errorf("failed to create batch: %w", err)
	}
	o.log.Info().Str("batch_id", created.ID).Str("status", created.Status).Msg("batch created")

	return created.ID, nil
}

// GetStatus returns the provider's raw status string for batchID.
func (o *OpenAI) GetStatus(ctx context.Context, batchID string) (string, error) {
	var obj batchObject
	if err := o.doJSON(ctx, http.MethodGet, "/v1/batches/"+batchID, nil, &obj); err != nil {
		return "", fmt.Errorf("failed to retrieve batch %s: %w", batchID, err)
	}
	return obj.Status, nil
}

// GetResults downloads the output file of a completed batch and parses it
// into a mapping from record ID to the model's extraction output. When the
// model wraps its JSON in a markdown fence the fence is stripped; content
// that still fails to parse is preserved under a "raw_output" key rather
// than dropped.
func (o *OpenAI) GetResults(ctx context.Context, batchID string) (map[string]json.RawMessage, error) {
	var obj batchObject
	if err := o.doJSON(ctx, http.MethodGet, "/v1/batches/"+batchID, nil, &obj); err != nil {
		return nil, fmt.Errorf("failed to retrieve batch %s: %w", batchID, err)
	}
	if obj.OutputFileID == "" {
		return nil, fmt.Errorf("batch %s has no output file (status %q)", batchID, obj.Status)
	}

	data, err := o.downloadFile(ctx, obj.OutputFileID)
	if err != nil {
		return nil, err
	}

	results := make(map[string]json.RawMessage)
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var line batchOutputLine
		if err := dec.Decode(&line); err != nil {
			return nil, fmt.Errorf("failed to parse batch output for %s: %w", batchID, err)
		}
		if line.CustomID == "" {
			continue
		}
		if line.Error != nil {
			o.log.Warn().
				Str("record_id", line.CustomID).
				Str("code", line.Error.Code).
				Msg("provider reported a per-record error")
			continue
		}
		if line.Response == nil {
			o.log.Warn().Str("record_id", line.CustomID).Msg("batch output line has no response")
			continue
		}

		var body chatCompletionBody
		if err := json.Unmarshal(line.Response.Body, &body); err != nil || len(body.Choices) == 0 {
			o.log.Warn().Str("record_id", line.CustomID).Msg("no valid content in batch output line")
			continue
		}
		results[line.CustomID] = ExtractJSON(body.Choices[0].Message.Content)
	}
	return results, nil
}

// ExtractJSON pulls a JSON document out of model output. Content inside a
// ```json fence is unwrapped first; anything that does not parse as JSON is
// wrapped as {"raw_output": ...} so no model response is silently lost.
func ExtractJSON(content string) json.RawMessage {
	candidate := strings.TrimSpace(content)
	if idx := strings.Index(candidate, "```json"); idx >= 0 {
		rest := candidate[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			candidate = strings.TrimSpace(rest[:end])
		}
	}

	if json.Valid([]byte(candidate)) {
		return json.RawMessage(candidate)
	}

	wrapped, err := json.Marshal(map[string]string{"raw_output": content})
	if err != nil {
		return json.RawMessage(`{"raw_output":""}`)
	}
	return wrapped
}

// uploadFile uploads data as a batch-purpose file and returns its ID.
func (o *OpenAI) uploadFile(ctx context.Context, data []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("purpose", "batch"); err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	part, err := writer.CreateFormFile("file", "batch_input.jsonl")
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/v1/files", &body)
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	respBody, err := o.send(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload batch file: %w", err)
	}

	var file fileObject
	if err := json.Unmarshal(respBody, &file); err != nil {
		return "", fmt.Errorf("failed to parse upload response: %w", err)
	}
	return file.ID, nil
}

// downloadFile fetches the raw content of a file by ID.
func (o *OpenAI) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.BaseURL+"/v1/files/"+fileID+"/content", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	data, err := o.send(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	return data, nil
}

// doJSON issues a JSON request against the API and decodes the response
// into out.
func (o *OpenAI) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, o.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	respBody, err := o.send(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// send executes the request, classifying network failures, rate limits, and
// server errors as transient.
func (o *OpenAI) send(req *http.Request) ([]byte, error) {
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, Transient(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, Transient(fmt.Errorf("provider returned %d: %s", resp.StatusCode, truncate(data)))
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, fmt.Errorf("provider returned %d: %s", resp.StatusCode, truncate(data))
	}
	return data, nil
}

// truncate caps error body excerpts at a readable length.
func truncate(data []byte) string {
	const maxLen = 512
	s := string(data)
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
