package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// batchServer is a minimal Batch API double covering the endpoints the
// client touches.
type batchServer struct {
	t *testing.T

	uploadedJSONL string
	batchStatus   string
	outputJSONL   string

	statusCode int // when non-zero, every request returns this code
}

func (s *batchServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/files", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(s.t, http.MethodPost, r.Method)
		require.NoError(s.t, r.ParseMultipartForm(32<<20))
		assert.Equal(s.t, "batch", r.FormValue("purpose"))

		file, _, err := r.FormFile("file")
		require.NoError(s.t, err)
		defer file.Close()
		var sb strings.Builder
		sc := bufio.NewScanner(file)
		for sc.Scan() {
			sb.WriteString(sc.Text())
			sb.WriteString("\n")
		}
		s.uploadedJSONL = sb.String()

		fmt.Fprint(w, `{"id":"file-input-1"}`)
	})
	mux.HandleFunc("/v1/batches", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(s.t, http.MethodPost, r.Method)
		fmt.Fprint(w, `{"id":"batch_test_1","status":"validating"}`)
	})
	mux.HandleFunc("/v1/batches/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(s.t, http.MethodGet, r.Method)
		resp := map[string]string{"id": "batch_test_1", "status": s.batchStatus}
		if s.batchStatus == "completed" {
			resp["output_file_id"] = "file-output-1"
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/v1/files/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(s.t, http.MethodGet, r.Method)
		fmt.Fprint(w, s.outputJSONL)
	})

	if s.statusCode != 0 {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", s.statusCode)
		})
	}
	return mux
}

func newTestClient(t *testing.T, s *batchServer) (*OpenAI, *httptest.Server) {
	t.Helper()
	s.t = t
	srv := httptest.NewServer(s.handler())
	t.Cleanup(srv.Close)

	client, err := NewOpenAI(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL}, zerolog.Nop())
	require.NoError(t, err)
	return client, srv
}

func TestNewOpenAI_RequiresAPIKey(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestOpenAI_SubmitBatch(t *testing.T) {
	server := &batchServer{batchStatus: "validating"}
	client, _ := newTestClient(t, server)

	reqs := []Request{
		{RecordID: "n1", Payload: json.RawMessage(`{"model":"gpt-4o-mini"}`)},
		{RecordID: "n2", Payload: json.RawMessage(`{"model":"gpt-4o-mini"}`)},
	}
	batchID, err := client.SubmitBatch(context.Background(), reqs)
	require.NoError(t, err)
	assert.Equal(t, "batch_test_1", batchID)

	// The uploaded JSONL carries one line per record in order.
	lines := strings.Split(strings.TrimSpace(server.uploadedJSONL), "\n")
	require.Len(t, lines, 2)
	var line struct {
		CustomID string `json:"custom_id"`
		Method   string `json:"method"`
		URL      string `json:"url"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &line))
	assert.Equal(t, "n1", line.CustomID)
	assert.Equal(t, http.MethodPost, line.Method)
	assert.Equal(t, "/v1/chat/completions", line.URL)
}

func TestOpenAI_SubmitBatch_Empty(t *testing.T) {
	client, _ := newTestClient(t, &batchServer{})
	_, err := client.SubmitBatch(context.Background(), nil)
	assert.Error(t, err)
}

func TestOpenAI_GetStatus(t *testing.T) {
	client, _ := newTestClient(t, &batchServer{batchStatus: "in_progress"})
	status, err := client.GetStatus(context.Background(), "batch_test_1")
	require.NoError(t, err)
	assert.Equal(t, "in_progress", status)
}

func TestOpenAI_GetResults(t *testing.T) {
	chatBody := func(content string) string {
		b, err := json.Marshal(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": content}},
			},
		})
		require.NoError(t, err)
		return string(b)
	}

	output := fmt.Sprintf(`{"custom_id":"n1","response":{"status_code":200,"body":%s}}
{"custom_id":"n2","response":{"status_code":200,"body":%s}}
{"custom_id":"n3","error":{"code":"server_error","message":"boom"}}
`,
		chatBody(`{"entities":[{"name":"Acme Corp","type":"company"}],"relationships":[]}`),
		chatBody("```json\n{\"entities\":[],\"relationships\":[]}\n```"))

	client, _ := newTestClient(t, &batchServer{batchStatus: "completed", outputJSONL: output})

	results, err := client.GetResults(context.Background(), "batch_test_1")
	require.NoError(t, err)
	require.Len(t, results, 2)

	var parsed struct {
		Entities []struct {
			Name string `json:"name"`
		} `json:"entities"`
	}
	require.NoError(t, json.Unmarshal(results["n1"], &parsed))
	require.Len(t, parsed.Entities, 1)
	assert.Equal(t, "Acme Corp", parsed.Entities[0].Name)

	// Fenced JSON was unwrapped into a valid document.
	assert.True(t, json.Valid(results["n2"]))

	// The errored record is absent rather than garbled.
	assert.NotContains(t, results, "n3")
}

func TestOpenAI_GetResults_NoOutputFile(t *testing.T) {
	client, _ := newTestClient(t, &batchServer{batchStatus: "in_progress"})
	_, err := client.GetResults(context.Background(), "batch_test_1")
	assert.ErrorContains(t, err, "no output file")
}

func TestOpenAI_ErrorClassification(t *testing.T) {
	t.Run("RateLimitIsTransient", func(t *testing.T) {
		client, _ := newTestClient(t, &batchServer{statusCode: http.StatusTooManyRequests})
		_, err := client.GetStatus(context.Background(), "b1")
		assert.True(t, IsTransient(err), "429 should be transient: %v", err)
	})

	t.Run("ServerErrorIsTransient", func(t *testing.T) {
		client, _ := newTestClient(t, &batchServer{statusCode: http.StatusBadGateway})
		_, err := client.GetStatus(context.Background(), "b1")
		assert.True(t, IsTransient(err))
	})

	t.Run("ClientErrorIsPermanent", func(t *testing.T) {
		client, _ := newTestClient(t, &batchServer{statusCode: http.StatusUnauthorized})
		_, err := client.GetStatus(context.Background(), "b1")
		require.Error(t, err)
		assert.False(t, IsTransient(err))
	})

	t.Run("NetworkErrorIsTransient", func(t *testing.T) {
		server := &batchServer{}
		client, srv := newTestClient(t, server)
		srv.Close()
		_, err := client.GetStatus(context.Background(), "b1")
		assert.True(t, IsTransient(err))
	})
}

func TestExtractJSON(t *testing.T) {
	t.Run("PlainObject", func(t *testing.T) {
		out := ExtractJSON(`{"entities":[]}`)
		assert.JSONEq(t, `{"entities":[]}`, string(out))
	})

	t.Run("FencedObject", func(t *testing.T) {
		out := ExtractJSON("Here you go:\n```json\n{\"entities\":[]}\n```\nDone.")
		assert.JSONEq(t, `{"entities":[]}`, string(out))
	})

	t.Run("ProseFallsBackToRawOutput", func(t *testing.T) {
		out := ExtractJSON("I could not find any entities.")
		var wrapped map[string]string
		require.NoError(t, json.Unmarshal(out, &wrapped))
		assert.Equal(t, "I could not find any entities.", wrapped["raw_output"])
	})
}
