package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// writeResultFile persists one batch's per-record results as a single JSON
// mapping from record id to extraction output, returning the file path.
func writeResultFile(dir, batchID string, results map[string]json.RawMessage) (string, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	safe := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(batchID)
	path := filepath.Join(dir, safe+"_results.json")
	if err := writeJSONAtomic(path, results); err != nil {
		return "", err
	}
	return path, nil
}

// ReadResults loads a result file written by a retrieval run: a JSON
// mapping from record id to extraction output.
func ReadResults(path string) (map[string]json.RawMessage, error) {
	return readResultFile(path)
}

// readResultFile loads a previously written result file.
func readResultFile(path string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from store metadata
	if err != nil {
		return nil, fmt.Errorf("failed to read result file: %w", err)
	}
	var results map[string]json.RawMessage
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("%w: result file %s: %v", ErrCorruptMetadata, path, err)
	}
	return results, nil
}
