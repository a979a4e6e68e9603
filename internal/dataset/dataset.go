// Package dataset loads news records from CSV, JSONL, or XLSX files into
// the ordered record slice the batch core consumes.
//
// All loaders preserve file order, skip rows with empty text, and reject
// duplicate record IDs. Column names are configurable; the defaults match
// the financial news datasets this tool was built around.
package dataset

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/mvettori/fingraph/internal/batch"
)

// Default column names.
const (
	DefaultIDColumn   = "newsID"
	DefaultTextColumn = "story"
)

// Sentinel errors.
var (
	ErrUnsupportedFormat = errors.New("unsupported dataset format")
	ErrMissingColumn     = errors.New("missing dataset column")
	ErrDuplicateID       = errors.New("duplicate record id")
	ErrEmptyDataset      = errors.New("dataset contains no usable records")
)

// Options configures a dataset load.
type Options struct {
	// IDColumn is the record identifier column. Defaults to DefaultIDColumn.
	IDColumn string

	// TextColumn is the text column. Defaults to DefaultTextColumn.
	TextColumn string
}

func (o *Options) defaults() {
	if o.IDColumn == "" {
		o.IDColumn = DefaultIDColumn
	}
	if o.TextColumn == "" {
		o.TextColumn = DefaultTextColumn
	}
}

// Load reads records from path, dispatching on the file extension.
// Supported formats: .csv, .jsonl, .xlsx.
func Load(path string, opts Options) ([]batch.Record, error) {
	opts.defaults()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return loadCSV(path, opts)
	case ".jsonl":
		return loadJSONL(path, opts)
	case ".xlsx":
		return loadXLSX(path, opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// collector accumulates records while enforcing ID uniqueness.
type collector struct {
	records []batch.Record
	seen    map[string]struct{}
}

func newCollector() *collector {
	return &collector{seen: make(map[string]struct{})}
}

// add appends one record, skipping empty text and rejecting duplicate IDs.
func (c *collector) add(id, text string, meta map[string]string) error {
	id = strings.TrimSpace(id)
	if id == "" || strings.TrimSpace(text) == "" {
		return nil
	}
	if _, dup := c.seen[id]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	c.seen[id] = struct{}{}
	c.records = append(c.records, batch.Record{ID: id, Text: text, Metadata: meta})
	return nil
}

func (c *collector) result() ([]batch.Record, error) {
	if len(c.records) == 0 {
		return nil, ErrEmptyDataset
	}
	return c.records, nil
}

func loadCSV(path string, opts Options) ([]batch.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	idIdx, textIdx := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case opts.IDColumn:
			idIdx = i
		case opts.TextColumn:
			textIdx = i
		}
	}
	if idIdx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, opts.IDColumn)
	}
	if textIdx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, opts.TextColumn)
	}

	col := newCollector()
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		if idIdx >= len(row) || textIdx >= len(row) {
			continue
		}
		if err := col.add(row[idIdx], row[textIdx], nil); err != nil {
			return nil, err
		}
	}
	return col.result()
}

func loadJSONL(path string, opts Options) ([]batch.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	col := newCollector()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var row map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			return nil, fmt.Errorf("failed to parse JSONL line %d: %w", lineNo, err)
		}
		id, err := stringField(row, opts.IDColumn)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		text, err := stringField(row, opts.TextColumn)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := col.add(id, text, nil); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	return col.result()
}

// stringField extracts a field as a string, tolerating numeric IDs.
func stringField(row map[string]json.RawMessage, key string) (string, error) {
	raw, ok := row[key]
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("%w: field %q is neither string nor number", ErrMissingColumn, key)
}

func loadXLSX(path string, opts Options) ([]batch.Record, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyDataset
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyDataset
	}

	idIdx, textIdx := -1, -1
	for i, name := range rows[0] {
		switch strings.TrimSpace(name) {
		case opts.IDColumn:
			idIdx = i
		case opts.TextColumn:
			textIdx = i
		}
	}
	if idIdx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, opts.IDColumn)
	}
	if textIdx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, opts.TextColumn)
	}

	col := newCollector()
	for _, row := range rows[1:] {
		if idIdx >= len(row) || textIdx >= len(row) {
			continue
		}
		if err := col.add(row[idIdx], row[textIdx], nil); err != nil {
			return nil, err
		}
	}
	return col.result()
}
