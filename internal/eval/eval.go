// Package eval scores extraction output against gold annotations.
//
// Entities match on fuzzy name similarity so that surface variants like
// "Apple Inc." and "Apple" count as the same entity. Relationships match
// when both endpoints fuzzy-match and the relation type agrees. Matching
// is greedy per record: each gold item is consumed by at most one
// prediction.
package eval

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/mvettori/fingraph/internal/graph"
)

// DefaultThreshold is the minimum name similarity for an entity match.
const DefaultThreshold = 0.8

// ErrNoGoldRecords is returned when the gold file holds no annotations.
var ErrNoGoldRecords = errors.New("gold file contains no records")

// GoldRecord is one annotated record in the gold JSONL file.
type GoldRecord struct {
	RecordID      string                        `json:"record_id"`
	Entities      []graph.ExtractedEntity       `json:"entities"`
	Relationships []graph.ExtractedRelationship `json:"relationships"`
}

// Metrics holds the counts and derived scores for one item class.
type Metrics struct {
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
}

func (m *Metrics) finalize() {
	if m.TruePositives+m.FalsePositives > 0 {
		m.Precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}
	if m.TruePositives+m.FalseNegatives > 0 {
		m.Recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
}

// Report is the evaluation result over all scored records.
type Report struct {
	Records       int     `json:"records"`
	Missing       int     `json:"missing_predictions"`
	Threshold     float64 `json:"threshold"`
	Entities      Metrics `json:"entities"`
	Relationships Metrics `json:"relationships"`
}

// Evaluator scores predicted extractions against gold annotations.
type Evaluator struct {
	threshold float64
	sim       *metrics.JaroWinkler
}

// New returns an Evaluator with the given similarity threshold; pass 0
// for DefaultThreshold.
func New(threshold float64) (*Evaluator, error) {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be in (0, 1], got %v", threshold)
	}
	return &Evaluator{threshold: threshold, sim: metrics.NewJaroWinkler()}, nil
}

// LoadGold reads gold annotations from a JSONL file.
func LoadGold(path string) ([]GoldRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open gold file: %w", err)
	}
	defer f.Close()

	var out []GoldRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec GoldRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("failed to parse gold line %d: %w", lineNo, err)
		}
		if rec.RecordID == "" {
			return nil, fmt.Errorf("gold line %d: missing record_id", lineNo)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read gold file: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNoGoldRecords
	}
	return out, nil
}

// Evaluate scores predictions against gold. Gold records with no
// prediction count their items as false negatives.
func (e *Evaluator) Evaluate(gold []GoldRecord, predictions map[string]*graph.Extraction) (*Report, error) {
	if len(gold) == 0 {
		return nil, ErrNoGoldRecords
	}

	rep := &Report{Records: len(gold), Threshold: e.threshold}
	for _, g := range gold {
		pred := predictions[g.RecordID]
		if pred == nil {
			rep.Missing++
			rep.Entities.FalseNegatives += len(g.Entities)
			rep.Relationships.FalseNegatives += len(g.Relationships)
			continue
		}
		e.scoreEntities(&rep.Entities, g.Entities, pred.Entities)
		e.scoreRelationships(&rep.Relationships, g.Relationships, pred.Relationships)
	}
	rep.Entities.finalize()
	rep.Relationships.finalize()
	return rep, nil
}

// nameMatch reports whether two entity names are the same entity under
// fuzzy comparison.
func (e *Evaluator) nameMatch(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return true
	}
	return strutil.Similarity(a, b, e.sim) >= e.threshold
}

func (e *Evaluator) scoreEntities(m *Metrics, gold, pred []graph.ExtractedEntity) {
	used := make([]bool, len(gold))
	for _, p := range pred {
		matched := false
		for i, g := range gold {
			if used[i] {
				continue
			}
			if e.nameMatch(p.Name, g.Name) {
				used[i] = true
				matched = true
				break
			}
		}
		if matched {
			m.TruePositives++
		} else {
			m.FalsePositives++
		}
	}
	for _, u := range used {
		if !u {
			m.FalseNegatives++
		}
	}
}

func (e *Evaluator) scoreRelationships(m *Metrics, gold, pred []graph.ExtractedRelationship) {
	used := make([]bool, len(gold))
	for _, p := range pred {
		matched := false
		for i, g := range gold {
			if used[i] {
				continue
			}
			if e.relMatch(p, g) {
				used[i] = true
				matched = true
				break
			}
		}
		if matched {
			m.TruePositives++
		} else {
			m.FalsePositives++
		}
	}
	for _, u := range used {
		if !u {
			m.FalseNegatives++
		}
	}
}

// relMatch requires both endpoints to fuzzy-match and the relation types
// to agree after normalization.
func (e *Evaluator) relMatch(p, g graph.ExtractedRelationship) bool {
	if !strings.EqualFold(strings.ReplaceAll(p.RelationType, " ", "_"),
		strings.ReplaceAll(g.RelationType, " ", "_")) {
		return false
	}
	return e.nameMatch(p.Source, g.Source) && e.nameMatch(p.Target, g.Target)
}
