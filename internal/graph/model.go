// Package graph holds the extraction model for financial news and a
// SQLite-backed property graph store for the extracted entities and
// relationships.
package graph

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Entity type constants used during extraction and storage.
const (
	EntityCompany    = "company"
	EntityPerson     = "person"
	EntityOrg        = "organization"
	EntitySector     = "sector"
	EntityInstrument = "financial_instrument"
	EntityEvent      = "event"
	EntityLocation   = "location"
)

// Relation type constants used during extraction and storage.
const (
	RelAcquires     = "acquires"
	RelInvestsIn    = "invests_in"
	RelPartnersWith = "partners_with"
	RelCompetesWith = "competes_with"
	RelEmploys      = "employs"
	RelOperatesIn   = "operates_in"
	RelAnnounces    = "announces"
	RelAffects      = "affects"
)

// ExtractedEntity is one entity from the LLM's structured output.
type ExtractedEntity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ExtractedRelationship is one relationship triplet from the LLM's
// structured output. Source and Target reference entity names from the
// same extraction.
type ExtractedRelationship struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	RelationType string `json:"relation_type"`
	Description  string `json:"description"`
}

// Extraction holds the LLM's structured output for one news record.
type Extraction struct {
	Entities      []ExtractedEntity       `json:"entities"`
	Relationships []ExtractedRelationship `json:"relationships"`
}

// ParseExtraction decodes one record's extraction output. Entities with
// empty names and relationships with missing endpoints are dropped rather
// than failing the whole record.
func ParseExtraction(raw json.RawMessage) (*Extraction, error) {
	var ex Extraction
	if err := json.Unmarshal(raw, &ex); err != nil {
		return nil, fmt.Errorf("failed to parse extraction output: %w", err)
	}

	ents := ex.Entities[:0]
	for _, e := range ex.Entities {
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" {
			continue
		}
		e.Type = normalizeType(e.Type)
		ents = append(ents, e)
	}
	ex.Entities = ents

	rels := ex.Relationships[:0]
	for _, r := range ex.Relationships {
		r.Source = strings.TrimSpace(r.Source)
		r.Target = strings.TrimSpace(r.Target)
		if r.Source == "" || r.Target == "" {
			continue
		}
		r.RelationType = normalizeType(r.RelationType)
		rels = append(rels, r)
	}
	ex.Relationships = rels

	return &ex, nil
}

// normalizeType lower-cases and underscores a type label so that model
// output variants like "Invests In" and "invests_in" merge.
func normalizeType(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	return strings.ReplaceAll(s, " ", "_")
}
