package graph

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS entities (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    mentions    INTEGER NOT NULL DEFAULT 1,
    UNIQUE(name, entity_type)
);

CREATE TABLE IF NOT EXISTS relationships (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    source_entity_id INTEGER NOT NULL REFERENCES entities(id),
    target_entity_id INTEGER NOT NULL REFERENCES entities(id),
    relation_type    TEXT NOT NULL,
    description      TEXT NOT NULL DEFAULT '',
    record_id        TEXT NOT NULL,
    UNIQUE(source_entity_id, target_entity_id, relation_type, record_id)
);

CREATE TABLE IF NOT EXISTS loaded_records (
    record_id TEXT PRIMARY KEY,
    loaded_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(name);
CREATE INDEX IF NOT EXISTS idx_rel_source ON relationships(source_entity_id);
CREATE INDEX IF NOT EXISTS idx_rel_target ON relationships(target_entity_id);
`

// Entity is a row in the entities table.
type Entity struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	EntityType  string `json:"entity_type"`
	Description string `json:"description"`
	Mentions    int    `json:"mentions"`
}

// Relationship is a row in the relationships table, joined with the
// endpoint entity names.
type Relationship struct {
	ID           int64  `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	RelationType string `json:"relation_type"`
	Description  string `json:"description"`
	RecordID     string `json:"record_id"`
}

// Stats summarises the graph contents.
type Stats struct {
	Entities      int `json:"entities"`
	Relationships int `json:"relationships"`
	Records       int `json:"records"`
}

// Store wraps the SQLite database holding the property graph.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the graph database at dbPath and initialises
// the schema.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadExtraction merges one record's extraction into the graph inside a
// single transaction. Entities merge on (name, type): re-seen entities
// bump their mention count and keep the longer description. Loading the
// same record twice is a no-op.
func (s *Store) LoadExtraction(ctx context.Context, recordID string, ex *Extraction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO loaded_records (record_id) VALUES (?)`, recordID)
	if err != nil {
		return fmt.Errorf("failed to mark record %s: %w", recordID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already loaded.
		return nil
	}

	ids := make(map[string]int64, len(ex.Entities))
	for _, e := range ex.Entities {
		id, err := upsertEntity(ctx, tx, e)
		if err != nil {
			return err
		}
		ids[entityKey(e.Name)] = id
	}

	for _, r := range ex.Relationships {
		srcID, ok := ids[entityKey(r.Source)]
		if !ok {
			srcID, err = upsertEntity(ctx, tx, ExtractedEntity{Name: r.Source, Type: EntityOrg})
			if err != nil {
				return err
			}
			ids[entityKey(r.Source)] = srcID
		}
		tgtID, ok := ids[entityKey(r.Target)]
		if !ok {
			tgtID, err = upsertEntity(ctx, tx, ExtractedEntity{Name: r.Target, Type: EntityOrg})
			if err != nil {
				return err
			}
			ids[entityKey(r.Target)] = tgtID
		}

		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO relationships
			    (source_entity_id, target_entity_id, relation_type, description, record_id)
			VALUES (?, ?, ?, ?, ?)`,
			srcID, tgtID, r.RelationType, r.Description, recordID)
		if err != nil {
			return fmt.Errorf("failed to insert relationship %s->%s: %w", r.Source, r.Target, err)
		}
	}

	return tx.Commit()
}

func entityKey(name string) string {
	return normalizeType(name)
}

// upsertEntity inserts or merges one entity and returns its row ID.
func upsertEntity(ctx context.Context, tx *sql.Tx, e ExtractedEntity) (int64, error) {
	if e.Type == "" {
		e.Type = EntityOrg
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO entities (name, entity_type, description)
		VALUES (?, ?, ?)
		ON CONFLICT(name, entity_type) DO UPDATE SET
		    mentions = mentions + 1,
		    description = CASE
		        WHEN length(excluded.description) > length(entities.description)
		        THEN excluded.description ELSE entities.description END`,
		e.Name, e.Type, e.Description)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert entity %s: %w", e.Name, err)
	}

	var id int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM entities WHERE name = ? AND entity_type = ?`,
		e.Name, e.Type).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve entity %s: %w", e.Name, err)
	}
	return id, nil
}

// TopEntities returns the most-mentioned entities.
func (s *Store) TopEntities(ctx context.Context, limit int) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, entity_type, description, mentions
		FROM entities ORDER BY mentions DESC, name LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.EntityType, &e.Description, &e.Mentions); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RelationshipsFor returns all relationships touching the named entity.
func (s *Store) RelationshipsFor(ctx context.Context, name string) ([]Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, src.name, tgt.name, r.relation_type, r.description, r.record_id
		FROM relationships r
		JOIN entities src ON src.id = r.source_entity_id
		JOIN entities tgt ON tgt.id = r.target_entity_id
		WHERE src.name = ? OR tgt.name = ?
		ORDER BY r.id`, name, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer rows.Close()

	var out []Relationship
	for rows.Next() {
		var r Relationship
		if err := rows.Scan(&r.ID, &r.Source, &r.Target, &r.RelationType, &r.Description, &r.RecordID); err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats reports graph size counters.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx, `
		SELECT
		    (SELECT COUNT(*) FROM entities),
		    (SELECT COUNT(*) FROM relationships),
		    (SELECT COUNT(*) FROM loaded_records)`)
	if err := row.Scan(&st.Entities, &st.Relationships, &st.Records); err != nil {
		return Stats{}, fmt.Errorf("failed to query stats: %w", err)
	}
	return st, nil
}
