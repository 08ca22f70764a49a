// Package sqlite provides a durable audit sink and memory reader on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hupe1980/meshcoord/core"
	"github.com/hupe1980/meshcoord/memory"
	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
)

// Store persists memory records in a single SQLite table.
type Store struct {
	db   *sql.DB
	path string
}

var (
	_ core.AuditSink    = (*Store)(nil)
	_ core.MemoryReader = (*Store)(nil)
)

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata_json TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_category ON records(category, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// RecordEvent implements core.AuditSink.
func (s *Store) RecordEvent(ctx context.Context, text, category string, metadata map[string]any) (string, error) {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	id := ulid.Make().String()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (id, category, content, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, category, text, string(metaJSON), time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert record: %w", err)
	}
	return id, nil
}

// Content implements core.MemoryReader.
func (s *Store) Content(ctx context.Context, recordID string) (string, bool, error) {
	var content string
	err := s.db.QueryRowContext(ctx, `SELECT content FROM records WHERE id = ?`, recordID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return content, true, nil
}

// Records returns records of category (all when empty), oldest first. A
// non-positive limit returns everything.
func (s *Store) Records(ctx context.Context, category string, limit int) ([]memory.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, content, metadata_json, created_at
		FROM records WHERE (? = '' OR category = ?) ORDER BY id ASC LIMIT ?
	`, category, category, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []memory.Record
	for rows.Next() {
		var r memory.Record
		var metaJSON sql.NullString
		if err := rows.Scan(&r.ID, &r.Category, &r.Content, &metaJSON, &r.CreatedAt); err != nil {
			return nil, err
		}
		if metaJSON.Valid {
			if err := json.Unmarshal([]byte(metaJSON.String), &r.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of %s: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
