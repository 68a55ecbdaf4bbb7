package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/v0xg/stepflow/internal/instruction"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS plans (
	key          TEXT PRIMARY KEY,
	prompt       TEXT NOT NULL DEFAULT '',
	instructions TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);
`

// SQLiteStore keeps streams in a single SQLite table
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:"
// gives a private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]instruction.Instruction, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT instructions FROM plans WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query plan: %w", err)
	}
	list, err := instruction.Parse([]byte(raw))
	if err != nil {
		return nil, false, fmt.Errorf("failed to parse plan %s: %w", key, err)
	}
	return list, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, list []instruction.Instruction) error {
	return s.PutPrompt(ctx, key, "", list)
}

// PutPrompt upserts the stream. An empty prompt keeps the stored one.
func (s *SQLiteStore) PutPrompt(ctx context.Context, key, prompt string, list []instruction.Instruction) error {
	if list == nil {
		list = []instruction.Instruction{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (key, prompt, instructions, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			prompt = CASE WHEN excluded.prompt = '' THEN plans.prompt ELSE excluded.prompt END,
			instructions = excluded.instructions,
			updated_at = excluded.updated_at`,
		key, prompt, string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to store plan: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, prompt, instructions, updated_at FROM plans ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			raw     string
			updated string
		)
		if err := rows.Scan(&e.Key, &e.Prompt, &raw, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		e.Steps = -1
		if list, err := instruction.Parse([]byte(raw)); err == nil {
			e.Steps = len(list)
		}
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM plans WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete plan: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}
