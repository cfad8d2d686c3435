// Package snippets maintains a reusable store of code blocks extracted from
// model responses, with background description and relevance matching.
package snippets

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Snippet is one stored code block.
type Snippet struct {
	ID          string
	Language    string
	Code        string
	Description string
	CreatedAt   time.Time
}

// Descriptor is the lightweight view used for relevance matching.
type Descriptor struct {
	ID          string
	Language    string
	Description string
}

// Store persists snippets in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates the store and runs its migration.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("snippets migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS code_snippets (
		id TEXT PRIMARY KEY,
		language TEXT NOT NULL DEFAULT '',
		code TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`)
	return err
}

// Add stores a new snippet and returns its ID.
func (s *Store) Add(language, code, description string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO code_snippets (id, language, code, description, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, language, code, description, time.Now(),
	)
	if err != nil {
		return "", fmt.Errorf("insert snippet: %w", err)
	}
	return id, nil
}

// Get returns one snippet by ID.
func (s *Store) Get(id string) (*Snippet, error) {
	var sn Snippet
	err := s.db.QueryRow(
		`SELECT id, language, code, description, created_at FROM code_snippets WHERE id = ?`, id,
	).Scan(&sn.ID, &sn.Language, &sn.Code, &sn.Description, &sn.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get snippet: %w", err)
	}
	return &sn, nil
}

// Descriptors lists all snippets without their code bodies, newest first.
func (s *Store) Descriptors() ([]Descriptor, error) {
	rows, err := s.db.Query(
		`SELECT id, language, description FROM code_snippets ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list snippets: %w", err)
	}
	defer rows.Close()

	var out []Descriptor
	for rows.Next() {
		var d Descriptor
		if err := rows.Scan(&d.ID, &d.Language, &d.Description); err != nil {
			return nil, fmt.Errorf("scan snippet: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
