package memory

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Store persists user memory in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates the store and runs its migration.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("memory migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS user_profile (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			name TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_facts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			fact TEXT NOT NULL UNIQUE,
			source TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the full user memory.
func (s *Store) Load() (*UserMemory, error) {
	mem := &UserMemory{}

	err := s.db.QueryRow(`SELECT name FROM user_profile WHERE id = 1`).Scan(&mem.Name)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	rows, err := s.db.Query(`SELECT fact, source, created_at FROM user_facts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f UserFact
		if err := rows.Scan(&f.Fact, &f.Source, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		mem.Facts = append(mem.Facts, f)
	}
	return mem, rows.Err()
}

// Save writes the full user memory back, replacing stored facts.
func (s *Store) Save(mem *UserMemory) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.Exec(
		`INSERT INTO user_profile (id, name, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`,
		mem.Name, now,
	); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM user_facts`); err != nil {
		return fmt.Errorf("clear facts: %w", err)
	}
	for _, f := range mem.Facts {
		createdAt := f.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := tx.Exec(
			`INSERT INTO user_facts (fact, source, created_at) VALUES (?, ?, ?)`,
			f.Fact, f.Source, createdAt,
		); err != nil {
			return fmt.Errorf("save fact: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	log.Debug().Int("facts", len(mem.Facts)).Msg("user memory saved")
	return nil
}
