package store

import (
	"database/sql"
	"fmt"
)

// UpsertSession creates or refreshes a session row.
func (s *Store) UpsertSession(name, project string) error {
	_, err := s.q.Exec(`
		INSERT INTO sessions (name, started_at, project) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET project=excluded.project`,
		name, Now(), project)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// FileHash returns the recorded content hash for a file, or "" if none.
func (s *Store) FileHash(session, relPath string) (string, error) {
	var h string
	err := s.q.QueryRow("SELECT xxh3 FROM file_hashes WHERE session=? AND rel_path=?", session, relPath).Scan(&h)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("file hash: %w", err)
	}
	return h, nil
}

// SetFileHash records the content hash for a file after a successful run.
func (s *Store) SetFileHash(session, relPath, hash string) error {
	_, err := s.q.Exec(`
		INSERT INTO file_hashes (session, rel_path, xxh3) VALUES (?, ?, ?)
		ON CONFLICT(session, rel_path) DO UPDATE SET xxh3=excluded.xxh3`,
		session, relPath, hash)
	if err != nil {
		return fmt.Errorf("set file hash: %w", err)
	}
	return nil
}
