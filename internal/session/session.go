// Package session persists client-side state between CLI runs: the auth
// token, the cached user profile, and the preferred language.
package session

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Well-known keys.
const (
	KeyAuthToken = "auth_token"
	KeyProfile   = "user_profile"
	KeyLanguage  = "language"
)

// Profile is the cached user profile.
type Profile struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
}

// Store is a small keyed store backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open initializes the session store at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("session store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS session (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("session schema apply failed: %w", err)
	}
	return &Store{db: db}, nil
}

// Close shuts down the store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Set stores a string value under key.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO session (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().UTC())
	return err
}

// Get returns the value for key, or "" when absent.
func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM session WHERE key=?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// Delete removes a key.
func (s *Store) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM session WHERE key=?`, key)
	return err
}

// SetToken stores the auth token.
func (s *Store) SetToken(token string) error {
	return s.Set(KeyAuthToken, token)
}

// Token returns the stored auth token, or "".
func (s *Store) Token() (string, error) {
	return s.Get(KeyAuthToken)
}

// ClearToken drops the stored token (forced logout on 401).
func (s *Store) ClearToken() error {
	return s.Delete(KeyAuthToken)
}

// SetProfile caches the user profile.
func (s *Store) SetProfile(p Profile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.Set(KeyProfile, string(raw))
}

// GetProfile returns the cached profile, or nil when absent.
func (s *Store) GetProfile() (*Profile, error) {
	raw, err := s.Get(KeyProfile)
	if err != nil || raw == "" {
		return nil, err
	}
	var p Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, err
	}
	return &p, nil
}
