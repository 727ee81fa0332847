// Package store persists jobs, notifications, and action history for the
// gateway and worker in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// JobStatus represents asynchronous job state.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "completed"
	JobFailed  JobStatus = "failed"
)

// Terminal reports whether the status ends the job lifecycle.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed
}

// Job represents an asynchronous task (upload ingest, crosstab, ML training,
// export transform) tracked by the platform.
type Job struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	UserID      string                 `json:"userId,omitempty"`
	Status      JobStatus              `json:"status"`
	Stage       string                 `json:"stage,omitempty"`
	Progress    int                    `json:"progress,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	Result      map[string]interface{} `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Attempt     int                    `json:"attempt,omitempty"`
	MaxAttempts int                    `json:"maxAttempts,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// NotificationItem is a persisted notification derived from realtime
// envelopes.
type NotificationItem struct {
	ID        int64     `json:"id"`
	Event     string    `json:"event"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Severity  string    `json:"severity,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// HistoryEntry stores past actions (uploads, exports, federation changes).
type HistoryEntry struct {
	ID        string                 `json:"id"`
	Event     string                 `json:"event"`
	DatasetID string                 `json:"datasetId,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// Store wraps the SQLite database used for persistence.
type Store struct {
	db *sql.DB
}

// Open initializes the datastore at the supplied file path.
func Open(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("datastore DSN is required")
	}
	if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create datastore directory: %w", err)
	}
	conn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", dsn)
	db, err := sql.Open("sqlite", conn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite datastore: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			user_id TEXT,
			status TEXT NOT NULL,
			stage TEXT,
			progress INTEGER DEFAULT 0,
			message TEXT,
			payload TEXT,
			result TEXT,
			error TEXT,
			attempt INTEGER DEFAULT 0,
			max_attempts INTEGER DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_type ON jobs(type);`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT,
			severity TEXT,
			user_id TEXT,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event TEXT NOT NULL,
			dataset_id TEXT,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema apply failed: %w", err)
		}
	}
	return nil
}

// Close shuts down the datastore.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateJob inserts a new job record.
func (s *Store) CreateJob(job *Job) error {
	if job.ID == "" {
		return errors.New("job id required")
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = JobPending
	}
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return err
	}
	result, err := json.Marshal(job.Result)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO jobs (id, type, user_id, status, stage, progress, message, payload, result, error, attempt, max_attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Type, job.UserID, job.Status, job.Stage, job.Progress, job.Message, string(payload), string(result), job.Error, job.Attempt, job.MaxAttempts, job.CreatedAt, job.UpdatedAt,
	)
	return err
}

// UpdateJob mutates an existing job.
func (s *Store) UpdateJob(job *Job) error {
	job.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return err
	}
	result, err := json.Marshal(job.Result)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`UPDATE jobs SET type=?, user_id=?, status=?, stage=?, progress=?, message=?, payload=?, result=?, error=?, attempt=?, max_attempts=?, updated_at=? WHERE id=?`,
		job.Type, job.UserID, job.Status, job.Stage, job.Progress, job.Message, string(payload), string(result), job.Error, job.Attempt, job.MaxAttempts, job.UpdatedAt, job.ID,
	)
	return err
}

// GetJob loads a job by ID.
func (s *Store) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(`SELECT id, type, user_id, status, stage, progress, message, payload, result, error, attempt, max_attempts, created_at, updated_at FROM jobs WHERE id=?`, id)
	return scanJob(row.Scan)
}

// ListJobs returns recent jobs sorted from newest to oldest.
func (s *Store) ListJobs(limit int) ([]Job, error) {
	query := `SELECT id, type, user_id, status, stage, progress, message, payload, result, error, attempt, max_attempts, created_at, updated_at FROM jobs ORDER BY created_at DESC`
	if limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, limit)
	}
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func scanJob(scan func(...interface{}) error) (*Job, error) {
	var (
		job     Job
		userID  sql.NullString
		payload sql.NullString
		result  sql.NullString
	)
	if err := scan(&job.ID, &job.Type, &userID, &job.Status, &job.Stage, &job.Progress, &job.Message, &payload, &result, &job.Error, &job.Attempt, &job.MaxAttempts, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	if userID.Valid {
		job.UserID = userID.String
	}
	if payload.Valid {
		_ = json.Unmarshal([]byte(payload.String), &job.Payload)
	}
	if result.Valid {
		_ = json.Unmarshal([]byte(result.String), &job.Result)
	}
	return &job, nil
}

// AppendNotification records a notification and trims the table so at most
// keep rows remain. A keep of zero retains everything.
func (s *Store) AppendNotification(item *NotificationItem, keep int) error {
	item.CreatedAt = time.Now().UTC()
	res, err := s.db.Exec(`INSERT INTO notifications (event, title, body, severity, user_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		item.Event, item.Title, item.Body, item.Severity, item.UserID, item.CreatedAt,
	)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		item.ID = id
	}
	if keep > 0 {
		_, err = s.db.Exec(`DELETE FROM notifications WHERE id NOT IN (SELECT id FROM notifications ORDER BY id DESC LIMIT ?)`, keep)
	}
	return err
}

// ListNotifications returns the newest notifications.
func (s *Store) ListNotifications(limit int) ([]NotificationItem, error) {
	query := `SELECT id, event, title, body, severity, user_id, created_at FROM notifications ORDER BY id DESC`
	if limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, limit)
	}
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []NotificationItem
	for rows.Next() {
		var (
			n        NotificationItem
			body     sql.NullString
			severity sql.NullString
			userID   sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.Event, &n.Title, &body, &severity, &userID, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Body = body.String
		n.Severity = severity.String
		n.UserID = userID.String
		items = append(items, n)
	}
	return items, rows.Err()
}

// AppendHistory writes an entry to the history log.
func (s *Store) AppendHistory(entry *HistoryEntry) error {
	entry.CreatedAt = time.Now().UTC()
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`INSERT INTO history (event, dataset_id, metadata, created_at) VALUES (?, ?, ?, ?)`,
		entry.Event, entry.DatasetID, string(metadata), entry.CreatedAt,
	)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = fmt.Sprintf("%d", id)
	}
	return nil
}

// ListHistory returns the newest history entries.
func (s *Store) ListHistory(limit int) ([]HistoryEntry, error) {
	query := `SELECT id, event, dataset_id, metadata, created_at FROM history ORDER BY id DESC`
	if limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, limit)
	}
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var datasetID, metadata sql.NullString
		var id int64
		if err := rows.Scan(&id, &e.Event, &datasetID, &metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ID = fmt.Sprintf("%d", id)
		e.DatasetID = datasetID.String
		if metadata.Valid {
			_ = json.Unmarshal([]byte(metadata.String), &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
