package federation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Partner is a registered federation node (a partner statistics office).
type Partner struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	BaseURL   string    `json:"baseUrl"`
	Contact   string    `json:"contact,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Partner statuses.
const (
	PartnerActive    = "active"
	PartnerSuspended = "suspended"
)

// ErrPartnerNotFound is returned when a partner id is unknown.
var ErrPartnerNotFound = errors.New("federation partner not found")

// Registry stores partners in Postgres.
type Registry struct {
	db *sql.DB
}

// OpenRegistry connects to Postgres and ensures the schema exists.
func OpenRegistry(dsn string) (*Registry, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open federation registry: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("federation registry ping failed: %w", err)
	}
	r := &Registry{db: db}
	if err := r.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// NewRegistryWithDB wraps an existing connection (tests).
func NewRegistryWithDB(db *sql.DB) *Registry {
	return &Registry{db: db}
}

func (r *Registry) initSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS federation_partners (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		base_url TEXT NOT NULL,
		contact TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("federation schema apply failed: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (r *Registry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Register inserts a new partner and returns it.
func (r *Registry) Register(ctx context.Context, name, baseURL, contact string) (*Partner, error) {
	p := &Partner{
		ID:        uuid.NewString(),
		Name:      name,
		BaseURL:   baseURL,
		Contact:   contact,
		Status:    PartnerActive,
		CreatedAt: time.Now().UTC(),
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO federation_partners (id, name, base_url, contact, status, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.Name, p.BaseURL, p.Contact, p.Status, p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("register partner: %w", err)
	}
	return p, nil
}

// Get loads a partner by id.
func (r *Registry) Get(ctx context.Context, id string) (*Partner, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, base_url, contact, status, created_at FROM federation_partners WHERE id = $1`, id)
	var p Partner
	var contact sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &p.BaseURL, &contact, &p.Status, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPartnerNotFound
		}
		return nil, err
	}
	p.Contact = contact.String
	return &p, nil
}

// List returns all partners ordered by name.
func (r *Registry) List(ctx context.Context) ([]Partner, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, base_url, contact, status, created_at FROM federation_partners ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var partners []Partner
	for rows.Next() {
		var p Partner
		var contact sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.BaseURL, &contact, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Contact = contact.String
		partners = append(partners, p)
	}
	return partners, rows.Err()
}

// SetStatus updates a partner's status.
func (r *Registry) SetStatus(ctx context.Context, id, status string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE federation_partners SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrPartnerNotFound
	}
	return nil
}
