package developers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a developer lookup finds no matching record.
var ErrNotFound = errors.New("developer not found")

// ErrDuplicateEmail is returned when a registration attempts to reuse an
// already-registered email.
var ErrDuplicateEmail = errors.New("email already registered")

// ErrAPIKeyNotFound is returned when an API key lookup finds no matching
// record owned by the caller.
var ErrAPIKeyNotFound = errors.New("api key not found")

// Repository provides CRUD operations for developers against PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new developer record. Sets ID, CreatedAt, UpdatedAt.
func (r *Repository) Create(ctx context.Context, d *Developer) error {
	d.ID = uuid.New()
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	if d.Role == "" {
		d.Role = RoleDeveloper
	}

	q := `
		INSERT INTO developers (id, email, password_hash, name, role, suspended, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.Exec(ctx, q,
		d.ID, d.Email, d.PasswordHash, d.Name, d.Role, d.Suspended, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("create developer: %w", err)
	}
	return nil
}

// GetByID retrieves a developer by their internal UUID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Developer, error) {
	return r.scanOne(ctx,
		`SELECT id, email, password_hash, name, role, suspended, created_at, updated_at
		 FROM developers WHERE id = $1`, id)
}

// GetByEmail retrieves a developer by their email address.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*Developer, error) {
	return r.scanOne(ctx,
		`SELECT id, email, password_hash, name, role, suspended, created_at, updated_at
		 FROM developers WHERE email = $1`, email)
}

// SetSuspended toggles the suspended flag on a developer account.
func (r *Repository) SetSuspended(ctx context.Context, id uuid.UUID, suspended bool) error {
	q := `UPDATE developers SET suspended = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.db.Exec(ctx, q, id, suspended, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set suspended: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPasswordHash updates a developer's password hash.
func (r *Repository) SetPasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	q := `UPDATE developers SET password_hash = $2, updated_at = $3 WHERE id = $1`
	_, err := r.db.Exec(ctx, q, id, hash, time.Now().UTC())
	return err
}

func (r *Repository) scanOne(ctx context.Context, q string, args ...any) (*Developer, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	var d Developer
	if err := rows.Scan(
		&d.ID, &d.Email, &d.PasswordHash, &d.Name, &d.Role,
		&d.Suspended, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan developer: %w", err)
	}
	return &d, rows.Err()
}

const apiKeyColumns = `key_id, prefix, key_hash, developer_id, name, scopes, expires_at, revoked_at, created_at`

// CreateAPIKey inserts a new API key record. Sets KeyID and CreatedAt.
func (r *Repository) CreateAPIKey(ctx context.Context, k *APIKey) error {
	k.KeyID = uuid.New()
	k.CreatedAt = time.Now().UTC()
	if k.Scopes == nil {
		k.Scopes = []string{}
	}

	q := `
		INSERT INTO api_keys (key_id, prefix, key_hash, developer_id, name, scopes, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.Exec(ctx, q,
		k.KeyID, k.Prefix, k.KeyHash, k.DeveloperID, k.Name, k.Scopes, k.ExpiresAt, k.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// GetAPIKeyByPrefix retrieves an API key by its plaintext lookup prefix.
func (r *Repository) GetAPIKeyByPrefix(ctx context.Context, prefix string) (*APIKey, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE prefix = $1`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrAPIKeyNotFound
	}
	return scanAPIKey(rows)
}

// ListAPIKeysByDeveloper returns all of a developer's keys, newest first.
// Revoked keys are included so owners can audit them.
func (r *Repository) ListAPIKeysByDeveloper(ctx context.Context, developerID uuid.UUID) ([]*APIKey, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE developer_id = $1 ORDER BY created_at DESC`,
		developerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*APIKey, 0)
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey marks a key revoked. The developer scoping prevents revoking
// another account's key; revoking twice keeps the original timestamp.
func (r *Repository) RevokeAPIKey(ctx context.Context, keyID, developerID uuid.UUID) error {
	q := `UPDATE api_keys SET revoked_at = COALESCE(revoked_at, $3) WHERE key_id = $1 AND developer_id = $2`
	tag, err := r.db.Exec(ctx, q, keyID, developerID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

func scanAPIKey(rows pgx.Rows) (*APIKey, error) {
	var k APIKey
	if err := rows.Scan(
		&k.KeyID, &k.Prefix, &k.KeyHash, &k.DeveloperID, &k.Name,
		&k.Scopes, &k.ExpiresAt, &k.RevokedAt, &k.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan api key: %w", err)
	}
	return &k, nil
}
