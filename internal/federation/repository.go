package federation

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

// Repository errors.
var (
	ErrPeerNotFound = errors.New("peer not found")
	ErrDuplicateURL = errors.New("a peer with this registry URL already exists")
)

const peerColumns = `peer_id, name, registry_url, api_key_encrypted, status, health_status, last_health_check, latency_ms, created_at, updated_at`

// Repository persists federation peers.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a peer repository backed by pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a peer. registry_url is unique.
func (r *Repository) Create(ctx context.Context, p *Peer) error {
	q := `
		INSERT INTO federation_peers (` + peerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.pool.Exec(ctx, q,
		p.ID, p.Name, p.RegistryURL, p.APIKeyEncrypted, p.Status,
		p.HealthStatus, p.LastHealthCheck, p.LatencyMS, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateURL
		}
		return fmt.Errorf("insert peer: %w", err)
	}
	return nil
}

// GetByID fetches one peer.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Peer, error) {
	q := `SELECT ` + peerColumns + ` FROM federation_peers WHERE peer_id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, q, id))
}

// List returns all peers, insertion order.
func (r *Repository) List(ctx context.Context) ([]*Peer, error) {
	q := `SELECT ` + peerColumns + ` FROM federation_peers ORDER BY created_at`
	return r.scanMany(ctx, q)
}

// ListActive returns peers eligible for federated queries and probes.
func (r *Repository) ListActive(ctx context.Context) ([]*Peer, error) {
	q := `SELECT ` + peerColumns + ` FROM federation_peers WHERE status = 'active' ORDER BY created_at`
	return r.scanMany(ctx, q)
}

// Update rewrites a peer's mutable admin fields.
func (r *Repository) Update(ctx context.Context, p *Peer) error {
	q := `
		UPDATE federation_peers
		SET name = $2, registry_url = $3, api_key_encrypted = $4, status = $5, updated_at = $6
		WHERE peer_id = $1`
	tag, err := r.pool.Exec(ctx, q, p.ID, p.Name, p.RegistryURL, p.APIKeyEncrypted, p.Status, time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateURL
		}
		return fmt.Errorf("update peer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPeerNotFound
	}
	return nil
}

// UpdateHealth records the result of one health probe.
func (r *Repository) UpdateHealth(ctx context.Context, id uuid.UUID, status HealthStatus, latencyMS int, checkedAt time.Time) error {
	q := `
		UPDATE federation_peers
		SET health_status = $2, latency_ms = $3, last_health_check = $4, updated_at = $4
		WHERE peer_id = $1`
	tag, err := r.pool.Exec(ctx, q, id, status, latencyMS, checkedAt)
	if err != nil {
		return fmt.Errorf("update peer health: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPeerNotFound
	}
	return nil
}

// Delete removes a peer.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM federation_peers WHERE peer_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete peer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPeerNotFound
	}
	return nil
}

func (r *Repository) scanMany(ctx context.Context, q string, args ...any) ([]*Peer, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query peers: %w", err)
	}
	defer rows.Close()

	var out []*Peer
	for rows.Next() {
		p, err := scanPeer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) scanOne(row pgx.Row) (*Peer, error) {
	p, err := scanPeer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPeerNotFound
		}
		return nil, err
	}
	return p, nil
}

func scanPeer(row pgx.Row) (*Peer, error) {
	var p Peer
	err := row.Scan(
		&p.ID, &p.Name, &p.RegistryURL, &p.APIKeyEncrypted, &p.Status,
		&p.HealthStatus, &p.LastHealthCheck, &p.LatencyMS, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
