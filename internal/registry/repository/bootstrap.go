package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentvault/agentvault/internal/registry/model"
)

// ErrTokenNotFound is returned when a bootstrap token hash does not match
// any issued token.
var ErrTokenNotFound = errors.New("bootstrap token not found")

// ErrTokenUsed is returned when a bootstrap token has already been redeemed.
var ErrTokenUsed = errors.New("bootstrap token already used")

// ErrTokenExpired is returned when a bootstrap token's window has passed.
var ErrTokenExpired = errors.New("bootstrap token expired")

// BootstrapRepository stores bootstrap tokens and agent OAuth credentials.
type BootstrapRepository struct {
	db *pgxpool.Pool
}

// NewBootstrapRepository creates a new BootstrapRepository.
func NewBootstrapRepository(db *pgxpool.Pool) *BootstrapRepository {
	return &BootstrapRepository{db: db}
}

// CreateToken persists a new bootstrap token record.
func (r *BootstrapRepository) CreateToken(ctx context.Context, t *model.BootstrapToken) error {
	t.ID = uuid.New()
	t.CreatedAt = time.Now().UTC()

	q := `
		INSERT INTO bootstrap_tokens (id, token_hash, created_by, agent_type, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.Exec(ctx, q,
		t.ID, t.TokenHash, t.CreatedBy, t.AgentType, t.ExpiresAt, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create bootstrap token: %w", err)
	}
	return nil
}

// CountIssuedSince returns how many tokens a creator has issued since the
// cutoff, for rate limiting token issuance.
func (r *BootstrapRepository) CountIssuedSince(ctx context.Context, createdBy uuid.UUID, since time.Time) (int, error) {
	var n int
	q := `SELECT COUNT(*) FROM bootstrap_tokens WHERE created_by = $1 AND created_at >= $2`
	if err := r.db.QueryRow(ctx, q, createdBy, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count issued tokens: %w", err)
	}
	return n, nil
}

// Redeem atomically consumes a token: it inserts the new agent card, records
// the credential minted for it, and marks the token used, all in one
// transaction. The token row is locked FOR UPDATE so concurrent redemptions
// see exactly one winner; on any failure the token stays unconsumed.
//
// The card's owner and, when the card does not name one, its agent type are
// taken from the token. Both card and cred are filled in place.
func (r *BootstrapRepository) Redeem(ctx context.Context, tokenHash string, card *model.AgentCard, cred *model.AgentCredential) (*model.BootstrapToken, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var t model.BootstrapToken
	q := `
		SELECT id, token_hash, created_by, agent_type, expires_at, used_at, used_by_did, created_at
		FROM bootstrap_tokens
		WHERE token_hash = $1
		FOR UPDATE`
	err = tx.QueryRow(ctx, q, tokenHash).Scan(
		&t.ID, &t.TokenHash, &t.CreatedBy, &t.AgentType,
		&t.ExpiresAt, &t.UsedAt, &t.UsedByDID, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("query bootstrap token: %w", err)
	}

	now := time.Now().UTC()
	if t.Used() {
		return nil, ErrTokenUsed
	}
	if t.Expired(now) {
		return nil, ErrTokenExpired
	}

	card.ID = uuid.New()
	card.DeveloperID = t.CreatedBy
	card.CreatedAt = now
	card.UpdatedAt = now
	if card.AgentType == "" {
		card.AgentType = t.AgentType
	}
	if card.Status == "" {
		card.Status = model.AgentStatusActive
	}
	schemes, pricing, meta, err := marshalJSONFields(card)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO agents (
			agent_id, did, name, description, agent_type, status, developer_id,
			endpoints, capabilities, auth_schemes, pricing, metadata,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		card.ID, card.DID, card.Name, card.Description, card.AgentType,
		card.Status, card.DeveloperID,
		card.Endpoints, card.Capabilities, schemes, pricing, meta,
		card.CreatedAt, card.UpdatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("insert agent: %w", err)
	}

	cred.AgentDID = card.DID
	cred.DeveloperID = t.CreatedBy
	cred.CreatedAt = now
	if _, err := tx.Exec(ctx,
		`INSERT INTO agent_credentials (client_id, client_secret_hash, agent_did, developer_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		cred.ClientID, cred.ClientSecretHash, cred.AgentDID, cred.DeveloperID, cred.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("store agent credential: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE bootstrap_tokens SET used_at = $2, used_by_did = $3 WHERE id = $1`,
		t.ID, now, card.DID,
	); err != nil {
		return nil, fmt.Errorf("mark token used: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	t.UsedAt = &now
	t.UsedByDID = card.DID
	return &t, nil
}

// GetCredential looks up an agent credential by OAuth client_id.
func (r *BootstrapRepository) GetCredential(ctx context.Context, clientID string) (*model.AgentCredential, error) {
	var c model.AgentCredential
	q := `
		SELECT client_id, client_secret_hash, agent_did, developer_id, created_at
		FROM agent_credentials WHERE client_id = $1`
	err := r.db.QueryRow(ctx, q, clientID).Scan(
		&c.ClientID, &c.ClientSecretHash, &c.AgentDID, &c.DeveloperID, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("query agent credential: %w", err)
	}
	return &c, nil
}

// SweepExpired deletes unused tokens whose window passed before the cutoff.
// Returns the number of rows removed.
func (r *BootstrapRepository) SweepExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM bootstrap_tokens WHERE used_at IS NULL AND expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep bootstrap tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
