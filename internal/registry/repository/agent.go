package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentvault/agentvault/internal/registry/model"
)

// ErrNotFound is returned when an agent card is not found in the database.
var ErrNotFound = errors.New("agent not found")

// ErrDuplicateName is returned when a developer already owns an agent with
// the same name.
var ErrDuplicateName = errors.New("agent name already registered for this developer")

// AgentRepository provides CRUD and search for agent cards against
// PostgreSQL. JSON-typed columns (auth_schemes, pricing, metadata) are
// stored as jsonb.
type AgentRepository struct {
	db *pgxpool.Pool
}

// NewAgentRepository creates a new AgentRepository.
func NewAgentRepository(db *pgxpool.Pool) *AgentRepository {
	return &AgentRepository{db: db}
}

const agentColumns = `
	agent_id, did, name, description, agent_type, status, developer_id,
	endpoints, capabilities, auth_schemes, pricing, metadata,
	created_at, updated_at`

// Create inserts a new agent card. Sets ID, CreatedAt, UpdatedAt.
func (r *AgentRepository) Create(ctx context.Context, card *model.AgentCard) error {
	schemes, pricing, meta, err := marshalJSONFields(card)
	if err != nil {
		return err
	}

	card.ID = uuid.New()
	now := time.Now().UTC()
	card.CreatedAt = now
	card.UpdatedAt = now
	if card.Status == "" {
		card.Status = model.AgentStatusActive
	}

	query := `
		INSERT INTO agents (
			agent_id, did, name, description, agent_type, status, developer_id,
			endpoints, capabilities, auth_schemes, pricing, metadata,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14
		)`
	_, err = r.db.Exec(ctx, query,
		card.ID, card.DID, card.Name, card.Description, card.AgentType,
		card.Status, card.DeveloperID,
		card.Endpoints, card.Capabilities, schemes, pricing, meta,
		card.CreatedAt, card.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateName
		}
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

// GetByID retrieves an agent card by its internal UUID.
func (r *AgentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.AgentCard, error) {
	return r.scanOne(ctx, `SELECT `+agentColumns+` FROM agents WHERE agent_id = $1`, id)
}

// GetByDID retrieves an agent card by its DID.
func (r *AgentRepository) GetByDID(ctx context.Context, did string) (*model.AgentCard, error) {
	return r.scanOne(ctx, `SELECT `+agentColumns+` FROM agents WHERE did = $1`, did)
}

// Search returns agent cards matching the filter, newest first unless the
// filter requests another sort. The total count ignores pagination.
func (r *AgentRepository) Search(ctx context.Context, f model.SearchFilter) ([]*model.AgentCard, int, error) {
	f.Normalize()

	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.Query != "" {
		p := arg("%" + f.Query + "%")
		conds = append(conds, fmt.Sprintf("(name ILIKE %s OR description ILIKE %s)", p, p))
	}
	if f.AgentType != "" {
		conds = append(conds, "agent_type = "+arg(f.AgentType))
	}
	if f.Status != "" {
		conds = append(conds, "status = "+arg(f.Status))
	}
	if len(f.Capabilities) > 0 {
		conds = append(conds, "capabilities @> "+arg(f.Capabilities))
	}
	if f.DeveloperID != nil {
		conds = append(conds, "developer_id = "+arg(*f.DeveloperID))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM agents`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count agents: %w", err)
	}

	order := " ORDER BY " + f.Sort
	if f.Sort == "created_at" || f.Sort == "updated_at" {
		order += " DESC"
	}
	order += ", agent_id"

	query := `SELECT ` + agentColumns + ` FROM agents` + where + order +
		" LIMIT " + arg(f.Limit) + " OFFSET " + arg(f.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var cards []*model.AgentCard
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		cards = append(cards, c)
	}
	return cards, total, rows.Err()
}

// ListByDeveloper returns all agent cards owned by a developer, newest first.
func (r *AgentRepository) ListByDeveloper(ctx context.Context, developerID uuid.UUID, limit, offset int) ([]*model.AgentCard, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + agentColumns + ` FROM agents
		WHERE developer_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, developerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []*model.AgentCard
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// Update rewrites the mutable fields of an agent card.
func (r *AgentRepository) Update(ctx context.Context, card *model.AgentCard) error {
	schemes, pricing, meta, err := marshalJSONFields(card)
	if err != nil {
		return err
	}

	card.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE agents SET
			name         = $2,
			description  = $3,
			agent_type   = $4,
			status       = $5,
			endpoints    = $6,
			capabilities = $7,
			auth_schemes = $8,
			pricing      = $9,
			metadata     = $10,
			updated_at   = $11
		WHERE agent_id = $1`
	tag, err := r.db.Exec(ctx, query,
		card.ID, card.Name, card.Description, card.AgentType, card.Status,
		card.Endpoints, card.Capabilities, schemes, pricing, meta, card.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateName
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus changes the lifecycle status of an agent card.
func (r *AgentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.AgentStatus) error {
	query := `UPDATE agents SET status = $2, updated_at = $3 WHERE agent_id = $1`
	tag, err := r.db.Exec(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete permanently removes an agent card.
func (r *AgentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM agents WHERE agent_id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AgentRepository) scanOne(ctx context.Context, query string, args ...any) (*model.AgentCard, error) {
	rows, err := r.db.Query(ctx, query, args...)
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
	return r.scan(rows)
}

func (r *AgentRepository) scan(rows pgx.Rows) (*model.AgentCard, error) {
	var c model.AgentCard
	var schemesRaw, pricingRaw, metaRaw []byte

	err := rows.Scan(
		&c.ID, &c.DID, &c.Name, &c.Description, &c.AgentType, &c.Status,
		&c.DeveloperID, &c.Endpoints, &c.Capabilities,
		&schemesRaw, &pricingRaw, &metaRaw,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(schemesRaw) > 0 {
		if err := json.Unmarshal(schemesRaw, &c.AuthSchemes); err != nil {
			return nil, fmt.Errorf("unmarshal auth_schemes: %w", err)
		}
	}
	if len(pricingRaw) > 0 {
		if err := json.Unmarshal(pricingRaw, &c.Pricing); err != nil {
			return nil, fmt.Errorf("unmarshal pricing: %w", err)
		}
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &c.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &c, nil
}

func marshalJSONFields(card *model.AgentCard) (schemes, pricing, meta []byte, err error) {
	if schemes, err = json.Marshal(card.AuthSchemes); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal auth_schemes: %w", err)
	}
	if pricing, err = json.Marshal(card.Pricing); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal pricing: %w", err)
	}
	if meta, err = json.Marshal(card.Metadata); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return schemes, pricing, meta, nil
}
