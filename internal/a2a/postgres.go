package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresTaskStore persists tasks in the a2a_tasks table. Messages and
// artifacts are stored as JSONB documents; tasks are read and written whole.
type PostgresTaskStore struct {
	pool *pgxpool.Pool
}

// NewPostgresTaskStore creates a TaskStore backed by pool.
func NewPostgresTaskStore(pool *pgxpool.Pool) *PostgresTaskStore {
	return &PostgresTaskStore{pool: pool}
}

// Create implements TaskStore.
func (s *PostgresTaskStore) Create(ctx context.Context, task *Task) error {
	messages, artifacts, err := marshalTaskDocs(task)
	if err != nil {
		return err
	}
	q := `
		INSERT INTO a2a_tasks (task_id, state, owner_agent_did, messages, artifacts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = s.pool.Exec(ctx, q,
		task.ID, task.State, task.OwnerAgentDID, messages, artifacts,
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Get implements TaskStore.
func (s *PostgresTaskStore) Get(ctx context.Context, id uuid.UUID) (*Task, error) {
	var (
		t         Task
		messages  []byte
		artifacts []byte
	)
	q := `
		SELECT task_id, state, owner_agent_did, messages, artifacts, created_at, updated_at
		FROM a2a_tasks WHERE task_id = $1`
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&t.ID, &t.State, &t.OwnerAgentDID, &messages, &artifacts,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("query task: %w", err)
	}
	if err := json.Unmarshal(messages, &t.Messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	if err := json.Unmarshal(artifacts, &t.Artifacts); err != nil {
		return nil, fmt.Errorf("decode artifacts: %w", err)
	}
	if t.Artifacts == nil {
		t.Artifacts = make(map[string]Artifact)
	}
	return &t, nil
}

// Save implements TaskStore.
func (s *PostgresTaskStore) Save(ctx context.Context, task *Task) error {
	messages, artifacts, err := marshalTaskDocs(task)
	if err != nil {
		return err
	}
	q := `
		UPDATE a2a_tasks
		SET state = $2, messages = $3, artifacts = $4, updated_at = $5
		WHERE task_id = $1`
	tag, err := s.pool.Exec(ctx, q, task.ID, task.State, messages, artifacts, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func marshalTaskDocs(task *Task) (messages, artifacts []byte, err error) {
	messages, err = json.Marshal(task.Messages)
	if err != nil {
		return nil, nil, fmt.Errorf("encode messages: %w", err)
	}
	arts := task.Artifacts
	if arts == nil {
		arts = map[string]Artifact{}
	}
	artifacts, err = json.Marshal(arts)
	if err != nil {
		return nil, nil, fmt.Errorf("encode artifacts: %w", err)
	}
	return messages, artifacts, nil
}
