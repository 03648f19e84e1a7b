package a2a

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrTaskNotFound is returned for unknown task ids.
var ErrTaskNotFound = errors.New("task not found")

// TaskStore persists task state. The engine serializes writes per task, so
// implementations need no cross-call coordination beyond basic safety.
type TaskStore interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id uuid.UUID) (*Task, error)
	Save(ctx context.Context, task *Task) error
}

// MemoryTaskStore is the default in-process TaskStore.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*Task
}

// NewMemoryTaskStore creates an empty MemoryTaskStore.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[uuid.UUID]*Task)}
}

// Create implements TaskStore.
func (m *MemoryTaskStore) Create(_ context.Context, task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = task.Clone()
	return nil
}

// Get implements TaskStore.
func (m *MemoryTaskStore) Get(_ context.Context, id uuid.UUID) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Clone(), nil
}

// Save implements TaskStore.
func (m *MemoryTaskStore) Save(_ context.Context, task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; !ok {
		return ErrTaskNotFound
	}
	m.tasks[task.ID] = task.Clone()
	return nil
}
