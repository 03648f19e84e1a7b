package a2a

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Processor runs a task in the background after tasks/send. It must check
// eng.Canceled(taskID) between steps and stop emitting once it is set.
type Processor interface {
	Process(ctx context.Context, eng *Engine, taskID uuid.UUID)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, eng *Engine, taskID uuid.UUID)

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, eng *Engine, taskID uuid.UUID) {
	f(ctx, eng, taskID)
}

// Engine drives the task state machine over a TaskStore and publishes
// every observable change through the Broker. All task mutations are
// serialized; cancellation set through Cancel is visible to processors
// before any later event.
type Engine struct {
	store     TaskStore
	broker    *Broker
	processor Processor
	logger    *zap.Logger

	mu       sync.Mutex
	canceled map[uuid.UUID]bool
}

// NewEngine creates an Engine. processor may be nil; tasks then advance
// only through explicit engine calls.
func NewEngine(store TaskStore, broker *Broker, processor Processor, logger *zap.Logger) *Engine {
	return &Engine{
		store:     store,
		broker:    broker,
		processor: processor,
		logger:    logger,
		canceled:  make(map[uuid.UUID]bool),
	}
}

// Broker returns the engine's broker.
func (e *Engine) Broker() *Broker { return e.broker }

// Send implements tasks/send. With a nil taskID it creates a task in
// SUBMITTED, moves it to WORKING, and appends the message; with an
// existing id it appends the message, moving INPUT_REQUIRED tasks back to
// WORKING. Sending to a terminal task fails with InvalidTransitionError.
func (e *Engine) Send(ctx context.Context, taskID *uuid.UUID, ownerDID string, msg Message) (*Task, error) {
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if taskID == nil {
		return e.createLocked(ctx, ownerDID, msg)
	}

	task, err := e.store.Get(ctx, *taskID)
	if err != nil {
		return nil, err
	}
	if task.State.Terminal() {
		return nil, &InvalidTransitionError{From: task.State, To: StateWorking}
	}
	if task.State != StateWorking {
		if err := e.transitionLocked(ctx, task, StateWorking, nil); err != nil {
			return nil, err
		}
	}

	task.Messages = append(task.Messages, msg)
	task.UpdatedAt = time.Now().UTC()
	if err := e.store.Save(ctx, task); err != nil {
		return nil, err
	}
	e.broker.Publish(messageEvent(task.ID, msg))
	return task, nil
}

func (e *Engine) createLocked(ctx context.Context, ownerDID string, msg Message) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:            uuid.New(),
		State:         StateSubmitted,
		OwnerAgentDID: ownerDID,
		Messages:      []Message{msg},
		Artifacts:     make(map[string]Artifact),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.Create(ctx, task); err != nil {
		return nil, err
	}

	if err := e.transitionLocked(ctx, task, StateWorking, nil); err != nil {
		return nil, err
	}
	e.broker.Publish(messageEvent(task.ID, msg))

	e.logger.Info("task created",
		zap.String("task_id", task.ID.String()),
		zap.String("owner_did", ownerDID),
	)
	if e.processor != nil {
		go e.processor.Process(context.WithoutCancel(ctx), e, task.ID)
	}
	return task, nil
}

// Get implements tasks/get.
func (e *Engine) Get(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	return e.store.Get(ctx, taskID)
}

// Cancel implements tasks/cancel. It is idempotent: canceling a terminal
// task returns false without an error or further events.
func (e *Engine) Cancel(ctx context.Context, taskID uuid.UUID) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, err := e.store.Get(ctx, taskID)
	if err != nil {
		return false, err
	}
	if task.State.Terminal() {
		return false, nil
	}

	// The flag is set before the event so background processors observe
	// cancellation before anything later on the stream.
	e.canceled[taskID] = true
	if err := e.transitionLocked(ctx, task, StateCanceled, nil); err != nil {
		return false, err
	}
	e.logger.Info("task canceled", zap.String("task_id", taskID.String()))
	return true, nil
}

// Canceled reports whether Cancel has been called on taskID. Background
// processors poll this between steps.
func (e *Engine) Canceled(taskID uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canceled[taskID]
}

// Subscribe implements tasks/subscribe. The stream opens with a snapshot
// status event; subscribing to a terminal task yields the snapshot and an
// immediately closed stream.
func (e *Engine) Subscribe(ctx context.Context, taskID uuid.UUID) (*Subscriber, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, err := e.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	sub := e.broker.Subscribe(taskID, statusEvent(taskID, task.State, nil))
	if task.State.Terminal() {
		e.broker.Unsubscribe(sub)
	}
	return sub, nil
}

// SetState transitions a task along a state-machine edge, publishing the
// status event (with the optional note) to all subscribers. Used by
// processors for WORKING -> INPUT_REQUIRED / COMPLETED / FAILED.
func (e *Engine) SetState(ctx context.Context, taskID uuid.UUID, to State, note *Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, err := e.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	return e.transitionLocked(ctx, task, to, note)
}

// AddMessage appends a message to a non-terminal task and publishes it.
func (e *Engine) AddMessage(ctx context.Context, taskID uuid.UUID, msg Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	task, err := e.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.State.Terminal() {
		return &InvalidTransitionError{From: task.State, To: task.State}
	}

	task.Messages = append(task.Messages, msg)
	task.UpdatedAt = time.Now().UTC()
	if err := e.store.Save(ctx, task); err != nil {
		return err
	}
	e.broker.Publish(messageEvent(taskID, msg))
	return nil
}

// PutArtifact creates or replaces an artifact on a non-terminal task and
// publishes the update.
func (e *Engine) PutArtifact(ctx context.Context, taskID uuid.UUID, art Artifact) error {
	if art.ID == "" {
		return fmt.Errorf("artifact requires an id")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	task, err := e.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.State.Terminal() {
		return &InvalidTransitionError{From: task.State, To: task.State}
	}

	if task.Artifacts == nil {
		task.Artifacts = make(map[string]Artifact)
	}
	task.Artifacts[art.ID] = art
	task.UpdatedAt = time.Now().UTC()
	if err := e.store.Save(ctx, task); err != nil {
		return err
	}
	e.broker.Publish(artifactEvent(taskID, art))
	return nil
}

// transitionLocked applies one state-machine edge, persists it, and
// publishes the status event. Terminal edges also release the cancel flag.
func (e *Engine) transitionLocked(ctx context.Context, task *Task, to State, note *Message) error {
	if !CanTransition(task.State, to) {
		return &InvalidTransitionError{From: task.State, To: to}
	}
	task.State = to
	task.UpdatedAt = time.Now().UTC()
	if err := e.store.Save(ctx, task); err != nil {
		return err
	}
	e.broker.Publish(statusEvent(task.ID, to, note))
	if to.Terminal() && to != StateCanceled {
		delete(e.canceled, task.ID)
	}
	return nil
}
