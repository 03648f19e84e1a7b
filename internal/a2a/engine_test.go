package a2a

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func newEngine(t *testing.T, p Processor) *Engine {
	t.Helper()
	return NewEngine(NewMemoryTaskStore(), NewBroker(DefaultQueueSize, zap.NewNop()), p, zap.NewNop())
}

func userMsg(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{TextPart(text)}}
}

func TestSendCreatesWorkingTask(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()

	task, err := e.Send(ctx, nil, "did:cos:treasury", userMsg("summarize this"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if task.State != StateWorking {
		t.Fatalf("state = %s, want WORKING", task.State)
	}
	if len(task.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(task.Messages))
	}

	got, err := e.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != StateWorking || got.ID != task.ID {
		t.Fatalf("stored task = %+v", got)
	}
}

func TestSendToExistingTask(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()

	task, err := e.Send(ctx, nil, "", userMsg("start"))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.SetState(ctx, task.ID, StateInputRequired, nil); err != nil {
		t.Fatal(err)
	}

	// A follow-up message resumes an INPUT_REQUIRED task.
	updated, err := e.Send(ctx, &task.ID, "", userMsg("here is the input"))
	if err != nil {
		t.Fatalf("resume send: %v", err)
	}
	if updated.State != StateWorking {
		t.Fatalf("state = %s, want WORKING", updated.State)
	}
	if len(updated.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(updated.Messages))
	}

	// Terminal tasks reject further sends.
	if err := e.SetState(ctx, task.ID, StateCompleted, nil); err != nil {
		t.Fatal(err)
	}
	_, err = e.Send(ctx, &task.ID, "", userMsg("too late"))
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("send to terminal err = %v", err)
	}
}

func TestSendUnknownTask(t *testing.T) {
	e := newEngine(t, nil)
	id := uuid.New()
	if _, err := e.Send(context.Background(), &id, "", userMsg("x")); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestSetStateEnforcesEdges(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()

	task, err := e.Send(ctx, nil, "", userMsg("start"))
	if err != nil {
		t.Fatal(err)
	}

	var invalid *InvalidTransitionError
	if err := e.SetState(ctx, task.ID, StateSubmitted, nil); !errors.As(err, &invalid) {
		t.Fatalf("WORKING -> SUBMITTED err = %v", err)
	}
	if err := e.SetState(ctx, task.ID, StateCompleted, nil); err != nil {
		t.Fatal(err)
	}
	if err := e.SetState(ctx, task.ID, StateWorking, nil); !errors.As(err, &invalid) {
		t.Fatalf("COMPLETED -> WORKING err = %v", err)
	}
}

func TestCancelIdempotent(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()

	task, err := e.Send(ctx, nil, "", userMsg("start"))
	if err != nil {
		t.Fatal(err)
	}

	s1, err := e.Subscribe(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := e.Subscribe(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := e.Cancel(ctx, task.ID)
	if err != nil || !ok {
		t.Fatalf("cancel = %v, %v", ok, err)
	}
	if !e.Canceled(task.ID) {
		t.Fatal("cancel flag not set")
	}

	// Both subscribers see the snapshot then exactly one CANCELED event,
	// then their streams close.
	for i, sub := range []*Subscriber{s1, s2} {
		events := collect(t, sub, 2)
		if len(events) != 2 {
			t.Fatalf("s%d events = %d, want 2", i+1, len(events))
		}
		if events[1].State != StateCanceled {
			t.Fatalf("s%d final = %+v", i+1, events[1])
		}
		if _, open := <-sub.Events(); open {
			t.Fatalf("s%d stream still open", i+1)
		}
	}

	// Second cancel is a no-op returning false.
	ok, err = e.Cancel(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("second cancel returned true")
	}

	// No further mutations are observable after cancellation.
	if err := e.AddMessage(ctx, task.ID, userMsg("late")); err == nil {
		t.Fatal("message accepted after cancel")
	}
	if err := e.PutArtifact(ctx, task.ID, Artifact{ID: "out", Type: "text"}); err == nil {
		t.Fatal("artifact accepted after cancel")
	}
}

func TestSubscribeTerminalTask(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()

	task, err := e.Send(ctx, nil, "", userMsg("start"))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.SetState(ctx, task.ID, StateCompleted, nil); err != nil {
		t.Fatal(err)
	}

	sub, err := e.Subscribe(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	events := collect(t, sub, 1)
	if events[0].State != StateCompleted {
		t.Fatalf("snapshot = %+v", events[0])
	}
	if _, open := <-sub.Events(); open {
		t.Fatal("terminal subscription stream still open")
	}
}

func TestSubscribeUnknownTask(t *testing.T) {
	e := newEngine(t, nil)
	if _, err := e.Subscribe(context.Background(), uuid.New()); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestArtifactUpsert(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()

	task, err := e.Send(ctx, nil, "", userMsg("start"))
	if err != nil {
		t.Fatal(err)
	}

	sub, err := e.Subscribe(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}

	if err := e.PutArtifact(ctx, task.ID, Artifact{}); err == nil {
		t.Fatal("artifact without id accepted")
	}
	if err := e.PutArtifact(ctx, task.ID, Artifact{ID: "report", Type: "text", Content: []byte(`"v1"`)}); err != nil {
		t.Fatal(err)
	}
	if err := e.PutArtifact(ctx, task.ID, Artifact{ID: "report", Type: "text", Content: []byte(`"v2"`)}); err != nil {
		t.Fatal(err)
	}

	got, err := e.Get(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Artifacts) != 1 {
		t.Fatalf("artifacts = %d, want 1 (replaced by id)", len(got.Artifacts))
	}
	if string(got.Artifacts["report"].Content) != `"v2"` {
		t.Fatalf("artifact content = %s", got.Artifacts["report"].Content)
	}

	events := collect(t, sub, 3)
	if events[1].Type != EventArtifactUpdate || events[2].Type != EventArtifactUpdate {
		t.Fatalf("events = %+v", events)
	}
	e.Broker().Unsubscribe(sub)
}

func TestProcessorDrivesTask(t *testing.T) {
	done := make(chan uuid.UUID, 1)
	proc := ProcessorFunc(func(ctx context.Context, eng *Engine, taskID uuid.UUID) {
		if eng.Canceled(taskID) {
			return
		}
		_ = eng.AddMessage(ctx, taskID, Message{Role: RoleAssistant, Parts: []Part{TextPart("working on it")}})
		_ = eng.SetState(ctx, taskID, StateCompleted, nil)
		done <- taskID
	})
	e := newEngine(t, proc)
	ctx := context.Background()

	task, err := e.Send(ctx, nil, "", userMsg("go"))
	if err != nil {
		t.Fatal(err)
	}
	<-done

	got, err := e.Get(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != StateCompleted {
		t.Fatalf("state = %s, want COMPLETED", got.State)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(got.Messages))
	}
}
