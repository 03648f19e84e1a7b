package a2a

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func collect(t *testing.T, sub *Subscriber, want int) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for len(out) < want {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(out), want)
		}
	}
	return out
}

func TestBrokerSnapshotFirst(t *testing.T) {
	b := NewBroker(8, zap.NewNop())
	taskID := uuid.New()

	sub := b.Subscribe(taskID, statusEvent(taskID, StateWorking, nil))
	b.Publish(messageEvent(taskID, Message{Role: RoleAssistant, Parts: []Part{TextPart("step 1")}}))

	events := collect(t, sub, 2)
	if events[0].Type != EventStatusUpdate || events[0].State != StateWorking {
		t.Fatalf("first event = %+v, want working snapshot", events[0])
	}
	if events[1].Type != EventMessage {
		t.Fatalf("second event = %+v, want message", events[1])
	}
	b.Unsubscribe(sub)
}

func TestBrokerLateSubscriberMissesEarlierEvents(t *testing.T) {
	b := NewBroker(8, zap.NewNop())
	taskID := uuid.New()

	s1 := b.Subscribe(taskID, statusEvent(taskID, StateWorking, nil))
	b.Publish(messageEvent(taskID, Message{Role: RoleAssistant, Parts: []Part{TextPart("e1")}}))

	s2 := b.Subscribe(taskID, statusEvent(taskID, StateWorking, nil))
	b.Publish(messageEvent(taskID, Message{Role: RoleAssistant, Parts: []Part{TextPart("e2")}}))
	b.Publish(statusEvent(taskID, StateCompleted, nil))

	e1 := collect(t, s1, 4)
	if len(e1) != 4 {
		t.Fatalf("s1 events = %d, want 4", len(e1))
	}
	if e1[3].State != StateCompleted {
		t.Fatalf("s1 final = %+v", e1[3])
	}

	e2 := collect(t, s2, 3)
	if len(e2) != 3 {
		t.Fatalf("s2 events = %d, want 3", len(e2))
	}
	if e2[1].Message == nil || e2[1].Message.Parts[0].Content != "e2" {
		t.Fatalf("s2 saw %+v, want e2 only", e2[1])
	}

	// Terminal event closed both channels.
	if _, ok := <-s1.Events(); ok {
		t.Fatal("s1 channel still open after terminal event")
	}
	if _, ok := <-s2.Events(); ok {
		t.Fatal("s2 channel still open after terminal event")
	}
	if n := b.SubscriberCount(); n != 0 {
		t.Fatalf("subscriber count = %d after terminal", n)
	}
}

func TestBrokerSlowSubscriberDropped(t *testing.T) {
	b := NewBroker(1, zap.NewNop())
	taskID := uuid.New()

	// Queue size 1: the unread snapshot fills the queue, so the next
	// publish overflows and drops the subscriber.
	slow := b.Subscribe(taskID, statusEvent(taskID, StateWorking, nil))
	b.Publish(messageEvent(taskID, Message{Role: RoleAssistant, Parts: []Part{TextPart("a")}}))

	deadline := time.After(2 * time.Second)
	closed := false
	for !closed {
		select {
		case _, ok := <-slow.Events():
			if !ok {
				closed = true
			}
		case <-deadline:
			t.Fatal("slow subscriber channel never closed")
		}
	}
	if n := b.SubscriberCount(); n != 0 {
		t.Fatalf("subscriber count = %d, want 0", n)
	}

	// Later subscribers are unaffected by the drop.
	fresh := b.Subscribe(taskID, statusEvent(taskID, StateWorking, nil))
	got := collect(t, fresh, 1)
	if got[0].Type != EventStatusUpdate {
		t.Fatalf("fresh subscriber first event = %+v", got[0])
	}
	b.Unsubscribe(fresh)
}

func TestBrokerPublishNoSubscribers(t *testing.T) {
	b := NewBroker(4, zap.NewNop())
	b.Publish(statusEvent(uuid.New(), StateCompleted, nil))
	if n := b.SubscriberCount(); n != 0 {
		t.Fatalf("count = %d", n)
	}
}
