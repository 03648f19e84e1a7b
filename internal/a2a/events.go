package a2a

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminates the events pushed to subscribers.
type EventType string

const (
	EventStatusUpdate   EventType = "status_update"
	EventMessage        EventType = "message"
	EventArtifactUpdate EventType = "artifact_update"
)

// Event is one record on a subscriber's stream. The Type field selects
// which payload fields are set: State (and optionally Message) for status
// updates, Message for message events, Artifact for artifact updates.
type Event struct {
	Type      EventType `json:"type"`
	TaskID    uuid.UUID `json:"task_id"`
	Timestamp time.Time `json:"timestamp"`
	State     State     `json:"state,omitempty"`
	Message   *Message  `json:"message,omitempty"`
	Artifact  *Artifact `json:"artifact,omitempty"`
}

func statusEvent(taskID uuid.UUID, state State, note *Message) Event {
	return Event{
		Type:      EventStatusUpdate,
		TaskID:    taskID,
		Timestamp: time.Now().UTC(),
		State:     state,
		Message:   note,
	}
}

func messageEvent(taskID uuid.UUID, msg Message) Event {
	return Event{
		Type:      EventMessage,
		TaskID:    taskID,
		Timestamp: time.Now().UTC(),
		Message:   &msg,
	}
}

func artifactEvent(taskID uuid.UUID, art Artifact) Event {
	return Event{
		Type:      EventArtifactUpdate,
		TaskID:    taskID,
		Timestamp: time.Now().UTC(),
		Artifact:  &art,
	}
}
