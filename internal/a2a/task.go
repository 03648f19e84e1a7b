// Package a2a implements the agent-to-agent task runtime: a per-task state
// machine, multi-subscriber event fan-out, cancellation, and JSON-RPC 2.0
// dispatch. Tasks are long-running operations a client invokes on an agent
// and observes through a server-push event stream.
package a2a

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

func validRole(r Role) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// PartType discriminates the Part variants on the wire.
type PartType string

const (
	PartText PartType = "text"
	PartFile PartType = "file"
	PartData PartType = "data"
)

// Part is one segment of a message: inline text, a file reference, or
// structured data. The Type field selects which other fields are meaningful.
type Part struct {
	Type      PartType        `json:"type"`
	Content   string          `json:"content,omitempty"`    // text
	URL       string          `json:"url,omitempty"`        // file
	Filename  string          `json:"filename,omitempty"`   // file
	MediaType string          `json:"media_type,omitempty"` // file, data
	Data      json.RawMessage `json:"data,omitempty"`       // data
}

// TextPart builds an inline text part.
func TextPart(content string) Part {
	return Part{Type: PartText, Content: content}
}

// FilePart builds a file-reference part.
func FilePart(url, mediaType, filename string) Part {
	return Part{Type: PartFile, URL: url, MediaType: mediaType, Filename: filename}
}

// DataPart builds a structured-data part.
func DataPart(data json.RawMessage, mediaType string) Part {
	return Part{Type: PartData, Data: data, MediaType: mediaType}
}

// Validate checks the variant-specific required fields.
func (p Part) Validate() error {
	switch p.Type {
	case PartText:
		if p.Content == "" {
			return fmt.Errorf("text part requires content")
		}
	case PartFile:
		if p.URL == "" {
			return fmt.Errorf("file part requires url")
		}
	case PartData:
		if len(p.Data) == 0 {
			return fmt.Errorf("data part requires data")
		}
		if p.MediaType == "" {
			return fmt.Errorf("data part requires media_type")
		}
	default:
		return fmt.Errorf("unknown part type %q", p.Type)
	}
	return nil
}

// Message is one conversational turn within a task.
type Message struct {
	Role     Role           `json:"role"`
	Parts    []Part         `json:"parts"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Validate checks the role and every part.
func (m Message) Validate() error {
	if !validRole(m.Role) {
		return fmt.Errorf("unknown message role %q", m.Role)
	}
	if len(m.Parts) == 0 {
		return fmt.Errorf("message requires at least one part")
	}
	for i, p := range m.Parts {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
	}
	return nil
}

// Artifact is a task output addressed by id; later writes to the same id
// replace earlier ones.
type Artifact struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content,omitempty"`
	URL       string          `json:"url,omitempty"`
	MediaType string          `json:"media_type,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// Task is the full state of one A2A task.
type Task struct {
	ID            uuid.UUID           `json:"task_id"`
	State         State               `json:"state"`
	OwnerAgentDID string              `json:"owner_agent_did,omitempty"`
	Messages      []Message           `json:"messages"`
	Artifacts     map[string]Artifact `json:"artifacts"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Clone returns a deep copy safe to hand across goroutine boundaries.
func (t *Task) Clone() *Task {
	cp := *t
	cp.Messages = append([]Message(nil), t.Messages...)
	cp.Artifacts = make(map[string]Artifact, len(t.Artifacts))
	for k, v := range t.Artifacts {
		cp.Artifacts[k] = v
	}
	return &cp
}
