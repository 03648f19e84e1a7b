package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Task lifecycle states.
const (
	TaskSubmitted     = "SUBMITTED"
	TaskWorking       = "WORKING"
	TaskInputRequired = "INPUT_REQUIRED"
	TaskCompleted     = "COMPLETED"
	TaskFailed        = "FAILED"
	TaskCanceled      = "CANCELED"
)

// IsTerminalState reports whether a task state admits no further
// transitions.
func IsTerminalState(state string) bool {
	switch state {
	case TaskCompleted, TaskFailed, TaskCanceled:
		return true
	}
	return false
}

// TaskPart is one content part of a task message: text, a file reference,
// or structured data.
type TaskPart struct {
	Type      string          `json:"type"` // "text", "file", "data"
	Content   string          `json:"content,omitempty"`
	URL       string          `json:"url,omitempty"`
	Filename  string          `json:"filename,omitempty"`
	MediaType string          `json:"media_type,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// TaskMessage is a conversational turn within a task.
type TaskMessage struct {
	Role     string         `json:"role"` // "user", "assistant", "system", "tool"
	Parts    []TaskPart     `json:"parts"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TextMessage builds a single-part user message, the common case for
// starting or continuing a task.
func TextMessage(text string) TaskMessage {
	return TaskMessage{Role: "user", Parts: []TaskPart{{Type: "text", Content: text}}}
}

// TaskArtifact is an output produced by a task.
type TaskArtifact struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content,omitempty"`
	URL       string          `json:"url,omitempty"`
	MediaType string          `json:"media_type,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// Task is the full task record returned by GetTask.
type Task struct {
	TaskID        string                  `json:"task_id"`
	State         string                  `json:"state"`
	OwnerAgentDID string                  `json:"owner_agent_did,omitempty"`
	Messages      []TaskMessage           `json:"messages"`
	Artifacts     map[string]TaskArtifact `json:"artifacts"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// TaskRef identifies a task and its state after SendTask.
type TaskRef struct {
	TaskID string `json:"task_id"`
	State  string `json:"state"`
}

// TaskEvent is one lifecycle event from a task subscription.
type TaskEvent struct {
	Type      string        `json:"type"` // "status_update", "message", "artifact_update"
	TaskID    string        `json:"task_id"`
	Timestamp time.Time     `json:"timestamp"`
	State     string        `json:"state,omitempty"`
	Message   *TaskMessage  `json:"message,omitempty"`
	Artifact  *TaskArtifact `json:"artifact,omitempty"`
}

// RPCError is a JSON-RPC error returned by the task engine.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc %d: %s", e.Code, e.Message)
}

// ErrTaskNotFound is returned when the referenced task does not exist. Use
// errors.Is; the underlying *RPCError remains available via errors.As.
var ErrTaskNotFound = errors.New("task not found")

const taskNotFoundCode = -32001

var rpcSeq atomic.Int64

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// SendTask creates a new task (taskID == "") or appends a message to an
// existing one. Requires agent credentials.
func (c *Client) SendTask(ctx context.Context, taskID string, msg TaskMessage) (*TaskRef, error) {
	params := map[string]any{"message": msg}
	if taskID != "" {
		params["task_id"] = taskID
	}
	var ref TaskRef
	if err := c.rpc(ctx, "tasks/send", params, &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

// GetTask returns the full task record including message history and
// artifacts.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	var task Task
	if err := c.rpc(ctx, "tasks/get", map[string]string{"task_id": taskID}, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CancelTask requests cancellation. It returns false without error when the
// task already sits in a terminal state.
func (c *Client) CancelTask(ctx context.Context, taskID string) (bool, error) {
	var ok bool
	if err := c.rpc(ctx, "tasks/cancel", map[string]string{"task_id": taskID}, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

// SubscribeTask streams task lifecycle events, invoking fn for each one.
// The first event is a snapshot of the task's current state, so late
// subscribers never miss a terminal transition. SubscribeTask returns nil
// when the registry closes the stream (the task reached a terminal state),
// or the first non-nil error from fn, or the context's error on cancel.
func (c *Client) SubscribeTask(ctx context.Context, taskID string, fn func(TaskEvent) error) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      rpcSeq.Add(1),
		Method:  "tasks/subscribe",
		Params:  map[string]string{"task_id": taskID},
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/a2a", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	auth, err := c.authHeader()
	if err != nil {
		return err
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	} else if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	// Streams outlive the default client timeout; rely on ctx instead.
	stream := &http.Client{Transport: c.httpClient.Transport}
	resp, err := stream.Do(req)
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return decodeAPIError(resp.StatusCode, body)
	}

	// A JSON body instead of an event stream carries the subscribe error
	// (unknown task, bad params).
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		var rpcResp rpcResponse
		if jsonErr := json.Unmarshal(body, &rpcResp); jsonErr == nil && rpcResp.Error != nil {
			return wrapRPCError(rpcResp.Error)
		}
		return fmt.Errorf("unexpected subscribe response: %s", strings.TrimSpace(string(body)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev TaskEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read event stream: %w", err)
	}
	return nil
}

// rpc executes one JSON-RPC 2.0 call against the task engine.
func (c *Client) rpc(ctx context.Context, method string, params, out any) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      rpcSeq.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/a2a", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}

	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return wrapRPCError(resp.Error)
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

func wrapRPCError(e *RPCError) error {
	if e.Code == taskNotFoundCode {
		return fmt.Errorf("%w: %w", ErrTaskNotFound, e)
	}
	return e
}
