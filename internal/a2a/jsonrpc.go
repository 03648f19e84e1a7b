package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeApplication    = -32000
	CodeTaskNotFound   = -32001
)

// Request is an inbound JSON-RPC 2.0 message.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"` // nil = notification
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is an outbound JSON-RPC 2.0 message.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a Response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc %d: %s", e.Code, e.Message)
}

// Handler serves one JSON-RPC method. The principal DID of the caller is
// passed through from the gateway.
type Handler func(ctx context.Context, callerDID string, params json.RawMessage) (any, *RPCError)

// Dispatcher routes JSON-RPC 2.0 requests to the engine's task methods and
// to registered custom methods.
type Dispatcher struct {
	engine  *Engine
	methods map[string]Handler
	logger  *zap.Logger
}

// NewDispatcher creates a Dispatcher with the tasks/* methods registered.
// tasks/subscribe is stream-only and must be intercepted by the transport;
// dispatching it here reports invalid request.
func NewDispatcher(engine *Engine, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		engine:  engine,
		methods: make(map[string]Handler),
		logger:  logger,
	}
	d.Register("tasks/send", d.handleSend)
	d.Register("tasks/get", d.handleGet)
	d.Register("tasks/cancel", d.handleCancel)
	d.Register("tasks/subscribe", func(context.Context, string, json.RawMessage) (any, *RPCError) {
		return nil, &RPCError{Code: CodeInvalidRequest, Message: "tasks/subscribe requires a streaming transport"}
	})
	return d
}

// Register adds or replaces a custom method.
func (d *Dispatcher) Register(method string, h Handler) {
	d.methods[method] = h
}

// Dispatch parses and serves one request. It returns nil for notifications
// (requests without an id).
func (d *Dispatcher) Dispatch(ctx context.Context, callerDID string, raw []byte) *Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errResponse(json.RawMessage(`null`), CodeParseError, "parse error")
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return errResponse(req.ID, CodeInvalidRequest, "invalid request")
	}
	if len(req.ID) == 0 {
		// Notification: execute, suppress the response.
		if h, ok := d.methods[req.Method]; ok {
			h(ctx, callerDID, req.Params)
		}
		return nil
	}

	h, ok := d.methods[req.Method]
	if !ok {
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}

	result, rpcErr := h(ctx, callerDID, req.Params)
	if rpcErr != nil {
		d.logger.Debug("jsonrpc method failed",
			zap.String("method", req.Method),
			zap.Int("code", rpcErr.Code),
		)
		return &Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	}
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

type sendParams struct {
	TaskID  *uuid.UUID `json:"task_id,omitempty"`
	Message Message    `json:"message"`
}

func (d *Dispatcher) handleSend(ctx context.Context, callerDID string, params json.RawMessage) (any, *RPCError) {
	var p sendParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "invalid params"}
	}
	if err := p.Message.Validate(); err != nil {
		return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	}

	task, err := d.engine.Send(ctx, p.TaskID, callerDID, p.Message)
	if err != nil {
		return nil, mapTaskError(err)
	}
	return map[string]any{"task_id": task.ID, "state": task.State}, nil
}

type taskIDParams struct {
	TaskID uuid.UUID `json:"task_id"`
}

func (d *Dispatcher) handleGet(ctx context.Context, _ string, params json.RawMessage) (any, *RPCError) {
	var p taskIDParams
	if err := json.Unmarshal(params, &p); err != nil || p.TaskID == uuid.Nil {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "invalid params"}
	}

	task, err := d.engine.Get(ctx, p.TaskID)
	if err != nil {
		return nil, mapTaskError(err)
	}
	return task, nil
}

func (d *Dispatcher) handleCancel(ctx context.Context, _ string, params json.RawMessage) (any, *RPCError) {
	var p taskIDParams
	if err := json.Unmarshal(params, &p); err != nil || p.TaskID == uuid.Nil {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "invalid params"}
	}

	ok, err := d.engine.Cancel(ctx, p.TaskID)
	if err != nil {
		return nil, mapTaskError(err)
	}
	return ok, nil
}

func mapTaskError(err error) *RPCError {
	var invalid *InvalidTransitionError
	switch {
	case errors.Is(err, ErrTaskNotFound):
		return &RPCError{Code: CodeTaskNotFound, Message: "task not found"}
	case errors.As(err, &invalid):
		return &RPCError{Code: CodeApplication, Message: invalid.Error()}
	default:
		return &RPCError{Code: CodeInternalError, Message: "internal error"}
	}
}

func errResponse(id json.RawMessage, code int, msg string) *Response {
	if len(id) == 0 {
		id = json.RawMessage(`null`)
	}
	return &Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: msg}}
}
