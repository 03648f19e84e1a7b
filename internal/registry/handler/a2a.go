package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentvault/agentvault/internal/a2a"
)

// Requests larger than this are rejected before parsing.
const maxRPCBodyBytes = 1 << 20

// A2AHandler bridges HTTP to the JSON-RPC task engine. tasks/subscribe is
// intercepted and served as an SSE stream; everything else goes through
// the dispatcher.
type A2AHandler struct {
	engine     *a2a.Engine
	dispatcher *a2a.Dispatcher
	logger     *zap.Logger
}

func NewA2AHandler(engine *a2a.Engine, dispatcher *a2a.Dispatcher, logger *zap.Logger) *A2AHandler {
	return &A2AHandler{engine: engine, dispatcher: dispatcher, logger: logger}
}

// Register mounts POST /a2a on an agent-authenticated group.
func (h *A2AHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/a2a", h.RPC)
}

// RPC handles POST /a2a.
func (h *A2AHandler) RPC(c *gin.Context) {
	agentDID, ok := callerDID(c)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRPCBodyBytes))
	if err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION", "unreadable request body")
		return
	}

	// tasks/subscribe upgrades the response to an event stream, so it is
	// routed before the dispatcher sees it.
	var probe a2a.Request
	if json.Unmarshal(body, &probe) == nil && probe.Method == "tasks/subscribe" {
		h.subscribe(c, probe)
		return
	}

	resp := h.dispatcher.Dispatch(c.Request.Context(), agentDID, body)
	if resp == nil {
		// Notification: acknowledged, nothing to return.
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type subscribeParams struct {
	TaskID uuid.UUID `json:"task_id"`
}

// subscribe streams task events as SSE frames. The first frame is a
// snapshot of the task's current state, so late subscribers never miss a
// terminal transition.
func (h *A2AHandler) subscribe(c *gin.Context, req a2a.Request) {
	writeRPCErr := func(code int, msg string) {
		c.JSON(http.StatusOK, &a2a.Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &a2a.RPCError{Code: code, Message: msg},
		})
	}

	var p subscribeParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.TaskID == uuid.Nil {
		writeRPCErr(a2a.CodeInvalidParams, "invalid params")
		return
	}

	sub, err := h.engine.Subscribe(c.Request.Context(), p.TaskID)
	if err != nil {
		writeRPCErr(a2a.CodeTaskNotFound, "task not found")
		return
	}
	defer h.engine.Broker().Unsubscribe(sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		h.logger.Warn("response writer does not support streaming")
		return
	}

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				// Task reached a terminal state and the broker closed
				// the stream.
				return
			}
			if err := writeSSE(c.Writer, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, ev a2a.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}
