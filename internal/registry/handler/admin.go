package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/agentvault/agentvault/internal/identity"
	"github.com/agentvault/agentvault/internal/teg"
)

// suspender is the developer-account surface AdminHandler needs;
// *developers.Service satisfies it.
type suspender interface {
	Suspend(ctx context.Context, id uuid.UUID, reason string) error
	Unsuspend(ctx context.Context, id uuid.UUID) error
}

// disputeNotifier emails the affected developers after arbitration;
// *service.Notifier satisfies it.
type disputeNotifier interface {
	DisputeResolved(ctx context.Context, d *teg.Dispute)
}

// AdminHandler serves treasury, moderation, and dispute arbitration
// routes. Every route requires an admin principal; the router enforces
// that.
type AdminHandler struct {
	ledger *teg.Service
	devs   suspender
	notify disputeNotifier
	logger *zap.Logger
}

func NewAdminHandler(ledger *teg.Service, devs suspender, notify disputeNotifier, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{ledger: ledger, devs: devs, notify: notify, logger: logger}
}

// Register mounts the admin routes on an admin-only group.
func (h *AdminHandler) Register(rg *gin.RouterGroup) {
	admin := rg.Group("/admin")
	{
		admin.POST("/tokens/issue", h.IssueTokens)
		admin.POST("/tokens/burn", h.BurnTokens)
		admin.POST("/accounts/suspend", h.SuspendAccount)
		admin.POST("/accounts/reinstate", h.ReinstateAccount)
		admin.GET("/disputes", h.ListDisputes)
		admin.POST("/disputes/:id/review", h.ReviewDispute)
		admin.POST("/disputes/:id/resolve", h.ResolveDispute)
		admin.GET("/flags", h.ListFlags)
		admin.POST("/flags/:id/dismiss", h.DismissFlag)
		admin.POST("/flags/:id/action", h.ActionFlag)
		admin.PUT("/attestation/policies", h.UpsertPolicy)
	}
}

type issueRequest struct {
	ReceiverDID string `json:"receiver_did" binding:"required"`
	Amount      string `json:"amount"       binding:"required"`
	Message     string `json:"message"`
}

// IssueTokens handles POST /admin/tokens/issue: mints from the treasury.
func (h *AdminHandler) IssueTokens(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION", "amount must be a decimal string")
		return
	}

	tx, err := h.ledger.Issue(c.Request.Context(), req.ReceiverDID, amount, req.Message)
	if err != nil {
		respondTegErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

type burnRequest struct {
	AgentDID string `json:"agent_did" binding:"required"`
	Amount   string `json:"amount"    binding:"required"`
	Message  string `json:"message"`
}

// BurnTokens handles POST /admin/tokens/burn.
func (h *AdminHandler) BurnTokens(c *gin.Context) {
	var req burnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION", "amount must be a decimal string")
		return
	}

	tx, err := h.ledger.Burn(c.Request.Context(), req.AgentDID, amount, req.Message)
	if err != nil {
		respondTegErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

type suspendRequest struct {
	AgentDID    string `json:"agent_did"`
	DeveloperID string `json:"developer_id"`
	Reason      string `json:"reason"`
}

// SuspendAccount handles POST /admin/accounts/suspend. A request may name
// a ledger account by agent DID, a developer account by ID, or both.
func (h *AdminHandler) SuspendAccount(c *gin.Context) {
	var req suspendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if req.AgentDID == "" && req.DeveloperID == "" {
		respondError(c, http.StatusBadRequest, "VALIDATION", "agent_did or developer_id is required")
		return
	}

	if req.AgentDID != "" {
		if err := h.ledger.SetAccountStatus(c.Request.Context(), req.AgentDID, teg.AccountSuspended); err != nil {
			respondTegErr(c, h.logger, err)
			return
		}
	}
	if req.DeveloperID != "" {
		devID, err := uuid.Parse(req.DeveloperID)
		if err != nil {
			respondError(c, http.StatusBadRequest, "VALIDATION", "malformed developer_id")
			return
		}
		if err := h.devs.Suspend(c.Request.Context(), devID, req.Reason); err != nil {
			h.logger.Error("suspend developer", zap.Error(err))
			respondError(c, http.StatusInternalServerError, "INTERNAL", "suspension failed")
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"suspended": true})
}

// ReinstateAccount handles POST /admin/accounts/reinstate.
func (h *AdminHandler) ReinstateAccount(c *gin.Context) {
	var req suspendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if req.AgentDID == "" && req.DeveloperID == "" {
		respondError(c, http.StatusBadRequest, "VALIDATION", "agent_did or developer_id is required")
		return
	}

	if req.AgentDID != "" {
		if err := h.ledger.SetAccountStatus(c.Request.Context(), req.AgentDID, teg.AccountActive); err != nil {
			respondTegErr(c, h.logger, err)
			return
		}
	}
	if req.DeveloperID != "" {
		devID, err := uuid.Parse(req.DeveloperID)
		if err != nil {
			respondError(c, http.StatusBadRequest, "VALIDATION", "malformed developer_id")
			return
		}
		if err := h.devs.Unsuspend(c.Request.Context(), devID); err != nil {
			h.logger.Error("unsuspend developer", zap.Error(err))
			respondError(c, http.StatusInternalServerError, "INTERNAL", "reinstatement failed")
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"suspended": false})
}

// ListDisputes handles GET /admin/disputes with an optional status filter.
func (h *AdminHandler) ListDisputes(c *gin.Context) {
	limit, offset := pageParams(c)
	status := teg.DisputeStatus(c.Query("status"))

	disputes, err := h.ledger.ListDisputes(c.Request.Context(), status, limit, offset)
	if err != nil {
		h.logger.Error("list disputes", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "listing failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"disputes": disputes, "limit": limit, "offset": offset})
}

// ReviewDispute handles POST /admin/disputes/:id/review: moves a filed
// dispute under review.
func (h *AdminHandler) ReviewDispute(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.ledger.ReviewDispute(c.Request.Context(), id); err != nil {
		respondTegErr(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type resolveRequest struct {
	Outcome string `json:"outcome" binding:"required"`
	Notes   string `json:"notes"`
}

// ResolveDispute handles POST /admin/disputes/:id/resolve. The outcome
// decides who receives the escrowed fee and stake.
func (h *AdminHandler) ResolveDispute(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	arbitrator := adminActor(c)
	dispute, err := h.ledger.ResolveDispute(c.Request.Context(), id, teg.DisputeStatus(req.Outcome), arbitrator, req.Notes)
	if err != nil {
		respondTegErr(c, h.logger, err)
		return
	}
	if h.notify != nil {
		h.notify.DisputeResolved(c.Request.Context(), dispute)
	}
	c.JSON(http.StatusOK, dispute)
}

// adminActor identifies the acting admin for audit fields.
func adminActor(c *gin.Context) string {
	p := identity.PrincipalFromCtx(c)
	if p == nil {
		return "unknown"
	}
	if p.Email != "" {
		return p.Email
	}
	return p.DeveloperID
}

// ListFlags handles GET /admin/flags with an optional status filter.
func (h *AdminHandler) ListFlags(c *gin.Context) {
	limit, offset := pageParams(c)
	status := teg.FlagStatus(c.Query("status"))

	flags, err := h.ledger.ListFlags(c.Request.Context(), status, limit, offset)
	if err != nil {
		h.logger.Error("list flags", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "listing failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"flags": flags, "limit": limit, "offset": offset})
}

// DismissFlag handles POST /admin/flags/:id/dismiss.
func (h *AdminHandler) DismissFlag(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.ledger.UpdateFlagStatus(c.Request.Context(), id, teg.FlagDismissed); err != nil {
		respondTegErr(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type actionFlagRequest struct {
	Penalty string `json:"penalty" binding:"required"`
}

// ActionFlag handles POST /admin/flags/:id/action: confirms the flag and
// applies a penalty to the flagged agent.
func (h *AdminHandler) ActionFlag(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req actionFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	penalty, err := decimal.NewFromString(req.Penalty)
	if err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION", "penalty must be a decimal string")
		return
	}

	tx, err := h.ledger.ActionFlag(c.Request.Context(), id, penalty)
	if err != nil {
		respondTegErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// UpsertPolicy handles PUT /admin/attestation/policies.
func (h *AdminHandler) UpsertPolicy(c *gin.Context) {
	var policy teg.AttestationPolicy
	if err := c.ShouldBindJSON(&policy); err != nil {
		respondBindError(c, err)
		return
	}
	if policy.PolicyCode == "" {
		respondError(c, http.StatusBadRequest, "VALIDATION", "policy code is required")
		return
	}

	if err := h.ledger.UpsertPolicy(c.Request.Context(), &policy); err != nil {
		respondTegErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, policy)
}
