package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/agentvault/agentvault/internal/identity"
	"github.com/agentvault/agentvault/internal/teg"
	"github.com/agentvault/agentvault/pkg/did"
)

// IdempotencyKeyHeader makes POST /token/transfer safely retryable.
const IdempotencyKeyHeader = "Idempotency-Key"

// transferAuditor runs fraud rules over completed transfers;
// *teg.Auditor satisfies it. A nil auditor disables inspection.
type transferAuditor interface {
	Inspect(ctx context.Context, tx *teg.Transaction)
}

// TEGHandler serves the token economy routes: balances, transfers,
// staking, reputation, attestation, and disputes.
type TEGHandler struct {
	ledger  *teg.Service
	auditor transferAuditor
	logger  *zap.Logger
}

func NewTEGHandler(ledger *teg.Service, auditor transferAuditor, logger *zap.Logger) *TEGHandler {
	return &TEGHandler{ledger: ledger, auditor: auditor, logger: logger}
}

// Register mounts agent-authenticated token routes.
func (h *TEGHandler) Register(rg *gin.RouterGroup, limits *RateLimits) {
	token := rg.Group("/token")
	{
		token.GET("/balance", h.Balance)
		token.POST("/transfer", limits.Transfer(), h.Transfer)
		token.GET("/transactions", h.Transactions)
		token.POST("/:tx_id/reputation-signal", h.ReputationSignal)
	}
	agent := rg.Group("/agent")
	{
		agent.POST("/stake", h.Stake)
		agent.POST("/unstake", h.Unstake)
		agent.GET("/stakes", h.Stakes)
		agent.POST("/delegate", h.Delegate)
		agent.POST("/delegations/:id/end", h.EndDelegation)
	}
	rg.POST("/attestation/submit", h.SubmitAttestation)
	dispute := rg.Group("/dispute")
	{
		dispute.POST("/file", h.FileDispute)
		dispute.GET("/:id", h.GetDispute)
	}
}

// RegisterPublic mounts the unauthenticated reputation lookup.
func (h *TEGHandler) RegisterPublic(rg *gin.RouterGroup) {
	rg.GET("/reputation/:agent_id", h.Reputation)
}

// callerDID resolves the ledger account of the authenticated principal.
// Only agent principals hold ledger accounts.
func callerDID(c *gin.Context) (string, bool) {
	p := identity.PrincipalFromCtx(c)
	if p == nil || p.AgentDID == "" {
		respondError(c, http.StatusForbidden, "AGENT_REQUIRED", "this endpoint requires an agent token")
		return "", false
	}
	return p.AgentDID, true
}

// Balance handles GET /token/balance. Profiles are created lazily, so a
// fresh agent sees zero balances rather than a 404.
func (h *TEGHandler) Balance(c *gin.Context) {
	agentDID, ok := callerDID(c)
	if !ok {
		return
	}
	profile, err := h.ledger.EnsureProfile(c.Request.Context(), agentDID)
	if err != nil {
		h.logger.Error("balance", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "balance lookup failed")
		return
	}
	c.JSON(http.StatusOK, profile)
}

type transferRequest struct {
	ReceiverDID string `json:"receiver_did" binding:"required"`
	Amount      string `json:"amount"       binding:"required"`
	Message     string `json:"message"`
}

// Transfer handles POST /token/transfer. An Idempotency-Key header makes
// the call safely retryable; a replay returns the original transaction
// with replayed=true.
func (h *TEGHandler) Transfer(c *gin.Context) {
	senderDID, ok := callerDID(c)
	if !ok {
		return
	}
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION", "amount must be a decimal string")
		return
	}

	var idemKey *string
	if k := c.GetHeader(IdempotencyKeyHeader); k != "" {
		idemKey = &k
	}

	tx, replayed, err := h.ledger.Transfer(c.Request.Context(), senderDID, req.ReceiverDID, amount, idemKey, req.Message)
	if err != nil {
		avTransfersTotal.WithLabelValues("rejected").Inc()
		respondTegErr(c, h.logger, err)
		return
	}
	if replayed {
		avTransfersTotal.WithLabelValues("replayed").Inc()
	} else {
		avTransfersTotal.WithLabelValues("completed").Inc()
		if h.auditor != nil {
			// The request context ends with this response; inspection
			// runs on its own.
			go h.auditor.Inspect(context.Background(), tx)
		}
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx, "replayed": replayed})
}

// Transactions handles GET /token/transactions, newest first.
func (h *TEGHandler) Transactions(c *gin.Context) {
	agentDID, ok := callerDID(c)
	if !ok {
		return
	}
	limit, offset := pageParams(c)
	txs, err := h.ledger.ListTransactions(c.Request.Context(), agentDID, limit, offset)
	if err != nil {
		h.logger.Error("list transactions", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "listing failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs, "limit": limit, "offset": offset})
}

type signalRequest struct {
	Signal int `json:"signal" binding:"required"`
}

// ReputationSignal handles POST /token/:tx_id/reputation-signal. Only the
// transfer's sender may signal, exactly once, with -1 or +1.
func (h *TEGHandler) ReputationSignal(c *gin.Context) {
	agentDID, ok := callerDID(c)
	if !ok {
		return
	}
	txID, ok := uuidParam(c, "tx_id")
	if !ok {
		return
	}
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	tx, err := h.ledger.SetReputationSignal(c.Request.Context(), agentDID, txID, req.Signal)
	if err != nil {
		respondTegErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// Reputation handles GET /reputation/:agent_id, a public lookup by DID.
func (h *TEGHandler) Reputation(c *gin.Context) {
	agentDID := c.Param("agent_id")
	if !did.IsValid(agentDID) {
		respondError(c, http.StatusBadRequest, "VALIDATION", "malformed agent DID")
		return
	}
	profile, err := h.ledger.Profile(c.Request.Context(), agentDID)
	if err != nil {
		respondTegErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"agent_did":        profile.AgentDID,
		"reputation_score": profile.ReputationScore,
	})
}

type stakeRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// Stake handles POST /agent/stake.
func (h *TEGHandler) Stake(c *gin.Context) {
	agentDID, ok := callerDID(c)
	if !ok {
		return
	}
	var req stakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION", "amount must be a decimal string")
		return
	}

	stake, err := h.ledger.Stake(c.Request.Context(), agentDID, amount)
	if err != nil {
		respondTegErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, stake)
}

type unstakeRequest struct {
	StakeID string `json:"stake_id" binding:"required"`
}

// Unstake handles POST /agent/unstake: starts the notice period.
func (h *TEGHandler) Unstake(c *gin.Context) {
	agentDID, ok := callerDID(c)
	if !ok {
		return
	}
	var req unstakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	stakeID, err := uuid.Parse(req.StakeID)
	if err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION", "malformed stake_id")
		return
	}

	stake, err := h.ledger.Unstake(c.Request.Context(), agentDID, stakeID)
	if err != nil {
		respondTegErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stake)
}

// Stakes handles GET /agent/stakes.
func (h *TEGHandler) Stakes(c *gin.Context) {
	agentDID, ok := callerDID(c)
	if !ok {
		return
	}
	stakes, err := h.ledger.ListStakes(c.Request.Context(), agentDID)
	if err != nil {
		respondTegErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stakes": stakes})
}

type delegateRequest struct {
	StakeID        string `json:"stake_id"         binding:"required"`
	ValidatorDID   string `json:"validator_did"    binding:"required"`
	Amount         string `json:"amount"           binding:"required"`
	RewardSharePct int    `json:"reward_share_pct"`
}

// Delegate handles POST /agent/delegate.
func (h *TEGHandler) Delegate(c *gin.Context) {
	agentDID, ok := callerDID(c)
	if !ok {
		return
	}
	var req delegateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	stakeID, err := uuid.Parse(req.StakeID)
	if err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION", "malformed stake_id")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION", "amount must be a decimal string")
		return
	}

	deleg, err := h.ledger.Delegate(c.Request.Context(), agentDID, stakeID, req.ValidatorDID, amount, req.RewardSharePct)
	if err != nil {
		respondTegErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, deleg)
}

// EndDelegation handles POST /agent/delegations/:id/end.
func (h *TEGHandler) EndDelegation(c *gin.Context) {
	agentDID, ok := callerDID(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.ledger.EndDelegation(c.Request.Context(), agentDID, id); err != nil {
		respondTegErr(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type attestationRequest struct {
	PolicyCode     string `json:"policy_code" binding:"required"`
	Data           string `json:"data"        binding:"required"`
	StoragePointer string `json:"storage_pointer"`
	ZKP            string `json:"zkp"`
}

// SubmitAttestation handles POST /attestation/submit.
func (h *TEGHandler) SubmitAttestation(c *gin.Context) {
	agentDID, ok := callerDID(c)
	if !ok {
		return
	}
	var req attestationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	sub, err := h.ledger.SubmitAttestation(c.Request.Context(), agentDID, req.PolicyCode, req.Data, req.StoragePointer, req.ZKP)
	if err != nil {
		respondTegErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

type fileDisputeRequest struct {
	DefendantDID    string `json:"defendant_did" binding:"required"`
	RelatedTxID     string `json:"related_tx_id"`
	ReasonCode      string `json:"reason_code"   binding:"required"`
	EvidencePointer string `json:"evidence_pointer"`
}

// FileDispute handles POST /dispute/file. Filing locks the filing fee and
// evidence stake into escrow.
func (h *TEGHandler) FileDispute(c *gin.Context) {
	claimantDID, ok := callerDID(c)
	if !ok {
		return
	}
	var req fileDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	var relatedTx *uuid.UUID
	if req.RelatedTxID != "" {
		id, err := uuid.Parse(req.RelatedTxID)
		if err != nil {
			respondError(c, http.StatusBadRequest, "VALIDATION", "malformed related_tx_id")
			return
		}
		relatedTx = &id
	}

	dispute, err := h.ledger.FileDispute(c.Request.Context(), claimantDID, req.DefendantDID, relatedTx, req.ReasonCode, req.EvidencePointer)
	if err != nil {
		respondTegErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, dispute)
}

// GetDispute handles GET /dispute/:id.
func (h *TEGHandler) GetDispute(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	dispute, err := h.ledger.GetDispute(c.Request.Context(), id)
	if err != nil {
		respondTegErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

func respondTegErr(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, teg.ErrProfileNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "ledger profile not found")
	case errors.Is(err, teg.ErrTransactionNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "transaction not found")
	case errors.Is(err, teg.ErrStakeNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "stake not found")
	case errors.Is(err, teg.ErrDelegationNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "delegation not found")
	case errors.Is(err, teg.ErrDisputeNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "dispute not found")
	case errors.Is(err, teg.ErrPolicyNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "attestation policy not found")
	case errors.Is(err, teg.ErrInsufficientBalance):
		respondError(c, http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE", "insufficient spendable balance")
	case errors.Is(err, teg.ErrAccountSuspended):
		respondError(c, http.StatusForbidden, "ACCOUNT_SUSPENDED", "ledger account is suspended")
	case errors.Is(err, teg.ErrIdempotencyConflict):
		respondError(c, http.StatusConflict, "IDEMPOTENCY_CONFLICT", "idempotency key reused with different parameters")
	case errors.Is(err, teg.ErrNotSender):
		respondError(c, http.StatusForbidden, "NOT_SENDER", "only the transaction sender may signal")
	case errors.Is(err, teg.ErrSignalApplied):
		respondError(c, http.StatusConflict, "SIGNAL_APPLIED", "reputation signal already applied")
	case errors.Is(err, teg.ErrNotStakeOwner):
		respondError(c, http.StatusForbidden, "NOT_OWNER", "caller does not own this stake")
	case errors.Is(err, teg.ErrCooldownActive):
		respondError(c, http.StatusConflict, "COOLDOWN_ACTIVE", "attestation cooldown has not elapsed")
	case errors.Is(err, teg.ErrPolicyInactive):
		respondError(c, http.StatusConflict, "POLICY_INACTIVE", "attestation policy is not active")
	case errors.Is(err, teg.ErrDisputeTerminal):
		respondError(c, http.StatusConflict, "DISPUTE_RESOLVED", "dispute already resolved")
	case errors.Is(err, teg.ErrSelfTransfer),
		errors.Is(err, teg.ErrSelfDispute),
		errors.Is(err, teg.ErrInvalidAmount),
		errors.Is(err, teg.ErrInvalidSignal),
		errors.Is(err, teg.ErrNotTransfer),
		errors.Is(err, teg.ErrBelowMinStake),
		errors.Is(err, teg.ErrStakeNotActive),
		errors.Is(err, teg.ErrOverDelegated),
		errors.Is(err, teg.ErrInvalidSharePct),
		errors.Is(err, teg.ErrDelegationNotOpen),
		errors.Is(err, teg.ErrInvalidOutcome):
		respondError(c, http.StatusBadRequest, "VALIDATION", err.Error())
	default:
		logger.Error("ledger operation", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "ledger operation failed")
	}
}
