package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentvault/agentvault/internal/identity"
	"github.com/agentvault/agentvault/internal/registry/model"
	"github.com/agentvault/agentvault/internal/registry/repository"
	"github.com/agentvault/agentvault/internal/registry/service"
)

// BootstrapTokenHeader carries the single-use token during redemption.
const BootstrapTokenHeader = "X-Bootstrap-Token"

// onboardSvc is the surface OnboardHandler needs; *service.OnboardService
// satisfies it.
type onboardSvc interface {
	IssueToken(ctx context.Context, createdBy uuid.UUID, agentType string) (string, *model.BootstrapToken, error)
	Redeem(ctx context.Context, plaintext, agentName, didMethod string) (*model.OnboardResult, error)
	VerifyClientCredentials(ctx context.Context, clientID, clientSecret string) (*model.AgentCredential, error)
}

// OnboardHandler serves bootstrap-token issuance, redemption, and the
// OAuth2 client-credentials token endpoint for agents.
type OnboardHandler struct {
	onboard onboardSvc
	tokens  *identity.TokenIssuer
	logger  *zap.Logger
}

func NewOnboardHandler(onboard onboardSvc, tokens *identity.TokenIssuer, logger *zap.Logger) *OnboardHandler {
	return &OnboardHandler{onboard: onboard, tokens: tokens, logger: logger}
}

// RegisterAuthed mounts routes that require a developer session.
func (h *OnboardHandler) RegisterAuthed(rg *gin.RouterGroup, limits *RateLimits) {
	rg.POST("/onboard/bootstrap/request-token", limits.Bootstrap(), h.RequestToken)
}

// RegisterPublic mounts routes authenticated by bootstrap token or client
// credentials rather than a bearer session.
func (h *OnboardHandler) RegisterPublic(rg *gin.RouterGroup, limits *RateLimits) {
	rg.POST("/onboard/register", limits.Onboard(), h.RedeemToken)
	rg.POST("/onboard/token", limits.Unauthed(), h.AgentToken)
}

type requestTokenRequest struct {
	AgentType string `json:"agent_type"`
}

// RequestToken handles POST /onboard/bootstrap/request-token.
func (h *OnboardHandler) RequestToken(c *gin.Context) {
	devID, ok := developerUUID(c)
	if !ok {
		return
	}

	var req requestTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		respondBindError(c, err)
		return
	}

	plaintext, token, err := h.onboard.IssueToken(c.Request.Context(), devID, req.AgentType)
	if err != nil {
		if errors.Is(err, service.ErrTokenRateLimited) {
			tooManyRequests(c)
			return
		}
		h.logger.Error("issue bootstrap token", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "token issuance failed")
		return
	}

	// The plaintext is shown exactly once; only its hash is stored.
	c.JSON(http.StatusCreated, gin.H{
		"bootstrap_token": plaintext,
		"token_id":        token.ID,
		"expires_at":      token.ExpiresAt,
	})
}

type redeemRequest struct {
	AgentName string `json:"agent_name"`
	DIDMethod string `json:"did_method"`
}

// RedeemToken handles POST /onboard/register. The bootstrap token arrives
// in a header, not the body, so it never lands in request logs; the body
// names the agent being registered.
func (h *OnboardHandler) RedeemToken(c *gin.Context) {
	plaintext := c.GetHeader(BootstrapTokenHeader)
	if plaintext == "" {
		respondError(c, http.StatusUnauthorized, "BOOTSTRAP_TOKEN_MISSING", BootstrapTokenHeader+" header is required")
		return
	}

	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		respondBindError(c, err)
		return
	}

	result, err := h.onboard.Redeem(c.Request.Context(), plaintext, req.AgentName, req.DIDMethod)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAgentNameRequired), errors.Is(err, service.ErrUnsupportedDIDMethod):
			respondError(c, http.StatusBadRequest, "VALIDATION", err.Error())
		case errors.Is(err, repository.ErrTokenNotFound):
			respondError(c, http.StatusUnauthorized, "BOOTSTRAP_TOKEN_INVALID", "bootstrap token not recognized")
		case errors.Is(err, repository.ErrTokenUsed):
			respondError(c, http.StatusConflict, "BOOTSTRAP_TOKEN_USED", "bootstrap token already redeemed")
		case errors.Is(err, repository.ErrTokenExpired):
			respondError(c, http.StatusUnauthorized, "BOOTSTRAP_TOKEN_EXPIRED", "bootstrap token expired")
		case errors.Is(err, repository.ErrDuplicateName):
			respondError(c, http.StatusConflict, "DUPLICATE_NAME", "an agent with this name already exists")
		default:
			h.logger.Error("redeem bootstrap token", zap.Error(err))
			respondError(c, http.StatusInternalServerError, "INTERNAL", "redemption failed")
		}
		return
	}

	// client_secret is returned once and never retrievable again.
	c.JSON(http.StatusCreated, result)
}

// AgentToken handles POST /onboard/token: the OAuth2 client-credentials
// grant exchanging an agent's client_id/client_secret for a bearer token.
func (h *OnboardHandler) AgentToken(c *gin.Context) {
	clientID, clientSecret := clientCredentials(c)
	if clientID == "" || clientSecret == "" {
		respondError(c, http.StatusBadRequest, "VALIDATION", "client_id and client_secret are required")
		return
	}

	cred, err := h.onboard.VerifyClientCredentials(c.Request.Context(), clientID, clientSecret)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "INVALID_CLIENT", "client authentication failed")
		return
	}

	token, err := h.tokens.IssueAgent(cred.AgentDID, cred.DeveloperID.String())
	if err != nil {
		h.logger.Error("issue agent token", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "token issuance failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(h.tokens.AgentTTL().Seconds()),
	})
}

// clientCredentials accepts both form-encoded bodies (per RFC 6749) and
// JSON bodies.
func clientCredentials(c *gin.Context) (string, string) {
	if id := c.PostForm("client_id"); id != "" {
		return id, c.PostForm("client_secret")
	}
	var body struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		return "", ""
	}
	return body.ClientID, body.ClientSecret
}
