package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentvault/agentvault/internal/developers"
	"github.com/agentvault/agentvault/internal/identity"
)

// developerSvc is the surface AuthHandler needs; *developers.Service
// satisfies it.
type developerSvc interface {
	Register(ctx context.Context, email, password, name string) (*developers.Developer, error)
	Login(ctx context.Context, email, password string) (*developers.Developer, error)
	GetByID(ctx context.Context, id uuid.UUID) (*developers.Developer, error)
	MintAPIKey(ctx context.Context, developerID uuid.UUID, name string, scopes []string, ttl time.Duration) (*developers.APIKey, string, error)
	ListAPIKeys(ctx context.Context, developerID uuid.UUID) ([]*developers.APIKey, error)
	RevokeAPIKey(ctx context.Context, keyID, developerID uuid.UUID) error
}

// AuthHandler serves developer registration, login, and session refresh.
type AuthHandler struct {
	devs   developerSvc
	tokens *identity.TokenIssuer
	logger *zap.Logger
}

func NewAuthHandler(devs developerSvc, tokens *identity.TokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{devs: devs, tokens: tokens, logger: logger}
}

// Register mounts the auth routes. Rate limiting is applied by the router.
func (h *AuthHandler) Register(rg *gin.RouterGroup, limits *RateLimits) {
	auth := rg.Group("/auth")
	{
		auth.POST("/register", limits.Register(), h.RegisterDeveloper)
		auth.POST("/login", limits.Login(), h.Login)
		auth.POST("/refresh", limits.Unauthed(), h.Refresh)
	}
}

// RegisterProfile mounts the authenticated profile and API-key routes.
func (h *AuthHandler) RegisterProfile(rg *gin.RouterGroup) {
	rg.GET("/developers/me", h.Me)

	keys := rg.Group("/auth/api-keys")
	{
		keys.POST("", h.CreateAPIKey)
		keys.GET("", h.ListAPIKeys)
		keys.DELETE("/:id", h.RevokeAPIKey)
	}
}

type registerRequest struct {
	Email    string `json:"email"    binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name"     binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email"    binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterDeveloper handles POST /auth/register.
func (h *AuthHandler) RegisterDeveloper(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	dev, err := h.devs.Register(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		if errors.Is(err, developers.ErrDuplicateEmail) {
			respondError(c, http.StatusConflict, "DUPLICATE_EMAIL", "email already registered")
			return
		}
		h.logger.Error("developer register", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "registration failed")
		return
	}

	token, err := h.tokens.IssueDeveloper(dev.ID.String(), dev.Email, string(dev.Role))
	if err != nil {
		h.logger.Error("issue token after register", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "token issuance failed")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"developer": dev, "token": token})
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	dev, err := h.devs.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, developers.ErrSuspended) {
			respondError(c, http.StatusForbidden, "ACCOUNT_SUSPENDED", "account is suspended")
			return
		}
		// Wrong email and wrong password are indistinguishable on purpose.
		respondError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password")
		return
	}

	token, err := h.tokens.IssueDeveloper(dev.ID.String(), dev.Email, string(dev.Role))
	if err != nil {
		h.logger.Error("issue token after login", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "token issuance failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"developer": dev, "token": token})
}

// Refresh handles POST /auth/refresh: a valid developer token yields a new
// one with a fresh expiry.
func (h *AuthHandler) Refresh(c *gin.Context) {
	raw, ok := bearerFromHeader(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "AUTH_MISSING_TOKEN", "bearer token required")
		return
	}
	token, err := h.tokens.Refresh(raw)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "AUTH_INVALID_TOKEN", "token is invalid or expired")
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

type createAPIKeyRequest struct {
	Name      string   `json:"name"`
	Scopes    []string `json:"scopes"`
	ExpiresIn int64    `json:"expires_in"` // seconds; 0 means no expiry
}

// CreateAPIKey handles POST /auth/api-keys. The plaintext key appears in
// the response and nowhere else.
func (h *AuthHandler) CreateAPIKey(c *gin.Context) {
	devID, ok := developerUUID(c)
	if !ok {
		return
	}

	var req createAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		respondBindError(c, err)
		return
	}
	if req.ExpiresIn < 0 {
		respondError(c, http.StatusBadRequest, "VALIDATION", "expires_in must not be negative")
		return
	}

	key, plain, err := h.devs.MintAPIKey(c.Request.Context(), devID, req.Name, req.Scopes, time.Duration(req.ExpiresIn)*time.Second)
	if err != nil {
		h.logger.Error("mint api key", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "api key creation failed")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"api_key": plain, "key": key})
}

// ListAPIKeys handles GET /auth/api-keys.
func (h *AuthHandler) ListAPIKeys(c *gin.Context) {
	devID, ok := developerUUID(c)
	if !ok {
		return
	}

	keys, err := h.devs.ListAPIKeys(c.Request.Context(), devID)
	if err != nil {
		h.logger.Error("list api keys", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "api key listing failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys, "count": len(keys)})
}

// RevokeAPIKey handles DELETE /auth/api-keys/:id. Only the owning account
// can revoke a key.
func (h *AuthHandler) RevokeAPIKey(c *gin.Context) {
	devID, ok := developerUUID(c)
	if !ok {
		return
	}
	keyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION", "key id must be a UUID")
		return
	}

	if err := h.devs.RevokeAPIKey(c.Request.Context(), keyID, devID); err != nil {
		if errors.Is(err, developers.ErrAPIKeyNotFound) {
			respondError(c, http.StatusNotFound, "NOT_FOUND", "api key not found")
			return
		}
		h.logger.Error("revoke api key", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "api key revocation failed")
		return
	}
	c.Status(http.StatusNoContent)
}

// Me handles GET /developers/me.
func (h *AuthHandler) Me(c *gin.Context) {
	p := identity.PrincipalFromCtx(c)
	if p == nil || p.DeveloperID == "" {
		respondError(c, http.StatusUnauthorized, "AUTH_MISSING_TOKEN", "developer session required")
		return
	}
	id, err := uuid.Parse(p.DeveloperID)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "AUTH_INVALID_TOKEN", "malformed principal")
		return
	}
	dev, err := h.devs.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "developer not found")
		return
	}
	c.JSON(http.StatusOK, dev)
}

func bearerFromHeader(c *gin.Context) (string, bool) {
	const prefix = "Bearer "
	h := c.GetHeader("Authorization")
	if len(h) <= len(prefix) {
		return "", false
	}
	return h[len(prefix):], true
}
