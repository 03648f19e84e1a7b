package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentvault/agentvault/internal/federation"
	"github.com/agentvault/agentvault/internal/identity"
	"github.com/agentvault/agentvault/internal/registry/model"
	"github.com/agentvault/agentvault/internal/registry/repository"
	"github.com/agentvault/agentvault/internal/registry/service"
)

// agentSvc is the catalog surface AgentHandler needs; *service.AgentService
// satisfies it.
type agentSvc interface {
	Register(ctx context.Context, developerID uuid.UUID, req *model.RegisterAgentRequest) (*model.AgentCard, error)
	Get(ctx context.Context, id uuid.UUID) (*model.AgentCard, error)
	Search(ctx context.Context, f model.SearchFilter) ([]*model.AgentCard, int, error)
	ListByDeveloper(ctx context.Context, developerID uuid.UUID, limit, offset int) ([]*model.AgentCard, error)
	Update(ctx context.Context, id, callerID uuid.UUID, isAdmin bool, req *model.UpdateAgentRequest) (*model.AgentCard, error)
	Delete(ctx context.Context, id, callerID uuid.UUID, isAdmin bool) error
}

// federatedSearcher runs cross-registry discovery; *federation.Service
// satisfies it.
type federatedSearcher interface {
	Search(ctx context.Context, filter model.SearchFilter, local []model.AgentCard) ([]federation.FederatedAgent, federation.SearchStats, error)
}

// AgentHandler serves the agent catalog and discovery routes.
type AgentHandler struct {
	agents     agentSvc
	federation federatedSearcher
	logger     *zap.Logger
}

func NewAgentHandler(agents agentSvc, fed federatedSearcher, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{agents: agents, federation: fed, logger: logger}
}

// Register mounts the catalog routes on an authenticated group.
func (h *AgentHandler) Register(rg *gin.RouterGroup) {
	agents := rg.Group("/agents")
	{
		agents.GET("", h.List)
		agents.POST("", h.Create)
		agents.GET("/:id", h.Get)
		agents.PUT("/:id", h.Update)
		agents.DELETE("/:id", h.Delete)
	}
	rg.GET("/discovery/agents", h.Discover)
}

// RegisterPublic mounts the peer-facing search route queried by federated
// registries with their API keys.
func (h *AgentHandler) RegisterPublic(rg *gin.RouterGroup) {
	rg.GET("/agent-cards", h.PeerSearch)
}

// Create handles POST /agents.
func (h *AgentHandler) Create(c *gin.Context) {
	devID, ok := developerUUID(c)
	if !ok {
		return
	}

	var req model.RegisterAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	card, err := h.agents.Register(c.Request.Context(), devID, &req)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateName) {
			respondError(c, http.StatusConflict, "DUPLICATE_NAME", "an agent with this name already exists")
			return
		}
		if strings.Contains(err.Error(), "invalid agent card") {
			respondErrorDetail(c, http.StatusBadRequest, "VALIDATION", "agent card failed validation", err.Error())
			return
		}
		h.logger.Error("create agent", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "agent registration failed")
		return
	}
	c.JSON(http.StatusCreated, card)
}

// List handles GET /agents: the caller's own agents.
func (h *AgentHandler) List(c *gin.Context) {
	devID, ok := developerUUID(c)
	if !ok {
		return
	}
	limit, offset := pageParams(c)

	cards, err := h.agents.ListByDeveloper(c.Request.Context(), devID, limit, offset)
	if err != nil {
		h.logger.Error("list agents", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "listing failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": cards, "limit": limit, "offset": offset})
}

// Get handles GET /agents/:id.
func (h *AgentHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	card, err := h.agents.Get(c.Request.Context(), id)
	if err != nil {
		respondAgentErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, card)
}

// Update handles PUT /agents/:id. Status changes ride on the same partial
// update payload.
func (h *AgentHandler) Update(c *gin.Context) {
	devID, ok := developerUUID(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req model.UpdateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	card, err := h.agents.Update(c.Request.Context(), id, devID, identity.PrincipalFromCtx(c).IsAdmin(), &req)
	if err != nil {
		if strings.Contains(err.Error(), "invalid agent card") {
			respondErrorDetail(c, http.StatusBadRequest, "VALIDATION", "agent card failed validation", err.Error())
			return
		}
		respondAgentErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, card)
}

// Delete handles DELETE /agents/:id.
func (h *AgentHandler) Delete(c *gin.Context) {
	devID, ok := developerUUID(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.agents.Delete(c.Request.Context(), id, devID, identity.PrincipalFromCtx(c).IsAdmin()); err != nil {
		respondAgentErr(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Discover handles GET /discovery/agents. With include_federated=true the
// local results are merged with peer-registry results.
func (h *AgentHandler) Discover(c *gin.Context) {
	filter := filterFromQuery(c)

	local, total, err := h.agents.Search(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("discovery search", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "search failed")
		return
	}

	if c.Query("include_federated") != "true" || h.federation == nil {
		c.JSON(http.StatusOK, gin.H{
			"agents": local,
			"total":  total,
			"limit":  filter.Limit,
			"offset": filter.Offset,
		})
		return
	}

	localCards := make([]model.AgentCard, len(local))
	for i := range local {
		localCards[i] = *local[i]
	}
	merged, stats, err := h.federation.Search(c.Request.Context(), filter, localCards)
	if err != nil {
		h.logger.Error("federated search", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "federated search failed")
		return
	}
	recordFederationStats(stats.CacheHits, stats.PeersSuccessful, stats.PeersFailed)

	c.JSON(http.StatusOK, gin.H{
		"agents":     merged,
		"total":      total,
		"limit":      filter.Limit,
		"offset":     filter.Offset,
		"federation": stats,
	})
}

// PeerSearch handles GET /agent-cards for peer registries. Only active
// agents are exposed.
func (h *AgentHandler) PeerSearch(c *gin.Context) {
	filter := filterFromQuery(c)
	filter.Status = model.AgentStatusActive

	cards, _, err := h.agents.Search(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("peer search", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "search failed")
		return
	}
	out := make([]model.AgentCard, len(cards))
	for i := range cards {
		out[i] = *cards[i]
	}
	c.JSON(http.StatusOK, gin.H{"agents": out})
}

func filterFromQuery(c *gin.Context) model.SearchFilter {
	limit, offset := pageParams(c)
	f := model.SearchFilter{
		Query:     c.Query("query"),
		AgentType: c.Query("agent_type"),
		Status:    model.AgentStatus(c.Query("status")),
		Sort:      c.Query("sort"),
		Limit:     limit,
		Offset:    offset,
	}
	if caps := c.Query("capabilities"); caps != "" {
		f.Capabilities = strings.Split(caps, ",")
	}
	f.Normalize()
	return f
}

func pageParams(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION", "malformed "+name+" parameter")
		return uuid.Nil, false
	}
	return id, true
}

// developerUUID extracts the caller's developer ID from the verified
// principal.
func developerUUID(c *gin.Context) (uuid.UUID, bool) {
	p := identity.PrincipalFromCtx(c)
	if p == nil || p.DeveloperID == "" {
		respondError(c, http.StatusUnauthorized, "AUTH_MISSING_TOKEN", "developer session required")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(p.DeveloperID)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "AUTH_INVALID_TOKEN", "malformed principal")
		return uuid.Nil, false
	}
	return id, true
}

func respondAgentErr(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "agent not found")
	case errors.Is(err, service.ErrNotOwner):
		respondError(c, http.StatusForbidden, "NOT_OWNER", "caller does not own this agent")
	default:
		logger.Error("agent operation", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "operation failed")
	}
}
