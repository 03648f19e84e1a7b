package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentvault/agentvault/internal/federation"
)

// peerSvc is the admin surface FederationHandler needs;
// *federation.Service satisfies it.
type peerSvc interface {
	AddPeer(ctx context.Context, name, registryURL, apiKey string) (*federation.Peer, error)
	UpdatePeer(ctx context.Context, id uuid.UUID, upd federation.PeerUpdate) (*federation.Peer, error)
	RemovePeer(ctx context.Context, id uuid.UUID) error
	GetPeer(ctx context.Context, id uuid.UUID) (*federation.Peer, error)
	ListPeers(ctx context.Context) ([]*federation.Peer, error)
}

// FederationHandler serves admin-only peer management routes.
type FederationHandler struct {
	peers  peerSvc
	logger *zap.Logger
}

func NewFederationHandler(peers peerSvc, logger *zap.Logger) *FederationHandler {
	return &FederationHandler{peers: peers, logger: logger}
}

// Register mounts the federation routes on an admin-only group.
func (h *FederationHandler) Register(rg *gin.RouterGroup) {
	fed := rg.Group("/federation")
	{
		fed.GET("/peers", h.List)
		fed.POST("/peers", h.Add)
		fed.GET("/peers/:id", h.Get)
		fed.PUT("/peers/:id", h.Update)
		fed.DELETE("/peers/:id", h.Remove)
		fed.GET("/health", h.Health)
	}
}

type addPeerRequest struct {
	Name        string `json:"name"         binding:"required"`
	RegistryURL string `json:"registry_url" binding:"required"`
	APIKey      string `json:"api_key"      binding:"required"`
}

type updatePeerRequest struct {
	Name        *string                `json:"name"`
	RegistryURL *string                `json:"registry_url"`
	APIKey      *string                `json:"api_key"`
	Status      *federation.PeerStatus `json:"status"`
}

// Add handles POST /federation/peers.
func (h *FederationHandler) Add(c *gin.Context) {
	var req addPeerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	peer, err := h.peers.AddPeer(c.Request.Context(), req.Name, req.RegistryURL, req.APIKey)
	if err != nil {
		respondPeerErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, peer)
}

// List handles GET /federation/peers.
func (h *FederationHandler) List(c *gin.Context) {
	peers, err := h.peers.ListPeers(c.Request.Context())
	if err != nil {
		h.logger.Error("list peers", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "listing failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"peers": peers})
}

// Get handles GET /federation/peers/:id.
func (h *FederationHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	peer, err := h.peers.GetPeer(c.Request.Context(), id)
	if err != nil {
		respondPeerErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, peer)
}

// Update handles PUT /federation/peers/:id.
func (h *FederationHandler) Update(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req updatePeerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	peer, err := h.peers.UpdatePeer(c.Request.Context(), id, federation.PeerUpdate{
		Name:        req.Name,
		RegistryURL: req.RegistryURL,
		APIKey:      req.APIKey,
		Status:      req.Status,
	})
	if err != nil {
		respondPeerErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, peer)
}

// Remove handles DELETE /federation/peers/:id.
func (h *FederationHandler) Remove(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.peers.RemovePeer(c.Request.Context(), id); err != nil {
		respondPeerErr(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Health handles GET /federation/health: last observed probe results for
// every peer.
func (h *FederationHandler) Health(c *gin.Context) {
	peers, err := h.peers.ListPeers(c.Request.Context())
	if err != nil {
		h.logger.Error("federation health", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "listing failed")
		return
	}

	type peerHealth struct {
		PeerID          uuid.UUID               `json:"peer_id"`
		Name            string                  `json:"name"`
		Status          federation.PeerStatus   `json:"status"`
		HealthStatus    federation.HealthStatus `json:"health_status"`
		LastHealthCheck any                     `json:"last_health_check"`
		LatencyMS       int                     `json:"latency_ms"`
	}
	out := make([]peerHealth, len(peers))
	for i, p := range peers {
		out[i] = peerHealth{
			PeerID:          p.ID,
			Name:            p.Name,
			Status:          p.Status,
			HealthStatus:    p.HealthStatus,
			LastHealthCheck: p.LastHealthCheck,
			LatencyMS:       p.LatencyMS,
		}
	}
	c.JSON(http.StatusOK, gin.H{"peers": out})
}

func respondPeerErr(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, federation.ErrPeerNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "peer not found")
	case errors.Is(err, federation.ErrDuplicateURL):
		respondError(c, http.StatusConflict, "DUPLICATE_PEER", "a peer with this registry URL already exists")
	case errors.Is(err, federation.ErrInvalidRegistryURL), errors.Is(err, federation.ErrPeerNameRequired):
		respondError(c, http.StatusBadRequest, "VALIDATION", err.Error())
	default:
		logger.Error("peer operation", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "operation failed")
	}
}
