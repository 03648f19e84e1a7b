package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger reports whether a backing store is reachable; *pgxpool.Pool
// satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness probe.
type HealthHandler struct {
	db       Pinger
	peers    peerSvc
	cfgValid bool
}

func NewHealthHandler(db Pinger, peers peerSvc, cfgValid bool) *HealthHandler {
	return &HealthHandler{db: db, peers: peers, cfgValid: cfgValid}
}

// Register mounts GET /health. No auth; load balancers hit this.
func (h *HealthHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/health", h.Health)
}

// Health handles GET /health. Degraded dependencies flip the status but
// the route still answers 200 so probes distinguish "degraded" from
// "down".
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	status := "ok"

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			checks["database"] = "unreachable"
			status = "degraded"
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not configured"
	}

	if h.cfgValid {
		checks["configuration"] = "ok"
	} else {
		checks["configuration"] = "invalid"
		status = "degraded"
	}

	if h.peers != nil {
		peers, err := h.peers.ListPeers(ctx)
		if err != nil {
			checks["federation"] = "unreachable"
			status = "degraded"
		} else {
			checks["federation"] = gin.H{"peers": len(peers)}
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": status, "checks": checks})
}
