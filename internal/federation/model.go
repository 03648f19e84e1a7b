// Package federation manages peer registries and cross-registry discovery:
// peer CRUD with encrypted API keys, cached parallel federated search, and
// a periodic peer health monitor.
package federation

import (
	"time"

	"github.com/google/uuid"

	"github.com/agentvault/agentvault/internal/registry/model"
)

// PeerStatus is the administrative state of a peer registry.
type PeerStatus string

const (
	PeerActive   PeerStatus = "active"
	PeerInactive PeerStatus = "inactive"
)

// HealthStatus is the last observed probe result for a peer.
type HealthStatus string

const (
	HealthHealthy     HealthStatus = "healthy"
	HealthDegraded    HealthStatus = "degraded"
	HealthUnreachable HealthStatus = "unreachable"
	HealthUnknown     HealthStatus = "unknown"
)

// Peer is a remote registry this node queries during federated discovery.
// The API key is stored encrypted and never leaves the service decrypted
// except on outbound peer requests.
type Peer struct {
	ID              uuid.UUID    `json:"peer_id"`
	Name            string       `json:"name"`
	RegistryURL     string       `json:"registry_url"`
	APIKeyEncrypted []byte       `json:"-"`
	Status          PeerStatus   `json:"status"`
	HealthStatus    HealthStatus `json:"health_status"`
	LastHealthCheck *time.Time   `json:"last_health_check,omitempty"`
	LatencyMS       int          `json:"latency_ms"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// FederatedAgent is an agent card found during discovery, tagged with its
// origin. Local results carry IsFederated=false and empty origin fields.
type FederatedAgent struct {
	model.AgentCard
	IsFederated        bool   `json:"is_federated"`
	OriginRegistryName string `json:"origin_registry_name,omitempty"`
	OriginRegistryURL  string `json:"origin_registry_url,omitempty"`
}

// SearchStats summarizes one federated fan-out.
type SearchStats struct {
	PeersQueried    int `json:"queried"`
	PeersSuccessful int `json:"successful"`
	PeersFailed     int `json:"failed"`
	CacheHits       int `json:"cache_hits"`
}
