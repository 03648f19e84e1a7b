package handler_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentvault/agentvault/internal/federation"
	"github.com/agentvault/agentvault/internal/identity"
	"github.com/agentvault/agentvault/internal/registry/handler"
)

type stubPeerSvc struct {
	peers     map[uuid.UUID]*federation.Peer
	addErr    error
	updateErr error
}

func newStubPeerSvc() *stubPeerSvc {
	return &stubPeerSvc{peers: make(map[uuid.UUID]*federation.Peer)}
}

func (s *stubPeerSvc) AddPeer(_ context.Context, name, registryURL, _ string) (*federation.Peer, error) {
	if s.addErr != nil {
		return nil, s.addErr
	}
	p := &federation.Peer{
		ID:           uuid.New(),
		Name:         name,
		RegistryURL:  registryURL,
		Status:       federation.PeerActive,
		HealthStatus: federation.HealthUnknown,
	}
	s.peers[p.ID] = p
	return p, nil
}

func (s *stubPeerSvc) UpdatePeer(_ context.Context, id uuid.UUID, upd federation.PeerUpdate) (*federation.Peer, error) {
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	p, ok := s.peers[id]
	if !ok {
		return nil, federation.ErrPeerNotFound
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Status != nil {
		p.Status = *upd.Status
	}
	return p, nil
}

func (s *stubPeerSvc) RemovePeer(_ context.Context, id uuid.UUID) error {
	if _, ok := s.peers[id]; !ok {
		return federation.ErrPeerNotFound
	}
	delete(s.peers, id)
	return nil
}

func (s *stubPeerSvc) GetPeer(_ context.Context, id uuid.UUID) (*federation.Peer, error) {
	p, ok := s.peers[id]
	if !ok {
		return nil, federation.ErrPeerNotFound
	}
	return p, nil
}

func (s *stubPeerSvc) ListPeers(_ context.Context) ([]*federation.Peer, error) {
	out := make([]*federation.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out, nil
}

func setupFederationRouter(t *testing.T, svc *stubPeerSvc) (*gin.Engine, *identity.TokenIssuer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens := testIssuer(t)
	h := handler.NewFederationHandler(svc, zap.NewNop())

	router := gin.New()
	v1 := router.Group("/api/v1")
	admin := v1.Group("")
	admin.Use(identity.RequireAdmin(tokens))
	h.Register(admin)
	return router, tokens
}

func adminAuth(t *testing.T, tokens *identity.TokenIssuer) map[string]string {
	t.Helper()
	token, err := tokens.IssueDeveloper(uuid.NewString(), "root@example.com", "admin")
	if err != nil {
		t.Fatalf("issue admin token: %v", err)
	}
	return bearer(token)
}

func TestPeerRoutesRequireAdmin(t *testing.T) {
	router, tokens := setupFederationRouter(t, newStubPeerSvc())

	w := doJSON(t, router, http.MethodGet, "/api/v1/federation/peers", nil, nil)
	wantStatus(t, w, http.StatusUnauthorized)

	// A plain developer token is not enough.
	devToken, err := tokens.IssueDeveloper(uuid.NewString(), "alice@example.com", "developer")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	w = doJSON(t, router, http.MethodGet, "/api/v1/federation/peers", nil, bearer(devToken))
	wantStatus(t, w, http.StatusForbidden)
}

func TestAddAndGetPeer(t *testing.T) {
	router, tokens := setupFederationRouter(t, newStubPeerSvc())
	headers := adminAuth(t, tokens)

	w := doJSON(t, router, http.MethodPost, "/api/v1/federation/peers", map[string]string{
		"name":         "partner",
		"registry_url": "https://registry.partner.example.com",
		"api_key":      "pk_secret",
	}, headers)
	wantStatus(t, w, http.StatusCreated)

	body := decodeBody(t, w)
	peerID, _ := body["peer_id"].(string)
	if body["name"] != "partner" {
		t.Fatalf("name = %v", body["name"])
	}
	if _, hasKey := body["api_key"]; hasKey {
		t.Fatal("API key must never appear in responses")
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/federation/peers/"+peerID, nil, headers)
	wantStatus(t, w, http.StatusOK)
}

func TestAddPeerErrors(t *testing.T) {
	svc := newStubPeerSvc()
	svc.addErr = federation.ErrDuplicateURL
	router, tokens := setupFederationRouter(t, svc)

	w := doJSON(t, router, http.MethodPost, "/api/v1/federation/peers", map[string]string{
		"name":         "partner",
		"registry_url": "https://registry.partner.example.com",
		"api_key":      "pk_secret",
	}, adminAuth(t, tokens))
	wantStatus(t, w, http.StatusConflict)
	wantErrorCode(t, w, "DUPLICATE_PEER")

	svc.addErr = federation.ErrInvalidRegistryURL
	w = doJSON(t, router, http.MethodPost, "/api/v1/federation/peers", map[string]string{
		"name":         "partner",
		"registry_url": "not-a-url",
		"api_key":      "pk_secret",
	}, adminAuth(t, tokens))
	wantStatus(t, w, http.StatusBadRequest)
}

func TestUpdateAndRemovePeer(t *testing.T) {
	svc := newStubPeerSvc()
	router, tokens := setupFederationRouter(t, svc)
	headers := adminAuth(t, tokens)

	peer, _ := svc.AddPeer(context.Background(), "partner", "https://registry.partner.example.com", "pk")

	w := doJSON(t, router, http.MethodPut, "/api/v1/federation/peers/"+peer.ID.String(),
		map[string]string{"name": "renamed"}, headers)
	wantStatus(t, w, http.StatusOK)
	if decodeBody(t, w)["name"] != "renamed" {
		t.Fatalf("rename failed: %s", w.Body.String())
	}

	w = doJSON(t, router, http.MethodDelete, "/api/v1/federation/peers/"+peer.ID.String(), nil, headers)
	wantStatus(t, w, http.StatusNoContent)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/federation/peers/"+peer.ID.String(), nil, headers)
	wantStatus(t, w, http.StatusNotFound)
}

func TestFederationHealthReport(t *testing.T) {
	svc := newStubPeerSvc()
	peer, _ := svc.AddPeer(context.Background(), "partner", "https://registry.partner.example.com", "pk")
	now := time.Now().UTC()
	peer.HealthStatus = federation.HealthDegraded
	peer.LastHealthCheck = &now
	peer.LatencyMS = 250

	router, tokens := setupFederationRouter(t, svc)
	w := doJSON(t, router, http.MethodGet, "/api/v1/federation/health", nil, adminAuth(t, tokens))
	wantStatus(t, w, http.StatusOK)

	peers, _ := decodeBody(t, w)["peers"].([]any)
	if len(peers) != 1 {
		t.Fatalf("peers = %d, want 1", len(peers))
	}
	entry, _ := peers[0].(map[string]any)
	if entry["health_status"] != "degraded" {
		t.Fatalf("health_status = %v", entry["health_status"])
	}
	if entry["latency_ms"] != float64(250) {
		t.Fatalf("latency_ms = %v", entry["latency_ms"])
	}
}
