package federation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentvault/agentvault/internal/registry/model"
)

// memPeerStore is an in-memory PeerStore preserving insertion order.
type memPeerStore struct {
	mu    sync.Mutex
	peers []*Peer
}

func (m *memPeerStore) Create(_ context.Context, p *Peer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.peers {
		if existing.RegistryURL == p.RegistryURL {
			return ErrDuplicateURL
		}
	}
	cp := *p
	m.peers = append(m.peers, &cp)
	return nil
}

func (m *memPeerStore) GetByID(_ context.Context, id uuid.UUID) (*Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.peers {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPeerNotFound
}

func (m *memPeerStore) List(_ context.Context) ([]*Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Peer, len(m.peers))
	for i, p := range m.peers {
		cp := *p
		out[i] = &cp
	}
	return out, nil
}

func (m *memPeerStore) ListActive(ctx context.Context) ([]*Peer, error) {
	all, _ := m.List(ctx)
	var out []*Peer
	for _, p := range all {
		if p.Status == PeerActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPeerStore) Update(_ context.Context, p *Peer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.peers {
		if existing.ID == p.ID {
			cp := *p
			m.peers[i] = &cp
			return nil
		}
	}
	return ErrPeerNotFound
}

func (m *memPeerStore) UpdateHealth(_ context.Context, id uuid.UUID, status HealthStatus, latencyMS int, checkedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.peers {
		if p.ID == id {
			p.HealthStatus = status
			p.LatencyMS = latencyMS
			p.LastHealthCheck = &checkedAt
			return nil
		}
	}
	return ErrPeerNotFound
}

func (m *memPeerStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.peers {
		if p.ID == id {
			m.peers = append(m.peers[:i], m.peers[i+1:]...)
			return nil
		}
	}
	return ErrPeerNotFound
}

// stubSearchClient returns canned results per registry URL and counts calls.
type stubSearchClient struct {
	mu      sync.Mutex
	results map[string][]model.AgentCard
	errs    map[string]error
	keys    map[string]string // registry URL -> API key seen
	calls   int
}

func newStubSearchClient() *stubSearchClient {
	return &stubSearchClient{
		results: map[string][]model.AgentCard{},
		errs:    map[string]error{},
		keys:    map[string]string{},
	}
}

func (c *stubSearchClient) SearchAgents(_ context.Context, peer *Peer, apiKey string, _ model.SearchFilter) ([]model.AgentCard, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.keys[peer.RegistryURL] = apiKey
	if err := c.errs[peer.RegistryURL]; err != nil {
		return nil, err
	}
	return c.results[peer.RegistryURL], nil
}

func (c *stubSearchClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestService(t *testing.T) (*Service, *memPeerStore, *stubSearchClient) {
	t.Helper()
	store := &memPeerStore{}
	client := newStubSearchClient()
	svc, err := NewService(store, client, []byte("test-federation-secret"), zap.NewNop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, store, client
}

func card(name string) model.AgentCard {
	return model.AgentCard{ID: uuid.New(), DID: "did:cos:" + uuid.NewString(), Name: name}
}

func TestAddPeerValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name        string
		peerName    string
		registryURL string
		wantErr     error
	}{
		{"empty name", "  ", "https://peer.example.com", ErrPeerNameRequired},
		{"relative url", "peer", "peer.example.com", ErrInvalidRegistryURL},
		{"bad scheme", "peer", "ftp://peer.example.com", ErrInvalidRegistryURL},
		{"empty url", "peer", "", ErrInvalidRegistryURL},
	}
	for _, tc := range cases {
		if _, err := svc.AddPeer(ctx, tc.peerName, tc.registryURL, "key"); !errors.Is(err, tc.wantErr) {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.wantErr)
		}
	}

	peer, err := svc.AddPeer(ctx, "  euw-registry  ", "https://euw.example.com/", "super-secret")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if peer.Name != "euw-registry" || peer.RegistryURL != "https://euw.example.com" {
		t.Fatalf("peer = %+v", peer)
	}
	if peer.Status != PeerActive || peer.HealthStatus != HealthUnknown {
		t.Fatalf("initial state = %s/%s", peer.Status, peer.HealthStatus)
	}
	if bytes.Contains(peer.APIKeyEncrypted, []byte("super-secret")) {
		t.Fatal("API key stored in the clear")
	}

	if _, err := svc.AddPeer(ctx, "dup", "https://euw.example.com", "k"); !errors.Is(err, ErrDuplicateURL) {
		t.Fatalf("duplicate url err = %v", err)
	}
}

func TestUpdatePeer(t *testing.T) {
	svc, _, client := newTestService(t)
	ctx := context.Background()

	peer, err := svc.AddPeer(ctx, "peer-a", "https://a.example.com", "old-key")
	if err != nil {
		t.Fatal(err)
	}

	newName := "peer-a-renamed"
	inactive := PeerInactive
	updated, err := svc.UpdatePeer(ctx, peer.ID, PeerUpdate{Name: &newName, Status: &inactive})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != newName || updated.Status != PeerInactive {
		t.Fatalf("updated = %+v", updated)
	}

	bogus := PeerStatus("paused")
	if _, err := svc.UpdatePeer(ctx, peer.ID, PeerUpdate{Status: &bogus}); err == nil {
		t.Fatal("unknown status accepted")
	}
	if _, err := svc.UpdatePeer(ctx, uuid.New(), PeerUpdate{Name: &newName}); !errors.Is(err, ErrPeerNotFound) {
		t.Fatalf("unknown peer err = %v", err)
	}

	// Rotating the key changes what outbound requests carry.
	rotated := "new-key"
	active := PeerActive
	if _, err := svc.UpdatePeer(ctx, peer.ID, PeerUpdate{APIKey: &rotated, Status: &active}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.Search(ctx, model.SearchFilter{}, nil); err != nil {
		t.Fatal(err)
	}
	if got := client.keys["https://a.example.com"]; got != "new-key" {
		t.Fatalf("outbound key = %q, want new-key", got)
	}
}

func TestSearchMergesAndTags(t *testing.T) {
	svc, _, client := newTestService(t)
	ctx := context.Background()

	peerA, err := svc.AddPeer(ctx, "alpha", "https://alpha.example.com", "ka")
	if err != nil {
		t.Fatal(err)
	}
	peerB, err := svc.AddPeer(ctx, "beta", "https://beta.example.com", "kb")
	if err != nil {
		t.Fatal(err)
	}
	_ = peerA
	_ = peerB

	client.results["https://alpha.example.com"] = []model.AgentCard{card("remote-a1"), card("remote-a2")}
	client.results["https://beta.example.com"] = []model.AgentCard{card("remote-b1")}

	local := []model.AgentCard{card("local-1")}
	got, stats, err := svc.Search(ctx, model.SearchFilter{Query: "remote"}, local)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("results = %d, want 4", len(got))
	}
	if got[0].IsFederated || got[0].Name != "local-1" {
		t.Fatalf("local result first, got %+v", got[0])
	}
	for _, fa := range got[1:] {
		if !fa.IsFederated || fa.OriginRegistryName == "" || fa.OriginRegistryURL == "" {
			t.Fatalf("peer result not tagged: %+v", fa)
		}
	}
	// Peer blocks follow peer insertion order: alpha's two, then beta's one.
	if got[1].OriginRegistryName != "alpha" || got[2].OriginRegistryName != "alpha" || got[3].OriginRegistryName != "beta" {
		t.Fatalf("merge order = %s, %s, %s", got[1].OriginRegistryName, got[2].OriginRegistryName, got[3].OriginRegistryName)
	}
	if stats.PeersQueried != 2 || stats.PeersSuccessful != 2 || stats.PeersFailed != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestSearchUsesCache(t *testing.T) {
	svc, _, client := newTestService(t)
	ctx := context.Background()

	if _, err := svc.AddPeer(ctx, "alpha", "https://alpha.example.com", "k"); err != nil {
		t.Fatal(err)
	}
	client.results["https://alpha.example.com"] = []model.AgentCard{card("cached")}

	filter := model.SearchFilter{Query: "Cached"}
	if _, stats, err := svc.Search(ctx, filter, nil); err != nil || stats.CacheHits != 0 {
		t.Fatalf("first search: stats=%+v err=%v", stats, err)
	}
	got, stats, err := svc.Search(ctx, filter, nil)
	if err != nil {
		t.Fatal(err)
	}
	if stats.CacheHits != 1 || stats.PeersSuccessful != 1 {
		t.Fatalf("second search stats = %+v", stats)
	}
	if client.callCount() != 1 {
		t.Fatalf("client calls = %d, want 1", client.callCount())
	}
	if len(got) != 1 || got[0].Name != "cached" {
		t.Fatalf("cached results = %+v", got)
	}

	// A different filter misses the cache.
	if _, _, err := svc.Search(ctx, model.SearchFilter{Query: "other"}, nil); err != nil {
		t.Fatal(err)
	}
	if client.callCount() != 2 {
		t.Fatalf("client calls = %d, want 2", client.callCount())
	}
}

func TestWithCacheTTL(t *testing.T) {
	if _, err := NewService(&memPeerStore{}, newStubSearchClient(), []byte("s"), nil, WithCacheTTL(0)); err == nil {
		t.Fatal("zero TTL accepted")
	}

	store := &memPeerStore{}
	client := newStubSearchClient()
	svc, err := NewService(store, client, []byte("s"), nil, WithCacheTTL(15*time.Millisecond))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()
	if _, err := svc.AddPeer(ctx, "peer", "https://p.example.com", "k"); err != nil {
		t.Fatal(err)
	}
	client.results["https://p.example.com"] = []model.AgentCard{card("x")}

	for i := 0; i < 2; i++ {
		if _, _, err := svc.Search(ctx, model.SearchFilter{}, nil); err != nil {
			t.Fatal(err)
		}
	}
	if client.callCount() != 1 {
		t.Fatalf("client calls = %d, want 1 (second search cached)", client.callCount())
	}

	time.Sleep(30 * time.Millisecond)
	if _, _, err := svc.Search(ctx, model.SearchFilter{}, nil); err != nil {
		t.Fatal(err)
	}
	if client.callCount() != 2 {
		t.Fatalf("client calls = %d, want 2 after TTL expiry", client.callCount())
	}
}

func TestSearchPeerFailuresAreCounted(t *testing.T) {
	svc, _, client := newTestService(t)
	ctx := context.Background()

	if _, err := svc.AddPeer(ctx, "good", "https://good.example.com", "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddPeer(ctx, "down", "https://down.example.com", "k"); err != nil {
		t.Fatal(err)
	}
	client.results["https://good.example.com"] = []model.AgentCard{card("ok")}
	client.errs["https://down.example.com"] = fmt.Errorf("connection refused")

	got, stats, err := svc.Search(ctx, model.SearchFilter{}, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].Name != "ok" {
		t.Fatalf("results = %+v", got)
	}
	if stats.PeersQueried != 2 || stats.PeersSuccessful != 1 || stats.PeersFailed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestSearchSkipsInactivePeers(t *testing.T) {
	svc, _, client := newTestService(t)
	ctx := context.Background()

	peer, err := svc.AddPeer(ctx, "alpha", "https://alpha.example.com", "k")
	if err != nil {
		t.Fatal(err)
	}
	inactive := PeerInactive
	if _, err := svc.UpdatePeer(ctx, peer.ID, PeerUpdate{Status: &inactive}); err != nil {
		t.Fatal(err)
	}

	_, stats, err := svc.Search(ctx, model.SearchFilter{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if stats.PeersQueried != 0 || client.callCount() != 0 {
		t.Fatalf("inactive peer queried: stats=%+v calls=%d", stats, client.callCount())
	}
}

func TestQueryHashNormalization(t *testing.T) {
	a := model.SearchFilter{Query: "Weather"}
	a.Normalize()
	b := model.SearchFilter{Query: "weather", Limit: 20, Sort: "created_at"}
	b.Normalize()
	if queryHash(a) != queryHash(b) {
		t.Fatal("equivalent filters hash differently")
	}

	c := model.SearchFilter{Query: "weather", Limit: 50}
	c.Normalize()
	if queryHash(a) == queryHash(c) {
		t.Fatal("distinct filters share a hash")
	}
}

func TestKeyCipherRoundTrip(t *testing.T) {
	c, err := newKeyCipher([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := c.seal("api-key-123")
	if err != nil {
		t.Fatal(err)
	}
	plain, err := c.open(sealed)
	if err != nil {
		t.Fatal(err)
	}
	if plain != "api-key-123" {
		t.Fatalf("round trip = %q", plain)
	}

	// Tampering is detected.
	sealed[len(sealed)-1] ^= 0xff
	if _, err := c.open(sealed); err == nil {
		t.Fatal("tampered ciphertext accepted")
	}
	if _, err := c.open([]byte{0x01}); err == nil {
		t.Fatal("short ciphertext accepted")
	}
	if _, err := newKeyCipher(nil); err == nil {
		t.Fatal("empty secret accepted")
	}
}
