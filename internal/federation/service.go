package federation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentvault/agentvault/internal/registry/model"
)

const (
	// CacheTTL is how long per-peer search results stay valid.
	CacheTTL = 5 * time.Minute
	// SearchParallelism caps concurrent peer queries per search.
	SearchParallelism = 8
)

var (
	ErrInvalidRegistryURL = errors.New("registry URL must be an absolute http or https URL")
	ErrPeerNameRequired   = errors.New("peer name is required")
)

// PeerStore is the persistence surface the service needs.
type PeerStore interface {
	Create(ctx context.Context, p *Peer) error
	GetByID(ctx context.Context, id uuid.UUID) (*Peer, error)
	List(ctx context.Context) ([]*Peer, error)
	ListActive(ctx context.Context) ([]*Peer, error)
	Update(ctx context.Context, p *Peer) error
	UpdateHealth(ctx context.Context, id uuid.UUID, status HealthStatus, latencyMS int, checkedAt time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// SearchClient is the outbound surface used for peer queries.
type SearchClient interface {
	SearchAgents(ctx context.Context, peer *Peer, apiKey string, filter model.SearchFilter) ([]model.AgentCard, error)
}

// PeerUpdate carries the admin-editable fields; nil means leave unchanged.
type PeerUpdate struct {
	Name        *string
	RegistryURL *string
	APIKey      *string
	Status      *PeerStatus
}

// Service manages peers and runs federated agent discovery.
type Service struct {
	store    PeerStore
	client   SearchClient
	cipher   *keyCipher
	cache    *gocache.Cache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// Option customizes service construction.
type Option func(*Service) error

// WithCacheTTL overrides how long per-peer search results stay cached.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl <= 0 {
			return fmt.Errorf("cache TTL must be positive, got %s", ttl)
		}
		s.cacheTTL = ttl
		return nil
	}
}

// NewService builds the federation service. secret encrypts peer API keys
// at rest, so it must be stable across restarts.
func NewService(store PeerStore, client SearchClient, secret []byte, logger *zap.Logger, opts ...Option) (*Service, error) {
	cipher, err := newKeyCipher(secret)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:    store,
		client:   client,
		cipher:   cipher,
		cacheTTL: CacheTTL,
		logger:   logger,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.cache = gocache.New(s.cacheTTL, 2*s.cacheTTL)
	return s, nil
}

// AddPeer registers a new peer registry. The API key is encrypted before it
// ever reaches storage.
func (s *Service) AddPeer(ctx context.Context, name, registryURL, apiKey string) (*Peer, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrPeerNameRequired
	}
	registryURL, err := normalizeRegistryURL(registryURL)
	if err != nil {
		return nil, err
	}
	sealed, err := s.cipher.seal(apiKey)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	peer := &Peer{
		ID:              uuid.New(),
		Name:            strings.TrimSpace(name),
		RegistryURL:     registryURL,
		APIKeyEncrypted: sealed,
		Status:          PeerActive,
		HealthStatus:    HealthUnknown,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Create(ctx, peer); err != nil {
		return nil, err
	}
	s.logger.Info("federation peer added",
		zap.String("peer_id", peer.ID.String()),
		zap.String("name", peer.Name),
		zap.String("registry_url", peer.RegistryURL))
	return peer, nil
}

// UpdatePeer applies a partial update to a peer.
func (s *Service) UpdatePeer(ctx context.Context, id uuid.UUID, upd PeerUpdate) (*Peer, error) {
	peer, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		if strings.TrimSpace(*upd.Name) == "" {
			return nil, ErrPeerNameRequired
		}
		peer.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.RegistryURL != nil {
		u, err := normalizeRegistryURL(*upd.RegistryURL)
		if err != nil {
			return nil, err
		}
		peer.RegistryURL = u
	}
	if upd.APIKey != nil {
		sealed, err := s.cipher.seal(*upd.APIKey)
		if err != nil {
			return nil, err
		}
		peer.APIKeyEncrypted = sealed
	}
	if upd.Status != nil {
		if *upd.Status != PeerActive && *upd.Status != PeerInactive {
			return nil, fmt.Errorf("unknown peer status %q", *upd.Status)
		}
		peer.Status = *upd.Status
	}
	if err := s.store.Update(ctx, peer); err != nil {
		return nil, err
	}
	return peer, nil
}

// RemovePeer deletes a peer registration.
func (s *Service) RemovePeer(ctx context.Context, id uuid.UUID) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("federation peer removed", zap.String("peer_id", id.String()))
	return nil
}

// GetPeer fetches one peer.
func (s *Service) GetPeer(ctx context.Context, id uuid.UUID) (*Peer, error) {
	return s.store.GetByID(ctx, id)
}

// ListPeers returns all registered peers.
func (s *Service) ListPeers(ctx context.Context) ([]*Peer, error) {
	return s.store.List(ctx)
}

// Search merges local results with cached, parallel peer queries. Peer
// failures are counted in stats but never fail the search; callers always
// get at least the local results.
func (s *Service) Search(ctx context.Context, filter model.SearchFilter, local []model.AgentCard) ([]FederatedAgent, SearchStats, error) {
	filter.Normalize()

	merged := make([]FederatedAgent, 0, len(local))
	for _, card := range local {
		merged = append(merged, FederatedAgent{AgentCard: card})
	}

	peers, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, SearchStats{}, fmt.Errorf("list peers: %w", err)
	}
	if len(peers) == 0 {
		return merged, SearchStats{}, nil
	}

	hash := queryHash(filter)
	stats := SearchStats{PeersQueried: len(peers)}
	results := make([][]model.AgentCard, len(peers))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(SearchParallelism)
	for i, peer := range peers {
		g.Go(func() error {
			cards, hit, err := s.queryPeer(gctx, peer, hash, filter)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.PeersFailed++
				s.logger.Warn("peer search failed",
					zap.String("peer", peer.Name),
					zap.Error(err))
				return nil
			}
			stats.PeersSuccessful++
			if hit {
				stats.CacheHits++
			}
			results[i] = cards
			return nil
		})
	}
	_ = g.Wait()

	// Peer blocks are appended in peer insertion order so the merged view
	// is stable across identical searches.
	for i, cards := range results {
		peer := peers[i]
		for _, card := range cards {
			merged = append(merged, FederatedAgent{
				AgentCard:          card,
				IsFederated:        true,
				OriginRegistryName: peer.Name,
				OriginRegistryURL:  peer.RegistryURL,
			})
		}
	}
	return merged, stats, nil
}

// queryPeer serves one peer's results, from cache when fresh.
func (s *Service) queryPeer(ctx context.Context, peer *Peer, hash string, filter model.SearchFilter) ([]model.AgentCard, bool, error) {
	key := peer.ID.String() + "|" + hash
	if cached, ok := s.cache.Get(key); ok {
		return cached.([]model.AgentCard), true, nil
	}

	apiKey, err := s.cipher.open(peer.APIKeyEncrypted)
	if err != nil {
		return nil, false, err
	}
	cards, err := s.client.SearchAgents(ctx, peer, apiKey, filter)
	if err != nil {
		return nil, false, err
	}
	sort.Slice(cards, func(i, j int) bool {
		return cards[i].ID.String() < cards[j].ID.String()
	})
	s.cache.Set(key, cards, gocache.DefaultExpiration)
	return cards, false, nil
}

// queryHash fingerprints a normalized filter for the result cache.
func queryHash(f model.SearchFilter) string {
	h := sha256.New()
	fmt.Fprintf(h, "q=%s|t=%s|s=%s|c=%s|sort=%s|l=%d|o=%d",
		strings.ToLower(f.Query), f.AgentType, f.Status,
		strings.ToLower(strings.Join(f.Capabilities, ",")),
		f.Sort, f.Limit, f.Offset)
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeRegistryURL(raw string) (string, error) {
	raw = strings.TrimSpace(strings.TrimSuffix(raw, "/"))
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", ErrInvalidRegistryURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrInvalidRegistryURL
	}
	return raw, nil
}
