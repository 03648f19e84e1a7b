package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agentvault/agentvault/internal/registry/model"
)

// DefaultQueryTimeout bounds one peer agent-card query.
const DefaultQueryTimeout = 5 * time.Second

// Client queries peer registries over their public agent-card API.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a peer client. A zero timeout falls back to the default.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// SearchAgents fetches agent cards matching filter from a peer. The peer's
// decrypted API key is sent as X-Api-Key.
func (c *Client) SearchAgents(ctx context.Context, peer *Peer, apiKey string, filter model.SearchFilter) ([]model.AgentCard, error) {
	u, err := url.Parse(strings.TrimSuffix(peer.RegistryURL, "/") + "/api/v1/agent-cards")
	if err != nil {
		return nil, fmt.Errorf("peer url: %w", err)
	}
	u.RawQuery = filterQuery(filter).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build peer request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("X-Api-Key", apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query peer %s: %w", peer.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer %s returned status %d", peer.Name, resp.StatusCode)
	}

	var body struct {
		Agents []model.AgentCard `json:"agents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode peer response: %w", err)
	}
	return body.Agents, nil
}

// CheckHealth probes a peer's health endpoint and returns the observed
// latency. Non-2xx responses count as degraded rather than unreachable.
func (c *Client) CheckHealth(ctx context.Context, peer *Peer, timeout time.Duration) (HealthStatus, time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(peer.RegistryURL, "/")+"/api/v1/health", nil)
	if err != nil {
		return HealthUnreachable, 0
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return HealthUnreachable, elapsed
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return HealthHealthy, elapsed
	}
	return HealthDegraded, elapsed
}

func filterQuery(f model.SearchFilter) url.Values {
	q := url.Values{}
	if f.Query != "" {
		q.Set("query", f.Query)
	}
	if f.AgentType != "" {
		q.Set("agent_type", f.AgentType)
	}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if len(f.Capabilities) > 0 {
		q.Set("capabilities", strings.Join(f.Capabilities, ","))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	return q
}
