package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrNoSession is returned by calls that need authentication when the
// client has neither a session token nor agent credentials configured.
var ErrNoSession = errors.New("client has no session token or agent credentials")

// APIError is a non-2xx registry response decoded from the platform's
// uniform error envelope. Errors returned by SDK methods unwrap to it:
//
//	var apiErr *client.APIError
//	if errors.As(err, &apiErr) && apiErr.Code == "INSUFFICIENT_BALANCE" { ... }
type APIError struct {
	StatusCode       int               `json:"-"`
	Code             string            `json:"error_code"`
	Message          string            `json:"message"`
	Detail           string            `json:"detail,omitempty"`
	ValidationErrors map[string]string `json:"validation_errors,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("registry error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("registry error %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Developer is a developer account as returned by the registry.
type Developer struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Suspended bool      `json:"suspended"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuthScheme describes one way to authenticate against an agent. Secrets
// are never embedded; the service identifier keys into a credential store.
type AuthScheme struct {
	Scheme            string   `json:"scheme"` // "apiKey", "bearer", "oauth2", "none"
	ServiceIdentifier string   `json:"service_identifier,omitempty"`
	TokenURL          string   `json:"token_url,omitempty"`
	Scopes            []string `json:"scopes,omitempty"`
}

// Agent is a catalog agent card.
type Agent struct {
	ID           string         `json:"agent_id"`
	DID          string         `json:"did"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	AgentType    string         `json:"agent_type"`
	Status       string         `json:"status"`
	DeveloperID  string         `json:"developer_id"`
	Endpoints    []string       `json:"endpoints"`
	Capabilities []string       `json:"capabilities"`
	AuthSchemes  []AuthScheme   `json:"auth_schemes"`
	Pricing      map[string]any `json:"pricing,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// AgentRegistration is the payload for RegisterAgent.
type AgentRegistration struct {
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	AgentType    string         `json:"agent_type,omitempty"`
	Endpoints    []string       `json:"endpoints"`
	Capabilities []string       `json:"capabilities,omitempty"`
	AuthSchemes  []AuthScheme   `json:"auth_schemes"`
	Pricing      map[string]any `json:"pricing,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// AgentUpdate is a partial update for UpdateAgent. Nil fields are left
// unchanged by the registry.
type AgentUpdate struct {
	Name         *string        `json:"name,omitempty"`
	Description  *string        `json:"description,omitempty"`
	AgentType    *string        `json:"agent_type,omitempty"`
	Status       *string        `json:"status,omitempty"`
	Endpoints    []string       `json:"endpoints,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty"`
	AuthSchemes  []AuthScheme   `json:"auth_schemes,omitempty"`
	Pricing      map[string]any `json:"pricing,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// DiscoveryQuery narrows a Discover call. Zero-value fields are ignored.
// Capabilities are matched as "must have all".
type DiscoveryQuery struct {
	Query            string
	AgentType        string
	Status           string
	Capabilities     []string
	Sort             string // "name", "created_at", "updated_at"
	Limit            int
	Offset           int
	IncludeFederated bool
}

// DiscoveredAgent is an Agent plus federation provenance. IsFederated is
// false for agents served from the local registry.
type DiscoveredAgent struct {
	Agent
	IsFederated        bool   `json:"is_federated"`
	OriginRegistryName string `json:"origin_registry_name,omitempty"`
	OriginRegistryURL  string `json:"origin_registry_url,omitempty"`
}

// FederationStats reports the peer fan-out of a federated discovery call.
type FederationStats struct {
	PeersQueried    int `json:"queried"`
	PeersSuccessful int `json:"successful"`
	PeersFailed     int `json:"failed"`
	CacheHits       int `json:"cache_hits"`
}

// DiscoveryResult is the response of Discover.
type DiscoveryResult struct {
	Agents     []DiscoveredAgent `json:"agents"`
	Total      int               `json:"total"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
	Federation *FederationStats  `json:"federation,omitempty"`
}

// BootstrapGrant holds a freshly issued bootstrap token. The token value is
// shown exactly once; the registry stores only its hash.
type BootstrapGrant struct {
	Token     string    `json:"bootstrap_token"`
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Client is the AgentVault SDK entry point.
type Client struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string

	// auth state, guarded by mu
	mu          sync.Mutex
	bearer      string
	creds       *clientcredentials.Config
	tokenSource oauth2.TokenSource
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a pre-obtained bearer token to every request.
// The token is treated as long-lived and will not be auto-refreshed.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearer = token
		return nil
	}
}

// WithAPIKey authenticates every request with a long-lived API key in the
// X-Api-Key header instead of a session token. Bearer tokens and agent
// credentials, when also configured, take precedence.
func WithAPIKey(key string) Option {
	return func(c *Client) error {
		c.apiKey = key
		return nil
	}
}

// WithTimeout sets the HTTP timeout for non-streaming calls.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient.Timeout = d
		return nil
	}
}

// WithClientCredentials configures the OAuth2 client-credentials grant
// issued to the agent at onboarding. Bearer tokens are fetched from the
// registry's token endpoint on first use and refreshed before expiry.
func WithClientCredentials(clientID, clientSecret string) Option {
	return func(c *Client) error {
		if clientID == "" || clientSecret == "" {
			return fmt.Errorf("client credentials are empty")
		}
		c.creds = &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     c.baseURL + "/api/v1/onboard/token",
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		return nil
	}
}

// New creates an AgentVault SDK Client connected to baseURL.
//
//	c, err := client.New("https://registry.agentvault.io",
//	    client.WithClientCredentials(id, secret),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Token returns the bearer token the client is currently presenting,
// fetching one first when agent credentials are configured. Callers use it
// to persist a developer session across CLI invocations.
func (c *Client) Token(ctx context.Context) (string, error) {
	auth, err := c.authHeader()
	if err != nil {
		return "", err
	}
	if auth == "" {
		return "", ErrNoSession
	}
	return strings.TrimPrefix(auth, "Bearer "), nil
}

// --- developer sessions ---

// Register creates a developer account and stores the returned session
// token on the client.
func (c *Client) Register(ctx context.Context, name, email, password string) (*Developer, error) {
	var out struct {
		Developer Developer `json:"developer"`
		Token     string    `json:"token"`
	}
	payload := map[string]string{"name": name, "email": email, "password": password}
	if err := c.call(ctx, http.MethodPost, "/api/v1/auth/register", payload, &out); err != nil {
		return nil, err
	}
	c.setBearer(out.Token)
	return &out.Developer, nil
}

// Login authenticates a developer and stores the returned session token on
// the client.
func (c *Client) Login(ctx context.Context, email, password string) (*Developer, error) {
	var out struct {
		Developer Developer `json:"developer"`
		Token     string    `json:"token"`
	}
	payload := map[string]string{"email": email, "password": password}
	if err := c.call(ctx, http.MethodPost, "/api/v1/auth/login", payload, &out); err != nil {
		return nil, err
	}
	c.setBearer(out.Token)
	return &out.Developer, nil
}

// RefreshSession exchanges the current session token for a fresh one and
// stores it on the client.
func (c *Client) RefreshSession(ctx context.Context) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/v1/auth/refresh", nil, &out); err != nil {
		return "", err
	}
	c.setBearer(out.Token)
	return out.Token, nil
}

// Me returns the developer account behind the current session.
func (c *Client) Me(ctx context.Context) (*Developer, error) {
	var dev Developer
	if err := c.call(ctx, http.MethodGet, "/api/v1/developers/me", nil, &dev); err != nil {
		return nil, err
	}
	return &dev, nil
}

// APIKey is an API key record as returned by the registry. The secret
// itself only appears in the CreateAPIKey response.
type APIKey struct {
	KeyID       string     `json:"key_id"`
	Prefix      string     `json:"prefix"`
	DeveloperID string     `json:"developer_id"`
	Name        string     `json:"name"`
	Scopes      []string   `json:"scopes"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CreateAPIKey mints an API key on the current developer account and
// returns the record plus the plaintext key, which the registry never shows
// again. A zero expiresIn yields a key without an expiry.
func (c *Client) CreateAPIKey(ctx context.Context, name string, scopes []string, expiresIn time.Duration) (*APIKey, string, error) {
	payload := map[string]any{"name": name, "scopes": scopes}
	if expiresIn > 0 {
		payload["expires_in"] = int64(expiresIn.Seconds())
	}
	var out struct {
		PlainKey string `json:"api_key"`
		Key      APIKey `json:"key"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/v1/auth/api-keys", payload, &out); err != nil {
		return nil, "", err
	}
	return &out.Key, out.PlainKey, nil
}

// ListAPIKeys returns the account's keys, revoked ones included.
func (c *Client) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	var out struct {
		Keys []APIKey `json:"keys"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/auth/api-keys", nil, &out); err != nil {
		return nil, err
	}
	return out.Keys, nil
}

// RevokeAPIKey revokes one of the account's keys. Revocation takes effect
// on the next request presenting the key.
func (c *Client) RevokeAPIKey(ctx context.Context, keyID string) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/auth/api-keys/"+url.PathEscape(keyID), nil, nil)
}

func (c *Client) setBearer(token string) {
	c.mu.Lock()
	c.bearer = token
	c.mu.Unlock()
}

// --- agent catalog ---

// RegisterAgent creates a new agent card. Requires a developer session.
func (c *Client) RegisterAgent(ctx context.Context, reg AgentRegistration) (*Agent, error) {
	var agent Agent
	if err := c.call(ctx, http.MethodPost, "/api/v1/agents", reg, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// GetAgent fetches a single agent card by its UUID.
func (c *Client) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var agent Agent
	if err := c.call(ctx, http.MethodGet, "/api/v1/agents/"+url.PathEscape(id), nil, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// ListAgents returns the caller's own agent cards.
func (c *Client) ListAgents(ctx context.Context, limit, offset int) ([]Agent, error) {
	var out struct {
		Agents []Agent `json:"agents"`
	}
	path := fmt.Sprintf("/api/v1/agents?limit=%d&offset=%d", limit, offset)
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

// UpdateAgent applies a partial update to an agent card the caller owns.
func (c *Client) UpdateAgent(ctx context.Context, id string, upd AgentUpdate) (*Agent, error) {
	var agent Agent
	if err := c.call(ctx, http.MethodPut, "/api/v1/agents/"+url.PathEscape(id), upd, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// DeleteAgent removes an agent card the caller owns.
func (c *Client) DeleteAgent(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/agents/"+url.PathEscape(id), nil, nil)
}

// Discover searches the agent catalog, optionally fanning out to federated
// peer registries.
func (c *Client) Discover(ctx context.Context, q DiscoveryQuery) (*DiscoveryResult, error) {
	params := url.Values{}
	if q.Query != "" {
		params.Set("query", q.Query)
	}
	if q.AgentType != "" {
		params.Set("agent_type", q.AgentType)
	}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	if len(q.Capabilities) > 0 {
		params.Set("capabilities", strings.Join(q.Capabilities, ","))
	}
	if q.Sort != "" {
		params.Set("sort", q.Sort)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.IncludeFederated {
		params.Set("include_federated", "true")
	}

	path := "/api/v1/discovery/agents"
	if enc := params.Encode(); enc != "" {
		path += "?" + enc
	}
	var out DiscoveryResult
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- onboarding ---

// RequestBootstrapToken issues a single-use bootstrap token for onboarding
// a new agent. Requires a developer session.
func (c *Client) RequestBootstrapToken(ctx context.Context, agentType string) (*BootstrapGrant, error) {
	var grant BootstrapGrant
	payload := map[string]string{"agent_type": agentType}
	if err := c.call(ctx, http.MethodPost, "/api/v1/onboard/bootstrap/request-token", payload, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

// Onboard redeems a bootstrap token, registering agentName and minting its
// identity. The returned ClientSecret is delivered once and never
// retrievable again; persist it with SaveCredentialsFile or a platform
// keyring.
func (c *Client) Onboard(ctx context.Context, bootstrapToken, agentName string) (*AgentCredentials, error) {
	payload, err := json.Marshal(map[string]string{
		"agent_name": agentName,
		"did_method": "cos",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/onboard/register", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Bootstrap-Token", bootstrapToken)

	// The bootstrap token is the sole credential here; no bearer header.
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp.StatusCode, body)
	}

	var creds AgentCredentials
	if err := json.Unmarshal(body, &creds); err != nil {
		return nil, fmt.Errorf("decode onboarding response: %w", err)
	}
	return &creds, nil
}

// --- transport plumbing ---

// call executes a JSON request against the registry, decoding the response
// into out when non-nil. Non-2xx responses decode into *APIError.
func (c *Client) call(ctx context.Context, method, path string, reqBody, out any) error {
	return c.callWithHeaders(ctx, method, path, nil, reqBody, out)
}

func (c *Client) callWithHeaders(ctx context.Context, method, path string, headers http.Header, reqBody, out any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, vals := range headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// do executes an HTTP request, attaching the caller's bearer token or API
// key. Agent credentials take precedence over a stored session token.
func (c *Client) do(req *http.Request) ([]byte, error) {
	auth, err := c.authHeader()
	if err != nil {
		return nil, err
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	} else if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp.StatusCode, body)
	}
	return body, nil
}

// authHeader resolves the Authorization value for the next request: a
// token from the OAuth2 client-credentials flow when configured, otherwise
// the stored session token, otherwise none.
func (c *Client) authHeader() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.creds != nil {
		if c.tokenSource == nil {
			// Bind the token endpoint to our HTTP client; the source
			// caches tokens and refreshes them before expiry.
			hctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.httpClient)
			c.tokenSource = c.creds.TokenSource(hctx)
		}
		tok, err := c.tokenSource.Token()
		if err != nil {
			return "", fmt.Errorf("obtain agent token: %w", err)
		}
		return "Bearer " + tok.AccessToken, nil
	}
	if c.bearer != "" {
		return "Bearer " + c.bearer, nil
	}
	return "", nil
}

func decodeAPIError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
	}
	return apiErr
}
