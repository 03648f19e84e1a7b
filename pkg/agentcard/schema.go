// Package agentcard defines the stable external agent-card JSON schema.
//
// Agents publish a card at https://[domain]/.well-known/agent.json so other
// registries and clients can discover them. The schema is versioned and
// decoders ignore unknown fields, so cards written by newer producers still
// parse here.
package agentcard

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// SchemaVersion is the card schema version this package produces.
const SchemaVersion = "1.0"

// Scheme discriminates AuthScheme variants.
type Scheme string

const (
	SchemeAPIKey Scheme = "apiKey"
	SchemeBearer Scheme = "bearer"
	SchemeOAuth2 Scheme = "oauth2"
	SchemeNone   Scheme = "none"
)

// Card is the JSON structure served at /.well-known/agent.json.
type Card struct {
	// SchemaVersion is the card schema version (currently "1.0").
	SchemaVersion string `json:"schemaVersion"`

	// HumanReadableID is a stable, user-facing identifier such as
	// "acme/summarizer". It never changes across card updates.
	HumanReadableID string `json:"humanReadableId"`

	Name        string `json:"name"`
	Description string `json:"description"`

	// URL is the agent's primary service endpoint.
	URL string `json:"url"`

	Provider     Provider     `json:"provider"`
	Capabilities Capabilities `json:"capabilities"`

	// AuthSchemes lists how callers may authenticate, in preference order.
	AuthSchemes []AuthScheme `json:"authSchemes"`

	Skills   []Skill           `json:"skills,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// RegistryDID is the did:cos identifier assigned by the home registry,
	// when the agent is registered.
	RegistryDID string `json:"registryDid,omitempty"`
}

// Provider identifies the organization operating the agent.
type Provider struct {
	Organization string `json:"organization"`
	URL          string `json:"url,omitempty"`
}

// Capabilities declares protocol support.
type Capabilities struct {
	A2AVersion        string `json:"a2aVersion"`
	Streaming         bool   `json:"streaming,omitempty"`
	PushNotifications bool   `json:"pushNotifications,omitempty"`
}

// AuthScheme is one way to authenticate to the agent. The Scheme field
// discriminates which of the optional fields apply.
type AuthScheme struct {
	Scheme Scheme `json:"scheme"`

	// ServiceIdentifier names the credential (header name for apiKey,
	// realm or audience for bearer and oauth2). Required except for none.
	ServiceIdentifier string `json:"serviceIdentifier,omitempty"`

	// TokenURL is the OAuth2 token endpoint. Required for oauth2 only.
	TokenURL string `json:"tokenUrl,omitempty"`

	// Scopes are the OAuth2 scopes to request.
	Scopes []string `json:"scopes,omitempty"`
}

// Skill describes a task type the agent supports.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Parse decodes and validates a card. Unknown JSON fields are ignored.
func Parse(data []byte) (*Card, error) {
	var card Card
	if err := json.Unmarshal(data, &card); err != nil {
		return nil, fmt.Errorf("decode agent card: %w", err)
	}
	if err := card.Validate(); err != nil {
		return nil, err
	}
	return &card, nil
}

// Fetch retrieves and parses the card from a domain's well-known location.
func Fetch(domain string) (*Card, error) {
	targetURL := "https://" + domain + "/.well-known/agent.json"
	if _, err := url.ParseRequestURI(targetURL); err != nil {
		return nil, fmt.Errorf("invalid domain %q: %w", domain, err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(targetURL) //nolint:noctx
	if err != nil {
		return nil, fmt.Errorf("fetch agent card: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent card fetch returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB limit
	if err != nil {
		return nil, fmt.Errorf("read agent card body: %w", err)
	}
	return Parse(body)
}

// Validate checks required fields and per-scheme constraints.
func (c *Card) Validate() error {
	if c.SchemaVersion == "" {
		return fmt.Errorf("agent card: schemaVersion is required")
	}
	if c.HumanReadableID == "" {
		return fmt.Errorf("agent card: humanReadableId is required")
	}
	if c.Name == "" {
		return fmt.Errorf("agent card: name is required")
	}
	if c.URL == "" {
		return fmt.Errorf("agent card: url is required")
	}
	if u, err := url.Parse(c.URL); err != nil || !u.IsAbs() {
		return fmt.Errorf("agent card: url must be absolute")
	}
	if c.Provider.Organization == "" {
		return fmt.Errorf("agent card: provider.organization is required")
	}
	if c.Capabilities.A2AVersion == "" {
		return fmt.Errorf("agent card: capabilities.a2aVersion is required")
	}
	if len(c.AuthSchemes) == 0 {
		return fmt.Errorf("agent card: at least one auth scheme is required")
	}
	for i, s := range c.AuthSchemes {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("agent card: authSchemes[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate enforces the per-variant field constraints.
func (s *AuthScheme) Validate() error {
	switch s.Scheme {
	case SchemeNone:
		return nil
	case SchemeAPIKey, SchemeBearer:
		if s.ServiceIdentifier == "" {
			return fmt.Errorf("%s scheme requires serviceIdentifier", s.Scheme)
		}
		return nil
	case SchemeOAuth2:
		if s.ServiceIdentifier == "" {
			return fmt.Errorf("oauth2 scheme requires serviceIdentifier")
		}
		if s.TokenURL == "" {
			return fmt.Errorf("oauth2 scheme requires tokenUrl")
		}
		return nil
	default:
		return fmt.Errorf("unknown scheme %q", s.Scheme)
	}
}
