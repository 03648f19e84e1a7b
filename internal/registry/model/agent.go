package model

import (
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// AgentStatus represents the lifecycle state of a registered agent card.
type AgentStatus string

const (
	AgentStatusActive     AgentStatus = "active"
	AgentStatusInactive   AgentStatus = "inactive"
	AgentStatusDeprecated AgentStatus = "deprecated"
)

// AuthSchemeType enumerates the credential mechanisms an agent advertises.
type AuthSchemeType string

const (
	AuthSchemeAPIKey AuthSchemeType = "apiKey"
	AuthSchemeBearer AuthSchemeType = "bearer"
	AuthSchemeOAuth2 AuthSchemeType = "oauth2"
	AuthSchemeNone   AuthSchemeType = "none"
)

// AuthScheme describes one way to authenticate against an agent. The
// service identifier keys into the platform credential store; secrets are
// never embedded in the card.
type AuthScheme struct {
	Scheme            AuthSchemeType `json:"scheme"`
	ServiceIdentifier string         `json:"service_identifier,omitempty"`
	TokenURL          string         `json:"token_url,omitempty"`
	Scopes            []string       `json:"scopes,omitempty"`
}

// AgentCard is the core domain model describing a registered agent: what it
// is, where to reach it, and how to authenticate.
type AgentCard struct {
	ID           uuid.UUID      `json:"agent_id"              db:"agent_id"`
	DID          string         `json:"did"                   db:"did"`
	Name         string         `json:"name"                  db:"name"`
	Description  string         `json:"description"           db:"description"`
	AgentType    string         `json:"agent_type"            db:"agent_type"`
	Status       AgentStatus    `json:"status"                db:"status"`
	DeveloperID  uuid.UUID      `json:"developer_id"          db:"developer_id"`
	Endpoints    []string       `json:"endpoints"             db:"endpoints"`
	Capabilities []string       `json:"capabilities"          db:"capabilities"`
	AuthSchemes  []AuthScheme   `json:"auth_schemes"          db:"auth_schemes"`
	Pricing      map[string]any `json:"pricing,omitempty"     db:"pricing"`
	Metadata     map[string]any `json:"metadata,omitempty"    db:"metadata"`
	CreatedAt    time.Time      `json:"created_at"            db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"            db:"updated_at"`
}

// Validate enforces the card invariants: at least one absolute-URL
// endpoint, at least one auth scheme, and capability labels without
// duplicates.
func (c *AgentCard) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required")
	}
	for _, ep := range c.Endpoints {
		u, err := url.Parse(ep)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return fmt.Errorf("endpoint %q is not an absolute URL", ep)
		}
	}
	if len(c.AuthSchemes) == 0 {
		return fmt.Errorf("at least one auth scheme is required")
	}
	for _, s := range c.AuthSchemes {
		switch s.Scheme {
		case AuthSchemeAPIKey, AuthSchemeBearer, AuthSchemeOAuth2, AuthSchemeNone:
		default:
			return fmt.Errorf("unknown auth scheme %q", s.Scheme)
		}
		if s.Scheme == AuthSchemeOAuth2 && s.TokenURL == "" {
			return fmt.Errorf("oauth2 scheme requires token_url")
		}
		if (s.Scheme == AuthSchemeAPIKey || s.Scheme == AuthSchemeOAuth2) && s.ServiceIdentifier == "" {
			return fmt.Errorf("%s scheme requires service_identifier", s.Scheme)
		}
	}
	seen := make(map[string]bool, len(c.Capabilities))
	for _, cap := range c.Capabilities {
		if cap == "" {
			return fmt.Errorf("capability labels must be non-empty")
		}
		if seen[cap] {
			return fmt.Errorf("duplicate capability %q", cap)
		}
		seen[cap] = true
	}
	switch c.Status {
	case "", AgentStatusActive, AgentStatusInactive, AgentStatusDeprecated:
	default:
		return fmt.Errorf("unknown status %q", c.Status)
	}
	return nil
}

// RegisterAgentRequest is the payload for creating a new agent card.
type RegisterAgentRequest struct {
	Name         string         `json:"name" binding:"required"`
	Description  string         `json:"description"`
	AgentType    string         `json:"agent_type"`
	Endpoints    []string       `json:"endpoints" binding:"required"`
	Capabilities []string       `json:"capabilities"`
	AuthSchemes  []AuthScheme   `json:"auth_schemes" binding:"required"`
	Pricing      map[string]any `json:"pricing"`
	Metadata     map[string]any `json:"metadata"`
}

// UpdateAgentRequest is the payload for a partial update of an agent card.
// Nil fields are left unchanged.
type UpdateAgentRequest struct {
	Name         *string        `json:"name"`
	Description  *string        `json:"description"`
	AgentType    *string        `json:"agent_type"`
	Status       *AgentStatus   `json:"status"`
	Endpoints    []string       `json:"endpoints"`
	Capabilities []string       `json:"capabilities"`
	AuthSchemes  []AuthScheme   `json:"auth_schemes"`
	Pricing      map[string]any `json:"pricing"`
	Metadata     map[string]any `json:"metadata"`
}

// SearchFilter narrows agent discovery queries. Zero-value fields are
// ignored. Capabilities are matched as "must have all".
type SearchFilter struct {
	Query        string
	AgentType    string
	Status       AgentStatus
	Capabilities []string
	DeveloperID  *uuid.UUID
	Sort         string // "name", "created_at", "updated_at"; default created_at desc
	Limit        int    // clamped to [1,100], default 20
	Offset       int
}

// Normalize clamps pagination and applies defaults.
func (f *SearchFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	switch f.Sort {
	case "name", "created_at", "updated_at":
	default:
		f.Sort = "created_at"
	}
}
