package model

import (
	"time"

	"github.com/google/uuid"
)

// BootstrapToken is a single-use onboarding credential. An admin or
// developer issues it; a new agent redeems it exactly once to receive its
// DID and OAuth client credentials.
type BootstrapToken struct {
	ID        uuid.UUID  `json:"id"                    db:"id"`
	TokenHash string     `json:"-"                     db:"token_hash"`
	CreatedBy uuid.UUID  `json:"created_by"            db:"created_by"`
	AgentType string     `json:"agent_type"            db:"agent_type"`
	ExpiresAt time.Time  `json:"expires_at"            db:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"     db:"used_at"`
	UsedByDID string     `json:"used_by_did,omitempty" db:"used_by_did"`
	CreatedAt time.Time  `json:"created_at"            db:"created_at"`
}

// Used reports whether the token has already been redeemed.
func (t *BootstrapToken) Used() bool { return t.UsedAt != nil }

// Expired reports whether the token's redemption window has passed.
func (t *BootstrapToken) Expired(now time.Time) bool { return now.After(t.ExpiresAt) }

// AgentCredential stores the OAuth client credentials minted for an agent
// at onboarding. Only the bcrypt hash of the client secret is kept.
type AgentCredential struct {
	ClientID         string    `json:"client_id"   db:"client_id"`
	ClientSecretHash string    `json:"-"           db:"client_secret_hash"`
	AgentDID         string    `json:"agent_did"   db:"agent_did"`
	DeveloperID      uuid.UUID `json:"developer_id" db:"developer_id"`
	CreatedAt        time.Time `json:"created_at"  db:"created_at"`
}

// OnboardResult is returned to a successful bootstrap-token redemption.
// ClientSecret is shown exactly once.
type OnboardResult struct {
	DID          string `json:"did"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}
