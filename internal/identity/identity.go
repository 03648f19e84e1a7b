// Package identity implements the AgentVault authentication layer.
//
// It provides:
//   - TokenIssuer: issues and verifies HS256 bearer tokens for developers,
//     admins, and agents
//   - APIKey helpers: prefix+hash API keys with constant-time verification
//   - Gin middleware: RequireDeveloper / RequireAdmin / RequireAgent /
//     RequireAnyPrincipal enforcing a verified principal per route, and
//     APIKeyAuth resolving X-Api-Key headers to principals
//
// Three principal kinds exist: developers (interactive), agents (machine,
// authenticated via the OAuth2 client-credentials grant), and admins
// (privileged developers). Tokens are signed with the process-wide
// JWT_SECRET; there is no key rotation below the deployment layer.
package identity

import "errors"

// Sentinel errors mapped by the gateway onto 401/403 responses.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrForbidden    = errors.New("forbidden")
)

// Context keys used by the middleware to inject verified principals.
const (
	ctxPrincipal = "agentvault_principal"
)

// PrincipalKind discriminates the three authenticated identity types.
type PrincipalKind string

const (
	KindDeveloper PrincipalKind = "developer"
	KindAgent     PrincipalKind = "agent"
	KindAdmin     PrincipalKind = "admin"
)

// Principal is the verified identity attached to a request after
// authentication, independent of which credential produced it.
type Principal struct {
	Kind PrincipalKind

	// DeveloperID is set for developer and admin principals, and for agent
	// principals when the owning developer is known.
	DeveloperID string

	// AgentDID is set for agent principals.
	AgentDID string

	Email string

	// Scopes carries API-key scopes; empty for session tokens.
	Scopes []string
}

// IsAdmin reports whether the principal may call admin-only endpoints.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Kind == KindAdmin
}
