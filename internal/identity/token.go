package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the JWT claims carried by all AgentVault bearer tokens.
// The Kind field discriminates developer, admin, and agent tokens; agent
// tokens additionally carry the agent DID and an audience of "agentvault".
type Claims struct {
	jwt.RegisteredClaims
	Kind        string `json:"kind"` // "developer", "admin", or "agent"
	DeveloperID string `json:"developer_id,omitempty"`
	AgentDID    string `json:"agent_did,omitempty"`
	Email       string `json:"email,omitempty"`
}

// TokenIssuer issues and verifies HS256 bearer tokens signed with the
// shared JWT secret.
type TokenIssuer struct {
	secret   []byte
	issuer   string
	devTTL   time.Duration
	agentTTL time.Duration
}

// NewTokenIssuer creates a TokenIssuer.
//
//	issuerURL: the "iss" claim value; matches the registry's base URL.
//	devTTL:    developer session token lifetime (default 24h).
//	agentTTL:  agent bearer token lifetime (default 1h).
func NewTokenIssuer(secret []byte, issuerURL string, devTTL, agentTTL time.Duration) *TokenIssuer {
	if devTTL == 0 {
		devTTL = 24 * time.Hour
	}
	if agentTTL == 0 {
		agentTTL = time.Hour
	}
	return &TokenIssuer{secret: secret, issuer: issuerURL, devTTL: devTTL, agentTTL: agentTTL}
}

// IssueDeveloper creates a signed session token for a developer. role is
// "developer" or "admin"; admin role yields an admin-kind token.
func (t *TokenIssuer) IssueDeveloper(developerID, email, role string) (string, error) {
	kind := string(KindDeveloper)
	if role == "admin" {
		kind = string(KindAdmin)
	}
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   developerID,
			Audience:  jwt.ClaimStrings{"agentvault"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.devTTL)),
			ID:        uuid.New().String(),
		},
		Kind:        kind,
		DeveloperID: developerID,
		Email:       email,
	}
	return t.sign(claims)
}

// IssueAgent creates a signed bearer token for an agent, issued by the
// OAuth2 client-credentials token endpoint after the agent's client
// credentials have been verified.
func (t *TokenIssuer) IssueAgent(agentDID, developerID string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   agentDID,
			Audience:  jwt.ClaimStrings{"agentvault"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.agentTTL)),
			ID:        uuid.New().String(),
		},
		Kind:        string(KindAgent),
		AgentDID:    agentDID,
		DeveloperID: developerID,
	}
	return t.sign(claims)
}

// Refresh re-issues a developer session token from a still-valid one,
// preserving identity and role with a fresh expiry.
func (t *TokenIssuer) Refresh(tokenStr string) (string, error) {
	claims, err := t.Verify(tokenStr)
	if err != nil {
		return "", err
	}
	if claims.Kind != string(KindDeveloper) && claims.Kind != string(KindAdmin) {
		return "", fmt.Errorf("%w: only developer tokens can be refreshed", ErrInvalidToken)
	}
	role := "developer"
	if claims.Kind == string(KindAdmin) {
		role = "admin"
	}
	return t.IssueDeveloper(claims.DeveloperID, claims.Email, role)
}

// Verify parses and validates a bearer token, returning its claims.
func (t *TokenIssuer) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.secret, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithAudience("agentvault"),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpiredToken, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: malformed claims", ErrInvalidToken)
	}
	switch claims.Kind {
	case string(KindDeveloper), string(KindAdmin), string(KindAgent):
	default:
		return nil, fmt.Errorf("%w: unknown token kind %q", ErrInvalidToken, claims.Kind)
	}
	return claims, nil
}

// Principal converts verified claims into a Principal.
func (c *Claims) Principal() *Principal {
	return &Principal{
		Kind:        PrincipalKind(c.Kind),
		DeveloperID: c.DeveloperID,
		AgentDID:    c.AgentDID,
		Email:       c.Email,
	}
}

// AgentTTL returns the configured agent token lifetime, used by the token
// endpoint to populate expires_in.
func (t *TokenIssuer) AgentTTL() time.Duration { return t.agentTTL }

func (t *TokenIssuer) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
