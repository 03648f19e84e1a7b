package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequireDeveloper authenticates a developer or admin session token from the
// Authorization header and injects the principal into the request context.
func RequireDeveloper(issuer *TokenIssuer) gin.HandlerFunc {
	return requireKinds(issuer, KindDeveloper, KindAdmin)
}

// RequireAdmin authenticates a session token and rejects non-admin
// principals with 403.
func RequireAdmin(issuer *TokenIssuer) gin.HandlerFunc {
	return requireKinds(issuer, KindAdmin)
}

// RequireAgent authenticates an agent bearer token obtained via the
// client-credentials grant.
func RequireAgent(issuer *TokenIssuer) gin.HandlerFunc {
	return requireKinds(issuer, KindAgent)
}

// RequireAnyPrincipal accepts any verified principal kind.
func RequireAnyPrincipal(issuer *TokenIssuer) gin.HandlerFunc {
	return requireKinds(issuer, KindDeveloper, KindAdmin, KindAgent)
}

// APIKeyAuthenticator resolves a plaintext API key to a principal.
// *developers.Service satisfies it.
type APIKeyAuthenticator interface {
	AuthenticateAPIKey(ctx context.Context, plainKey string) (*Principal, error)
}

// APIKeyHeader carries API keys on inbound requests, matching the header
// the federation client sends to peers.
const APIKeyHeader = "X-Api-Key"

// APIKeyAuth authenticates requests carrying an X-Api-Key header and
// injects the resolved principal, letting the Require* middleware accept
// them without a bearer token. Requests without the header pass through
// untouched; requests with a bad key are rejected here.
func APIKeyAuth(auth APIKeyAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(APIKeyHeader)
		if raw == "" {
			c.Next()
			return
		}

		p, err := auth.AuthenticateAPIKey(c.Request.Context(), raw)
		if err != nil {
			status := http.StatusUnauthorized
			code := "AUTH_INVALID_TOKEN"
			switch {
			case errors.Is(err, ErrExpiredToken):
				code = "AUTH_EXPIRED"
			case errors.Is(err, ErrForbidden):
				status = http.StatusForbidden
				code = "AUTH_FORBIDDEN"
			}
			c.AbortWithStatusJSON(status, gin.H{
				"error_code": code,
				"message":    "api key is invalid, expired, or revoked",
			})
			return
		}

		c.Set(ctxPrincipal, p)
		c.Next()
	}
}

func requireKinds(issuer *TokenIssuer, kinds ...PrincipalKind) gin.HandlerFunc {
	allowed := make(map[PrincipalKind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}
	// Admins may use any developer-accessible endpoint.
	if allowed[KindDeveloper] {
		allowed[KindAdmin] = true
	}

	return func(c *gin.Context) {
		// A principal injected upstream (API-key auth) stands in for a
		// bearer token but still has to pass the kind check.
		if p := PrincipalFromCtx(c); p != nil {
			if !allowed[p.Kind] {
				forbidKind(c)
				return
			}
			c.Next()
			return
		}

		raw, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error_code": "AUTH_MISSING_TOKEN",
				"message":    "authorization header with bearer token is required",
			})
			return
		}

		claims, err := issuer.Verify(raw)
		if err != nil {
			code := "AUTH_INVALID_TOKEN"
			if errors.Is(err, ErrExpiredToken) {
				code = "AUTH_EXPIRED"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error_code": code,
				"message":    "token is invalid or expired",
			})
			return
		}

		p := claims.Principal()
		if !allowed[p.Kind] {
			forbidKind(c)
			return
		}

		c.Set(ctxPrincipal, p)
		c.Next()
	}
}

func forbidKind(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"error_code": "AUTH_FORBIDDEN",
		"message":    "principal is not permitted to call this endpoint",
	})
}

// PrincipalFromCtx returns the verified principal injected by the
// middleware, or nil when the request is unauthenticated.
func PrincipalFromCtx(c *gin.Context) *Principal {
	v, ok := c.Get(ctxPrincipal)
	if !ok {
		return nil
	}
	p, _ := v.(*Principal)
	return p
}

func bearerToken(c *gin.Context) (string, bool) {
	h := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}
