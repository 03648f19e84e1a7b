package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// stubKeyAuth resolves a single known key; everything else errors.
type stubKeyAuth struct {
	key       string
	principal *Principal
	err       error
}

func (s *stubKeyAuth) AuthenticateAPIKey(_ context.Context, plainKey string) (*Principal, error) {
	if s.err != nil {
		return nil, s.err
	}
	if plainKey != s.key {
		return nil, ErrInvalidToken
	}
	return s.principal, nil
}

func keyRouter(auth *stubKeyAuth, require gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", APIKeyAuth(auth), require, func(c *gin.Context) {
		p := PrincipalFromCtx(c)
		c.JSON(http.StatusOK, gin.H{"kind": p.Kind, "developer_id": p.DeveloperID})
	})
	return r
}

func get(r *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAPIKeyAuth_standsInForBearer(t *testing.T) {
	iss := testIssuer(0, 0)
	auth := &stubKeyAuth{
		key:       "avk_abcd1234_secret",
		principal: &Principal{Kind: KindDeveloper, DeveloperID: "dev-1"},
	}
	r := keyRouter(auth, RequireDeveloper(iss))

	w := get(r, map[string]string{APIKeyHeader: "avk_abcd1234_secret"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}

	// Without the header or a bearer token the route stays closed.
	w = get(r, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no credentials: status = %d, want 401", w.Code)
	}
}

func TestAPIKeyAuth_rejectsBadKey(t *testing.T) {
	iss := testIssuer(0, 0)
	auth := &stubKeyAuth{key: "avk_abcd1234_secret", principal: &Principal{Kind: KindDeveloper}}
	r := keyRouter(auth, RequireDeveloper(iss))

	w := get(r, map[string]string{APIKeyHeader: "avk_wrong_key"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401; body: %s", w.Code, w.Body.String())
	}
}

func TestAPIKeyAuth_expiredAndSuspended(t *testing.T) {
	iss := testIssuer(0, 0)

	r := keyRouter(&stubKeyAuth{err: ErrExpiredToken}, RequireDeveloper(iss))
	w := get(r, map[string]string{APIKeyHeader: "avk_any_key"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expired: status = %d, want 401", w.Code)
	}

	r = keyRouter(&stubKeyAuth{err: ErrForbidden}, RequireDeveloper(iss))
	w = get(r, map[string]string{APIKeyHeader: "avk_any_key"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("suspended owner: status = %d, want 403", w.Code)
	}
}

func TestAPIKeyAuth_kindCheckStillApplies(t *testing.T) {
	iss := testIssuer(0, 0)
	auth := &stubKeyAuth{
		key:       "avk_abcd1234_secret",
		principal: &Principal{Kind: KindDeveloper, DeveloperID: "dev-1"},
	}

	// A developer key cannot reach agent-only routes.
	r := keyRouter(auth, RequireAgent(iss))
	w := get(r, map[string]string{APIKeyHeader: "avk_abcd1234_secret"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("agent route: status = %d, want 403; body: %s", w.Code, w.Body.String())
	}

	// Nor admin-only routes.
	r = keyRouter(auth, RequireAdmin(iss))
	w = get(r, map[string]string{APIKeyHeader: "avk_abcd1234_secret"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("admin route: status = %d, want 403", w.Code)
	}
}

func TestAPIKeyAuth_adminKeyReachesAdminRoutes(t *testing.T) {
	iss := testIssuer(0, 0)
	auth := &stubKeyAuth{
		key:       "avk_abcd1234_secret",
		principal: &Principal{Kind: KindAdmin, DeveloperID: "dev-2"},
	}
	r := keyRouter(auth, RequireAdmin(iss))

	w := get(r, map[string]string{APIKeyHeader: "avk_abcd1234_secret"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
}

func TestAPIKeyAuth_passesThroughToBearer(t *testing.T) {
	iss := testIssuer(0, 0)
	auth := &stubKeyAuth{key: "avk_abcd1234_secret", principal: &Principal{Kind: KindDeveloper}}
	r := keyRouter(auth, RequireDeveloper(iss))

	tok, err := iss.IssueDeveloper("dev-3", "dev@example.com", "developer")
	if err != nil {
		t.Fatalf("IssueDeveloper: %v", err)
	}
	w := get(r, map[string]string{"Authorization": "Bearer " + tok})
	if w.Code != http.StatusOK {
		t.Fatalf("bearer fallback: status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
}
