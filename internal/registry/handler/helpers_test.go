package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentvault/agentvault/internal/identity"
	"github.com/agentvault/agentvault/internal/registry/handler"
)

func testIssuer(t *testing.T) *identity.TokenIssuer {
	t.Helper()
	return identity.NewTokenIssuer([]byte("test-secret-test-secret-32bytes!"), "http://test", time.Hour, time.Hour)
}

// freshLimits gives each test its own rate-limit buckets so tests cannot
// starve each other.
func freshLimits() *handler.RateLimits {
	return handler.NewRateLimits()
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func wantStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, want, w.Body.String())
	}
}

func wantErrorCode(t *testing.T, w *httptest.ResponseRecorder, want string) {
	t.Helper()
	body := decodeBody(t, w)
	if got, _ := body["error_code"].(string); got != want {
		t.Fatalf("error_code = %q, want %q; body: %s", got, want, w.Body.String())
	}
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}
