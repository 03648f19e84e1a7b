package handler_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/agentvault/agentvault/internal/identity"
	"github.com/agentvault/agentvault/internal/registry/handler"
	"github.com/agentvault/agentvault/internal/teg"
)

// stubAdminDeps records the suspension and notification calls the admin
// handler makes on its collaborators.
type stubAdminDeps struct {
	suspended   map[uuid.UUID]bool
	unsuspended map[uuid.UUID]bool
	notified    []uuid.UUID
}

func newStubAdminDeps() *stubAdminDeps {
	return &stubAdminDeps{suspended: make(map[uuid.UUID]bool), unsuspended: make(map[uuid.UUID]bool)}
}

func (s *stubAdminDeps) Suspend(_ context.Context, id uuid.UUID, _ string) error {
	s.suspended[id] = true
	return nil
}

func (s *stubAdminDeps) Unsuspend(_ context.Context, id uuid.UUID) error {
	s.unsuspended[id] = true
	return nil
}

func (s *stubAdminDeps) DisputeResolved(_ context.Context, d *teg.Dispute) {
	s.notified = append(s.notified, d.DisputeID)
}

func setupAdminRouter(t *testing.T) (*gin.Engine, *teg.Service, *stubAdminDeps, map[string]string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ledger := teg.NewService(teg.NewMemoryStore(), teg.DefaultConfig(), nil, nil, zap.NewNop())
	devs := newStubAdminDeps()
	tokens := testIssuer(t)
	h := handler.NewAdminHandler(ledger, devs, devs, zap.NewNop())

	router := gin.New()
	v1 := router.Group("/api/v1")
	admin := v1.Group("")
	admin.Use(identity.RequireAdmin(tokens))
	h.Register(admin)
	return router, ledger, devs, adminAuth(t, tokens)
}

func TestIssueTokens(t *testing.T) {
	router, ledger, _, headers := setupAdminRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/admin/tokens/issue", map[string]string{
		"receiver_did": receiverDID,
		"amount":       "500",
		"message":      "grant",
	}, headers)
	wantStatus(t, w, http.StatusCreated)

	profile, err := ledger.Profile(context.Background(), receiverDID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if !profile.Balance.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("balance = %s, want 500", profile.Balance)
	}
}

func TestSuspendAndReinstateAccount(t *testing.T) {
	router, ledger, devs, headers := setupAdminRouter(t)
	devID := uuid.New()

	if _, err := ledger.Issue(context.Background(), senderDID, decimal.NewFromInt(100), ""); err != nil {
		t.Fatalf("fund: %v", err)
	}

	w := doJSON(t, router, http.MethodPost, "/api/v1/admin/accounts/suspend", map[string]string{
		"agent_did":    senderDID,
		"developer_id": devID.String(),
		"reason":       "abuse",
	}, headers)
	wantStatus(t, w, http.StatusOK)

	if !devs.suspended[devID] {
		t.Fatal("developer suspension not recorded")
	}
	profile, _ := ledger.Profile(context.Background(), senderDID)
	if profile.Status != teg.AccountSuspended {
		t.Fatalf("ledger status = %s, want suspended", profile.Status)
	}

	// Suspended accounts cannot send.
	if _, _, err := ledger.Transfer(context.Background(), senderDID, receiverDID, decimal.NewFromInt(1), nil, ""); err == nil {
		t.Fatal("expected transfer from suspended account to fail")
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/admin/accounts/reinstate", map[string]string{
		"agent_did":    senderDID,
		"developer_id": devID.String(),
	}, headers)
	wantStatus(t, w, http.StatusOK)

	profile, _ = ledger.Profile(context.Background(), senderDID)
	if profile.Status != teg.AccountActive {
		t.Fatalf("ledger status = %s, want active", profile.Status)
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/admin/accounts/suspend", map[string]string{}, headers)
	wantStatus(t, w, http.StatusBadRequest)
}

func TestDisputeArbitration(t *testing.T) {
	router, ledger, stubs, headers := setupAdminRouter(t)
	ctx := context.Background()

	for _, didStr := range []string{senderDID, receiverDID} {
		if _, err := ledger.Issue(ctx, didStr, decimal.NewFromInt(1000), ""); err != nil {
			t.Fatalf("fund: %v", err)
		}
	}
	dispute, err := ledger.FileDispute(ctx, senderDID, receiverDID, nil, "non_delivery", "")
	if err != nil {
		t.Fatalf("file dispute: %v", err)
	}
	path := "/api/v1/admin/disputes/" + dispute.DisputeID.String()

	w := doJSON(t, router, http.MethodGet, "/api/v1/admin/disputes?status=filed", nil, headers)
	wantStatus(t, w, http.StatusOK)
	if disputes, _ := decodeBody(t, w)["disputes"].([]any); len(disputes) != 1 {
		t.Fatalf("disputes = %d, want 1", len(disputes))
	}

	w = doJSON(t, router, http.MethodPost, path+"/review", nil, headers)
	wantStatus(t, w, http.StatusNoContent)

	w = doJSON(t, router, http.MethodPost, path+"/resolve", map[string]string{
		"outcome": "resolved_claimant",
		"notes":   "evidence conclusive",
	}, headers)
	wantStatus(t, w, http.StatusOK)
	if decodeBody(t, w)["status"] != "resolved_claimant" {
		t.Fatalf("resolve response: %s", w.Body.String())
	}
	if len(stubs.notified) != 1 || stubs.notified[0] != dispute.DisputeID {
		t.Fatalf("notified = %v, want [%s]", stubs.notified, dispute.DisputeID)
	}

	// Terminal disputes cannot be resolved twice.
	w = doJSON(t, router, http.MethodPost, path+"/resolve", map[string]string{
		"outcome": "invalid",
	}, headers)
	wantStatus(t, w, http.StatusConflict)

	// Bogus outcomes are rejected.
	other, err := ledger.FileDispute(ctx, receiverDID, senderDID, nil, "non_delivery", "")
	if err != nil {
		t.Fatalf("file second dispute: %v", err)
	}
	w = doJSON(t, router, http.MethodPost, "/api/v1/admin/disputes/"+other.DisputeID.String()+"/resolve",
		map[string]string{"outcome": "filed"}, headers)
	wantStatus(t, w, http.StatusBadRequest)
}

func TestUpsertAttestationPolicy(t *testing.T) {
	router, ledger, _, headers := setupAdminRouter(t)

	w := doJSON(t, router, http.MethodPut, "/api/v1/admin/attestation/policies", map[string]any{
		"policy_code":      "fair_use_v1",
		"base_reward":      "5",
		"cooldown_seconds": 3600,
		"is_active":        true,
	}, headers)
	wantStatus(t, w, http.StatusOK)

	policy, err := ledger.GetPolicy(context.Background(), "fair_use_v1")
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if !policy.IsActive {
		t.Fatal("policy should be active")
	}

	w = doJSON(t, router, http.MethodPut, "/api/v1/admin/attestation/policies",
		map[string]any{"base_reward": "5"}, headers)
	wantStatus(t, w, http.StatusBadRequest)
}
