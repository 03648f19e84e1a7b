package developers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentvault/agentvault/internal/email"
	"github.com/agentvault/agentvault/internal/identity"
)

// stubRepo is an in-memory developerRepo for tests.
type stubRepo struct {
	byID     map[uuid.UUID]*Developer
	byEmail  map[string]*Developer
	byPrefix map[string]*APIKey
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		byID:     make(map[uuid.UUID]*Developer),
		byEmail:  make(map[string]*Developer),
		byPrefix: make(map[string]*APIKey),
	}
}

func (r *stubRepo) Create(_ context.Context, d *Developer) error {
	if _, ok := r.byEmail[d.Email]; ok {
		return ErrDuplicateEmail
	}
	d.ID = uuid.New()
	if d.Role == "" {
		d.Role = RoleDeveloper
	}
	r.byID[d.ID] = d
	r.byEmail[d.Email] = d
	return nil
}

func (r *stubRepo) GetByID(_ context.Context, id uuid.UUID) (*Developer, error) {
	d, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (r *stubRepo) GetByEmail(_ context.Context, email string) (*Developer, error) {
	d, ok := r.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (r *stubRepo) SetSuspended(_ context.Context, id uuid.UUID, suspended bool) error {
	d, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	d.Suspended = suspended
	return nil
}

func (r *stubRepo) SetPasswordHash(_ context.Context, id uuid.UUID, hash string) error {
	d, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	d.PasswordHash = hash
	return nil
}

func (r *stubRepo) CreateAPIKey(_ context.Context, k *APIKey) error {
	k.KeyID = uuid.New()
	k.CreatedAt = time.Now().UTC()
	if k.Scopes == nil {
		k.Scopes = []string{}
	}
	r.byPrefix[k.Prefix] = k
	return nil
}

func (r *stubRepo) GetAPIKeyByPrefix(_ context.Context, prefix string) (*APIKey, error) {
	k, ok := r.byPrefix[prefix]
	if !ok {
		return nil, ErrAPIKeyNotFound
	}
	return k, nil
}

func (r *stubRepo) ListAPIKeysByDeveloper(_ context.Context, developerID uuid.UUID) ([]*APIKey, error) {
	keys := make([]*APIKey, 0)
	for _, k := range r.byPrefix {
		if k.DeveloperID == developerID {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (r *stubRepo) RevokeAPIKey(_ context.Context, keyID, developerID uuid.UUID) error {
	for _, k := range r.byPrefix {
		if k.KeyID == keyID && k.DeveloperID == developerID {
			if k.RevokedAt == nil {
				now := time.Now().UTC()
				k.RevokedAt = &now
			}
			return nil
		}
	}
	return ErrAPIKeyNotFound
}

func newTestService() (*Service, *stubRepo) {
	repo := newStubRepo()
	logger := zap.NewNop()
	return NewService(repo, email.NewNoopSender(logger), logger), repo
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	d, err := svc.Register(ctx, "Alice@Example.com", "correct-horse", "Alice")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if d.Email != "alice@example.com" {
		t.Errorf("email not normalized: %q", d.Email)
	}
	if d.Role != RoleDeveloper {
		t.Errorf("Role = %q, want developer", d.Role)
	}

	got, err := svc.Login(ctx, "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got.ID != d.ID {
		t.Errorf("Login returned wrong developer")
	}
}

func TestRegister_duplicateEmail(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, "dup@example.com", "password123", ""); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if _, err := svc.Register(ctx, "dup@example.com", "password456", ""); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("err = %v, want ErrDuplicateEmail", err)
	}
}

func TestRegister_shortPassword(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.Register(context.Background(), "a@b.com", "short", ""); err == nil {
		t.Fatal("expected error for short password")
	}
}

func TestLogin_wrongPassword(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, "bob@example.com", "password123", "Bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Login(ctx, "bob@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: err = %v, want ErrInvalidCredentials", err)
	}
}

func TestSuspendBlocksLogin(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	d, err := svc.Register(ctx, "carol@example.com", "password123", "Carol")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Suspend(ctx, d.ID, "terms violation"); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if _, err := svc.Login(ctx, "carol@example.com", "password123"); !errors.Is(err, ErrSuspended) {
		t.Fatalf("err = %v, want ErrSuspended", err)
	}

	if err := svc.Unsuspend(ctx, d.ID); err != nil {
		t.Fatalf("Unsuspend: %v", err)
	}
	if _, err := svc.Login(ctx, "carol@example.com", "password123"); err != nil {
		t.Fatalf("Login after unsuspend: %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	d, err := svc.Register(ctx, "dan@example.com", "old-password", "Dan")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.ChangePassword(ctx, d.ID, "wrong", "new-password1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	if err := svc.ChangePassword(ctx, d.ID, "old-password", "new-password1"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := svc.Login(ctx, "dan@example.com", "new-password1"); err != nil {
		t.Fatalf("Login with new password: %v", err)
	}
}

func TestMintAndAuthenticateAPIKey(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	d, err := svc.Register(ctx, "eve@example.com", "password123", "Eve")
	if err != nil {
		t.Fatal(err)
	}

	key, plain, err := svc.MintAPIKey(ctx, d.ID, "ci runner", []string{"agents:read"}, 0)
	if err != nil {
		t.Fatalf("MintAPIKey: %v", err)
	}
	if plain == "" || key.KeyHash == plain {
		t.Fatal("plaintext key must be returned and never stored verbatim")
	}
	if key.ExpiresAt != nil {
		t.Errorf("zero ttl should mean no expiry, got %v", key.ExpiresAt)
	}

	p, err := svc.AuthenticateAPIKey(ctx, plain)
	if err != nil {
		t.Fatalf("AuthenticateAPIKey: %v", err)
	}
	if p.Kind != identity.KindDeveloper {
		t.Errorf("Kind = %q, want developer", p.Kind)
	}
	if p.DeveloperID != d.ID.String() {
		t.Errorf("DeveloperID = %q, want %q", p.DeveloperID, d.ID)
	}
	if len(p.Scopes) != 1 || p.Scopes[0] != "agents:read" {
		t.Errorf("Scopes = %v, want [agents:read]", p.Scopes)
	}
}

func TestAuthenticateAPIKey_adminRole(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	d, err := svc.Register(ctx, "root@example.com", "password123", "Root")
	if err != nil {
		t.Fatal(err)
	}
	repo.byID[d.ID].Role = RoleAdmin

	_, plain, err := svc.MintAPIKey(ctx, d.ID, "", nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	p, err := svc.AuthenticateAPIKey(ctx, plain)
	if err != nil {
		t.Fatalf("AuthenticateAPIKey: %v", err)
	}
	if p.Kind != identity.KindAdmin {
		t.Errorf("Kind = %q, want admin", p.Kind)
	}
}

func TestAuthenticateAPIKey_rejections(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	d, err := svc.Register(ctx, "frank@example.com", "password123", "Frank")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.AuthenticateAPIKey(ctx, "not-an-api-key"); !errors.Is(err, identity.ErrInvalidToken) {
		t.Fatalf("malformed key: err = %v, want ErrInvalidToken", err)
	}
	if _, err := svc.AuthenticateAPIKey(ctx, "avk_deadbeef_0000"); !errors.Is(err, identity.ErrInvalidToken) {
		t.Fatalf("unknown prefix: err = %v, want ErrInvalidToken", err)
	}

	key, plain, err := svc.MintAPIKey(ctx, d.ID, "", nil, 0)
	if err != nil {
		t.Fatal(err)
	}

	// Right prefix, wrong secret.
	forged := "avk_" + key.Prefix + "_forgedsecret"
	if _, err := svc.AuthenticateAPIKey(ctx, forged); !errors.Is(err, identity.ErrInvalidToken) {
		t.Fatalf("forged secret: err = %v, want ErrInvalidToken", err)
	}

	// Expired key.
	past := time.Now().UTC().Add(-time.Minute)
	repo.byPrefix[key.Prefix].ExpiresAt = &past
	if _, err := svc.AuthenticateAPIKey(ctx, plain); !errors.Is(err, identity.ErrExpiredToken) {
		t.Fatalf("expired key: err = %v, want ErrExpiredToken", err)
	}
	repo.byPrefix[key.Prefix].ExpiresAt = nil

	// Suspended owner.
	repo.byID[d.ID].Suspended = true
	if _, err := svc.AuthenticateAPIKey(ctx, plain); !errors.Is(err, identity.ErrForbidden) {
		t.Fatalf("suspended owner: err = %v, want ErrForbidden", err)
	}
	repo.byID[d.ID].Suspended = false

	// Revoked key.
	if err := svc.RevokeAPIKey(ctx, key.KeyID, d.ID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}
	if _, err := svc.AuthenticateAPIKey(ctx, plain); !errors.Is(err, identity.ErrInvalidToken) {
		t.Fatalf("revoked key: err = %v, want ErrInvalidToken", err)
	}
}

func TestRevokeAPIKey_ownerScoped(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	owner, err := svc.Register(ctx, "owner@example.com", "password123", "")
	if err != nil {
		t.Fatal(err)
	}
	other, err := svc.Register(ctx, "other@example.com", "password123", "")
	if err != nil {
		t.Fatal(err)
	}

	key, _, err := svc.MintAPIKey(ctx, owner.ID, "", nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.RevokeAPIKey(ctx, key.KeyID, other.ID); !errors.Is(err, ErrAPIKeyNotFound) {
		t.Fatalf("foreign revoke: err = %v, want ErrAPIKeyNotFound", err)
	}
	if err := svc.RevokeAPIKey(ctx, key.KeyID, owner.ID); err != nil {
		t.Fatalf("owner revoke: %v", err)
	}

	keys, err := svc.ListAPIKeys(ctx, owner.ID)
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(keys) != 1 || keys[0].RevokedAt == nil {
		t.Errorf("revoked key should still be listed with its revocation time")
	}
}
