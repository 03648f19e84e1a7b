package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentvault/agentvault/internal/registry/model"
	"github.com/agentvault/agentvault/internal/registry/repository"
)

// stubBootstrapRepo is an in-memory bootstrapRepo for tests.
type stubBootstrapRepo struct {
	tokens map[string]*model.BootstrapToken // keyed by token hash
	creds  map[string]*model.AgentCredential
	cards  map[string]*model.AgentCard // keyed by name
}

func newStubBootstrapRepo() *stubBootstrapRepo {
	return &stubBootstrapRepo{
		tokens: make(map[string]*model.BootstrapToken),
		creds:  make(map[string]*model.AgentCredential),
		cards:  make(map[string]*model.AgentCard),
	}
}

func (r *stubBootstrapRepo) CreateToken(_ context.Context, t *model.BootstrapToken) error {
	t.ID = uuid.New()
	t.CreatedAt = time.Now().UTC()
	r.tokens[t.TokenHash] = t
	return nil
}

func (r *stubBootstrapRepo) CountIssuedSince(_ context.Context, createdBy uuid.UUID, since time.Time) (int, error) {
	n := 0
	for _, t := range r.tokens {
		if t.CreatedBy == createdBy && !t.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *stubBootstrapRepo) Redeem(_ context.Context, tokenHash string, card *model.AgentCard, cred *model.AgentCredential) (*model.BootstrapToken, error) {
	t, ok := r.tokens[tokenHash]
	if !ok {
		return nil, repository.ErrTokenNotFound
	}
	now := time.Now().UTC()
	if t.Used() {
		return nil, repository.ErrTokenUsed
	}
	if t.Expired(now) {
		return nil, repository.ErrTokenExpired
	}
	if _, taken := r.cards[card.Name]; taken {
		return nil, repository.ErrDuplicateName
	}
	card.ID = uuid.New()
	card.DeveloperID = t.CreatedBy
	if card.AgentType == "" {
		card.AgentType = t.AgentType
	}
	r.cards[card.Name] = card
	t.UsedAt = &now
	t.UsedByDID = card.DID
	cred.DeveloperID = t.CreatedBy
	r.creds[cred.ClientID] = cred
	return t, nil
}

func (r *stubBootstrapRepo) GetCredential(_ context.Context, clientID string) (*model.AgentCredential, error) {
	c, ok := r.creds[clientID]
	if !ok {
		return nil, repository.ErrTokenNotFound
	}
	return c, nil
}

func (r *stubBootstrapRepo) SweepExpired(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for h, t := range r.tokens {
		if t.UsedAt == nil && t.ExpiresAt.Before(cutoff) {
			delete(r.tokens, h)
			n++
		}
	}
	return n, nil
}

func TestIssueAndRedeem(t *testing.T) {
	repo := newStubBootstrapRepo()
	svc := NewOnboardService(repo, nil, zap.NewNop())
	ctx := context.Background()
	creator := uuid.New()

	plaintext, tok, err := svc.IssueToken(ctx, creator, "assistant")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if !strings.HasPrefix(plaintext, "avb_") {
		t.Errorf("token = %q, want avb_ prefix", plaintext)
	}
	if tok.TokenHash == plaintext {
		t.Error("plaintext token stored instead of hash")
	}

	result, err := svc.Redeem(ctx, plaintext, "helper-bot", "cos")
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if !strings.HasPrefix(result.DID, "did:cos:") {
		t.Errorf("DID = %q, want did:cos: prefix", result.DID)
	}
	if result.ClientID == "" || result.ClientSecret == "" {
		t.Error("redeem must return client credentials")
	}

	// The agent card lands under the token creator with the issuance hint.
	card := repo.cards["helper-bot"]
	if card == nil {
		t.Fatal("redeem did not register the agent card")
	}
	if card.DeveloperID != creator {
		t.Errorf("card owner = %v, want token creator %v", card.DeveloperID, creator)
	}
	if card.AgentType != "assistant" {
		t.Errorf("card agent_type = %q, want %q from the token", card.AgentType, "assistant")
	}
	if card.DID != result.DID {
		t.Errorf("card DID = %q, want %q", card.DID, result.DID)
	}

	// Second redemption of the same token fails.
	if _, err := svc.Redeem(ctx, plaintext, "helper-bot-2", ""); !errors.Is(err, repository.ErrTokenUsed) {
		t.Fatalf("second redeem: err = %v, want ErrTokenUsed", err)
	}
}

func TestRedeem_validation(t *testing.T) {
	repo := newStubBootstrapRepo()
	svc := NewOnboardService(repo, nil, zap.NewNop())
	ctx := context.Background()

	plaintext, _, err := svc.IssueToken(ctx, uuid.New(), "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Redeem(ctx, plaintext, "  ", ""); !errors.Is(err, ErrAgentNameRequired) {
		t.Fatalf("blank name: err = %v, want ErrAgentNameRequired", err)
	}
	if _, err := svc.Redeem(ctx, plaintext, "helper-bot", "web"); !errors.Is(err, ErrUnsupportedDIDMethod) {
		t.Fatalf("foreign method: err = %v, want ErrUnsupportedDIDMethod", err)
	}
	// Neither rejection consumed the token.
	if _, err := svc.Redeem(ctx, plaintext, "helper-bot", ""); err != nil {
		t.Fatalf("redeem after rejections: %v", err)
	}
}

func TestRedeem_unknownToken(t *testing.T) {
	svc := NewOnboardService(newStubBootstrapRepo(), nil, zap.NewNop())
	if _, err := svc.Redeem(context.Background(), "avb_bogus", "helper-bot", ""); !errors.Is(err, repository.ErrTokenNotFound) {
		t.Fatalf("err = %v, want ErrTokenNotFound", err)
	}
}

func TestRedeem_expiredToken(t *testing.T) {
	repo := newStubBootstrapRepo()
	svc := NewOnboardService(repo, nil, zap.NewNop())
	ctx := context.Background()

	plaintext, tok, err := svc.IssueToken(ctx, uuid.New(), "")
	if err != nil {
		t.Fatal(err)
	}
	tok.ExpiresAt = time.Now().UTC().Add(-time.Minute)

	if _, err := svc.Redeem(ctx, plaintext, "helper-bot", ""); !errors.Is(err, repository.ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}

func TestIssueToken_rateLimit(t *testing.T) {
	svc := NewOnboardService(newStubBootstrapRepo(), nil, zap.NewNop())
	ctx := context.Background()
	creator := uuid.New()

	for i := 0; i < 5; i++ {
		if _, _, err := svc.IssueToken(ctx, creator, ""); err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
	}
	if _, _, err := svc.IssueToken(ctx, creator, ""); !errors.Is(err, ErrTokenRateLimited) {
		t.Fatalf("err = %v, want ErrTokenRateLimited", err)
	}
	// A different creator is unaffected.
	if _, _, err := svc.IssueToken(ctx, uuid.New(), ""); err != nil {
		t.Fatalf("other creator: %v", err)
	}
}

func TestVerifyClientCredentials(t *testing.T) {
	repo := newStubBootstrapRepo()
	svc := NewOnboardService(repo, nil, zap.NewNop())
	ctx := context.Background()

	plaintext, _, err := svc.IssueToken(ctx, uuid.New(), "")
	if err != nil {
		t.Fatal(err)
	}
	result, err := svc.Redeem(ctx, plaintext, "verifier-bot", "")
	if err != nil {
		t.Fatal(err)
	}

	cred, err := svc.VerifyClientCredentials(ctx, result.ClientID, result.ClientSecret)
	if err != nil {
		t.Fatalf("VerifyClientCredentials: %v", err)
	}
	if cred.AgentDID != result.DID {
		t.Errorf("AgentDID = %q, want %q", cred.AgentDID, result.DID)
	}
	if _, err := svc.VerifyClientCredentials(ctx, result.ClientID, "wrong"); err == nil {
		t.Error("wrong secret accepted")
	}
}
