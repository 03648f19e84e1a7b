package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/agentvault/agentvault/internal/registry/model"
	"github.com/agentvault/agentvault/pkg/did"
)

// ErrTokenRateLimited is returned when a creator exceeds the bootstrap
// token issuance budget (5 per minute).
var ErrTokenRateLimited = errors.New("bootstrap token issuance rate exceeded")

// ErrAgentNameRequired is returned when a redemption request carries no
// agent name.
var ErrAgentNameRequired = errors.New("agent_name is required")

// ErrUnsupportedDIDMethod is returned when a redemption requests a DID
// method other than cos.
var ErrUnsupportedDIDMethod = errors.New("unsupported DID method, only cos is available")

const (
	bootstrapTokenTTL   = 5 * time.Minute
	issuanceWindow      = time.Minute
	issuanceLimit       = 5
	clientSecretBytes   = 32
	bootstrapTokenBytes = 24
)

// bootstrapRepo is the persistence interface for onboarding.
// *repository.BootstrapRepository satisfies this interface.
type bootstrapRepo interface {
	CreateToken(ctx context.Context, t *model.BootstrapToken) error
	CountIssuedSince(ctx context.Context, createdBy uuid.UUID, since time.Time) (int, error)
	Redeem(ctx context.Context, tokenHash string, card *model.AgentCard, cred *model.AgentCredential) (*model.BootstrapToken, error)
	GetCredential(ctx context.Context, clientID string) (*model.AgentCredential, error)
	SweepExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// OnboardService issues single-use bootstrap tokens and redeems them into
// agent identities with OAuth client credentials.
type OnboardService struct {
	repo     bootstrapRepo
	activity activityRecorder
	logger   *zap.Logger
}

// NewOnboardService creates a new OnboardService.
func NewOnboardService(repo bootstrapRepo, activity activityRecorder, logger *zap.Logger) *OnboardService {
	if activity == nil {
		activity = noopActivity{}
	}
	return &OnboardService{repo: repo, activity: activity, logger: logger}
}

// IssueToken mints a bootstrap token for a new agent. The plaintext token
// is returned exactly once; only its hash is stored. Issuance is limited to
// 5 tokens per creator per minute.
func (s *OnboardService) IssueToken(ctx context.Context, createdBy uuid.UUID, agentType string) (string, *model.BootstrapToken, error) {
	n, err := s.repo.CountIssuedSince(ctx, createdBy, time.Now().UTC().Add(-issuanceWindow))
	if err != nil {
		return "", nil, fmt.Errorf("check issuance budget: %w", err)
	}
	if n >= issuanceLimit {
		return "", nil, ErrTokenRateLimited
	}

	plaintext, err := generateToken()
	if err != nil {
		return "", nil, fmt.Errorf("generate bootstrap token: %w", err)
	}

	t := &model.BootstrapToken{
		TokenHash: hashToken(plaintext),
		CreatedBy: createdBy,
		AgentType: agentType,
		ExpiresAt: time.Now().UTC().Add(bootstrapTokenTTL),
	}
	if err := s.repo.CreateToken(ctx, t); err != nil {
		return "", nil, err
	}

	s.logger.Info("bootstrap token issued",
		zap.String("token_id", t.ID.String()),
		zap.String("created_by", createdBy.String()),
		zap.Time("expires_at", t.ExpiresAt),
	)
	return plaintext, t, nil
}

// Redeem exchanges a bootstrap token for a fresh agent identity: a catalog
// entry under the token creator's account plus OAuth client credentials. The
// token is consumed atomically with the agent insert; concurrent redemptions
// see exactly one winner. The returned client secret is shown once and never
// stored in plaintext.
//
// didMethod may be empty or "cos"; any other method is rejected since the
// registry only mints did:cos identifiers.
func (s *OnboardService) Redeem(ctx context.Context, plaintext, agentName, didMethod string) (*model.OnboardResult, error) {
	agentName = strings.TrimSpace(agentName)
	if agentName == "" {
		return nil, ErrAgentNameRequired
	}
	if didMethod != "" && didMethod != "cos" {
		return nil, ErrUnsupportedDIDMethod
	}

	agentDID := did.New()

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate client secret: %w", err)
	}
	secretHash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash client secret: %w", err)
	}

	// The card starts bare: the agent fills in endpoints, capabilities, and
	// auth schemes once it holds a bearer token. Owner and agent type come
	// from the token inside the redemption transaction.
	card := &model.AgentCard{
		DID:          agentDID,
		Name:         agentName,
		Status:       model.AgentStatusActive,
		Endpoints:    []string{},
		Capabilities: []string{},
		AuthSchemes:  []model.AuthScheme{},
	}
	cred := &model.AgentCredential{
		ClientID:         "agent-" + uuid.New().String(),
		ClientSecretHash: string(secretHash),
		AgentDID:         agentDID,
	}

	t, err := s.repo.Redeem(ctx, hashToken(plaintext), card, cred)
	if err != nil {
		return nil, err
	}

	s.activity.Record(ctx, agentDID, "agent.onboarded", t.CreatedBy.String(), nil)
	s.logger.Info("bootstrap token redeemed",
		zap.String("token_id", t.ID.String()),
		zap.String("agent_did", agentDID),
		zap.String("agent_name", agentName),
	)
	return &model.OnboardResult{
		DID:          agentDID,
		ClientID:     cred.ClientID,
		ClientSecret: secret,
	}, nil
}

// VerifyClientCredentials checks an OAuth client_id/client_secret pair and
// returns the credential record on success. Used by the agent token
// endpoint for the client-credentials grant.
func (s *OnboardService) VerifyClientCredentials(ctx context.Context, clientID, clientSecret string) (*model.AgentCredential, error) {
	cred, err := s.repo.GetCredential(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.ClientSecretHash), []byte(clientSecret)); err != nil {
		return nil, fmt.Errorf("invalid client credentials")
	}
	return cred, nil
}

// SweepExpired removes unused tokens whose window has passed. Run
// periodically from the server main loop.
func (s *OnboardService) SweepExpired(ctx context.Context) {
	n, err := s.repo.SweepExpired(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Warn("sweep bootstrap tokens", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Debug("swept expired bootstrap tokens", zap.Int64("count", n))
	}
}

func generateToken() (string, error) {
	buf := make([]byte, bootstrapTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return "avb_" + strings.ToLower(enc.EncodeToString(buf)), nil
}

func generateSecret() (string, error) {
	buf := make([]byte, clientSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
