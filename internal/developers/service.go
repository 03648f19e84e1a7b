package developers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/agentvault/agentvault/internal/email"
	"github.com/agentvault/agentvault/internal/identity"
)

// ErrInvalidCredentials is returned on login with a wrong email or password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrSuspended is returned when a suspended account attempts to log in.
var ErrSuspended = errors.New("account suspended")

// developerRepo is the storage interface consumed by Service.
type developerRepo interface {
	Create(ctx context.Context, d *Developer) error
	GetByID(ctx context.Context, id uuid.UUID) (*Developer, error)
	GetByEmail(ctx context.Context, email string) (*Developer, error)
	SetSuspended(ctx context.Context, id uuid.UUID, suspended bool) error
	SetPasswordHash(ctx context.Context, id uuid.UUID, hash string) error

	CreateAPIKey(ctx context.Context, k *APIKey) error
	GetAPIKeyByPrefix(ctx context.Context, prefix string) (*APIKey, error)
	ListAPIKeysByDeveloper(ctx context.Context, developerID uuid.UUID) ([]*APIKey, error)
	RevokeAPIKey(ctx context.Context, keyID, developerID uuid.UUID) error
}

// Service implements business logic for developer account management.
type Service struct {
	repo   developerRepo
	mailer email.Sender
	logger *zap.Logger
}

// NewService creates a new Service.
func NewService(repo developerRepo, mailer email.Sender, logger *zap.Logger) *Service {
	return &Service{repo: repo, mailer: mailer, logger: logger}
}

// Register creates a new developer account with email/password credentials.
func (s *Service) Register(ctx context.Context, emailAddr, password, name string) (*Developer, error) {
	emailAddr = strings.TrimSpace(strings.ToLower(emailAddr))
	if emailAddr == "" || password == "" {
		return nil, fmt.Errorf("email and password are required")
	}
	if !strings.Contains(emailAddr, "@") {
		return nil, fmt.Errorf("invalid email address")
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	if name == "" {
		name = emailAddr[:strings.Index(emailAddr, "@")]
	}

	d := &Developer{
		Email:        emailAddr,
		PasswordHash: string(hash),
		Name:         name,
		Role:         RoleDeveloper,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create developer: %w", err)
	}

	s.logger.Info("developer registered",
		zap.String("developer_id", d.ID.String()),
		zap.String("email", d.Email),
	)
	return d, nil
}

// Login verifies email/password credentials. Suspended accounts are
// rejected even with correct credentials.
func (s *Service) Login(ctx context.Context, emailAddr, password string) (*Developer, error) {
	d, err := s.repo.GetByEmail(ctx, strings.TrimSpace(strings.ToLower(emailAddr)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup developer: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(d.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if d.Suspended {
		return nil, ErrSuspended
	}
	return d, nil
}

// GetByID retrieves a developer by ID.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Developer, error) {
	return s.repo.GetByID(ctx, id)
}

// Suspend marks an account as suspended and notifies the owner by email.
// Suspended accounts cannot log in or obtain fresh tokens; existing tokens
// remain valid until expiry.
func (s *Service) Suspend(ctx context.Context, id uuid.UUID, reason string) error {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.SetSuspended(ctx, id, true); err != nil {
		return err
	}

	body := fmt.Sprintf(
		"Hello %s,\n\nYour AgentVault account has been suspended.\n\nReason: %s\n\nContact the platform operators to appeal.\n",
		d.Name, reason,
	)
	if err := s.mailer.Send(ctx, d.Email, "AgentVault account suspended", body); err != nil {
		s.logger.Warn("send suspension email",
			zap.String("developer_id", id.String()),
			zap.Error(err),
		)
	}

	s.logger.Info("developer suspended",
		zap.String("developer_id", id.String()),
		zap.String("reason", reason),
	)
	return nil
}

// Unsuspend reinstates a suspended account.
func (s *Service) Unsuspend(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.SetSuspended(ctx, id, false); err != nil {
		return err
	}
	s.logger.Info("developer unsuspended", zap.String("developer_id", id.String()))
	return nil
}

// ChangePassword verifies the current password and sets a new one.
func (s *Service) ChangePassword(ctx context.Context, id uuid.UUID, current, next string) error {
	if len(next) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(d.PasswordHash), []byte(current)); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.repo.SetPasswordHash(ctx, id, string(hash))
}

// MintAPIKey creates a new API key for a developer and returns the record
// together with the plaintext key, which is never retrievable afterwards.
// A zero ttl yields a key without an expiry.
func (s *Service) MintAPIKey(ctx context.Context, developerID uuid.UUID, name string, scopes []string, ttl time.Duration) (*APIKey, string, error) {
	gen, err := identity.NewAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("mint api key: %w", err)
	}

	k := &APIKey{
		Prefix:      gen.Prefix,
		KeyHash:     gen.Hash,
		DeveloperID: developerID,
		Name:        strings.TrimSpace(name),
		Scopes:      scopes,
	}
	if ttl > 0 {
		exp := time.Now().UTC().Add(ttl)
		k.ExpiresAt = &exp
	}
	if err := s.repo.CreateAPIKey(ctx, k); err != nil {
		return nil, "", err
	}

	s.logger.Info("api key minted",
		zap.String("developer_id", developerID.String()),
		zap.String("key_id", k.KeyID.String()),
		zap.String("prefix", k.Prefix),
	)
	return k, gen.PlainKey, nil
}

// AuthenticateAPIKey resolves a presented key to a verified principal.
// Malformed keys, unknown prefixes, and hash mismatches are all reported
// as identity.ErrInvalidToken so callers cannot distinguish them.
func (s *Service) AuthenticateAPIKey(ctx context.Context, plainKey string) (*identity.Principal, error) {
	prefix, err := identity.ParseAPIKeyPrefix(plainKey)
	if err != nil {
		return nil, identity.ErrInvalidToken
	}

	k, err := s.repo.GetAPIKeyByPrefix(ctx, prefix)
	if err != nil {
		if errors.Is(err, ErrAPIKeyNotFound) {
			return nil, identity.ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	if !identity.VerifyAPIKey(plainKey, k.KeyHash) {
		return nil, identity.ErrInvalidToken
	}
	if k.RevokedAt != nil {
		return nil, identity.ErrInvalidToken
	}
	if k.ExpiresAt != nil && !time.Now().UTC().Before(*k.ExpiresAt) {
		return nil, identity.ErrExpiredToken
	}

	d, err := s.repo.GetByID(ctx, k.DeveloperID)
	if err != nil {
		return nil, identity.ErrInvalidToken
	}
	if d.Suspended {
		return nil, identity.ErrForbidden
	}

	kind := identity.KindDeveloper
	if d.Role == RoleAdmin {
		kind = identity.KindAdmin
	}
	return &identity.Principal{
		Kind:        kind,
		DeveloperID: d.ID.String(),
		Email:       d.Email,
		Scopes:      k.Scopes,
	}, nil
}

// ListAPIKeys returns a developer's keys, newest first.
func (s *Service) ListAPIKeys(ctx context.Context, developerID uuid.UUID) ([]*APIKey, error) {
	return s.repo.ListAPIKeysByDeveloper(ctx, developerID)
}

// RevokeAPIKey revokes one of the developer's own keys. Revoked keys stop
// authenticating immediately.
func (s *Service) RevokeAPIKey(ctx context.Context, keyID, developerID uuid.UUID) error {
	if err := s.repo.RevokeAPIKey(ctx, keyID, developerID); err != nil {
		return err
	}
	s.logger.Info("api key revoked",
		zap.String("developer_id", developerID.String()),
		zap.String("key_id", keyID.String()),
	)
	return nil
}
