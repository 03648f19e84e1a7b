package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentvault/agentvault/internal/registry/model"
	"github.com/agentvault/agentvault/internal/registry/repository"
	"github.com/agentvault/agentvault/pkg/did"
)

// ErrNotOwner is returned when a developer attempts to modify an agent card
// they do not own.
var ErrNotOwner = errors.New("caller does not own this agent")

// agentRepo is the persistence interface for the agent service.
// *repository.AgentRepository satisfies this interface.
type agentRepo interface {
	Create(ctx context.Context, card *model.AgentCard) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.AgentCard, error)
	GetByDID(ctx context.Context, did string) (*model.AgentCard, error)
	Search(ctx context.Context, f model.SearchFilter) ([]*model.AgentCard, int, error)
	ListByDeveloper(ctx context.Context, developerID uuid.UUID, limit, offset int) ([]*model.AgentCard, error)
	Update(ctx context.Context, card *model.AgentCard) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.AgentStatus) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// activityRecorder appends catalog mutations to the activity feed. Nil-safe
// via the noop recorder installed by NewAgentService.
type activityRecorder interface {
	Record(ctx context.Context, subject, action, actor string, payload any)
}

// AgentService implements catalog business logic: registration, ownership
// checks, search, and lifecycle transitions.
type AgentService struct {
	repo     agentRepo
	activity activityRecorder
	logger   *zap.Logger
}

// NewAgentService creates a new AgentService.
func NewAgentService(repo agentRepo, activity activityRecorder, logger *zap.Logger) *AgentService {
	if activity == nil {
		activity = noopActivity{}
	}
	return &AgentService{repo: repo, activity: activity, logger: logger}
}

type noopActivity struct{}

func (noopActivity) Record(context.Context, string, string, string, any) {}

// Register creates a new agent card owned by the calling developer. The
// card's DID is minted here; callers never supply one.
func (s *AgentService) Register(ctx context.Context, developerID uuid.UUID, req *model.RegisterAgentRequest) (*model.AgentCard, error) {
	card := &model.AgentCard{
		DID:          did.New(),
		Name:         req.Name,
		Description:  req.Description,
		AgentType:    req.AgentType,
		Status:       model.AgentStatusActive,
		DeveloperID:  developerID,
		Endpoints:    req.Endpoints,
		Capabilities: req.Capabilities,
		AuthSchemes:  req.AuthSchemes,
		Pricing:      req.Pricing,
		Metadata:     req.Metadata,
	}
	if err := card.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent card: %w", err)
	}

	if err := s.repo.Create(ctx, card); err != nil {
		if errors.Is(err, repository.ErrDuplicateName) {
			return nil, repository.ErrDuplicateName
		}
		return nil, fmt.Errorf("register agent: %w", err)
	}

	s.activity.Record(ctx, card.DID, "agent.registered", developerID.String(), card)
	s.logger.Info("agent registered",
		zap.String("agent_id", card.ID.String()),
		zap.String("did", card.DID),
		zap.String("developer_id", developerID.String()),
	)
	return card, nil
}

// Get retrieves an agent card by internal UUID.
func (s *AgentService) Get(ctx context.Context, id uuid.UUID) (*model.AgentCard, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByDID retrieves an agent card by DID.
func (s *AgentService) GetByDID(ctx context.Context, agentDID string) (*model.AgentCard, error) {
	if !did.IsValid(agentDID) {
		return nil, fmt.Errorf("malformed did %q", agentDID)
	}
	return s.repo.GetByDID(ctx, agentDID)
}

// Search returns cards matching the filter plus a total count for
// pagination.
func (s *AgentService) Search(ctx context.Context, f model.SearchFilter) ([]*model.AgentCard, int, error) {
	return s.repo.Search(ctx, f)
}

// ListByDeveloper returns all cards owned by a developer.
func (s *AgentService) ListByDeveloper(ctx context.Context, developerID uuid.UUID, limit, offset int) ([]*model.AgentCard, error) {
	return s.repo.ListByDeveloper(ctx, developerID, limit, offset)
}

// Update applies a partial update to an agent card. Only the owning
// developer may update; admins pass isAdmin = true to bypass the check.
func (s *AgentService) Update(ctx context.Context, id uuid.UUID, callerID uuid.UUID, isAdmin bool, req *model.UpdateAgentRequest) (*model.AgentCard, error) {
	card, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isAdmin && card.DeveloperID != callerID {
		return nil, ErrNotOwner
	}

	if req.Name != nil {
		card.Name = *req.Name
	}
	if req.Description != nil {
		card.Description = *req.Description
	}
	if req.AgentType != nil {
		card.AgentType = *req.AgentType
	}
	if req.Status != nil {
		card.Status = *req.Status
	}
	if req.Endpoints != nil {
		card.Endpoints = req.Endpoints
	}
	if req.Capabilities != nil {
		card.Capabilities = req.Capabilities
	}
	if req.AuthSchemes != nil {
		card.AuthSchemes = req.AuthSchemes
	}
	if req.Pricing != nil {
		card.Pricing = req.Pricing
	}
	if req.Metadata != nil {
		card.Metadata = req.Metadata
	}
	if err := card.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent card: %w", err)
	}

	if err := s.repo.Update(ctx, card); err != nil {
		return nil, err
	}

	s.activity.Record(ctx, card.DID, "agent.updated", callerID.String(), req)
	return card, nil
}

// SetStatus transitions a card to the given lifecycle status with the same
// ownership rules as Update.
func (s *AgentService) SetStatus(ctx context.Context, id uuid.UUID, callerID uuid.UUID, isAdmin bool, status model.AgentStatus) error {
	switch status {
	case model.AgentStatusActive, model.AgentStatusInactive, model.AgentStatusDeprecated:
	default:
		return fmt.Errorf("unknown status %q", status)
	}
	card, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !isAdmin && card.DeveloperID != callerID {
		return ErrNotOwner
	}
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		return err
	}
	s.activity.Record(ctx, card.DID, "agent.status."+string(status), callerID.String(), nil)
	return nil
}

// Delete removes an agent card with the same ownership rules as Update.
func (s *AgentService) Delete(ctx context.Context, id uuid.UUID, callerID uuid.UUID, isAdmin bool) error {
	card, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !isAdmin && card.DeveloperID != callerID {
		return ErrNotOwner
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.activity.Record(ctx, card.DID, "agent.deleted", callerID.String(), nil)
	s.logger.Info("agent deleted",
		zap.String("agent_id", id.String()),
		zap.String("did", card.DID),
	)
	return nil
}
