package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentvault/agentvault/internal/developers"
	"github.com/agentvault/agentvault/internal/email"
	"github.com/agentvault/agentvault/internal/registry/model"
	"github.com/agentvault/agentvault/internal/teg"
	"github.com/agentvault/agentvault/pkg/did"
)

// agentLookup resolves agent cards by DID. *repository.AgentRepository
// satisfies this interface.
type agentLookup interface {
	GetByDID(ctx context.Context, did string) (*model.AgentCard, error)
}

// developerLookup resolves developer accounts. *developers.Service
// satisfies this interface.
type developerLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*developers.Developer, error)
}

// Notifier emails developers about arbitration outcomes affecting their
// agents. Delivery is best-effort: every failure is logged and swallowed,
// so a down mail server can never block dispute resolution.
type Notifier struct {
	agents agentLookup
	devs   developerLookup
	mailer email.Sender
	logger *zap.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(agents agentLookup, devs developerLookup, mailer email.Sender, logger *zap.Logger) *Notifier {
	return &Notifier{agents: agents, devs: devs, mailer: mailer, logger: logger}
}

// DisputeResolved notifies the owners of both parties. System accounts
// such as the treasury have no owner and are skipped.
func (n *Notifier) DisputeResolved(ctx context.Context, d *teg.Dispute) {
	n.sendDisputeNotice(ctx, d, d.ClaimantDID, claimantOutcome(d.Status))
	n.sendDisputeNotice(ctx, d, d.DefendantDID, defendantOutcome(d.Status))
}

func (n *Notifier) sendDisputeNotice(ctx context.Context, d *teg.Dispute, agentDID, outcome string) {
	if did.IsSystemDID(agentDID) {
		return
	}
	card, err := n.agents.GetByDID(ctx, agentDID)
	if err != nil {
		n.logger.Warn("dispute notice: agent lookup",
			zap.String("agent_did", agentDID), zap.Error(err))
		return
	}
	dev, err := n.devs.GetByID(ctx, card.DeveloperID)
	if err != nil {
		n.logger.Warn("dispute notice: developer lookup",
			zap.String("developer_id", card.DeveloperID.String()), zap.Error(err))
		return
	}

	body := fmt.Sprintf(
		"Hello %s,\n\nDispute %s involving your agent %q (%s) has been resolved.\n\nOutcome: %s\n",
		dev.Name, d.DisputeID, card.Name, agentDID, outcome,
	)
	if d.ResolutionNotes != "" {
		body += fmt.Sprintf("Arbitrator notes: %s\n", d.ResolutionNotes)
	}

	if err := n.mailer.Send(ctx, dev.Email, "AgentVault dispute resolved", body); err != nil {
		n.logger.Warn("send dispute notice",
			zap.String("dispute_id", d.DisputeID.String()),
			zap.String("to", dev.Email),
			zap.Error(err),
		)
	}
}

func claimantOutcome(s teg.DisputeStatus) string {
	switch s {
	case teg.DisputeResolvedClaimant:
		return "resolved in your favor; your filing fee and evidence stake were refunded and compensation was paid"
	case teg.DisputeResolvedDefendant:
		return "resolved in the defendant's favor; your filing fee and evidence stake were forfeited"
	default:
		return "closed as invalid; your filing fee and evidence stake were forfeited and a reputation penalty was applied"
	}
}

func defendantOutcome(s teg.DisputeStatus) string {
	switch s {
	case teg.DisputeResolvedClaimant:
		return "resolved against your agent; compensation was paid to the claimant and a reputation penalty was applied"
	case teg.DisputeResolvedDefendant:
		return "resolved in your agent's favor"
	default:
		return "closed as invalid; no action was taken against your agent"
	}
}
