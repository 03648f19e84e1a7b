package teg

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/agentvault/agentvault/pkg/did"
)

// auditRule inspects a completed transfer together with the sender's
// recent history and returns zero or more findings.
type auditRule func(tx *Transaction, recent []*Transaction) []finding

type finding struct {
	RuleCode string
	Severity FlagSeverity
	Detail   string
	TxIDs    []uuid.UUID
}

// Auditor runs pattern rules over completed transfers and files
// insert-only flags for suspicious activity. Flags never move balances;
// admins action them separately.
type Auditor struct {
	store  Store
	rules  []auditRule
	logger *zap.Logger

	largeAmount  decimal.Decimal
	fanOutWindow time.Duration
	fanOutLimit  int
	washWindow   time.Duration
}

// NewAuditor returns an Auditor loaded with the default rule set:
// large transfers, rapid fan-out, and wash trading.
func NewAuditor(store Store, logger *zap.Logger) *Auditor {
	a := &Auditor{
		store:        store,
		logger:       logger,
		largeAmount:  decimal.NewFromInt(10000),
		fanOutWindow: 5 * time.Minute,
		fanOutLimit:  20,
		washWindow:   10 * time.Minute,
	}
	a.rules = []auditRule{
		a.ruleLargeAmount,
		a.ruleRapidFanOut,
		a.ruleWashTrade,
	}
	return a
}

// Inspect evaluates a completed transfer and persists any resulting flags.
// Runs after commit; failures are logged, never propagated to the caller's
// transfer path.
func (a *Auditor) Inspect(ctx context.Context, tx *Transaction) {
	if tx == nil || tx.Status != TxCompleted {
		return
	}
	if tx.Type != TxTransfer && tx.Type != TxTransferToSystem {
		return
	}

	var findings []finding
	err := a.store.Update(ctx, func(stx Tx) error {
		since := tx.Timestamp.Add(-a.washWindow)
		if a.fanOutWindow > a.washWindow {
			since = tx.Timestamp.Add(-a.fanOutWindow)
		}
		recent, err := stx.RecentTransfers(tx.SenderDID, since)
		if err != nil {
			return err
		}

		for _, rule := range a.rules {
			findings = append(findings, rule(tx, recent)...)
		}
		for _, f := range findings {
			if err := stx.InsertFlag(&AuditorFlag{
				FlaggedAgentDID: tx.SenderDID,
				RuleCode:        f.RuleCode,
				Severity:        f.Severity,
				Status:          FlagNew,
				RelatedTxIDs:    f.TxIDs,
				Detail:          f.Detail,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		a.logger.Warn("auditor inspection failed",
			zap.String("tx_id", tx.TxID.String()),
			zap.Error(err),
		)
		return
	}
	for _, f := range findings {
		a.logger.Info("auditor flag raised",
			zap.String("rule", f.RuleCode),
			zap.String("severity", string(f.Severity)),
			zap.String("agent_did", tx.SenderDID),
		)
	}
}

// ruleLargeAmount flags single transfers at or above the large-amount
// threshold; severity scales with the multiple.
func (a *Auditor) ruleLargeAmount(tx *Transaction, _ []*Transaction) []finding {
	if tx.Amount.LessThan(a.largeAmount) {
		return nil
	}
	sev := SeverityMedium
	switch {
	case tx.Amount.GreaterThanOrEqual(a.largeAmount.Mul(decimal.NewFromInt(100))):
		sev = SeverityCritical
	case tx.Amount.GreaterThanOrEqual(a.largeAmount.Mul(decimal.NewFromInt(10))):
		sev = SeverityHigh
	}
	return []finding{{
		RuleCode: "large_amount",
		Severity: sev,
		Detail:   fmt.Sprintf("transfer of %s at or above threshold %s", tx.Amount, a.largeAmount),
		TxIDs:    []uuid.UUID{tx.TxID},
	}}
}

// ruleRapidFanOut flags senders completing many transfers to distinct
// receivers inside a short window.
func (a *Auditor) ruleRapidFanOut(tx *Transaction, recent []*Transaction) []finding {
	cutoff := tx.Timestamp.Add(-a.fanOutWindow)
	receivers := make(map[string]bool)
	var ids []uuid.UUID
	for _, r := range recent {
		if r.SenderDID != tx.SenderDID || r.Timestamp.Before(cutoff) {
			continue
		}
		receivers[r.ReceiverDID] = true
		ids = append(ids, r.TxID)
	}
	if len(receivers) < a.fanOutLimit {
		return nil
	}
	sev := SeverityMedium
	if len(receivers) >= a.fanOutLimit*2 {
		sev = SeverityHigh
	}
	return []finding{{
		RuleCode: "rapid_fan_out",
		Severity: sev,
		Detail:   fmt.Sprintf("%d distinct receivers within %s", len(receivers), a.fanOutWindow),
		TxIDs:    ids,
	}}
}

// ruleWashTrade flags a transfer that reverses a recent opposite-direction
// transfer of the same amount between the same two parties.
func (a *Auditor) ruleWashTrade(tx *Transaction, recent []*Transaction) []finding {
	cutoff := tx.Timestamp.Add(-a.washWindow)
	for _, r := range recent {
		if r.TxID == tx.TxID || r.Timestamp.Before(cutoff) {
			continue
		}
		// A wash pair is this transfer plus a recent opposite-direction
		// transfer between the same two parties.
		if r.SenderDID == tx.ReceiverDID && r.ReceiverDID == tx.SenderDID && r.Amount.Equal(tx.Amount) {
			return []finding{{
				RuleCode: "wash_trade",
				Severity: SeverityHigh,
				Detail:   fmt.Sprintf("round-trip of %s between %s and %s", tx.Amount, tx.SenderDID, tx.ReceiverDID),
				TxIDs:    []uuid.UUID{r.TxID, tx.TxID},
			}}
		}
	}
	return nil
}

// ListFlags returns auditor flags filtered by status, newest first.
func (s *Service) ListFlags(ctx context.Context, status FlagStatus, limit, offset int) ([]*AuditorFlag, error) {
	var out []*AuditorFlag
	err := s.store.View(ctx, func(tx Tx) error {
		fs, err := tx.ListFlags(status, limit, offset)
		if err != nil {
			return err
		}
		out = fs
		return nil
	})
	return out, err
}

// UpdateFlagStatus marks a flag reviewed or dismissed. Actioned flags go
// through ActionFlag so the penalty lands atomically.
func (s *Service) UpdateFlagStatus(ctx context.Context, flagID uuid.UUID, status FlagStatus) error {
	if status == FlagActioned {
		return fmt.Errorf("use ActionFlag to action a flag")
	}
	return s.store.Update(ctx, func(tx Tx) error {
		f, err := tx.FlagByID(flagID)
		if err != nil {
			return err
		}
		f.Status = status
		return tx.SaveFlag(f)
	})
}

// ActionFlag marks a flag actioned and applies a penalty transfer from the
// flagged agent to the treasury in the same transaction. The penalty is
// capped at the agent's spendable balance.
func (s *Service) ActionFlag(ctx context.Context, flagID uuid.UUID, penalty decimal.Decimal) (*Transaction, error) {
	if penalty.IsNegative() {
		return nil, ErrInvalidAmount
	}

	var penaltyTx *Transaction
	err := s.store.Update(ctx, func(tx Tx) error {
		f, err := tx.FlagByID(flagID)
		if err != nil {
			return err
		}
		if f.Status == FlagActioned {
			return fmt.Errorf("flag already actioned")
		}

		if penalty.IsPositive() {
			profiles, err := lockProfiles(tx, f.FlaggedAgentDID, did.Treasury)
			if err != nil {
				return err
			}
			agent, treasury := profiles[f.FlaggedAgentDID], profiles[did.Treasury]
			amount := penalty
			if agent.Balance.LessThan(amount) {
				amount = agent.Balance
			}
			if amount.IsPositive() {
				agent.Balance = agent.Balance.Sub(amount)
				treasury.Balance = treasury.Balance.Add(amount)
				if err := tx.SaveProfile(agent); err != nil {
					return err
				}
				if err := tx.SaveProfile(treasury); err != nil {
					return err
				}
				penaltyTx = &Transaction{
					SenderDID:   f.FlaggedAgentDID,
					ReceiverDID: did.Treasury,
					Amount:      amount,
					FeeAmount:   decimal.Zero,
					Type:        TxPenalty,
					Status:      TxCompleted,
					Message:     "auditor flag " + f.FlagID.String(),
				}
				if err := tx.InsertTransaction(penaltyTx); err != nil {
					return err
				}
			}
		}

		f.Status = FlagActioned
		return tx.SaveFlag(f)
	})
	if err != nil {
		return nil, err
	}
	return penaltyTx, nil
}
