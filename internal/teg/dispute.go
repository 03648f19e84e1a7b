package teg

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/agentvault/agentvault/pkg/did"
)

// Dispute errors.
var (
	ErrDisputeTerminal = errors.New("dispute already resolved")
	ErrInvalidOutcome  = errors.New("invalid dispute outcome")
	ErrSelfDispute     = errors.New("claimant and defendant are the same")
)

// FileDispute opens a dispute, locking the filing fee and evidence stake
// from the claimant into treasury escrow in the same transaction.
func (s *Service) FileDispute(ctx context.Context, claimantDID, defendantDID string, relatedTxID *uuid.UUID, reasonCode, evidencePointer string) (*Dispute, error) {
	if claimantDID == defendantDID {
		return nil, ErrSelfDispute
	}

	var dispute *Dispute
	err := s.store.Update(ctx, func(tx Tx) error {
		profiles, err := lockProfiles(tx, claimantDID, defendantDID, did.Treasury)
		if err != nil {
			return err
		}
		claimant, treasury := profiles[claimantDID], profiles[did.Treasury]

		if claimant.Status == AccountSuspended {
			return ErrAccountSuspended
		}
		escrow := s.cfg.FilingFee.Add(s.cfg.EvidenceStake)
		if claimant.Balance.LessThan(escrow) {
			return ErrInsufficientBalance
		}
		if relatedTxID != nil {
			if _, err := tx.TransactionByID(*relatedTxID); err != nil {
				return err
			}
		}

		claimant.Balance = claimant.Balance.Sub(escrow)
		treasury.Balance = treasury.Balance.Add(escrow)
		if err := tx.SaveProfile(claimant); err != nil {
			return err
		}
		if err := tx.SaveProfile(treasury); err != nil {
			return err
		}

		feeTx := &Transaction{
			SenderDID:   claimantDID,
			ReceiverDID: did.Treasury,
			Amount:      s.cfg.FilingFee,
			FeeAmount:   decimal.Zero,
			Type:        TxTransferToSystem,
			Status:      TxCompleted,
			Message:     "dispute filing fee",
		}
		stakeTx := &Transaction{
			SenderDID:   claimantDID,
			ReceiverDID: did.Treasury,
			Amount:      s.cfg.EvidenceStake,
			FeeAmount:   decimal.Zero,
			Type:        TxTransferToSystem,
			Status:      TxCompleted,
			Message:     "dispute evidence stake",
		}
		if err := tx.InsertTransaction(feeTx); err != nil {
			return err
		}
		if err := tx.InsertTransaction(stakeTx); err != nil {
			return err
		}

		dispute = &Dispute{
			ClaimantDID:       claimantDID,
			DefendantDID:      defendantDID,
			RelatedTxID:       relatedTxID,
			ReasonCode:        reasonCode,
			EvidencePointer:   evidencePointer,
			Status:            DisputeFiled,
			FilingFeeTxID:     feeTx.TxID,
			EvidenceStakeTxID: stakeTx.TxID,
		}
		return tx.InsertDispute(dispute)
	})
	if err != nil {
		return nil, err
	}

	s.activity.Record(ctx, defendantDID, "teg.dispute.filed", claimantDID, dispute)
	s.logger.Info("dispute filed",
		zap.String("dispute_id", dispute.DisputeID.String()),
		zap.String("claimant", claimantDID),
		zap.String("defendant", defendantDID),
	)
	return dispute, nil
}

// GetDispute returns a dispute by id.
func (s *Service) GetDispute(ctx context.Context, id uuid.UUID) (*Dispute, error) {
	var out *Dispute
	err := s.store.View(ctx, func(tx Tx) error {
		d, err := tx.DisputeByID(id)
		if err != nil {
			return err
		}
		out = d
		return nil
	})
	return out, err
}

// ListDisputes returns disputes filtered by status, newest first.
func (s *Service) ListDisputes(ctx context.Context, status DisputeStatus, limit, offset int) ([]*Dispute, error) {
	var out []*Dispute
	err := s.store.View(ctx, func(tx Tx) error {
		ds, err := tx.ListDisputes(status, limit, offset)
		if err != nil {
			return err
		}
		out = ds
		return nil
	})
	return out, err
}

// ReviewDispute moves a filed dispute to under_review. Admin-only.
func (s *Service) ReviewDispute(ctx context.Context, id uuid.UUID) error {
	return s.store.Update(ctx, func(tx Tx) error {
		d, err := tx.DisputeByID(id)
		if err != nil {
			return err
		}
		if d.Status.Terminal() {
			return ErrDisputeTerminal
		}
		d.Status = DisputeUnderReview
		return tx.SaveDispute(d)
	})
}

// ResolveDispute closes a dispute with a terminal outcome, applying all
// balance and reputation adjustments in a single transaction:
//
//	resolved_claimant:  escrow refunded to claimant; defendant pays
//	                    compensation and takes a reputation penalty
//	resolved_defendant: claimant forfeits the escrow
//	invalid:            claimant forfeits the escrow and takes a
//	                    reputation penalty
//
// Arbitrators that are ledger accounts receive a reward from the treasury;
// arbitrators acting under a non-DID identity (admins resolving by email)
// do not.
func (s *Service) ResolveDispute(ctx context.Context, id uuid.UUID, outcome DisputeStatus, arbitratorDID, notes string) (*Dispute, error) {
	switch outcome {
	case DisputeResolvedClaimant, DisputeResolvedDefendant, DisputeInvalid:
	default:
		return nil, ErrInvalidOutcome
	}
	rewardArbitrator := did.IsValid(arbitratorDID)

	var dispute *Dispute
	err := s.store.Update(ctx, func(tx Tx) error {
		d, err := tx.DisputeByID(id)
		if err != nil {
			return err
		}
		if d.Status.Terminal() {
			return ErrDisputeTerminal
		}

		lockDIDs := []string{d.ClaimantDID, d.DefendantDID, did.Treasury}
		if rewardArbitrator {
			lockDIDs = append(lockDIDs, arbitratorDID)
		}
		profiles, err := lockProfiles(tx, lockDIDs...)
		if err != nil {
			return err
		}
		claimant := profiles[d.ClaimantDID]
		defendant := profiles[d.DefendantDID]
		arbitrator := profiles[arbitratorDID]
		treasury := profiles[did.Treasury]

		escrow := s.cfg.FilingFee.Add(s.cfg.EvidenceStake)
		move := func(from, to *Profile, amount decimal.Decimal, txType TxType, msg string) error {
			if !amount.IsPositive() {
				return nil
			}
			from.Balance = from.Balance.Sub(amount)
			to.Balance = to.Balance.Add(amount)
			return tx.InsertTransaction(&Transaction{
				SenderDID:   from.AgentDID,
				ReceiverDID: to.AgentDID,
				Amount:      amount,
				FeeAmount:   decimal.Zero,
				Type:        txType,
				Status:      TxCompleted,
				Message:     msg,
			})
		}

		arbReward := s.cfg.ArbitratorRewardFull
		switch outcome {
		case DisputeResolvedClaimant:
			if err := move(treasury, claimant, escrow, TxReward, "dispute escrow refund"); err != nil {
				return err
			}
			comp := s.cfg.DisputeCompensation
			if defendant.Balance.LessThan(comp) {
				comp = defendant.Balance
			}
			if err := move(defendant, claimant, comp, TxPenalty, "dispute compensation"); err != nil {
				return err
			}
			defendant.ReputationScore = ClampReputation(defendant.ReputationScore - s.cfg.ReputationPenaltyDefendant)

		case DisputeResolvedDefendant:
			// Escrow stays with the treasury.

		case DisputeInvalid:
			claimant.ReputationScore = ClampReputation(claimant.ReputationScore - s.cfg.ReputationPenaltyClaimant)
			arbReward = s.cfg.ArbitratorRewardInv
		}

		if arbitrator != nil && treasury.Balance.GreaterThanOrEqual(arbReward) {
			if err := move(treasury, arbitrator, arbReward, TxReward, "dispute arbitration"); err != nil {
				return err
			}
		}

		toSave := []*Profile{claimant, defendant, treasury}
		if arbitrator != nil {
			toSave = append(toSave, arbitrator)
		}
		for _, p := range toSave {
			if err := tx.SaveProfile(p); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		d.Status = outcome
		d.ResolutionNotes = notes
		d.ResolvedAt = &now
		if err := tx.SaveDispute(d); err != nil {
			return err
		}
		dispute = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.activity.Record(ctx, dispute.DefendantDID, "teg.dispute."+string(outcome), arbitratorDID, dispute)
	s.logger.Info("dispute resolved",
		zap.String("dispute_id", dispute.DisputeID.String()),
		zap.String("outcome", string(outcome)),
	)
	return dispute, nil
}
