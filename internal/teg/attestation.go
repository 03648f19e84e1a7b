package teg

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/agentvault/agentvault/pkg/did"
)

// Attestation errors.
var (
	ErrPolicyInactive = errors.New("attestation policy is not active")
	ErrCooldownActive = errors.New("attestation cooldown has not elapsed")
)

// Verifier checks an attestation proof against a policy circuit. External
// ZKP backends implement this; AcceptAllVerifier is the default.
type Verifier interface {
	Verify(ctx context.Context, circuitID, data, zkp string) (bool, error)
}

// AcceptAllVerifier accepts any submission that carries a proof. Useful
// for development and policies without a circuit.
type AcceptAllVerifier struct{}

// Verify implements Verifier.
func (AcceptAllVerifier) Verify(_ context.Context, _, _, zkp string) (bool, error) {
	return zkp != "", nil
}

// UpsertPolicy creates or replaces an attestation policy. Admin-only.
func (s *Service) UpsertPolicy(ctx context.Context, p *AttestationPolicy) error {
	return s.store.Update(ctx, func(tx Tx) error {
		return tx.SavePolicy(p)
	})
}

// GetPolicy returns the policy for code.
func (s *Service) GetPolicy(ctx context.Context, code string) (*AttestationPolicy, error) {
	var out *AttestationPolicy
	err := s.store.View(ctx, func(tx Tx) error {
		p, err := tx.PolicyByCode(code)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// SubmitAttestation verifies a submission against its policy and, on
// success outside the cooldown window, credits base_reward * multiplier
// from the treasury in the same transaction as the status change.
func (s *Service) SubmitAttestation(ctx context.Context, agentDID, policyCode, data, storagePointer, zkp string) (*AttestationSubmission, error) {
	var sub *AttestationSubmission
	err := s.store.Update(ctx, func(tx Tx) error {
		policy, err := tx.PolicyByCode(policyCode)
		if err != nil {
			return err
		}
		if !policy.IsActive {
			return ErrPolicyInactive
		}

		sub = &AttestationSubmission{
			AgentDID:       agentDID,
			PolicyCode:     policyCode,
			Data:           data,
			StoragePointer: storagePointer,
			ZKP:            zkp,
			Status:         SubmissionPending,
		}
		if err := tx.InsertSubmission(sub); err != nil {
			return err
		}

		ok, err := s.verifier.Verify(ctx, policy.CircuitID, data, zkp)
		if err != nil {
			sub.Status = SubmissionRejected
			return tx.SaveSubmission(sub)
		}
		if !ok {
			sub.Status = SubmissionVerifiedFalse
			return tx.SaveSubmission(sub)
		}

		// Cooldown: at most one rewarded submission per (agent, policy)
		// within the window.
		prior, err := tx.LastVerifiedSubmission(agentDID, policyCode)
		if err == nil {
			window := time.Duration(policy.CooldownSeconds) * time.Second
			if time.Since(prior.SubmittedAt) < window {
				return ErrCooldownActive
			}
		} else if !errors.Is(err, ErrSubmissionNotFound) {
			return err
		}

		sub.Status = SubmissionVerifiedTrue

		// Pay the reward unless the treasury cannot cover it; the
		// submission still counts as verified either way.
		reward := policy.BaseReward.Mul(s.cfg.AttestationMultiplier)
		if reward.IsPositive() {
			treasury, err := ensureProfile(tx, did.Treasury)
			if err != nil {
				return err
			}
			if treasury.Balance.GreaterThanOrEqual(reward) {
				agent, err := tx.Profile(agentDID)
				if err != nil {
					return err
				}

				rewardTx := &Transaction{
					SenderDID:   did.Treasury,
					ReceiverDID: agentDID,
					Amount:      reward,
					FeeAmount:   decimal.Zero,
					Type:        TxReward,
					Status:      TxCompleted,
					Message:     "attestation " + policyCode,
				}
				treasury.Balance = treasury.Balance.Sub(reward)
				agent.Balance = agent.Balance.Add(reward)
				if err := tx.SaveProfile(treasury); err != nil {
					return err
				}
				if err := tx.SaveProfile(agent); err != nil {
					return err
				}
				if err := tx.InsertTransaction(rewardTx); err != nil {
					return err
				}
				sub.RewardTxID = &rewardTx.TxID
			}
		}
		return tx.SaveSubmission(sub)
	})
	if err != nil {
		return nil, err
	}

	s.activity.Record(ctx, agentDID, "teg.attestation."+string(sub.Status), agentDID, sub)
	s.logger.Info("attestation processed",
		zap.String("agent_did", agentDID),
		zap.String("policy", policyCode),
		zap.String("status", string(sub.Status)),
	)
	return sub, nil
}
