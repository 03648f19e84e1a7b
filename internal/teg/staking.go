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

// Staking and delegation errors.
var (
	ErrBelowMinStake     = errors.New("amount below minimum stake")
	ErrStakeNotActive    = errors.New("stake is not active")
	ErrNotStakeOwner     = errors.New("caller does not own this stake")
	ErrOverDelegated     = errors.New("delegated amount exceeds stake")
	ErrInvalidSharePct   = errors.New("reward share must be in [0,100]")
	ErrDelegationNotOpen = errors.New("delegation is not active")
)

// Stake locks amount out of the spendable balance into a new active stake.
// A stake_lock transaction records the movement.
func (s *Service) Stake(ctx context.Context, agentDID string, amount decimal.Decimal) (*Stake, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if amount.LessThan(s.cfg.MinStake) {
		return nil, ErrBelowMinStake
	}

	var stake *Stake
	err := s.store.Update(ctx, func(tx Tx) error {
		p, err := tx.Profile(agentDID)
		if err != nil {
			return err
		}
		if p.Status == AccountSuspended {
			return ErrAccountSuspended
		}
		if p.Balance.LessThan(amount) {
			return ErrInsufficientBalance
		}

		p.Balance = p.Balance.Sub(amount)
		p.StakedTotal = p.StakedTotal.Add(amount)
		if err := tx.SaveProfile(p); err != nil {
			return err
		}

		stake = &Stake{
			AgentDID: agentDID,
			Amount:   amount,
			Status:   StakeActive,
		}
		if err := tx.InsertStake(stake); err != nil {
			return err
		}

		return tx.InsertTransaction(&Transaction{
			SenderDID:   agentDID,
			ReceiverDID: agentDID,
			Amount:      amount,
			FeeAmount:   decimal.Zero,
			Type:        TxStakeLock,
			Status:      TxCompleted,
			Message:     "stake " + stake.StakeID.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.activity.Record(ctx, agentDID, "teg.stake.locked", agentDID, stake)
	s.logger.Info("stake locked",
		zap.String("stake_id", stake.StakeID.String()),
		zap.String("agent_did", agentDID),
		zap.String("amount", amount.String()),
	)
	return stake, nil
}

// Unstake requests release of an active stake. The stake enters the
// unstaking state; the locked amount returns to the balance once the
// notice period elapses and the reaper sweeps it.
func (s *Service) Unstake(ctx context.Context, agentDID string, stakeID uuid.UUID) (*Stake, error) {
	var stake *Stake
	err := s.store.Update(ctx, func(tx Tx) error {
		st, err := tx.StakeByID(stakeID)
		if err != nil {
			return err
		}
		if st.AgentDID != agentDID {
			return ErrNotStakeOwner
		}
		if st.Status != StakeActive {
			return ErrStakeNotActive
		}

		at := time.Now().UTC().Add(s.cfg.UnstakeNotice)
		st.Status = StakeUnstaking
		st.UnstakeAvailableAt = &at
		if err := tx.SaveStake(st); err != nil {
			return err
		}
		stake = st
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.activity.Record(ctx, agentDID, "teg.stake.unstaking", agentDID, stake)
	return stake, nil
}

// ListStakes returns all stakes for an agent, oldest first.
func (s *Service) ListStakes(ctx context.Context, agentDID string) ([]*Stake, error) {
	var out []*Stake
	err := s.store.View(ctx, func(tx Tx) error {
		stakes, err := tx.ListStakes(agentDID)
		if err != nil {
			return err
		}
		out = stakes
		return nil
	})
	return out, err
}

// ReleaseExpiredUnstakes sweeps unstaking stakes past their notice period,
// returning the locked amount to the balance and ending any delegations on
// the stake. Returns the number of stakes released. Run periodically.
func (s *Service) ReleaseExpiredUnstakes(ctx context.Context, now time.Time) (int, error) {
	released := 0
	err := s.store.Update(ctx, func(tx Tx) error {
		expired, err := tx.ExpiredUnstakes(now)
		if err != nil {
			return err
		}
		for _, st := range expired {
			p, err := tx.Profile(st.AgentDID)
			if err != nil {
				return err
			}
			p.Balance = p.Balance.Add(st.Amount)
			p.StakedTotal = p.StakedTotal.Sub(st.Amount)
			if err := tx.SaveProfile(p); err != nil {
				return err
			}

			st.Status = StakeReleased
			if err := tx.SaveStake(st); err != nil {
				return err
			}

			delegs, err := tx.ListDelegationsByStake(st.StakeID)
			if err != nil {
				return err
			}
			for _, d := range delegs {
				if d.Status == DelegationActive {
					d.Status = DelegationEnded
					if err := tx.SaveDelegation(d); err != nil {
						return err
					}
				}
			}

			if err := tx.InsertTransaction(&Transaction{
				SenderDID:   st.AgentDID,
				ReceiverDID: st.AgentDID,
				Amount:      st.Amount,
				FeeAmount:   decimal.Zero,
				Type:        TxStakeRelease,
				Status:      TxCompleted,
				Message:     "stake " + st.StakeID.String(),
			}); err != nil {
				return err
			}
			released++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if released > 0 {
		s.logger.Info("released expired unstakes", zap.Int("count", released))
	}
	return released, nil
}

// Delegate assigns part of an active stake to a validator. The sum of
// active delegated amounts on a stake may not exceed the stake amount.
func (s *Service) Delegate(ctx context.Context, agentDID string, stakeID uuid.UUID, validatorDID string, amount decimal.Decimal, rewardSharePct int) (*Delegation, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if rewardSharePct < 0 || rewardSharePct > 100 {
		return nil, ErrInvalidSharePct
	}
	if !did.IsValid(validatorDID) {
		return nil, errors.New("malformed validator did")
	}
	if did.IsSystemDID(validatorDID) {
		return nil, errors.New("validator must be an agent did")
	}

	var deleg *Delegation
	err := s.store.Update(ctx, func(tx Tx) error {
		st, err := tx.StakeByID(stakeID)
		if err != nil {
			return err
		}
		if st.AgentDID != agentDID {
			return ErrNotStakeOwner
		}
		if st.Status != StakeActive {
			return ErrStakeNotActive
		}

		existing, err := tx.ListDelegationsByStake(stakeID)
		if err != nil {
			return err
		}
		delegated := decimal.Zero
		for _, d := range existing {
			if d.Status == DelegationActive {
				delegated = delegated.Add(d.Amount)
			}
		}
		if delegated.Add(amount).GreaterThan(st.Amount) {
			return ErrOverDelegated
		}

		deleg = &Delegation{
			StakeID:        stakeID,
			AgentDID:       agentDID,
			ValidatorDID:   validatorDID,
			Amount:         amount,
			RewardSharePct: rewardSharePct,
			Status:         DelegationActive,
		}
		return tx.InsertDelegation(deleg)
	})
	if err != nil {
		return nil, err
	}

	s.activity.Record(ctx, agentDID, "teg.delegation.created", agentDID, deleg)
	return deleg, nil
}

// EndDelegation closes an active delegation.
func (s *Service) EndDelegation(ctx context.Context, agentDID string, delegationID uuid.UUID) error {
	return s.store.Update(ctx, func(tx Tx) error {
		d, err := tx.DelegationByID(delegationID)
		if err != nil {
			return err
		}
		if d.AgentDID != agentDID {
			return ErrNotStakeOwner
		}
		if d.Status != DelegationActive {
			return ErrDelegationNotOpen
		}
		d.Status = DelegationEnded
		return tx.SaveDelegation(d)
	})
}

// DistributeDelegationRewards pays one reward cycle for every active
// delegation: reward = amount * reward_pct, split between validator and
// delegator per reward_share_pct. Rewards are paid from the treasury;
// delegations are skipped when the treasury cannot cover them.
func (s *Service) DistributeDelegationRewards(ctx context.Context) (int, error) {
	hundred := decimal.NewFromInt(100)
	rate := s.cfg.DelegationRewardPct.Div(hundred)
	paid := 0

	err := s.store.Update(ctx, func(tx Tx) error {
		delegs, err := tx.ListActiveDelegations()
		if err != nil {
			return err
		}
		if len(delegs) == 0 {
			return nil
		}

		treasury, err := ensureProfile(tx, did.Treasury)
		if err != nil {
			return err
		}

		for _, d := range delegs {
			reward := d.Amount.Mul(rate)
			if !reward.IsPositive() || treasury.Balance.LessThan(reward) {
				continue
			}
			validatorShare := reward.Mul(decimal.NewFromInt(int64(d.RewardSharePct))).Div(hundred)
			delegatorShare := reward.Sub(validatorShare)

			treasury.Balance = treasury.Balance.Sub(reward)
			shares := []struct {
				recipient string
				share     decimal.Decimal
			}{
				{d.ValidatorDID, validatorShare},
				{d.AgentDID, delegatorShare},
			}
			for _, pay := range shares {
				recipient, share := pay.recipient, pay.share
				if !share.IsPositive() {
					continue
				}
				p, err := ensureProfile(tx, recipient)
				if err != nil {
					return err
				}
				p.Balance = p.Balance.Add(share)
				if err := tx.SaveProfile(p); err != nil {
					return err
				}
				if err := tx.InsertTransaction(&Transaction{
					SenderDID:   did.Treasury,
					ReceiverDID: recipient,
					Amount:      share,
					FeeAmount:   decimal.Zero,
					Type:        TxReward,
					Status:      TxCompleted,
					Message:     "delegation " + d.DelegationID.String(),
				}); err != nil {
					return err
				}
			}
			paid++
		}
		return tx.SaveProfile(treasury)
	})
	if err != nil {
		return 0, err
	}
	if paid > 0 {
		s.logger.Info("delegation rewards distributed", zap.Int("delegations", paid))
	}
	return paid, nil
}
