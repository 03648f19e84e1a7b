// Package teg implements the token economic governance ledger: balances,
// transfers with fees, staking and delegation, reputation, attestation
// rewards, and the dispute lifecycle.
package teg

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountStatus is the lifecycle state of a ledger profile.
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
)

// Reputation bounds. Scores are clamped on every update.
const (
	ReputationMin = -1000
	ReputationMax = 1000
)

// Profile is the authoritative ledger state for one agent.
type Profile struct {
	AgentDID        string          `json:"agent_did"        db:"agent_did"`
	Balance         decimal.Decimal `json:"balance"          db:"balance"`
	StakedTotal     decimal.Decimal `json:"staked_total"     db:"staked_total"`
	ReputationScore int             `json:"reputation_score" db:"reputation_score"`
	Status          AccountStatus   `json:"status"           db:"status"`
	CreatedAt       time.Time       `json:"created_at"       db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"       db:"updated_at"`
}

// TxType categorizes ledger transactions.
type TxType string

const (
	TxTransfer         TxType = "transfer"
	TxTransferToSystem TxType = "transfer_to_system"
	TxIssuance         TxType = "issuance"
	TxBurn             TxType = "burn"
	TxStakeLock        TxType = "stake_lock"
	TxStakeRelease     TxType = "stake_release"
	TxReward           TxType = "reward"
	TxPenalty          TxType = "penalty"
)

// TxStatus is the commit state of a transaction row.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
)

// Transaction is one committed or failed ledger movement. On completed
// rows the paired balance mutations were applied atomically.
type Transaction struct {
	TxID             uuid.UUID       `json:"tx_id"                       db:"tx_id"`
	IdempotencyKey   *string         `json:"idempotency_key,omitempty"   db:"idempotency_key"`
	SenderDID        string          `json:"sender_did"                  db:"sender_did"`
	ReceiverDID      string          `json:"receiver_did"                db:"receiver_did"`
	Amount           decimal.Decimal `json:"amount"                      db:"amount"`
	FeeAmount        decimal.Decimal `json:"fee_amount"                  db:"fee_amount"`
	Type             TxType          `json:"type"                        db:"type"`
	Status           TxStatus        `json:"status"                      db:"status"`
	Timestamp        time.Time       `json:"timestamp"                   db:"timestamp"`
	Message          string          `json:"attached_message,omitempty"  db:"attached_message"`
	ReputationSignal int             `json:"reputation_signal"           db:"reputation_signal"`
	SignalApplied    bool            `json:"signal_applied"              db:"signal_applied"`
}

// StakeStatus is the lifecycle state of a stake.
type StakeStatus string

const (
	StakeActive    StakeStatus = "active"
	StakeUnstaking StakeStatus = "unstaking"
	StakeReleased  StakeStatus = "released"
)

// Stake locks tokens out of the spendable balance. The sum of non-released
// stake amounts for an agent equals Profile.StakedTotal.
type Stake struct {
	StakeID            uuid.UUID       `json:"stake_id"                       db:"stake_id"`
	AgentDID           string          `json:"agent_did"                      db:"agent_did"`
	Amount             decimal.Decimal `json:"amount"                         db:"amount"`
	StakedAt           time.Time       `json:"staked_at"                      db:"staked_at"`
	Status             StakeStatus     `json:"status"                         db:"status"`
	UnstakeAvailableAt *time.Time      `json:"unstake_available_at,omitempty" db:"unstake_available_at"`
}

// DelegationStatus is the lifecycle state of a delegation.
type DelegationStatus string

const (
	DelegationActive DelegationStatus = "active"
	DelegationEnded  DelegationStatus = "ended"
)

// Delegation assigns part of an active stake to a validator; rewards are
// shared per cycle according to RewardSharePct.
type Delegation struct {
	DelegationID   uuid.UUID        `json:"delegation_id"    db:"delegation_id"`
	StakeID        uuid.UUID        `json:"stake_id"         db:"stake_id"`
	AgentDID       string           `json:"agent_did"        db:"agent_did"`
	ValidatorDID   string           `json:"validator_did"    db:"validator_did"`
	Amount         decimal.Decimal  `json:"amount"           db:"amount"`
	RewardSharePct int              `json:"reward_share_pct" db:"reward_share_pct"`
	Status         DelegationStatus `json:"status"           db:"status"`
	CreatedAt      time.Time        `json:"created_at"       db:"created_at"`
}

// AttestationPolicy governs how attestation submissions are rewarded.
type AttestationPolicy struct {
	PolicyCode      string          `json:"policy_code"          db:"policy_code"`
	CircuitID       string          `json:"circuit_id,omitempty" db:"circuit_id"`
	BaseReward      decimal.Decimal `json:"base_reward"          db:"base_reward"`
	CooldownSeconds int             `json:"cooldown_seconds"     db:"cooldown_seconds"`
	IsActive        bool            `json:"is_active"            db:"is_active"`
}

// SubmissionStatus is the verification outcome of an attestation.
type SubmissionStatus string

const (
	SubmissionPending       SubmissionStatus = "pending"
	SubmissionVerifiedTrue  SubmissionStatus = "verified_true"
	SubmissionVerifiedFalse SubmissionStatus = "verified_false"
	SubmissionRejected      SubmissionStatus = "rejected"
)

// AttestationSubmission is one attempt to claim an attestation reward.
type AttestationSubmission struct {
	SubmissionID   uuid.UUID        `json:"submission_id"             db:"submission_id"`
	AgentDID       string           `json:"agent_did"                 db:"agent_did"`
	PolicyCode     string           `json:"policy_code"               db:"policy_code"`
	Data           string           `json:"data"                      db:"data"`
	StoragePointer string           `json:"storage_pointer,omitempty" db:"storage_pointer"`
	ZKP            string           `json:"zkp,omitempty"             db:"zkp"`
	Status         SubmissionStatus `json:"status"                    db:"status"`
	RewardTxID     *uuid.UUID       `json:"reward_tx_id,omitempty"    db:"reward_tx_id"`
	SubmittedAt    time.Time        `json:"submitted_at"              db:"submitted_at"`
}

// DisputeStatus is the lifecycle state of a dispute.
type DisputeStatus string

const (
	DisputeFiled             DisputeStatus = "filed"
	DisputeUnderReview       DisputeStatus = "under_review"
	DisputeResolvedClaimant  DisputeStatus = "resolved_claimant"
	DisputeResolvedDefendant DisputeStatus = "resolved_defendant"
	DisputeInvalid           DisputeStatus = "invalid"
)

// Terminal reports whether the status is absorbing.
func (s DisputeStatus) Terminal() bool {
	switch s {
	case DisputeResolvedClaimant, DisputeResolvedDefendant, DisputeInvalid:
		return true
	}
	return false
}

// Dispute tracks a claim of misconduct between two agents. Filing locks
// the filing fee and evidence stake into treasury escrow; resolution moves
// tokens and reputation atomically with the status change.
type Dispute struct {
	DisputeID         uuid.UUID     `json:"dispute_id"                  db:"dispute_id"`
	ClaimantDID       string        `json:"claimant_did"                db:"claimant_did"`
	DefendantDID      string        `json:"defendant_did"               db:"defendant_did"`
	RelatedTxID       *uuid.UUID    `json:"related_tx_id,omitempty"     db:"related_tx_id"`
	ReasonCode        string        `json:"reason_code"                 db:"reason_code"`
	EvidencePointer   string        `json:"evidence_pointer"            db:"evidence_pointer"`
	Status            DisputeStatus `json:"status"                      db:"status"`
	FilingFeeTxID     uuid.UUID     `json:"filing_fee_tx_id"            db:"filing_fee_tx_id"`
	EvidenceStakeTxID uuid.UUID     `json:"evidence_stake_tx_id"        db:"evidence_stake_tx_id"`
	ResolutionNotes   string        `json:"resolution_notes,omitempty"  db:"resolution_notes"`
	FiledAt           time.Time     `json:"filed_at"                    db:"filed_at"`
	ResolvedAt        *time.Time    `json:"resolved_at,omitempty"       db:"resolved_at"`
}

// FlagSeverity grades auditor findings.
type FlagSeverity string

const (
	SeverityLow      FlagSeverity = "LOW"
	SeverityMedium   FlagSeverity = "MEDIUM"
	SeverityHigh     FlagSeverity = "HIGH"
	SeverityCritical FlagSeverity = "CRITICAL"
)

// FlagStatus is the review state of an auditor flag.
type FlagStatus string

const (
	FlagNew       FlagStatus = "new"
	FlagReviewed  FlagStatus = "reviewed"
	FlagDismissed FlagStatus = "dismissed"
	FlagActioned  FlagStatus = "actioned"
)

// AuditorFlag is an insert-only audit record with no balance effect.
// Actioning a flag triggers a separate penalty transaction.
type AuditorFlag struct {
	FlagID          uuid.UUID    `json:"flag_id"           db:"flag_id"`
	FlaggedAgentDID string       `json:"flagged_agent_did" db:"flagged_agent_did"`
	RuleCode        string       `json:"rule_code"         db:"rule_code"`
	Severity        FlagSeverity `json:"severity"          db:"severity"`
	Status          FlagStatus   `json:"status"            db:"status"`
	RelatedTxIDs    []uuid.UUID  `json:"related_tx_ids"    db:"related_tx_ids"`
	Detail          string       `json:"detail,omitempty"  db:"detail"`
	CreatedAt       time.Time    `json:"created_at"        db:"created_at"`
}

// Config carries the governance-controlled economic parameters.
type Config struct {
	MinFee decimal.Decimal // default 0.001
	FeePct decimal.Decimal // default 0
	MaxFee decimal.Decimal // zero = no clamp

	MinStake      decimal.Decimal // default 100
	UnstakeNotice time.Duration   // default 24h

	DelegationRewardPct decimal.Decimal // per cycle, default 5

	FilingFee            decimal.Decimal // default 10
	EvidenceStake        decimal.Decimal // default 50
	DisputeCompensation  decimal.Decimal // default 50, taken from defendant on resolved_claimant
	ArbitratorRewardFull decimal.Decimal // default 5, resolved outcomes
	ArbitratorRewardInv  decimal.Decimal // default 2, invalid outcome

	ReputationPenaltyDefendant int // default 50, losing defendant
	ReputationPenaltyClaimant  int // default 25, claimant on invalid

	AttestationMultiplier decimal.Decimal // default 1
}

// DefaultConfig returns the canonical economic parameter set.
func DefaultConfig() Config {
	return Config{
		MinFee:                     decimal.RequireFromString("0.001"),
		FeePct:                     decimal.Zero,
		MinStake:                   decimal.NewFromInt(100),
		UnstakeNotice:              24 * time.Hour,
		DelegationRewardPct:        decimal.NewFromInt(5),
		FilingFee:                  decimal.NewFromInt(10),
		EvidenceStake:              decimal.NewFromInt(50),
		DisputeCompensation:        decimal.NewFromInt(50),
		ArbitratorRewardFull:       decimal.NewFromInt(5),
		ArbitratorRewardInv:        decimal.NewFromInt(2),
		ReputationPenaltyDefendant: 50,
		ReputationPenaltyClaimant:  25,
		AttestationMultiplier:      decimal.NewFromInt(1),
	}
}

// Fee computes the transfer fee: max(min_fee, amount*fee_pct), clamped by
// max_fee when configured. FeePct is a fraction, not a percentage.
func (c Config) Fee(amount decimal.Decimal) decimal.Decimal {
	fee := amount.Mul(c.FeePct)
	if fee.LessThan(c.MinFee) {
		fee = c.MinFee
	}
	if c.MaxFee.IsPositive() && fee.GreaterThan(c.MaxFee) {
		fee = c.MaxFee
	}
	return fee
}

// ClampReputation bounds a score to [ReputationMin, ReputationMax].
func ClampReputation(score int) int {
	if score > ReputationMax {
		return ReputationMax
	}
	if score < ReputationMin {
		return ReputationMin
	}
	return score
}
