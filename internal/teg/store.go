package teg

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Storage errors shared by both implementations.
var (
	ErrProfileNotFound      = errors.New("teg profile not found")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrStakeNotFound        = errors.New("stake not found")
	ErrDelegationNotFound   = errors.New("delegation not found")
	ErrDisputeNotFound      = errors.New("dispute not found")
	ErrFlagNotFound         = errors.New("auditor flag not found")
	ErrPolicyNotFound       = errors.New("attestation policy not found")
	ErrSubmissionNotFound   = errors.New("attestation submission not found")
	ErrDuplicateIdempotency = errors.New("idempotency key already used")
)

// Store provides atomic access to ledger state. Both MemoryStore and
// PostgresStore implement this interface.
//
// Update runs fn inside a transaction: either every write in fn commits or
// none do. Within Update, Tx.Profile acquires a row lock; callers that
// touch several profiles must fetch them in DID-lexicographic order to
// avoid deadlock. View runs fn with read-only snapshot semantics.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}

// Tx exposes the primitive ledger operations available inside a Store
// transaction. Implementations return the shared sentinel errors above.
type Tx interface {
	// Profiles
	Profile(did string) (*Profile, error)
	CreateProfile(p *Profile) error
	SaveProfile(p *Profile) error

	// Transactions
	InsertTransaction(t *Transaction) error
	SaveTransaction(t *Transaction) error
	TransactionByID(id uuid.UUID) (*Transaction, error)
	TransactionByIdempotencyKey(key string) (*Transaction, error)
	ListTransactions(did string, limit, offset int) ([]*Transaction, error)
	// RecentTransfers returns completed transfers touching agentDID in
	// either direction since the given time, oldest first.
	RecentTransfers(agentDID string, since time.Time) ([]*Transaction, error)

	// Stakes
	InsertStake(s *Stake) error
	SaveStake(s *Stake) error
	StakeByID(id uuid.UUID) (*Stake, error)
	ListStakes(did string) ([]*Stake, error)
	ExpiredUnstakes(now time.Time) ([]*Stake, error)

	// Delegations
	InsertDelegation(d *Delegation) error
	SaveDelegation(d *Delegation) error
	DelegationByID(id uuid.UUID) (*Delegation, error)
	ListDelegationsByStake(stakeID uuid.UUID) ([]*Delegation, error)
	ListActiveDelegations() ([]*Delegation, error)

	// Attestations
	PolicyByCode(code string) (*AttestationPolicy, error)
	SavePolicy(p *AttestationPolicy) error
	InsertSubmission(s *AttestationSubmission) error
	SaveSubmission(s *AttestationSubmission) error
	LastVerifiedSubmission(did, policyCode string) (*AttestationSubmission, error)

	// Disputes
	InsertDispute(d *Dispute) error
	SaveDispute(d *Dispute) error
	DisputeByID(id uuid.UUID) (*Dispute, error)
	ListDisputes(status DisputeStatus, limit, offset int) ([]*Dispute, error)

	// Auditor flags
	InsertFlag(f *AuditorFlag) error
	SaveFlag(f *AuditorFlag) error
	FlagByID(id uuid.UUID) (*AuditorFlag, error)
	ListFlags(status FlagStatus, limit, offset int) ([]*AuditorFlag, error)
}
