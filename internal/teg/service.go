package teg

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/agentvault/agentvault/pkg/did"
)

// Ledger operation errors mapped onto API responses by the gateway.
var (
	ErrSelfTransfer        = errors.New("sender and receiver are the same")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAccountSuspended    = errors.New("account suspended")
	ErrIdempotencyConflict = errors.New("idempotency key reused with different parameters")
	ErrNotSender           = errors.New("only the transaction sender may signal")
	ErrInvalidSignal       = errors.New("reputation signal must be -1 or +1")
	ErrSignalApplied       = errors.New("reputation signal already applied")
	ErrNotTransfer         = errors.New("reputation signals apply to completed transfers only")
)

// activityRecorder mirrors the registry service hook; ledger events land in
// the platform activity feed.
type activityRecorder interface {
	Record(ctx context.Context, subject, action, actor string, payload any)
}

type noopActivity struct{}

func (noopActivity) Record(context.Context, string, string, string, any) {}

// Service implements the ledger business logic on top of a Store.
type Service struct {
	store    Store
	cfg      Config
	verifier Verifier
	activity activityRecorder
	logger   *zap.Logger
}

// NewService creates a ledger Service. A nil verifier accepts every
// attestation; a nil activity recorder discards events.
func NewService(store Store, cfg Config, verifier Verifier, activity activityRecorder, logger *zap.Logger) *Service {
	if verifier == nil {
		verifier = AcceptAllVerifier{}
	}
	if activity == nil {
		activity = noopActivity{}
	}
	return &Service{store: store, cfg: cfg, verifier: verifier, activity: activity, logger: logger}
}

// Config returns the active economic parameters.
func (s *Service) Config() Config { return s.cfg }

// EnsureProfile returns the profile for agentDID, creating a zero-balance
// one when absent. The treasury profile is created the same way on first
// touch.
func (s *Service) EnsureProfile(ctx context.Context, agentDID string) (*Profile, error) {
	var out *Profile
	err := s.store.Update(ctx, func(tx Tx) error {
		p, err := ensureProfile(tx, agentDID)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

func ensureProfile(tx Tx, agentDID string) (*Profile, error) {
	p, err := tx.Profile(agentDID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrProfileNotFound) {
		return nil, err
	}
	p = &Profile{
		AgentDID:    agentDID,
		Balance:     decimal.Zero,
		StakedTotal: decimal.Zero,
		Status:      AccountActive,
	}
	if err := tx.CreateProfile(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Profile returns the ledger profile for agentDID.
func (s *Service) Profile(ctx context.Context, agentDID string) (*Profile, error) {
	var out *Profile
	err := s.store.View(ctx, func(tx Tx) error {
		p, err := tx.Profile(agentDID)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// Transfer moves amount from sender to receiver, charging the configured
// fee to the treasury. Retries with the same idempotency key return the
// original transaction verbatim; replayed reports whether that happened.
func (s *Service) Transfer(ctx context.Context, senderDID, receiverDID string, amount decimal.Decimal, idempotencyKey *string, message string) (tx *Transaction, replayed bool, err error) {
	if senderDID == receiverDID {
		return nil, false, ErrSelfTransfer
	}
	if !amount.IsPositive() {
		return nil, false, ErrInvalidAmount
	}

	fee := s.cfg.Fee(amount)
	txType := TxTransfer
	if did.IsSystemDID(receiverDID) {
		txType = TxTransferToSystem
	}

	err = s.store.Update(ctx, func(stx Tx) error {
		if idempotencyKey != nil && *idempotencyKey != "" {
			prior, perr := stx.TransactionByIdempotencyKey(*idempotencyKey)
			if perr == nil {
				if prior.SenderDID != senderDID || prior.ReceiverDID != receiverDID || !prior.Amount.Equal(amount) {
					return ErrIdempotencyConflict
				}
				tx, replayed = prior, true
				return nil
			}
			if !errors.Is(perr, ErrTransactionNotFound) {
				return perr
			}
		}

		profiles, perr := lockProfiles(stx, senderDID, receiverDID, did.Treasury)
		if perr != nil {
			return perr
		}
		sender, receiver, treasury := profiles[senderDID], profiles[receiverDID], profiles[did.Treasury]

		if sender.Status == AccountSuspended {
			return ErrAccountSuspended
		}
		total := amount.Add(fee)
		if sender.Balance.LessThan(total) {
			return ErrInsufficientBalance
		}

		sender.Balance = sender.Balance.Sub(total)
		receiver.Balance = receiver.Balance.Add(amount)
		treasury.Balance = treasury.Balance.Add(fee)

		for _, p := range []*Profile{sender, receiver, treasury} {
			if err := stx.SaveProfile(p); err != nil {
				return err
			}
		}

		tx = &Transaction{
			IdempotencyKey: idempotencyKey,
			SenderDID:      senderDID,
			ReceiverDID:    receiverDID,
			Amount:         amount,
			FeeAmount:      fee,
			Type:           txType,
			Status:         TxCompleted,
			Message:        message,
		}
		return stx.InsertTransaction(tx)
	})
	if err != nil {
		return nil, false, err
	}

	if !replayed {
		s.activity.Record(ctx, senderDID, "teg.transfer.completed", senderDID, tx)
		s.logger.Info("transfer completed",
			zap.String("tx_id", tx.TxID.String()),
			zap.String("sender", senderDID),
			zap.String("receiver", receiverDID),
			zap.String("amount", amount.String()),
			zap.String("fee", tx.FeeAmount.String()),
		)
	}
	return tx, replayed, nil
}

// lockProfiles fetches (and creates, for the treasury and other system
// accounts) the given profiles in DID-lexicographic order so concurrent
// transfers acquire row locks deterministically.
func lockProfiles(tx Tx, dids ...string) (map[string]*Profile, error) {
	uniq := make(map[string]bool, len(dids))
	var order []string
	for _, d := range dids {
		if !uniq[d] {
			uniq[d] = true
			order = append(order, d)
		}
	}
	sort.Strings(order)

	out := make(map[string]*Profile, len(order))
	for _, d := range order {
		var p *Profile
		var err error
		if did.IsSystemDID(d) {
			p, err = ensureProfile(tx, d)
		} else {
			p, err = tx.Profile(d)
		}
		if err != nil {
			if errors.Is(err, ErrProfileNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, d)
			}
			return nil, err
		}
		out[d] = p
	}
	return out, nil
}

// SetReputationSignal applies a one-time ±1 signal from the sender of a
// completed transfer to its receiver, clamped to [-1000, +1000].
func (s *Service) SetReputationSignal(ctx context.Context, callerDID string, txID uuid.UUID, signal int) (*Transaction, error) {
	if signal != -1 && signal != 1 {
		return nil, ErrInvalidSignal
	}

	var out *Transaction
	err := s.store.Update(ctx, func(stx Tx) error {
		tr, err := stx.TransactionByID(txID)
		if err != nil {
			return err
		}
		if tr.Status != TxCompleted || (tr.Type != TxTransfer && tr.Type != TxTransferToSystem) {
			return ErrNotTransfer
		}
		if tr.SenderDID != callerDID {
			return ErrNotSender
		}
		if tr.SignalApplied {
			return ErrSignalApplied
		}

		receiver, err := stx.Profile(tr.ReceiverDID)
		if err != nil {
			return err
		}
		receiver.ReputationScore = ClampReputation(receiver.ReputationScore + signal)
		if err := stx.SaveProfile(receiver); err != nil {
			return err
		}

		tr.ReputationSignal = signal
		tr.SignalApplied = true
		if err := stx.SaveTransaction(tr); err != nil {
			return err
		}
		out = tr
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.activity.Record(ctx, out.ReceiverDID, "teg.reputation.signal", callerDID, signal)
	return out, nil
}

// GetTransaction returns a transaction by id.
func (s *Service) GetTransaction(ctx context.Context, txID uuid.UUID) (*Transaction, error) {
	var out *Transaction
	err := s.store.View(ctx, func(tx Tx) error {
		tr, err := tx.TransactionByID(txID)
		if err != nil {
			return err
		}
		out = tr
		return nil
	})
	return out, err
}

// ListTransactions returns the transaction history touching agentDID,
// newest first.
func (s *Service) ListTransactions(ctx context.Context, agentDID string, limit, offset int) ([]*Transaction, error) {
	var out []*Transaction
	err := s.store.View(ctx, func(tx Tx) error {
		txs, err := tx.ListTransactions(agentDID, limit, offset)
		if err != nil {
			return err
		}
		out = txs
		return nil
	})
	return out, err
}

// Issue mints tokens from the treasury into receiverDID. Admin-only; the
// treasury account is allowed to go arbitrarily deep since issuance is the
// token supply mechanism.
func (s *Service) Issue(ctx context.Context, receiverDID string, amount decimal.Decimal, message string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var tx *Transaction
	err := s.store.Update(ctx, func(stx Tx) error {
		receiver, err := ensureProfile(stx, receiverDID)
		if err != nil {
			return err
		}
		receiver.Balance = receiver.Balance.Add(amount)
		if err := stx.SaveProfile(receiver); err != nil {
			return err
		}

		tx = &Transaction{
			SenderDID:   did.Treasury,
			ReceiverDID: receiverDID,
			Amount:      amount,
			FeeAmount:   decimal.Zero,
			Type:        TxIssuance,
			Status:      TxCompleted,
			Message:     message,
		}
		return stx.InsertTransaction(tx)
	})
	if err != nil {
		return nil, err
	}

	s.activity.Record(ctx, receiverDID, "teg.issuance", did.Treasury, tx)
	s.logger.Info("tokens issued",
		zap.String("receiver", receiverDID),
		zap.String("amount", amount.String()),
	)
	return tx, nil
}

// Burn destroys tokens from agentDID's spendable balance.
func (s *Service) Burn(ctx context.Context, agentDID string, amount decimal.Decimal, message string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var tx *Transaction
	err := s.store.Update(ctx, func(stx Tx) error {
		p, err := stx.Profile(agentDID)
		if err != nil {
			return err
		}
		if p.Balance.LessThan(amount) {
			return ErrInsufficientBalance
		}
		p.Balance = p.Balance.Sub(amount)
		if err := stx.SaveProfile(p); err != nil {
			return err
		}

		tx = &Transaction{
			SenderDID:   agentDID,
			ReceiverDID: did.Treasury,
			Amount:      amount,
			FeeAmount:   decimal.Zero,
			Type:        TxBurn,
			Status:      TxCompleted,
			Message:     message,
		}
		return stx.InsertTransaction(tx)
	})
	return tx, err
}

// SetAccountStatus suspends or reinstates a ledger account. Suspended
// accounts cannot send transfers; they can still receive.
func (s *Service) SetAccountStatus(ctx context.Context, agentDID string, status AccountStatus) error {
	err := s.store.Update(ctx, func(tx Tx) error {
		p, err := tx.Profile(agentDID)
		if err != nil {
			return err
		}
		p.Status = status
		return tx.SaveProfile(p)
	})
	if err != nil {
		return err
	}
	s.activity.Record(ctx, agentDID, "teg.account."+string(status), "admin", nil)
	return nil
}
