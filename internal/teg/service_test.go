package teg

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/agentvault/agentvault/pkg/did"
)

func newLedger(t *testing.T) *Service {
	t.Helper()
	return NewService(NewMemoryStore(), DefaultConfig(), nil, nil, zap.NewNop())
}

// fund creates a profile and issues it an initial balance.
func fund(t *testing.T, s *Service, agentDID string, amount string) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.EnsureProfile(ctx, agentDID); err != nil {
		t.Fatalf("ensure profile: %v", err)
	}
	amt := decimal.RequireFromString(amount)
	if !amt.IsPositive() {
		return
	}
	if _, err := s.Issue(ctx, agentDID, amt, "seed"); err != nil {
		t.Fatalf("issue: %v", err)
	}
}

func balance(t *testing.T, s *Service, agentDID string) decimal.Decimal {
	t.Helper()
	p, err := s.Profile(context.Background(), agentDID)
	if err != nil {
		t.Fatalf("profile %s: %v", agentDID, err)
	}
	return p.Balance
}

func TestTransferFeeMath(t *testing.T) {
	s := newLedger(t)
	ctx := context.Background()
	a, b := did.New(), did.New()
	fund(t, s, a, "100")
	fund(t, s, b, "0")

	tx, replayed, err := s.Transfer(ctx, a, b, decimal.NewFromInt(50), nil, "payment")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if replayed {
		t.Fatal("fresh transfer reported as replayed")
	}
	if got := tx.FeeAmount.String(); got != "0.001" {
		t.Fatalf("fee = %s, want 0.001", got)
	}
	if got := balance(t, s, a).String(); got != "49.999" {
		t.Fatalf("sender balance = %s, want 49.999", got)
	}
	if got := balance(t, s, b).String(); got != "50" {
		t.Fatalf("receiver balance = %s, want 50", got)
	}
	if got := balance(t, s, did.Treasury).String(); got != "0.001" {
		t.Fatalf("treasury balance = %s, want 0.001", got)
	}
}

func TestTransferIdempotentReplay(t *testing.T) {
	s := newLedger(t)
	ctx := context.Background()
	a, b := did.New(), did.New()
	fund(t, s, a, "100")
	fund(t, s, b, "0")

	key := "retry-key-1"
	first, _, err := s.Transfer(ctx, a, b, decimal.NewFromInt(10), &key, "")
	if err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	second, replayed, err := s.Transfer(ctx, a, b, decimal.NewFromInt(10), &key, "")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !replayed {
		t.Fatal("retry not reported as replayed")
	}
	if second.TxID != first.TxID {
		t.Fatalf("retry returned tx %s, want original %s", second.TxID, first.TxID)
	}
	// Single debit only.
	if got := balance(t, s, a).String(); got != "89.999" {
		t.Fatalf("sender balance after retry = %s, want 89.999", got)
	}

	// Same key, different amount.
	_, _, err = s.Transfer(ctx, a, b, decimal.NewFromInt(11), &key, "")
	if !errors.Is(err, ErrIdempotencyConflict) {
		t.Fatalf("conflicting retry err = %v, want ErrIdempotencyConflict", err)
	}
}

func TestTransferRejections(t *testing.T) {
	s := newLedger(t)
	ctx := context.Background()
	a, b := did.New(), did.New()
	fund(t, s, a, "5")
	fund(t, s, b, "0")

	if _, _, err := s.Transfer(ctx, a, a, decimal.NewFromInt(1), nil, ""); !errors.Is(err, ErrSelfTransfer) {
		t.Fatalf("self transfer err = %v", err)
	}
	if _, _, err := s.Transfer(ctx, a, b, decimal.Zero, nil, ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount err = %v", err)
	}
	if _, _, err := s.Transfer(ctx, a, b, decimal.NewFromInt(-3), nil, ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative amount err = %v", err)
	}
	// 5 available, 5 + fee needed.
	if _, _, err := s.Transfer(ctx, a, b, decimal.NewFromInt(5), nil, ""); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("insufficient err = %v", err)
	}
	// Balance untouched by the failed attempts.
	if got := balance(t, s, a).String(); got != "5" {
		t.Fatalf("sender balance = %s, want 5", got)
	}

	if err := s.SetAccountStatus(ctx, a, AccountSuspended); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if _, _, err := s.Transfer(ctx, a, b, decimal.NewFromInt(1), nil, ""); !errors.Is(err, ErrAccountSuspended) {
		t.Fatalf("suspended sender err = %v", err)
	}
	// Suspension blocks sending only; a receiving suspended account fails
	// here on b's empty balance, not on a's status.
	if _, _, err := s.Transfer(ctx, b, a, decimal.NewFromInt(1), nil, ""); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("transfer to suspended err = %v, want ErrInsufficientBalance", err)
	}
}

func TestTransferToSystemDID(t *testing.T) {
	s := newLedger(t)
	ctx := context.Background()
	a := did.New()
	fund(t, s, a, "20")

	tx, _, err := s.Transfer(ctx, a, did.Treasury, decimal.NewFromInt(10), nil, "")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if tx.Type != TxTransferToSystem {
		t.Fatalf("type = %s, want %s", tx.Type, TxTransferToSystem)
	}
	// Amount plus fee both land in the treasury.
	if got := balance(t, s, did.Treasury).String(); got != "10.001" {
		t.Fatalf("treasury balance = %s, want 10.001", got)
	}
}

func TestTransferUnknownReceiver(t *testing.T) {
	s := newLedger(t)
	a := did.New()
	fund(t, s, a, "10")

	_, _, err := s.Transfer(context.Background(), a, did.New(), decimal.NewFromInt(1), nil, "")
	if !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("err = %v, want ErrProfileNotFound", err)
	}
}

func TestReputationSignal(t *testing.T) {
	s := newLedger(t)
	ctx := context.Background()
	a, b := did.New(), did.New()
	fund(t, s, a, "100")
	fund(t, s, b, "0")

	tx, _, err := s.Transfer(ctx, a, b, decimal.NewFromInt(5), nil, "")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if _, err := s.SetReputationSignal(ctx, a, tx.TxID, 2); !errors.Is(err, ErrInvalidSignal) {
		t.Fatalf("signal 2 err = %v", err)
	}
	if _, err := s.SetReputationSignal(ctx, b, tx.TxID, 1); !errors.Is(err, ErrNotSender) {
		t.Fatalf("receiver signal err = %v", err)
	}

	updated, err := s.SetReputationSignal(ctx, a, tx.TxID, 1)
	if err != nil {
		t.Fatalf("signal: %v", err)
	}
	if !updated.SignalApplied || updated.ReputationSignal != 1 {
		t.Fatalf("tx signal state = %+v", updated)
	}
	p, err := s.Profile(ctx, b)
	if err != nil {
		t.Fatal(err)
	}
	if p.ReputationScore != 1 {
		t.Fatalf("receiver reputation = %d, want 1", p.ReputationScore)
	}

	if _, err := s.SetReputationSignal(ctx, a, tx.TxID, -1); !errors.Is(err, ErrSignalApplied) {
		t.Fatalf("second signal err = %v", err)
	}

	// Signals apply to transfers only.
	iss, err := s.Issue(ctx, b, decimal.NewFromInt(1), "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetReputationSignal(ctx, did.Treasury, iss.TxID, 1); !errors.Is(err, ErrNotTransfer) {
		t.Fatalf("issuance signal err = %v", err)
	}
}

func TestReputationClamp(t *testing.T) {
	if got := ClampReputation(ReputationMax + 5); got != ReputationMax {
		t.Fatalf("clamp high = %d", got)
	}
	if got := ClampReputation(ReputationMin - 5); got != ReputationMin {
		t.Fatalf("clamp low = %d", got)
	}
	if got := ClampReputation(42); got != 42 {
		t.Fatalf("clamp mid = %d", got)
	}
}

func TestIssueAndBurn(t *testing.T) {
	s := newLedger(t)
	ctx := context.Background()
	a := did.New()

	tx, err := s.Issue(ctx, a, decimal.NewFromInt(30), "grant")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tx.Type != TxIssuance || tx.SenderDID != did.Treasury {
		t.Fatalf("issuance tx = %+v", tx)
	}
	if got := balance(t, s, a).String(); got != "30" {
		t.Fatalf("balance = %s", got)
	}

	if _, err := s.Burn(ctx, a, decimal.NewFromInt(40), ""); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("overburn err = %v", err)
	}
	burn, err := s.Burn(ctx, a, decimal.NewFromInt(10), "cleanup")
	if err != nil {
		t.Fatalf("burn: %v", err)
	}
	if burn.Type != TxBurn {
		t.Fatalf("burn type = %s", burn.Type)
	}
	if got := balance(t, s, a).String(); got != "20" {
		t.Fatalf("balance after burn = %s", got)
	}
}

func TestListTransactionsNewestFirst(t *testing.T) {
	s := newLedger(t)
	ctx := context.Background()
	a, b := did.New(), did.New()
	fund(t, s, a, "100")
	fund(t, s, b, "0")

	var last uuid.UUID
	for i := 0; i < 3; i++ {
		tx, _, err := s.Transfer(ctx, a, b, decimal.NewFromInt(1), nil, "")
		if err != nil {
			t.Fatal(err)
		}
		last = tx.TxID
	}

	history, err := s.ListTransactions(ctx, a, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) == 0 || history[0].TxID != last {
		t.Fatalf("newest tx not first, got %d entries", len(history))
	}
	for _, tx := range history {
		if tx.SenderDID != a && tx.ReceiverDID != a {
			t.Fatalf("history includes unrelated tx %s", tx.TxID)
		}
	}
}

func TestUpdateRollbackOnError(t *testing.T) {
	store := NewMemoryStore()
	s := NewService(store, DefaultConfig(), nil, nil, zap.NewNop())
	ctx := context.Background()
	a := did.New()
	fund(t, s, a, "10")

	sentinel := errors.New("boom")
	err := store.Update(ctx, func(tx Tx) error {
		p, err := tx.Profile(a)
		if err != nil {
			return err
		}
		p.Balance = decimal.Zero
		if err := tx.SaveProfile(p); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v", err)
	}
	if got := balance(t, s, a).String(); got != "10" {
		t.Fatalf("balance after rollback = %s, want 10", got)
	}
}
