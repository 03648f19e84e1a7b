package teg

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/agentvault/agentvault/pkg/did"
)

// Filing escrows 60 (10 filing fee + 50 evidence stake) with the defaults.

func TestFileDispute(t *testing.T) {
	s := newLedger(t)
	ctx := context.Background()
	claimant, defendant := did.New(), did.New()
	fund(t, s, claimant, "100")
	fund(t, s, defendant, "100")

	if _, err := s.FileDispute(ctx, claimant, claimant, nil, "fraud", "ipfs://x"); !errors.Is(err, ErrSelfDispute) {
		t.Fatalf("self dispute err = %v", err)
	}

	bogus := uuid.New()
	if _, err := s.FileDispute(ctx, claimant, defendant, &bogus, "fraud", "ipfs://x"); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("bogus related tx err = %v", err)
	}

	d, err := s.FileDispute(ctx, claimant, defendant, nil, "fraud", "ipfs://x")
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if d.Status != DisputeFiled {
		t.Fatalf("status = %s", d.Status)
	}
	if got := balance(t, s, claimant).String(); got != "40" {
		t.Fatalf("claimant balance = %s, want 40", got)
	}
	if got := balance(t, s, did.Treasury).String(); got != "60" {
		t.Fatalf("treasury balance = %s, want 60", got)
	}

	// Escrow exceeds what remains.
	if _, err := s.FileDispute(ctx, claimant, defendant, nil, "fraud", "ipfs://x"); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("underfunded filing err = %v", err)
	}
}

func TestResolveDisputeClaimantWins(t *testing.T) {
	s := newLedger(t)
	ctx := context.Background()
	claimant, defendant, arbitrator := did.New(), did.New(), did.New()
	fund(t, s, claimant, "100")
	fund(t, s, defendant, "100")
	fund(t, s, arbitrator, "0")
	fund(t, s, did.Treasury, "10")

	d, err := s.FileDispute(ctx, claimant, defendant, nil, "fraud", "ipfs://x")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ReviewDispute(ctx, d.DisputeID); err != nil {
		t.Fatal(err)
	}

	resolved, err := s.ResolveDispute(ctx, d.DisputeID, DisputeResolvedClaimant, arbitrator, "clear cut")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != DisputeResolvedClaimant || resolved.ResolvedAt == nil {
		t.Fatalf("resolved state = %+v", resolved)
	}

	// Claimant: 40 after escrow, + 60 refund + 50 compensation.
	if got := balance(t, s, claimant).String(); got != "150" {
		t.Fatalf("claimant balance = %s, want 150", got)
	}
	// Defendant pays 50 compensation.
	if got := balance(t, s, defendant).String(); got != "50" {
		t.Fatalf("defendant balance = %s, want 50", got)
	}
	// Arbitrator reward 5 comes out of the treasury's remaining funds.
	if got := balance(t, s, arbitrator).String(); got != "5" {
		t.Fatalf("arbitrator balance = %s, want 5", got)
	}
	if got := balance(t, s, did.Treasury).String(); got != "5" {
		t.Fatalf("treasury balance = %s, want 5", got)
	}

	p, err := s.Profile(ctx, defendant)
	if err != nil {
		t.Fatal(err)
	}
	if p.ReputationScore != -50 {
		t.Fatalf("defendant reputation = %d, want -50", p.ReputationScore)
	}

	// Terminal disputes cannot be re-resolved or reviewed.
	if _, err := s.ResolveDispute(ctx, d.DisputeID, DisputeResolvedDefendant, arbitrator, ""); !errors.Is(err, ErrDisputeTerminal) {
		t.Fatalf("re-resolve err = %v", err)
	}
	if err := s.ReviewDispute(ctx, d.DisputeID); !errors.Is(err, ErrDisputeTerminal) {
		t.Fatalf("review terminal err = %v", err)
	}
}

func TestResolveDisputeDefendantWins(t *testing.T) {
	s := newLedger(t)
	ctx := context.Background()
	claimant, defendant, arbitrator := did.New(), did.New(), did.New()
	fund(t, s, claimant, "100")
	fund(t, s, defendant, "100")
	fund(t, s, arbitrator, "0")

	d, err := s.FileDispute(ctx, claimant, defendant, nil, "fraud", "ipfs://x")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ResolveDispute(ctx, d.DisputeID, DisputeResolvedDefendant, arbitrator, ""); err != nil {
		t.Fatal(err)
	}

	// Claimant forfeits the 60 escrow.
	if got := balance(t, s, claimant).String(); got != "40" {
		t.Fatalf("claimant balance = %s, want 40", got)
	}
	if got := balance(t, s, defendant).String(); got != "100" {
		t.Fatalf("defendant balance = %s, want 100", got)
	}
	if got := balance(t, s, arbitrator).String(); got != "5" {
		t.Fatalf("arbitrator balance = %s, want 5", got)
	}
	// 60 escrow minus 5 arbitration.
	if got := balance(t, s, did.Treasury).String(); got != "55" {
		t.Fatalf("treasury balance = %s, want 55", got)
	}
}

func TestResolveDisputeInvalid(t *testing.T) {
	s := newLedger(t)
	ctx := context.Background()
	claimant, defendant, arbitrator := did.New(), did.New(), did.New()
	fund(t, s, claimant, "100")
	fund(t, s, defendant, "100")
	fund(t, s, arbitrator, "0")

	d, err := s.FileDispute(ctx, claimant, defendant, nil, "spam", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.ResolveDispute(ctx, d.DisputeID, DisputeFiled, arbitrator, ""); !errors.Is(err, ErrInvalidOutcome) {
		t.Fatalf("non-terminal outcome err = %v", err)
	}

	if _, err := s.ResolveDispute(ctx, d.DisputeID, DisputeInvalid, arbitrator, "frivolous"); err != nil {
		t.Fatal(err)
	}

	p, err := s.Profile(ctx, claimant)
	if err != nil {
		t.Fatal(err)
	}
	if p.ReputationScore != -25 {
		t.Fatalf("claimant reputation = %d, want -25", p.ReputationScore)
	}
	// Invalid outcome pays the reduced arbitration reward.
	if got := balance(t, s, arbitrator).String(); got != "2" {
		t.Fatalf("arbitrator balance = %s, want 2", got)
	}
}

func TestDisputeCompensationCappedAtDefendantBalance(t *testing.T) {
	s := newLedger(t)
	ctx := context.Background()
	claimant, defendant, arbitrator := did.New(), did.New(), did.New()
	fund(t, s, claimant, "100")
	fund(t, s, defendant, "20")
	fund(t, s, arbitrator, "0")

	d, err := s.FileDispute(ctx, claimant, defendant, nil, "fraud", "ipfs://x")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ResolveDispute(ctx, d.DisputeID, DisputeResolvedClaimant, arbitrator, ""); err != nil {
		t.Fatal(err)
	}

	// Compensation clamps to the defendant's 20.
	if got := balance(t, s, defendant).String(); got != "0" {
		t.Fatalf("defendant balance = %s, want 0", got)
	}
	if got := balance(t, s, claimant).String(); got != "120" {
		t.Fatalf("claimant balance = %s, want 120", got)
	}
}

func TestListDisputesByStatus(t *testing.T) {
	s := newLedger(t)
	ctx := context.Background()
	claimant, defendant := did.New(), did.New()
	fund(t, s, claimant, "200")
	fund(t, s, defendant, "0")

	d1, err := s.FileDispute(ctx, claimant, defendant, nil, "fraud", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.FileDispute(ctx, claimant, defendant, nil, "spam", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.ReviewDispute(ctx, d1.DisputeID); err != nil {
		t.Fatal(err)
	}

	filed, err := s.ListDisputes(ctx, DisputeFiled, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(filed) != 1 {
		t.Fatalf("filed = %d, want 1", len(filed))
	}
	review, err := s.ListDisputes(ctx, DisputeUnderReview, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(review) != 1 || review[0].DisputeID != d1.DisputeID {
		t.Fatalf("under_review = %+v", review)
	}
}
