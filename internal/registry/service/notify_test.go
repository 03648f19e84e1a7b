package service

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentvault/agentvault/internal/developers"
	"github.com/agentvault/agentvault/internal/registry/model"
	"github.com/agentvault/agentvault/internal/teg"
	"github.com/agentvault/agentvault/pkg/did"
)

type stubDevLookup struct {
	devs map[uuid.UUID]*developers.Developer
}

func (s *stubDevLookup) GetByID(_ context.Context, id uuid.UUID) (*developers.Developer, error) {
	d, ok := s.devs[id]
	if !ok {
		return nil, developers.ErrNotFound
	}
	return d, nil
}

type sentMail struct {
	to, subject, body string
}

type recordingSender struct {
	sent []sentMail
}

func (r *recordingSender) Send(_ context.Context, to, subject, body string) error {
	r.sent = append(r.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func TestNotifierDisputeResolved(t *testing.T) {
	agents := newStubAgentRepo()
	claimantDev := &developers.Developer{ID: uuid.New(), Email: "alice@acme.com", Name: "Alice"}
	defendantDev := &developers.Developer{ID: uuid.New(), Email: "bob@techcorp.io", Name: "Bob"}

	claimantCard := &model.AgentCard{DID: did.New(), Name: "claimant-agent", DeveloperID: claimantDev.ID}
	defendantCard := &model.AgentCard{DID: did.New(), Name: "defendant-agent", DeveloperID: defendantDev.ID}
	for _, c := range []*model.AgentCard{claimantCard, defendantCard} {
		if err := agents.Create(context.Background(), c); err != nil {
			t.Fatalf("create card: %v", err)
		}
	}

	devs := &stubDevLookup{devs: map[uuid.UUID]*developers.Developer{
		claimantDev.ID:  claimantDev,
		defendantDev.ID: defendantDev,
	}}
	mailer := &recordingSender{}
	n := NewNotifier(agents, devs, mailer, zap.NewNop())

	d := &teg.Dispute{
		DisputeID:       uuid.New(),
		ClaimantDID:     claimantCard.DID,
		DefendantDID:    defendantCard.DID,
		Status:          teg.DisputeResolvedClaimant,
		ResolutionNotes: "evidence conclusive",
	}
	n.DisputeResolved(context.Background(), d)

	if len(mailer.sent) != 2 {
		t.Fatalf("sent = %d mails, want 2", len(mailer.sent))
	}
	if mailer.sent[0].to != "alice@acme.com" || mailer.sent[1].to != "bob@techcorp.io" {
		t.Fatalf("recipients = %s, %s", mailer.sent[0].to, mailer.sent[1].to)
	}
	for _, m := range mailer.sent {
		if m.subject != "AgentVault dispute resolved" {
			t.Fatalf("subject = %q", m.subject)
		}
		if !strings.Contains(m.body, d.DisputeID.String()) {
			t.Fatalf("body missing dispute id: %q", m.body)
		}
		if !strings.Contains(m.body, "evidence conclusive") {
			t.Fatalf("body missing notes: %q", m.body)
		}
	}
	if !strings.Contains(mailer.sent[0].body, "in your favor") {
		t.Fatalf("claimant body = %q", mailer.sent[0].body)
	}
	if !strings.Contains(mailer.sent[1].body, "against your agent") {
		t.Fatalf("defendant body = %q", mailer.sent[1].body)
	}
}

func TestNotifierSkipsSystemAndUnknownParties(t *testing.T) {
	agents := newStubAgentRepo()
	mailer := &recordingSender{}
	n := NewNotifier(agents, &stubDevLookup{devs: map[uuid.UUID]*developers.Developer{}}, mailer, zap.NewNop())

	n.DisputeResolved(context.Background(), &teg.Dispute{
		DisputeID:    uuid.New(),
		ClaimantDID:  did.Treasury,
		DefendantDID: did.New(), // never registered in the catalog
		Status:       teg.DisputeResolvedDefendant,
	})

	if len(mailer.sent) != 0 {
		t.Fatalf("sent = %d mails, want 0", len(mailer.sent))
	}
}
