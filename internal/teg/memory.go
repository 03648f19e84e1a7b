package teg

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory, thread-safe Store implementation. Updates
// run against a deep copy of the state that is swapped in on success, so a
// failed fn leaves the ledger untouched. Primarily useful for tests and
// single-process deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	profiles    map[string]*Profile
	txs         map[uuid.UUID]*Transaction
	txOrder     []uuid.UUID
	byIdem      map[string]uuid.UUID
	stakes      map[uuid.UUID]*Stake
	stakeOrder  []uuid.UUID
	delegations map[uuid.UUID]*Delegation
	delegOrder  []uuid.UUID
	policies    map[string]*AttestationPolicy
	submissions []*AttestationSubmission
	disputes    map[uuid.UUID]*Dispute
	dispOrder   []uuid.UUID
	flags       map[uuid.UUID]*AuditorFlag
	flagOrder   []uuid.UUID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func newMemState() *memState {
	return &memState{
		profiles:    make(map[string]*Profile),
		txs:         make(map[uuid.UUID]*Transaction),
		byIdem:      make(map[string]uuid.UUID),
		stakes:      make(map[uuid.UUID]*Stake),
		delegations: make(map[uuid.UUID]*Delegation),
		policies:    make(map[string]*AttestationPolicy),
		disputes:    make(map[uuid.UUID]*Dispute),
		flags:       make(map[uuid.UUID]*AuditorFlag),
	}
}

// Update implements Store. fn runs against a clone; the clone replaces the
// live state only when fn returns nil.
func (m *MemoryStore) Update(_ context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(&memTx{s: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// View implements Store.
func (m *MemoryStore) View(_ context.Context, fn func(Tx) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memTx{s: m.state})
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.profiles {
		cp := *v
		c.profiles[k] = &cp
	}
	for k, v := range s.txs {
		c.txs[k] = cloneTx(v)
	}
	c.txOrder = append([]uuid.UUID(nil), s.txOrder...)
	for k, v := range s.byIdem {
		c.byIdem[k] = v
	}
	for k, v := range s.stakes {
		cp := *v
		if v.UnstakeAvailableAt != nil {
			t := *v.UnstakeAvailableAt
			cp.UnstakeAvailableAt = &t
		}
		c.stakes[k] = &cp
	}
	c.stakeOrder = append([]uuid.UUID(nil), s.stakeOrder...)
	for k, v := range s.delegations {
		cp := *v
		c.delegations[k] = &cp
	}
	c.delegOrder = append([]uuid.UUID(nil), s.delegOrder...)
	for k, v := range s.policies {
		cp := *v
		c.policies[k] = &cp
	}
	for _, v := range s.submissions {
		cp := *v
		if v.RewardTxID != nil {
			id := *v.RewardTxID
			cp.RewardTxID = &id
		}
		c.submissions = append(c.submissions, &cp)
	}
	for k, v := range s.disputes {
		cp := *v
		if v.RelatedTxID != nil {
			id := *v.RelatedTxID
			cp.RelatedTxID = &id
		}
		if v.ResolvedAt != nil {
			t := *v.ResolvedAt
			cp.ResolvedAt = &t
		}
		c.disputes[k] = &cp
	}
	c.dispOrder = append([]uuid.UUID(nil), s.dispOrder...)
	for k, v := range s.flags {
		cp := *v
		cp.RelatedTxIDs = append([]uuid.UUID(nil), v.RelatedTxIDs...)
		c.flags[k] = &cp
	}
	c.flagOrder = append([]uuid.UUID(nil), s.flagOrder...)
	return c
}

func cloneTx(t *Transaction) *Transaction {
	cp := *t
	if t.IdempotencyKey != nil {
		k := *t.IdempotencyKey
		cp.IdempotencyKey = &k
	}
	return &cp
}

// memTx implements Tx over a memState.
type memTx struct {
	s *memState
}

func (t *memTx) Profile(did string) (*Profile, error) {
	p, ok := t.s.profiles[did]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return p, nil
}

func (t *memTx) CreateProfile(p *Profile) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = AccountActive
	}
	t.s.profiles[p.AgentDID] = p
	return nil
}

func (t *memTx) SaveProfile(p *Profile) error {
	if _, ok := t.s.profiles[p.AgentDID]; !ok {
		return ErrProfileNotFound
	}
	p.UpdatedAt = time.Now().UTC()
	t.s.profiles[p.AgentDID] = p
	return nil
}

func (t *memTx) InsertTransaction(tx *Transaction) error {
	if tx.IdempotencyKey != nil {
		if _, ok := t.s.byIdem[*tx.IdempotencyKey]; ok {
			return ErrDuplicateIdempotency
		}
	}
	if tx.TxID == uuid.Nil {
		tx.TxID = uuid.New()
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now().UTC()
	}
	t.s.txs[tx.TxID] = tx
	t.s.txOrder = append(t.s.txOrder, tx.TxID)
	if tx.IdempotencyKey != nil {
		t.s.byIdem[*tx.IdempotencyKey] = tx.TxID
	}
	return nil
}

func (t *memTx) SaveTransaction(tx *Transaction) error {
	if _, ok := t.s.txs[tx.TxID]; !ok {
		return ErrTransactionNotFound
	}
	t.s.txs[tx.TxID] = tx
	return nil
}

func (t *memTx) TransactionByID(id uuid.UUID) (*Transaction, error) {
	tx, ok := t.s.txs[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return tx, nil
}

func (t *memTx) TransactionByIdempotencyKey(key string) (*Transaction, error) {
	id, ok := t.s.byIdem[key]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return t.s.txs[id], nil
}

func (t *memTx) ListTransactions(did string, limit, offset int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*Transaction
	// Newest first.
	for i := len(t.s.txOrder) - 1; i >= 0; i-- {
		tx := t.s.txs[t.s.txOrder[i]]
		if did != "" && tx.SenderDID != did && tx.ReceiverDID != did {
			continue
		}
		if offset > 0 {
			offset--
			continue
		}
		out = append(out, tx)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (t *memTx) RecentTransfers(agentDID string, since time.Time) ([]*Transaction, error) {
	var out []*Transaction
	for _, id := range t.s.txOrder {
		tx := t.s.txs[id]
		if tx.SenderDID != agentDID && tx.ReceiverDID != agentDID {
			continue
		}
		if tx.Status != TxCompleted {
			continue
		}
		if tx.Type != TxTransfer && tx.Type != TxTransferToSystem {
			continue
		}
		if tx.Timestamp.Before(since) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (t *memTx) InsertStake(s *Stake) error {
	if s.StakeID == uuid.Nil {
		s.StakeID = uuid.New()
	}
	if s.StakedAt.IsZero() {
		s.StakedAt = time.Now().UTC()
	}
	t.s.stakes[s.StakeID] = s
	t.s.stakeOrder = append(t.s.stakeOrder, s.StakeID)
	return nil
}

func (t *memTx) SaveStake(s *Stake) error {
	if _, ok := t.s.stakes[s.StakeID]; !ok {
		return ErrStakeNotFound
	}
	t.s.stakes[s.StakeID] = s
	return nil
}

func (t *memTx) StakeByID(id uuid.UUID) (*Stake, error) {
	s, ok := t.s.stakes[id]
	if !ok {
		return nil, ErrStakeNotFound
	}
	return s, nil
}

func (t *memTx) ListStakes(did string) ([]*Stake, error) {
	var out []*Stake
	for _, id := range t.s.stakeOrder {
		s := t.s.stakes[id]
		if s.AgentDID == did {
			out = append(out, s)
		}
	}
	return out, nil
}

func (t *memTx) ExpiredUnstakes(now time.Time) ([]*Stake, error) {
	var out []*Stake
	for _, id := range t.s.stakeOrder {
		s := t.s.stakes[id]
		if s.Status == StakeUnstaking && s.UnstakeAvailableAt != nil && !s.UnstakeAvailableAt.After(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (t *memTx) InsertDelegation(d *Delegation) error {
	if d.DelegationID == uuid.Nil {
		d.DelegationID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	t.s.delegations[d.DelegationID] = d
	t.s.delegOrder = append(t.s.delegOrder, d.DelegationID)
	return nil
}

func (t *memTx) SaveDelegation(d *Delegation) error {
	if _, ok := t.s.delegations[d.DelegationID]; !ok {
		return ErrDelegationNotFound
	}
	t.s.delegations[d.DelegationID] = d
	return nil
}

func (t *memTx) DelegationByID(id uuid.UUID) (*Delegation, error) {
	d, ok := t.s.delegations[id]
	if !ok {
		return nil, ErrDelegationNotFound
	}
	return d, nil
}

func (t *memTx) ListDelegationsByStake(stakeID uuid.UUID) ([]*Delegation, error) {
	var out []*Delegation
	for _, id := range t.s.delegOrder {
		d := t.s.delegations[id]
		if d.StakeID == stakeID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (t *memTx) ListActiveDelegations() ([]*Delegation, error) {
	var out []*Delegation
	for _, id := range t.s.delegOrder {
		d := t.s.delegations[id]
		if d.Status == DelegationActive {
			out = append(out, d)
		}
	}
	return out, nil
}

func (t *memTx) PolicyByCode(code string) (*AttestationPolicy, error) {
	p, ok := t.s.policies[code]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	return p, nil
}

func (t *memTx) SavePolicy(p *AttestationPolicy) error {
	t.s.policies[p.PolicyCode] = p
	return nil
}

func (t *memTx) InsertSubmission(s *AttestationSubmission) error {
	if s.SubmissionID == uuid.Nil {
		s.SubmissionID = uuid.New()
	}
	if s.SubmittedAt.IsZero() {
		s.SubmittedAt = time.Now().UTC()
	}
	t.s.submissions = append(t.s.submissions, s)
	return nil
}

func (t *memTx) SaveSubmission(s *AttestationSubmission) error {
	for i, cur := range t.s.submissions {
		if cur.SubmissionID == s.SubmissionID {
			t.s.submissions[i] = s
			return nil
		}
	}
	return ErrSubmissionNotFound
}

func (t *memTx) LastVerifiedSubmission(did, policyCode string) (*AttestationSubmission, error) {
	var latest *AttestationSubmission
	for _, s := range t.s.submissions {
		if s.AgentDID != did || s.PolicyCode != policyCode || s.Status != SubmissionVerifiedTrue {
			continue
		}
		if latest == nil || s.SubmittedAt.After(latest.SubmittedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, ErrSubmissionNotFound
	}
	return latest, nil
}

func (t *memTx) InsertDispute(d *Dispute) error {
	if d.DisputeID == uuid.Nil {
		d.DisputeID = uuid.New()
	}
	if d.FiledAt.IsZero() {
		d.FiledAt = time.Now().UTC()
	}
	t.s.disputes[d.DisputeID] = d
	t.s.dispOrder = append(t.s.dispOrder, d.DisputeID)
	return nil
}

func (t *memTx) SaveDispute(d *Dispute) error {
	if _, ok := t.s.disputes[d.DisputeID]; !ok {
		return ErrDisputeNotFound
	}
	t.s.disputes[d.DisputeID] = d
	return nil
}

func (t *memTx) DisputeByID(id uuid.UUID) (*Dispute, error) {
	d, ok := t.s.disputes[id]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	return d, nil
}

func (t *memTx) ListDisputes(status DisputeStatus, limit, offset int) ([]*Dispute, error) {
	if limit <= 0 {
		limit = 50
	}
	ids := append([]uuid.UUID(nil), t.s.dispOrder...)
	sort.SliceStable(ids, func(i, j int) bool {
		return t.s.disputes[ids[i]].FiledAt.After(t.s.disputes[ids[j]].FiledAt)
	})
	var out []*Dispute
	for _, id := range ids {
		d := t.s.disputes[id]
		if status != "" && d.Status != status {
			continue
		}
		if offset > 0 {
			offset--
			continue
		}
		out = append(out, d)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (t *memTx) InsertFlag(f *AuditorFlag) error {
	if f.FlagID == uuid.Nil {
		f.FlagID = uuid.New()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if f.Status == "" {
		f.Status = FlagNew
	}
	t.s.flags[f.FlagID] = f
	t.s.flagOrder = append(t.s.flagOrder, f.FlagID)
	return nil
}

func (t *memTx) SaveFlag(f *AuditorFlag) error {
	if _, ok := t.s.flags[f.FlagID]; !ok {
		return ErrFlagNotFound
	}
	t.s.flags[f.FlagID] = f
	return nil
}

func (t *memTx) FlagByID(id uuid.UUID) (*AuditorFlag, error) {
	f, ok := t.s.flags[id]
	if !ok {
		return nil, ErrFlagNotFound
	}
	return f, nil
}

func (t *memTx) ListFlags(status FlagStatus, limit, offset int) ([]*AuditorFlag, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*AuditorFlag
	for i := len(t.s.flagOrder) - 1; i >= 0; i-- {
		f := t.s.flags[t.s.flagOrder[i]]
		if status != "" && f.Status != status {
			continue
		}
		if offset > 0 {
			offset--
			continue
		}
		out = append(out, f)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
