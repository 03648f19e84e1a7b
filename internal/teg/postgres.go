package teg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the durable Store implementation. Update wraps fn in a
// database transaction; Profile() locks rows FOR UPDATE so concurrent
// transfers touching the same profile serialize.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore on an existing pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Update implements Store.
func (s *PostgresStore) Update(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgTx{ctx: ctx, tx: tx, forUpdate: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// View implements Store.
func (s *PostgresStore) View(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// pgTx implements Tx over a pgx transaction.
type pgTx struct {
	ctx       context.Context
	tx        pgx.Tx
	forUpdate bool
}

const profileColumns = `agent_did, balance, staked_total, reputation_score, status, created_at, updated_at`

func (t *pgTx) Profile(did string) (*Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM teg_profiles WHERE agent_did = $1`
	if t.forUpdate {
		q += ` FOR UPDATE`
	}
	var p Profile
	err := t.tx.QueryRow(t.ctx, q, did).Scan(
		&p.AgentDID, &p.Balance, &p.StakedTotal, &p.ReputationScore,
		&p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("query profile: %w", err)
	}
	return &p, nil
}

func (t *pgTx) CreateProfile(p *Profile) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = AccountActive
	}
	q := `
		INSERT INTO teg_profiles (` + profileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := t.tx.Exec(t.ctx, q,
		p.AgentDID, p.Balance, p.StakedTotal, p.ReputationScore,
		p.Status, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

func (t *pgTx) SaveProfile(p *Profile) error {
	p.UpdatedAt = time.Now().UTC()
	q := `
		UPDATE teg_profiles SET
			balance = $2, staked_total = $3, reputation_score = $4,
			status = $5, updated_at = $6
		WHERE agent_did = $1`
	tag, err := t.tx.Exec(t.ctx, q,
		p.AgentDID, p.Balance, p.StakedTotal, p.ReputationScore, p.Status, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

const txColumns = `tx_id, idempotency_key, sender_did, receiver_did, amount, fee_amount,
	type, status, timestamp, attached_message, reputation_signal, signal_applied`

func (t *pgTx) InsertTransaction(tr *Transaction) error {
	if tr.TxID == uuid.Nil {
		tr.TxID = uuid.New()
	}
	if tr.Timestamp.IsZero() {
		tr.Timestamp = time.Now().UTC()
	}
	q := `
		INSERT INTO teg_transactions (` + txColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := t.tx.Exec(t.ctx, q,
		tr.TxID, tr.IdempotencyKey, tr.SenderDID, tr.ReceiverDID,
		tr.Amount, tr.FeeAmount, tr.Type, tr.Status, tr.Timestamp,
		tr.Message, tr.ReputationSignal, tr.SignalApplied,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIdempotency
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (t *pgTx) SaveTransaction(tr *Transaction) error {
	q := `
		UPDATE teg_transactions SET
			status = $2, reputation_signal = $3, signal_applied = $4
		WHERE tx_id = $1`
	tag, err := t.tx.Exec(t.ctx, q, tr.TxID, tr.Status, tr.ReputationSignal, tr.SignalApplied)
	if err != nil {
		return fmt.Errorf("save transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (t *pgTx) TransactionByID(id uuid.UUID) (*Transaction, error) {
	return t.scanTx(`SELECT `+txColumns+` FROM teg_transactions WHERE tx_id = $1`, id)
}

func (t *pgTx) TransactionByIdempotencyKey(key string) (*Transaction, error) {
	return t.scanTx(`SELECT `+txColumns+` FROM teg_transactions WHERE idempotency_key = $1`, key)
}

func (t *pgTx) scanTx(q string, args ...any) (*Transaction, error) {
	var tr Transaction
	err := t.tx.QueryRow(t.ctx, q, args...).Scan(
		&tr.TxID, &tr.IdempotencyKey, &tr.SenderDID, &tr.ReceiverDID,
		&tr.Amount, &tr.FeeAmount, &tr.Type, &tr.Status, &tr.Timestamp,
		&tr.Message, &tr.ReputationSignal, &tr.SignalApplied,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("query transaction: %w", err)
	}
	return &tr, nil
}

func (t *pgTx) ListTransactions(did string, limit, offset int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
		SELECT ` + txColumns + ` FROM teg_transactions
		WHERE ($1 = '' OR sender_did = $1 OR receiver_did = $1)
		ORDER BY timestamp DESC, tx_id
		LIMIT $2 OFFSET $3`
	return t.scanTxRows(q, did, limit, offset)
}

func (t *pgTx) RecentTransfers(agentDID string, since time.Time) ([]*Transaction, error) {
	q := `
		SELECT ` + txColumns + ` FROM teg_transactions
		WHERE (sender_did = $1 OR receiver_did = $1)
		  AND status = 'completed'
		  AND type IN ('transfer', 'transfer_to_system')
		  AND timestamp >= $2
		ORDER BY timestamp`
	return t.scanTxRows(q, agentDID, since)
}

func (t *pgTx) scanTxRows(q string, args ...any) ([]*Transaction, error) {
	rows, err := t.tx.Query(t.ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		var tr Transaction
		if err := rows.Scan(
			&tr.TxID, &tr.IdempotencyKey, &tr.SenderDID, &tr.ReceiverDID,
			&tr.Amount, &tr.FeeAmount, &tr.Type, &tr.Status, &tr.Timestamp,
			&tr.Message, &tr.ReputationSignal, &tr.SignalApplied,
		); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, &tr)
	}
	return out, rows.Err()
}

const stakeColumns = `stake_id, agent_did, amount, staked_at, status, unstake_available_at`

func (t *pgTx) InsertStake(s *Stake) error {
	if s.StakeID == uuid.Nil {
		s.StakeID = uuid.New()
	}
	if s.StakedAt.IsZero() {
		s.StakedAt = time.Now().UTC()
	}
	q := `INSERT INTO teg_stakes (` + stakeColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := t.tx.Exec(t.ctx, q,
		s.StakeID, s.AgentDID, s.Amount, s.StakedAt, s.Status, s.UnstakeAvailableAt,
	)
	if err != nil {
		return fmt.Errorf("insert stake: %w", err)
	}
	return nil
}

func (t *pgTx) SaveStake(s *Stake) error {
	q := `UPDATE teg_stakes SET status = $2, unstake_available_at = $3 WHERE stake_id = $1`
	tag, err := t.tx.Exec(t.ctx, q, s.StakeID, s.Status, s.UnstakeAvailableAt)
	if err != nil {
		return fmt.Errorf("save stake: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStakeNotFound
	}
	return nil
}

func (t *pgTx) StakeByID(id uuid.UUID) (*Stake, error) {
	q := `SELECT ` + stakeColumns + ` FROM teg_stakes WHERE stake_id = $1`
	if t.forUpdate {
		q += ` FOR UPDATE`
	}
	var s Stake
	err := t.tx.QueryRow(t.ctx, q, id).Scan(
		&s.StakeID, &s.AgentDID, &s.Amount, &s.StakedAt, &s.Status, &s.UnstakeAvailableAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStakeNotFound
		}
		return nil, fmt.Errorf("query stake: %w", err)
	}
	return &s, nil
}

func (t *pgTx) ListStakes(did string) ([]*Stake, error) {
	q := `SELECT ` + stakeColumns + ` FROM teg_stakes WHERE agent_did = $1 ORDER BY staked_at`
	return t.scanStakeRows(q, did)
}

func (t *pgTx) ExpiredUnstakes(now time.Time) ([]*Stake, error) {
	q := `
		SELECT ` + stakeColumns + ` FROM teg_stakes
		WHERE status = 'unstaking' AND unstake_available_at <= $1
		ORDER BY agent_did`
	return t.scanStakeRows(q, now)
}

func (t *pgTx) scanStakeRows(q string, args ...any) ([]*Stake, error) {
	rows, err := t.tx.Query(t.ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Stake
	for rows.Next() {
		var s Stake
		if err := rows.Scan(
			&s.StakeID, &s.AgentDID, &s.Amount, &s.StakedAt, &s.Status, &s.UnstakeAvailableAt,
		); err != nil {
			return nil, fmt.Errorf("scan stake: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

const delegColumns = `delegation_id, stake_id, agent_did, validator_did, amount, reward_share_pct, status, created_at`

func (t *pgTx) InsertDelegation(d *Delegation) error {
	if d.DelegationID == uuid.Nil {
		d.DelegationID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	q := `INSERT INTO teg_delegations (` + delegColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := t.tx.Exec(t.ctx, q,
		d.DelegationID, d.StakeID, d.AgentDID, d.ValidatorDID,
		d.Amount, d.RewardSharePct, d.Status, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delegation: %w", err)
	}
	return nil
}

func (t *pgTx) SaveDelegation(d *Delegation) error {
	q := `UPDATE teg_delegations SET status = $2 WHERE delegation_id = $1`
	tag, err := t.tx.Exec(t.ctx, q, d.DelegationID, d.Status)
	if err != nil {
		return fmt.Errorf("save delegation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDelegationNotFound
	}
	return nil
}

func (t *pgTx) DelegationByID(id uuid.UUID) (*Delegation, error) {
	rows, err := t.scanDelegRows(`SELECT `+delegColumns+` FROM teg_delegations WHERE delegation_id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrDelegationNotFound
	}
	return rows[0], nil
}

func (t *pgTx) ListDelegationsByStake(stakeID uuid.UUID) ([]*Delegation, error) {
	return t.scanDelegRows(
		`SELECT `+delegColumns+` FROM teg_delegations WHERE stake_id = $1 ORDER BY created_at`, stakeID)
}

func (t *pgTx) ListActiveDelegations() ([]*Delegation, error) {
	return t.scanDelegRows(
		`SELECT ` + delegColumns + ` FROM teg_delegations WHERE status = 'active' ORDER BY agent_did, created_at`)
}

func (t *pgTx) scanDelegRows(q string, args ...any) ([]*Delegation, error) {
	rows, err := t.tx.Query(t.ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Delegation
	for rows.Next() {
		var d Delegation
		if err := rows.Scan(
			&d.DelegationID, &d.StakeID, &d.AgentDID, &d.ValidatorDID,
			&d.Amount, &d.RewardSharePct, &d.Status, &d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan delegation: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (t *pgTx) PolicyByCode(code string) (*AttestationPolicy, error) {
	var p AttestationPolicy
	q := `
		SELECT policy_code, circuit_id, base_reward, cooldown_seconds, is_active
		FROM teg_attestation_policies WHERE policy_code = $1`
	err := t.tx.QueryRow(t.ctx, q, code).Scan(
		&p.PolicyCode, &p.CircuitID, &p.BaseReward, &p.CooldownSeconds, &p.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPolicyNotFound
		}
		return nil, fmt.Errorf("query policy: %w", err)
	}
	return &p, nil
}

func (t *pgTx) SavePolicy(p *AttestationPolicy) error {
	q := `
		INSERT INTO teg_attestation_policies (policy_code, circuit_id, base_reward, cooldown_seconds, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (policy_code) DO UPDATE SET
			circuit_id = $2, base_reward = $3, cooldown_seconds = $4, is_active = $5`
	_, err := t.tx.Exec(t.ctx, q, p.PolicyCode, p.CircuitID, p.BaseReward, p.CooldownSeconds, p.IsActive)
	if err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	return nil
}

const submissionColumns = `submission_id, agent_did, policy_code, data, storage_pointer, zkp, status, reward_tx_id, submitted_at`

func (t *pgTx) InsertSubmission(s *AttestationSubmission) error {
	if s.SubmissionID == uuid.Nil {
		s.SubmissionID = uuid.New()
	}
	if s.SubmittedAt.IsZero() {
		s.SubmittedAt = time.Now().UTC()
	}
	q := `INSERT INTO teg_attestation_submissions (` + submissionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := t.tx.Exec(t.ctx, q,
		s.SubmissionID, s.AgentDID, s.PolicyCode, s.Data, s.StoragePointer,
		s.ZKP, s.Status, s.RewardTxID, s.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (t *pgTx) SaveSubmission(s *AttestationSubmission) error {
	q := `UPDATE teg_attestation_submissions SET status = $2, reward_tx_id = $3 WHERE submission_id = $1`
	tag, err := t.tx.Exec(t.ctx, q, s.SubmissionID, s.Status, s.RewardTxID)
	if err != nil {
		return fmt.Errorf("save submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubmissionNotFound
	}
	return nil
}

func (t *pgTx) LastVerifiedSubmission(did, policyCode string) (*AttestationSubmission, error) {
	var s AttestationSubmission
	q := `
		SELECT ` + submissionColumns + ` FROM teg_attestation_submissions
		WHERE agent_did = $1 AND policy_code = $2 AND status = 'verified_true'
		ORDER BY submitted_at DESC LIMIT 1`
	err := t.tx.QueryRow(t.ctx, q, did, policyCode).Scan(
		&s.SubmissionID, &s.AgentDID, &s.PolicyCode, &s.Data, &s.StoragePointer,
		&s.ZKP, &s.Status, &s.RewardTxID, &s.SubmittedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("query submission: %w", err)
	}
	return &s, nil
}

const disputeColumns = `dispute_id, claimant_did, defendant_did, related_tx_id, reason_code,
	evidence_pointer, status, filing_fee_tx_id, evidence_stake_tx_id, resolution_notes, filed_at, resolved_at`

func (t *pgTx) InsertDispute(d *Dispute) error {
	if d.DisputeID == uuid.Nil {
		d.DisputeID = uuid.New()
	}
	if d.FiledAt.IsZero() {
		d.FiledAt = time.Now().UTC()
	}
	q := `INSERT INTO teg_disputes (` + disputeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := t.tx.Exec(t.ctx, q,
		d.DisputeID, d.ClaimantDID, d.DefendantDID, d.RelatedTxID, d.ReasonCode,
		d.EvidencePointer, d.Status, d.FilingFeeTxID, d.EvidenceStakeTxID,
		d.ResolutionNotes, d.FiledAt, d.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dispute: %w", err)
	}
	return nil
}

func (t *pgTx) SaveDispute(d *Dispute) error {
	q := `UPDATE teg_disputes SET status = $2, resolution_notes = $3, resolved_at = $4 WHERE dispute_id = $1`
	tag, err := t.tx.Exec(t.ctx, q, d.DisputeID, d.Status, d.ResolutionNotes, d.ResolvedAt)
	if err != nil {
		return fmt.Errorf("save dispute: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

func (t *pgTx) DisputeByID(id uuid.UUID) (*Dispute, error) {
	q := `SELECT ` + disputeColumns + ` FROM teg_disputes WHERE dispute_id = $1`
	if t.forUpdate {
		q += ` FOR UPDATE`
	}
	var d Dispute
	err := t.tx.QueryRow(t.ctx, q, id).Scan(
		&d.DisputeID, &d.ClaimantDID, &d.DefendantDID, &d.RelatedTxID, &d.ReasonCode,
		&d.EvidencePointer, &d.Status, &d.FilingFeeTxID, &d.EvidenceStakeTxID,
		&d.ResolutionNotes, &d.FiledAt, &d.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDisputeNotFound
		}
		return nil, fmt.Errorf("query dispute: %w", err)
	}
	return &d, nil
}

func (t *pgTx) ListDisputes(status DisputeStatus, limit, offset int) ([]*Dispute, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
		SELECT ` + disputeColumns + ` FROM teg_disputes
		WHERE ($1 = '' OR status = $1)
		ORDER BY filed_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := t.tx.Query(t.ctx, q, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Dispute
	for rows.Next() {
		var d Dispute
		if err := rows.Scan(
			&d.DisputeID, &d.ClaimantDID, &d.DefendantDID, &d.RelatedTxID, &d.ReasonCode,
			&d.EvidencePointer, &d.Status, &d.FilingFeeTxID, &d.EvidenceStakeTxID,
			&d.ResolutionNotes, &d.FiledAt, &d.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("scan dispute: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

const flagColumns = `flag_id, flagged_agent_did, rule_code, severity, status, related_tx_ids, detail, created_at`

func (t *pgTx) InsertFlag(f *AuditorFlag) error {
	if f.FlagID == uuid.Nil {
		f.FlagID = uuid.New()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if f.Status == "" {
		f.Status = FlagNew
	}
	q := `INSERT INTO teg_auditor_flags (` + flagColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := t.tx.Exec(t.ctx, q,
		f.FlagID, f.FlaggedAgentDID, f.RuleCode, f.Severity, f.Status,
		f.RelatedTxIDs, f.Detail, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert flag: %w", err)
	}
	return nil
}

func (t *pgTx) SaveFlag(f *AuditorFlag) error {
	q := `UPDATE teg_auditor_flags SET status = $2 WHERE flag_id = $1`
	tag, err := t.tx.Exec(t.ctx, q, f.FlagID, f.Status)
	if err != nil {
		return fmt.Errorf("save flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFlagNotFound
	}
	return nil
}

func (t *pgTx) FlagByID(id uuid.UUID) (*AuditorFlag, error) {
	q := `SELECT ` + flagColumns + ` FROM teg_auditor_flags WHERE flag_id = $1`
	var f AuditorFlag
	err := t.tx.QueryRow(t.ctx, q, id).Scan(
		&f.FlagID, &f.FlaggedAgentDID, &f.RuleCode, &f.Severity, &f.Status,
		&f.RelatedTxIDs, &f.Detail, &f.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFlagNotFound
		}
		return nil, fmt.Errorf("query flag: %w", err)
	}
	return &f, nil
}

func (t *pgTx) ListFlags(status FlagStatus, limit, offset int) ([]*AuditorFlag, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
		SELECT ` + flagColumns + ` FROM teg_auditor_flags
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := t.tx.Query(t.ctx, q, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AuditorFlag
	for rows.Next() {
		var f AuditorFlag
		if err := rows.Scan(
			&f.FlagID, &f.FlaggedAgentDID, &f.RuleCode, &f.Severity, &f.Status,
			&f.RelatedTxIDs, &f.Detail, &f.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan flag: %w", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}
