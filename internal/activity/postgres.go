package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey serialises concurrent appends across registry instances.
// Arbitrary but must be stable.
const advisoryLockKey = int64(7_230_118_402)

// PostgresFeed persists the activity chain. The activity_log table must be
// seeded with the genesis row by migrations.
type PostgresFeed struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresFeed(pool *pgxpool.Pool, logger *zap.Logger) *PostgresFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresFeed{pool: pool, logger: logger}
}

// Append reads the chain tail and inserts the next entry under a
// transaction-scoped advisory lock, so concurrent writers serialize.
func (f *PostgresFeed) Append(ctx context.Context, subject, action, actor string, payload any) (*Entry, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := f.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var prevIdx int
	var prevHash string
	if err := tx.QueryRow(ctx,
		"SELECT idx, hash FROM activity_log ORDER BY idx DESC LIMIT 1",
	).Scan(&prevIdx, &prevHash); err != nil {
		return nil, fmt.Errorf("read feed tail: %w", err)
	}

	// timestamptz keeps microseconds; truncate before hashing so Verify
	// recomputes the identical hash after a round trip.
	entry := &Entry{
		Index:     prevIdx + 1,
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
		Subject:   subject,
		Action:    action,
		Actor:     actor,
		DataHash:  sha256Sum(payloadJSON),
		PrevHash:  prevHash,
	}
	entry.Hash = hashEntry(entry)

	if _, err := tx.Exec(ctx,
		`INSERT INTO activity_log (idx, timestamp, subject, action, actor, data_hash, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.Index, entry.Timestamp, entry.Subject,
		entry.Action, entry.Actor, entry.DataHash,
		entry.PrevHash, entry.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert feed entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit feed tx: %w", err)
	}

	f.logger.Debug("activity entry appended",
		zap.Int("idx", entry.Index),
		zap.String("action", entry.Action),
		zap.String("subject", entry.Subject),
	)
	return entry, nil
}

func (f *PostgresFeed) List(ctx context.Context, limit, offset int) ([]*Entry, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := f.pool.Query(ctx,
		`SELECT idx, timestamp, subject, action, actor, data_hash, prev_hash, hash
		 FROM activity_log ORDER BY idx DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query feed: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		curr := &Entry{}
		if err := rows.Scan(
			&curr.Index, &curr.Timestamp, &curr.Subject,
			&curr.Action, &curr.Actor, &curr.DataHash,
			&curr.PrevHash, &curr.Hash,
		); err != nil {
			return nil, fmt.Errorf("scan feed row: %w", err)
		}
		out = append(out, curr)
	}
	return out, rows.Err()
}

func (f *PostgresFeed) Len(ctx context.Context) (int, error) {
	var n int
	if err := f.pool.QueryRow(ctx, "SELECT COUNT(*) FROM activity_log").Scan(&n); err != nil {
		return 0, fmt.Errorf("count feed entries: %w", err)
	}
	return n, nil
}

// Verify streams the whole chain in index order and validates every link.
// O(n) in feed length.
func (f *PostgresFeed) Verify(ctx context.Context) error {
	rows, err := f.pool.Query(ctx,
		`SELECT idx, timestamp, subject, action, actor, data_hash, prev_hash, hash
		 FROM activity_log ORDER BY idx ASC`)
	if err != nil {
		return fmt.Errorf("query feed: %w", err)
	}
	defer rows.Close()

	var prev *Entry
	for rows.Next() {
		curr := &Entry{}
		if err := rows.Scan(
			&curr.Index, &curr.Timestamp, &curr.Subject,
			&curr.Action, &curr.Actor, &curr.DataHash,
			&curr.PrevHash, &curr.Hash,
		); err != nil {
			return fmt.Errorf("scan feed row: %w", err)
		}
		if prev == nil {
			if curr.Hash != GenesisHash {
				return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
			}
			prev = curr
			continue
		}
		if curr.PrevHash != prev.Hash {
			return fmt.Errorf("hash chain broken at index %d", curr.Index)
		}
		if curr.Hash != hashEntry(curr) {
			return fmt.Errorf("entry %d has invalid hash", curr.Index)
		}
		prev = curr
	}
	return rows.Err()
}

func (f *PostgresFeed) Root(ctx context.Context) (string, error) {
	var hash string
	if err := f.pool.QueryRow(ctx,
		"SELECT hash FROM activity_log ORDER BY idx DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get feed root: %w", err)
	}
	return hash, nil
}
