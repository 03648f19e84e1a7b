// Package activity implements the append-only, hash-chained platform
// activity feed.
//
// Every entry records the SHA-256 of its predecessor, making tampering
// detectable via Verify. The chain begins at a well-known genesis entry
// whose hash is GenesisHash. Catalog, ledger, and task events land here
// through the Recorder, and the feed is publicly readable.
package activity

import "context"

// Feed is the append-only activity chain. MemoryFeed and PostgresFeed
// implement it.
type Feed interface {
	// Append adds an entry chained to the previous one. payload is
	// JSON-marshalled and its SHA-256 stored as DataHash.
	Append(ctx context.Context, subject, action, actor string, payload any) (*Entry, error)

	// List returns up to limit entries, newest first, skipping offset.
	List(ctx context.Context, limit, offset int) ([]*Entry, error)

	// Len returns the total number of entries including genesis.
	Len(ctx context.Context) (int, error)

	// Verify walks the chain and checks hash consistency.
	Verify(ctx context.Context) error

	// Root returns the hash of the newest entry.
	Root(ctx context.Context) (string, error)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
