package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryFeed is an in-process, thread-safe Feed for testing and
// single-process deployments.
type MemoryFeed struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryFeed creates a feed initialised with the genesis entry.
func NewMemoryFeed() *MemoryFeed {
	f := &MemoryFeed{}
	f.entries = append(f.entries, &Entry{
		Index:     0,
		Timestamp: time.Now().UTC(),
		Action:    "genesis",
		Actor:     "system",
		DataHash:  GenesisHash,
		PrevHash:  GenesisHash,
		Hash:      GenesisHash,
	})
	return f
}

func (f *MemoryFeed) Append(_ context.Context, subject, action, actor string, payload any) (*Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	prev := f.entries[len(f.entries)-1]
	entry := &Entry{
		Index:     len(f.entries),
		Timestamp: time.Now().UTC(),
		Subject:   subject,
		Action:    action,
		Actor:     actor,
		DataHash:  sha256Sum(payloadJSON),
		PrevHash:  prev.Hash,
	}
	entry.Hash = hashEntry(entry)
	f.entries = append(f.entries, entry)
	return entry, nil
}

func (f *MemoryFeed) List(_ context.Context, limit, offset int) ([]*Entry, error) {
	limit, offset = clampPage(limit, offset)
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]*Entry, 0, limit)
	for i := len(f.entries) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.entries[i])
	}
	return out, nil
}

func (f *MemoryFeed) Len(_ context.Context) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries), nil
}

func (f *MemoryFeed) Verify(_ context.Context) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for i, curr := range f.entries {
		if i == 0 {
			if curr.Hash != GenesisHash {
				return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
			}
			continue
		}
		prev := f.entries[i-1]
		if curr.PrevHash != prev.Hash {
			return fmt.Errorf("hash chain broken at index %d", curr.Index)
		}
		if curr.Hash != hashEntry(curr) {
			return fmt.Errorf("entry %d has invalid hash", curr.Index)
		}
	}
	return nil
}

func (f *MemoryFeed) Root(_ context.Context) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.entries[len(f.entries)-1].Hash, nil
}
