package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryDenylist keeps revoked credential generations in process memory.
// Good for single-node deployments and tests; multi-node setups should use
// RedisDenylist so revocations propagate.
type MemoryDenylist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	clock   func() time.Time
}

// NewMemoryDenylist builds an empty in-memory denylist.
func NewMemoryDenylist() *MemoryDenylist {
	return &MemoryDenylist{
		entries: make(map[string]time.Time),
		clock:   time.Now,
	}
}

// WithClock overrides the time source, mostly for tests.
func (d *MemoryDenylist) WithClock(clock func() time.Time) *MemoryDenylist {
	if clock != nil {
		d.clock = clock
	}
	return d
}

// Revoke implements Denylist. Entries whose ttl already elapsed are not
// stored; the credential is unusable regardless.
func (d *MemoryDenylist) Revoke(_ context.Context, subject, stamp string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock()
	d.sweep(now)
	d.entries[denylistEntryKey(subject, stamp)] = now.Add(ttl)
	return nil
}

// IsRevoked implements Denylist.
func (d *MemoryDenylist) IsRevoked(_ context.Context, subject, stamp string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	expiry, ok := d.entries[denylistEntryKey(subject, stamp)]
	if !ok {
		return false, nil
	}
	if !d.clock().Before(expiry) {
		delete(d.entries, denylistEntryKey(subject, stamp))
		return false, nil
	}
	return true, nil
}

// sweep drops expired entries. Callers hold the mutex.
func (d *MemoryDenylist) sweep(now time.Time) {
	for key, expiry := range d.entries {
		if !now.Before(expiry) {
			delete(d.entries, key)
		}
	}
}

func denylistEntryKey(subject, stamp string) string {
	return subject + "\x00" + stamp
}
