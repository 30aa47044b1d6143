package identity

import (
	"context"
	"sync"
	"time"
)

// MemorySessionStore keeps session records in process memory. Suitable for
// single-node deployments and tests; use RedisSessionStore when sessions must
// survive restarts or be shared across nodes.
type MemorySessionStore struct {
	mu       sync.RWMutex
	records  map[string]*SessionRecord
	byUser   map[string]map[string]struct{}
	clock    func() time.Time
	maxSweep int
}

// NewMemorySessionStore builds an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		records:  make(map[string]*SessionRecord),
		byUser:   make(map[string]map[string]struct{}),
		clock:    time.Now,
		maxSweep: 64,
	}
}

// WithClock overrides the time source, mostly for tests.
func (s *MemorySessionStore) WithClock(clock func() time.Time) *MemorySessionStore {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// Save implements SessionStore. Saving an existing reference replaces the
// record atomically.
func (s *MemorySessionStore) Save(_ context.Context, record *SessionRecord) error {
	if record == nil || record.Reference == "" {
		return ErrNoEmptyString
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()

	if previous, ok := s.records[record.Reference]; ok {
		s.unlinkUser(previous)
	}

	stored := *record
	s.records[record.Reference] = &stored
	if stored.UserID != "" {
		refs, ok := s.byUser[stored.UserID]
		if !ok {
			refs = make(map[string]struct{})
			s.byUser[stored.UserID] = refs
		}
		refs[stored.Reference] = struct{}{}
	}
	return nil
}

// Find implements SessionStore. Expired records are dropped on access and
// reported as not found.
func (s *MemorySessionStore) Find(_ context.Context, ref string) (*SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[ref]
	if !ok {
		return nil, ErrSessionNotFound.Clone()
	}
	if record.Expired(s.clock()) {
		s.deleteLocked(ref)
		return nil, ErrSessionNotFound.Clone()
	}

	found := *record
	return &found, nil
}

// Delete implements SessionStore. Deleting an unknown reference is a no-op.
func (s *MemorySessionStore) Delete(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(ref)
	return nil
}

// DeleteByUser implements SessionStore, removing every session of a subject.
func (s *MemorySessionStore) DeleteByUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ref := range s.byUser[userID] {
		delete(s.records, ref)
	}
	delete(s.byUser, userID)
	return nil
}

// Len reports the number of live records, sweeping expired ones first.
func (s *MemorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	return len(s.records)
}

func (s *MemorySessionStore) deleteLocked(ref string) {
	record, ok := s.records[ref]
	if !ok {
		return
	}
	delete(s.records, ref)
	s.unlinkUser(record)
}

func (s *MemorySessionStore) unlinkUser(record *SessionRecord) {
	if record.UserID == "" {
		return
	}
	refs, ok := s.byUser[record.UserID]
	if !ok {
		return
	}
	delete(refs, record.Reference)
	if len(refs) == 0 {
		delete(s.byUser, record.UserID)
	}
}

// sweepLocked evicts a bounded number of expired records so writes never
// stall on a full scan. Callers hold the mutex.
func (s *MemorySessionStore) sweepLocked() {
	now := s.clock()
	checked := 0
	for ref, record := range s.records {
		if checked >= s.maxSweep {
			return
		}
		checked++
		if record.Expired(now) {
			s.deleteLocked(ref)
		}
	}
}
