package ledger

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
// The single mutex around the record map provides the same atomic
// insert-or-conflict semantics a relational unique index does.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func recordKey(provider, externalID string) string {
	return provider + "\x00" + externalID
}

func (s *MemoryStore) Insert(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey(rec.Provider, rec.ExternalID)
	if _, exists := s.records[key]; exists {
		return ErrDuplicateRecord
	}
	s.records[key] = cloneRecord(rec)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, provider, externalID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordKey(provider, externalID)]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) Update(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey(rec.Provider, rec.ExternalID)
	if _, ok := s.records[key]; !ok {
		return ErrRecordNotFound
	}
	s.records[key] = cloneRecord(rec)
	return nil
}

func (s *MemoryStore) ClaimFailed(ctx context.Context, provider, externalID string, expectedAttempts int, attemptAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordKey(provider, externalID)]
	if !ok {
		return false, ErrRecordNotFound
	}
	if rec.Status != StatusFailed || rec.Attempts != expectedAttempts {
		return false, nil
	}
	rec.Status = StatusProcessing
	rec.Attempts++
	rec.LastAttemptAt = attemptAt
	return true, nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Record
	for _, rec := range s.records {
		if rec.Status == status {
			out = append(out, cloneRecord(rec))
		}
	}
	slices.SortFunc(out, func(a, b *Record) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkStale(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, rec := range s.records {
		if rec.Status == StatusProcessing && rec.LastAttemptAt.Before(cutoff) {
			rec.Status = StatusFailed
			rec.LastError = "reclaimed: processing timed out"
			n++
		}
	}
	return n, nil
}

func cloneRecord(rec *Record) *Record {
	out := *rec
	out.Payload = slices.Clone(rec.Payload)
	if rec.UserID != nil {
		id := *rec.UserID
		out.UserID = &id
	}
	return &out
}
