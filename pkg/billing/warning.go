package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// UsagePeriod returns the billing period key for a point in time.
// Warning deduplication is scoped to this key so a fresh warning can go
// out after every usage reset.
func UsagePeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// WarningMarker records that a usage warning has been sent for an
// account within a billing period. MarkWarned must be atomic: when two
// evaluation cycles race, exactly one observes first=true and sends the
// notification.
type WarningMarker interface {
	// MarkWarned records the warning. Returns true when this call was the
	// first for the (userID, period) pair.
	MarkWarned(ctx context.Context, userID uuid.UUID, period string) (first bool, err error)

	// AlreadyWarned reports whether a warning was previously recorded.
	AlreadyWarned(ctx context.Context, userID uuid.UUID, period string) (bool, error)
}

// RedisWarningMarker implements WarningMarker on Redis using SET NX,
// which gives the required atomicity across processes. Keys expire after
// the retention window so stale periods clean themselves up.
type RedisWarningMarker struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisWarningMarker(client *redis.Client, retention time.Duration) *RedisWarningMarker {
	if retention <= 0 {
		retention = 45 * 24 * time.Hour
	}
	return &RedisWarningMarker{client: client, retention: retention}
}

func warningKey(userID uuid.UUID, period string) string {
	return fmt.Sprintf("billing:usage_warning:%s:%s", userID, period)
}

func (m *RedisWarningMarker) MarkWarned(ctx context.Context, userID uuid.UUID, period string) (bool, error) {
	first, err := m.client.SetNX(ctx, warningKey(userID, period), "1", m.retention).Result()
	if err != nil {
		return false, errors.Join(ErrWarningMarkerFailure, err)
	}
	return first, nil
}

func (m *RedisWarningMarker) AlreadyWarned(ctx context.Context, userID uuid.UUID, period string) (bool, error) {
	n, err := m.client.Exists(ctx, warningKey(userID, period)).Result()
	if err != nil {
		return false, errors.Join(ErrWarningMarkerFailure, err)
	}
	return n > 0, nil
}

// MemoryWarningMarker is an in-process WarningMarker for tests.
type MemoryWarningMarker struct {
	mu     sync.Mutex
	warned map[string]struct{}
}

func NewMemoryWarningMarker() *MemoryWarningMarker {
	return &MemoryWarningMarker{warned: make(map[string]struct{})}
}

func (m *MemoryWarningMarker) MarkWarned(ctx context.Context, userID uuid.UUID, period string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := warningKey(userID, period)
	if _, ok := m.warned[key]; ok {
		return false, nil
	}
	m.warned[key] = struct{}{}
	return true, nil
}

func (m *MemoryWarningMarker) AlreadyWarned(ctx context.Context, userID uuid.UUID, period string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.warned[warningKey(userID, period)]
	return ok, nil
}
