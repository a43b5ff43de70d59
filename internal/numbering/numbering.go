// Package numbering allocates human-readable request numbers of the form
// PREFIX-YYYY-NNNNN, sequential per tenant, prefix and year.
package numbering

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Sequencer hands out the next value of a counter. Values start at 1.
type Sequencer interface {
	Next(ctx context.Context, tenantID, prefix string, year int) (int64, error)
}

// Allocator formats sequencer values as request numbers.
type Allocator struct {
	seq Sequencer
}

// NewAllocator creates an Allocator over seq.
func NewAllocator(seq Sequencer) *Allocator {
	return &Allocator{seq: seq}
}

// Next returns the next request number for tenantID and prefix in the year
// of at (UTC).
func (a *Allocator) Next(ctx context.Context, tenantID, prefix string, at time.Time) (string, error) {
	year := at.UTC().Year()
	n, err := a.seq.Next(ctx, tenantID, prefix, year)
	if err != nil {
		return "", err
	}
	return Format(prefix, year, n), nil
}

// Format renders a request number.
func Format(prefix string, year int, n int64) string {
	return fmt.Sprintf("%s-%d-%05d", prefix, year, n)
}

// --- MemorySequencer ---

// MemorySequencer keeps counters in process memory.
type MemorySequencer struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewMemorySequencer creates an empty MemorySequencer.
func NewMemorySequencer() *MemorySequencer {
	return &MemorySequencer{counters: make(map[string]int64)}
}

// Next increments and returns the counter.
func (s *MemorySequencer) Next(_ context.Context, tenantID, prefix string, year int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterKey(tenantID, prefix, year)
	s.counters[key]++
	return s.counters[key], nil
}

// --- RedisSequencer ---

// RedisSequencer keeps counters in Redis, one INCR key per counter.
type RedisSequencer struct {
	client redis.Cmdable
}

// NewRedisSequencer creates a RedisSequencer.
func NewRedisSequencer(client redis.Cmdable) *RedisSequencer {
	return &RedisSequencer{client: client}
}

// Next increments and returns the counter.
func (s *RedisSequencer) Next(ctx context.Context, tenantID, prefix string, year int) (int64, error) {
	key := "approvals:seq:" + counterKey(tenantID, prefix, year)
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %q: %w", key, err)
	}
	return n, nil
}

// --- PgSequencer ---

// PgSequencer keeps counters in the request_number_counters table.
type PgSequencer struct {
	pool *pgxpool.Pool
}

// NewPgSequencer creates a PgSequencer. The table is created by the
// approval store migrations.
func NewPgSequencer(pool *pgxpool.Pool) *PgSequencer {
	return &PgSequencer{pool: pool}
}

// Next increments and returns the counter atomically.
func (s *PgSequencer) Next(ctx context.Context, tenantID, prefix string, year int) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO request_number_counters (tenant_id, prefix, year, value)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (tenant_id, prefix, year)
		DO UPDATE SET value = request_number_counters.value + 1
		RETURNING value`,
		tenantID, prefix, year,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("next request number: %w", err)
	}
	return n, nil
}

func counterKey(tenantID, prefix string, year int) string {
	return fmt.Sprintf("%s:%s:%d", tenantID, prefix, year)
}
