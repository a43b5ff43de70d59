// Package idempotency deduplicates retried POST requests. A response is
// stored under the caller's X-Idempotency-Key together with a hash of the
// request body; a retry with the same key and body replays it, a retry
// with the same key but a different body is a conflict, and so is a
// duplicate that arrives while the first request is still running.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sahidur/ams-sub001/model"
)

// Entry is a stored response. A pending entry marks a key whose first
// request is still running; Token identifies the request that reserved it.
type Entry struct {
	BodyHash    string `json:"body_hash"`
	Pending     bool   `json:"pending,omitempty"`
	Token       string `json:"token,omitempty"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Store provides deduplication of POST requests.
type Store interface {
	// Reserve claims key for a request whose body hashes to bodyHash.
	// When the key is free it is marked in flight for ttl and a non-empty
	// token is returned. When a completed entry with the same hash exists
	// it is returned for replay. A different hash, or a duplicate of a
	// request still in flight, is a CONFLICT error.
	Reserve(ctx context.Context, key, bodyHash string, ttl time.Duration) (entry *Entry, token string, err error)

	// Complete replaces the in-flight marker held by token with entry.
	// A key that has been completed, released or reserved by someone
	// else is left untouched.
	Complete(ctx context.Context, key, token string, entry Entry, ttl time.Duration) error

	// Release drops the in-flight marker held by token so the request
	// can be retried.
	Release(ctx context.Context, key, token string) error
}

// FormatKey builds the storage key. Keys are scoped to the tenant, the
// caller and the route so that two users never share a key space.
func FormatKey(tenantID, subjectID, route, key string) string {
	return fmt.Sprintf("idem:%s:%s:%s:%s", tenantID, subjectID, route, key)
}

// HashBody returns the hex SHA-256 of a request body.
func HashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func conflict(key string) error {
	return model.NewConflictError(fmt.Sprintf("idempotency key %q already used with a different request body", key))
}

func inProgress(key string) error {
	return model.NewConflictError(fmt.Sprintf("a request with idempotency key %q is still in progress", key))
}

// resolve decides what an existing entry means for a new request.
func resolve(key, bodyHash string, existing Entry) (*Entry, error) {
	if existing.BodyHash != bodyHash {
		return nil, conflict(key)
	}
	if existing.Pending {
		return nil, inProgress(key)
	}
	return &existing, nil
}

// --- MemoryStore ---

// MemoryStore is an in-memory Store with TTL support.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	data      Entry
	expiresAt time.Time
}

// NewMemoryStore creates a new in-memory idempotency store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memEntry), now: time.Now}
}

// Reserve claims key or returns the entry already stored under it.
func (s *MemoryStore) Reserve(_ context.Context, key, bodyHash string, ttl time.Duration) (*Entry, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.entries[key]; ok {
		if now.Before(existing.expiresAt) {
			entry, err := resolve(key, bodyHash, existing.data)
			return entry, "", err
		}
		delete(s.entries, key)
	}
	token := uuid.NewString()
	s.entries[key] = memEntry{
		data:      Entry{BodyHash: bodyHash, Pending: true, Token: token},
		expiresAt: now.Add(ttl),
	}
	return nil, token, nil
}

// Complete stores entry if token still holds the reservation.
func (s *MemoryStore) Complete(_ context.Context, key, token string, entry Entry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.heldLocked(key, token) {
		return nil
	}
	entry.Pending, entry.Token = false, ""
	s.entries[key] = memEntry{data: entry, expiresAt: s.now().Add(ttl)}
	return nil
}

// Release drops the reservation held by token.
func (s *MemoryStore) Release(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heldLocked(key, token) {
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryStore) heldLocked(key, token string) bool {
	existing, ok := s.entries[key]
	return ok && existing.data.Pending && existing.data.Token == token && s.now().Before(existing.expiresAt)
}

// Len returns the number of entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// --- RedisStore ---

// completeScript swaps the in-flight marker for the final entry only while
// the caller's marker is still in place.
var completeScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
end
return false
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore is a Redis-backed Store. Reservations use SET NX; expiry is
// left to Redis.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a new Redis-backed idempotency store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func pendingMarker(bodyHash, token string) ([]byte, error) {
	return json.Marshal(Entry{BodyHash: bodyHash, Pending: true, Token: token})
}

// Reserve claims key with SET NX or returns the entry stored under it.
func (s *RedisStore) Reserve(ctx context.Context, key, bodyHash string, ttl time.Duration) (*Entry, string, error) {
	token := uuid.NewString()
	marker, err := pendingMarker(bodyHash, token)
	if err != nil {
		return nil, "", fmt.Errorf("marshal idempotency marker: %w", err)
	}

	// The key can expire between SET NX and GET; one retry covers that.
	for range 2 {
		ok, err := s.client.SetNX(ctx, key, marker, ttl).Result()
		if err != nil {
			return nil, "", fmt.Errorf("redis setnx %q: %w", key, err)
		}
		if ok {
			return nil, token, nil
		}

		raw, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("redis get %q: %w", key, err)
		}
		var existing Entry
		if err := json.Unmarshal(raw, &existing); err != nil {
			return nil, "", fmt.Errorf("unmarshal idempotency entry %q: %w", key, err)
		}
		entry, err := resolve(key, bodyHash, existing)
		return entry, "", err
	}
	return nil, "", inProgress(key)
}

// Complete stores entry if token still holds the reservation.
func (s *RedisStore) Complete(ctx context.Context, key, token string, entry Entry, ttl time.Duration) error {
	marker, err := pendingMarker(entry.BodyHash, token)
	if err != nil {
		return fmt.Errorf("marshal idempotency marker: %w", err)
	}
	entry.Pending, entry.Token = false, ""
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal idempotency entry: %w", err)
	}
	err = completeScript.Run(ctx, s.client, []string{key}, marker, data, ttl.Milliseconds()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis complete %q: %w", key, err)
	}
	return nil
}

// Release drops the reservation held by token.
func (s *RedisStore) Release(ctx context.Context, key, token string) error {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis get %q: %w", key, err)
	}
	var existing Entry
	if err := json.Unmarshal(raw, &existing); err != nil || !existing.Pending || existing.Token != token {
		return nil
	}
	if err := releaseScript.Run(ctx, s.client, []string{key}, raw).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis release %q: %w", key, err)
	}
	return nil
}
