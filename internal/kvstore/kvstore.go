// Package kvstore is a thin facade over a Redis-backed key/value service,
// used for verification codes and session tokens (spec section 4.5). Every
// operation returns a tagged error from the fkerr package rather than
// relying on exception identity, per the "Exceptions used for domain
// errors" redesign note in spec section 9.
package kvstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flicker-im/fabric/internal/fkerr"
)

// Store is the public surface both the Gateway and TokenService depend on.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Scan(ctx context.Context, pattern string) ([]string, error)

	// CompareAndDelete atomically deletes key iff its current value equals
	// expected, in a single round trip: it returns fkerr.ErrKeyNotFound if
	// key is absent, fkerr.ErrValueMismatch if it holds a different value
	// (left untouched), or nil once key has been deleted. Concurrent
	// callers racing the same key+expected pair can never both observe a
	// nil return.
	CompareAndDelete(ctx context.Context, key, expected string) error
}

// RedisStore implements Store over a *redis.Client.
type RedisStore struct {
	rdb *redis.Client
}

// New dials Redis with the given address/credentials. The connection is
// established lazily by the client; New only constructs the handle.
func New(addr, password string, db int) *RedisStore {
	return &RedisStore{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// NewFromClient wraps an already-configured client, used by tests and by
// callers that need custom dial options (TLS, sentinel, cluster).
func NewFromClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	switch {
	case err == redis.Nil:
		return "", fkerr.ErrKeyNotFound
	case err != nil:
		return "", fkerr.ErrConnFailed
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fkerr.ErrOperationFailed
	}
	return nil
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fkerr.ErrOperationFailed
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fkerr.ErrConnFailed
	}
	return n > 0, nil
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, fkerr.ErrConnFailed
	}
	if d < 0 {
		return 0, fkerr.ErrKeyNotFound
	}
	return d, nil
}

// compareAndDeleteScript is EVALed server-side so the get-compare-delete
// sequence runs as one atomic Redis command: no other client can observe
// or mutate key between the comparison and the delete.
const compareAndDeleteScript = `
local v = redis.call("GET", KEYS[1])
if v == false then
	return 0
end
if v ~= ARGV[1] then
	return 1
end
redis.call("DEL", KEYS[1])
return 2
`

func (s *RedisStore) CompareAndDelete(ctx context.Context, key, expected string) error {
	res, err := s.rdb.Eval(ctx, compareAndDeleteScript, []string{key}, expected).Result()
	if err != nil {
		return fkerr.ErrConnFailed
	}
	switch res.(int64) {
	case 0:
		return fkerr.ErrKeyNotFound
	case 1:
		return fkerr.ErrValueMismatch
	default:
		return nil
	}
}

func (s *RedisStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fkerr.ErrConnFailed
	}
	return keys, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
