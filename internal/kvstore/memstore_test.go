package kvstore

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/flicker-im/fabric/internal/fkerr"
)

// memStore is an in-memory Store used only by this package's tests. It is
// not a substitute for the Redis-backed production path; it exists so the
// CodeService logic above can be exercised without a live Redis instance.
type memStore struct {
	mu      sync.Mutex
	values  map[string]string
	expires map[string]time.Time
}

func newMemStore() *memStore {
	return &memStore{values: map[string]string{}, expires: map[string]time.Time{}}
}

func (m *memStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.expires[key]; ok && time.Now().After(exp) {
		delete(m.values, key)
		delete(m.expires, key)
	}
	v, ok := m.values[key]
	if !ok {
		return "", fkerr.ErrKeyNotFound
	}
	return v, nil
}

func (m *memStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	if ttl > 0 {
		m.expires[key] = time.Now().Add(ttl)
	} else {
		delete(m.expires, key)
	}
	return nil
}

func (m *memStore) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	delete(m.expires, key)
	return nil
}

// CompareAndDelete mirrors RedisStore's Lua-script semantics under the
// mutex already held for every other method, so the check and the delete
// are just as atomic here as the EVAL is against a real server.
func (m *memStore) CompareAndDelete(ctx context.Context, key, expected string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.expires[key]; ok && time.Now().After(exp) {
		delete(m.values, key)
		delete(m.expires, key)
	}
	v, ok := m.values[key]
	if !ok {
		return fkerr.ErrKeyNotFound
	}
	if v != expected {
		return fkerr.ErrValueMismatch
	}
	delete(m.values, key)
	delete(m.expires, key)
	return nil
}

func (m *memStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.Get(ctx, key)
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (m *memStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.expires[key]
	if !ok {
		return 0, fkerr.ErrKeyNotFound
	}
	return time.Until(exp), nil
}

func (m *memStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.values {
		if ok, _ := filepath.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	return out, nil
}
