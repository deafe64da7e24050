package waste

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// memo caches results by key for a fixed TTL. Concurrent misses on the same
// key share one computation. Cached values must be treated as read-only.
type memo struct {
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]memoEntry
	group   singleflight.Group
}

type memoEntry struct {
	value   interface{}
	expires time.Time
}

func newMemo(ttl time.Duration, now func() time.Time) *memo {
	return &memo{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]memoEntry),
	}
}

// do returns the cached value for key or computes it with fn. Errors are not cached.
// A zero TTL disables caching.
func (m *memo) do(key string, fn func() (interface{}, error)) (interface{}, error) {
	if m.ttl <= 0 {
		return fn()
	}

	m.mu.Lock()
	if e, ok := m.entries[key]; ok && m.now().Before(e.expires) {
		m.mu.Unlock()
		return e.value, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		v, err := fn()
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		now := m.now()
		for k, e := range m.entries {
			if !now.Before(e.expires) {
				delete(m.entries, k)
			}
		}
		m.entries[key] = memoEntry{value: v, expires: now.Add(m.ttl)}
		m.mu.Unlock()
		return v, nil
	})
	return v, err
}

func (m *memo) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// memoKey hashes the JSON encoding of the inputs under an operation name.
func memoKey(op string, inputs ...interface{}) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, in := range inputs {
		_ = enc.Encode(in)
	}
	return op + ":" + hex.EncodeToString(h.Sum(nil))
}
