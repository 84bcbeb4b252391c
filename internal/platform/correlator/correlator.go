// Package correlator matches asynchronous gateway callbacks to the requests
// that triggered them. Callbacks are deposited under the request id they
// respond to; the goroutine that made the request polls for them with a
// bounded wait.
package correlator

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a deposited callback stays claimable. A callback
// arriving after its waiter timed out is evicted, never redelivered.
const DefaultTTL = 10 * time.Second

// Store is the keyed TTL backend. The in-memory implementation below is the
// default; a shared backend can replace it when the bridge runs multiple
// replicas.
type Store interface {
	Set(key string, value []byte, ttl time.Duration)
	// Pop returns the value and removes it, making correlation keys single-use.
	Pop(key string) ([]byte, bool)
	// Get returns the value without removing it.
	Get(key string) ([]byte, bool)
	Delete(key string)
}

type entry struct {
	data      []byte
	expiresAt time.Time
}

// InMemoryStore is a thread-safe in-memory Store with lazy expiration.
type InMemoryStore struct {
	entries map[string]*entry
	mu      sync.Mutex
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]*entry)}
}

func (s *InMemoryStore) Set(key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &entry{data: value, expiresAt: time.Now().Add(ttl)}
}

func (s *InMemoryStore) Pop(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return nil, false
	}
	delete(s.entries, key)
	return e.data, true
}

func (s *InMemoryStore) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return nil, false
	}
	return e.data, true
}

func (s *InMemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// live performs lazy expiration. Caller must hold the lock.
func (s *InMemoryStore) live(key string) (*entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(s.entries, key)
		return nil, false
	}
	return e, true
}

// StartCleanup runs a background goroutine that periodically removes expired
// entries. It stops when the context is cancelled.
func (s *InMemoryStore) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				now := time.Now()
				for k, e := range s.entries {
					if now.After(e.expiresAt) {
						delete(s.entries, k)
					}
				}
				s.mu.Unlock()
			}
		}
	}()
}

// Correlator deposits and awaits callbacks keyed by request id.
type Correlator struct {
	store Store
	ttl   time.Duration
}

// New creates a Correlator over the given store. A non-positive ttl falls
// back to DefaultTTL.
func New(store Store, ttl time.Duration) *Correlator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Correlator{store: store, ttl: ttl}
}

// Deposit stores a callback payload under the request id it responds to.
func (c *Correlator) Deposit(requestID string, payload []byte) {
	c.store.Set(requestID, payload, c.ttl)
}

// Await polls for a callback up to attempts times, interval apart. The read
// consumes the entry, so each correlation key resolves exactly once. Returns
// false when the window closes or the context is cancelled.
func (c *Correlator) Await(ctx context.Context, requestID string, attempts int, interval time.Duration) ([]byte, bool) {
	return c.wait(ctx, requestID, attempts, interval, c.store.Pop)
}

// AwaitPeek is the explicit non-consuming mode: the callback stays claimable
// until its TTL lapses. Flows that read the same callback from more than one
// place use this.
func (c *Correlator) AwaitPeek(ctx context.Context, requestID string, attempts int, interval time.Duration) ([]byte, bool) {
	return c.wait(ctx, requestID, attempts, interval, c.store.Get)
}

func (c *Correlator) wait(ctx context.Context, requestID string, attempts int, interval time.Duration, read func(string) ([]byte, bool)) ([]byte, bool) {
	for i := 0; i < attempts; i++ {
		if data, ok := read(requestID); ok {
			return data, true
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(interval):
		}
	}
	return nil, false
}
