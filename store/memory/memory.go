// Package memory provides a reference in-memory store.Connector, suitable
// for tests or development deployments where an external backend is not
// available. Sessions do not survive process restart, and are not shared
// across processes.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ISibboI/typed-session-go/store"
)

type row[D any] struct {
	expiry *time.Time
	data   D
}

// Connector is an in-memory store.Connector[D]. It holds at most one row per
// session id and rejects any UpdateSession whose previous id is not present,
// matching the stricter contract in store.Connector (a looser draft of this
// logic, permitting blind renames, exists in the lineage this was built
// from, but is not what this implementation does).
//
// Expired rows are garbage collected lazily, on entry to CreateSession,
// ReadSession, UpdateSession and Len, via an expiry-ordered min-heap; there
// is no background sweep.
type Connector[D any] struct {
	// Clock can be overridden in tests.
	Clock     func() time.Time
	mu        sync.Mutex
	items     map[store.ID]*row[D]
	evictions *evictionQueue
}

// New returns an empty Connector.
func New[D any]() *Connector[D] {
	return &Connector[D]{
		Clock:     time.Now,
		items:     make(map[store.ID]*row[D]),
		evictions: newEvictionQueue(),
	}
}

func (c *Connector[D]) evict(now time.Time) {
	for c.evictions.Len() > 0 && c.evictions.Peek().expires.Before(now) {
		delete(c.items, c.evictions.Pop().key)
	}
}

// MaxRetriesOnIDCollision implements store.Connector: the in-memory
// connector has no external contention to bound, so retries are unlimited.
func (c *Connector[D]) MaxRetriesOnIDCollision() (int, bool) {
	return 0, false
}

// CreateSession implements store.Connector.
func (c *Connector[D]) CreateSession(ctx context.Context, id store.ID, expiry *time.Time, data D) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evict(c.Clock())
	if _, ok := c.items[id]; ok {
		return store.ErrIDExists
	}
	c.items[id] = &row[D]{expiry: expiry, data: data}
	if expiry != nil {
		c.evictions.Push(id, *expiry)
	}
	return nil
}

// ReadSession implements store.Connector.
func (c *Connector[D]) ReadSession(ctx context.Context, id store.ID) (*time.Time, D, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evict(c.Clock())
	r, ok := c.items[id]
	if !ok {
		var zero D
		return nil, zero, store.ErrSessionNotFound
	}
	return r.expiry, r.data, nil
}

// UpdateSession implements store.Connector. It fails with
// store.ErrSessionNotFound if previousID is not currently stored, and with
// store.ErrIDExists if newID is already taken by a different row; both
// checks and the mutation happen while holding c.mu, so concurrent rotations
// of the same row have exactly one winner.
func (c *Connector[D]) UpdateSession(ctx context.Context, newID, previousID store.ID, expiry *time.Time, data D) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evict(c.Clock())
	if _, ok := c.items[previousID]; !ok {
		return store.ErrSessionNotFound
	}
	if newID != previousID {
		if _, ok := c.items[newID]; ok {
			return store.ErrIDExists
		}
		delete(c.items, previousID)
	}
	c.items[newID] = &row[D]{expiry: expiry, data: data}
	if expiry != nil {
		c.evictions.Push(newID, *expiry)
	}
	return nil
}

// DeleteSession implements store.Connector. Deleting an absent row is not an
// error.
func (c *Connector[D]) DeleteSession(ctx context.Context, id store.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
	return nil
}

// Clear implements store.Connector.
func (c *Connector[D]) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[store.ID]*row[D])
	c.evictions = newEvictionQueue()
	return nil
}

// Len returns the number of rows currently held, after evicting expired
// ones. Intended for tests.
func (c *Connector[D]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evict(c.Clock())
	return len(c.items)
}
