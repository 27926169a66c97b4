// Package memcache provides a Memcached-backed store.Connector, using
// CompareAndSwap-guarded tombstoning to approximate the atomic id rename
// UpdateSession requires: Memcached has no secondary index or transaction
// primitive, so "rename previousID to newID" is implemented as a
// CAS-guarded tombstone of previousID (so only one of two racing rotations
// can win it) followed by an Add of newID (which fails closed if newID is
// already taken).
package memcache

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/ISibboI/typed-session-go/store"
)

var bufferPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}
var readerPool = sync.Pool{New: func() any { return bytes.NewReader(nil) }}

const tombstoneExpirationSeconds = 1

type envelope[D any] struct {
	Expiry *time.Time
	Data   D
}

// Connector is a Memcached-backed store.Connector[D].
type Connector[D any] struct {
	client *memcache.Client
}

// New returns a Connector talking to the given server addresses.
func New[D any](servers ...string) *Connector[D] {
	return &Connector[D]{client: memcache.New(servers...)}
}

// NewWithClient returns a Connector using a caller-constructed client,
// allowing control over timeouts and server selection strategy.
func NewWithClient[D any](client *memcache.Client) *Connector[D] {
	return &Connector[D]{client: client}
}

// MaxRetriesOnIDCollision implements store.Connector.
func (c *Connector[D]) MaxRetriesOnIDCollision() (int, bool) {
	return 0, false
}

func encode[D any](env envelope[D]) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)
	if err := gob.NewEncoder(buf).Encode(env); err != nil {
		return nil, fmt.Errorf("memcache: failed to encode session data: %w", err)
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func decode[D any](blob []byte) (envelope[D], error) {
	var env envelope[D]
	reader := readerPool.Get().(*bytes.Reader)
	reader.Reset(blob)
	defer readerPool.Put(reader)
	if err := gob.NewDecoder(reader).Decode(&env); err != nil {
		return env, fmt.Errorf("memcache: failed to decode session data: %w", err)
	}
	return env, nil
}

// expirationFor renders expiry as a Memcached expiration value. Memcached
// treats values over 30 days as absolute Unix timestamps rather than
// deltas, so an expiry further out than that is expressed absolutely; 0
// (expiry == nil) means "never expire" to Memcached, matching Never.
func expirationFor(expiry *time.Time, now time.Time) int32 {
	const maxDeltaSeconds = 30 * 24 * 60 * 60
	if expiry == nil {
		return 0
	}
	d := expiry.Sub(now)
	if d > maxDeltaSeconds*time.Second {
		return int32(expiry.Unix())
	}
	if d < 0 {
		return 0
	}
	return int32(d.Seconds())
}

// CreateSession implements store.Connector.
func (c *Connector[D]) CreateSession(ctx context.Context, id store.ID, expiry *time.Time, data D) error {
	val, err := encode(envelope[D]{Expiry: expiry, Data: data})
	if err != nil {
		return err
	}
	err = c.client.Add(&memcache.Item{
		Key:        id.String(),
		Value:      val,
		Expiration: expirationFor(expiry, time.Now()),
	})
	if errors.Is(err, memcache.ErrNotStored) {
		return store.ErrIDExists
	}
	if err != nil {
		return fmt.Errorf("memcache: failed to store session: %w", err)
	}
	return nil
}

// ReadSession implements store.Connector.
func (c *Connector[D]) ReadSession(ctx context.Context, id store.ID) (*time.Time, D, error) {
	var zero D
	item, err := c.client.Get(id.String())
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, zero, store.ErrSessionNotFound
	}
	if err != nil {
		return nil, zero, fmt.Errorf("memcache: failed to get session: %w", err)
	}
	if bytes.Equal(item.Value, []byte("tombstone")) {
		return nil, zero, store.ErrSessionNotFound
	}
	env, err := decode[D](item.Value)
	if err != nil {
		return nil, zero, err
	}
	return env.Expiry, env.Data, nil
}

// UpdateSession implements store.Connector. It is not linearizable against
// an arbitrary third operation the way a single backend transaction would
// be, but the CAS-guarded tombstone step ensures at most one of two
// concurrent UpdateSession calls sharing previousID can proceed to the Add
// step, which is what the engine's retry-on-collision loop relies on.
func (c *Connector[D]) UpdateSession(ctx context.Context, newID, previousID store.ID, expiry *time.Time, data D) error {
	item, err := c.client.Get(previousID.String())
	if errors.Is(err, memcache.ErrCacheMiss) {
		return store.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("memcache: failed to get session for rotation: %w", err)
	}
	if bytes.Equal(item.Value, []byte("tombstone")) {
		return store.ErrSessionNotFound
	}
	if newID == previousID {
		val, err := encode(envelope[D]{Expiry: expiry, Data: data})
		if err != nil {
			return err
		}
		item.Value = val
		item.Expiration = expirationFor(expiry, time.Now())
		if err := c.client.CompareAndSwap(item); err != nil {
			if errors.Is(err, memcache.ErrCASConflict) || errors.Is(err, memcache.ErrNotStored) {
				return store.ErrSessionNotFound
			}
			return fmt.Errorf("memcache: failed to rotate session: %w", err)
		}
		return nil
	}
	item.Value = []byte("tombstone")
	item.Expiration = tombstoneExpirationSeconds
	if err := c.client.CompareAndSwap(item); err != nil {
		if errors.Is(err, memcache.ErrCASConflict) || errors.Is(err, memcache.ErrNotStored) {
			return store.ErrSessionNotFound
		}
		return fmt.Errorf("memcache: failed to tombstone previous session: %w", err)
	}
	val, err := encode(envelope[D]{Expiry: expiry, Data: data})
	if err != nil {
		return err
	}
	err = c.client.Add(&memcache.Item{
		Key:        newID.String(),
		Value:      val,
		Expiration: expirationFor(expiry, time.Now()),
	})
	if errors.Is(err, memcache.ErrNotStored) {
		return store.ErrIDExists
	}
	if err != nil {
		return fmt.Errorf("memcache: failed to store rotated session: %w", err)
	}
	return nil
}

// DeleteSession implements store.Connector. Deleting an absent row is not an
// error.
func (c *Connector[D]) DeleteSession(ctx context.Context, id store.ID) error {
	err := c.client.Delete(id.String())
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return fmt.Errorf("memcache: failed to delete session: %w", err)
	}
	return nil
}

// Clear implements store.Connector. Memcached has no way to enumerate keys
// under a given connector, so Clear flushes the entire cache; it is intended
// for tests and single-tenant deployments, not a Memcached instance shared
// with unrelated caches.
func (c *Connector[D]) Clear(ctx context.Context) error {
	if err := c.client.FlushAll(); err != nil {
		return fmt.Errorf("memcache: failed to clear sessions: %w", err)
	}
	return nil
}
