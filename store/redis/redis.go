// Package redis provides a Redis-backed store.Connector, using a Lua script
// to perform the atomic id-rename UpdateSession requires, since plain
// SETNX/SET/DEL cannot express "rename this key to that one if and only if
// the new name is free" as a single operation.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ISibboI/typed-session-go/store"
)

// ErrRedisClient wraps any transport-level error surfaced by the underlying
// go-redis client (as opposed to a session-semantic outcome such as a
// missing or colliding id).
var ErrRedisClient = errors.New("redis: client error")

// rotateScript atomically renames the row at KEYS[1] to KEYS[2], refusing if
// KEYS[1] is absent or KEYS[2] is already taken by a different row.
var rotateScript = goredis.NewScript(`
local prev = KEYS[1]
local new = KEYS[2]
if redis.call("EXISTS", prev) == 0 then
  return "not_found"
end
if prev ~= new and redis.call("EXISTS", new) == 1 then
  return "exists"
end
redis.call("SET", new, ARGV[1])
if prev ~= new then
  redis.call("DEL", prev)
end
if ARGV[2] == "1" then
  redis.call("PEXPIRE", new, ARGV[3])
end
return "ok"
`)

type envelope[D any] struct {
	Expiry *time.Time `json:"expiry,omitempty"`
	Data   D          `json:"data"`
}

// Connector is a Redis-backed store.Connector[D]. D must marshal to and
// from JSON.
type Connector[D any] struct {
	rc     *goredis.Client
	prefix string
}

// New returns a Connector using the provided client. Keys are stored as
// "<prefix>:<hex session id>".
func New[D any](rc *goredis.Client, prefix string) *Connector[D] {
	return &Connector[D]{rc: rc, prefix: prefix}
}

func (c *Connector[D]) key(id store.ID) string {
	return fmt.Sprintf("%s:%s", c.prefix, id.String())
}

// MaxRetriesOnIDCollision implements store.Connector. The session id space
// is large enough that bounding retries buys nothing; the engine relies on
// ErrIDExists being rare, not absent.
func (c *Connector[D]) MaxRetriesOnIDCollision() (int, bool) {
	return 0, false
}

func ttlFor(expiry *time.Time, now time.Time) time.Duration {
	if expiry == nil {
		return 0
	}
	if d := expiry.Sub(now); d > 0 {
		return d
	}
	return time.Millisecond
}

// CreateSession implements store.Connector.
func (c *Connector[D]) CreateSession(ctx context.Context, id store.ID, expiry *time.Time, data D) error {
	val, err := json.Marshal(envelope[D]{Expiry: expiry, Data: data})
	if err != nil {
		return fmt.Errorf("redis: failed to marshal session data: %w", err)
	}
	set, err := c.rc.SetNX(ctx, c.key(id), val, ttlFor(expiry, time.Now())).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisClient, err)
	}
	if !set {
		return store.ErrIDExists
	}
	return nil
}

// ReadSession implements store.Connector.
func (c *Connector[D]) ReadSession(ctx context.Context, id store.ID) (*time.Time, D, error) {
	var zero D
	val, err := c.rc.Get(ctx, c.key(id)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, zero, store.ErrSessionNotFound
	}
	if err != nil {
		return nil, zero, fmt.Errorf("%w: %v", ErrRedisClient, err)
	}
	var env envelope[D]
	if err := json.Unmarshal([]byte(val), &env); err != nil {
		return nil, zero, fmt.Errorf("redis: failed to unmarshal session data: %v", err)
	}
	return env.Expiry, env.Data, nil
}

// UpdateSession implements store.Connector, atomically renaming the row at
// previousID to newID via rotateScript.
func (c *Connector[D]) UpdateSession(ctx context.Context, newID, previousID store.ID, expiry *time.Time, data D) error {
	val, err := json.Marshal(envelope[D]{Expiry: expiry, Data: data})
	if err != nil {
		return fmt.Errorf("redis: failed to marshal session data: %w", err)
	}
	hasTTL := "0"
	var ttlMillis int64
	if expiry != nil {
		hasTTL = "1"
		ttlMillis = ttlFor(expiry, time.Now()).Milliseconds()
	}
	res, err := rotateScript.Run(ctx, c.rc, []string{c.key(previousID), c.key(newID)}, val, hasTTL, ttlMillis).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisClient, err)
	}
	switch res {
	case "ok":
		return nil
	case "not_found":
		return store.ErrSessionNotFound
	case "exists":
		return store.ErrIDExists
	default:
		return fmt.Errorf("redis: unexpected rotate script result: %v", res)
	}
}

// DeleteSession implements store.Connector. Deleting an absent row is not an
// error.
func (c *Connector[D]) DeleteSession(ctx context.Context, id store.ID) error {
	if err := c.rc.Del(ctx, c.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisClient, err)
	}
	return nil
}

// Clear implements store.Connector, scanning and deleting every key under
// the configured prefix.
func (c *Connector[D]) Clear(ctx context.Context) error {
	iter := c.rc.Scan(ctx, 0, c.prefix+":*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisClient, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.rc.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisClient, err)
	}
	return nil
}
