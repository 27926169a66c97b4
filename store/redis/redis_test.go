package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ISibboI/typed-session-go/internal/testutil"
	"github.com/ISibboI/typed-session-go/store"
)

type payload struct {
	Value string
}

func idOf(b byte) store.ID {
	var id store.ID
	id[0] = b
	return id
}

func TestCreateSessionRejectsDuplicateID(t *testing.T) {
	rb := testutil.MustCreateRedisBundle(t)
	defer rb.Close()
	c := New[payload](rb.Client(), "sess")
	id := idOf(1)
	if err := c.CreateSession(context.Background(), id, nil, payload{Value: "a"}); err != nil {
		t.Fatalf("CreateSession() returned unexpected error: %v", err)
	}
	err := c.CreateSession(context.Background(), id, nil, payload{Value: "b"})
	if !errors.Is(err, store.ErrIDExists) {
		t.Fatalf("CreateSession() error = %v, want ErrIDExists", err)
	}
}

func TestReadSessionReturnsNotFound(t *testing.T) {
	rb := testutil.MustCreateRedisBundle(t)
	defer rb.Close()
	c := New[payload](rb.Client(), "sess")
	_, _, err := c.ReadSession(context.Background(), idOf(1))
	if !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("ReadSession() error = %v, want ErrSessionNotFound", err)
	}
}

func TestReadSessionReturnsStoredValue(t *testing.T) {
	rb := testutil.MustCreateRedisBundle(t)
	defer rb.Close()
	c := New[payload](rb.Client(), "sess")
	id := idOf(1)
	expiry := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	if err := c.CreateSession(context.Background(), id, &expiry, payload{Value: "a"}); err != nil {
		t.Fatalf("CreateSession() returned unexpected error: %v", err)
	}
	gotExpiry, data, err := c.ReadSession(context.Background(), id)
	if err != nil {
		t.Fatalf("ReadSession() returned unexpected error: %v", err)
	}
	if diff := cmp.Diff(payload{Value: "a"}, data); diff != "" {
		t.Errorf("ReadSession() data mismatch (-want +got):\n%s", diff)
	}
	if gotExpiry == nil || !gotExpiry.Equal(expiry) {
		t.Errorf("ReadSession() expiry = %v, want %v", gotExpiry, expiry)
	}
}

func TestUpdateSessionRejectsMissingPreviousID(t *testing.T) {
	rb := testutil.MustCreateRedisBundle(t)
	defer rb.Close()
	c := New[payload](rb.Client(), "sess")
	err := c.UpdateSession(context.Background(), idOf(2), idOf(1), nil, payload{Value: "a"})
	if !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("UpdateSession() error = %v, want ErrSessionNotFound", err)
	}
}

func TestUpdateSessionRejectsNewIDAlreadyTaken(t *testing.T) {
	rb := testutil.MustCreateRedisBundle(t)
	defer rb.Close()
	c := New[payload](rb.Client(), "sess")
	prev, taken := idOf(1), idOf(2)
	if err := c.CreateSession(context.Background(), prev, nil, payload{Value: "a"}); err != nil {
		t.Fatalf("CreateSession() returned unexpected error: %v", err)
	}
	if err := c.CreateSession(context.Background(), taken, nil, payload{Value: "b"}); err != nil {
		t.Fatalf("CreateSession() returned unexpected error: %v", err)
	}
	err := c.UpdateSession(context.Background(), taken, prev, nil, payload{Value: "c"})
	if !errors.Is(err, store.ErrIDExists) {
		t.Fatalf("UpdateSession() error = %v, want ErrIDExists", err)
	}
}

func TestUpdateSessionRenamesRow(t *testing.T) {
	rb := testutil.MustCreateRedisBundle(t)
	defer rb.Close()
	c := New[payload](rb.Client(), "sess")
	prev, next := idOf(1), idOf(2)
	if err := c.CreateSession(context.Background(), prev, nil, payload{Value: "a"}); err != nil {
		t.Fatalf("CreateSession() returned unexpected error: %v", err)
	}
	if err := c.UpdateSession(context.Background(), next, prev, nil, payload{Value: "b"}); err != nil {
		t.Fatalf("UpdateSession() returned unexpected error: %v", err)
	}
	if _, _, err := c.ReadSession(context.Background(), prev); !errors.Is(err, store.ErrSessionNotFound) {
		t.Errorf("ReadSession(prev) error = %v, want ErrSessionNotFound", err)
	}
	_, data, err := c.ReadSession(context.Background(), next)
	if err != nil {
		t.Fatalf("ReadSession(next) returned unexpected error: %v", err)
	}
	if diff := cmp.Diff(payload{Value: "b"}, data); diff != "" {
		t.Errorf("ReadSession(next) data mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteSessionIsIdempotent(t *testing.T) {
	rb := testutil.MustCreateRedisBundle(t)
	defer rb.Close()
	c := New[payload](rb.Client(), "sess")
	id := idOf(1)
	if err := c.DeleteSession(context.Background(), id); err != nil {
		t.Fatalf("DeleteSession() on an absent row returned error: %v", err)
	}
	if err := c.CreateSession(context.Background(), id, nil, payload{Value: "a"}); err != nil {
		t.Fatalf("CreateSession() returned unexpected error: %v", err)
	}
	if err := c.DeleteSession(context.Background(), id); err != nil {
		t.Fatalf("DeleteSession() returned unexpected error: %v", err)
	}
	if _, _, err := c.ReadSession(context.Background(), id); !errors.Is(err, store.ErrSessionNotFound) {
		t.Errorf("ReadSession() error = %v, want ErrSessionNotFound", err)
	}
}

func TestClearRemovesOnlyPrefixedKeys(t *testing.T) {
	rb := testutil.MustCreateRedisBundle(t)
	defer rb.Close()
	c := New[payload](rb.Client(), "sess")
	if err := c.CreateSession(context.Background(), idOf(1), nil, payload{Value: "a"}); err != nil {
		t.Fatalf("CreateSession() returned unexpected error: %v", err)
	}
	if err := rb.Client().Set(context.Background(), "unrelated:key", "v", 0).Err(); err != nil {
		t.Fatalf("failed to seed unrelated key: %v", err)
	}
	if err := c.Clear(context.Background()); err != nil {
		t.Fatalf("Clear() returned unexpected error: %v", err)
	}
	if _, _, err := c.ReadSession(context.Background(), idOf(1)); !errors.Is(err, store.ErrSessionNotFound) {
		t.Errorf("ReadSession() after Clear() error = %v, want ErrSessionNotFound", err)
	}
	if n, err := rb.Client().Exists(context.Background(), "unrelated:key").Result(); err != nil || n != 1 {
		t.Errorf("Clear() removed an unrelated key: exists=%d err=%v", n, err)
	}
}

func TestReadSessionWrapsTransportError(t *testing.T) {
	rb := testutil.MustCreateRedisBundle(t)
	c := New[payload](rb.Client(), "sess")
	rb.Close()
	_, _, err := c.ReadSession(context.Background(), idOf(1))
	if !errors.Is(err, ErrRedisClient) {
		t.Fatalf("ReadSession() error = %v, want ErrRedisClient", err)
	}
}
