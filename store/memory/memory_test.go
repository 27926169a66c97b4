package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

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
	c := New[payload]()
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
	c := New[payload]()
	_, _, err := c.ReadSession(context.Background(), idOf(1))
	if !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("ReadSession() error = %v, want ErrSessionNotFound", err)
	}
}

func TestReadSessionReturnsStoredValue(t *testing.T) {
	c := New[payload]()
	id := idOf(1)
	expiry := time.Now().Add(time.Hour)
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
	c := New[payload]()
	err := c.UpdateSession(context.Background(), idOf(2), idOf(1), nil, payload{Value: "a"})
	if !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("UpdateSession() error = %v, want ErrSessionNotFound", err)
	}
}

func TestUpdateSessionRejectsNewIDAlreadyTaken(t *testing.T) {
	c := New[payload]()
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
	c := New[payload]()
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
	c := New[payload]()
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
	if err := c.DeleteSession(context.Background(), id); err != nil {
		t.Fatalf("DeleteSession() on an already-deleted row returned error: %v", err)
	}
	if _, _, err := c.ReadSession(context.Background(), id); !errors.Is(err, store.ErrSessionNotFound) {
		t.Errorf("ReadSession() error = %v, want ErrSessionNotFound", err)
	}
}

func TestClearRemovesAllRows(t *testing.T) {
	c := New[payload]()
	if err := c.CreateSession(context.Background(), idOf(1), nil, payload{Value: "a"}); err != nil {
		t.Fatalf("CreateSession() returned unexpected error: %v", err)
	}
	if err := c.CreateSession(context.Background(), idOf(2), nil, payload{Value: "b"}); err != nil {
		t.Fatalf("CreateSession() returned unexpected error: %v", err)
	}
	if err := c.Clear(context.Background()); err != nil {
		t.Fatalf("Clear() returned unexpected error: %v", err)
	}
	if got := c.Len(); got != 0 {
		t.Errorf("Len() after Clear() = %d, want 0", got)
	}
}

func TestExpiredRowsAreLazilyEvicted(t *testing.T) {
	c := New[payload]()
	now := time.Now()
	c.Clock = func() time.Time { return now }
	past := now.Add(-time.Minute)
	if err := c.CreateSession(context.Background(), idOf(1), &past, payload{Value: "a"}); err != nil {
		t.Fatalf("CreateSession() returned unexpected error: %v", err)
	}
	if got := c.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0: row with a past expiry should have been evicted", got)
	}
	if _, _, err := c.ReadSession(context.Background(), idOf(1)); !errors.Is(err, store.ErrSessionNotFound) {
		t.Errorf("ReadSession() error = %v, want ErrSessionNotFound", err)
	}
}

func TestMaxRetriesOnIDCollisionIsUnbounded(t *testing.T) {
	c := New[payload]()
	_, finite := c.MaxRetriesOnIDCollision()
	if finite {
		t.Errorf("MaxRetriesOnIDCollision() finite = true, want false")
	}
}
