// Package session implements a typed, store-agnostic HTTP session engine.
//
// A Session[D] is a small state machine that tracks whether a session is
// new, unmodified, modified, or deleted, so that a SessionStore only ever
// talks to the backing Connector when it actually needs to: loading and
// discarding an untouched session costs nothing, and any mutation causes
// the session's id to be rotated on its next store, so that a client who
// only ever held an older cookie can no longer reach the row.
//
// Payload type D is chosen by the embedding application; the engine places
// no requirements on it beyond what a chosen Connector needs to persist it.
package session

import "time"

// sessionState is the tag of the Session[D] state machine described in the
// package doc comment.
type sessionState int

const (
	stateNewUnchanged sessionState = iota
	stateNewChanged
	stateUnchanged
	stateChanged
	stateDeleted
	stateNewDeleted
)

// Session represents one logical session for the duration of a single
// request. It must be handed to a SessionStore's StoreSession before the
// request completes; a Session that is silently dropped without being
// stored is equivalent to issuing CookieDoNothing; this is a consequence of
// the engine having no way to observe an abandoned value, not a special
// case it implements.
type Session[D any] struct {
	state  sessionState
	id     SessionID
	expiry Expiry
	data   *D
}

// New returns a fresh session carrying the zero value of D, with no
// expiration set. It is not persisted unless its data is subsequently
// written (see DataMut).
func New[D any]() *Session[D] {
	var zero D
	return &Session[D]{state: stateNewUnchanged, expiry: Never(), data: &zero}
}

// NewWithData returns a fresh session seeded with data. Unlike New, this
// session is considered changed and will be persisted on its next store,
// since the caller has explicitly supplied a payload.
func NewWithData[D any](data D) *Session[D] {
	return &Session[D]{state: stateNewChanged, expiry: Never(), data: &data}
}

// fromStore constructs a Session representing a row already present in the
// backing store. Only SessionStore.LoadSession calls this.
func fromStore[D any](id SessionID, expiry Expiry, data D) *Session[D] {
	return &Session[D]{state: stateUnchanged, id: id, expiry: expiry, data: &data}
}

// IsNew reports whether this session has never been written to a store.
func (s *Session[D]) IsNew() bool {
	switch s.state {
	case stateNewUnchanged, stateNewChanged, stateNewDeleted:
		return true
	default:
		return false
	}
}

// IsChanged reports whether this session carries changes that must be
// persisted on its next store.
func (s *Session[D]) IsChanged() bool {
	return s.state == stateNewChanged || s.state == stateChanged
}

// IsDeleted reports whether this session has been marked for deletion.
func (s *Session[D]) IsDeleted() bool {
	return s.state == stateDeleted || s.state == stateNewDeleted
}

func (s *Session[D]) mustNotBeDeleted() {
	if s.IsDeleted() {
		panic("session: access to a deleted session")
	}
}

// Data returns the session payload without marking the session as changed.
// Use this for read-only access; any intended mutation should go through
// DataMut instead, since the engine cannot distinguish a read from a write
// through a returned pointer.
func (s *Session[D]) Data() *D {
	s.mustNotBeDeleted()
	return s.data
}

// DataMut returns the session payload and marks the session as changed,
// which will cause its id to be rotated and the row rewritten on the next
// store. Panics if the session has been deleted.
func (s *Session[D]) DataMut() *D {
	s.mustNotBeDeleted()
	switch s.state {
	case stateNewUnchanged:
		s.state = stateNewChanged
	case stateUnchanged:
		s.state = stateChanged
	}
	return s.data
}

// Expiry returns the session's current expiry without marking it changed.
func (s *Session[D]) Expiry() Expiry {
	s.mustNotBeDeleted()
	return s.expiry
}

// SetExpiry sets the session's expiry. On an already-stored (Unchanged)
// session this is a write and promotes it to Changed. On a brand new,
// still-empty (NewUnchanged) session it is not: an expiry-only touch on an
// otherwise-untouched new session is not reason enough to issue a cookie.
func (s *Session[D]) SetExpiry(e Expiry) {
	s.mustNotBeDeleted()
	s.expiry = e
	if s.state == stateUnchanged {
		s.state = stateChanged
	}
}

// DoNotExpire sets the session to never expire. See SetExpiry for state
// transition semantics.
func (s *Session[D]) DoNotExpire() {
	s.SetExpiry(Never())
}

// ExpireIn sets the session to expire after d, measured from now.
func (s *Session[D]) ExpireIn(now time.Time, d time.Duration) {
	s.SetExpiry(At(now.Add(d)))
}

// IsExpired reports whether the session's expiry has strictly passed now.
func (s *Session[D]) IsExpired(now time.Time) bool {
	return s.expiry.IsExpired(now)
}

// Regenerate forces id rotation on the next store, without otherwise
// altering the session. It promotes Unchanged to Changed and is a no-op on
// any other non-deleted state (a new or already-changed session is already
// due to receive a fresh id on its next store).
func (s *Session[D]) Regenerate() {
	s.mustNotBeDeleted()
	if s.state == stateUnchanged {
		s.state = stateChanged
	}
}

// Delete marks the session for deletion. A session that was never stored
// transitions to NewDeleted, which requires no store I/O at all; a session
// loaded from the store transitions to Deleted, which requires a delete on
// its next store. Panics if the session has already been deleted.
func (s *Session[D]) Delete() {
	s.mustNotBeDeleted()
	switch s.state {
	case stateUnchanged, stateChanged:
		s.state = stateDeleted
	case stateNewUnchanged, stateNewChanged:
		s.state = stateNewDeleted
	}
}
