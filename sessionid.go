package session

import (
	"crypto/sha256"

	"github.com/ISibboI/typed-session-go/store"
)

// SessionID is the backend-facing identifier derived from a cookie value. It
// is never constructed directly by callers.
type SessionID = store.ID

// SessionIDFromCookie derives the SessionID under which a session with the
// given cookie value is stored. The mapping is one-way: a party holding only
// a SessionID cannot recover the cookie value that produced it, which is
// what lets a compromised store leak ids without exposing usable cookies.
func SessionIDFromCookie(cookie string) SessionID {
	return sha256.Sum256([]byte(cookie))
}
