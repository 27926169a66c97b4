package session

import (
	"errors"
	"fmt"
)

// ErrUpdatedSessionDoesNotExist indicates that a session was mutated and
// stored, but the row it was loaded from had already been rotated or
// deleted by a concurrent request. The caller must discard any request-scoped
// effects that assumed the session would persist; it is not retried by the
// engine.
var ErrUpdatedSessionDoesNotExist = errors.New("session: updated session does not exist")

// ErrMaxIDGenerationTriesReached indicates that the id-allocation loop
// exhausted its attempt budget without finding a free id.
type ErrMaxIDGenerationTriesReached struct {
	Maximum int
}

func (e *ErrMaxIDGenerationTriesReached) Error() string {
	return fmt.Sprintf("session: exhausted %d attempts generating a unique session id", e.Maximum)
}

// ErrWrongCookieLength indicates that a cookie value presented to LoadSession
// did not match the configured cookie length.
type ErrWrongCookieLength struct {
	Expected, Actual int
}

func (e *ErrWrongCookieLength) Error() string {
	return fmt.Sprintf("session: wrong cookie length: expected %d, got %d", e.Expected, e.Actual)
}
