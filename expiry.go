package session

import "time"

// Expiry represents a session's expiration: either a concrete point in time,
// or "never". The zero value is not Never: it is an expiry at the zero
// time.Time. Use Never or At to construct one.
type Expiry struct {
	at    time.Time
	never bool
}

// Never returns an Expiry that never elapses.
func Never() Expiry {
	return Expiry{never: true}
}

// At returns an Expiry that elapses at t.
func At(t time.Time) Expiry {
	return Expiry{at: t}
}

// IsNever reports whether the expiry is "never".
func (e Expiry) IsNever() bool {
	return e.never
}

// Time returns the expiration instant and true, or the zero time and false
// if the expiry is "never".
func (e Expiry) Time() (time.Time, bool) {
	if e.never {
		return time.Time{}, false
	}
	return e.at, true
}

// IsExpired reports whether the expiry has strictly passed now. An expiry of
// Never is never expired.
func (e Expiry) IsExpired(now time.Time) bool {
	if e.never {
		return false
	}
	return e.at.Before(now)
}

// Remaining returns the duration until expiry, or a negative duration if
// already expired. For Never, Remaining always returns the largest
// representable duration.
func (e Expiry) Remaining(now time.Time) time.Duration {
	if e.never {
		return time.Duration(1<<63 - 1)
	}
	return e.at.Sub(now)
}

func expiryToPtr(e Expiry) *time.Time {
	t, ok := e.Time()
	if !ok {
		return nil
	}
	return &t
}

func expiryFromPtr(t *time.Time) Expiry {
	if t == nil {
		return Never()
	}
	return At(*t)
}
