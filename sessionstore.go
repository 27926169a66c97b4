package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ISibboI/typed-session-go/internal/retry"
	"github.com/ISibboI/typed-session-go/store"
	"golang.org/x/exp/slog"
)

// allocateRetryPolicy governs the delay between id-collision retries in
// allocate. The attempt budget comes from the connector's
// MaxRetriesOnIDCollision; the delays between attempts are ~100ms, ~200ms,
// ~400ms, and so on (+/- 20%); collisions are rare enough that this almost
// never actually sleeps.
var allocateRetryPolicy = retry.Backoff{Base: 100 * time.Millisecond, Growth: 2.0, Jitter: 0.2}

// unboundedAllocateAttempts stands in for "no limit" on a connector whose
// MaxRetriesOnIDCollision reports finite=false: retry.Backoff.Do requires a
// concrete attempt budget, so unbounded is approximated by a ceiling high
// enough that it is never reached by a real id-space collision rate.
const unboundedAllocateAttempts = 1 << 30

// RenewalStrategy governs whether and when LoadSession extends a session's
// expiry. It is a closed set; the only implementations are RenewalIgnore and
// RenewalAutomatic.
type RenewalStrategy interface {
	isRenewalStrategy()
}

type renewalIgnore struct{}

func (renewalIgnore) isRenewalStrategy() {}

// RenewalIgnore never extends a session's expiry; it is left exactly as
// loaded (or, for a brand new session, exactly as the caller set it).
var RenewalIgnore RenewalStrategy = renewalIgnore{}

// RenewalAutomatic extends a session's expiry to now+TTL whenever its
// current expiry is Never, or its remaining lifetime has fallen to
// MaxRemainingForRenewal or below. This amortizes renewal writes: with, say,
// TTL = 7 days and MaxRemainingForRenewal = 6 days, a continuously active
// session is rewritten at most once per day.
type RenewalAutomatic struct {
	TTL                    time.Duration
	MaxRemainingForRenewal time.Duration
}

func (RenewalAutomatic) isRenewalStrategy() {}

// CookieCommandKind identifies what a SessionStore asks the caller to do
// with the session cookie after a StoreSession call.
type CookieCommandKind int

const (
	// CookieDoNothing means the cookie must not be touched.
	CookieDoNothing CookieCommandKind = iota
	// CookieSet means the caller must set the session cookie to Value,
	// expiring at Expiry.
	CookieSet
	// CookieDelete means the caller must clear the session cookie.
	CookieDelete
)

// CookieCommand is the directive StoreSession returns describing what, if
// anything, the caller must do to the client's session cookie.
type CookieCommand struct {
	Kind   CookieCommandKind
	Value  string
	Expiry Expiry
}

// Options configures a SessionStore. The zero value is valid: a
// SessionStore built from it uses a 32-character SecureCookieGenerator and
// never renews sessions on its own.
type Options struct {
	// CookieGenerator produces fresh cookie values on session creation and
	// rotation. Default: NewSecureCookieGenerator(32).
	CookieGenerator CookieGenerator
	// Renewal governs automatic expiry extension on load. Default:
	// RenewalIgnore.
	Renewal RenewalStrategy
}

// SessionStore orchestrates loading sessions from cookies, applying the
// renewal policy, and persisting changes back to a Connector, including the
// id-rotation-with-retry-on-collision protocol implemented by allocate.
type SessionStore[D any] struct {
	// Clock can be overridden in tests.
	Clock     func() time.Time
	cookieGen CookieGenerator
	renewal   RenewalStrategy
	connector store.Connector[D]
}

// NewSessionStore returns a SessionStore backed by connector, applying opts
// (or defaults, if opts is nil).
func NewSessionStore[D any](connector store.Connector[D], opts *Options) *SessionStore[D] {
	if opts == nil {
		opts = &Options{}
	}
	cookieGen := opts.CookieGenerator
	if cookieGen == nil {
		cookieGen = NewSecureCookieGenerator(defaultCookieLength)
	}
	renewal := opts.Renewal
	if renewal == nil {
		renewal = RenewalIgnore
	}
	return &SessionStore[D]{
		Clock:     time.Now,
		cookieGen: cookieGen,
		renewal:   renewal,
		connector: connector,
	}
}

// applyRenewal mutates s in place per the configured RenewalStrategy. On a
// RenewalAutomatic store this may promote an Unchanged session to Changed,
// which is what causes LoadSession to trigger a rewrite on a session the
// caller never otherwise touched.
func (ss *SessionStore[D]) applyRenewal(s *Session[D], now time.Time) {
	ra, ok := ss.renewal.(RenewalAutomatic)
	if !ok {
		return
	}
	if _, hasExpiry := s.expiry.Time(); !hasExpiry || s.expiry.Remaining(now) <= ra.MaxRemainingForRenewal {
		s.SetExpiry(At(now.Add(ra.TTL)))
	}
}

// LoadSession looks up the session named by cookie. It returns (nil, nil)
// if no session exists for cookie, or if it has expired; callers should
// treat both identically (fall back to a new session). It returns
// *ErrWrongCookieLength if cookie is not exactly as long as the configured
// CookieGenerator produces.
func (ss *SessionStore[D]) LoadSession(ctx context.Context, cookie string) (*Session[D], error) {
	if len(cookie) != ss.cookieGen.Length() {
		return nil, &ErrWrongCookieLength{Expected: ss.cookieGen.Length(), Actual: len(cookie)}
	}
	id := SessionIDFromCookie(cookie)
	expiryPtr, data, err := ss.connector.ReadSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: failed to read session: %w", err)
	}
	now := ss.Clock()
	expiry := expiryFromPtr(expiryPtr)
	if expiry.IsExpired(now) {
		return nil, nil
	}
	s := fromStore(id, expiry, data)
	ss.applyRenewal(s, now)
	return s, nil
}

// allocate runs op repeatedly with freshly generated ids until op succeeds,
// op fails with anything other than store.ErrIDExists, or the connector's
// retry budget is exhausted.
func (ss *SessionStore[D]) allocate(op func(newID store.ID) error) (string, error) {
	maxRetries, finite := ss.connector.MaxRetriesOnIDCollision()
	attempts := unboundedAllocateAttempts
	if finite {
		attempts = maxRetries
	}

	var cookie string
	var opErr error
	fn := func(rctx *retry.RetryContext) {
		c, err := ss.cookieGen.Generate()
		if err != nil {
			opErr = fmt.Errorf("session: failed to generate cookie: %w", err)
			rctx.Abort()
			return
		}
		if err := op(SessionIDFromCookie(c)); err != nil {
			if errors.Is(err, store.ErrIDExists) {
				// Retryable: draw a fresh id next attempt.
				return
			}
			opErr = err
			rctx.Abort()
			return
		}
		cookie = c
		rctx.Done()
	}

	if err := allocateRetryPolicy.Do(fn, attempts); err != nil {
		if opErr != nil {
			return "", opErr
		}
		slog.Error("exhausted attempts generating a unique session id", "max_retries", maxRetries)
		return "", &ErrMaxIDGenerationTriesReached{Maximum: maxRetries}
	}
	return cookie, nil
}

// StoreSession persists whatever changes s carries and reports what the
// caller must do with the session cookie. s must not be used again after
// this call. If s was loaded from the store and concurrently
// rotated or deleted by another request, StoreSession returns
// ErrUpdatedSessionDoesNotExist; the caller should treat this request's
// effect on session state as having not taken hold.
func (ss *SessionStore[D]) StoreSession(ctx context.Context, s *Session[D]) (CookieCommand, error) {
	switch s.state {
	case stateNewUnchanged, stateUnchanged, stateNewDeleted:
		return CookieCommand{Kind: CookieDoNothing}, nil
	case stateNewChanged:
		return ss.createNew(ctx, s)
	case stateChanged:
		return ss.rotate(ctx, s)
	case stateDeleted:
		if err := ss.connector.DeleteSession(ctx, s.id); err != nil {
			return CookieCommand{}, fmt.Errorf("session: failed to delete session: %w", err)
		}
		return CookieCommand{Kind: CookieDelete}, nil
	default:
		panic("session: unreachable session state")
	}
}

func (ss *SessionStore[D]) createNew(ctx context.Context, s *Session[D]) (CookieCommand, error) {
	ss.applyRenewal(s, ss.Clock())
	expiryPtr := expiryToPtr(s.expiry)
	cookie, err := ss.allocate(func(newID store.ID) error {
		return ss.connector.CreateSession(ctx, newID, expiryPtr, *s.data)
	})
	if err != nil {
		return CookieCommand{}, err
	}
	return CookieCommand{Kind: CookieSet, Value: cookie, Expiry: s.expiry}, nil
}

func (ss *SessionStore[D]) rotate(ctx context.Context, s *Session[D]) (CookieCommand, error) {
	expiryPtr := expiryToPtr(s.expiry)
	previousID := s.id
	cookie, err := ss.allocate(func(newID store.ID) error {
		return ss.connector.UpdateSession(ctx, newID, previousID, expiryPtr, *s.data)
	})
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return CookieCommand{}, ErrUpdatedSessionDoesNotExist
		}
		return CookieCommand{}, err
	}
	return CookieCommand{Kind: CookieSet, Value: cookie, Expiry: s.expiry}, nil
}

// ClearStore removes every session from the backing store. Intended for
// tests and administrative tooling, not per-request use.
func (ss *SessionStore[D]) ClearStore(ctx context.Context) error {
	return ss.connector.Clear(ctx)
}
