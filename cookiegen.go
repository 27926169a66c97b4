package session

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"

	"golang.org/x/exp/slog"
)

// cookieAlphabet is the alphanumeric alphabet cookie values are drawn from.
const cookieAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// defaultCookieLength is used by NewSessionStore when no CookieGenerator is
// supplied, giving ~190 bits of entropy.
const defaultCookieLength = 32

// CookieGenerator produces fresh cookie values of a fixed length.
type CookieGenerator interface {
	// Length returns the length, in characters, of generated cookie values.
	Length() int
	// Generate returns a fresh cookie value of Length() characters drawn
	// from the alphanumeric alphabet.
	Generate() (string, error)
}

// SecureCookieGenerator draws cookie values from a cryptographically secure
// random source. It is the default used by NewSessionStore.
type SecureCookieGenerator struct {
	length int
}

// NewSecureCookieGenerator returns a SecureCookieGenerator producing cookie
// values of the given length.
func NewSecureCookieGenerator(length int) *SecureCookieGenerator {
	return &SecureCookieGenerator{length: length}
}

// Length implements CookieGenerator.
func (g *SecureCookieGenerator) Length() int {
	return g.length
}

// Generate implements CookieGenerator.
func (g *SecureCookieGenerator) Generate() (string, error) {
	alphabetSize := big.NewInt(int64(len(cookieAlphabet)))
	buf := make([]byte, g.length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("session: failed to draw random cookie byte: %w", err)
		}
		buf[i] = cookieAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// DebugCookieGenerator produces a deterministic, monotonically increasing
// sequence of zero-padded cookie values. It is not secure: sessions created
// with it are trivially guessable. It exists only to make session behavior
// reproducible while developing against the library.
type DebugCookieGenerator struct {
	length int
	mu     sync.Mutex
	next   uint64
}

// NewDebugCookieGenerator returns a DebugCookieGenerator producing cookie
// values of the given length.
func NewDebugCookieGenerator(length int) *DebugCookieGenerator {
	return &DebugCookieGenerator{length: length}
}

// Length implements CookieGenerator.
func (g *DebugCookieGenerator) Length() int {
	return g.length
}

// Generate implements CookieGenerator.
func (g *DebugCookieGenerator) Generate() (string, error) {
	slog.Warn("using debug session cookie generator, this is not secure")
	g.mu.Lock()
	defer g.mu.Unlock()
	cookie := fmt.Sprintf("%0*d", g.length, g.next)
	if len(cookie) != g.length {
		return "", fmt.Errorf("session: debug cookie generator exhausted width %d at index %d", g.length, g.next)
	}
	g.next++
	return cookie, nil
}
