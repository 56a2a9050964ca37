package consent

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/argusscan/argus/pkg/defaults"
)

// Method is how ownership is proven.
type Method string

const (
	MethodHTTP Method = defaults.MethodHTTP
	MethodDNS  Method = defaults.MethodDNS
)

// ParseMethod validates a method name.
func ParseMethod(v string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(v))); m {
	case MethodHTTP, MethodDNS:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMethod, v)
	}
}

// State is derived from a token's timestamps; it is never stored.
type State string

const (
	StatePending  State = "pending"
	StateVerified State = "verified"
	StateExpired  State = "expired"
)

// Token is one ownership proof attempt for a domain.
type Token struct {
	ID         int64      `json:"id"`
	Domain     string     `json:"domain"`
	Value      string     `json:"token"`
	Method     Method     `json:"method"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	ProofPath  string     `json:"proof_path,omitempty"`
}

// Verified reports whether verification ever succeeded.
func (t Token) Verified() bool { return t.VerifiedAt != nil }

// Active reports whether t authorizes gated modes at now.
func (t Token) Active(now time.Time) bool {
	return t.VerifiedAt != nil && now.Before(t.ExpiresAt)
}

// State returns the token state at now.
func (t Token) State(now time.Time) State {
	switch {
	case !now.Before(t.ExpiresAt):
		return StateExpired
	case t.VerifiedAt != nil:
		return StateVerified
	default:
		return StatePending
	}
}

// NewTokenValue returns verify-<16 hex> drawn from crypto/rand.
func NewTokenValue() (string, error) {
	buf := make([]byte, defaults.TokenHexLength/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("consent: read random: %w", err)
	}
	return defaults.TokenPrefix + hex.EncodeToString(buf), nil
}

// ValidTokenFormat reports whether v is shaped verify-<16 lowercase hex>.
func ValidTokenFormat(v string) bool {
	rest, ok := strings.CutPrefix(v, defaults.TokenPrefix)
	if !ok || len(rest) != defaults.TokenHexLength {
		return false
	}
	for _, c := range rest {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// ShortToken returns a log-safe prefix of a token value.
func ShortToken(v string) string {
	const keep = len(defaults.TokenPrefix) + 4
	if len(v) <= keep {
		return v
	}
	return v[:keep] + "..."
}
