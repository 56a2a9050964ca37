package consent

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDomain is returned for input that is not a usable hostname.
	ErrInvalidDomain = errors.New("consent: invalid domain")
	// ErrInvalidToken is returned for a token not shaped verify-<16 hex>.
	ErrInvalidToken = errors.New("consent: invalid token format")
	// ErrInvalidMethod is returned for a method other than http or dns.
	ErrInvalidMethod = errors.New("consent: invalid verification method")
	// ErrTokenNotFound means no token with that value exists for the domain.
	ErrTokenNotFound = errors.New("consent: token not found")
	// ErrTokenExpired means the token passed its expiry before verification.
	ErrTokenExpired = errors.New("consent: token expired")
	// ErrAlreadyVerified means the token was verified earlier and is left untouched.
	ErrAlreadyVerified = errors.New("consent: token already verified")
	// ErrNoConsent means the domain has no verified token.
	ErrNoConsent = errors.New("consent: no verified token for domain")
	// ErrConsentExpired means the most recent verified token has expired.
	ErrConsentExpired = errors.New("consent: verified token expired")
)

// Reason classifies a verification failure.
type Reason string

const (
	ReasonNetwork     Reason = "network"
	ReasonNotFound    Reason = "not_found"
	ReasonMismatch    Reason = "mismatch"
	ReasonDNSNoRecord Reason = "dns_no_record"
	ReasonDNSLookup   Reason = "dns_lookup"
)

// VerifyError reports why a verification attempt failed. State is never
// mutated when one is returned.
type VerifyError struct {
	Reason Reason
	Detail string
	Err    error
}

func (e *VerifyError) Error() string {
	msg := fmt.Sprintf("consent verification failed (%s)", e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *VerifyError) Unwrap() error { return e.Err }

// IsReason reports whether err is a VerifyError with the given reason.
func IsReason(err error, r Reason) bool {
	var ve *VerifyError
	return errors.As(err, &ve) && ve.Reason == r
}
