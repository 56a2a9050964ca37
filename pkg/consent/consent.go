// Package consent gates elevated scan modes on proof of domain ownership.
//
// A token moves from pending to verified once its owner places it in a
// well-known file or a DNS TXT record, and is considered expired once its
// TTL has elapsed. Expiry is derived from timestamps and never stored. Only
// the most recently verified token of a domain decides whether the domain is
// active.
package consent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/argusscan/argus/pkg/defaults"
	"github.com/argusscan/argus/pkg/duration"
	"github.com/argusscan/argus/pkg/httpclient"
)

// Repository persists tokens. The SQLite store implements it.
type Repository interface {
	// InsertToken stores tok and returns it with its ID set.
	InsertToken(ctx context.Context, tok Token) (Token, error)
	// TokenByValue returns ErrTokenNotFound when no row matches.
	TokenByValue(ctx context.Context, domain, value string) (Token, error)
	// MarkVerified sets verified_at once. It returns ErrAlreadyVerified
	// when verified_at is already set.
	MarkVerified(ctx context.Context, id int64, method Method, at time.Time, proofPath string) error
	// LatestVerified returns ErrTokenNotFound when the domain has no
	// verified token.
	LatestVerified(ctx context.Context, domain string) (Token, error)
	// ListTokens returns the domain's tokens, newest first.
	ListTokens(ctx context.Context, domain string) ([]Token, error)
}

// TXTResolver looks up TXT records. *net.Resolver implements it.
type TXTResolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// Store is the consent state machine.
type Store struct {
	repo      Repository
	http      *http.Client
	resolver  TXTResolver
	now       func() time.Time
	ttl       time.Duration
	proofsDir string
	dnsTries  int
	dnsDelay  time.Duration
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithTTL sets the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithHTTPClient sets the client used for well-known file checks.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.http = c }
}

// WithResolver sets the TXT resolver.
func WithResolver(r TXTResolver) Option {
	return func(s *Store) { s.resolver = r }
}

// WithProofsDir sets where proof artifacts are written.
func WithProofsDir(dir string) Option {
	return func(s *Store) { s.proofsDir = dir }
}

// WithDNSRetry sets how many TXT lookups are made and the pause between them.
func WithDNSRetry(attempts int, delay time.Duration) Option {
	return func(s *Store) {
		if attempts > 0 {
			s.dnsTries = attempts
		}
		if delay >= 0 {
			s.dnsDelay = delay
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates a Store over repo.
func NewStore(repo Repository, opts ...Option) (*Store, error) {
	s := &Store{
		repo:      repo,
		now:       time.Now,
		ttl:       duration.TokenTTL,
		proofsDir: defaults.ProofsDir,
		dnsTries:  defaults.DNSRetries,
		dnsDelay:  duration.DNSRetry,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.http == nil {
		cfg := httpclient.DefaultConfig()
		cfg.Timeout = duration.HTTPVerify
		cfg.FollowRedirects = false
		hc, err := httpclient.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("consent: build http client: %w", err)
		}
		s.http = hc
	}
	if s.resolver == nil {
		s.resolver = &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				d := net.Dialer{Timeout: duration.DNSTimeout}
				return d.DialContext(ctx, network, address)
			},
		}
	}
	return s, nil
}

// Generate creates a pending token for domain.
func (s *Store) Generate(ctx context.Context, domain string, method Method) (Token, error) {
	d, err := NormalizeDomain(domain)
	if err != nil {
		return Token{}, err
	}
	if method == "" {
		method = MethodHTTP
	}
	if _, err := ParseMethod(string(method)); err != nil {
		return Token{}, err
	}
	value, err := NewTokenValue()
	if err != nil {
		return Token{}, err
	}
	now := s.now().UTC()
	tok, err := s.repo.InsertToken(ctx, Token{
		Domain:    d,
		Value:     value,
		Method:    method,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	})
	if err != nil {
		return Token{}, fmt.Errorf("consent: store token: %w", err)
	}
	s.logger.Info("consent token generated",
		slog.String("domain", d),
		slog.String("token", ShortToken(value)),
		slog.Time("expires_at", tok.ExpiresAt),
	)
	return tok, nil
}

// Verify dispatches to VerifyHTTP or VerifyDNS.
func (s *Store) Verify(ctx context.Context, method Method, domain, token string) (Token, error) {
	switch method {
	case MethodHTTP:
		return s.VerifyHTTP(ctx, domain, token)
	case MethodDNS:
		return s.VerifyDNS(ctx, domain, token)
	default:
		return Token{}, fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}
}

// VerifyHTTP fetches the well-known file and requires its trimmed body to
// equal token. A failure returns a *VerifyError and leaves state untouched.
func (s *Store) VerifyHTTP(ctx context.Context, domain, token string) (Token, error) {
	tok, err := s.pending(ctx, domain, token)
	if err != nil {
		return tok, err
	}
	proofURL, body, err := s.probeHTTP(ctx, tok.Domain, tok.Value)
	if err != nil {
		s.logger.Warn("http verification failed",
			slog.String("domain", tok.Domain),
			slog.String("token", ShortToken(tok.Value)),
			slog.String("err", err.Error()),
		)
		return tok, err
	}
	return s.accept(ctx, tok, MethodHTTP, proofURL, body)
}

// VerifyDNS looks for a TXT record argus-verify=<token> on the domain,
// retrying a bounded number of times while records propagate.
func (s *Store) VerifyDNS(ctx context.Context, domain, token string) (Token, error) {
	tok, err := s.pending(ctx, domain, token)
	if err != nil {
		return tok, err
	}
	record, err := s.probeDNS(ctx, tok.Domain, tok.Value)
	if err != nil {
		s.logger.Warn("dns verification failed",
			slog.String("domain", tok.Domain),
			slog.String("token", ShortToken(tok.Value)),
			slog.String("err", err.Error()),
		)
		return tok, err
	}
	return s.accept(ctx, tok, MethodDNS, BaseDomain(tok.Domain)+" TXT", record)
}

// pending loads the token and checks it can still be verified.
func (s *Store) pending(ctx context.Context, domain, token string) (Token, error) {
	d, err := NormalizeDomain(domain)
	if err != nil {
		return Token{}, err
	}
	if !ValidTokenFormat(token) {
		return Token{}, fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	tok, err := s.repo.TokenByValue(ctx, d, token)
	if err != nil {
		return Token{}, err
	}
	if tok.Verified() {
		return tok, ErrAlreadyVerified
	}
	if !s.now().Before(tok.ExpiresAt) {
		return tok, ErrTokenExpired
	}
	return tok, nil
}

func (s *Store) accept(ctx context.Context, tok Token, method Method, proof, response string) (Token, error) {
	at := s.now().UTC()
	path, err := writeProof(s.proofsDir, proofRecord{
		Domain:   tok.Domain,
		Token:    tok.Value,
		Method:   method,
		Verified: at,
		Proof:    proof,
		Response: response,
	})
	if err != nil {
		return tok, fmt.Errorf("consent: write proof: %w", err)
	}
	if err := s.repo.MarkVerified(ctx, tok.ID, method, at, path); err != nil {
		return tok, err
	}
	tok.Method = method
	tok.VerifiedAt = &at
	tok.ProofPath = path
	s.logger.Info("consent verified",
		slog.String("domain", tok.Domain),
		slog.String("method", string(method)),
		slog.String("proof_path", path),
	)
	return tok, nil
}

// IsActive reports whether the domain's most recently verified token is
// still inside its TTL.
func (s *Store) IsActive(ctx context.Context, domain string) (bool, error) {
	err := s.Require(ctx, domain)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNoConsent), errors.Is(err, ErrConsentExpired):
		return false, nil
	default:
		return false, err
	}
}

// Require returns nil when domain is active, ErrNoConsent when it was never
// verified and ErrConsentExpired when its latest verification has lapsed.
func (s *Store) Require(ctx context.Context, domain string) error {
	d, err := NormalizeDomain(domain)
	if err != nil {
		return err
	}
	tok, err := s.repo.LatestVerified(ctx, d)
	if errors.Is(err, ErrTokenNotFound) {
		return fmt.Errorf("%w: %s", ErrNoConsent, d)
	}
	if err != nil {
		return fmt.Errorf("consent: lookup %s: %w", d, err)
	}
	if !tok.Active(s.now()) {
		return fmt.Errorf("%w: %s expired %s", ErrConsentExpired, d, tok.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// Tokens lists a domain's tokens, newest first.
func (s *Store) Tokens(ctx context.Context, domain string) ([]Token, error) {
	d, err := NormalizeDomain(domain)
	if err != nil {
		return nil, err
	}
	return s.repo.ListTokens(ctx, d)
}

// Status summarises consent for one domain.
type Status struct {
	Domain    string      `json:"domain"`
	Active    bool        `json:"active"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
	Tokens    []TokenView `json:"tokens"`
}

// TokenView is a token with its derived state.
type TokenView struct {
	Token Token `json:"token"`
	State State `json:"state"`
}

// Status returns the consent status of domain.
func (s *Store) Status(ctx context.Context, domain string) (Status, error) {
	toks, err := s.Tokens(ctx, domain)
	if err != nil {
		return Status{}, err
	}
	d, _ := NormalizeDomain(domain)
	now := s.now()
	st := Status{Domain: d, Tokens: make([]TokenView, 0, len(toks))}
	for _, t := range toks {
		st.Tokens = append(st.Tokens, TokenView{Token: t, State: t.State(now)})
	}
	latest, err := s.repo.LatestVerified(ctx, d)
	if err == nil {
		exp := latest.ExpiresAt
		st.ExpiresAt = &exp
		st.Active = latest.Active(now)
	} else if !errors.Is(err, ErrTokenNotFound) {
		return Status{}, err
	}
	return st, nil
}
