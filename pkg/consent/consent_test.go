package consent

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu   sync.Mutex
	toks []Token
	next int64
}

func (r *memRepo) InsertToken(_ context.Context, tok Token) (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	tok.ID = r.next
	r.toks = append(r.toks, tok)
	return tok, nil
}

func (r *memRepo) TokenByValue(_ context.Context, domain, value string) (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.toks {
		if t.Domain == domain && t.Value == value {
			return t, nil
		}
	}
	return Token{}, ErrTokenNotFound
}

func (r *memRepo) MarkVerified(_ context.Context, id int64, m Method, at time.Time, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.toks {
		if r.toks[i].ID != id {
			continue
		}
		if r.toks[i].VerifiedAt != nil {
			return ErrAlreadyVerified
		}
		r.toks[i].VerifiedAt, r.toks[i].Method, r.toks[i].ProofPath = &at, m, path
		return nil
	}
	return ErrTokenNotFound
}

func (r *memRepo) LatestVerified(_ context.Context, domain string) (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *Token
	for i := range r.toks {
		t := &r.toks[i]
		if t.Domain != domain || t.VerifiedAt == nil {
			continue
		}
		if best == nil || t.VerifiedAt.After(*best.VerifiedAt) {
			best = t
		}
	}
	if best == nil {
		return Token{}, ErrTokenNotFound
	}
	return *best, nil
}

func (r *memRepo) ListTokens(_ context.Context, domain string) ([]Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Token
	for _, t := range r.toks {
		if t.Domain == domain {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fakeResolver struct {
	calls   atomic.Int32
	records func(call int32) ([]string, error)
}

func (f *fakeResolver) LookupTXT(_ context.Context, _ string) ([]string, error) {
	n := f.calls.Add(1)
	return f.records(n)
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *memRepo, *fakeClock) {
	t.Helper()
	repo := &memRepo{}
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	base := []Option{
		WithClock(clock.Now),
		WithProofsDir(t.TempDir()),
		WithDNSRetry(3, 0),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	}
	s, err := NewStore(repo, append(base, opts...)...)
	require.NoError(t, err)
	return s, repo, clock
}

// tokenServer serves body for any well-known path and reports its host:port.
func tokenServer(t *testing.T, status int, body func(path string) string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body(r.URL.Path)))
	}))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func echoToken(path string) string {
	return strings.TrimSuffix(strings.TrimPrefix(path, "/.well-known/"), ".txt") + "\n"
}

func TestGenerate(t *testing.T) {
	t.Parallel()
	s, _, clock := newTestStore(t)
	tok, err := s.Generate(context.Background(), "https://Example.com/blog", MethodHTTP)
	require.NoError(t, err)

	assert.Equal(t, "example.com", tok.Domain)
	assert.True(t, ValidTokenFormat(tok.Value))
	assert.Equal(t, clock.Now().Add(48*time.Hour), tok.ExpiresAt)
	assert.Nil(t, tok.VerifiedAt)
	assert.Equal(t, StatePending, tok.State(clock.Now()))
}

func TestGenerate_InvalidDomain(t *testing.T) {
	t.Parallel()
	s, repo, _ := newTestStore(t)
	for _, d := range []string{"", "com", "co.uk", "exa mple.com", "-bad.com"} {
		_, err := s.Generate(context.Background(), d, MethodHTTP)
		assert.ErrorIs(t, err, ErrInvalidDomain, d)
	}
	assert.Empty(t, repo.toks)
}

func TestVerifyHTTP_Success(t *testing.T) {
	t.Parallel()
	host := tokenServer(t, http.StatusOK, echoToken)
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	tok, err := s.Generate(ctx, host, MethodHTTP)
	require.NoError(t, err)

	active, err := s.IsActive(ctx, host)
	require.NoError(t, err)
	assert.False(t, active)

	got, err := s.VerifyHTTP(ctx, host, tok.Value)
	require.NoError(t, err)
	require.NotNil(t, got.VerifiedAt)
	assert.FileExists(t, got.ProofPath)

	proof, err := os.ReadFile(got.ProofPath)
	require.NoError(t, err)
	assert.Contains(t, string(proof), "Domain: "+host+"\n")
	assert.Contains(t, string(proof), "Token: "+tok.Value+"\n")
	assert.Contains(t, string(proof), "Method: http\n")
	assert.Contains(t, string(proof), "Response: "+tok.Value+"\n")

	active, err = s.IsActive(ctx, host)
	require.NoError(t, err)
	assert.True(t, active)

	_, err = s.VerifyHTTP(ctx, host, tok.Value)
	assert.ErrorIs(t, err, ErrAlreadyVerified)
}

func TestVerifyHTTP_Failures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		body   func(string) string
		reason Reason
	}{
		{"mismatch", http.StatusOK, func(string) string { return "verify-0000000000000000" }, ReasonMismatch},
		{"not found", http.StatusNotFound, func(string) string { return "" }, ReasonNotFound},
		{"server error", http.StatusInternalServerError, echoToken, ReasonNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			host := tokenServer(t, tt.status, tt.body)
			s, repo, _ := newTestStore(t)
			ctx := context.Background()
			tok, err := s.Generate(ctx, host, MethodHTTP)
			require.NoError(t, err)

			_, err = s.VerifyHTTP(ctx, host, tok.Value)
			require.Error(t, err)
			assert.True(t, IsReason(err, tt.reason), "got %v", err)
			assert.Nil(t, repo.toks[0].VerifiedAt, "failure must not mutate state")
		})
	}
}

func TestVerifyHTTP_NetworkError(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host := ln.Addr().String()
	ln.Close()

	s, _, _ := newTestStore(t)
	tok, err := s.Generate(context.Background(), host, MethodHTTP)
	require.NoError(t, err)
	_, err = s.VerifyHTTP(context.Background(), host, tok.Value)
	assert.True(t, IsReason(err, ReasonNetwork), "got %v", err)
}

func TestVerifyHTTP_PreconditionErrors(t *testing.T) {
	t.Parallel()
	host := tokenServer(t, http.StatusOK, echoToken)
	s, _, clock := newTestStore(t)
	ctx := context.Background()

	_, err := s.VerifyHTTP(ctx, host, "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.VerifyHTTP(ctx, host, "verify-0123456789abcdef")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	tok, err := s.Generate(ctx, host, MethodHTTP)
	require.NoError(t, err)
	clock.Set(tok.ExpiresAt)
	_, err = s.VerifyHTTP(ctx, host, tok.Value)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestIsActive_ExpiryMonotonic(t *testing.T) {
	t.Parallel()
	host := tokenServer(t, http.StatusOK, echoToken)
	s, _, clock := newTestStore(t)
	ctx := context.Background()

	tok, err := s.Generate(ctx, host, MethodHTTP)
	require.NoError(t, err)
	_, err = s.VerifyHTTP(ctx, host, tok.Value)
	require.NoError(t, err)

	steps := []struct {
		at   time.Time
		want bool
	}{
		{tok.ExpiresAt.Add(-time.Hour), true},
		{tok.ExpiresAt.Add(-time.Nanosecond), true},
		{tok.ExpiresAt, false},
		{tok.ExpiresAt.Add(time.Nanosecond), false},
		{tok.ExpiresAt.Add(72 * time.Hour), false},
	}
	for _, st := range steps {
		clock.Set(st.at)
		active, err := s.IsActive(ctx, host)
		require.NoError(t, err)
		assert.Equal(t, st.want, active, "at %s", st.at)
	}

	assert.ErrorIs(t, s.Require(ctx, host), ErrConsentExpired)
}

func TestRequire_NoConsent(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestStore(t)
	assert.ErrorIs(t, s.Require(context.Background(), "example.com"), ErrNoConsent)
}

func TestVerifyDNS_RetriesUntilPropagated(t *testing.T) {
	t.Parallel()
	res := &fakeResolver{}
	s, _, _ := newTestStore(t, WithResolver(res))
	ctx := context.Background()

	tok, err := s.Generate(ctx, "example.com", MethodDNS)
	require.NoError(t, err)
	res.records = func(call int32) ([]string, error) {
		if call < 3 {
			return []string{"v=spf1 -all"}, nil
		}
		return []string{"v=spf1 -all", `"argus-verify=` + tok.Value + `"`}, nil
	}

	got, err := s.VerifyDNS(ctx, "example.com", tok.Value)
	require.NoError(t, err)
	assert.Equal(t, int32(3), res.calls.Load())
	assert.Equal(t, MethodDNS, got.Method)
	active, err := s.IsActive(ctx, "example.com")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestVerifyDNS_BoundedRetries(t *testing.T) {
	t.Parallel()
	res := &fakeResolver{records: func(int32) ([]string, error) {
		return nil, &net.DNSError{Err: "no such host", Name: "example.com", IsNotFound: true}
	}}
	s, repo, _ := newTestStore(t, WithResolver(res))
	ctx := context.Background()

	tok, err := s.Generate(ctx, "example.com", MethodDNS)
	require.NoError(t, err)
	_, err = s.VerifyDNS(ctx, "example.com", tok.Value)
	assert.True(t, IsReason(err, ReasonDNSNoRecord), "got %v", err)
	assert.Equal(t, int32(3), res.calls.Load())
	assert.Nil(t, repo.toks[0].VerifiedAt)
}

func TestStatus_ListsNewestFirst(t *testing.T) {
	t.Parallel()
	host := tokenServer(t, http.StatusOK, echoToken)
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	first, err := s.Generate(ctx, host, MethodHTTP)
	require.NoError(t, err)
	second, err := s.Generate(ctx, host, MethodHTTP)
	require.NoError(t, err)
	_, err = s.VerifyHTTP(ctx, host, first.Value)
	require.NoError(t, err)

	st, err := s.Status(ctx, host)
	require.NoError(t, err)
	assert.True(t, st.Active)
	require.Len(t, st.Tokens, 2)
	assert.Equal(t, second.Value, st.Tokens[0].Token.Value)
	assert.Equal(t, StatePending, st.Tokens[0].State)
	assert.Equal(t, StateVerified, st.Tokens[1].State)
}

func TestInstructions(t *testing.T) {
	t.Parallel()
	tok := Token{Domain: "example.com", Value: "verify-0123456789abcdef", ExpiresAt: time.Now().Add(48 * time.Hour)}
	out, err := Instructions(tok)
	require.NoError(t, err)
	assert.Contains(t, out, "https://example.com/.well-known/verify-0123456789abcdef.txt")
	assert.Contains(t, out, "argus-verify=verify-0123456789abcdef")

	tok.Domain = "localhost:8080"
	out, err = Instructions(tok)
	require.NoError(t, err)
	assert.Contains(t, out, "http://localhost:8080/.well-known/")
	assert.Contains(t, out, "Host:  localhost\n")
}
