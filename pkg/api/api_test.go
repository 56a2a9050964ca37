package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argusscan/argus/pkg/consent"
	"github.com/argusscan/argus/pkg/finding"
	"github.com/argusscan/argus/pkg/metrics"
	"github.com/argusscan/argus/pkg/store"
)

type fixture struct {
	st      *store.Store
	consent *consent.Store
	handler http.Handler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "argus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cs, err := consent.NewStore(st, consent.WithProofsDir(t.TempDir()))
	require.NoError(t, err)

	return &fixture{st: st, consent: cs, handler: New(st, cs, opts...).Routes()}
}

// scan records a finished session with fs.
func (f *fixture) scan(t *testing.T, domain string, status store.Status, fs ...finding.Finding) store.Session {
	t.Helper()
	ctx := context.Background()
	sess, err := f.st.CreateSession(ctx, store.NewSession{Domain: domain, TargetURL: "https://" + domain, Mode: "safe"})
	require.NoError(t, err)
	require.NoError(t, f.st.AppendFindings(ctx, sess.ID, fs))
	require.NoError(t, f.st.FinalizeSession(ctx, sess.ID, status, store.Summary{Counts: finding.Summarize(fs)}, ""))
	return sess
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func fnd(code string, sev finding.Severity) finding.Finding {
	return finding.Finding{Code: code, Title: "t " + code, Severity: sev, Confidence: finding.ConfidenceHigh}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	rec := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestListScans(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.scan(t, "example.com", store.StatusCompleted, fnd("A", finding.Low))
	f.scan(t, "other.org", store.StatusAborted)

	rec := f.get(t, "/api/v1/scans")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var all scanList
	decode(t, rec, &all)
	assert.Equal(t, 2, all.Count)

	rec = f.get(t, "/api/v1/scans?domain=HTTPS://Example.com/&status=completed")
	require.Equal(t, http.StatusOK, rec.Code)
	var filtered scanList
	decode(t, rec, &filtered)
	require.Equal(t, 1, filtered.Count)
	assert.Equal(t, "example.com", filtered.Scans[0].Domain)
}

func TestListScans_BadQuery(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	for _, q := range []string{"status=paused", "limit=0", "limit=abc", "domain=com"} {
		rec := f.get(t, "/api/v1/scans?"+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)

		var body errorResponse
		decode(t, rec, &body)
		assert.NotEmpty(t, body.Error, q)
	}
}

func TestGetScan(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sess := f.scan(t, "example.com", store.StatusCompleted, fnd("A", finding.High))

	rec := f.get(t, "/api/v1/scans/"+sess.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	var got store.Session
	decode(t, rec, &got)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, store.StatusCompleted, got.Status)
	require.NotNil(t, got.Summary)
	assert.Equal(t, 1, got.Summary.Counts.High)

	rec = f.get(t, "/api/v1/scans/does-not-exist")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScanFindings(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sess := f.scan(t, "example.com", store.StatusCompleted,
		fnd("A", finding.Critical), fnd("B", finding.Medium), fnd("C", finding.Info))

	rec := f.get(t, "/api/v1/scans/"+sess.ID+"/findings")
	require.Equal(t, http.StatusOK, rec.Code)
	var all findingList
	decode(t, rec, &all)
	assert.Len(t, all.Findings, 3)
	assert.Equal(t, 3, all.Summary.Total)

	rec = f.get(t, "/api/v1/scans/"+sess.ID+"/findings?severity=MEDIUM")
	require.Equal(t, http.StatusOK, rec.Code)
	var some findingList
	decode(t, rec, &some)
	require.Len(t, some.Findings, 2)
	assert.Equal(t, 1, some.Summary.Critical)
	assert.Equal(t, 1, some.Summary.Medium)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/v1/scans/"+sess.ID+"/findings?severity=urgent").Code)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/v1/scans/nope/findings").Code)
}

func TestCriticalFindings(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.scan(t, "example.com", store.StatusCompleted, fnd("A", finding.Critical), fnd("B", finding.Low))
	f.scan(t, "other.org", store.StatusCompleted, fnd("C", finding.Critical))

	rec := f.get(t, "/api/v1/findings/critical")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Findings []store.CriticalFinding `json:"findings"`
		Count    int                     `json:"count"`
	}
	decode(t, rec, &body)
	assert.Equal(t, 2, body.Count)
	for _, c := range body.Findings {
		assert.Equal(t, finding.Critical, c.Finding.Severity)
	}
}

func TestConsentStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	tok, err := f.consent.Generate(context.Background(), "example.com", consent.MethodHTTP)
	require.NoError(t, err)

	rec := f.get(t, "/api/v1/consent/Example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), tok.Value, "full token values are not served")

	var st consent.Status
	decode(t, rec, &st)
	assert.Equal(t, "example.com", st.Domain)
	assert.False(t, st.Active)
	require.Len(t, st.Tokens, 1)
	assert.Equal(t, consent.StatePending, st.Tokens[0].State)
	assert.True(t, strings.HasPrefix(tok.Value, strings.TrimSuffix(st.Tokens[0].Token.Value, "...")))

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/v1/consent/not_a_domain").Code)
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()
	m, err := metrics.New()
	require.NoError(t, err)
	m.ScanStarted()

	f := newFixture(t, WithMetrics(m.Handler()))
	rec := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "argus_scans_active 1")

	bare := newFixture(t)
	assert.Equal(t, http.StatusNotFound, bare.get(t, "/metrics").Code)
}

func TestWritesAreNotRouted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/scans", strings.NewReader("{}")))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// failing fails every store call.
type failing struct{}

var errDB = errors.New("disk I/O error")

func (failing) GetSession(context.Context, string) (store.Session, error) { return store.Session{}, errDB }
func (failing) ListSessions(context.Context, store.Filter) ([]store.Session, error) {
	return nil, errDB
}
func (failing) Findings(context.Context, string) ([]finding.Finding, error) { return nil, errDB }
func (failing) CriticalFindings(context.Context, int) ([]store.CriticalFinding, error) {
	return nil, errDB
}

func TestStoreErrors(t *testing.T) {
	t.Parallel()
	h := New(failing{}, nil, WithTimeout(time.Second)).Routes()
	for _, path := range []string{"/api/v1/scans", "/api/v1/scans/x", "/api/v1/findings/critical"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/consent/example.com", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "consent routes need a consent store")
}
