package store

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argusscan/argus/pkg/consent"
	"github.com/argusscan/argus/pkg/finding"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openTest(t *testing.T) (*Store, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "argus.db"), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func sampleFindings() []finding.Finding {
	return []finding.Finding{
		{
			Code:              "ARGUS-WP-030",
			Title:             "Exposed wp-config backup",
			Severity:          finding.Critical,
			Confidence:        finding.ConfidenceHigh,
			AffectedComponent: "/wp-config.php.bak",
			Evidence:          finding.Evidence{Type: finding.EvidenceURL, Value: "https://example.com/wp-config.php.bak"},
			References:        []string{"https://wordpress.org/support/article/hardening-wordpress/"},
			Check:             "files",
		},
		{
			Code:              "ARGUS-WP-050",
			Title:             "Missing security header",
			Severity:          finding.Low,
			Confidence:        finding.ConfidenceHigh,
			AffectedComponent: "X-Frame-Options",
			Evidence:          finding.Evidence{Type: finding.EvidenceHeader, Value: "X-Frame-Options"},
			Check:             "headers",
		},
	}
}

func newSession(t *testing.T, s *Store) Session {
	t.Helper()
	sess, err := s.CreateSession(context.Background(), NewSession{
		Domain: "example.com", TargetURL: "https://example.com", Mode: "safe",
	})
	require.NoError(t, err)
	return sess
}

func TestCreateSession(t *testing.T) {
	t.Parallel()
	s, clock := openTest(t)
	sess := newSession(t, s)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, StatusRunning, sess.Status)

	got, err := s.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "argus", got.Tool)
	assert.True(t, clock.Now().Equal(got.StartedAt))
	assert.Nil(t, got.FinishedAt)
	assert.Nil(t, got.Summary)

	_, err = s.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestFinalizeSession_CommitsFindings(t *testing.T) {
	t.Parallel()
	s, _ := openTest(t)
	ctx := context.Background()
	sess := newSession(t, s)

	require.NoError(t, s.AppendFindings(ctx, sess.ID, sampleFindings()))
	assert.Equal(t, 2, s.Staged(sess.ID))

	stored, err := s.Findings(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, stored, "staged findings are not visible before finalize")

	sum := Summary{Counts: finding.Summarize(sampleFindings()), Requests: 12, ChecksRun: 2}
	require.NoError(t, s.FinalizeSession(ctx, sess.ID, StatusCompleted, sum, ""))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.FinishedAt)
	require.NotNil(t, got.Summary)
	assert.Equal(t, 1, got.Summary.Counts.Critical)
	assert.Equal(t, int64(12), got.Summary.Requests)

	stored, err = s.Findings(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "ARGUS-WP-030", stored[0].Code)
	assert.Equal(t, []string{"https://wordpress.org/support/article/hardening-wordpress/"}, stored[0].References)
	assert.Equal(t, finding.EvidenceHeader, stored[1].Evidence.Type)
	assert.Zero(t, s.Staged(sess.ID))
}

func TestFindings_KeepCollectionOrder(t *testing.T) {
	t.Parallel()
	s, _ := openTest(t)
	ctx := context.Background()
	sess := newSession(t, s)

	agg := finding.NewAggregator()
	require.NoError(t, agg.Collect(finding.Finding{
		Code: "LOW-FIRST", Title: "low", Severity: finding.Low, Confidence: finding.ConfidenceHigh,
	}))
	require.NoError(t, agg.Collect(finding.Finding{
		Code: "CRIT-SECOND", Title: "critical", Severity: finding.Critical, Confidence: finding.ConfidenceHigh,
	}))
	sorted, counts := agg.Finalize()
	require.Equal(t, "CRIT-SECOND", sorted[0].Code, "the scan result is severity ordered")

	require.NoError(t, s.AppendFindings(ctx, sess.ID, sorted))
	require.NoError(t, s.FinalizeSession(ctx, sess.ID, StatusCompleted, Summary{Counts: counts}, ""))

	stored, err := s.Findings(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "LOW-FIRST", stored[0].Code)
	assert.Equal(t, "CRIT-SECOND", stored[1].Code)

	bySeq := map[string]int{}
	for _, f := range sorted {
		bySeq[f.Code] = f.Seq
	}
	for _, f := range stored {
		assert.Equal(t, bySeq[f.Code], f.Seq, "%s keeps its sequence number", f.Code)
	}
}

func TestFindings_NumbersUnsequencedFindings(t *testing.T) {
	t.Parallel()
	s, _ := openTest(t)
	ctx := context.Background()
	sess := newSession(t, s)

	require.NoError(t, s.AppendFindings(ctx, sess.ID, sampleFindings()))
	require.NoError(t, s.FinalizeSession(ctx, sess.ID, StatusCompleted, Summary{}, ""))

	stored, err := s.Findings(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, 1, stored[0].Seq)
	assert.Equal(t, 2, stored[1].Seq)
}

func TestFinalizeSession_Idempotent(t *testing.T) {
	t.Parallel()
	s, _ := openTest(t)
	ctx := context.Background()
	sess := newSession(t, s)

	require.NoError(t, s.AppendFindings(ctx, sess.ID, sampleFindings()))
	require.NoError(t, s.FinalizeSession(ctx, sess.ID, StatusAborted, Summary{}, "target unreachable"))

	err := s.FinalizeSession(ctx, sess.ID, StatusCompleted, Summary{}, "")
	assert.ErrorIs(t, err, ErrAlreadyFinalized)

	err = s.AppendFindings(ctx, sess.ID, sampleFindings())
	assert.ErrorIs(t, err, ErrAlreadyFinalized)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, got.Status)
	assert.Equal(t, "target unreachable", got.ErrorMessage)

	stored, err := s.Findings(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2, "findings must not be written twice")
}

func TestFinalizeSession_Errors(t *testing.T) {
	t.Parallel()
	s, _ := openTest(t)
	ctx := context.Background()
	sess := newSession(t, s)

	assert.ErrorIs(t, s.FinalizeSession(ctx, sess.ID, StatusRunning, Summary{}, ""), ErrInvalidStatus)
	assert.ErrorIs(t, s.FinalizeSession(ctx, "nope", StatusFailed, Summary{}, ""), ErrSessionNotFound)
}

func TestFinalizeSession_InvalidFindingRollsBack(t *testing.T) {
	t.Parallel()
	s, _ := openTest(t)
	ctx := context.Background()
	sess := newSession(t, s)

	bad := sampleFindings()
	bad[1].Severity = "urgent"
	require.NoError(t, s.AppendFindings(ctx, sess.ID, bad))
	require.Error(t, s.FinalizeSession(ctx, sess.ID, StatusCompleted, Summary{}, ""))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status, "a failed finalize leaves the session running")
	stored, err := s.Findings(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestReopenKeepsHistory(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "argus.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	require.NoError(t, err)
	sess := newSession(t, s)
	require.NoError(t, s.AppendFindings(ctx, sess.ID, sampleFindings()))
	require.NoError(t, s.FinalizeSession(ctx, sess.ID, StatusCompleted, Summary{}, ""))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	assert.Empty(t, s.Recovered)
	stored, err := s.Findings(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestOpen_RecoversFromCorruption(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "argus.db")
	garbage := bytes.Repeat([]byte("not an sqlite database "), 512)
	require.NoError(t, os.WriteFile(path, garbage, 0o600))

	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer s.Close()

	require.NotEmpty(t, s.Recovered)
	assert.Contains(t, filepath.Base(s.Recovered), "argus.db.corrupted.")
	backup, err := os.ReadFile(s.Recovered)
	require.NoError(t, err)
	assert.Equal(t, garbage, backup, "the corrupt file is preserved as the backup")

	sess := newSession(t, s)
	require.NoError(t, s.FinalizeSession(context.Background(), sess.ID, StatusCompleted, Summary{}, ""))
}

func TestListSessions(t *testing.T) {
	t.Parallel()
	s, clock := openTest(t)
	ctx := context.Background()

	var ids []string
	for _, d := range []string{"a.example.com", "b.example.com", "a.example.com"} {
		sess, err := s.CreateSession(ctx, NewSession{Domain: d, TargetURL: "https://" + d, Mode: "safe"})
		require.NoError(t, err)
		ids = append(ids, sess.ID)
		clock.Advance(time.Minute)
	}
	require.NoError(t, s.FinalizeSession(ctx, ids[0], StatusFailed, Summary{}, "boom"))

	all, err := s.ListSessions(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID, "newest first")

	byDomain, err := s.ListSessions(ctx, Filter{Domain: "a.example.com"})
	require.NoError(t, err)
	assert.Len(t, byDomain, 2)

	failed, err := s.ListSessions(ctx, Filter{Status: StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "boom", failed[0].ErrorMessage)

	limited, err := s.ListSessions(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestCriticalFindingsAcrossScans(t *testing.T) {
	t.Parallel()
	s, _ := openTest(t)
	ctx := context.Background()

	for range 2 {
		sess := newSession(t, s)
		require.NoError(t, s.AppendFindings(ctx, sess.ID, sampleFindings()))
		require.NoError(t, s.FinalizeSession(ctx, sess.ID, StatusCompleted, Summary{}, ""))
	}
	crit, err := s.CriticalFindings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, crit, 2)
	for _, c := range crit {
		assert.Equal(t, finding.Critical, c.Finding.Severity)
		assert.Equal(t, "example.com", c.Domain)
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	t.Parallel()
	s, _ := openTest(t)
	ctx := context.Background()
	sess := newSession(t, s)
	require.NoError(t, s.AppendFindings(ctx, sess.ID, sampleFindings()))
	require.NoError(t, s.FinalizeSession(ctx, sess.ID, StatusCompleted, Summary{}, ""))

	require.NoError(t, s.DeleteSession(ctx, sess.ID))
	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM findings WHERE scan_id = ?`, sess.ID).Scan(&n))
	assert.Zero(t, n)
	assert.ErrorIs(t, s.DeleteSession(ctx, sess.ID), ErrSessionNotFound)
}

func TestConsentRepository(t *testing.T) {
	t.Parallel()
	s, clock := openTest(t)
	ctx := context.Background()
	now := clock.Now()

	tok, err := s.InsertToken(ctx, consent.Token{
		Domain: "example.com", Value: "verify-0123456789abcdef", Method: consent.MethodHTTP,
		CreatedAt: now, ExpiresAt: now.Add(48 * time.Hour),
	})
	require.NoError(t, err)
	assert.NotZero(t, tok.ID)

	_, err = s.LatestVerified(ctx, "example.com")
	assert.ErrorIs(t, err, consent.ErrTokenNotFound)
	ok, err := s.IsVerified(ctx, "example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.MarkVerified(ctx, tok.ID, consent.MethodDNS, now, "/tmp/proof.txt"))
	assert.ErrorIs(t, s.MarkVerified(ctx, tok.ID, consent.MethodDNS, now, ""), consent.ErrAlreadyVerified)
	assert.ErrorIs(t, s.MarkVerified(ctx, 9999, consent.MethodDNS, now, ""), consent.ErrTokenNotFound)

	got, err := s.TokenByValue(ctx, "example.com", tok.Value)
	require.NoError(t, err)
	require.NotNil(t, got.VerifiedAt)
	assert.Equal(t, consent.MethodDNS, got.Method)
	assert.Equal(t, "/tmp/proof.txt", got.ProofPath)

	ok, err = s.IsVerified(ctx, "example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(48 * time.Hour)
	ok, err = s.IsVerified(ctx, "example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.TokenByValue(ctx, "other.com", tok.Value)
	assert.ErrorIs(t, err, consent.ErrTokenNotFound)
}

func TestConsentStoreOverSQLite(t *testing.T) {
	t.Parallel()
	s, clock := openTest(t)
	cs, err := consent.NewStore(s, consent.WithClock(clock.Now), consent.WithProofsDir(t.TempDir()))
	require.NoError(t, err)

	ctx := context.Background()
	a, err := cs.Generate(ctx, "example.com", consent.MethodHTTP)
	require.NoError(t, err)
	clock.Advance(time.Second)
	b, err := cs.Generate(ctx, "example.com", consent.MethodDNS)
	require.NoError(t, err)

	toks, err := cs.Tokens(ctx, "example.com")
	require.NoError(t, err)
	require.Len(t, toks, 2)
	assert.Equal(t, b.Value, toks[0].Value)
	assert.Equal(t, a.Value, toks[1].Value)
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()
	assert.True(t, isBusy(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, isBusy(errors.New("no such table")))
	assert.True(t, isCorrupt(errors.New("file is not a database (26)")))
	assert.True(t, isCorrupt(ErrCorrupt))
	assert.False(t, isCorrupt(nil))
}

func TestParseStatus(t *testing.T) {
	t.Parallel()
	st, err := ParseStatus("Aborted")
	require.NoError(t, err)
	assert.True(t, st.Terminal())
	assert.False(t, StatusRunning.Terminal())
	_, err = ParseStatus("paused")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}
