package finding

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mk(code, component string, sev Severity, conf Confidence) Finding {
	return Finding{
		Code:              code,
		Title:             code + " title",
		Severity:          sev,
		Confidence:        conf,
		AffectedComponent: component,
		Evidence:          Evidence{Type: EvidenceURL, Value: "https://example.com/"},
	}
}

func TestAggregator_DedupKeepsHigherSeverity(t *testing.T) {
	t.Parallel()

	for _, order := range [][]Severity{{High, Critical}, {Critical, High}} {
		agg := NewAggregator()
		require.NoError(t, agg.Collect(mk("ARGUS-WP-030", "wp-config.php", order[0], ConfidenceHigh)))
		require.NoError(t, agg.Collect(mk("ARGUS-WP-030", "wp-config.php", order[1], ConfidenceHigh)))

		out, summary := agg.Finalize()
		require.Len(t, out, 1)
		assert.Equal(t, Critical, out[0].Severity)
		assert.Equal(t, 1, summary.Critical)
		assert.Equal(t, 0, summary.High)
		assert.Equal(t, 1, summary.Total)
	}
}

func TestAggregator_DedupTieBreaksOnConfidence(t *testing.T) {
	t.Parallel()
	agg := NewAggregator()
	low := mk("ARGUS-WP-050", "X-Frame-Options", Medium, ConfidenceLow)
	low.Title = "kept if nothing better"
	high := mk("ARGUS-WP-050", "X-Frame-Options", Medium, ConfidenceHigh)
	high.Title = "better"
	require.NoError(t, agg.Collect(low, high, mk("ARGUS-WP-050", "X-Frame-Options", Medium, ConfidenceMedium)))

	out, _ := agg.Finalize()
	require.Len(t, out, 1)
	assert.Equal(t, "better", out[0].Title)
	assert.Equal(t, ConfidenceHigh, out[0].Confidence)
	assert.Equal(t, 1, out[0].Seq, "replacement keeps the first insertion slot")
}

func TestAggregator_DifferentComponentsAreDistinct(t *testing.T) {
	t.Parallel()
	agg := NewAggregator()
	require.NoError(t, agg.Collect(
		mk("ARGUS-WP-050", "X-Frame-Options", Medium, ConfidenceHigh),
		mk("ARGUS-WP-050", "Content-Security-Policy", Medium, ConfidenceHigh),
		mk("ARGUS-WP-050", "", Medium, ConfidenceHigh),
	))
	assert.Equal(t, 3, agg.Len())
}

func TestAggregator_SortsBySeverityThenSequence(t *testing.T) {
	t.Parallel()
	agg := NewAggregator()
	require.NoError(t, agg.Collect(
		mk("A", "", Low, ConfidenceHigh),
		mk("B", "", Critical, ConfidenceHigh),
		mk("C", "", Low, ConfidenceHigh),
		mk("D", "", Info, ConfidenceHigh),
		mk("E", "", High, ConfidenceHigh),
	))

	out, summary := agg.Finalize()
	var codes []string
	for _, f := range out {
		codes = append(codes, f.Code)
	}
	assert.Equal(t, []string{"B", "E", "A", "C", "D"}, codes)
	assert.Equal(t, Summary{Critical: 1, High: 1, Low: 2, Info: 1, Total: 5}, summary)
}

func TestAggregator_DropsInvalid(t *testing.T) {
	t.Parallel()
	agg := NewAggregator()
	bad := mk("", "", High, ConfidenceHigh)
	unknown := mk("X", "", Severity("severe"), ConfidenceHigh)
	noConf := mk("Y", "", Low, "")
	require.NoError(t, agg.Collect(bad, unknown, noConf))

	assert.Equal(t, 2, agg.Dropped())
	out, _ := agg.Finalize()
	require.Len(t, out, 1)
	assert.Equal(t, ConfidenceMedium, out[0].Confidence, "missing confidence defaults to medium")
}

func TestAggregator_CollectAfterFinalize(t *testing.T) {
	t.Parallel()
	agg := NewAggregator()
	agg.Finalize()
	assert.ErrorIs(t, agg.Collect(mk("A", "", Low, ConfidenceLow)), ErrFinalized)
}

func TestAggregator_FinalizeTwiceIsStable(t *testing.T) {
	t.Parallel()
	agg := NewAggregator()
	require.NoError(t, agg.Collect(mk("A", "", Low, ConfidenceLow), mk("B", "", High, ConfidenceLow)))
	first, s1 := agg.Finalize()
	second, s2 := agg.Finalize()
	assert.Equal(t, first, second)
	assert.Equal(t, s1, s2)
}

func TestAggregator_ConcurrentCollect(t *testing.T) {
	t.Parallel()
	agg := NewAggregator()

	const workers = 10
	const perWorker = 100
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				// half the codes collide across workers
				code := fmt.Sprintf("C-%d", i)
				if i%2 == 0 {
					code = fmt.Sprintf("W%d-%d", id, i)
				}
				_ = agg.Collect(mk(code, "", Medium, ConfidenceMedium))
			}
		}(w)
	}
	wg.Wait()

	out, summary := agg.Finalize()
	assert.Len(t, out, workers*perWorker/2+perWorker/2)
	assert.Equal(t, len(out), summary.Medium)

	seen := make(map[int]bool)
	for _, f := range out {
		assert.False(t, seen[f.Seq], "duplicate sequence %d", f.Seq)
		seen[f.Seq] = true
	}
}

func TestSummaryCount(t *testing.T) {
	t.Parallel()
	s := Summarize([]Finding{{Severity: Critical}, {Severity: Critical}, {Severity: Info}, {Severity: "bogus"}})
	assert.Equal(t, 2, s.Count(Critical))
	assert.Equal(t, 1, s.Count(Info))
	assert.Equal(t, 3, s.Total)
}
