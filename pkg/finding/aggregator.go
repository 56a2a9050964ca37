package finding

import (
	"sort"
	"sync"
)

// Summary tallies deduplicated findings per severity.
type Summary struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
	Total    int `json:"total"`
}

// Count returns the tally for s.
func (s Summary) Count(sev Severity) int {
	switch sev {
	case Critical:
		return s.Critical
	case High:
		return s.High
	case Medium:
		return s.Medium
	case Low:
		return s.Low
	case Info:
		return s.Info
	}
	return 0
}

func (s *Summary) add(sev Severity) {
	switch sev {
	case Critical:
		s.Critical++
	case High:
		s.High++
	case Medium:
		s.Medium++
	case Low:
		s.Low++
	case Info:
		s.Info++
	default:
		return
	}
	s.Total++
}

// Summarize tallies findings without deduplicating them.
func Summarize(findings []Finding) Summary {
	var s Summary
	for _, f := range findings {
		s.add(f.Severity)
	}
	return s
}

// Aggregator collects findings from concurrent workers.
// It holds no network or persistence dependency.
type Aggregator struct {
	mu        sync.Mutex
	byKey     map[string]int
	findings  []Finding
	seq       int
	dropped   int
	finalized bool
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{byKey: make(map[string]int)}
}

// Collect adds findings. Invalid findings are dropped and counted. A
// duplicate on (Code, AffectedComponent) replaces the kept finding only if
// it has higher severity, or equal severity and higher confidence; the kept
// entry retains the insertion sequence of the first occurrence.
func (a *Aggregator) Collect(findings ...Finding) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finalized {
		return ErrFinalized
	}

	for _, f := range findings {
		f.normalize()
		if err := f.Validate(); err != nil {
			a.dropped++
			continue
		}

		key := f.Key()
		if idx, ok := a.byKey[key]; ok {
			if f.outranks(a.findings[idx]) {
				f.Seq = a.findings[idx].Seq
				a.findings[idx] = f
			}
			continue
		}

		a.seq++
		f.Seq = a.seq
		a.byKey[key] = len(a.findings)
		a.findings = append(a.findings, f)
	}
	return nil
}

// Len returns the number of distinct findings collected so far.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.findings)
}

// Dropped returns how many invalid findings were rejected.
func (a *Aggregator) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Snapshot returns the distinct findings collected so far in insertion order.
func (a *Aggregator) Snapshot() []Finding {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Finding, len(a.findings))
	copy(out, a.findings)
	return out
}

// Finalize stops collection and returns the findings sorted by severity
// (critical first), ties broken by insertion sequence, plus the summary.
// Calling it again returns the same result.
func (a *Aggregator) Finalize() ([]Finding, Summary) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.finalized = true
	out := make([]Finding, len(a.findings))
	copy(out, a.findings)
	SortBySeverity(out)
	return out, Summarize(out)
}

// SortBySeverity sorts in place, critical first, then by Seq.
func SortBySeverity(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		si, sj := findings[i].Severity.Score(), findings[j].Severity.Score()
		if si != sj {
			return si > sj
		}
		return findings[i].Seq < findings[j].Seq
	})
}
