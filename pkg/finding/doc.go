// Package finding defines the observation model shared by checks, the
// orchestrator and the store.
//
// A Finding is produced by one check run against one target. The
// Aggregator collects findings from concurrent workers, removes duplicates
// on (Code, AffectedComponent) and returns them ranked by severity together
// with per-severity counts.
//
// Usage:
//
//	agg := finding.NewAggregator()
//	agg.Collect(results...)          // safe from many goroutines
//	sorted, summary := agg.Finalize()
package finding
