package finding

import "errors"

// Sentinel errors for finding handling.
// Callers should use errors.Is() to check for these.
var (
	// ErrInvalidFinding indicates a finding is missing required fields or
	// carries an unknown severity or confidence.
	ErrInvalidFinding = errors.New("finding: invalid finding")

	// ErrFinalized indicates Collect was called after Finalize.
	ErrFinalized = errors.New("finding: aggregator already finalized")
)
