// Package duration provides canonical time constants for the entire codebase.
// This is the SINGLE SOURCE OF TRUTH for all time-based configuration.
//
// Usage:
//
//	ctx, cancel := context.WithTimeout(ctx, duration.DBWrite)
//	cfg.Timeout = duration.HTTPScanning
//
// DO NOT use hardcoded time.Duration values like `30 * time.Second` anywhere.
// Instead, reference the appropriate constant from this package.
package duration

import "time"

// ============================================================================
// HTTP CLIENT TIMEOUTS
// ============================================================================

const (
	// HTTPScanning is the per-request timeout used by checks (30s)
	HTTPScanning = 30 * time.Second

	// HTTPVerify is the timeout of one consent verification fetch (10s)
	HTTPVerify = 10 * time.Second
)

// ============================================================================
// RETRY INTERVALS
// ============================================================================

const (
	// RetryFixed is the fixed backoff between attempts of a check request (2s)
	RetryFixed = 2 * time.Second

	// RetryMax caps any computed backoff (30s)
	RetryMax = 30 * time.Second

	// DNSRetry is the delay between TXT lookups while records propagate (2s)
	DNSRetry = 2 * time.Second

	// DBBusy is the base delay before retrying a locked database write (100ms)
	DBBusy = 100 * time.Millisecond
)

// ============================================================================
// CONSENT
// ============================================================================

const (
	// TokenTTL is how long a consent token stays usable after generation (48h)
	TokenTTL = 48 * time.Hour
)

// ============================================================================
// SCAN
// ============================================================================

const (
	// InterruptGrace is how long checks already running may continue after
	// the scan is interrupted (60s)
	InterruptGrace = 60 * time.Second
)

// ============================================================================
// RATE LIMITING
// ============================================================================

const (
	// RateWindow is the rolling window over which the rate ceiling holds (1s)
	RateWindow = 1 * time.Second
)

// ============================================================================
// DATABASE
// ============================================================================

const (
	// DBBusyTimeout is the SQLite busy_timeout pragma value (5s)
	DBBusyTimeout = 5 * time.Second

	// DBWrite bounds one transactional write step (10s)
	DBWrite = 10 * time.Second
)

// ============================================================================
// NETWORK/TRANSPORT
// ============================================================================

const (
	// DialTimeout is for establishing TCP connections (10s)
	DialTimeout = 10 * time.Second

	// KeepAlive is for TCP keep-alive interval (30s)
	KeepAlive = 30 * time.Second

	// IdleConnTimeout is for idle connection pool timeout (90s)
	IdleConnTimeout = 90 * time.Second

	// TLSHandshake is for TLS handshake timeout (10s)
	TLSHandshake = 10 * time.Second

	// DNSTimeout is for one DNS query (3s)
	DNSTimeout = 3 * time.Second
)

// ============================================================================
// SERVER AND TELEMETRY
// ============================================================================

const (
	// ServerRead is the read timeout of the API server (5s)
	ServerRead = 5 * time.Second

	// ServerWrite is the write timeout of the API server (10s)
	ServerWrite = 10 * time.Second

	// ServerShutdown bounds graceful shutdown (5s)
	ServerShutdown = 5 * time.Second

	// TelemetryConnect bounds the OTLP exporter connection (10s)
	TelemetryConnect = 10 * time.Second

	// TelemetryShutdown bounds the final span flush (5s)
	TelemetryShutdown = 5 * time.Second
)
