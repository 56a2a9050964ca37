// Package defaults provides canonical default values for the entire codebase.
// This is the SINGLE SOURCE OF TRUTH for all runtime configuration defaults.
//
// Usage:
//
//	cfg.Threads = defaults.Threads
//	cfg.RateSafe = defaults.RateSafe
//	req.Header.Set("User-Agent", defaults.UserAgent)
//
// DO NOT use hardcoded values like `Threads: 5` anywhere.
// Instead, reference the appropriate constant from this package.
package defaults

// ToolName is the tool identifier stored with every scan.
const ToolName = "argus"

// Version is the current argus version
const Version = "0.3.0"

// UserAgent is sent with every request issued by a check.
const UserAgent = "Argus/" + Version + " (WordPress Security Scanner)"

// ============================================================================
// SCAN MODES
// ============================================================================

const (
	// ModeSafe is the default, non-intrusive mode
	ModeSafe = "safe"

	// ModeAggressive requires verified consent for the target domain
	ModeAggressive = "aggressive"
)

// ============================================================================
// THROUGHPUT AND CONCURRENCY
// ============================================================================
//
// Rates are requests per second shared by every worker of one scan.
// ============================================================================

const (
	// RateSafe is the request ceiling in safe mode (5 req/s)
	RateSafe = 5.0

	// RateAggressive is the request ceiling in aggressive mode (10 req/s)
	RateAggressive = 10.0

	// Threads is the default worker pool size (5)
	Threads = 5

	// ThreadsMax caps the worker pool size (20)
	ThreadsMax = 20

	// UnreachableThreshold is how many consecutive checks may fail to
	// connect before the scan is aborted (3)
	UnreachableThreshold = 3
)

// ============================================================================
// RETRY SETTINGS
// ============================================================================

const (
	// RetryAttempts is the attempt ceiling for transient failures (3)
	RetryAttempts = 3

	// DBBusyAttempts bounds retries of a locked database write (5)
	DBBusyAttempts = 5
)

// ============================================================================
// CONSENT SETTINGS
// ============================================================================

const (
	// TokenPrefix starts every consent token
	TokenPrefix = "verify-"

	// TokenHexLength is the number of hex characters after the prefix (16)
	TokenHexLength = 16

	// WellKnownPath is where the HTTP verification file is served
	WellKnownPath = "/.well-known/"

	// DNSTXTPrefix starts the TXT record proving domain control
	DNSTXTPrefix = "argus-verify="

	// DNSRetries is how many times a TXT lookup is attempted (3)
	DNSRetries = 3

	// MethodHTTP verifies through a well-known file
	MethodHTTP = "http"

	// MethodDNS verifies through a TXT record
	MethodDNS = "dns"
)

// ============================================================================
// BUFFER SIZES
// ============================================================================

const (
	// BufferSmall is for consent files and probes (4KB)
	BufferSmall = 4 * 1024

	// BufferLarge is for HTML pages parsed by checks (1MB)
	BufferLarge = 1024 * 1024
)

// ============================================================================
// CHANNEL SIZES
// ============================================================================

const (
	// ChannelSmall is for typical buffers (100)
	ChannelSmall = 100
)

// ============================================================================
// HTTP CONTENT TYPES
// ============================================================================

const (
	// ContentTypeJSON is application/json
	ContentTypeJSON = "application/json"

	// ContentTypePlain is text/plain
	ContentTypePlain = "text/plain"
)

// ============================================================================
// PATHS
// ============================================================================
//
// Relative to the user's home directory unless overridden by config.
// ============================================================================

const (
	// HomeDir holds config, database, proofs and logs
	HomeDir = ".argus"

	// ConfigFile is the user configuration file name
	ConfigFile = "config.yaml"

	// DatabaseFile is the SQLite database file name
	DatabaseFile = "argus.db"

	// ProofsDir holds consent proof artifacts
	ProofsDir = "consent-proofs"

	// EnvPrefix starts every environment override
	EnvPrefix = "ARGUS_"
)

// ============================================================================
// SERVER SETTINGS
// ============================================================================

const (
	// ServerAddr is the default listen address of `argus serve`
	ServerAddr = "127.0.0.1:8088"

	// ListLimit bounds list queries when no limit is given (50)
	ListLimit = 50
)
