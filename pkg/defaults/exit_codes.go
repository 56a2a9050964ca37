package defaults

// Exit codes for the CLI.
const (
	ExitSuccess     = 0   // Scan completed
	ExitError       = 1   // Technical error (network, database, consent, config)
	ExitNotInScope  = 2   // Target not recognized as WordPress, scan aborted early
	ExitInterrupted = 130 // Cancelled by SIGINT/SIGTERM
)
