package config

import "errors"

// Sentinel errors for configuration failure modes.
// Callers should use errors.Is() to check for these.
var (
	// ErrConfigNotFound is returned when an explicitly named config file
	// does not exist. A missing default file is not an error.
	ErrConfigNotFound = errors.New("config: file not found")

	// ErrInvalidConfig indicates the configuration is syntactically
	// or semantically invalid (bad YAML, out-of-range values, etc.).
	ErrInvalidConfig = errors.New("config: invalid configuration")
)
