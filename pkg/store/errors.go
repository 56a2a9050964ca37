package store

import (
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrSessionNotFound is returned for an unknown scan_id.
	ErrSessionNotFound = errors.New("store: session not found")
	// ErrAlreadyFinalized is returned when a session is no longer running.
	ErrAlreadyFinalized = errors.New("store: session already finalized")
	// ErrInvalidStatus is returned when finalizing with a non-terminal status.
	ErrInvalidStatus = errors.New("store: invalid status")
	// ErrCorrupt marks a database file that failed its integrity check.
	ErrCorrupt = errors.New("store: database corrupt")
)

func sqliteCode(err error) (int, bool) {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() & 0xff, true
	}
	return 0, false
}

// isBusy reports a lock conflict worth retrying.
func isBusy(err error) bool {
	if code, ok := sqliteCode(err); ok {
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return err != nil && strings.Contains(err.Error(), "database is locked")
}

// isCorrupt reports an unreadable or malformed database file.
func isCorrupt(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCorrupt) {
		return true
	}
	if code, ok := sqliteCode(err); ok && (code == sqlite3.SQLITE_CORRUPT || code == sqlite3.SQLITE_NOTADB) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "file is not a database") ||
		strings.Contains(msg, "database disk image is malformed")
}
