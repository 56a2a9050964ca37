// Package iohelper reads HTTP bodies without trusting the remote side to
// keep them small.
package iohelper

import (
	"io"
)

// drainLimit bounds how much of an unread body is discarded to keep the
// connection reusable.
const drainLimit = 64 * 1024

// ReadBody reads at most maxSize bytes from r. truncated reports whether
// more data was available. A nil r yields an empty slice.
//
// Usage:
//
//	body, truncated, err := iohelper.ReadBody(resp.Body, defaults.BufferLarge)
//	defer iohelper.DrainAndClose(resp.Body)
func ReadBody(r io.Reader, maxSize int64) ([]byte, bool, error) {
	if r == nil {
		return []byte{}, false, nil
	}
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return data, false, err
	}
	if int64(len(data)) > maxSize {
		return data[:maxSize], true, nil
	}
	return data, false, nil
}

// DrainAndClose discards a bounded remainder of r and closes it if it is a
// ReadCloser. Always returns nil so it can be deferred.
func DrainAndClose(r io.Reader) error {
	if r == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(r, drainLimit))
	if rc, ok := r.(io.ReadCloser); ok {
		rc.Close()
	}
	return nil
}
