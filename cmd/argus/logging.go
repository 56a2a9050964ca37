package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/argusscan/argus/pkg/config"
	"github.com/argusscan/argus/pkg/consent"
)

// secretKeys are attribute keys whose values never reach a log sink intact.
var secretKeys = map[string]bool{
	"token":         true,
	"password":      true,
	"secret":        true,
	"api_key":       true,
	"authorization": true,
}

const redacted = "[REDACTED]"

// redactAttr masks secret attribute values. Consent tokens keep their
// short prefix so log lines stay correlatable.
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	if !secretKeys[key] {
		return a
	}
	if key == "token" && a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, consent.ShortToken(a.Value.String()))
	}
	return slog.String(a.Key, redacted)
}

// newLogger builds the process logger from the logging section. Output goes
// to stderr and, when paths.log_file is set, is appended to that file.
func newLogger(cfg *config.Config, stderr io.Writer) (*slog.Logger, func() error, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, nil, err
	}

	w, closeFn := stderr, func() error { return nil }
	if path := cfg.Paths.LogFile; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, nil, fmt.Errorf("log file: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("log file: %w", err)
		}
		w, closeFn = io.MultiWriter(stderr, f), f.Close
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Redact {
		opts.ReplaceAttr = redactAttr
	}
	var h slog.Handler
	if cfg.Logging.JSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), closeFn, nil
}
