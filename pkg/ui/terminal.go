package ui

import (
	"io"
	"os"
	"runtime"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/term"
)

// fdWriter is implemented by *os.File.
type fdWriter interface {
	Fd() uintptr
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(fdWriter)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Width returns the column count of w, or fallback when w is not a
// terminal.
func Width(w io.Writer, fallback int) int {
	f, ok := w.(fdWriter)
	if !ok {
		return fallback
	}
	cols, _, err := term.GetSize(int(f.Fd()))
	if err != nil || cols <= 0 {
		return fallback
	}
	return cols
}

// ColorEnabled reports whether colour escapes should be written to w.
// NO_COLOR (any value) and TERM=dumb disable colour, as does a
// non-terminal writer.
func ColorEnabled(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return IsTerminal(w)
}

// UnicodeTerminal reports whether w can render Unicode glyphs. Returns
// false when output is piped, redirected, TERM is "dumb", or on Windows
// without Windows Terminal.
func UnicodeTerminal(w io.Writer) bool {
	if os.Getenv("TERM") == "dumb" || !IsTerminal(w) {
		return false
	}
	if runtime.GOOS == "windows" {
		// Windows Terminal sets WT_SESSION; legacy conhost does not.
		return os.Getenv("WT_SESSION") != ""
	}
	return true
}

// SanitizeString strips emoji and other multi-byte symbols from s. Latin
// letters are kept.
func SanitizeString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r < 0x80:
			b.WriteByte(s[i])
		case isVariationSelector(r):
		case isSafeForLegacy(r):
			b.WriteRune(r)
		}
		i += size
	}
	return b.String()
}

// isVariationSelector returns true for Unicode variation selectors
// that modify the preceding character's display (e.g., U+FE0F emoji style).
func isVariationSelector(r rune) bool {
	return r >= 0xFE00 && r <= 0xFE0F
}

// isSafeForLegacy returns true for runes that legacy consoles can
// typically render: Latin scripts and Latin-1 punctuation.
func isSafeForLegacy(r rune) bool {
	if r <= 0xFF {
		return true
	}
	return unicode.Is(unicode.Latin, r)
}

// truncate shortens s to max runes, marking the cut with "...".
func truncate(s string, max int) string {
	if max <= 3 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-3]) + "..."
}
