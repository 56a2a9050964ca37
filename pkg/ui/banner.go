// Package ui renders scan results, history and consent status for a
// terminal. Colour follows the destination writer: NO_COLOR, TERM=dumb and
// non-terminal writers get plain text.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/argusscan/argus/pkg/defaults"
)

// Version information - these can be overridden at build time via ldflags:
// go build -ldflags "-X github.com/argusscan/argus/pkg/ui.Commit=abc123"
var (
	Version = defaults.Version
	Commit  = "dev"
)

// ASCII art banner
const bannerArt = `
    __ _ _ __ __ _ _   _ ___
   / _' | '__/ _' | | | / __|
  | (_| | | | (_| | |_| \__ \
   \__,_|_|  \__, |\__,_|___/
             |___/`

// Printer writes human output to one writer.
type Printer struct {
	w       io.Writer
	st      *styles
	width   int
	unicode bool
	verbose bool
}

// Option configures a Printer.
type Option func(*Printer)

// WithColor forces colour on or off, overriding detection.
func WithColor(on bool) Option {
	return func(p *Printer) {
		if on {
			p.st.r.SetColorProfile(termenv.TrueColor)
		} else {
			p.st.r.SetColorProfile(termenv.Ascii)
		}
	}
}

// WithVerbose prints finding descriptions and evidence.
func WithVerbose(v bool) Option {
	return func(p *Printer) { p.verbose = v }
}

// WithWidth overrides the detected terminal width.
func WithWidth(cols int) Option {
	return func(p *Printer) {
		if cols > 0 {
			p.width = cols
		}
	}
}

// NewPrinter creates a Printer for w.
func NewPrinter(w io.Writer, opts ...Option) *Printer {
	r := lipgloss.NewRenderer(w)
	if !ColorEnabled(w) {
		r.SetColorProfile(termenv.Ascii)
	}
	p := &Printer{
		w:       w,
		st:      newStyles(r),
		width:   Width(w, 100),
		unicode: UnicodeTerminal(w),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Icon returns unicode when the terminal supports it, ascii otherwise.
func (p *Printer) Icon(unicode, ascii string) string {
	if p.unicode {
		return unicode
	}
	return ascii
}

// Banner prints the application banner.
func (p *Printer) Banner() {
	for _, line := range strings.Split(strings.TrimPrefix(bannerArt, "\n"), "\n") {
		fmt.Fprintln(p.w, p.st.banner.Render(line))
	}
	fmt.Fprintf(p.w, "   %s  %s\n\n",
		p.st.version.Render("v"+Version),
		p.st.muted.Render("consent-gated WordPress scanner"))
}

// Section prints a section heading.
func (p *Printer) Section(title string) {
	fmt.Fprintln(p.w, p.st.section.Render(title))
}

// Field prints one aligned label/value line.
func (p *Printer) Field(label, value string) {
	fmt.Fprintf(p.w, "  %s %s\n", p.st.label.Render(label), p.st.value.Render(value))
}

// Success prints a success line.
func (p *Printer) Success(msg string) {
	fmt.Fprintf(p.w, "%s %s\n", p.st.ok.Render(p.Icon("✔", "[+]")), msg)
}

// Warn prints a warning line.
func (p *Printer) Warn(msg string) {
	fmt.Fprintf(p.w, "%s %s\n", p.st.warn.Render(p.Icon("⚠", "[!]")), msg)
}

// Error prints an error line.
func (p *Printer) Error(msg string) {
	fmt.Fprintf(p.w, "%s %s\n", p.st.fail.Render(p.Icon("✘", "[x]")), msg)
}

// Text prints s unstyled, stripped of glyphs the terminal cannot show.
func (p *Printer) Text(s string) {
	if !p.unicode {
		s = SanitizeString(s)
	}
	fmt.Fprintln(p.w, s)
}
