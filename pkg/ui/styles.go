package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/argusscan/argus/pkg/finding"
	"github.com/argusscan/argus/pkg/store"
)

// Color palette
var (
	// Brand colors
	Primary   = lipgloss.Color("#2E86AB") // Blue - brand color
	Secondary = lipgloss.Color("#00D4AA") // Cyan/Teal

	// Severity colors (matching OWASP/Nuclei standards)
	Critical = lipgloss.Color("#FF0000") // Bright red
	High     = lipgloss.Color("#FF6B6B") // Red/Orange
	Medium   = lipgloss.Color("#FFD93D") // Yellow
	Low      = lipgloss.Color("#6BCB77") // Green
	Info     = lipgloss.Color("#4D96FF") // Blue

	// Status colors
	Success = lipgloss.Color("#00D26A") // Bright green
	Warning = lipgloss.Color("#FFB800") // Amber
	Error   = lipgloss.Color("#FF3838") // Red
	Muted   = lipgloss.Color("#6B7280") // Gray

	white = lipgloss.Color("#FAFAFA")
	black = lipgloss.Color("#000000")
)

// styles are bound to one renderer so colour handling follows the writer,
// not the process stdout.
type styles struct {
	r *lipgloss.Renderer

	title   lipgloss.Style
	section lipgloss.Style
	label   lipgloss.Style
	value   lipgloss.Style
	muted   lipgloss.Style
	url     lipgloss.Style
	banner  lipgloss.Style
	version lipgloss.Style
	ok      lipgloss.Style
	warn    lipgloss.Style
	fail    lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) *styles {
	return &styles{
		r: r,
		title: r.NewStyle().
			Bold(true).
			Foreground(white).
			Background(Primary).
			Padding(0, 1),
		section: r.NewStyle().
			Foreground(white).
			Bold(true).
			MarginTop(1),
		label: r.NewStyle().
			Foreground(Muted).
			Width(15),
		value:   r.NewStyle().Foreground(white),
		muted:   r.NewStyle().Foreground(Muted),
		url:     r.NewStyle().Foreground(Secondary).Underline(true),
		banner:  r.NewStyle().Foreground(Primary).Bold(true),
		version: r.NewStyle().Foreground(Secondary).Bold(true),
		ok:      r.NewStyle().Foreground(Success).Bold(true),
		warn:    r.NewStyle().Foreground(Warning).Bold(true),
		fail:    r.NewStyle().Foreground(Error).Bold(true),
	}
}

// severity returns the badge style for a severity level.
func (s *styles) severity(sev finding.Severity) lipgloss.Style {
	base := s.r.NewStyle().Bold(true).Padding(0, 1)
	switch sev {
	case finding.Critical:
		return base.Foreground(white).Background(Critical)
	case finding.High:
		return base.Foreground(white).Background(High)
	case finding.Medium:
		return base.Foreground(black).Background(Medium)
	case finding.Low:
		return base.Foreground(black).Background(Low)
	case finding.Info:
		return base.Foreground(white).Background(Info)
	default:
		return base.Foreground(Muted)
	}
}

// status returns the style for a session status.
func (s *styles) status(st store.Status) lipgloss.Style {
	switch st {
	case store.StatusCompleted:
		return s.ok
	case store.StatusAborted:
		return s.warn
	case store.StatusFailed:
		return s.fail
	default:
		return s.value
	}
}
