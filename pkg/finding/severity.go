package finding

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Severity represents the severity level of a security finding.
// All values are lowercase strings as stored in the database.
type Severity string

const (
	// Critical represents direct exposure of secrets or full compromise.
	Critical Severity = "critical"

	// High represents significant impact requiring prompt fix.
	High Severity = "high"

	// Medium represents moderate impact.
	Medium Severity = "medium"

	// Low represents limited impact.
	Low Severity = "low"

	// Info represents informational findings with no direct security impact.
	Info Severity = "info"
)

// Severities lists every level from highest to lowest.
var Severities = []Severity{Critical, High, Medium, Low, Info}

// IsValid reports whether s is a recognized severity level.
func (s Severity) IsValid() bool {
	switch s {
	case Critical, High, Medium, Low, Info:
		return true
	}
	return false
}

// Score returns a numeric score for sorting and comparison.
// Critical=5, High=4, Medium=3, Low=2, Info=1, Unknown=0.
func (s Severity) Score() int {
	switch s {
	case Critical:
		return 5
	case High:
		return 4
	case Medium:
		return 3
	case Low:
		return 2
	case Info:
		return 1
	default:
		return 0
	}
}

// String returns the severity as a string.
func (s Severity) String() string {
	return string(s)
}

// Title returns the display form, e.g. "Critical".
// A Caser is stateful, so one is built per call.
func (s Severity) Title() string {
	return cases.Title(language.English).String(string(s))
}

// ParseSeverity accepts any letter case. Unknown values map to Info and ok=false.
func ParseSeverity(v string) (Severity, bool) {
	s := Severity(strings.ToLower(strings.TrimSpace(v)))
	if !s.IsValid() {
		return Info, false
	}
	return s, true
}

// Confidence is how sure a check is about a finding.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// IsValid reports whether c is a recognized confidence level.
func (c Confidence) IsValid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// Score returns High=3, Medium=2, Low=1, Unknown=0.
func (c Confidence) Score() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}
