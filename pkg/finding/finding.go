package finding

import (
	"fmt"
	"strings"
)

// EvidenceType says what kind of artifact backs a finding.
type EvidenceType string

const (
	EvidenceURL    EvidenceType = "url"
	EvidenceHeader EvidenceType = "header"
	EvidenceBody   EvidenceType = "body"
	EvidencePath   EvidenceType = "path"
	EvidenceOther  EvidenceType = "other"
)

// IsValid reports whether t is a recognized evidence type.
func (t EvidenceType) IsValid() bool {
	switch t {
	case EvidenceURL, EvidenceHeader, EvidenceBody, EvidencePath, EvidenceOther:
		return true
	}
	return false
}

// Evidence is the observed artifact supporting a finding.
type Evidence struct {
	Type    EvidenceType `json:"type"`
	Value   string       `json:"value"`
	Context string       `json:"context,omitempty"`
}

// Finding is one observation from one check.
type Finding struct {
	Code              string     `json:"finding_code"`
	Title             string     `json:"title"`
	Severity          Severity   `json:"severity"`
	Confidence        Confidence `json:"confidence"`
	Description       string     `json:"description,omitempty"`
	Evidence          Evidence   `json:"evidence"`
	Recommendation    string     `json:"recommendation,omitempty"`
	References        []string   `json:"references,omitempty"`
	AffectedComponent string     `json:"affected_component,omitempty"`

	// Check names the runner that produced the finding.
	Check string `json:"check,omitempty"`

	// Seq is the insertion order within the scan, assigned by the Aggregator.
	Seq int `json:"seq"`
}

// Key is the deduplication identity of a finding.
func (f Finding) Key() string {
	return f.Code + "\x00" + f.AffectedComponent
}

// Validate checks the fields every stored finding must carry.
func (f Finding) Validate() error {
	if strings.TrimSpace(f.Code) == "" {
		return fmt.Errorf("%w: empty finding code", ErrInvalidFinding)
	}
	if strings.TrimSpace(f.Title) == "" {
		return fmt.Errorf("%w: %s has no title", ErrInvalidFinding, f.Code)
	}
	if !f.Severity.IsValid() {
		return fmt.Errorf("%w: %s severity %q", ErrInvalidFinding, f.Code, f.Severity)
	}
	if !f.Confidence.IsValid() {
		return fmt.Errorf("%w: %s confidence %q", ErrInvalidFinding, f.Code, f.Confidence)
	}
	return nil
}

// normalize fills defaults for optional enum fields.
func (f *Finding) normalize() {
	if !f.Confidence.IsValid() {
		f.Confidence = ConfidenceMedium
	}
	if f.Evidence.Type == "" {
		f.Evidence.Type = EvidenceOther
	}
}

// outranks reports whether f should replace other as the kept duplicate:
// higher severity first, then higher confidence.
func (f Finding) outranks(other Finding) bool {
	if f.Severity.Score() != other.Severity.Score() {
		return f.Severity.Score() > other.Severity.Score()
	}
	return f.Confidence.Score() > other.Confidence.Score()
}
