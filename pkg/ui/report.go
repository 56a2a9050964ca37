package ui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/argusscan/argus/pkg/consent"
	"github.com/argusscan/argus/pkg/finding"
	"github.com/argusscan/argus/pkg/store"
)

const timeLayout = "2006-01-02 15:04:05"

// ScanStart prints the scan parameters before the first request.
func (p *Printer) ScanStart(target, mode string, threads int, rate float64) {
	p.Section("Scan")
	p.Field("Target", p.st.url.Render(target))
	p.Field("Mode", mode)
	p.Field("Threads", strconv.Itoa(threads))
	p.Field("Rate", strconv.FormatFloat(rate, 'f', -1, 64)+" req/s")
}

// Session prints a session header and its summary.
func (p *Printer) Session(s store.Session) {
	p.Section("Session " + s.ID)
	p.Field("Target", p.st.url.Render(s.TargetURL))
	p.Field("Mode", s.Mode)
	p.Field("Status", p.st.status(s.Status).Render(string(s.Status)))
	p.Field("Started", s.StartedAt.Local().Format(timeLayout))
	if s.FinishedAt != nil {
		p.Field("Finished", s.FinishedAt.Local().Format(timeLayout))
	}
	if s.ErrorMessage != "" {
		p.Field("Error", p.st.fail.Render(s.ErrorMessage))
	}
	if s.Summary != nil {
		p.Field("Requests", strconv.FormatInt(s.Summary.Requests, 10))
		p.Field("Checks", fmt.Sprintf("%d run, %d failed", s.Summary.ChecksRun, s.Summary.ChecksFailed))
		p.Field("Duration", (time.Duration(s.Summary.DurationMS) * time.Millisecond).String())
		p.Counts(s.Summary.Counts)
	}
}

// Counts prints one badge per severity.
func (p *Printer) Counts(c finding.Summary) {
	var parts []string
	for _, sev := range finding.Severities {
		parts = append(parts, p.st.severity(sev).Render(fmt.Sprintf("%s %d", sev.Title(), c.Count(sev))))
	}
	fmt.Fprintf(p.w, "  %s %s\n", p.st.label.Render("Findings"), strings.Join(parts, " "))
}

// Findings prints one line per finding, highest severity first.
func (p *Printer) Findings(fs []finding.Finding) {
	p.Section(fmt.Sprintf("Findings (%d)", len(fs)))
	if len(fs) == 0 {
		p.Success("no findings")
		return
	}
	sorted := append([]finding.Finding(nil), fs...)
	finding.SortBySeverity(sorted)
	for _, f := range sorted {
		p.finding(f)
	}
}

func (p *Printer) finding(f finding.Finding) {
	badge := p.st.severity(f.Severity).Render(fmt.Sprintf("%-8s", strings.ToUpper(f.Severity.String())))
	title := f.Title
	if f.AffectedComponent != "" {
		title += " (" + f.AffectedComponent + ")"
	}
	// badge and code take roughly 26 columns
	title = truncate(title, p.width-26)
	fmt.Fprintf(p.w, "  %s %s %s\n", badge, p.st.muted.Render(f.Code), title)

	if !p.verbose {
		return
	}
	if f.Description != "" {
		fmt.Fprintf(p.w, "      %s\n", f.Description)
	}
	if f.Evidence.Value != "" {
		fmt.Fprintf(p.w, "      %s %s\n", p.st.muted.Render(string(f.Evidence.Type)+":"), truncate(f.Evidence.Value, p.width-16))
	}
	if f.Recommendation != "" {
		fmt.Fprintf(p.w, "      %s %s\n", p.st.muted.Render("fix:"), f.Recommendation)
	}
}

// Sessions prints a history table.
func (p *Printer) Sessions(list []store.Session) {
	p.Section(fmt.Sprintf("Scans (%d)", len(list)))
	if len(list) == 0 {
		fmt.Fprintln(p.w, p.st.muted.Render("  no scans recorded"))
		return
	}
	for _, s := range list {
		total := "-"
		if s.Summary != nil {
			total = strconv.Itoa(s.Summary.Counts.Total)
		}
		fmt.Fprintf(p.w, "  %s  %-19s  %-10s  %s  %5s  %s\n",
			p.st.muted.Render(s.ID[:min(8, len(s.ID))]),
			s.StartedAt.Local().Format(timeLayout),
			s.Mode,
			p.st.status(s.Status).Render(fmt.Sprintf("%-9s", s.Status)),
			total,
			s.Domain)
	}
}

// CriticalFindings prints critical findings across scans.
func (p *Printer) CriticalFindings(list []store.CriticalFinding) {
	p.Section(fmt.Sprintf("Critical findings (%d)", len(list)))
	if len(list) == 0 {
		p.Success("no critical findings")
		return
	}
	for _, c := range list {
		fmt.Fprintf(p.w, "  %s %s %s\n",
			p.st.muted.Render(c.CreatedAt.Local().Format(timeLayout)),
			p.st.value.Render(c.Domain),
			p.st.muted.Render("scan "+c.ScanID[:min(8, len(c.ScanID))]))
		p.finding(c.Finding)
	}
}

// ConsentStatus prints a domain's consent state and its tokens.
func (p *Printer) ConsentStatus(st consent.Status, now time.Time) {
	p.Section("Consent " + st.Domain)
	if st.Active && st.ExpiresAt != nil {
		left := st.ExpiresAt.Sub(now).Round(time.Minute)
		p.Field("State", p.st.ok.Render("active")+p.st.muted.Render(" (expires in "+left.String()+")"))
	} else {
		p.Field("State", p.st.warn.Render("not active"))
	}
	if len(st.Tokens) == 0 {
		fmt.Fprintln(p.w, p.st.muted.Render("  no tokens generated"))
		return
	}
	title := cases.Title(language.English)
	for _, tv := range st.Tokens {
		stateStyle := p.st.muted
		switch tv.State {
		case consent.StateVerified:
			stateStyle = p.st.ok
		case consent.StatePending:
			stateStyle = p.st.warn
		}
		fmt.Fprintf(p.w, "  %s  %-4s  %s  expires %s\n",
			consent.ShortToken(tv.Token.Value),
			tv.Token.Method,
			stateStyle.Render(fmt.Sprintf("%-8s", title.String(string(tv.State)))),
			tv.Token.ExpiresAt.Local().Format(timeLayout))
	}
}
