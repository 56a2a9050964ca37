package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/argusscan/argus/pkg/defaults"
	"github.com/argusscan/argus/pkg/finding"
	"github.com/argusscan/argus/pkg/jsonutil"
)

const findingColumns = `f.seq, f.finding_code, f.title, f.severity, f.confidence, f.description,
	f.evidence_type, f.evidence_value, f.evidence_context, f.recommendation, f.references_json,
	f.affected_component, f.check_name, f.created_at`

func scanFinding(r rowScanner, extra ...any) (finding.Finding, time.Time, error) {
	var (
		f                                   finding.Finding
		desc, evVal, evCtx, rec, refs, comp sql.NullString
		check                               sql.NullString
		created                             string
	)
	dest := append([]any{
		&f.Seq, &f.Code, &f.Title, &f.Severity, &f.Confidence, &desc,
		&f.Evidence.Type, &evVal, &evCtx, &rec, &refs, &comp, &check, &created,
	}, extra...)
	if err := r.Scan(dest...); err != nil {
		return finding.Finding{}, time.Time{}, err
	}
	f.Description = desc.String
	f.Evidence.Value = evVal.String
	f.Evidence.Context = evCtx.String
	f.Recommendation = rec.String
	f.AffectedComponent = comp.String
	f.Check = check.String
	if refs.Valid && refs.String != "" && refs.String != "null" {
		if err := jsonutil.Unmarshal([]byte(refs.String), &f.References); err != nil {
			return finding.Finding{}, time.Time{}, fmt.Errorf("store: decode references: %w", err)
		}
	}
	at, err := parseTime(created)
	if err != nil {
		return finding.Finding{}, time.Time{}, err
	}
	return f, at, nil
}

// Findings returns a session's findings in the order they were collected.
func (s *Store) Findings(ctx context.Context, id string) ([]finding.Finding, error) {
	if _, err := s.GetSession(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+findingColumns+` FROM findings f WHERE f.scan_id = ? ORDER BY f.seq, f.finding_id`, id)
	if err != nil {
		return nil, fmt.Errorf("store: findings: %w", err)
	}
	defer rows.Close()

	out := []finding.Finding{}
	for rows.Next() {
		f, _, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CriticalFinding is a critical finding with the scan it came from.
type CriticalFinding struct {
	ScanID    string          `json:"scan_id"`
	Domain    string          `json:"domain"`
	TargetURL string          `json:"target_url"`
	CreatedAt time.Time       `json:"created_at"`
	Finding   finding.Finding `json:"finding"`
}

// CriticalFindings returns critical findings across all scans, newest first.
func (s *Store) CriticalFindings(ctx context.Context, limit int) ([]CriticalFinding, error) {
	if limit <= 0 {
		limit = defaults.ListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+findingColumns+`, s.scan_id, s.domain, s.target_url
		FROM findings f JOIN scans s ON s.scan_id = f.scan_id
		WHERE f.severity = ?
		ORDER BY f.created_at DESC, f.finding_id
		LIMIT ?`, finding.Critical, limit)
	if err != nil {
		return nil, fmt.Errorf("store: critical findings: %w", err)
	}
	defer rows.Close()

	out := []CriticalFinding{}
	for rows.Next() {
		var cf CriticalFinding
		f, at, err := scanFinding(rows, &cf.ScanID, &cf.Domain, &cf.TargetURL)
		if err != nil {
			return nil, err
		}
		cf.Finding, cf.CreatedAt = f, at
		out = append(out, cf)
	}
	return out, rows.Err()
}
