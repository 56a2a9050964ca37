package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/argusscan/argus/pkg/defaults"
	"github.com/argusscan/argus/pkg/finding"
	"github.com/argusscan/argus/pkg/jsonutil"
)

// Status is a session lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// ParseStatus validates a status name.
func ParseStatus(v string) (Status, error) {
	switch s := Status(strings.ToLower(v)); s {
	case StatusRunning, StatusCompleted, StatusFailed, StatusAborted:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, v)
}

// Summary is the persisted scan summary.
type Summary struct {
	Counts       finding.Summary `json:"counts"`
	Requests     int64           `json:"requests"`
	ChecksRun    int             `json:"checks_run"`
	ChecksFailed int             `json:"checks_failed"`
	DurationMS   int64           `json:"duration_ms"`
}

// Session is one scan against one target.
type Session struct {
	ID           string     `json:"scan_id"`
	Tool         string     `json:"tool"`
	Domain       string     `json:"domain"`
	TargetURL    string     `json:"target_url"`
	Mode         string     `json:"mode"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       Status     `json:"status"`
	Summary      *Summary   `json:"summary,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// NewSession describes a session to create.
type NewSession struct {
	Domain    string
	TargetURL string
	Mode      string
}

// CreateSession inserts a running session and returns it.
func (s *Store) CreateSession(ctx context.Context, ns NewSession) (Session, error) {
	sess := Session{
		ID:        uuid.New().String(),
		Tool:      defaults.ToolName,
		Domain:    ns.Domain,
		TargetURL: ns.TargetURL,
		Mode:      ns.Mode,
		StartedAt: s.now().UTC(),
		Status:    StatusRunning,
	}
	err := s.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scans (scan_id, tool, domain, target_url, mode, started_at, status)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.Tool, sess.Domain, sess.TargetURL, sess.Mode, formatTime(sess.StartedAt), sess.Status)
		return err
	})
	if err != nil {
		return Session{}, fmt.Errorf("store: create session: %w", err)
	}
	return sess, nil
}

// AppendFindings stages findings for the session. Nothing is written until
// FinalizeSession commits them together with the terminal status.
func (s *Store) AppendFindings(ctx context.Context, id string, findings []finding.Finding) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return ErrAlreadyFinalized
	}
	s.stage.Lock()
	s.staged[id] = append(s.staged[id], findings...)
	s.stage.Unlock()
	return nil
}

// Staged returns the number of findings waiting for finalize.
func (s *Store) Staged(id string) int {
	s.stage.Lock()
	defer s.stage.Unlock()
	return len(s.staged[id])
}

// FinalizeSession moves a running session to a terminal status and inserts
// its staged findings in one transaction. A second call returns
// ErrAlreadyFinalized and writes nothing.
func (s *Store) FinalizeSession(ctx context.Context, id string, status Status, summary Summary, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: cannot finalize as %q", ErrInvalidStatus, status)
	}
	summaryJSON, err := jsonutil.Marshal(summary)
	if err != nil {
		return fmt.Errorf("store: encode summary: %w", err)
	}

	s.stage.Lock()
	pending := append([]finding.Finding(nil), s.staged[id]...)
	s.stage.Unlock()

	now := s.now().UTC()
	err = s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE scans
			SET status = ?, finished_at = ?, summary_json = ?, error_message = ?
			WHERE scan_id = ? AND status = 'running'`,
			status, formatTime(now), string(summaryJSON), nullString(errMsg), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM scans WHERE scan_id = ?`, id).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrSessionNotFound
			}
			if err != nil {
				return err
			}
			return ErrAlreadyFinalized
		}
		return insertFindings(ctx, tx, id, pending, now)
	})
	if err != nil {
		return err
	}

	s.stage.Lock()
	delete(s.staged, id)
	s.stage.Unlock()
	return nil
}

func insertFindings(ctx context.Context, tx *sql.Tx, scanID string, findings []finding.Finding, at time.Time) error {
	if len(findings) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO findings (scan_id, seq, finding_code, title, severity, confidence, description,
			evidence_type, evidence_value, evidence_context, recommendation, references_json,
			affected_component, check_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	// Findings collected outside an Aggregator carry no Seq; they are
	// numbered after the highest one present, in slice order.
	next := 0
	for _, f := range findings {
		next = max(next, f.Seq)
	}

	created := formatTime(at)
	for _, f := range findings {
		seq := f.Seq
		if seq <= 0 {
			next++
			seq = next
		}
		refs, err := jsonutil.Marshal(f.References)
		if err != nil {
			return fmt.Errorf("store: encode references: %w", err)
		}
		conf := f.Confidence
		if conf == "" {
			conf = finding.ConfidenceMedium
		}
		evType := f.Evidence.Type
		if evType == "" {
			evType = finding.EvidenceOther
		}
		if _, err := stmt.ExecContext(ctx,
			scanID, seq, f.Code, f.Title, f.Severity, conf, nullString(f.Description),
			evType, nullString(f.Evidence.Value), nullString(f.Evidence.Context),
			nullString(f.Recommendation), string(refs), nullString(f.AffectedComponent),
			nullString(f.Check), created,
		); err != nil {
			return fmt.Errorf("store: insert finding %s: %w", f.Code, err)
		}
	}
	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

const sessionColumns = `scan_id, tool, domain, target_url, mode, started_at, finished_at, status, summary_json, error_message`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (Session, error) {
	var (
		sess                 Session
		started              string
		finished, sum, errMs sql.NullString
	)
	if err := r.Scan(&sess.ID, &sess.Tool, &sess.Domain, &sess.TargetURL, &sess.Mode,
		&started, &finished, &sess.Status, &sum, &errMs); err != nil {
		return Session{}, err
	}
	var err error
	if sess.StartedAt, err = parseTime(started); err != nil {
		return Session{}, err
	}
	if sess.FinishedAt, err = parseNullTime(finished); err != nil {
		return Session{}, err
	}
	if sum.Valid && sum.String != "" {
		var summary Summary
		if err := jsonutil.Unmarshal([]byte(sum.String), &summary); err != nil {
			return Session{}, fmt.Errorf("store: decode summary: %w", err)
		}
		sess.Summary = &summary
	}
	sess.ErrorMessage = errMs.String
	return sess, nil
}

// GetSession loads one session.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM scans WHERE scan_id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("store: get session: %w", err)
	}
	return sess, nil
}

// Filter narrows ListSessions. Zero values match everything.
type Filter struct {
	Domain string
	Status Status
	Limit  int
}

// ListSessions returns sessions newest first.
func (s *Store) ListSessions(ctx context.Context, f Filter) ([]Session, error) {
	var (
		where []string
		args  []any
	)
	if f.Domain != "" {
		where = append(where, "domain = ?")
		args = append(args, f.Domain)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	q := `SELECT ` + sessionColumns + ` FROM scans`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaults.ListLimit
	}
	q += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	out := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// DeleteSession removes a session; its findings cascade.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM scans WHERE scan_id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrSessionNotFound
		}
		return nil
	})
}
