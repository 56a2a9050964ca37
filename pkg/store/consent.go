package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/argusscan/argus/pkg/consent"
)

var _ consent.Repository = (*Store)(nil)

const tokenColumns = `token_id, domain, token, method, created_at, verified_at, expires_at, proof_path`

func scanToken(r rowScanner) (consent.Token, error) {
	var (
		t                consent.Token
		created, expires string
		verified, proof  sql.NullString
	)
	if err := r.Scan(&t.ID, &t.Domain, &t.Value, &t.Method, &created, &verified, &expires, &proof); err != nil {
		return consent.Token{}, err
	}
	var err error
	if t.CreatedAt, err = parseTime(created); err != nil {
		return consent.Token{}, err
	}
	if t.ExpiresAt, err = parseTime(expires); err != nil {
		return consent.Token{}, err
	}
	if t.VerifiedAt, err = parseNullTime(verified); err != nil {
		return consent.Token{}, err
	}
	t.ProofPath = proof.String
	return t, nil
}

// InsertToken stores a new consent token.
func (s *Store) InsertToken(ctx context.Context, tok consent.Token) (consent.Token, error) {
	err := s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO consent_tokens (domain, token, method, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?)`,
			tok.Domain, tok.Value, tok.Method, formatTime(tok.CreatedAt), formatTime(tok.ExpiresAt))
		if err != nil {
			return err
		}
		tok.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return consent.Token{}, fmt.Errorf("store: insert token: %w", err)
	}
	return tok, nil
}

// TokenByValue loads a token by domain and value.
func (s *Store) TokenByValue(ctx context.Context, domain, value string) (consent.Token, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM consent_tokens WHERE domain = ? AND token = ?`, domain, value)
	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return consent.Token{}, consent.ErrTokenNotFound
	}
	return t, err
}

// MarkVerified sets verified_at on a token that has none.
func (s *Store) MarkVerified(ctx context.Context, id int64, method consent.Method, at time.Time, proofPath string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE consent_tokens SET verified_at = ?, method = ?, proof_path = ?
			WHERE token_id = ? AND verified_at IS NULL`,
			formatTime(at), method, nullString(proofPath), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		var exists int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM consent_tokens WHERE token_id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return consent.ErrTokenNotFound
		}
		if err != nil {
			return err
		}
		return consent.ErrAlreadyVerified
	})
}

// LatestVerified returns the most recently verified token of domain.
func (s *Store) LatestVerified(ctx context.Context, domain string) (consent.Token, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+tokenColumns+` FROM consent_tokens
		WHERE domain = ? AND verified_at IS NOT NULL
		ORDER BY verified_at DESC, token_id DESC LIMIT 1`, domain)
	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return consent.Token{}, consent.ErrTokenNotFound
	}
	return t, err
}

// ListTokens returns a domain's tokens, newest first.
func (s *Store) ListTokens(ctx context.Context, domain string) ([]consent.Token, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tokenColumns+` FROM consent_tokens
		WHERE domain = ? ORDER BY created_at DESC, token_id DESC`, domain)
	if err != nil {
		return nil, fmt.Errorf("store: list tokens: %w", err)
	}
	defer rows.Close()

	out := []consent.Token{}
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// IsVerified reports whether domain's most recently verified token is
// unexpired. domain must already be normalised.
func (s *Store) IsVerified(ctx context.Context, domain string) (bool, error) {
	t, err := s.LatestVerified(ctx, domain)
	if errors.Is(err, consent.ErrTokenNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return t.Active(s.now()), nil
}
