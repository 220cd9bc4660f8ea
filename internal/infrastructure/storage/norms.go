package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"NormScanner/internal/domain"
)

var normColumns = []string{
	"id", "kind", "number", "year", "status", "source_of_truth",
	"verified_at", "details", "first_seen_at", "summary_text",
}

// GetOrCreateNorm finds the norm for the canonical tuple, creating it in
// PENDING state on first sight. Two-digit and four-digit years of the same
// norm resolve to the same row.
func (s *SQLiteStore) GetOrCreateNorm(ctx context.Context, ref domain.NormRef) (domain.Norm, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Norm{}, false, err
	}
	defer tx.Rollback()

	norm, created, err := s.getOrCreateNormTx(ctx, tx, ref)
	if err != nil {
		return domain.Norm{}, false, err
	}
	return norm, created, tx.Commit()
}

func (s *SQLiteStore) getOrCreateNormTx(ctx context.Context, tx *sql.Tx, ref domain.NormRef) (domain.Norm, bool, error) {
	if ref.Number == "" {
		return domain.Norm{}, false, fmt.Errorf("norm number: %w", domain.ErrInvalidInput)
	}

	query, args, err := s.sb.
		Select(normColumns...).
		From("norms").
		Where(sq.Eq{"kind": string(ref.Kind), "number": ref.Number, "year": yearCandidates(ref.Year)}).
		Limit(1).
		ToSql()
	if err != nil {
		return domain.Norm{}, false, err
	}

	norm, err := scanNorm(tx.QueryRowContext(ctx, query, args...))
	switch {
	case err == nil:
		return norm, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return domain.Norm{}, false, err
	}

	details := map[string]string{"raw_number": ref.RawNumber}
	res, err := tx.ExecContext(ctx, `
INSERT INTO norms (kind, number, year, status, details, first_seen_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		string(ref.Kind), ref.Number, ref.Year, string(domain.StatusPending),
		marshalJSON(details), formatTime(time.Now()),
	)
	if err != nil {
		return domain.Norm{}, false, fmt.Errorf("insert norm: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Norm{}, false, err
	}

	norm, err = s.loadNormTx(ctx, tx, id)
	return norm, true, err
}

// ReplaceDocumentNorms creates any unseen norms and rewrites the document's
// link set in one transaction, so a document's links always mirror the last
// extraction pass.
func (s *SQLiteStore) ReplaceDocumentNorms(ctx context.Context, docID int64, refs []domain.NormRef) ([]domain.Norm, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_norms WHERE document_id = ?`, docID); err != nil {
		return nil, fmt.Errorf("clear links: %w", err)
	}

	var norms []domain.Norm
	for _, ref := range refs {
		norm, _, err := s.getOrCreateNormTx(ctx, tx, ref)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO document_norms (document_id, norm_id) VALUES (?, ?)
ON CONFLICT(document_id, norm_id) DO NOTHING`, docID, norm.ID); err != nil {
			return nil, fmt.Errorf("link norm %d: %w", norm.ID, err)
		}
		norms = append(norms, norm)
	}

	return norms, tx.Commit()
}

// UpdateNormStatus is the only mutation path for a norm's vigencia verdict.
// verified_at is recorded on every probe, successful or not.
func (s *SQLiteStore) UpdateNormStatus(ctx context.Context, normID int64, status domain.NormStatus, truth domain.SourceOfTruth, verifiedAt time.Time, details map[string]string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE norms SET status = ?, source_of_truth = ?, verified_at = ?, details = ?
WHERE id = ?`,
		string(status), string(truth), formatTime(verifiedAt), marshalJSON(details), normID)
	if err != nil {
		return fmt.Errorf("update norm %d: %w", normID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("norm %d: %w", normID, domain.ErrNotFound)
	}
	return nil
}

// ListNormsNeedingVerification returns norms never verified or whose last
// verification is older than minStaleness, oldest first so every invocation
// makes progress.
func (s *SQLiteStore) ListNormsNeedingVerification(ctx context.Context, minStaleness time.Duration, limit int) ([]domain.Norm, error) {
	if limit <= 0 {
		limit = 50
	}
	cutoff := formatTime(time.Now().Add(-minStaleness))

	query, args, err := s.sb.
		Select(normColumns...).
		From("norms").
		Where(sq.Or{
			sq.Eq{"verified_at": nil},
			sq.Lt{"verified_at": cutoff},
		}).
		OrderBy("verified_at IS NOT NULL", "verified_at ASC", "id ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stale norms: %w", err)
	}
	defer rows.Close()

	var norms []domain.Norm
	for rows.Next() {
		norm, err := scanNorm(rows)
		if err != nil {
			return nil, err
		}
		norms = append(norms, norm)
	}
	return norms, rows.Err()
}

// CountNorms returns the total number of norms.
func (s *SQLiteStore) CountNorms(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM norms`).Scan(&count)
	return count, err
}

// ListNormsForDocument returns the norms linked to one document.
func (s *SQLiteStore) ListNormsForDocument(ctx context.Context, docID int64) ([]domain.Norm, error) {
	query, args, err := s.sb.
		Select(prefixed("n.", normColumns)...).
		From("norms n").
		Join("document_norms dn ON dn.norm_id = n.id").
		Where(sq.Eq{"dn.document_id": docID}).
		OrderBy("n.id ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var norms []domain.Norm
	for rows.Next() {
		norm, err := scanNorm(rows)
		if err != nil {
			return nil, err
		}
		norms = append(norms, norm)
	}
	return norms, rows.Err()
}

func (s *SQLiteStore) loadNormTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Norm, error) {
	query, args, err := s.sb.
		Select(normColumns...).
		From("norms").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.Norm{}, err
	}
	return scanNorm(tx.QueryRowContext(ctx, query, args...))
}

func scanNorm(row rowScanner) (domain.Norm, error) {
	var (
		norm        domain.Norm
		kind        string
		status      string
		truth       string
		verifiedAt  sql.NullString
		details     string
		firstSeenAt string
	)
	err := row.Scan(
		&norm.ID, &kind, &norm.Number, &norm.Year, &status, &truth,
		&verifiedAt, &details, &firstSeenAt, &norm.SummaryText,
	)
	if err != nil {
		return domain.Norm{}, err
	}
	norm.Kind = domain.NormKind(kind)
	norm.Status = domain.NormStatus(status)
	norm.SourceOfTruth = domain.SourceOfTruth(truth)
	norm.VerifiedAt = parseNullableTime(verifiedAt)
	norm.Details = unmarshalStringMap(details)
	norm.FirstSeenAt = parseTime(firstSeenAt)
	return norm, nil
}

// yearCandidates lists the years that identify the same norm: the stored
// two-digit and four-digit spellings must resolve to one row.
func yearCandidates(year int) []int {
	if year == 0 {
		return []int{0}
	}
	candidates := []int{year}
	if year >= 100 {
		candidates = append(candidates, year%100)
	} else {
		candidates = append(candidates, expandedYear(year))
	}
	return candidates
}

func expandedYear(y int) int {
	if y < 70 {
		return 2000 + y
	}
	return 1900 + y
}

func prefixed(prefix string, cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = prefix + c
	}
	return out
}
