package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"NormScanner/internal/domain"
	"NormScanner/internal/ports"
)

var documentColumns = []string{
	"id", "title", "published_on", "source_url", "source_kind", "document_kind",
	"source_label", "raw_blob_ref", "blob_released", "raw_text", "summary",
	"is_relevant", "matched_terms", "is_processed", "collected_at", "metadata",
}

// UpsertDocumentByURL inserts the document or refreshes its source fields
// when the URL is already known. Processing state (raw_text once set,
// is_processed, relevance) survives re-ingestion so re-runs stay idempotent.
func (s *SQLiteStore) UpsertDocumentByURL(ctx context.Context, raw domain.RawDocument) (domain.Document, ports.UpsertOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var existingID int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM documents WHERE source_url = ?`, raw.SourceURL).Scan(&existingID)

	outcome := ports.OutcomeUpdated
	switch {
	case errors.Is(err, sql.ErrNoRows):
		outcome = ports.OutcomeCreated
		res, insErr := tx.ExecContext(ctx, `
INSERT INTO documents
	(title, published_on, source_url, source_kind, document_kind, source_label,
	 raw_blob_ref, raw_text, collected_at, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			raw.Title,
			formatTime(raw.PublishedOn),
			raw.SourceURL,
			string(raw.SourceKind),
			raw.DocumentKind,
			raw.SourceLabel,
			raw.BlobRef,
			raw.Text,
			formatTime(time.Now()),
			marshalJSON(raw.Metadata),
		)
		if insErr != nil {
			return domain.Document{}, "", fmt.Errorf("insert document: %w", insErr)
		}
		existingID, err = res.LastInsertId()
		if err != nil {
			return domain.Document{}, "", err
		}
	case err != nil:
		return domain.Document{}, "", fmt.Errorf("lookup document: %w", err)
	default:
		_, updErr := tx.ExecContext(ctx, `
UPDATE documents SET
	title = ?,
	published_on = ?,
	document_kind = ?,
	source_label = ?,
	raw_blob_ref = CASE WHEN ? != '' THEN ? ELSE raw_blob_ref END,
	raw_text = CASE WHEN raw_text = '' THEN ? ELSE raw_text END,
	metadata = ?
WHERE id = ?`,
			raw.Title,
			formatTime(raw.PublishedOn),
			raw.DocumentKind,
			raw.SourceLabel,
			raw.BlobRef, raw.BlobRef,
			raw.Text,
			marshalJSON(raw.Metadata),
			existingID,
		)
		if updErr != nil {
			return domain.Document{}, "", fmt.Errorf("update document: %w", updErr)
		}
	}

	doc, err := s.loadDocumentTx(ctx, tx, existingID)
	if err != nil {
		return domain.Document{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, "", err
	}
	return doc, outcome, nil
}

// MarkDocumentProcessed flips the processed flag.
func (s *SQLiteStore) MarkDocumentProcessed(ctx context.Context, docID int64) error {
	return s.execDocumentUpdate(ctx, docID,
		sq.Update("documents").Set("is_processed", 1).Where(sq.Eq{"id": docID}))
}

// SetDocumentRelevance records the filter verdict and the matched terms.
func (s *SQLiteStore) SetDocumentRelevance(ctx context.Context, docID int64, relevant bool, matched []string) error {
	value := 0
	if relevant {
		value = 1
	}
	if matched == nil {
		matched = []string{}
	}
	return s.execDocumentUpdate(ctx, docID,
		sq.Update("documents").
			Set("is_relevant", value).
			Set("matched_terms", marshalJSON(matched)).
			Where(sq.Eq{"id": docID}))
}

// UpdateDocumentText stores the extracted text.
func (s *SQLiteStore) UpdateDocumentText(ctx context.Context, docID int64, text string) error {
	return s.execDocumentUpdate(ctx, docID,
		sq.Update("documents").Set("raw_text", text).Where(sq.Eq{"id": docID}))
}

// UpdateDocumentSummary stores the enrichment summary.
func (s *SQLiteStore) UpdateDocumentSummary(ctx context.Context, docID int64, summary string) error {
	return s.execDocumentUpdate(ctx, docID,
		sq.Update("documents").Set("summary", summary).Where(sq.Eq{"id": docID}))
}

// ReleaseBlob clears the blob handle, leaving a tombstone flag behind.
func (s *SQLiteStore) ReleaseBlob(ctx context.Context, docID int64) error {
	return s.execDocumentUpdate(ctx, docID,
		sq.Update("documents").
			Set("raw_blob_ref", "").
			Set("blob_released", 1).
			Where(sq.Eq{"id": docID}))
}

// ListPendingDocuments returns unprocessed documents, oldest first.
func (s *SQLiteStore) ListPendingDocuments(ctx context.Context, limit int) ([]domain.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	query, args, err := s.sb.
		Select(documentColumns...).
		From("documents").
		Where(sq.Eq{"is_processed": 0}).
		OrderBy("collected_at ASC", "id ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStore) CountDocuments(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

func (s *SQLiteStore) execDocumentUpdate(ctx context.Context, docID int64, builder sq.UpdateBuilder) error {
	query, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update document %d: %w", docID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("document %d: %w", docID, domain.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (domain.Document, error) {
	var (
		doc          domain.Document
		publishedOn  string
		sourceKind   string
		isRelevant   sql.NullInt64
		matchedTerms string
		isProcessed  int
		blobReleased int
		collectedAt  string
		metadata     string
	)
	err := row.Scan(
		&doc.ID, &doc.Title, &publishedOn, &doc.SourceURL, &sourceKind,
		&doc.DocumentKind, &doc.SourceLabel, &doc.RawBlobRef, &blobReleased,
		&doc.RawText, &doc.Summary, &isRelevant, &matchedTerms, &isProcessed,
		&collectedAt, &metadata,
	)
	if err != nil {
		return domain.Document{}, fmt.Errorf("scan document: %w", err)
	}
	doc.PublishedOn = parseTime(publishedOn)
	doc.SourceKind = domain.SourceKind(sourceKind)
	doc.BlobReleased = blobReleased == 1
	doc.IsProcessed = isProcessed == 1
	doc.CollectedAt = parseTime(collectedAt)
	doc.Metadata = unmarshalStringMap(metadata)
	if isRelevant.Valid {
		doc.IsRelevant = domain.BoolPtr(isRelevant.Int64 == 1)
	}
	doc.MatchedTerms = unmarshalStringSlice(matchedTerms)
	return doc, nil
}

func (s *SQLiteStore) loadDocumentTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Document, error) {
	query, args, err := s.sb.
		Select(documentColumns...).
		From("documents").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.Document{}, err
	}
	return scanDocument(tx.QueryRowContext(ctx, query, args...))
}
