package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"NormScanner/internal/domain"
	"NormScanner/internal/ports"
)

// ListActiveTerms returns the active vocabulary, highest priority first.
func (s *SQLiteStore) ListActiveTerms(ctx context.Context) ([]domain.MonitoredTerm, error) {
	query, args, err := s.sb.
		Select("id", "term", "match_kind", "variants", "priority", "active").
		From("monitored_terms").
		Where(sq.Eq{"active": 1}).
		OrderBy("priority DESC", "term ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list terms: %w", err)
	}
	defer rows.Close()

	var terms []domain.MonitoredTerm
	for rows.Next() {
		var (
			t        domain.MonitoredTerm
			kind     string
			variants string
			active   int
		)
		if err := rows.Scan(&t.ID, &t.Term, &kind, &variants, &t.Priority, &active); err != nil {
			return nil, err
		}
		t.MatchKind = domain.TermMatchKind(kind)
		t.Variants = unmarshalStringSlice(variants)
		t.Active = active == 1
		terms = append(terms, t)
	}
	return terms, rows.Err()
}

// SeedTerms inserts vocabulary entries that do not exist yet; existing terms
// keep any edits made through other channels.
func (s *SQLiteStore) SeedTerms(ctx context.Context, terms []domain.MonitoredTerm) error {
	for _, t := range terms {
		if t.Term == "" {
			continue
		}
		variants := t.Variants
		if variants == nil {
			variants = []string{}
		}
		active := 0
		if t.Active {
			active = 1
		}
		_, err := s.db.ExecContext(ctx, `
INSERT INTO monitored_terms (term, match_kind, variants, priority, active)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(term) DO NOTHING`,
			t.Term, string(t.MatchKind), marshalJSON(variants), t.Priority, active)
		if err != nil {
			return fmt.Errorf("seed term %q: %w", t.Term, err)
		}
	}
	return nil
}

// SaveTaxSnapshot upserts one (endpoint, reference_date, region) pull.
func (s *SQLiteStore) SaveTaxSnapshot(ctx context.Context, snap domain.TaxSnapshot) (ports.UpsertOutcome, error) {
	refDate := snap.ReferenceDate.UTC().Format(time.DateOnly)

	var existing int
	if err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM tax_snapshots
WHERE endpoint = ? AND reference_date = ? AND region_code = ?`,
		snap.Endpoint, refDate, snap.RegionCode).Scan(&existing); err != nil {
		return "", fmt.Errorf("check tax snapshot: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO tax_snapshots (endpoint, reference_date, region_code, payload, collected_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(endpoint, reference_date, region_code) DO UPDATE SET
	payload = excluded.payload,
	collected_at = excluded.collected_at`,
		snap.Endpoint, refDate, snap.RegionCode, string(snap.Payload), formatTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("save tax snapshot: %w", err)
	}

	if existing > 0 {
		return ports.OutcomeUpdated, nil
	}
	return ports.OutcomeCreated, nil
}

// AppendExecutionLog persists one stage invocation record.
func (s *SQLiteStore) AppendExecutionLog(ctx context.Context, entry domain.ExecutionLog) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO execution_logs (id, stage, status, started_at, ended_at, counters, error_text, trace, detail)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		string(entry.Stage),
		string(entry.Status),
		formatTime(entry.StartedAt),
		formatTime(entry.EndedAt),
		marshalJSON(entry.Counters),
		entry.ErrorText,
		entry.Trace,
		marshalJSON(entry.Detail),
	)
	if err != nil {
		return fmt.Errorf("append execution log: %w", err)
	}
	return nil
}

// ListExecutionLogs returns the most recent stage logs.
func (s *SQLiteStore) ListExecutionLogs(ctx context.Context, limit int) ([]domain.ExecutionLog, error) {
	if limit <= 0 {
		limit = 20
	}
	query, args, err := s.sb.
		Select("id", "stage", "status", "started_at", "ended_at", "counters", "error_text", "trace", "detail").
		From("execution_logs").
		OrderBy("started_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []domain.ExecutionLog
	for rows.Next() {
		var (
			entry     domain.ExecutionLog
			stage     string
			status    string
			startedAt string
			endedAt   string
			counters  string
			detail    string
		)
		if err := rows.Scan(&entry.ID, &stage, &status, &startedAt, &endedAt,
			&counters, &entry.ErrorText, &entry.Trace, &detail); err != nil {
			return nil, err
		}
		entry.Stage = domain.Stage(stage)
		entry.Status = domain.StageStatus(status)
		entry.StartedAt = parseTime(startedAt)
		entry.EndedAt = parseTime(endedAt)
		entry.Counters = unmarshalIntMap(counters)
		entry.Detail = unmarshalStringMap(detail)
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}
