package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"NormScanner/internal/config"
	"NormScanner/internal/domain"
	"NormScanner/internal/ports"
	"NormScanner/internal/scanner"
)

// metadata keys the orchestrator uses to persist tax snapshots alongside the
// document row.
const (
	MetaEndpoint      = "endpoint"
	MetaReferenceDate = "reference_date"
	MetaRegionCode    = "region_code"
)

// TaxAPICollector pulls the structured open-data endpoints, one request per
// (endpoint, reference date), fanning out per UF where the endpoint is
// region-scoped.
type TaxAPICollector struct {
	cfg     config.TaxAPIConfig
	fetcher ports.Fetcher
	logger  *slog.Logger
}

var _ scanner.Collector = (*TaxAPICollector)(nil)

// NewTaxAPICollector wires the tax-API adapter.
func NewTaxAPICollector(cfg config.TaxAPIConfig, fetcher ports.Fetcher, logger *slog.Logger) *TaxAPICollector {
	return &TaxAPICollector{cfg: cfg, fetcher: fetcher, logger: logger}
}

func (t *TaxAPICollector) Name() string            { return "tax-api" }
func (t *TaxAPICollector) Kind() domain.SourceKind { return domain.SourceTaxAPI }

// Collect emits one RawDocument per successful pull. The JSON payload rides
// in Text and the snapshot key rides in Metadata; individual pull failures
// are logged and skipped, so a flaky endpoint never sinks the whole source.
func (t *TaxAPICollector) Collect(ctx context.Context, window domain.Window) ([]domain.RawDocument, error) {
	var (
		results  []domain.RawDocument
		failures int
		attempts int
	)

	for _, day := range window.Days() {
		for _, endpoint := range t.cfg.Endpoints {
			for _, region := range t.regionsFor(endpoint) {
				if err := ctx.Err(); err != nil {
					return results, err
				}
				attempts++

				doc, err := t.pull(ctx, endpoint, day, region)
				if err != nil {
					failures++
					t.logger.Warn("tax api pull failed",
						"endpoint", endpoint, "day", day.Format(time.DateOnly), "uf", region, "error", err)
					continue
				}
				results = append(results, doc)
			}
		}
	}

	if attempts > 0 && failures == attempts {
		return nil, fmt.Errorf("tax api: all %d pulls failed", attempts)
	}
	return results, nil
}

// regionsFor returns the UF fan-out for region-scoped endpoints and a single
// empty region otherwise.
func (t *TaxAPICollector) regionsFor(endpoint string) []string {
	if strings.Contains(endpoint, "uf") && len(t.cfg.UFCodes) > 0 {
		return t.cfg.UFCodes
	}
	return []string{""}
}

func (t *TaxAPICollector) pull(ctx context.Context, endpoint string, day time.Time, region string) (domain.RawDocument, error) {
	pullURL, err := t.buildURL(endpoint, day, region)
	if err != nil {
		return domain.RawDocument{}, err
	}

	res, err := t.fetcher.Fetch(ctx, pullURL)
	if err != nil {
		return domain.RawDocument{}, err
	}

	refDate := day.Format(time.DateOnly)
	title := endpoint + " " + refDate
	if region != "" {
		title += " UF " + region
	}

	return domain.RawDocument{
		SourceURL:    pullURL,
		Title:        title,
		PublishedOn:  day,
		SourceKind:   domain.SourceTaxAPI,
		DocumentKind: "tax-data",
		SourceLabel:  "tax-api",
		Text:         string(res.Body),
		Metadata: map[string]string{
			MetaEndpoint:      endpoint,
			MetaReferenceDate: refDate,
			MetaRegionCode:    region,
		},
	}, nil
}

func (t *TaxAPICollector) buildURL(endpoint string, day time.Time, region string) (string, error) {
	base, err := url.Parse(t.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("tax api base url: %w", err)
	}
	ref, err := url.Parse(strings.TrimLeft(endpoint, "/"))
	if err != nil {
		return "", fmt.Errorf("tax api endpoint %q: %w", endpoint, err)
	}

	full := base.ResolveReference(ref)
	q := full.Query()
	q.Set("data", day.Format(time.DateOnly))
	if region != "" {
		q.Set("codigoUf", region)
	}
	full.RawQuery = q.Encode()
	return full.String(), nil
}
