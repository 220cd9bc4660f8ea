package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"NormScanner/internal/config"
	"NormScanner/internal/domain"
	"NormScanner/internal/ports"
	"NormScanner/internal/scanner"
)

// TaxPortalCollector scrapes the tax portal's "recent norms" listing. The
// listing is built client-side, so it goes through a headless session rather
// than the plain fetcher. PDFs linked from the cards are downloaded with the
// plain fetcher afterwards.
type TaxPortalCollector struct {
	cfg       config.TaxPortalConfig
	renderers ports.RendererFactory
	fetcher   ports.Fetcher
	extractor ports.TextExtractor
	logger    *slog.Logger
}

var _ scanner.Collector = (*TaxPortalCollector)(nil)

// NewTaxPortalCollector wires the tax-portal adapter.
func NewTaxPortalCollector(cfg config.TaxPortalConfig, renderers ports.RendererFactory, fetcher ports.Fetcher, extractor ports.TextExtractor, logger *slog.Logger) *TaxPortalCollector {
	return &TaxPortalCollector{cfg: cfg, renderers: renderers, fetcher: fetcher, extractor: extractor, logger: logger}
}

func (t *TaxPortalCollector) Name() string            { return "tax-portal" }
func (t *TaxPortalCollector) Kind() domain.SourceKind { return domain.SourceTaxPortal }

// Collect renders the listing once and emits the cards whose publication
// date falls inside the window. Cards without a parseable date are kept;
// dropping them silently would hide new norms.
func (t *TaxPortalCollector) Collect(ctx context.Context, window domain.Window) ([]domain.RawDocument, error) {
	session, err := t.renderers.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("tax portal: open session: %w", err)
	}
	defer session.Close()

	html, err := session.RenderHTML(ctx, t.cfg.RecentURL, t.cfg.WaitSelector)
	if err != nil {
		return nil, fmt.Errorf("tax portal: render listing: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("tax portal: parse listing: %w", err)
	}

	base, _ := url.Parse(t.cfg.RecentURL)
	var results []domain.RawDocument

	doc.Find(t.cfg.CardSelector).Each(func(_ int, card *goquery.Selection) {
		raw, ok := t.parseCard(base, card, window)
		if !ok {
			return
		}
		results = append(results, raw)
	})

	for i := range results {
		t.attachPDF(ctx, &results[i])
	}

	return results, nil
}

func (t *TaxPortalCollector) parseCard(base *url.URL, card *goquery.Selection, window domain.Window) (domain.RawDocument, bool) {
	title := strings.TrimSpace(card.Find("h3, .title, a.title").First().Text())
	if title == "" {
		title = strings.TrimSpace(card.Find("a").First().Text())
	}
	if title == "" {
		return domain.RawDocument{}, false
	}

	href, _ := card.Find("a[href]").First().Attr("href")
	href = absoluteURL(base, strings.TrimSpace(href))
	if href == "" {
		return domain.RawDocument{}, false
	}

	ementa := strings.TrimSpace(card.Find(".ementa, .summary, p").First().Text())
	dateText := strings.TrimSpace(card.Find("time, .date, .published").First().Text())

	published, hasDate := parseBrazilianDate(dateText)
	if hasDate && !window.Contains(published) {
		return domain.RawDocument{}, false
	}
	if !hasDate {
		published = window.End
	}

	return domain.RawDocument{
		SourceURL:   href,
		Title:       title,
		PublishedOn: published,
		SourceKind:  domain.SourceTaxPortal,
		SourceLabel: t.cfg.Label,
		Text:        ementa,
		Metadata:    map[string]string{"ementa": ementa},
	}, true
}

// attachPDF downloads the card target when it is a PDF and swaps the ementa
// text for the full extracted body. Failures keep the ementa.
func (t *TaxPortalCollector) attachPDF(ctx context.Context, raw *domain.RawDocument) {
	if !strings.HasSuffix(strings.ToLower(raw.SourceURL), ".pdf") {
		return
	}
	res, err := t.fetcher.Fetch(ctx, raw.SourceURL)
	if err != nil {
		t.logger.Warn("tax portal pdf failed", "url", raw.SourceURL, "error", err)
		return
	}
	raw.Blob = res.Body
	if t.extractor != nil {
		if text := t.extractor.Extract(ctx, res.Body); text != "" {
			raw.Text = text
		}
	}
}

// parseBrazilianDate accepts the date spellings the portal uses.
func parseBrazilianDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"02/01/2006", "02-01-2006", time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
