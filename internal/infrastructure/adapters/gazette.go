// Package adapters contains the source-specific collectors that feed the
// pipeline: official gazette, tax portal, tax API, and news listing.
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

// GazetteCollector walks the gazette's daily index pages, harvests PDF
// links, downloads each one, and extracts its text.
type GazetteCollector struct {
	cfg       config.GazetteConfig
	fetcher   ports.Fetcher
	extractor ports.TextExtractor
	logger    *slog.Logger
}

var _ scanner.Collector = (*GazetteCollector)(nil)

// NewGazetteCollector wires the gazette adapter.
func NewGazetteCollector(cfg config.GazetteConfig, fetcher ports.Fetcher, extractor ports.TextExtractor, logger *slog.Logger) *GazetteCollector {
	return &GazetteCollector{cfg: cfg, fetcher: fetcher, extractor: extractor, logger: logger}
}

func (g *GazetteCollector) Name() string            { return "gazette" }
func (g *GazetteCollector) Kind() domain.SourceKind { return domain.SourceGazette }

// Collect emits one RawDocument per PDF found in the window's index pages.
// Duplicate URLs across days of the window are collapsed.
func (g *GazetteCollector) Collect(ctx context.Context, window domain.Window) ([]domain.RawDocument, error) {
	var (
		results []domain.RawDocument
		seen    = map[string]struct{}{}
		dayErrs int
	)

	for _, day := range window.Days() {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		indexURL := fmt.Sprintf(g.cfg.IndexURLTemplate, day.Format(time.DateOnly))
		links, err := g.harvestLinks(ctx, indexURL)
		if err != nil {
			dayErrs++
			g.logger.Warn("gazette index failed", "day", day.Format(time.DateOnly), "error", err)
			continue
		}

		for _, link := range links {
			if _, dup := seen[link.href]; dup {
				continue
			}
			seen[link.href] = struct{}{}

			doc, err := g.download(ctx, link, day)
			if err != nil {
				g.logger.Warn("gazette pdf failed", "url", link.href, "error", err)
				continue
			}
			results = append(results, doc)
		}
	}

	if dayErrs > 0 && len(results) == 0 {
		return nil, fmt.Errorf("gazette: all %d index pages failed", dayErrs)
	}
	return results, nil
}

type pdfLink struct {
	href  string
	title string
}

func (g *GazetteCollector) harvestLinks(ctx context.Context, indexURL string) ([]pdfLink, error) {
	res, err := g.fetcher.Fetch(ctx, indexURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(res.Body)))
	if err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}

	base, _ := url.Parse(res.FinalURL)
	var links []pdfLink
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if !strings.HasSuffix(strings.ToLower(strings.TrimSpace(href)), ".pdf") {
			return
		}
		links = append(links, pdfLink{
			href:  absoluteURL(base, href),
			title: strings.TrimSpace(sel.Text()),
		})
	})
	return links, nil
}

func (g *GazetteCollector) download(ctx context.Context, link pdfLink, day time.Time) (domain.RawDocument, error) {
	res, err := g.fetcher.Fetch(ctx, link.href)
	if err != nil {
		return domain.RawDocument{}, err
	}

	title := link.title
	if title == "" {
		title = pathTail(link.href)
	}

	text := ""
	if g.extractor != nil {
		text = g.extractor.Extract(ctx, res.Body)
	}

	return domain.RawDocument{
		SourceURL:   link.href,
		Title:       title,
		PublishedOn: day,
		SourceKind:  domain.SourceGazette,
		SourceLabel: g.cfg.Label,
		Blob:        res.Body,
		Text:        text,
		Metadata:    map[string]string{"content_type": res.ContentType},
	}, nil
}

func absoluteURL(base *url.URL, href string) string {
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if parsed.IsAbs() || base == nil {
		return href
	}
	return base.ResolveReference(parsed).String()
}

func pathTail(raw string) string {
	if idx := strings.LastIndex(raw, "/"); idx >= 0 && idx < len(raw)-1 {
		return raw[idx+1:]
	}
	return raw
}
