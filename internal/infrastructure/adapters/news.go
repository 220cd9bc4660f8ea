package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"NormScanner/internal/config"
	"NormScanner/internal/domain"
	"NormScanner/internal/ports"
	"NormScanner/internal/scanner"
)

// NewsCollector walks the paginated HTML news listing, stopping when a page
// yields only items older than the window or when maxPages is reached.
type NewsCollector struct {
	cfg     config.NewsConfig
	fetcher ports.Fetcher
	logger  *slog.Logger
}

var _ scanner.Collector = (*NewsCollector)(nil)

// NewNewsCollector wires the news adapter.
func NewNewsCollector(cfg config.NewsConfig, fetcher ports.Fetcher, logger *slog.Logger) *NewsCollector {
	return &NewsCollector{cfg: cfg, fetcher: fetcher, logger: logger}
}

func (n *NewsCollector) Name() string            { return "news" }
func (n *NewsCollector) Kind() domain.SourceKind { return domain.SourceNews }

// Collect emits one RawDocument per listing item inside the window. The body
// text comes from the item's own page when it can be fetched, falling back to
// the listing excerpt.
func (n *NewsCollector) Collect(ctx context.Context, window domain.Window) ([]domain.RawDocument, error) {
	maxPages := n.cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 5
	}
	itemSelector := n.cfg.ItemSelector
	if itemSelector == "" {
		itemSelector = "article"
	}

	var results []domain.RawDocument
	seen := map[string]struct{}{}

	for page := 1; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		pageURL, err := n.pageURL(page)
		if err != nil {
			return nil, err
		}
		res, err := n.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("news: first page: %w", err)
			}
			n.logger.Warn("news page failed", "page", page, "error", err)
			break
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(res.Body)))
		if err != nil {
			return results, fmt.Errorf("news: parse page %d: %w", page, err)
		}

		base, _ := url.Parse(res.FinalURL)
		inWindow, pastWindow := 0, 0

		doc.Find(itemSelector).Each(func(_ int, item *goquery.Selection) {
			raw, ok := n.parseItem(base, item)
			if !ok {
				return
			}
			if raw.PublishedOn.Before(window.Start) {
				pastWindow++
				return
			}
			if !window.Contains(raw.PublishedOn) {
				return
			}
			if _, dup := seen[raw.SourceURL]; dup {
				return
			}
			seen[raw.SourceURL] = struct{}{}
			inWindow++
			results = append(results, raw)
		})

		// Listings are reverse-chronological; a page with no hits and at
		// least one pre-window item means the rest is older still.
		if inWindow == 0 && pastWindow > 0 {
			break
		}
	}

	for i := range results {
		n.attachBody(ctx, &results[i])
	}

	return results, nil
}

func (n *NewsCollector) parseItem(base *url.URL, item *goquery.Selection) (domain.RawDocument, bool) {
	link := item.Find("a[href]").First()
	href, _ := link.Attr("href")
	href = absoluteURL(base, strings.TrimSpace(href))
	if href == "" {
		return domain.RawDocument{}, false
	}

	title := strings.TrimSpace(item.Find("h1, h2, h3").First().Text())
	if title == "" {
		title = strings.TrimSpace(link.Text())
	}
	if title == "" {
		return domain.RawDocument{}, false
	}

	dateText := strings.TrimSpace(item.Find("time").First().AttrOr("datetime", ""))
	if dateText == "" {
		dateText = strings.TrimSpace(item.Find("time, .date").First().Text())
	}
	published, ok := parseBrazilianDate(dateText)
	if !ok {
		return domain.RawDocument{}, false
	}

	excerpt := strings.TrimSpace(item.Find("p, .excerpt").First().Text())

	return domain.RawDocument{
		SourceURL:   href,
		Title:       title,
		PublishedOn: published,
		SourceKind:  domain.SourceNews,
		SourceLabel: n.cfg.Label,
		Text:        excerpt,
	}, true
}

// attachBody fetches the article page and replaces the excerpt with the
// article text when it is longer. Fetch failures keep the excerpt.
func (n *NewsCollector) attachBody(ctx context.Context, raw *domain.RawDocument) {
	res, err := n.fetcher.Fetch(ctx, raw.SourceURL)
	if err != nil {
		n.logger.Warn("news article failed", "url", raw.SourceURL, "error", err)
		return
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(res.Body)))
	if err != nil {
		return
	}

	body := doc.Find("article").First()
	if body.Length() == 0 {
		body = doc.Find("main").First()
	}
	if body.Length() == 0 {
		return
	}
	text := strings.TrimSpace(body.Text())
	if len(text) > len(raw.Text) {
		raw.Text = text
	}
}

func (n *NewsCollector) pageURL(page int) (string, error) {
	u, err := url.Parse(n.cfg.ListURL)
	if err != nil {
		return "", fmt.Errorf("news list url: %w", err)
	}
	if page > 1 {
		q := u.Query()
		q.Set("page", fmt.Sprint(page))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
