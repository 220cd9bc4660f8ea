// Package portal probes the legal portal for a norm's vigencia status. It is
// the only component allowed to answer "is this norm still in force".
package portal

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
	"NormScanner/internal/metrics"
	"NormScanner/internal/normref"
	"NormScanner/internal/ports"
)

const (
	strategyFastPath = "fast-path"
	strategyDirect   = "direct-url"
	strategyRendered = "rendered-search"

	reasonCircuitOpen = "CIRCUIT_OPEN"
)

// kindTerm is the portal's search vocabulary per norm kind.
var kindTerm = map[domain.NormKind]string{
	domain.NormLaw:         "lei",
	domain.NormDecree:      "decreto",
	domain.NormOrder:       "portaria",
	domain.NormResolution:  "resolucao",
	domain.NormInstruction: "instrucao normativa",
	domain.NormOther:       "ato",
}

type strategyFunc func(ctx context.Context, kind domain.NormKind, number string) (domain.ProbeStatus, map[string]string, error)

// Prober classifies norm identities by scraping the portal, memoizing
// answers and short-circuiting through a per-host breaker when the portal
// misbehaves.
type Prober struct {
	cfg       config.PortalConfig
	fetcher   ports.Fetcher
	renderers ports.RendererFactory
	logger    *slog.Logger
	cache     *probeCache
	breaker   *hostBreaker
	host      string
	now       func() time.Time
}

var _ ports.Prober = (*Prober)(nil)

// New wires the prober. renderers may be nil; the rendered strategy is then
// skipped.
func New(cfg config.PortalConfig, fetcher ports.Fetcher, renderers ports.RendererFactory, logger *slog.Logger) *Prober {
	host := ""
	if u, err := url.Parse(cfg.BaseURL); err == nil {
		host = u.Host
	}
	return &Prober{
		cfg:       cfg,
		fetcher:   fetcher,
		renderers: renderers,
		logger:    logger,
		cache:     newProbeCache(time.Now),
		breaker:   newHostBreaker(cfg.BreakerFailures, cfg.BreakerCooldown(), time.Now),
		host:      host,
		now:       time.Now,
	}
}

// Probe runs validation, cache lookup, breaker check and the strategy chain.
// The first definitive classification wins and records which strategy
// produced it. Cancellation never writes the cache.
func (p *Prober) Probe(ctx context.Context, kind domain.NormKind, number string) domain.ProbeResult {
	canonical := normref.Canonicalize(number)

	details := map[string]string{
		"raw_number":       number,
		"canonical_number": canonical,
	}

	if kind == "" || len(canonical) < 3 {
		details["reason"] = "VALIDATION_FAILED"
		return p.finish(kind, canonical, domain.ProbeResult{Status: domain.ProbeIrregular, Details: details}, false)
	}

	if cached, ok := p.cache.get(kind, canonical); ok {
		return cached
	}

	if !p.breaker.Allow(p.host) {
		details["reason"] = reasonCircuitOpen
		return p.finish(kind, canonical, domain.ProbeResult{Status: domain.ProbeError, Details: details}, false)
	}

	strategies := []struct {
		name string
		fn   strategyFunc
	}{
		{strategyFastPath, p.probeFastPath},
		{strategyDirect, p.probeDirectURL},
		{strategyRendered, p.probeRendered},
	}

	for _, s := range strategies {
		if s.name == strategyRendered && p.renderers == nil {
			continue
		}

		status, extra, err := p.runStrategy(ctx, s.fn, kind, canonical)
		if err != nil {
			if ctx.Err() != nil {
				details["reason"] = "CANCELLED"
				return domain.ProbeResult{Status: domain.ProbeError, Details: details, ProbedAt: p.now()}
			}
			p.breaker.Failure(p.host)
			p.logger.Warn("probe strategy failed",
				"strategy", s.name, "kind", kind, "number", canonical, "error", err)
			details["reason"] = "TRANSIENT_IO"
			details["error"] = err.Error()
			details["strategy"] = s.name
			return p.finish(kind, canonical, domain.ProbeResult{Status: domain.ProbeError, Strategy: s.name, Details: details}, true)
		}

		p.breaker.Success(p.host)
		if definitive(status) {
			for k, v := range extra {
				details[k] = v
			}
			details["strategy"] = s.name
			return p.finish(kind, canonical, domain.ProbeResult{Status: status, Strategy: s.name, Details: details}, true)
		}
	}

	details["strategy"] = "exhausted"
	return p.finish(kind, canonical, domain.ProbeResult{Status: domain.ProbeUnknown, Details: details}, true)
}

func (p *Prober) runStrategy(ctx context.Context, fn strategyFunc, kind domain.NormKind, number string) (domain.ProbeStatus, map[string]string, error) {
	timeout := p.cfg.StrategyTimeout()
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx, kind, number)
}

func (p *Prober) finish(kind domain.NormKind, canonical string, result domain.ProbeResult, cache bool) domain.ProbeResult {
	result.ProbedAt = p.now()
	metrics.ProbeResults.WithLabelValues(string(result.Status)).Inc()
	if cache {
		p.cache.put(kind, canonical, result)
	}
	return result
}

// probeFastPath hits the search-backing endpoint once and classifies the
// snippet blocks that mention the number.
func (p *Prober) probeFastPath(ctx context.Context, kind domain.NormKind, number string) (domain.ProbeStatus, map[string]string, error) {
	res, err := p.fetcher.Fetch(ctx, p.searchURL(kind, number))
	if err != nil {
		return domain.ProbeUnknown, nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(res.Body)))
	if err != nil {
		return domain.ProbeUnknown, nil, fmt.Errorf("parse search results: %w", err)
	}

	status := domain.ProbeUnknown
	var snippet string
	doc.Find(".values .value, a.title, .field-snippet .value").Each(func(_ int, sel *goquery.Selection) {
		if definitive(status) {
			return
		}
		text := sel.Text()
		if !strings.Contains(normalizeDigits(text), normalizeDigits(number)) {
			return
		}
		if s := classifyText(text); definitive(s) {
			status = s
			snippet = strings.TrimSpace(text)
		}
	})

	if definitive(status) {
		return status, map[string]string{"snippet": clip(snippet, 300)}, nil
	}
	return domain.ProbeUnknown, nil, nil
}

// probeDirectURL fetches the norm's canonical page and classifies the body.
func (p *Prober) probeDirectURL(ctx context.Context, kind domain.NormKind, number string) (domain.ProbeStatus, map[string]string, error) {
	if p.cfg.NormPathTemplate == "" {
		return domain.ProbeUnknown, nil, nil
	}

	path := fmt.Sprintf(p.cfg.NormPathTemplate, kindTerm[kind], url.PathEscape(strings.ReplaceAll(number, "/", "-")))
	res, err := p.fetcher.Fetch(ctx, strings.TrimRight(p.cfg.BaseURL, "/")+path)
	if err != nil {
		return domain.ProbeUnknown, nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(res.Body)))
	if err != nil {
		return domain.ProbeUnknown, nil, fmt.Errorf("parse norm page: %w", err)
	}

	body := doc.Find("body").Text()
	if s := classifyText(body); definitive(s) {
		return s, map[string]string{"url": res.FinalURL}, nil
	}
	return domain.ProbeUnknown, nil, nil
}

// probeRendered drives the search UI in a headless session and classifies
// the first result's explicit situation field.
func (p *Prober) probeRendered(ctx context.Context, kind domain.NormKind, number string) (domain.ProbeStatus, map[string]string, error) {
	session, err := p.renderers.NewSession(ctx)
	if err != nil {
		return domain.ProbeUnknown, nil, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	html, err := session.RenderHTML(ctx, p.searchURL(kind, number), ".result-item, .no-results")
	if err != nil {
		return domain.ProbeUnknown, nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return domain.ProbeUnknown, nil, fmt.Errorf("parse rendered results: %w", err)
	}

	if doc.Find(".no-results").Length() > 0 {
		return domain.ProbeUnknown, nil, nil
	}

	first := doc.Find(".result-item").First()
	situation := strings.TrimSpace(first.Find(".situacao, .field-situation .value").First().Text())
	if s := classifySituation(situation); definitive(s) {
		return s, map[string]string{"situation": situation}, nil
	}
	return domain.ProbeUnknown, nil, nil
}

// searchURL builds the portal query. Slashes inside the number confuse the
// search backend, so they become spaces; the trailing star widens the match
// to year-suffixed spellings.
func (p *Prober) searchURL(kind domain.NormKind, number string) string {
	query := kindTerm[kind] + " " + strings.ReplaceAll(number, "/", " ") + "*"
	values := url.Values{}
	values.Set("v:project", "Legislacao")
	values.Set("query", query)
	return strings.TrimRight(p.cfg.BaseURL, "/") + p.cfg.SearchPath + "?" + values.Encode()
}

// normalizeDigits strips separators so "21.866" matches "21866" in snippets.
func normalizeDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
