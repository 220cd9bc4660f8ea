// Package browser provides the headless-rendering fetch mode for sources
// whose content materializes via client-side scripts.
package browser

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/chromedp/chromedp"

	"NormScanner/internal/infrastructure/httpclient"
	"NormScanner/internal/ports"
)

// Factory opens one browser session per adapter invocation. Sessions share
// the per-host gate with the plain HTTP client so rendered navigation also
// counts against the rate budget.
type Factory struct {
	execPath string
	timeout  time.Duration
	gate     *httpclient.HostGate
	logger   *slog.Logger
}

var _ ports.RendererFactory = (*Factory)(nil)

// NewFactory configures browser session creation.
func NewFactory(execPath string, timeout time.Duration, gate *httpclient.HostGate, logger *slog.Logger) *Factory {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Factory{execPath: execPath, timeout: timeout, gate: gate, logger: logger}
}

// NewSession allocates a dedicated browser context. The caller must Close it
// before the adapter invocation returns.
func (f *Factory) NewSession(ctx context.Context) (ports.Renderer, error) {
	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	if f.execPath != "" {
		opts = append(opts, chromedp.ExecPath(f.execPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	return &session{
		ctx:     browserCtx,
		cancels: []context.CancelFunc{cancelBrowser, cancelAlloc},
		timeout: f.timeout,
		gate:    f.gate,
		logger:  f.logger,
	}, nil
}

type session struct {
	ctx     context.Context
	cancels []context.CancelFunc
	timeout time.Duration
	gate    *httpclient.HostGate
	logger  *slog.Logger
}

var _ ports.Renderer = (*session)(nil)

// RenderHTML navigates to url, waits for waitSelector to become visible, and
// returns the rendered outer HTML. Failures surface as RENDER_FAILED.
func (s *session) RenderHTML(ctx context.Context, url string, waitSelector string) (string, error) {
	if s.gate != nil {
		if host := hostOf(url); host != "" {
			release, err := s.gate.Acquire(ctx, host)
			if err != nil {
				return "", &httpclient.FetchError{Kind: httpclient.FailTimeout, URL: url, Err: err}
			}
			defer release()
		}
	}

	runCtx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	// Propagate caller cancellation into the browser context.
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	actions := []chromedp.Action{chromedp.Navigate(url)}
	if waitSelector != "" {
		actions = append(actions, chromedp.WaitVisible(waitSelector, chromedp.ByQuery))
	}
	var html string
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if s.logger != nil {
			s.logger.Warn("render failed", "url", url, "error", err)
		}
		return "", &httpclient.FetchError{Kind: httpclient.FailRender, URL: url, Err: err}
	}
	return html, nil
}

// Close releases the browser context and its allocator.
func (s *session) Close() error {
	for _, cancel := range s.cancels {
		cancel()
	}
	return nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
