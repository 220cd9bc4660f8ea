package httpclient

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// HostGate enforces a process-global token bucket and concurrency cap per
// external host. One instance is shared by the plain fetcher and the prober
// so a host never sees more traffic than configured, whichever component
// generates it.
type HostGate struct {
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	slots    int
	limiters map[string]*rate.Limiter
	sems     map[string]chan struct{}
}

// NewHostGate builds a gate allowing ratePerSec requests (burst allowance)
// and at most slots concurrent requests per host.
func NewHostGate(ratePerSec float64, burst, slots int) *HostGate {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	if burst <= 0 {
		burst = 1
	}
	if slots <= 0 {
		slots = 1
	}
	return &HostGate{
		rate:     rate.Limit(ratePerSec),
		burst:    burst,
		slots:    slots,
		limiters: make(map[string]*rate.Limiter),
		sems:     make(map[string]chan struct{}),
	}
}

// Acquire blocks until the host's bucket grants a token and a concurrency
// slot is free. The returned release func must be called when I/O completes.
func (g *HostGate) Acquire(ctx context.Context, host string) (func(), error) {
	limiter, sem := g.entry(host)

	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return func() { <-sem }, nil
}

func (g *HostGate) entry(host string) (*rate.Limiter, chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()

	limiter, ok := g.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(g.rate, g.burst)
		g.limiters[host] = limiter
	}
	sem, ok := g.sems[host]
	if !ok {
		sem = make(chan struct{}, g.slots)
		g.sems[host] = sem
	}
	return limiter, sem
}
