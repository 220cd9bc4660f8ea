package httpclient

import (
	"fmt"
	"time"
)

// FailKind is the typed failure taxonomy for fetches.
type FailKind string

const (
	FailTimeout    FailKind = "TIMEOUT"
	FailTransport  FailKind = "TRANSPORT"
	FailHTTPStatus FailKind = "HTTP_STATUS"
	FailRender     FailKind = "RENDER_FAILED"
)

// FetchError carries the failure kind so callers can decide retry policy.
type FetchError struct {
	Kind       FailKind
	URL        string
	StatusCode int
	Err        error

	retryAfter time.Duration
}

func (e *FetchError) Error() string {
	if e.Kind == FailHTTPStatus {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is worth another attempt.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case FailTimeout, FailTransport:
		return true
	case FailHTTPStatus:
		return e.StatusCode == 429 || e.StatusCode >= 500
	default:
		return false
	}
}
