package ports

import (
	"context"
	"time"

	"NormScanner/internal/domain"
)

// UpsertOutcome reports how a unique-key write resolved.
type UpsertOutcome string

const (
	OutcomeCreated UpsertOutcome = "created"
	OutcomeUpdated UpsertOutcome = "updated"
)

// DocumentStore is the typed persistence gateway. It exclusively owns
// mutation; everything else reads views or submits these requests.
type DocumentStore interface {
	UpsertDocumentByURL(ctx context.Context, raw domain.RawDocument) (domain.Document, UpsertOutcome, error)
	MarkDocumentProcessed(ctx context.Context, docID int64) error
	SetDocumentRelevance(ctx context.Context, docID int64, relevant bool, matched []string) error
	UpdateDocumentText(ctx context.Context, docID int64, text string) error
	UpdateDocumentSummary(ctx context.Context, docID int64, summary string) error
	ReleaseBlob(ctx context.Context, docID int64) error
	ListPendingDocuments(ctx context.Context, limit int) ([]domain.Document, error)

	GetOrCreateNorm(ctx context.Context, ref domain.NormRef) (domain.Norm, bool, error)
	ReplaceDocumentNorms(ctx context.Context, docID int64, refs []domain.NormRef) ([]domain.Norm, error)
	UpdateNormStatus(ctx context.Context, normID int64, status domain.NormStatus, truth domain.SourceOfTruth, verifiedAt time.Time, details map[string]string) error
	ListNormsNeedingVerification(ctx context.Context, minStaleness time.Duration, limit int) ([]domain.Norm, error)
	CountDocuments(ctx context.Context) (int, error)
	CountNorms(ctx context.Context) (int, error)

	ListActiveTerms(ctx context.Context) ([]domain.MonitoredTerm, error)
	SeedTerms(ctx context.Context, terms []domain.MonitoredTerm) error

	SaveTaxSnapshot(ctx context.Context, snap domain.TaxSnapshot) (UpsertOutcome, error)

	AppendExecutionLog(ctx context.Context, entry domain.ExecutionLog) error
}

// FetchResult is the payload side of a successful fetch.
type FetchResult struct {
	Body        []byte
	ContentType string
	FinalURL    string
}

// Fetcher retrieves a URL over plain HTTP with retry and rate limiting.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchResult, error)
}

// Renderer retrieves a URL through a headless browser after client-side
// scripts materialize the DOM. A renderer session must not outlive a single
// adapter invocation.
type Renderer interface {
	RenderHTML(ctx context.Context, url string, waitSelector string) (string, error)
	Close() error
}

// RendererFactory opens one scoped browser session per adapter invocation.
type RendererFactory interface {
	NewSession(ctx context.Context) (Renderer, error)
}

// TextExtractor turns PDF bytes into cleaned UTF-8 text. It returns the
// empty string on failure and never an error.
type TextExtractor interface {
	Extract(ctx context.Context, pdfBytes []byte) string
}

// NormExtractor finds legal-norm references in free text.
type NormExtractor interface {
	Extract(text string) []domain.NormRef
}

// RelevanceFilter decides whether a document matters, given a term snapshot.
type RelevanceFilter interface {
	Evaluate(text string, refs []domain.NormRef) (bool, []string)
}

// Prober decides the vigencia status of a norm identity.
type Prober interface {
	Probe(ctx context.Context, kind domain.NormKind, number string) domain.ProbeResult
}

// Summarizer is the pluggable AI-enrichment capability. Failures are logged
// by callers, never fatal.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (domain.Enrichment, error)
}

// BlobStore persists raw source bytes outside the relational store.
type BlobStore interface {
	Put(ctx context.Context, data []byte) (ref string, err error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
