package domain

import "time"

// SourceKind identifies which adapter family produced a document.
type SourceKind string

const (
	SourceGazette       SourceKind = "GAZETTE"
	SourceTaxPortal     SourceKind = "TAX_PORTAL"
	SourceTaxPortalICMS SourceKind = "TAX_PORTAL_ICMS"
	SourceTaxAPI        SourceKind = "TAX_API"
	SourceNews          SourceKind = "NEWS"
)

// Document is a captured publication persisted for processing and audit.
// SourceURL is globally unique; re-ingesting the same URL upserts.
type Document struct {
	ID           int64
	Title        string
	PublishedOn  time.Time
	SourceURL    string
	SourceKind   SourceKind
	DocumentKind string
	SourceLabel  string
	RawBlobRef   string
	BlobReleased bool
	RawText      string
	Summary      string
	IsRelevant   *bool
	MatchedTerms []string
	IsProcessed  bool
	CollectedAt  time.Time
	Metadata     map[string]string
}

// RawDocument is what a source adapter emits before persistence.
type RawDocument struct {
	SourceURL    string
	Title        string
	PublishedOn  time.Time
	SourceKind   SourceKind
	DocumentKind string
	SourceLabel  string
	Blob         []byte
	BlobRef      string
	Text         string
	Metadata     map[string]string
}

// TaxSnapshot is one structured pull from a tax-API endpoint, keyed by
// (endpoint, reference date[, region code]).
type TaxSnapshot struct {
	Endpoint      string
	ReferenceDate time.Time
	RegionCode    string
	Payload       []byte
	CollectedAt   time.Time
}

// Enrichment is the optional AI-produced annotation for a document.
type Enrichment struct {
	Summary   string
	Sentiment string
	Tags      []string
}

// BoolPtr is a small helper for nullable relevance flags.
func BoolPtr(v bool) *bool { return &v }
