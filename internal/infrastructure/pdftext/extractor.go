// Package pdftext turns PDF bytes into cleaned UTF-8 text. Extraction
// failures degrade to an empty string; the pipeline records the document and
// moves on instead of aborting a batch.
package pdftext

import (
	"bytes"
	"context"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
	pdfcpu "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"NormScanner/internal/ports"
)

// Text shorter than this after trimming triggers the per-page fallback pass.
const fallbackThreshold = 200

// Extractor implements ports.TextExtractor with a layout-aware primary pass
// and a per-page fallback; the longer result wins.
type Extractor struct {
	normalize map[string]string
	conf      *model.Configuration
	logger    *slog.Logger
}

var _ ports.TextExtractor = (*Extractor)(nil)

// New builds an extractor; normalize maps domain abbreviations to their
// canonical full form and is applied last.
func New(normalize map[string]string, logger *slog.Logger) *Extractor {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Extractor{normalize: normalize, conf: conf, logger: logger}
}

// Extract returns the cleaned text of the whole document.
func (e *Extractor) Extract(ctx context.Context, pdfBytes []byte) string {
	return e.ExtractRange(ctx, pdfBytes, 0, 0)
}

// ExtractRange extracts pages [fromPage, toPage] (1-based, inclusive);
// zero bounds mean the whole document.
func (e *Extractor) ExtractRange(ctx context.Context, pdfBytes []byte, fromPage, toPage int) string {
	if len(pdfBytes) == 0 {
		return ""
	}
	if ctx.Err() != nil {
		return ""
	}

	pageCount, err := pdfcpu.PageCount(bytes.NewReader(pdfBytes), e.conf)
	if err != nil || pageCount == 0 {
		e.debug("pdf validation failed", "error", err)
		return ""
	}
	if fromPage < 1 {
		fromPage = 1
	}
	if toPage < 1 || toPage > pageCount {
		toPage = pageCount
	}
	if fromPage > toPage {
		return ""
	}

	primary := e.primaryText(pdfBytes, fromPage, toPage)
	text := primary
	if len(strings.TrimSpace(primary)) < fallbackThreshold {
		if fallback := e.fallbackText(pdfBytes, fromPage, toPage); len(fallback) > len(primary) {
			text = fallback
		}
	}

	return Clean(text, e.normalize)
}

// primaryText runs the layout-aware whole-range extraction.
func (e *Extractor) primaryText(pdfBytes []byte, fromPage, toPage int) (out string) {
	defer func() {
		// The pdf library panics on some malformed xref tables.
		if r := recover(); r != nil {
			e.debug("primary extraction panicked", "panic", r)
			out = ""
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(pdfBytes), int64(len(pdfBytes)))
	if err != nil {
		e.debug("primary extraction failed", "error", err)
		return ""
	}

	var sb strings.Builder
	for i := fromPage; i <= toPage && i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(content)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// fallbackText walks rows page by page; it is slower but survives documents
// whose text objects confuse the layout pass.
func (e *Extractor) fallbackText(pdfBytes []byte, fromPage, toPage int) (out string) {
	defer func() {
		if r := recover(); r != nil {
			e.debug("fallback extraction panicked", "panic", r)
			out = ""
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(pdfBytes), int64(len(pdfBytes)))
	if err != nil {
		return ""
	}

	var sb strings.Builder
	for i := fromPage; i <= toPage && i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			continue
		}
		for _, row := range rows {
			for _, word := range row.Content {
				sb.WriteString(word.S)
				sb.WriteString(" ")
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (e *Extractor) debug(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}
