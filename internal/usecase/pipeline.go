// Package usecase drives the staged ingestion and verification pipeline:
// COLLECT, FILTER, EXTRACT_TEXT, EXTRACT_NORMS, VERIFY, ENRICH.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"NormScanner/internal/config"
	"NormScanner/internal/domain"
	"NormScanner/internal/infrastructure/adapters"
	"NormScanner/internal/metrics"
	"NormScanner/internal/ports"
	"NormScanner/internal/scanner"
)

const (
	defaultWorkers     = 8
	pendingPageSize    = 200
	defaultVerifyBatch = 5
)

// FilterFactory builds a relevance filter from a term snapshot; the snapshot
// is taken once per run.
type FilterFactory func(terms []domain.MonitoredTerm) ports.RelevanceFilter

// Pipeline composes the stages over the persistence gateway. Entry points
// mirror the scheduler boundary: full run, collect only, process pending,
// verify stale.
type Pipeline struct {
	cfg        config.PipelineConfig
	verifyCfg  config.VerifyConfig
	store      ports.DocumentStore
	registry   *scanner.Registry
	blobs      ports.BlobStore
	extractor  ports.TextExtractor
	norms      ports.NormExtractor
	newFilter  FilterFactory
	prober     ports.Prober
	summarizer ports.Summarizer
	logger     *slog.Logger
	now        func() time.Time
}

// PipelineDeps bundles everything the orchestrator needs.
type PipelineDeps struct {
	Config     config.PipelineConfig
	Verify     config.VerifyConfig
	Store      ports.DocumentStore
	Registry   *scanner.Registry
	Blobs      ports.BlobStore
	Extractor  ports.TextExtractor
	Norms      ports.NormExtractor
	NewFilter  FilterFactory
	Prober     ports.Prober
	Summarizer ports.Summarizer
	Logger     *slog.Logger
}

// NewPipeline wires the orchestrator. Summarizer may be a noop; the rest are
// required.
func NewPipeline(deps PipelineDeps) *Pipeline {
	return &Pipeline{
		cfg:        deps.Config,
		verifyCfg:  deps.Verify,
		store:      deps.Store,
		registry:   deps.Registry,
		blobs:      deps.Blobs,
		extractor:  deps.Extractor,
		norms:      deps.Norms,
		newFilter:  deps.NewFilter,
		prober:     deps.Prober,
		summarizer: deps.Summarizer,
		logger:     deps.Logger,
		now:        time.Now,
	}
}

func (p *Pipeline) workers() int {
	if p.cfg.Workers > 0 {
		return p.cfg.Workers
	}
	return defaultWorkers
}

// RunFullPipeline runs every stage for the window.
func (p *Pipeline) RunFullPipeline(ctx context.Context, window domain.Window) domain.RunReport {
	report := newReport()
	p.runCollect(ctx, window, report)
	p.runProcess(ctx, report)
	p.runVerify(ctx, p.verifyCfg.MaxBatch, report)
	return report.snapshot()
}

// RunCollectOnly runs COLLECT for the window and nothing else.
func (p *Pipeline) RunCollectOnly(ctx context.Context, window domain.Window) domain.RunReport {
	report := newReport()
	p.runCollect(ctx, window, report)
	return report.snapshot()
}

// RunProcessPending resumes FILTER, EXTRACT_TEXT, EXTRACT_NORMS and ENRICH
// for documents still marked unprocessed.
func (p *Pipeline) RunProcessPending(ctx context.Context) domain.RunReport {
	report := newReport()
	p.runProcess(ctx, report)
	return report.snapshot()
}

// RunVerifyStale runs VERIFY over norms never verified or stale.
func (p *Pipeline) RunVerifyStale(ctx context.Context, maxBatch int) domain.RunReport {
	report := newReport()
	p.runVerify(ctx, maxBatch, report)
	return report.snapshot()
}

// --- COLLECT ---

// runCollect fans the adapters out, persists every emitted document, stores
// blobs and tax snapshots, and aggregates per-adapter outcomes. Adapters
// fail independently.
func (p *Pipeline) runCollect(ctx context.Context, window domain.Window, report *runReport) {
	started := p.now()
	outcome := domain.StageOutcome{}
	detail := map[string]string{"window": window.String()}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(p.workers())

	for _, collector := range p.registry.All() {
		collector := collector
		g.Go(func() error {
			raws, err := p.collectWithRetry(ctx, collector, window)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				outcome.ErrorCount++
				detail[collector.Name()] = err.Error()
				p.logger.Error("adapter failed", "adapter", collector.Name(), "error", err)
				return nil
			}

			for _, raw := range raws {
				if err := p.persistRaw(ctx, raw); err != nil {
					outcome.ErrorCount++
					p.logger.Error("persist failed", "url", raw.SourceURL, "error", err)
					continue
				}
				outcome.OKCount++
				metrics.DocumentsCollected.WithLabelValues(string(raw.SourceKind)).Inc()
			}
			return nil
		})
	}
	_ = g.Wait()

	report.addStage(p.logStage(ctx, domain.StageCollect, started, outcome, detail, ""))
	report.count("collected", outcome.OKCount)
}

func (p *Pipeline) collectWithRetry(ctx context.Context, collector scanner.Collector, window domain.Window) ([]domain.RawDocument, error) {
	var raws []domain.RawDocument
	err := p.withRetry(ctx, string(domain.StageCollect), func() error {
		var err error
		raws, err = collector.Collect(ctx, window)
		return err
	})
	return raws, err
}

// persistRaw stores the blob (when present), upserts the document row, and
// records the structured snapshot for tax-API pulls.
func (p *Pipeline) persistRaw(ctx context.Context, raw domain.RawDocument) error {
	if len(raw.Blob) > 0 && p.blobs != nil {
		ref, err := p.blobs.Put(ctx, raw.Blob)
		if err != nil {
			return fmt.Errorf("store blob: %w", err)
		}
		raw.BlobRef = ref
	}

	if _, _, err := p.store.UpsertDocumentByURL(ctx, raw); err != nil {
		return err
	}

	if raw.SourceKind == domain.SourceTaxAPI {
		if err := p.saveSnapshot(ctx, raw); err != nil {
			p.logger.Warn("tax snapshot failed", "url", raw.SourceURL, "error", err)
		}
	}
	return nil
}

func (p *Pipeline) saveSnapshot(ctx context.Context, raw domain.RawDocument) error {
	endpoint := raw.Metadata[adapters.MetaEndpoint]
	refDateRaw := raw.Metadata[adapters.MetaReferenceDate]
	if endpoint == "" || refDateRaw == "" {
		return nil
	}
	refDate, err := time.Parse(time.DateOnly, refDateRaw)
	if err != nil {
		return fmt.Errorf("reference date %q: %w", refDateRaw, err)
	}
	_, err = p.store.SaveTaxSnapshot(ctx, domain.TaxSnapshot{
		Endpoint:      endpoint,
		ReferenceDate: refDate,
		RegionCode:    raw.Metadata[adapters.MetaRegionCode],
		Payload:       []byte(raw.Text),
	})
	return err
}

// --- FILTER / EXTRACT / ENRICH ---

// runProcess drains unprocessed documents through the per-document sequence
// FILTER, EXTRACT_TEXT, EXTRACT_NORMS, ENRICH. Documents are independent and
// fan out to the worker pool; stage counters aggregate across all of them.
func (p *Pipeline) runProcess(ctx context.Context, report *runReport) {
	started := p.now()
	filter := p.snapshotFilter(ctx)

	agg := stageAggregate{outcomes: map[domain.Stage]*domain.StageOutcome{
		domain.StageFilter:       {},
		domain.StageExtractText:  {},
		domain.StageExtractNorms: {},
		domain.StageEnrich:       {},
	}}

	for {
		if ctx.Err() != nil {
			break
		}
		docs, err := p.store.ListPendingDocuments(ctx, pendingPageSize)
		if err != nil {
			p.logger.Error("list pending failed", "error", err)
			agg.fail(domain.StageFilter)
			break
		}
		if len(docs) == 0 {
			break
		}

		before := agg.doneCount()

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.workers())
		for _, doc := range docs {
			doc := doc
			g.Go(func() error {
				p.processDocument(gctx, doc, filter, &agg)
				return nil
			})
		}
		_ = g.Wait()

		// A page where nothing got marked processed would come back verbatim
		// from the next listing; stop and leave the rest for a later run.
		if agg.doneCount() == before {
			p.logger.Warn("pending documents stalled", "remaining", len(docs))
			break
		}
		if len(docs) < pendingPageSize {
			break
		}
	}

	for _, stage := range []domain.Stage{domain.StageFilter, domain.StageExtractText, domain.StageExtractNorms, domain.StageEnrich} {
		outcome := *agg.outcomes[stage]
		report.addStage(p.logStage(ctx, stage, started, outcome, nil, ""))
	}
	report.count("processed", agg.processed)
}

type stageAggregate struct {
	mu        sync.Mutex
	outcomes  map[domain.Stage]*domain.StageOutcome
	processed int
}

func (a *stageAggregate) ok(stage domain.Stage) {
	a.mu.Lock()
	a.outcomes[stage].OKCount++
	a.mu.Unlock()
}

func (a *stageAggregate) fail(stage domain.Stage) {
	a.mu.Lock()
	a.outcomes[stage].ErrorCount++
	a.mu.Unlock()
}

func (a *stageAggregate) skip(stage domain.Stage) {
	a.mu.Lock()
	a.outcomes[stage].SkipCount++
	a.mu.Unlock()
}

func (a *stageAggregate) done() {
	a.mu.Lock()
	a.processed++
	a.mu.Unlock()
}

func (a *stageAggregate) doneCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.processed
}

// processDocument runs one document through its sequential stage chain.
// Failures in one stage skip the rest but still mark the document processed,
// so a poisoned document cannot wedge the queue; relevance stays null and a
// later re-run can revisit it by resetting the flag. Blob-read failures are
// the exception: the document stays pending and the drain loop's progress
// check keeps the retry for a later run.
func (p *Pipeline) processDocument(ctx context.Context, doc domain.Document, filter ports.RelevanceFilter, agg *stageAggregate) {
	if ctx.Err() != nil {
		return
	}

	text, ok := p.ensureText(ctx, &doc, agg)
	if !ok {
		return
	}

	refs := p.norms.Extract(text)
	agg.ok(domain.StageExtractNorms)

	relevant, matched := filter.Evaluate(text, refs)
	if err := p.store.SetDocumentRelevance(ctx, doc.ID, relevant, matched); err != nil {
		p.logger.Error("set relevance failed", "doc", doc.ID, "error", err)
		agg.fail(domain.StageFilter)
		return
	}
	agg.ok(domain.StageFilter)

	if relevant {
		if _, err := p.store.ReplaceDocumentNorms(ctx, doc.ID, refs); err != nil {
			p.logger.Error("link norms failed", "doc", doc.ID, "error", err)
			agg.fail(domain.StageExtractNorms)
		}
		p.enrichDocument(ctx, doc, text, agg)
	} else {
		agg.skip(domain.StageEnrich)
		// An empty text means the verdict came from a failed extraction, not
		// from the document's content; keep the bytes for a manual retry.
		if text != "" {
			p.releaseBlob(ctx, doc)
		}
	}

	if err := p.store.MarkDocumentProcessed(ctx, doc.ID); err != nil {
		p.logger.Error("mark processed failed", "doc", doc.ID, "error", err)
		return
	}
	agg.done()
}

// ensureText returns the document text, re-extracting from the stored blob
// when collection did not leave any.
func (p *Pipeline) ensureText(ctx context.Context, doc *domain.Document, agg *stageAggregate) (string, bool) {
	if doc.RawText != "" {
		agg.skip(domain.StageExtractText)
		return doc.RawText, true
	}
	if doc.RawBlobRef == "" || doc.BlobReleased || p.blobs == nil {
		agg.skip(domain.StageExtractText)
		return "", true
	}

	blob, err := p.blobs.Get(ctx, doc.RawBlobRef)
	if err != nil {
		p.logger.Error("blob read failed", "doc", doc.ID, "error", err)
		agg.fail(domain.StageExtractText)
		return "", false
	}

	text := p.extractor.Extract(ctx, blob)
	if text == "" {
		agg.fail(domain.StageExtractText)
		return "", true
	}
	if err := p.store.UpdateDocumentText(ctx, doc.ID, text); err != nil {
		p.logger.Error("update text failed", "doc", doc.ID, "error", err)
		agg.fail(domain.StageExtractText)
		return text, true
	}
	doc.RawText = text
	agg.ok(domain.StageExtractText)
	return text, true
}

// enrichDocument asks the summarizer for an annotation. Enrichment failures
// are logged and never block the document.
func (p *Pipeline) enrichDocument(ctx context.Context, doc domain.Document, text string, agg *stageAggregate) {
	if p.summarizer == nil {
		agg.skip(domain.StageEnrich)
		return
	}
	enrichment, err := p.summarizer.Summarize(ctx, text)
	if err != nil {
		p.logger.Warn("enrichment failed", "doc", doc.ID, "error", err)
		agg.fail(domain.StageEnrich)
		return
	}
	if enrichment.Summary == "" {
		agg.skip(domain.StageEnrich)
		return
	}
	if err := p.store.UpdateDocumentSummary(ctx, doc.ID, enrichment.Summary); err != nil {
		p.logger.Error("update summary failed", "doc", doc.ID, "error", err)
		agg.fail(domain.StageEnrich)
		return
	}
	agg.ok(domain.StageEnrich)
}

// releaseBlob frees the raw bytes of an irrelevant document, keeping the
// tombstone flag on the row.
func (p *Pipeline) releaseBlob(ctx context.Context, doc domain.Document) {
	if doc.RawBlobRef == "" || doc.BlobReleased || p.blobs == nil {
		return
	}
	if err := p.blobs.Delete(ctx, doc.RawBlobRef); err != nil {
		p.logger.Warn("blob delete failed", "doc", doc.ID, "error", err)
		return
	}
	if err := p.store.ReleaseBlob(ctx, doc.ID); err != nil {
		p.logger.Warn("blob release flag failed", "doc", doc.ID, "error", err)
	}
}

func (p *Pipeline) snapshotFilter(ctx context.Context) ports.RelevanceFilter {
	terms, err := p.store.ListActiveTerms(ctx)
	if err != nil {
		p.logger.Error("term snapshot failed", "error", err)
		terms = nil
	}
	return p.newFilter(terms)
}

// --- VERIFY ---

// runVerify probes stale norms in paced batches under a session budget.
// Norms left over are picked up by the next invocation; the staleness query
// orders never-verified first so every session makes progress.
func (p *Pipeline) runVerify(ctx context.Context, maxBatch int, report *runReport) {
	started := p.now()
	outcome := domain.StageOutcome{}
	detail := map[string]string{}

	if maxBatch <= 0 {
		maxBatch = p.verifyCfg.MaxBatch
	}
	if maxBatch <= 0 {
		maxBatch = 50
	}
	batchSize := p.verifyCfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultVerifyBatch
	}

	budget := p.verifyCfg.SessionBudget()
	if budget <= 0 {
		budget = 600 * time.Second
	}
	sessionCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	norms, err := p.store.ListNormsNeedingVerification(ctx, p.verifyCfg.Staleness(), maxBatch)
	if err != nil {
		report.addStage(p.logStage(ctx, domain.StageVerify, started, domain.StageOutcome{ErrorCount: 1}, nil, err.Error()))
		return
	}

	for start := 0; start < len(norms); start += batchSize {
		if sessionCtx.Err() != nil {
			detail["deferred"] = fmt.Sprint(len(norms) - start)
			break
		}
		end := start + batchSize
		if end > len(norms) {
			end = len(norms)
		}
		p.verifyBatch(sessionCtx, norms[start:end], &outcome)
	}

	report.addStage(p.logStage(ctx, domain.StageVerify, started, outcome, detail, ""))
	report.count("verified", outcome.OKCount)
}

// verifyBatch probes one batch concurrently, pacing probe starts so the
// portal never sees a burst, then persists each verdict.
func (p *Pipeline) verifyBatch(ctx context.Context, norms []domain.Norm, outcome *domain.StageOutcome) {
	pacing := p.verifyCfg.Pacing()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())

	for i, norm := range norms {
		norm := norm
		if i > 0 && pacing > 0 {
			select {
			case <-time.After(pacing):
			case <-ctx.Done():
				return
			}
		}
		g.Go(func() error {
			result := p.prober.Probe(gctx, norm.Kind, probeNumber(norm))
			if gctx.Err() != nil {
				return nil
			}

			status := domain.NormStatusFromProbe(result.Status)
			err := p.withRetry(gctx, string(domain.StageVerify), func() error {
				return p.store.UpdateNormStatus(gctx, norm.ID, status, domain.TruthPortal, result.ProbedAt, result.Details)
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				outcome.ErrorCount++
				p.logger.Error("norm update failed", "norm", norm.ID, "error", err)
			case result.Status == domain.ProbeError:
				outcome.ErrorCount++
			default:
				outcome.OKCount++
			}
			return nil
		})
	}
	_ = g.Wait()
}

// probeNumber rebuilds the portal-facing spelling from the canonical tuple.
func probeNumber(norm domain.Norm) string {
	if norm.Year > 0 {
		return fmt.Sprintf("%s/%d", norm.Number, norm.Year)
	}
	return norm.Number
}

// --- shared plumbing ---

// withRetry applies the stage's retry policy to one operation.
func (p *Pipeline) withRetry(ctx context.Context, stage string, op func() error) error {
	rc := p.cfg.RetryFor(stage)
	if rc.Count <= 0 {
		return op()
	}

	policy := backoff.NewExponentialBackOff()
	if rc.BaseDelay() > 0 {
		policy.InitialInterval = rc.BaseDelay()
	}
	if rc.Factor > 1 {
		policy.Multiplier = rc.Factor
	}

	capped := backoff.WithMaxRetries(policy, uint64(rc.Count))
	return backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := op()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(capped, ctx))
}

// logStage persists one ExecutionLog row and returns its identity for the
// run report. Log writes use a fresh context so a cancelled run still flushes
// what it did.
func (p *Pipeline) logStage(ctx context.Context, stage domain.Stage, started time.Time, outcome domain.StageOutcome, detail map[string]string, errText string) domain.ExecutionLog {
	status := outcome.Status()
	if errText != "" {
		status = domain.StageError
	}
	entry := domain.ExecutionLog{
		ID:        ulid.Make().String(),
		Stage:     stage,
		Status:    status,
		StartedAt: started,
		EndedAt:   p.now(),
		Counters: map[string]int{
			"ok_count":    outcome.OKCount,
			"error_count": outcome.ErrorCount,
			"skip_count":  outcome.SkipCount,
		},
		ErrorText: errText,
		Detail:    detail,
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.store.AppendExecutionLog(flushCtx, entry); err != nil {
		p.logger.Error("execution log failed", "stage", stage, "error", err)
	}
	metrics.StageRuns.WithLabelValues(string(stage), string(status)).Inc()
	p.logger.Info("stage finished",
		"stage", stage, "status", status,
		"ok", outcome.OKCount, "errors", outcome.ErrorCount, "skipped", outcome.SkipCount)
	return entry
}

// runReport accumulates stage results while a run executes.
type runReport struct {
	mu     sync.Mutex
	stages map[domain.Stage]domain.StageStatus
	counts map[string]int
	logIDs []string
}

func newReport() *runReport {
	return &runReport{
		stages: map[domain.Stage]domain.StageStatus{},
		counts: map[string]int{},
	}
}

func (r *runReport) addStage(entry domain.ExecutionLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[entry.Stage] = entry.Status
	r.logIDs = append(r.logIDs, entry.ID)
}

func (r *runReport) count(key string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[key] += n
}

func (r *runReport) snapshot() domain.RunReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.RunReport{
		Stages:   r.stages,
		Counters: r.counts,
		LogIDs:   r.logIDs,
	}
}
