package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"NormScanner/internal/config"
	"NormScanner/internal/domain"
	"NormScanner/internal/logging"
	"NormScanner/internal/normref"
	"NormScanner/internal/ports"
	"NormScanner/internal/relevance"
	"NormScanner/internal/scanner"
)

// --- fakes ---

type fakeStore struct {
	mu        sync.Mutex
	docs      map[string]*domain.Document
	nextDocID int64
	norms     map[string]*domain.Norm
	nextNorm  int64
	links     map[int64][]int64
	terms     []domain.MonitoredTerm
	logs      []domain.ExecutionLog
	snapshots []domain.TaxSnapshot
	stale     []domain.Norm
	statuses  map[int64]domain.NormStatus
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:     map[string]*domain.Document{},
		norms:    map[string]*domain.Norm{},
		links:    map[int64][]int64{},
		statuses: map[int64]domain.NormStatus{},
	}
}

func (f *fakeStore) UpsertDocumentByURL(_ context.Context, raw domain.RawDocument) (domain.Document, ports.UpsertOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.docs[raw.SourceURL]; ok {
		return *doc, ports.OutcomeUpdated, nil
	}
	f.nextDocID++
	doc := &domain.Document{
		ID:         f.nextDocID,
		Title:      raw.Title,
		SourceURL:  raw.SourceURL,
		SourceKind: raw.SourceKind,
		RawBlobRef: raw.BlobRef,
		RawText:    raw.Text,
	}
	f.docs[raw.SourceURL] = doc
	return *doc, ports.OutcomeCreated, nil
}

func (f *fakeStore) MarkDocumentProcessed(_ context.Context, docID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, doc := range f.docs {
		if doc.ID == docID {
			doc.IsProcessed = true
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeStore) SetDocumentRelevance(_ context.Context, docID int64, relevant bool, matched []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, doc := range f.docs {
		if doc.ID == docID {
			doc.IsRelevant = domain.BoolPtr(relevant)
			doc.MatchedTerms = matched
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeStore) UpdateDocumentText(_ context.Context, docID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, doc := range f.docs {
		if doc.ID == docID {
			doc.RawText = text
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeStore) UpdateDocumentSummary(_ context.Context, docID int64, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, doc := range f.docs {
		if doc.ID == docID {
			doc.Summary = summary
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeStore) ReleaseBlob(_ context.Context, docID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, doc := range f.docs {
		if doc.ID == docID {
			doc.RawBlobRef = ""
			doc.BlobReleased = true
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeStore) ListPendingDocuments(_ context.Context, limit int) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Document
	for _, doc := range f.docs {
		if !doc.IsProcessed && len(out) < limit {
			out = append(out, *doc)
		}
	}
	return out, nil
}

func (f *fakeStore) GetOrCreateNorm(_ context.Context, ref domain.NormRef) (domain.Norm, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getOrCreateLocked(ref)
}

func (f *fakeStore) getOrCreateLocked(ref domain.NormRef) (domain.Norm, bool, error) {
	key := fmt.Sprintf("%s|%s|%d", ref.Kind, ref.Number, ref.Year)
	if norm, ok := f.norms[key]; ok {
		return *norm, false, nil
	}
	f.nextNorm++
	norm := &domain.Norm{ID: f.nextNorm, Kind: ref.Kind, Number: ref.Number, Year: ref.Year, Status: domain.StatusPending}
	f.norms[key] = norm
	return *norm, true, nil
}

func (f *fakeStore) ReplaceDocumentNorms(_ context.Context, docID int64, refs []domain.NormRef) ([]domain.Norm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links[docID] = nil
	var out []domain.Norm
	for _, ref := range refs {
		norm, _, _ := f.getOrCreateLocked(ref)
		f.links[docID] = append(f.links[docID], norm.ID)
		out = append(out, norm)
	}
	return out, nil
}

func (f *fakeStore) UpdateNormStatus(_ context.Context, normID int64, status domain.NormStatus, _ domain.SourceOfTruth, _ time.Time, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[normID] = status
	return nil
}

func (f *fakeStore) ListNormsNeedingVerification(_ context.Context, _ time.Duration, limit int) ([]domain.Norm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.stale) > limit {
		return f.stale[:limit], nil
	}
	return f.stale, nil
}

func (f *fakeStore) CountDocuments(context.Context) (int, error) { return len(f.docs), nil }
func (f *fakeStore) CountNorms(context.Context) (int, error)     { return len(f.norms), nil }

func (f *fakeStore) ListActiveTerms(context.Context) ([]domain.MonitoredTerm, error) {
	return f.terms, nil
}
func (f *fakeStore) SeedTerms(_ context.Context, terms []domain.MonitoredTerm) error {
	f.terms = append(f.terms, terms...)
	return nil
}

func (f *fakeStore) SaveTaxSnapshot(_ context.Context, snap domain.TaxSnapshot) (ports.UpsertOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, snap)
	return ports.OutcomeCreated, nil
}

func (f *fakeStore) AppendExecutionLog(_ context.Context, entry domain.ExecutionLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, entry)
	return nil
}

type fakeCollector struct {
	name string
	kind domain.SourceKind
	docs []domain.RawDocument
	err  error
}

func (c *fakeCollector) Name() string            { return c.name }
func (c *fakeCollector) Kind() domain.SourceKind { return c.kind }
func (c *fakeCollector) Collect(context.Context, domain.Window) ([]domain.RawDocument, error) {
	return c.docs, c.err
}

type fakeProber struct {
	mu      sync.Mutex
	results map[string]domain.ProbeResult
	calls   int
}

func (p *fakeProber) Probe(_ context.Context, kind domain.NormKind, number string) domain.ProbeResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if r, ok := p.results[number]; ok {
		return r
	}
	return domain.ProbeResult{Status: domain.ProbeUnknown, ProbedAt: time.Now()}
}

type fakeBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{blobs: map[string][]byte{}} }

func (b *fakeBlobs) Put(_ context.Context, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ref := fmt.Sprintf("blob-%d", len(b.blobs)+1)
	b.blobs[ref] = data
	return ref, nil
}

func (b *fakeBlobs) Get(_ context.Context, ref string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if data, ok := b.blobs[ref]; ok {
		return data, nil
	}
	return nil, domain.ErrNotFound
}

func (b *fakeBlobs) Delete(_ context.Context, ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, ref)
	return nil
}

type fakeExtractor struct{ text string }

func (e *fakeExtractor) Extract(context.Context, []byte) string { return e.text }

// --- helpers ---

func testPipeline(store *fakeStore, registry *scanner.Registry, prober ports.Prober) *Pipeline {
	logger := logging.New("error")
	return NewPipeline(PipelineDeps{
		Config: config.PipelineConfig{Workers: 2},
		Verify: config.VerifyConfig{BatchSize: 2, PacingMillis: 1, SessionBudgetSeconds: 30, StalenessDays: 15, MaxBatch: 10},
		Store:  store, Registry: registry,
		Blobs:     newFakeBlobs(),
		Extractor: &fakeExtractor{},
		Norms:     normref.New(),
		NewFilter: func(terms []domain.MonitoredTerm) ports.RelevanceFilter {
			return relevance.New(terms, logger)
		},
		Prober:     prober,
		Summarizer: nil,
		Logger:     logger,
	})
}

func testWindow() domain.Window {
	return domain.WindowFromDaysBack(time.Now(), 1)
}

// --- COLLECT ---

func TestCollectEmptyWindowIsOK(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	registry := scanner.NewRegistry()
	registry.Register(&fakeCollector{name: "gazette", kind: domain.SourceGazette})

	report := testPipeline(store, registry, &fakeProber{}).RunCollectOnly(context.Background(), testWindow())

	require.Equal(t, domain.StageOK, report.Stages[domain.StageCollect])
	require.Zero(t, report.Counters["collected"])
	require.Len(t, store.logs, 1)
	require.Equal(t, 0, store.logs[0].Counters["ok_count"])
}

func TestCollectAllAdaptersFailIsError(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	registry := scanner.NewRegistry()
	registry.Register(&fakeCollector{name: "gazette", kind: domain.SourceGazette, err: fmt.Errorf("index down")})
	registry.Register(&fakeCollector{name: "news", kind: domain.SourceNews, err: fmt.Errorf("listing down")})

	report := testPipeline(store, registry, &fakeProber{}).RunCollectOnly(context.Background(), testWindow())

	require.Equal(t, domain.StageError, report.Stages[domain.StageCollect])
	require.Len(t, store.logs, 1)
	require.Equal(t, "index down", store.logs[0].Detail["gazette"])
	require.Equal(t, "listing down", store.logs[0].Detail["news"])
}

func TestCollectMixedOutcomeIsPartial(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	registry := scanner.NewRegistry()
	registry.Register(&fakeCollector{name: "gazette", kind: domain.SourceGazette, docs: []domain.RawDocument{
		{SourceURL: "https://doe.example/1.pdf", Title: "Decreto", SourceKind: domain.SourceGazette},
	}})
	registry.Register(&fakeCollector{name: "news", kind: domain.SourceNews, err: fmt.Errorf("listing down")})

	report := testPipeline(store, registry, &fakeProber{}).RunCollectOnly(context.Background(), testWindow())

	require.Equal(t, domain.StagePartial, report.Stages[domain.StageCollect])
	require.Equal(t, 1, report.Counters["collected"])
	require.Equal(t, domain.StagePartial, report.Overall())
}

func TestCollectStoresBlobAndSnapshot(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	registry := scanner.NewRegistry()
	registry.Register(&fakeCollector{name: "gazette", kind: domain.SourceGazette, docs: []domain.RawDocument{
		{SourceURL: "https://doe.example/1.pdf", SourceKind: domain.SourceGazette, Blob: []byte("%PDF-")},
	}})
	registry.Register(&fakeCollector{name: "tax-api", kind: domain.SourceTaxAPI, docs: []domain.RawDocument{
		{
			SourceURL:  "https://api.example/aliquota?data=2023-05-02",
			SourceKind: domain.SourceTaxAPI,
			Text:       `{"aliquota":18}`,
			Metadata: map[string]string{
				"endpoint":       "aliquota",
				"reference_date": "2023-05-02",
			},
		},
	}})

	testPipeline(store, registry, &fakeProber{}).RunCollectOnly(context.Background(), testWindow())

	require.Len(t, store.snapshots, 1)
	require.Equal(t, "aliquota", store.snapshots[0].Endpoint)

	doc := store.docs["https://doe.example/1.pdf"]
	require.NotNil(t, doc)
	require.NotEmpty(t, doc.RawBlobRef)
}

// --- process pending ---

func TestProcessPendingLinksNormsAndMarksProcessed(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.terms = []domain.MonitoredTerm{
		{Term: "ICMS", MatchKind: domain.MatchExactText, Active: true},
	}
	store.docs["u1"] = &domain.Document{
		ID: 1, SourceURL: "u1",
		RawText: "Alteração do ICMS pelo Decreto nº 21.866/2023.",
	}
	store.nextDocID = 1

	report := testPipeline(store, scanner.NewRegistry(), &fakeProber{}).RunProcessPending(context.Background())

	require.Equal(t, domain.StageOK, report.Stages[domain.StageFilter])
	doc := store.docs["u1"]
	require.True(t, doc.IsProcessed)
	require.NotNil(t, doc.IsRelevant)
	require.True(t, *doc.IsRelevant)
	require.Equal(t, []string{"ICMS"}, doc.MatchedTerms)
	require.Len(t, store.links[1], 1, "the decree reference must be linked")
}

func TestProcessPendingIrrelevantReleasesBlob(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.terms = []domain.MonitoredTerm{
		{Term: "ICMS", MatchKind: domain.MatchExactText, Active: true},
	}

	pipeline := testPipeline(store, scanner.NewRegistry(), &fakeProber{})
	blobs := pipeline.blobs.(*fakeBlobs)
	ref, err := blobs.Put(context.Background(), []byte("%PDF-"))
	require.NoError(t, err)

	store.docs["u2"] = &domain.Document{
		ID: 2, SourceURL: "u2",
		RawText:    "Nomeação de servidores sem matéria tributária.",
		RawBlobRef: ref,
	}
	store.nextDocID = 2

	pipeline.RunProcessPending(context.Background())

	doc := store.docs["u2"]
	require.True(t, doc.IsProcessed)
	require.False(t, *doc.IsRelevant)
	require.True(t, doc.BlobReleased)
	_, err = blobs.Get(context.Background(), ref)
	require.Error(t, err, "blob bytes must be gone")
	require.Empty(t, store.links[2])
}

func TestProcessPendingExtractsFromBlob(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.terms = []domain.MonitoredTerm{
		{Term: "ICMS", MatchKind: domain.MatchExactText, Active: true},
	}

	pipeline := testPipeline(store, scanner.NewRegistry(), &fakeProber{})
	pipeline.extractor = &fakeExtractor{text: "Texto do ICMS extraído do blob."}
	blobs := pipeline.blobs.(*fakeBlobs)
	ref, err := blobs.Put(context.Background(), []byte("%PDF-"))
	require.NoError(t, err)

	store.docs["u3"] = &domain.Document{ID: 3, SourceURL: "u3", RawBlobRef: ref}
	store.nextDocID = 3

	report := pipeline.RunProcessPending(context.Background())

	require.Equal(t, domain.StageOK, report.Stages[domain.StageExtractText])
	require.Equal(t, "Texto do ICMS extraído do blob.", store.docs["u3"].RawText)
	require.True(t, *store.docs["u3"].IsRelevant)
}

func TestProcessPendingStopsWhenPageStalls(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	for i := int64(1); i <= pendingPageSize; i++ {
		url := fmt.Sprintf("u%d", i)
		store.docs[url] = &domain.Document{ID: i, SourceURL: url, RawBlobRef: "gone"}
	}
	store.nextDocID = pendingPageSize

	pipeline := testPipeline(store, scanner.NewRegistry(), &fakeProber{})

	// A full page of blob-read failures leaves every document unprocessed;
	// the drain loop must notice the lack of progress and return.
	done := make(chan domain.RunReport, 1)
	go func() {
		done <- pipeline.RunProcessPending(context.Background())
	}()

	var report domain.RunReport
	select {
	case report = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RunProcessPending did not return on a stalled page")
	}

	require.Equal(t, domain.StageError, report.Stages[domain.StageExtractText])
	require.Zero(t, report.Counters["processed"])
	for _, doc := range store.docs {
		require.False(t, doc.IsProcessed)
	}
}

func TestProcessPendingKeepsBlobWhenExtractionFails(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.terms = []domain.MonitoredTerm{
		{Term: "ICMS", MatchKind: domain.MatchExactText, Active: true},
	}

	pipeline := testPipeline(store, scanner.NewRegistry(), &fakeProber{})
	blobs := pipeline.blobs.(*fakeBlobs)
	ref, err := blobs.Put(context.Background(), []byte("%PDF-"))
	require.NoError(t, err)

	store.docs["u4"] = &domain.Document{ID: 4, SourceURL: "u4", RawBlobRef: ref}
	store.nextDocID = 4

	report := pipeline.RunProcessPending(context.Background())

	// The default extractor yields no text, so the irrelevance verdict says
	// nothing about the document; the bytes must survive for a retry.
	require.Equal(t, domain.StageError, report.Stages[domain.StageExtractText])
	doc := store.docs["u4"]
	require.True(t, doc.IsProcessed)
	require.False(t, *doc.IsRelevant)
	require.False(t, doc.BlobReleased)
	_, err = blobs.Get(context.Background(), ref)
	require.NoError(t, err, "blob bytes must still be readable")
}

// --- VERIFY ---

func TestVerifyUpdatesStatuses(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.stale = []domain.Norm{
		{ID: 1, Kind: domain.NormDecree, Number: "21.866", Year: 2023, Status: domain.StatusPending},
		{ID: 2, Kind: domain.NormLaw, Number: "4.257", Year: 1989, Status: domain.StatusPending},
	}
	prober := &fakeProber{results: map[string]domain.ProbeResult{
		"21.866/2023": {Status: domain.ProbeInForce, Strategy: "fast-path", ProbedAt: time.Now()},
		"4.257/1989":  {Status: domain.ProbeRevoked, Strategy: "fast-path", ProbedAt: time.Now()},
	}}

	report := testPipeline(store, scanner.NewRegistry(), prober).RunVerifyStale(context.Background(), 10)

	require.Equal(t, domain.StageOK, report.Stages[domain.StageVerify])
	require.Equal(t, domain.StatusInForce, store.statuses[1])
	require.Equal(t, domain.StatusRevoked, store.statuses[2])
	require.Equal(t, 2, report.Counters["verified"])
}

func TestVerifyProbeErrorLeavesUnknown(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.stale = []domain.Norm{
		{ID: 1, Kind: domain.NormLaw, Number: "4.257", Year: 2021, Status: domain.StatusPending},
	}
	prober := &fakeProber{results: map[string]domain.ProbeResult{
		"4.257/2021": {Status: domain.ProbeError, ProbedAt: time.Now()},
	}}

	report := testPipeline(store, scanner.NewRegistry(), prober).RunVerifyStale(context.Background(), 10)

	// A failed probe still stamps the norm, as UNKNOWN, never PENDING.
	require.Equal(t, domain.StatusUnknown, store.statuses[1])
	require.Equal(t, domain.StageError, report.Stages[domain.StageVerify])
}

func TestVerifyHonorsMaxBatch(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	for i := int64(1); i <= 8; i++ {
		store.stale = append(store.stale, domain.Norm{
			ID: i, Kind: domain.NormLaw, Number: fmt.Sprintf("1.00%d", i), Year: 2020, Status: domain.StatusPending,
		})
	}
	prober := &fakeProber{}

	testPipeline(store, scanner.NewRegistry(), prober).RunVerifyStale(context.Background(), 3)

	require.Equal(t, 3, prober.calls, "max batch caps the probes of one session")
}

// flakyNormStore fails the first UpdateNormStatus calls before recovering.
type flakyNormStore struct {
	*fakeStore
	failMu    sync.Mutex
	failures  int
	attempted int
}

func (s *flakyNormStore) UpdateNormStatus(ctx context.Context, normID int64, status domain.NormStatus, truth domain.SourceOfTruth, at time.Time, details map[string]string) error {
	s.failMu.Lock()
	s.attempted++
	if s.failures > 0 {
		s.failures--
		s.failMu.Unlock()
		return fmt.Errorf("database is locked")
	}
	s.failMu.Unlock()
	return s.fakeStore.UpdateNormStatus(ctx, normID, status, truth, at, details)
}

func TestVerifyRetriesNormPersistence(t *testing.T) {
	t.Parallel()

	inner := newFakeStore()
	inner.stale = []domain.Norm{
		{ID: 1, Kind: domain.NormDecree, Number: "21.866", Year: 2023, Status: domain.StatusPending},
	}
	store := &flakyNormStore{fakeStore: inner, failures: 1}
	prober := &fakeProber{results: map[string]domain.ProbeResult{
		"21.866/2023": {Status: domain.ProbeInForce, Strategy: "fast-path", ProbedAt: time.Now()},
	}}

	logger := logging.New("error")
	pipeline := NewPipeline(PipelineDeps{
		Config: config.PipelineConfig{
			Workers: 2,
			StageRetry: map[string]config.RetryConfig{
				"VERIFY": {Count: 2, BaseMillis: 1, Factor: 2},
			},
		},
		Verify:    config.VerifyConfig{BatchSize: 2, SessionBudgetSeconds: 30, StalenessDays: 15, MaxBatch: 10},
		Store:     store,
		Registry:  scanner.NewRegistry(),
		Blobs:     newFakeBlobs(),
		Extractor: &fakeExtractor{},
		Norms:     normref.New(),
		NewFilter: func(terms []domain.MonitoredTerm) ports.RelevanceFilter {
			return relevance.New(terms, logger)
		},
		Prober: prober,
		Logger: logger,
	})

	report := pipeline.RunVerifyStale(context.Background(), 10)

	require.Equal(t, domain.StageOK, report.Stages[domain.StageVerify])
	require.Equal(t, domain.StatusInForce, inner.statuses[1])
	require.Equal(t, 2, store.attempted, "the transient persistence failure must be retried")
}

// --- report ---

func TestRunReportOverall(t *testing.T) {
	t.Parallel()

	r := domain.RunReport{Stages: map[domain.Stage]domain.StageStatus{
		domain.StageCollect: domain.StageOK,
		domain.StageVerify:  domain.StageOK,
	}}
	require.Equal(t, domain.StageOK, r.Overall())

	r.Stages[domain.StageVerify] = domain.StageError
	require.Equal(t, domain.StagePartial, r.Overall())

	r.Stages[domain.StageCollect] = domain.StageError
	require.Equal(t, domain.StageError, r.Overall())
}
