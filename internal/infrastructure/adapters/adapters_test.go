package adapters

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"NormScanner/internal/config"
	"NormScanner/internal/domain"
	"NormScanner/internal/logging"
	"NormScanner/internal/ports"
)

// fakeFetcher serves canned bodies by URL substring and records requests.
type fakeFetcher struct {
	mu     sync.Mutex
	pages  map[string]string
	errors map[string]error
	urls   []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*ports.FetchResult, error) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.mu.Unlock()

	for frag, err := range f.errors {
		if strings.Contains(url, frag) {
			return nil, err
		}
	}
	for frag, body := range f.pages {
		if strings.Contains(url, frag) {
			return &ports.FetchResult{Body: []byte(body), FinalURL: url}, nil
		}
	}
	return nil, fmt.Errorf("no page for %s", url)
}

func (f *fakeFetcher) requested(frag string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, u := range f.urls {
		if strings.Contains(u, frag) {
			n++
		}
	}
	return n
}

type fixedExtractor struct{ text string }

func (e fixedExtractor) Extract(context.Context, []byte) string { return e.text }

func day(value string) time.Time {
	t, _ := time.Parse(time.DateOnly, value)
	return t
}

func singleDayWindow(value string) domain.Window {
	w, _ := domain.NewWindow(day(value), day(value))
	return w
}

// --- gazette ---

func TestGazetteCollect(t *testing.T) {
	t.Parallel()

	index := `<html><body>
	  <a href="/edicoes/doe-2023-01-10-a.pdf">Edição A</a>
	  <a href="/edicoes/doe-2023-01-10-a.pdf">Edição A (repetida)</a>
	  <a href="/edicoes/doe-2023-01-10-b.PDF">Edição B</a>
	  <a href="/sobre">Sobre o diário</a>
	</body></html>`

	fetcher := &fakeFetcher{pages: map[string]string{
		"index/2023-01-10": index,
		"doe-2023-01-10":   "%PDF-fake",
	}}

	g := NewGazetteCollector(config.GazetteConfig{
		IndexURLTemplate: "https://doe.example/index/%s",
		Label:            "doe",
	}, fetcher, fixedExtractor{text: "texto do decreto"}, logging.New("error"))

	docs, err := g.Collect(context.Background(), singleDayWindow("2023-01-10"))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents (duplicate collapsed), got %d", len(docs))
	}
	if docs[0].SourceURL != "https://doe.example/edicoes/doe-2023-01-10-a.pdf" {
		t.Fatalf("relative link not resolved: %s", docs[0].SourceURL)
	}
	if docs[0].Title != "Edição A" {
		t.Fatalf("unexpected title: %s", docs[0].Title)
	}
	if docs[0].Text != "texto do decreto" {
		t.Fatalf("pdf text missing: %q", docs[0].Text)
	}
	if len(docs[0].Blob) == 0 {
		t.Fatal("blob bytes missing")
	}
	if !docs[0].PublishedOn.Equal(day("2023-01-10")) {
		t.Fatalf("unexpected published date: %s", docs[0].PublishedOn)
	}
}

func TestGazetteAllIndexesFailing(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{errors: map[string]error{"index": fmt.Errorf("boom")}}
	g := NewGazetteCollector(config.GazetteConfig{
		IndexURLTemplate: "https://doe.example/index/%s",
	}, fetcher, nil, logging.New("error"))

	_, err := g.Collect(context.Background(), singleDayWindow("2023-01-10"))
	if err == nil {
		t.Fatal("expected an error when every index page fails")
	}
}

// --- tax API ---

func TestTaxAPICollect(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{
		"aliquota-uf": `[{"uf":"26","aliquota":18}]`,
		"ncm":         `[{"codigo":"0101"}]`,
	}}

	c := NewTaxAPICollector(config.TaxAPIConfig{
		BaseURL:   "https://api.example/v1/",
		Endpoints: []string{"aliquota-uf", "ncm"},
		UFCodes:   []string{"26", "35"},
	}, fetcher, logging.New("error"))

	docs, err := c.Collect(context.Background(), singleDayWindow("2023-05-02"))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	// aliquota-uf fans out per UF; ncm is a single pull.
	if len(docs) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(docs))
	}

	var ufDoc *domain.RawDocument
	for i := range docs {
		if docs[i].Metadata[MetaRegionCode] == "26" {
			ufDoc = &docs[i]
		}
	}
	if ufDoc == nil {
		t.Fatal("missing UF 26 pull")
	}
	if !strings.Contains(ufDoc.SourceURL, "codigoUf=26") {
		t.Fatalf("codigoUf not in URL: %s", ufDoc.SourceURL)
	}
	if !strings.Contains(ufDoc.SourceURL, "data=2023-05-02") {
		t.Fatalf("data cursor not in URL: %s", ufDoc.SourceURL)
	}
	if ufDoc.Metadata[MetaEndpoint] != "aliquota-uf" {
		t.Fatalf("endpoint metadata missing: %v", ufDoc.Metadata)
	}
	if ufDoc.Metadata[MetaReferenceDate] != "2023-05-02" {
		t.Fatalf("reference date metadata missing: %v", ufDoc.Metadata)
	}
}

func TestTaxAPIAllPullsFailing(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{errors: map[string]error{"api.example": fmt.Errorf("down")}}
	c := NewTaxAPICollector(config.TaxAPIConfig{
		BaseURL:   "https://api.example/v1/",
		Endpoints: []string{"ncm"},
	}, fetcher, logging.New("error"))

	if _, err := c.Collect(context.Background(), singleDayWindow("2023-05-02")); err == nil {
		t.Fatal("expected an error when every pull fails")
	}
}

// --- news ---

func TestNewsCollect(t *testing.T) {
	t.Parallel()

	listing := `<html><body>
	  <article>
	    <h2>Reforma do ICMS avança</h2>
	    <a href="/noticias/reforma-icms">leia</a>
	    <time datetime="2023-05-02"></time>
	    <p>O estado publicou novas regras.</p>
	  </article>
	  <article>
	    <h2>Notícia antiga</h2>
	    <a href="/noticias/antiga">leia</a>
	    <time datetime="2022-01-01"></time>
	  </article>
	</body></html>`

	fetcher := &fakeFetcher{pages: map[string]string{
		"lista":        listing,
		"reforma-icms": `<html><body><article>Texto completo da reforma do ICMS com mais detalhes.</article></body></html>`,
	}}

	n := NewNewsCollector(config.NewsConfig{
		ListURL:  "https://news.example/lista",
		MaxPages: 3,
		Label:    "news",
	}, fetcher, logging.New("error"))

	docs, err := n.Collect(context.Background(), singleDayWindow("2023-05-02"))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected only the in-window item, got %d", len(docs))
	}
	if docs[0].Title != "Reforma do ICMS avança" {
		t.Fatalf("unexpected title: %s", docs[0].Title)
	}
	if !strings.Contains(docs[0].Text, "Texto completo") {
		t.Fatalf("article body not attached: %q", docs[0].Text)
	}

	// Page 2 repeats the listing, yields nothing new and at least one
	// pre-window item, so page 3 is never requested.
	if got := fetcher.requested("page=3"); got != 0 {
		t.Fatalf("pagination should stop after page 2, requested page 3 %d times", got)
	}
}

// --- tax portal ---

func TestParseBrazilianDate(t *testing.T) {
	t.Parallel()

	if d, ok := parseBrazilianDate("02/05/2023"); !ok || !d.Equal(day("2023-05-02")) {
		t.Fatalf("dd/mm/yyyy mishandled: %v %v", d, ok)
	}
	if d, ok := parseBrazilianDate("2023-05-02"); !ok || !d.Equal(day("2023-05-02")) {
		t.Fatalf("iso date mishandled: %v %v", d, ok)
	}
	if _, ok := parseBrazilianDate("ontem"); ok {
		t.Fatal("prose dates must not parse")
	}
}
