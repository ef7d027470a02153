package covers

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stacks-ai/stacks/pkg/cache"
	"github.com/stacks-ai/stacks/pkg/cache/sqlite"
	"github.com/stacks-ai/stacks/pkg/config"
	"github.com/stacks-ai/stacks/pkg/models"
)

// fakeSources simulates all upstream cover APIs behind one server.
type fakeSources struct {
	mu          sync.Mutex
	isbnOK      bool
	isbnHTML    bool // serve a 200 HTML page instead of an image
	googleItems bool
	searchDocs  bool
	archiveDocs bool
	hits        map[string]int
}

func (f *fakeSources) handler() http.Handler {
	mux := http.NewServeMux()
	count := func(name string) {
		f.mu.Lock()
		f.hits[name]++
		f.mu.Unlock()
	}
	mux.HandleFunc("/b/", func(w http.ResponseWriter, r *http.Request) {
		count("probe-openlibrary")
		if strings.Contains(r.URL.Path, "/isbn/") {
			if f.isbnHTML {
				w.Header().Set("Content-Type", "text/html")
				w.WriteHeader(http.StatusOK)
				return
			}
			if !f.isbnOK {
				http.NotFound(w, r)
				return
			}
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/volumes", func(w http.ResponseWriter, r *http.Request) {
		count("google")
		if !f.googleItems {
			w.Write([]byte(`{}`))
			return
		}
		w.Write([]byte(`{"items":[{"volumeInfo":{"imageLinks":{"thumbnail":"http://books.example/thumb?id=1&zoom=1"}}}]}`))
	})
	mux.HandleFunc("/search.json", func(w http.ResponseWriter, r *http.Request) {
		count("search")
		if !f.searchDocs {
			w.Write([]byte(`{"docs":[]}`))
			return
		}
		w.Write([]byte(`{"docs":[{"cover_i":42,"author_name":["Gillian Flynn"]}]}`))
	})
	mux.HandleFunc("/advancedsearch.php", func(w http.ResponseWriter, r *http.Request) {
		count("archive")
		if !f.archiveDocs {
			w.Write([]byte(`{"response":{"docs":[]}}`))
			return
		}
		w.Write([]byte(`{"response":{"docs":[{"identifier":"gonegirl0000flyn"}]}}`))
	})
	mux.HandleFunc("/services/img/", func(w http.ResponseWriter, r *http.Request) {
		count("probe-archive")
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (f *fakeSources) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[name]
}

type captureRecorder struct {
	mu     sync.Mutex
	events []models.CoverEvent
}

func (c *captureRecorder) RecordCover(e models.CoverEvent) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func newTestResolver(t *testing.T, f *fakeSources, describer Describer, recorder Recorder) *Resolver {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	store, err := sqlite.New(filepath.Join(t.TempDir(), "covers.db"))
	if err != nil {
		t.Fatal(err)
	}
	c := cache.New(store, 100, time.Minute, 0)
	t.Cleanup(func() { _ = c.Close() })

	cfg := config.CoversConfig{
		ProbeTimeout:     2 * time.Second,
		BatchSize:        5,
		ConfidenceCutoff: 90,
		OpenLibraryURL:   srv.URL,
		CoversURL:        srv.URL,
		GoogleBooksURL:   srv.URL,
		ArchiveURL:       srv.URL,
	}
	return NewResolver(cfg, time.Hour, c, describer, recorder)
}

func TestISBNShortCircuits(t *testing.T) {
	f := &fakeSources{isbnOK: true, hits: map[string]int{}}
	r := newTestResolver(t, f, nil, nil)

	got := r.Resolve(context.Background(), models.Book{Title: "Gone Girl", Author: "Gillian Flynn", ISBN: "9780307588364"})
	if got.Source != models.SourceOpenLibrary || got.Confidence != 95 {
		t.Fatalf("result = %+v", got)
	}
	if !got.Validated {
		t.Error("ISBN hit should be probe-validated")
	}
	if f.count("google") != 0 || f.count("search") != 0 {
		t.Error("lower-confidence sources should not be queried after an ISBN hit")
	}
}

func TestFallsThroughToSearch(t *testing.T) {
	f := &fakeSources{searchDocs: true, hits: map[string]int{}}
	rec := &captureRecorder{}
	r := newTestResolver(t, f, nil, rec)

	got := r.Resolve(context.Background(), models.Book{Title: "Gone Girl", Author: "Gillian Flynn"})
	if got.Source != models.SourceOpenLibrary || got.Confidence != 85 {
		t.Fatalf("result = %+v", got)
	}
	if !strings.Contains(got.URL, "/b/id/42-L.jpg") {
		t.Errorf("URL = %q", got.URL)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 1 || !rec.events[0].Success {
		t.Errorf("events = %+v", rec.events)
	}
}

func TestGoogleThumbnailRewrite(t *testing.T) {
	f := &fakeSources{googleItems: true, hits: map[string]int{}}
	r := newTestResolver(t, f, nil, nil)

	// The rewritten google URL points off-server, so probe validation would
	// fail; check the rewrite at the source level instead.
	got, err := Sources(r.cfg, r.client)[1].Lookup(context.Background(), models.Book{Title: "Gone Girl", Author: "Gillian Flynn"})
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected a candidate")
	}
	if !strings.HasPrefix(got.URL, "https://") || strings.Contains(got.URL, "zoom=1") {
		t.Errorf("URL = %q, want https large zoom", got.URL)
	}
	if got.Confidence != 75 {
		t.Errorf("confidence = %d, want 75 without ISBN", got.Confidence)
	}
}

func TestGradientWhenNothingFound(t *testing.T) {
	f := &fakeSources{hits: map[string]int{}}
	rec := &captureRecorder{}
	r := newTestResolver(t, f, nil, rec)

	book := models.Book{Title: "Unknown Book", Author: "Nobody"}
	got := r.Resolve(context.Background(), book)
	if got.Source != models.SourceGenerated {
		t.Fatalf("source = %q, want generated", got.Source)
	}
	if !strings.HasPrefix(got.URL, "gradient:#") {
		t.Errorf("URL = %q", got.URL)
	}
	if got.Real() {
		t.Error("a gradient is not a real cover")
	}

	// Deterministic: same book, same gradient.
	if again := gradientFor(book); again.URL != got.URL {
		t.Errorf("gradient not deterministic: %q vs %q", got.URL, again.URL)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 1 || rec.events[0].Success {
		t.Errorf("events = %+v", rec.events)
	}
}

func TestProbeRejectsNonImageResponses(t *testing.T) {
	f := &fakeSources{isbnHTML: true, hits: map[string]int{}}
	r := newTestResolver(t, f, nil, nil)

	// The ISBN URL answers 200 with an HTML page. That must not be trusted
	// as a cover.
	got := r.Resolve(context.Background(), models.Book{Title: "Gone Girl", Author: "Gillian Flynn", ISBN: "9780307588364"})
	if got.Source != models.SourceGenerated {
		t.Fatalf("source = %q, want generated after non-image probe", got.Source)
	}
	if f.count("probe-openlibrary") == 0 {
		t.Error("the candidate should have been probed")
	}
}

func TestPaletteIndexStaysInBounds(t *testing.T) {
	for _, h := range []int32{0, 1, -1, 41, -41, math.MaxInt32, math.MinInt32} {
		idx := paletteIndex(h)
		if idx < 0 || idx >= len(gradientPalette) {
			t.Errorf("paletteIndex(%d) = %d, out of range", h, idx)
		}
	}
}

type fakeDescriber struct{ text string }

func (d *fakeDescriber) Describe(context.Context, models.Book) (string, error) {
	return d.text, nil
}

func TestDescriberBeforeGradient(t *testing.T) {
	f := &fakeSources{hits: map[string]int{}}
	r := newTestResolver(t, f, &fakeDescriber{text: "A stark red title on black"}, nil)

	got := r.Resolve(context.Background(), models.Book{Title: "Unknown", Author: "Nobody"})
	if got.Source != models.SourceDescribed {
		t.Fatalf("source = %q, want described", got.Source)
	}
	if !strings.HasPrefix(got.URL, "described:") {
		t.Errorf("URL = %q", got.URL)
	}
}

func TestResolveCaches(t *testing.T) {
	f := &fakeSources{isbnOK: true, hits: map[string]int{}}
	r := newTestResolver(t, f, nil, nil)
	book := models.Book{Title: "Gone Girl", Author: "Gillian Flynn", ISBN: "9780307588364"}

	first := r.Resolve(context.Background(), book)
	probes := f.count("probe-openlibrary")

	second := r.Resolve(context.Background(), book)
	if second != first {
		t.Errorf("cached result differs: %+v vs %+v", second, first)
	}
	if f.count("probe-openlibrary") != probes {
		t.Error("second resolve should not touch upstream")
	}
}

func TestResolveBatch(t *testing.T) {
	f := &fakeSources{isbnOK: true, hits: map[string]int{}}
	r := newTestResolver(t, f, nil, nil)

	books := []*models.Book{
		{Title: "Gone Girl", Author: "Gillian Flynn", ISBN: "9780307588364"},
		{Title: "Unknown Book", Author: "Nobody"},
	}

	real := r.ResolveBatch(context.Background(), books)
	if real != 1 {
		t.Errorf("real covers = %d, want 1", real)
	}
	if books[0].Cover == "" || !strings.Contains(books[0].Cover, "/b/isbn/") {
		t.Errorf("first cover = %q", books[0].Cover)
	}
	if !strings.HasPrefix(books[1].Cover, "gradient:") {
		t.Errorf("second cover = %q", books[1].Cover)
	}
}

func TestConcurrentResolutionCollapses(t *testing.T) {
	var probes atomic.Int32
	block := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/b/", func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
		<-block
		w.Header().Set("Content-Type", "image/jpeg")
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := config.CoversConfig{
		ProbeTimeout:     5 * time.Second,
		BatchSize:        5,
		ConfidenceCutoff: 90,
		OpenLibraryURL:   srv.URL,
		CoversURL:        srv.URL,
		GoogleBooksURL:   srv.URL,
		ArchiveURL:       srv.URL,
	}
	r := NewResolver(cfg, time.Hour, nil, nil, nil)
	book := models.Book{Title: "T", Author: "A", ISBN: "123"}

	var wg sync.WaitGroup
	results := make([]models.CoverResult, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Resolve(context.Background(), book)
		}(i)
	}

	// Give all goroutines time to reach the group, then release the probe.
	time.Sleep(50 * time.Millisecond)
	close(block)
	wg.Wait()

	if n := probes.Load(); n != 1 {
		t.Errorf("probes = %d, want 1", n)
	}
	for i, res := range results {
		if res.URL != results[0].URL {
			t.Errorf("result %d differs: %+v", i, res)
		}
	}
}
