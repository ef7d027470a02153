// Package covers resolves book cover artwork from multiple public sources,
// ranked by confidence. Resolution never fails: when every source comes up
// empty the resolver degrades to an AI-written description and finally to a
// deterministic gradient placeholder.
package covers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacks-ai/stacks/pkg/cache"
	"github.com/stacks-ai/stacks/pkg/config"
	"github.com/stacks-ai/stacks/pkg/dedup"
	"github.com/stacks-ai/stacks/pkg/models"
)

// Describer produces a short textual description of a cover when no image
// can be found. Typically backed by a generation backend.
type Describer interface {
	Describe(ctx context.Context, book models.Book) (string, error)
}

// Recorder receives one event per cover resolution.
type Recorder interface {
	RecordCover(event models.CoverEvent)
}

// Resolver finds the best available cover for a book.
type Resolver struct {
	sources  []Source
	cache    *cache.Cache
	group    *dedup.Group[struct{}, models.CoverResult]
	client   *http.Client
	cfg      config.CoversConfig
	coverTTL time.Duration

	describer Describer
	recorder  Recorder
}

// NewResolver creates a Resolver. cache, describer, and recorder may be nil;
// the corresponding behavior is skipped.
func NewResolver(cfg config.CoversConfig, coverTTL time.Duration, c *cache.Cache, describer Describer, recorder Recorder) *Resolver {
	client := &http.Client{Timeout: cfg.ProbeTimeout}
	return &Resolver{
		sources:   Sources(cfg, client),
		cache:     c,
		group:     dedup.NewGroup[struct{}, models.CoverResult](),
		client:    client,
		cfg:       cfg,
		coverTTL:  coverTTL,
		describer: describer,
		recorder:  recorder,
	}
}

func coverKey(book models.Book) string {
	return "cover:" + cache.Fingerprint(book.Title+"-"+book.Author+"-"+book.ISBN)
}

// Resolve returns the best cover for the book. Concurrent resolutions of the
// same book collapse into one.
func (r *Resolver) Resolve(ctx context.Context, book models.Book) models.CoverResult {
	key := coverKey(book)

	if r.cache != nil {
		if data, ok := r.cache.Get(key); ok {
			var result models.CoverResult
			if err := json.Unmarshal(data, &result); err == nil {
				return result
			}
		}
	}

	call, leader := r.group.Acquire(key, func() struct{} { return struct{}{} })
	if !leader {
		result, err := call.Wait(ctx)
		if err != nil {
			// Waiter gave up; degrade locally rather than block.
			return gradientFor(book)
		}
		return result
	}

	result := r.resolve(ctx, book)
	// Placeholders are never cached: a later attempt (the background
	// enhancement pass in particular) should get a fresh shot at the
	// real sources.
	if r.cache != nil && result.Real() {
		if data, err := json.Marshal(result); err == nil {
			r.cache.Put(key, data, r.coverTTL)
		}
	}
	call.Finish(result, nil)
	r.group.Forget(key)
	return result
}

func (r *Resolver) resolve(ctx context.Context, book models.Book) models.CoverResult {
	start := time.Now()
	var best *models.CoverResult
	tried := 0

	for _, src := range r.sources {
		tried++
		candidate, err := src.Lookup(ctx, book)
		if err != nil {
			log.Printf("covers: %s lookup failed for %q: %v", src.Name(), book.Title, err)
			continue
		}
		if candidate == nil {
			continue
		}
		if !r.probe(ctx, candidate.URL) {
			log.Printf("covers: %s candidate for %q failed probe", src.Name(), book.Title)
			continue
		}
		candidate.Validated = true

		if best == nil || candidate.Confidence > best.Confidence {
			best = candidate
		}
		// A high-confidence validated hit ends the search.
		if best.Confidence >= r.cfg.ConfidenceCutoff {
			break
		}
	}

	if best != nil {
		r.record(book, *best, start, tried, "")
		return *best
	}

	if r.describer != nil {
		if desc, err := r.describer.Describe(ctx, book); err == nil && strings.TrimSpace(desc) != "" {
			result := models.CoverResult{
				URL:        "described:" + desc,
				Source:     models.SourceDescribed,
				Confidence: 30,
			}
			r.record(book, result, start, tried, "")
			return result
		} else if err != nil {
			log.Printf("covers: describe failed for %q: %v", book.Title, err)
		}
	}

	result := gradientFor(book)
	r.record(book, result, start, tried, "no source produced a cover")
	return result
}

// probe confirms a candidate URL actually serves an image. A 200 that isn't
// an image (an HTML error page, a soft 404) is rejected like any miss.
func (r *Resolver) probe(ctx context.Context, rawURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false
	}
	return strings.HasPrefix(resp.Header.Get("Content-Type"), "image/")
}

func (r *Resolver) record(book models.Book, result models.CoverResult, start time.Time, tried int, errMsg string) {
	if r.recorder == nil {
		return
	}
	r.recorder.RecordCover(models.CoverEvent{
		Title:      book.Title,
		Author:     book.Author,
		ISBN:       book.ISBN,
		Source:     result.Source,
		Confidence: result.Confidence,
		LatencyMs:  time.Since(start).Milliseconds(),
		Success:    result.Real(),
		Error:      errMsg,
		Retries:    tried - 1,
		CreatedAt:  time.Now().UTC(),
	})
}

// ResolveBatch resolves covers for all books in place, bounding concurrency.
// It returns how many books got a real cover.
func (r *Resolver) ResolveBatch(ctx context.Context, books []*models.Book) int {
	g, ctx := errgroup.WithContext(ctx)
	limit := r.cfg.BatchSize
	if limit <= 0 {
		limit = 5
	}
	g.SetLimit(limit)

	results := make([]models.CoverResult, len(books))
	for i, book := range books {
		g.Go(func() error {
			results[i] = r.Resolve(ctx, *book)
			return nil
		})
	}
	_ = g.Wait()

	real := 0
	for i, book := range books {
		book.Cover = results[i].URL
		if results[i].Real() {
			real++
		}
	}
	return real
}

// IsReal reports whether a cover URL points at actual artwork rather than a
// gradient or described placeholder.
func IsReal(url string) bool {
	return url != "" && !strings.HasPrefix(url, "gradient:") && !strings.HasPrefix(url, "described:")
}

// Gradient color pairs for placeholder covers.
var gradientPalette = [][2]string{
	{"#00A8CC", "#0081A7"},
	{"#F07167", "#C1666B"},
	{"#06D6A0", "#118AB2"},
	{"#7209B7", "#B5179E"},
	{"#F72585", "#4361EE"},
	{"#FCA311", "#E76F51"},
}

// Placeholder returns the deterministic gradient placeholder for a book. It
// is pure and network-free; the same book always gets the same gradient.
func Placeholder(book models.Book) models.CoverResult {
	return gradientFor(book)
}

func gradientFor(book models.Book) models.CoverResult {
	var h int32
	for _, r := range book.Title + book.Author {
		h = h<<5 - h + int32(r)
	}
	pair := gradientPalette[paletteIndex(h)]
	return models.CoverResult{
		URL:        fmt.Sprintf("gradient:%s:%s", pair[0], pair[1]),
		Source:     models.SourceGenerated,
		Confidence: 100,
	}
}

// paletteIndex maps a signed hash to a palette slot. Reducing before taking
// the absolute value keeps the minimum int32, whose negation overflows, from
// escaping the palette bounds.
func paletteIndex(h int32) int {
	idx := int(h % int32(len(gradientPalette)))
	if idx < 0 {
		idx = -idx
	}
	return idx
}
