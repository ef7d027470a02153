// Package orchestrator ties the recommendation pipeline together: cache
// lookup, request deduplication, cascading generation, cover enrichment,
// and the background enhancement pass that upgrades placeholder covers
// after the response has already been returned.
package orchestrator

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/stacks-ai/stacks/pkg/cache"
	"github.com/stacks-ai/stacks/pkg/config"
	"github.com/stacks-ai/stacks/pkg/covers"
	"github.com/stacks-ai/stacks/pkg/dedup"
	"github.com/stacks-ai/stacks/pkg/models"
	"github.com/stacks-ai/stacks/pkg/progress"
	"github.com/stacks-ai/stacks/pkg/router"
)

// Origin says where a response came from.
type Origin string

const (
	// OriginCache means the response was served from a cache tier.
	OriginCache Origin = "cache"
	// OriginDedup means the caller joined another caller's in-flight request.
	OriginDedup Origin = "dedup"
	// OriginGenerated means this caller's request drove a fresh generation.
	OriginGenerated Origin = "generated"
)

// Time budget for the background enhancement pass. The caller-facing path
// never waits on cover lookups at all.
const enhanceTimeout = 60 * time.Second

// Orchestrator executes recommendation requests end to end.
type Orchestrator struct {
	cfg    *config.Config
	cache  *cache.Cache
	router *router.Router
	covers *covers.Resolver

	group *dedup.Group[*progress.Tracker, *models.Recommendations]

	mu       sync.Mutex
	inflight map[string]*progress.Tracker

	// enhanceWG lets tests wait for background enhancement to settle.
	enhanceWG sync.WaitGroup
}

// New creates an Orchestrator. The router's late-success hook is claimed by
// the orchestrator to bank abandoned lane results into the cache.
func New(cfg *config.Config, c *cache.Cache, r *router.Router, cv *covers.Resolver) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		cache:    c,
		router:   r,
		covers:   cv,
		group:    dedup.NewGroup[*progress.Tracker, *models.Recommendations](),
		inflight: make(map[string]*progress.Tracker),
	}
	r.OnLateSuccess = o.bankLate
	return o
}

func recKey(input string) string {
	return "rec:" + cache.Fingerprint(input)
}

// Resolve executes a recommendation request. The returned response is always
// complete; an error only occurs when ctx is cancelled while waiting on
// another caller's execution. The observer, if non-nil, receives progress
// updates for the underlying execution.
func (o *Orchestrator) Resolve(ctx context.Context, req models.Request, observer progress.Observer) (*models.Recommendations, Origin, error) {
	key := recKey(req.Input)

	if !req.ForceRefresh {
		if recs, ok := o.fromCache(key); ok {
			log.Printf("orchestrator: cache hit for %q", req.Input)
			return recs, OriginCache, nil
		}
	}

	call, leader := o.group.Acquire(key, progress.NewRecommendationTracker)
	tracker := call.Session

	if observer != nil {
		unsub := tracker.Subscribe(observer)
		defer unsub()
	}

	if !leader {
		log.Printf("orchestrator: joining in-flight request for %q", req.Input)
		recs, err := call.Wait(ctx)
		if err != nil {
			return nil, OriginDedup, err
		}
		return recs, OriginDedup, nil
	}

	o.track(key, tracker)
	defer o.untrack(key)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	tracker.SetCancel(cancel)

	recs := o.execute(runCtx, req, tracker)

	call.Finish(recs, nil)
	o.group.Forget(key)
	return recs, OriginGenerated, nil
}

// execute runs the full pipeline for one request. It never fails.
func (o *Orchestrator) execute(ctx context.Context, req models.Request, tracker *progress.Tracker) *models.Recommendations {
	tracker.Report(progress.StageAnalyze, 1, "analyzing request")

	recs := o.router.Recommend(ctx, req.Input, func(frac float64, msg string) {
		tracker.Report(progress.StageGenerate, frac, msg)
	})
	tracker.Report(progress.StageGenerate, 1, "recommendations ready")

	// Placeholders make the response complete without a single network
	// round trip; real artwork is the enhancement pass's job.
	books := recs.Books()
	for _, book := range books {
		book.Cover = covers.Placeholder(*book).URL
	}
	tracker.Report(progress.StageEnrich, 1, "placeholder covers attached")

	o.store(recKey(req.Input), recs, o.cfg.Cache.PersistentTTL)
	tracker.Complete("done")

	o.enhanceWG.Add(1)
	go o.enhance(req.Input, recs)

	return recs
}

// enhance retries placeholder covers on its own clock, long after the
// response went out. When it upgrades at least one cover it re-stores the
// cache entry with the enhanced TTL so repeat requests see the better
// artwork.
func (o *Orchestrator) enhance(input string, original *models.Recommendations) {
	defer o.enhanceWG.Done()

	// Deep copy: the caller may still be holding the original.
	data, err := json.Marshal(original)
	if err != nil {
		return
	}
	var recs models.Recommendations
	if err := json.Unmarshal(data, &recs); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), enhanceTimeout)
	defer cancel()

	books := recs.Books()
	pending := make([]*models.Book, 0, len(books))
	for _, book := range books {
		if !covers.IsReal(book.Cover) {
			pending = append(pending, book)
		}
	}
	if len(pending) == 0 {
		return
	}

	upgraded := o.covers.ResolveBatch(ctx, pending)
	if upgraded == 0 {
		log.Printf("orchestrator: enhancement found no upgrades for %q", input)
		return
	}

	log.Printf("orchestrator: enhancement upgraded %d/%d covers for %q", upgraded, len(books), input)
	o.store(recKey(input), &recs, o.cfg.Cache.EnhancedTTL)
}

// bankLate stores a lane result that arrived after its deadline.
func (o *Orchestrator) bankLate(recs *models.Recommendations) {
	if recs.Input == "" {
		return
	}
	// Never clobber an existing entry: the live pipeline already produced
	// something fresher for this input.
	key := recKey(recs.Input)
	if _, ok := o.cache.Get(key); ok {
		return
	}
	o.store(key, recs, o.cfg.Cache.PersistentTTL)
}

// Cancel aborts the in-flight execution for an input, if any.
func (o *Orchestrator) Cancel(input string) bool {
	o.mu.Lock()
	tracker, ok := o.inflight[recKey(input)]
	o.mu.Unlock()
	if !ok {
		return false
	}
	tracker.Cancel()
	tracker.Abort("cancelled by caller")
	return true
}

// Close waits for in-flight background enhancement passes to settle. It does
// not close the injected stores; their owners do that.
func (o *Orchestrator) Close() error {
	o.enhanceWG.Wait()
	return nil
}

// CacheStats reports cache counters.
func (o *Orchestrator) CacheStats() models.CacheStats {
	return o.cache.Stats()
}

// ClearCache empties both cache tiers.
func (o *Orchestrator) ClearCache() error {
	return o.cache.Clear()
}

func (o *Orchestrator) fromCache(key string) (*models.Recommendations, bool) {
	data, ok := o.cache.Get(key)
	if !ok {
		return nil, false
	}
	var recs models.Recommendations
	if err := json.Unmarshal(data, &recs); err != nil {
		log.Printf("orchestrator: corrupt cache entry %s: %v", key, err)
		o.cache.Delete(key)
		return nil, false
	}
	return &recs, true
}

func (o *Orchestrator) store(key string, recs *models.Recommendations, ttl time.Duration) {
	data, err := json.Marshal(recs)
	if err != nil {
		log.Printf("orchestrator: marshal for cache failed: %v", err)
		return
	}
	o.cache.Put(key, data, ttl)
}

func (o *Orchestrator) track(key string, tracker *progress.Tracker) {
	o.mu.Lock()
	o.inflight[key] = tracker
	o.mu.Unlock()
}

func (o *Orchestrator) untrack(key string) {
	o.mu.Lock()
	delete(o.inflight, key)
	o.mu.Unlock()
}
