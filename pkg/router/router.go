// Package router runs recommendation generation through cascading lanes:
// a fast cheap attempt, a patient high-quality attempt with one simplified
// retry, a final short AI attempt, then the deterministic local fallback.
// Recommend never fails; the caller always gets a complete response.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/stacks-ai/stacks/pkg/config"
	"github.com/stacks-ai/stacks/pkg/fallback"
	"github.com/stacks-ai/stacks/pkg/models"
	"github.com/stacks-ai/stacks/pkg/provider"
)

// Token caps per lane. Tighter caps push models toward parseable output.
const (
	maxTokensQuick     = 1200
	maxTokensQuality   = 1500
	maxTokensRetry     = 1000
	maxTokensEmergency = 600
)

// ProgressFunc receives fractional generation progress in [0,1].
type ProgressFunc func(frac float64, message string)

// Router cascades generation across lanes over an ordered backend chain.
type Router struct {
	backends []provider.Backend
	lanes    config.LanesConfig

	// OnLateSuccess is invoked when an abandoned lane finishes with a
	// valid response after its deadline already fired. The work is paid
	// for either way; the hook lets callers bank it in the cache.
	OnLateSuccess func(*models.Recommendations)
}

// New creates a Router over the given backend chain.
func New(backends []provider.Backend, lanes config.LanesConfig) *Router {
	return &Router{backends: backends, lanes: lanes}
}

// attempt is the outcome of one generation try.
type attempt struct {
	recs    *models.Recommendations
	cost    float64
	backend string
	err     error
}

// Recommend produces recommendations for the input, cascading through lanes
// until one yields a valid response. It never returns nil and never fails.
func (r *Router) Recommend(ctx context.Context, input string, onProgress ProgressFunc) *models.Recommendations {
	if onProgress == nil {
		onProgress = func(float64, string) {}
	}

	totalCost := 0.0
	var used []string

	// Quick lane.
	onProgress(0.1, "trying quick lane")
	a := r.race(ctx, r.lanes.QuickTimeout, input, buildCompactPrompt(input), maxTokensQuick, "quick")
	totalCost += a.cost
	if a.err == nil {
		log.Printf("router: quick lane succeeded via %s", a.backend)
		return r.finalize(a.recs, input, totalCost, append(used, a.backend))
	}
	log.Printf("router: quick lane failed: %v", a.err)

	// Quality lane, with one simplified retry on validation failure.
	onProgress(0.35, "trying quality lane")
	a = r.race(ctx, r.lanes.QualityTimeout, input, buildPrompt(input), maxTokensQuality, "quality")
	totalCost += a.cost
	if a.err == nil {
		log.Printf("router: quality lane succeeded via %s", a.backend)
		return r.finalize(a.recs, input, totalCost, append(used, a.backend+"_quality"))
	}
	log.Printf("router: quality lane failed: %v", a.err)

	if errors.Is(a.err, ErrInvalidResponse) {
		onProgress(0.6, "retrying with simplified prompt")
		retry := r.race(ctx, r.lanes.QualityTimeout, input, buildSimplifiedPrompt(input), maxTokensRetry, "quality-retry")
		totalCost += retry.cost
		if retry.err == nil {
			log.Printf("router: simplified retry succeeded via %s", retry.backend)
			return r.finalize(retry.recs, input, totalCost, append(used, retry.backend+"_retry"))
		}
		log.Printf("router: simplified retry failed: %v", retry.err)
	}

	// Emergency lane: one last short AI attempt with the simplified prompt.
	onProgress(0.8, "trying emergency lane")
	a = r.race(ctx, r.lanes.EmergencyTimeout, input, buildSimplifiedPrompt(input), maxTokensEmergency, "emergency")
	totalCost += a.cost
	if a.err == nil {
		log.Printf("router: emergency lane succeeded via %s", a.backend)
		return r.finalize(a.recs, input, totalCost, append(used, a.backend+"_emergency"))
	}
	log.Printf("router: emergency lane failed: %v", a.err)

	// Local fallback. Always succeeds.
	onProgress(0.95, "using local fallback")
	recs := fallback.Recommend(input)
	recs.Cost = totalCost
	return recs
}

// race runs one generation attempt against a lane deadline. The attempt is
// abandoned, not cancelled, on timeout: if it later completes with a valid
// response, OnLateSuccess gets it.
func (r *Router) race(ctx context.Context, timeout time.Duration, input, prompt string, maxTokens int, lane string) attempt {
	ch := make(chan attempt, 1)
	go func() {
		ch <- r.generate(ctx, prompt, maxTokens)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case a := <-ch:
		return a
	case <-ctx.Done():
		go r.harvest(ch, input, lane)
		return attempt{err: ctx.Err()}
	case <-timer.C:
		go r.harvest(ch, input, lane)
		return attempt{err: fmt.Errorf("%s lane timed out after %s", lane, timeout)}
	}
}

// harvest drains an abandoned attempt and hands a late valid response to
// OnLateSuccess.
func (r *Router) harvest(ch <-chan attempt, input, lane string) {
	a := <-ch
	if a.err != nil || r.OnLateSuccess == nil {
		return
	}
	log.Printf("router: %s lane completed after deadline via %s, banking result", lane, a.backend)
	r.OnLateSuccess(r.finalize(a.recs, input, a.cost, []string{a.backend + "_late"}))
}

// generate tries the primary backend and, on transport error, the designated
// fallback backend. A response that fails validation is not retried here;
// lane policy decides what happens next.
func (r *Router) generate(ctx context.Context, prompt string, maxTokens int) attempt {
	if len(r.backends) == 0 {
		return attempt{err: errors.New("no backends configured")}
	}

	chain := r.backends
	if len(chain) > 2 {
		chain = chain[:2]
	}

	var lastErr error
	for _, b := range chain {
		content, err := b.Complete(ctx, prompt, maxTokens)
		if err != nil {
			lastErr = err
			log.Printf("router: backend %s failed: %v", b.Name(), err)
			continue
		}

		cost := b.EstimateCost(prompt, content)
		recs, err := ParseRecommendations(content)
		if err != nil {
			return attempt{cost: cost, backend: b.Name(), err: err}
		}
		return attempt{recs: recs, cost: cost, backend: b.Name()}
	}
	return attempt{err: lastErr}
}

func (r *Router) finalize(recs *models.Recommendations, input string, cost float64, backends []string) *models.Recommendations {
	recs.Input = input
	recs.CreatedAt = time.Now().UTC()
	recs.Cost = cost
	recs.Backends = backends
	return recs
}
