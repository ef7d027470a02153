// Package progress tracks multi-stage request progress and fans updates out
// to subscribed observers. Percentages are monotonic: a stage reporting out
// of order can never move the bar backwards.
package progress

import (
	"context"
	"log"
	"sync"
)

// Stage names for recommendation requests.
const (
	StageAnalyze  = "analyze"
	StageGenerate = "generate"
	StageEnrich   = "enrich"
	StageFinalize = "finalize"
)

// Stage is one weighted phase of a tracked operation. Weights are relative;
// they need not sum to 100.
type Stage struct {
	Name   string
	Weight int
}

// Update is a point-in-time progress report delivered to observers.
type Update struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
	Done    bool   `json:"done"`
	Aborted bool   `json:"aborted,omitempty"`
}

// Observer receives progress updates. Observers are invoked on their own
// goroutine and must not assume ordering across trackers.
type Observer func(Update)

// Tracker accumulates weighted stage progress for one in-flight request.
type Tracker struct {
	mu        sync.Mutex
	stages    []Stage
	total     int
	completed map[string]float64 // stage name -> fraction done [0,1]
	percent   int
	last      Update
	done      bool

	observers map[int]Observer
	nextID    int

	cancel context.CancelFunc
}

// NewTracker creates a Tracker over the given stages.
func NewTracker(stages ...Stage) *Tracker {
	total := 0
	for _, s := range stages {
		total += s.Weight
	}
	return &Tracker{
		stages:    stages,
		total:     total,
		completed: make(map[string]float64, len(stages)),
		observers: make(map[int]Observer),
	}
}

// NewRecommendationTracker creates a Tracker with the standard stage weights
// for a recommendation request.
func NewRecommendationTracker() *Tracker {
	return NewTracker(
		Stage{Name: StageAnalyze, Weight: 10},
		Stage{Name: StageGenerate, Weight: 60},
		Stage{Name: StageEnrich, Weight: 25},
		Stage{Name: StageFinalize, Weight: 5},
	)
}

// Subscribe registers an observer and returns an unsubscribe func. The
// observer immediately receives the latest update, if any was published.
func (t *Tracker) Subscribe(obs Observer) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.observers[id] = obs
	replay := t.last
	hasReplay := replay.Stage != "" || replay.Done
	t.mu.Unlock()

	if hasReplay {
		notify(obs, replay)
	}

	return func() {
		t.mu.Lock()
		delete(t.observers, id)
		t.mu.Unlock()
	}
}

// SetCancel attaches the cancel func for the underlying operation so a
// caller-side abort can stop work in flight.
func (t *Tracker) SetCancel(cancel context.CancelFunc) {
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
}

// Cancel aborts the underlying operation, if a cancel func was attached.
func (t *Tracker) Cancel() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Report records fractional completion of a stage and publishes the update.
// frac is clamped to [0,1]; unknown stages are ignored.
func (t *Tracker) Report(stage string, frac float64, message string) {
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}

	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	known := false
	for _, s := range t.stages {
		if s.Name == stage {
			known = true
			break
		}
	}
	if !known {
		t.mu.Unlock()
		return
	}
	if frac > t.completed[stage] {
		t.completed[stage] = frac
	}

	weighted := 0.0
	for _, s := range t.stages {
		weighted += t.completed[s.Name] * float64(s.Weight)
	}
	pct := int(weighted * 100 / float64(t.total))
	if pct > t.percent {
		t.percent = pct
	}

	update := Update{Stage: stage, Percent: t.percent, Message: message}
	t.last = update
	obs := t.snapshot()
	t.mu.Unlock()

	for _, o := range obs {
		notify(o, update)
	}
}

// Complete marks the operation finished, pins the bar at 100, and releases
// all observers.
func (t *Tracker) Complete(message string) {
	t.finish(Update{Stage: StageFinalize, Percent: 100, Message: message, Done: true})
}

// Abort marks the operation as abandoned without claiming completion. The
// bar stays wherever it was.
func (t *Tracker) Abort(message string) {
	t.mu.Lock()
	pct := t.percent
	t.mu.Unlock()
	t.finish(Update{Percent: pct, Message: message, Done: true, Aborted: true})
}

// Percent returns the current monotonic percentage.
func (t *Tracker) Percent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percent
}

func (t *Tracker) finish(update Update) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	if update.Percent > t.percent {
		t.percent = update.Percent
	}
	update.Percent = t.percent
	t.last = update
	obs := t.snapshot()
	t.observers = make(map[int]Observer)
	t.cancel = nil
	t.mu.Unlock()

	for _, o := range obs {
		notify(o, update)
	}
}

func (t *Tracker) snapshot() []Observer {
	obs := make([]Observer, 0, len(t.observers))
	for _, o := range t.observers {
		obs = append(obs, o)
	}
	return obs
}

// notify runs an observer on its own goroutine. A panicking observer must
// not take the tracked request down with it.
func notify(obs Observer, update Update) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("progress: observer panic: %v", r)
			}
		}()
		obs(update)
	}()
}
