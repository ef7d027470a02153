package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stacks-ai/stacks/pkg/config"
	"github.com/stacks-ai/stacks/pkg/fallback"
	"github.com/stacks-ai/stacks/pkg/models"
	"github.com/stacks-ai/stacks/pkg/provider"
)

type fakeBackend struct {
	name     string
	complete func(ctx context.Context, prompt string, maxTokens int) (string, error)
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return f.complete(ctx, prompt, maxTokens)
}

func (f *fakeBackend) EstimateCost(prompt, response string) float64 { return 0.01 }

var _ provider.Backend = (*fakeBackend)(nil)

func testLanes() config.LanesConfig {
	return config.LanesConfig{
		QuickTimeout:     100 * time.Millisecond,
		QualityTimeout:   200 * time.Millisecond,
		EmergencyTimeout: 100 * time.Millisecond,
	}
}

func alwaysValid(name string) *fakeBackend {
	return &fakeBackend{name: name, complete: func(context.Context, string, int) (string, error) {
		return validJSON, nil
	}}
}

func isFallback(recs *models.Recommendations) bool {
	return len(recs.Backends) == 1 && recs.Backends[0] == fallback.BackendTag
}

func TestQuickLaneSuccess(t *testing.T) {
	r := New([]provider.Backend{alwaysValid("fast")}, testLanes())

	recs := r.Recommend(context.Background(), "thrillers", nil)
	if recs == nil {
		t.Fatal("Recommend returned nil")
	}
	if len(recs.Backends) != 1 || recs.Backends[0] != "fast" {
		t.Errorf("Backends = %v, want [fast]", recs.Backends)
	}
	if recs.Input != "thrillers" {
		t.Errorf("Input = %q", recs.Input)
	}
	if recs.Cost != 0.01 {
		t.Errorf("Cost = %v, want 0.01", recs.Cost)
	}
}

func TestTransportErrorTriesFallbackBackend(t *testing.T) {
	primary := &fakeBackend{name: "primary", complete: func(context.Context, string, int) (string, error) {
		return "", errors.New("connection refused")
	}}
	r := New([]provider.Backend{primary, alwaysValid("backup")}, testLanes())

	recs := r.Recommend(context.Background(), "thrillers", nil)
	if len(recs.Backends) != 1 || recs.Backends[0] != "backup" {
		t.Errorf("Backends = %v, want [backup]", recs.Backends)
	}
}

func TestQuickTimeoutFallsToQuality(t *testing.T) {
	var calls int
	var mu sync.Mutex
	slow := &fakeBackend{name: "b", complete: func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			time.Sleep(300 * time.Millisecond) // past the quick deadline
		}
		return validJSON, nil
	}}
	r := New([]provider.Backend{slow}, testLanes())

	recs := r.Recommend(context.Background(), "thrillers", nil)
	if len(recs.Backends) != 1 || recs.Backends[0] != "b_quality" {
		t.Errorf("Backends = %v, want [b_quality]", recs.Backends)
	}
}

func TestQuickLaneUsesCompactPrompt(t *testing.T) {
	var mu sync.Mutex
	var prompts []string
	b := &fakeBackend{name: "b", complete: func(_ context.Context, prompt string, _ int) (string, error) {
		mu.Lock()
		prompts = append(prompts, prompt)
		n := len(prompts)
		mu.Unlock()
		if n == 1 {
			return "not json", nil // push the cascade into the quality lane
		}
		return validJSON, nil
	}}
	r := New([]provider.Backend{b}, testLanes())

	recs := r.Recommend(context.Background(), "thrillers", nil)
	if len(recs.Backends) != 1 || recs.Backends[0] != "b_quality" {
		t.Fatalf("Backends = %v, want [b_quality]", recs.Backends)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(prompts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(prompts))
	}
	if prompts[0] == prompts[1] {
		t.Error("quick lane should not reuse the quality lane prompt")
	}
	if len(prompts[0]) >= len(prompts[1]) {
		t.Errorf("quick prompt is %d chars, quality is %d; quick should be the compact one",
			len(prompts[0]), len(prompts[1]))
	}
}

func TestLateSuccessIsBanked(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var calls int
	b := &fakeBackend{name: "b", complete: func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			<-release // quick lane attempt outlives every deadline
			return validJSON, nil
		}
		return "", errors.New("down")
	}}

	r := New([]provider.Backend{b}, testLanes())
	banked := make(chan *models.Recommendations, 1)
	r.OnLateSuccess = func(recs *models.Recommendations) { banked <- recs }

	recs := r.Recommend(context.Background(), "thrillers", nil)
	if !isFallback(recs) {
		t.Fatalf("Backends = %v, want local fallback", recs.Backends)
	}

	close(release)
	select {
	case late := <-banked:
		if len(late.Backends) != 1 || late.Backends[0] != "b_late" {
			t.Errorf("late Backends = %v", late.Backends)
		}
		if len(late.Categories) != 3 {
			t.Errorf("late categories = %d", len(late.Categories))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("late success was never banked")
	}
}

func TestInvalidQualityResponseTriggersSimplifiedRetry(t *testing.T) {
	var mu sync.Mutex
	var prompts []string
	b := &fakeBackend{name: "b", complete: func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		mu.Lock()
		prompts = append(prompts, prompt)
		n := len(prompts)
		mu.Unlock()
		if n <= 2 {
			return "not json at all", nil // quick and quality fail validation
		}
		if maxTokens != maxTokensRetry {
			t.Errorf("retry maxTokens = %d, want %d", maxTokens, maxTokensRetry)
		}
		return validJSON, nil
	}}
	r := New([]provider.Backend{b}, testLanes())

	recs := r.Recommend(context.Background(), "thrillers", nil)
	if len(recs.Backends) != 1 || recs.Backends[0] != "b_retry" {
		t.Fatalf("Backends = %v, want [b_retry]", recs.Backends)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(prompts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(prompts))
	}
	if !strings.Contains(prompts[2], "book recommendation expert") {
		t.Error("retry should use the simplified prompt")
	}
	// Cost of the failed quality response is still paid and reported.
	if recs.Cost < 0.03 {
		t.Errorf("Cost = %v, want at least 3 attempts' worth", recs.Cost)
	}
}

func TestAllLanesFailUsesLocalFallback(t *testing.T) {
	dead := &fakeBackend{name: "dead", complete: func(context.Context, string, int) (string, error) {
		return "", errors.New("unreachable")
	}}
	r := New([]provider.Backend{dead}, testLanes())

	recs := r.Recommend(context.Background(), "zombies", nil)
	if !isFallback(recs) {
		t.Fatalf("Backends = %v, want local fallback", recs.Backends)
	}
	if len(recs.Categories) != 3 {
		t.Errorf("categories = %d, want 3", len(recs.Categories))
	}
	if recs.Categories[0].Books[0].Title != "The Stand" {
		t.Errorf("fallback should match the zombies keyword, got %q", recs.Categories[0].Books[0].Title)
	}
}

func TestNoBackendsUsesLocalFallback(t *testing.T) {
	r := New(nil, testLanes())
	recs := r.Recommend(context.Background(), "anything", nil)
	if !isFallback(recs) {
		t.Fatalf("Backends = %v, want local fallback", recs.Backends)
	}
}

func TestProgressReported(t *testing.T) {
	dead := &fakeBackend{name: "dead", complete: func(context.Context, string, int) (string, error) {
		return "", errors.New("unreachable")
	}}
	r := New([]provider.Backend{dead}, testLanes())

	var mu sync.Mutex
	var fracs []float64
	r.Recommend(context.Background(), "x", func(frac float64, _ string) {
		mu.Lock()
		fracs = append(fracs, frac)
		mu.Unlock()
	})

	mu.Lock()
	defer mu.Unlock()
	if len(fracs) < 3 {
		t.Fatalf("progress calls = %d, want several", len(fracs))
	}
	for i := 1; i < len(fracs); i++ {
		if fracs[i] < fracs[i-1] {
			t.Errorf("progress went backwards: %v", fracs)
		}
	}
}
