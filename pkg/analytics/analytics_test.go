package analytics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stacks-ai/stacks/pkg/config"
	"github.com/stacks-ai/stacks/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(config.AnalyticsConfig{
		DBPath:        filepath.Join(t.TempDir(), "analytics.db"),
		RetentionDays: 30,
		MaxEntries:    1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(s *Store, source string, success bool, latency int64, errMsg string) {
	s.RecordCover(models.CoverEvent{
		Title:     "T",
		Author:    "A",
		Source:    source,
		LatencyMs: latency,
		Success:   success,
		Error:     errMsg,
		CreatedAt: time.Now().UTC(),
	})
}

func TestRecordAssignsID(t *testing.T) {
	s := newTestStore(t)
	record(s, models.SourceOpenLibrary, true, 100, "")

	events, err := s.Export(context.Background(), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].ID == "" {
		t.Error("event should get a generated ID")
	}
}

func TestSummary(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 8; i++ {
		record(s, models.SourceOpenLibrary, true, int64(100+i*10), "")
	}
	record(s, models.SourceArchive, false, 500, "probe failed")
	record(s, models.SourceArchive, false, 600, "probe failed")

	summary, err := s.Summary(context.Background(), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	if summary.TotalRequests != 10 {
		t.Errorf("TotalRequests = %d, want 10", summary.TotalRequests)
	}
	if summary.SuccessRate != 80 {
		t.Errorf("SuccessRate = %v, want 80", summary.SuccessRate)
	}
	if summary.P50Latency == 0 || summary.P90Latency < summary.P50Latency {
		t.Errorf("percentiles p50=%d p90=%d", summary.P50Latency, summary.P90Latency)
	}
	if summary.ErrorTypes["probe failed"] != 2 {
		t.Errorf("ErrorTypes = %v", summary.ErrorTypes)
	}
	if len(summary.RecentIssues) != 2 {
		t.Errorf("RecentIssues = %d, want 2", len(summary.RecentIssues))
	}
	if len(summary.Sources) != 2 || summary.Sources[0].Source != models.SourceOpenLibrary {
		t.Errorf("Sources = %+v", summary.Sources)
	}
}

func TestSummaryEmpty(t *testing.T) {
	s := newTestStore(t)
	summary, err := s.Summary(context.Background(), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if summary.TotalRequests != 0 || summary.SuccessRate != 0 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestSourcePerformanceGrades(t *testing.T) {
	s := newTestStore(t)
	// openlibrary: 100% -> excellent. archive: 50% -> poor.
	for i := 0; i < 10; i++ {
		record(s, models.SourceOpenLibrary, true, 100, "")
	}
	record(s, models.SourceArchive, true, 100, "")
	record(s, models.SourceArchive, false, 100, "x")

	perf, err := s.SourcePerformance(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(perf) != 2 {
		t.Fatalf("perf = %+v", perf)
	}
	if perf[0].Source != models.SourceOpenLibrary || perf[0].Reliability != "excellent" {
		t.Errorf("perf[0] = %+v", perf[0])
	}
	if perf[1].Reliability != "poor" {
		t.Errorf("perf[1] = %+v", perf[1])
	}
}

func TestHealthStates(t *testing.T) {
	s := newTestStore(t)

	h, err := s.Health(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if h.Status != "healthy" {
		t.Errorf("idle status = %q, want healthy", h.Status)
	}

	// Low success rate plus slow resolutions plus a recurring error.
	for i := 0; i < 5; i++ {
		record(s, models.SourceArchive, false, 5000, "timeout")
	}
	record(s, models.SourceOpenLibrary, true, 5000, "")

	h, err = s.Health(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if h.Status != "critical" {
		t.Errorf("status = %q, want critical (issues: %v)", h.Status, h.Issues)
	}
	if len(h.Recommendations) == 0 {
		t.Error("expected recommendations")
	}
}

func TestCleanupTrimsToMax(t *testing.T) {
	s, err := New(config.AnalyticsConfig{
		DBPath:        filepath.Join(t.TempDir(), "analytics.db"),
		RetentionDays: 30,
		MaxEntries:    5,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	for i := 0; i < 12; i++ {
		s.RecordCover(models.CoverEvent{
			Title: "T", Author: "A", Source: models.SourceOpenLibrary,
			Success: true, CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		})
	}

	removed, err := s.Cleanup(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if removed != 7 {
		t.Errorf("removed = %d, want 7", removed)
	}

	events, err := s.Export(context.Background(), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 5 {
		t.Errorf("remaining = %d, want 5", len(events))
	}
}
