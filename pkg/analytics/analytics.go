// Package analytics records cover resolution events in a dedicated SQLite
// database and aggregates them into summaries, per-source reliability
// grades, and a health check.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/stacks-ai/stacks/pkg/config"
	"github.com/stacks-ai/stacks/pkg/models"
)

// Store writes and aggregates cover events.
type Store struct {
	db   *sql.DB
	cfg  config.AnalyticsConfig
	done chan struct{}
	wg   sync.WaitGroup
}

// New opens the analytics database and starts the retention goroutine.
func New(cfg config.AnalyticsConfig) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open analytics db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate analytics db: %w", err)
	}

	s := &Store{
		db:   db,
		cfg:  cfg,
		done: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.retentionLoop()

	return s, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS cover_events (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		author     TEXT NOT NULL,
		isbn       TEXT,
		source     TEXT NOT NULL,
		confidence INTEGER NOT NULL,
		latency_ms INTEGER NOT NULL,
		success    INTEGER NOT NULL,
		error      TEXT,
		retries    INTEGER NOT NULL,
		created_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return err
	}
	if _, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_cover_events_source ON cover_events(source)`); err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_cover_events_created ON cover_events(created_at)`)
	return err
}

// RecordCover inserts a cover event, assigning an ID if none is set. Errors
// are logged, not returned; analytics must never fail a resolution.
func (s *Store) RecordCover(event models.CoverEvent) {
	if s == nil || s.db == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO cover_events
		(id, title, author, isbn, source, confidence, latency_ms, success, error, retries, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Title, event.Author, event.ISBN, event.Source,
		event.Confidence, event.LatencyMs, event.Success, event.Error,
		event.Retries, event.CreatedAt,
	)
	if err != nil {
		log.Printf("analytics: record failed: %v", err)
	}
}

// Summary aggregates events since the given time.
func (s *Store) Summary(ctx context.Context, since time.Time) (*models.AnalyticsSummary, error) {
	events, err := s.query(ctx, since)
	if err != nil {
		return nil, err
	}

	summary := &models.AnalyticsSummary{
		ErrorTypes: make(map[string]int64),
	}
	if len(events) == 0 {
		return summary, nil
	}

	var successes int64
	var totalLatency int64
	latencies := make([]int64, 0, len(events))
	type srcAgg struct {
		requests  int64
		successes int64
		latency   int64
	}
	bySource := make(map[string]*srcAgg)

	for _, e := range events {
		summary.TotalRequests++
		totalLatency += e.LatencyMs
		latencies = append(latencies, e.LatencyMs)
		if e.Success {
			successes++
		}
		if e.Error != "" {
			summary.ErrorTypes[e.Error]++
		}

		agg := bySource[e.Source]
		if agg == nil {
			agg = &srcAgg{}
			bySource[e.Source] = agg
		}
		agg.requests++
		agg.latency += e.LatencyMs
		if e.Success {
			agg.successes++
		}
	}

	summary.SuccessRate = float64(successes) / float64(summary.TotalRequests) * 100
	summary.AvgLatency = float64(totalLatency) / float64(summary.TotalRequests)

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	summary.P50Latency = latencies[len(latencies)*50/100]
	summary.P90Latency = latencies[len(latencies)*90/100]
	summary.P99Latency = latencies[len(latencies)*99/100]

	for source, agg := range bySource {
		summary.Sources = append(summary.Sources, models.SourceStats{
			Source:      source,
			Requests:    agg.requests,
			SuccessRate: float64(agg.successes) / float64(agg.requests) * 100,
			AvgLatency:  float64(agg.latency) / float64(agg.requests),
		})
	}
	sort.Slice(summary.Sources, func(i, j int) bool {
		return summary.Sources[i].Requests > summary.Sources[j].Requests
	})

	// Last ten failures, most recent first. query returns newest first.
	for _, e := range events {
		if !e.Success && len(summary.RecentIssues) < 10 {
			summary.RecentIssues = append(summary.RecentIssues, e)
		}
	}

	return summary, nil
}

// SourcePerformance grades each source over the trailing week.
func (s *Store) SourcePerformance(ctx context.Context) ([]models.SourcePerformance, error) {
	summary, err := s.Summary(ctx, time.Now().AddDate(0, 0, -7))
	if err != nil {
		return nil, err
	}

	perf := make([]models.SourcePerformance, 0, len(summary.Sources))
	for _, src := range summary.Sources {
		grade := "poor"
		switch {
		case src.SuccessRate >= 95:
			grade = "excellent"
		case src.SuccessRate >= 85:
			grade = "good"
		case src.SuccessRate >= 70:
			grade = "fair"
		}
		perf = append(perf, models.SourcePerformance{
			Source:      src.Source,
			Requests:    src.Requests,
			SuccessRate: src.SuccessRate,
			AvgLatency:  src.AvgLatency,
			Reliability: grade,
		})
	}
	sort.Slice(perf, func(i, j int) bool { return perf[i].SuccessRate > perf[j].SuccessRate })
	return perf, nil
}

// Health evaluates the resolver's recent behavior.
func (s *Store) Health(ctx context.Context) (*models.Health, error) {
	summary, err := s.Summary(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}

	if summary.TotalRequests == 0 {
		return &models.Health{
			Status:          "healthy",
			Issues:          []string{"No recent activity"},
			Recommendations: []string{"System is ready"},
		}, nil
	}

	var issues, recs []string
	if summary.SuccessRate < 90 {
		issues = append(issues, fmt.Sprintf("Success rate is %.1f%% (target: >90%%)", summary.SuccessRate))
	}
	if summary.AvgLatency > 3000 {
		issues = append(issues, fmt.Sprintf("Average resolution time is %.0fms (target: <3s)", summary.AvgLatency))
	}
	for msg, count := range summary.ErrorTypes {
		if count > 3 {
			issues = append(issues, fmt.Sprintf("Frequent error: %q (%d occurrences)", msg, count))
			break
		}
	}

	if summary.SuccessRate < 95 {
		recs = append(recs, "Consider adding more image sources to the fallback chain")
	}
	if summary.AvgLatency > 2000 {
		recs = append(recs, "Implement image URL pre-validation to reduce failed requests")
	}

	status := "healthy"
	switch {
	case len(issues) > 2:
		status = "critical"
	case len(issues) > 0:
		status = "degraded"
	}

	return &models.Health{Status: status, Issues: issues, Recommendations: recs}, nil
}

// Export returns all events since the given time, newest first.
func (s *Store) Export(ctx context.Context, since time.Time) ([]models.CoverEvent, error) {
	return s.query(ctx, since)
}

func (s *Store) query(ctx context.Context, since time.Time) ([]models.CoverEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, author, isbn, source, confidence, latency_ms, success, error, retries, created_at
		 FROM cover_events WHERE created_at >= ? ORDER BY created_at DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("query cover events: %w", err)
	}
	defer rows.Close()

	var events []models.CoverEvent
	for rows.Next() {
		var e models.CoverEvent
		var isbn, errMsg sql.NullString
		if err := rows.Scan(
			&e.ID, &e.Title, &e.Author, &isbn, &e.Source, &e.Confidence,
			&e.LatencyMs, &e.Success, &errMsg, &e.Retries, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan cover event: %w", err)
		}
		e.ISBN = isbn.String
		e.Error = errMsg.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// Cleanup deletes events past the retention window and trims the table to
// the configured maximum. Returns how many rows were removed.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	res, err := s.db.ExecContext(ctx, `DELETE FROM cover_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("analytics cleanup: %w", err)
	}
	removed, _ := res.RowsAffected()

	if s.cfg.MaxEntries > 0 {
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM cover_events WHERE id NOT IN
			 (SELECT id FROM cover_events ORDER BY created_at DESC LIMIT ?)`, s.cfg.MaxEntries)
		if err != nil {
			return removed, fmt.Errorf("analytics trim: %w", err)
		}
		trimmed, _ := res.RowsAffected()
		removed += trimmed
	}
	return removed, nil
}

// Close stops the retention goroutine and closes the database.
func (s *Store) Close() error {
	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}

func (s *Store) retentionLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if _, err := s.Cleanup(context.Background()); err != nil {
				log.Printf("analytics: retention cleanup failed: %v", err)
			}
		}
	}
}
