package models

import "time"

// CoverEvent records one cover resolution outcome. Events are a first-class
// output of the resolver: the degradation policy is audited through them.
type CoverEvent struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Author     string    `json:"author"`
	ISBN       string    `json:"isbn,omitempty"`
	Source     string    `json:"source"`
	Confidence int       `json:"confidence"`
	LatencyMs  int64     `json:"latency_ms"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Retries    int       `json:"retries"`
	CreatedAt  time.Time `json:"created_at"`
}

// SourceStats aggregates outcomes for one cover source.
type SourceStats struct {
	Source      string  `json:"source"`
	Requests    int64   `json:"requests"`
	SuccessRate float64 `json:"success_rate"`
	AvgLatency  float64 `json:"avg_latency_ms"`
}

// AnalyticsSummary aggregates cover events over a time window.
type AnalyticsSummary struct {
	TotalRequests int64                  `json:"total_requests"`
	SuccessRate   float64                `json:"success_rate"`
	AvgLatency    float64                `json:"avg_latency_ms"`
	P50Latency    int64                  `json:"p50_latency_ms"`
	P90Latency    int64                  `json:"p90_latency_ms"`
	P99Latency    int64                  `json:"p99_latency_ms"`
	Sources       []SourceStats          `json:"sources"`
	ErrorTypes    map[string]int64       `json:"error_types"`
	RecentIssues  []CoverEvent           `json:"recent_issues"`
}

// SourcePerformance grades one source's reliability over the trailing week.
type SourcePerformance struct {
	Source      string  `json:"source"`
	Requests    int64   `json:"requests"`
	SuccessRate float64 `json:"success_rate"`
	AvgLatency  float64 `json:"avg_latency_ms"`
	Reliability string  `json:"reliability"` // excellent, good, fair, poor
}

// Health is a point-in-time read of resolver health.
type Health struct {
	Status          string   `json:"status"` // healthy, degraded, critical
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}
