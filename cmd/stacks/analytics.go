package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stacks-ai/stacks/pkg/analytics"
	"github.com/stacks-ai/stacks/pkg/models"
)

func newAnalyticsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Query the cover resolution analytics",
	}

	cmd.AddCommand(
		newAnalyticsSummaryCmd(),
		newAnalyticsSourcesCmd(),
		newAnalyticsHealthCmd(),
		newAnalyticsExportCmd(),
		newAnalyticsCleanupCmd(),
	)
	return cmd
}

func newAnalyticsSummaryCmd() *cobra.Command {
	var (
		configPath string
		since      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show aggregate cover resolution statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := openAnalytics(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			summary, err := s.Summary(context.Background(), time.Now().Add(-since))
			if err != nil {
				return err
			}
			fmt.Print(formatSummary(summary))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "look-back window")
	return cmd
}

func newAnalyticsSourcesCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Grade each cover source's reliability over the last week",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := openAnalytics(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			perf, err := s.SourcePerformance(context.Background())
			if err != nil {
				return err
			}
			if len(perf) == 0 {
				fmt.Println("No cover events recorded yet.")
				return nil
			}

			fmt.Printf("%-20s %10s %10s %12s %-10s\n",
				"SOURCE", "REQUESTS", "SUCCESS", "AVG LATENCY", "GRADE")
			fmt.Println(strings.Repeat("-", 68))
			for _, p := range perf {
				fmt.Printf("%-20s %10d %9.1f%% %10.0fms %-10s\n",
					p.Source, p.Requests, p.SuccessRate, p.AvgLatency, p.Reliability)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}

func newAnalyticsHealthCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Evaluate cover resolution health over the last day",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := openAnalytics(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			health, err := s.Health(context.Background())
			if err != nil {
				return err
			}

			fmt.Printf("Status: %s\n", health.Status)
			for _, issue := range health.Issues {
				fmt.Printf("  issue: %s\n", issue)
			}
			for _, rec := range health.Recommendations {
				fmt.Printf("  recommendation: %s\n", rec)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}

func newAnalyticsExportCmd() *cobra.Command {
	var (
		configPath string
		since      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Dump raw cover events as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := openAnalytics(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			events, err := s.Export(context.Background(), time.Now().Add(-since))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(events)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().DurationVar(&since, "since", 7*24*time.Hour, "look-back window")
	return cmd
}

func newAnalyticsCleanupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete events past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := openAnalytics(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			removed, err := s.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d cover events.\n", removed)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}

func openAnalytics(configPath string) (*analytics.Store, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	s, err := analytics.New(cfg.Analytics)
	if err != nil {
		return nil, nil, fmt.Errorf("open analytics db: %w", err)
	}
	return s, func() { _ = s.Close() }, nil
}

func formatSummary(s *models.AnalyticsSummary) string {
	if s.TotalRequests == 0 {
		return "No cover events in the window.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Requests:     %d\n", s.TotalRequests)
	fmt.Fprintf(&b, "Success rate: %.1f%%\n", s.SuccessRate)
	fmt.Fprintf(&b, "Avg latency:  %.0fms\n", s.AvgLatency)
	fmt.Fprintf(&b, "Latency p50/p90/p99: %dms / %dms / %dms\n",
		s.P50Latency, s.P90Latency, s.P99Latency)

	if len(s.Sources) > 0 {
		fmt.Fprintf(&b, "\n%-20s %10s %10s %12s\n", "SOURCE", "REQUESTS", "SUCCESS", "AVG LATENCY")
		b.WriteString(strings.Repeat("-", 56) + "\n")
		for _, src := range s.Sources {
			fmt.Fprintf(&b, "%-20s %10d %9.1f%% %10.0fms\n",
				src.Source, src.Requests, src.SuccessRate, src.AvgLatency)
		}
	}

	if len(s.RecentIssues) > 0 {
		b.WriteString("\nRecent failures:\n")
		for _, e := range s.RecentIssues {
			fmt.Fprintf(&b, "  %s by %s (%s): %s\n", e.Title, e.Author, e.Source, e.Error)
		}
	}
	return b.String()
}
