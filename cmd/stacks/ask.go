package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stacks-ai/stacks/pkg/models"
	"github.com/stacks-ai/stacks/pkg/orchestrator"
	"github.com/stacks-ai/stacks/pkg/progress"
)

func newAskCmd() *cobra.Command {
	var (
		configPath string
		refresh    bool
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "ask <input>",
		Short: "Get book recommendations for a free-text request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			svcs, cleanup, err := buildServices(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			observer := func(u progress.Update) {
				if !asJSON && !u.Done {
					fmt.Fprintf(os.Stderr, "[%3d%%] %s\n", u.Percent, u.Message)
				}
			}

			req := models.Request{Input: args[0], ForceRefresh: refresh}
			recs, origin, err := svcs.orch.Resolve(cmd.Context(), req, observer)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(recs)
			}

			fmt.Print(formatRecommendations(recs, origin))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "skip the cache and regenerate")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON response")
	return cmd
}

func formatRecommendations(recs *models.Recommendations, origin orchestrator.Origin) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  (source: %s, cost: $%.4f)\n", recs.Theme, origin, recs.Cost)
	for _, cat := range recs.Categories {
		fmt.Fprintf(&b, "\n%s\n%s\n", cat.Name, strings.Repeat("-", len(cat.Name)))
		for _, book := range cat.Books {
			fmt.Fprintf(&b, "  %s by %s", book.Title, book.Author)
			if book.Year != "" {
				fmt.Fprintf(&b, " (%s)", book.Year)
			}
			b.WriteString("\n")
			if book.WhyYoullLikeIt != "" {
				fmt.Fprintf(&b, "    %s\n", book.WhyYoullLikeIt)
			}
		}
	}
	return b.String()
}
