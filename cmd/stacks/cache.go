package main

import (
	"fmt"

	"github.com/spf13/cobra"

	cachepkg "github.com/stacks-ai/stacks/pkg/cache"
	"github.com/stacks-ai/stacks/pkg/cache/sqlite"
)

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the recommendation cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := openCache(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats := c.Stats()
			fmt.Printf("Memory entries:     %d\n", stats.MemoryEntries)
			fmt.Printf("Persistent entries: %d\n", stats.PersistentEntries)
			fmt.Printf("Hits:               %d\n", stats.Hits)
			fmt.Printf("Misses:             %d\n", stats.Misses)
			fmt.Printf("Promotions:         %d\n", stats.Promotions)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear both cache tiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := openCache(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := c.Clear(); err != nil {
				return err
			}
			fmt.Println("All cache entries cleared.")
			return nil
		},
	}

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete expired persistent entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, err := sqlite.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			removed, err := store.Purge()
			if err != nil {
				return err
			}
			fmt.Printf("Purged %d expired entries.\n", removed)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.AddCommand(statsCmd, clearCmd, purgeCmd)
	return cmd
}

func openCache(configPath string) (*cachepkg.Cache, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open cache db: %w", err)
	}
	c := cachepkg.New(store, cfg.Cache.MaxMemory, cfg.Cache.MemoryTTL, 0)
	return c, func() { _ = c.Close() }, nil
}
