package main

import (
	"fmt"

	"github.com/stacks-ai/stacks/pkg/analytics"
	"github.com/stacks-ai/stacks/pkg/cache"
	"github.com/stacks-ai/stacks/pkg/cache/sqlite"
	"github.com/stacks-ai/stacks/pkg/config"
	"github.com/stacks-ai/stacks/pkg/covers"
	"github.com/stacks-ai/stacks/pkg/orchestrator"
	"github.com/stacks-ai/stacks/pkg/provider"
	"github.com/stacks-ai/stacks/pkg/router"
)

// services is the fully wired application: cache tiers, analytics, backends,
// and the orchestrator on top.
type services struct {
	cfg       *config.Config
	cache     *cache.Cache
	analytics *analytics.Store
	orch      *orchestrator.Orchestrator
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// buildServices constructs every component explicitly. The returned cleanup
// closes them in reverse order.
func buildServices(cfg *config.Config) (*services, func(), error) {
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open cache db: %w", err)
	}
	c := cache.New(store, cfg.Cache.MaxMemory, cfg.Cache.MemoryTTL, cfg.Cache.SweepInterval)

	a, err := analytics.New(cfg.Analytics)
	if err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("open analytics db: %w", err)
	}

	backends, err := provider.FromConfigs(cfg.Chain("recommend"))
	if err != nil {
		_ = a.Close()
		_ = c.Close()
		return nil, nil, err
	}

	var describer covers.Describer
	if len(backends) > 0 {
		describer = covers.NewBackendDescriber(backends[0])
	}
	resolver := covers.NewResolver(cfg.Covers, cfg.Cache.CoverTTL, c, describer, a)

	rtr := router.New(backends, cfg.Lanes)
	orch := orchestrator.New(cfg, c, rtr, resolver)

	cleanup := func() {
		_ = orch.Close()
		_ = a.Close()
		_ = c.Close()
	}
	return &services{cfg: cfg, cache: c, analytics: a, orch: orch}, cleanup, nil
}
