package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all stacks configuration.
type Config struct {
	Listen    string           `yaml:"listen"`
	DBPath    string           `yaml:"db_path"`
	Providers []ProviderConfig `yaml:"providers"`
	Routing   RoutingConfig    `yaml:"routing"`
	Lanes     LanesConfig      `yaml:"lanes"`
	Cache     CacheConfig      `yaml:"cache"`
	Covers    CoversConfig     `yaml:"covers"`
	Analytics AnalyticsConfig  `yaml:"analytics"`
}

// ProviderConfig defines an upstream generation backend.
// Type is "openai", "anthropic", or "gemini".
type ProviderConfig struct {
	Name      string  `yaml:"name"`
	URL       string  `yaml:"url"`
	APIKey    string  `yaml:"api_key"`
	Type      string  `yaml:"type"`
	Model     string  `yaml:"model"`
	CostPer1K float64 `yaml:"cost_per_1k"`
}

// RoutingConfig maps logical tasks to ordered provider chains. The first
// provider in a chain is the primary, the second the designated fallback.
type RoutingConfig struct {
	Tasks []TaskRoute `yaml:"tasks"`
}

// TaskRoute is the provider chain for one task.
type TaskRoute struct {
	Task      string   `yaml:"task"`
	Providers []string `yaml:"providers"`
}

// LanesConfig sets the per-lane time budgets for cascading generation.
type LanesConfig struct {
	QuickTimeout     time.Duration `yaml:"quick_timeout"`
	QualityTimeout   time.Duration `yaml:"quality_timeout"`
	EmergencyTimeout time.Duration `yaml:"emergency_timeout"`
}

// CacheConfig controls both cache tiers.
type CacheConfig struct {
	MemoryTTL     time.Duration `yaml:"memory_ttl"`
	PersistentTTL time.Duration `yaml:"persistent_ttl"`
	EnhancedTTL   time.Duration `yaml:"enhanced_ttl"`
	CoverTTL      time.Duration `yaml:"cover_ttl"`
	MaxMemory     int           `yaml:"max_memory"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// CoversConfig controls the cover resolver.
type CoversConfig struct {
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	BatchSize        int           `yaml:"batch_size"`
	ConfidenceCutoff int           `yaml:"confidence_cutoff"`
	OpenLibraryURL   string        `yaml:"openlibrary_url"`
	CoversURL        string        `yaml:"covers_url"`
	GoogleBooksURL   string        `yaml:"googlebooks_url"`
	ArchiveURL       string        `yaml:"archive_url"`
}

// AnalyticsConfig controls the cover event log.
type AnalyticsConfig struct {
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxEntries    int64  `yaml:"max_entries"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "stacks.db",
		Lanes: LanesConfig{
			QuickTimeout:     8 * time.Second,
			QualityTimeout:   90 * time.Second,
			EmergencyTimeout: 5 * time.Second,
		},
		Cache: CacheConfig{
			MemoryTTL:     5 * time.Minute,
			PersistentTTL: 24 * time.Hour,
			EnhancedTTL:   24 * time.Hour,
			CoverTTL:      7 * 24 * time.Hour,
			MaxMemory:     100,
			SweepInterval: 5 * time.Minute,
		},
		Covers: CoversConfig{
			ProbeTimeout:     5 * time.Second,
			BatchSize:        5,
			ConfidenceCutoff: 90,
			OpenLibraryURL:   "https://openlibrary.org",
			CoversURL:        "https://covers.openlibrary.org",
			GoogleBooksURL:   "https://www.googleapis.com/books/v1",
			ArchiveURL:       "https://archive.org",
		},
		Analytics: AnalyticsConfig{
			DBPath:        "stacks-analytics.db",
			RetentionDays: 30,
			MaxEntries:    10000,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Chain returns the ordered provider chain for a task. If no route matches,
// all configured providers are returned in declaration order.
func (c *Config) Chain(task string) []ProviderConfig {
	index := make(map[string]ProviderConfig, len(c.Providers))
	for _, p := range c.Providers {
		index[p.Name] = p
	}

	for _, route := range c.Routing.Tasks {
		if route.Task != task {
			continue
		}
		var chain []ProviderConfig
		for _, name := range route.Providers {
			if p, ok := index[name]; ok {
				chain = append(chain, p)
			}
		}
		if len(chain) > 0 {
			return chain
		}
	}
	return c.Providers
}
