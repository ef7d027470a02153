// Package provider implements upstream text-generation backends. Each
// backend speaks one wire format (openai, anthropic, gemini) and exposes a
// uniform Complete call; lane routing happens above this layer.
package provider

import (
	"context"
	"fmt"
	"math"

	"github.com/stacks-ai/stacks/pkg/config"
)

// Backend is a single upstream generation provider.
type Backend interface {
	// Name returns the configured provider name.
	Name() string

	// Complete sends a prompt and returns the generated text. maxTokens
	// caps the response length; the backend translates it to its wire
	// format's field.
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)

	// EstimateCost approximates the dollar cost of a call from prompt and
	// response text lengths.
	EstimateCost(prompt, response string) float64
}

// New constructs a Backend from provider configuration.
func New(cfg config.ProviderConfig) (Backend, error) {
	switch cfg.Type {
	case "openai":
		return newOpenAI(cfg), nil
	case "anthropic":
		return newAnthropic(cfg), nil
	case "gemini":
		return newGemini(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

// FromConfigs constructs backends for a provider chain, skipping entries
// with unknown types.
func FromConfigs(cfgs []config.ProviderConfig) ([]Backend, error) {
	var backends []Backend
	for _, c := range cfgs {
		b, err := New(c)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", c.Name, err)
		}
		backends = append(backends, b)
	}
	return backends, nil
}

// estimateCost approximates tokens at four characters each and prices them
// at the provider's per-1K rate.
func estimateCost(costPer1K float64, prompt, response string) float64 {
	tokens := math.Ceil(float64(len(prompt)+len(response)) / 4)
	return tokens / 1000 * costPer1K
}
