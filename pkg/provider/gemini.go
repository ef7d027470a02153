package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/stacks-ai/stacks/pkg/config"
)

type geminiBackend struct {
	name      string
	url       string
	apiKey    string
	model     string
	costPer1K float64
	client    *http.Client
}

func newGemini(cfg config.ProviderConfig) *geminiBackend {
	return &geminiBackend{
		name:      cfg.Name,
		url:       cfg.URL,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		costPer1K: cfg.CostPer1K,
		client:    http.DefaultClient,
	}
}

func (b *geminiBackend) Name() string { return b.name }

func (b *geminiBackend) EstimateCost(prompt, response string) float64 {
	return estimateCost(b.costPer1K, prompt, response)
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (b *geminiBackend) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(geminiRequest{
		Contents:         []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenConfig{MaxOutputTokens: maxTokens},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", b.url, b.model, b.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upstream %s: %w", b.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upstream %s returned %d", b.name, resp.StatusCode)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("upstream %s returned no candidates", b.name)
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}
