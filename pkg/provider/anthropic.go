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

const anthropicVersion = "2023-06-01"

type anthropicBackend struct {
	name      string
	url       string
	apiKey    string
	model     string
	costPer1K float64
	client    *http.Client
}

func newAnthropic(cfg config.ProviderConfig) *anthropicBackend {
	return &anthropicBackend{
		name:      cfg.Name,
		url:       cfg.URL,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		costPer1K: cfg.CostPer1K,
		client:    http.DefaultClient,
	}
}

func (b *anthropicBackend) Name() string { return b.name }

func (b *anthropicBackend) EstimateCost(prompt, response string) float64 {
	return estimateCost(b.costPer1K, prompt, response)
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (b *anthropicBackend) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     b.model,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", b.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

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

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	for _, block := range parsed.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("upstream %s returned no text content", b.name)
}
