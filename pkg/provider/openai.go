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

type openaiBackend struct {
	name      string
	url       string
	apiKey    string
	model     string
	costPer1K float64
	client    *http.Client
}

func newOpenAI(cfg config.ProviderConfig) *openaiBackend {
	return &openaiBackend{
		name:      cfg.Name,
		url:       cfg.URL,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		costPer1K: cfg.CostPer1K,
		client:    http.DefaultClient,
	}
}

func (b *openaiBackend) Name() string { return b.name }

func (b *openaiBackend) EstimateCost(prompt, response string) float64 {
	return estimateCost(b.costPer1K, prompt, response)
}

type openaiRequest struct {
	Model     string          `json:"model"`
	Messages  []openaiMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Choices []struct {
		Message openaiMessage `json:"message"`
	} `json:"choices"`
}

func (b *openaiBackend) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(openaiRequest{
		Model:     b.model,
		Messages:  []openaiMessage{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

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

	var parsed openaiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("upstream %s returned no choices", b.name)
	}
	return parsed.Choices[0].Message.Content, nil
}
