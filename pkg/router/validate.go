package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stacks-ai/stacks/pkg/models"
)

// ErrInvalidResponse marks a generation that parsed but failed structural
// validation. Lanes treat it differently from transport errors: the quality
// lane retries with a simplified prompt.
var ErrInvalidResponse = errors.New("invalid recommendation response")

// rawResponse mirrors the JSON shape models are instructed to emit.
type rawResponse struct {
	OverallTheme string            `json:"overallTheme"`
	Categories   []models.Category `json:"categories"`
}

// ParseRecommendations extracts and validates a recommendation payload from
// model output. Models wrap JSON in prose or markdown fences often enough
// that we cut from the first "{" to the last "}" before parsing.
func ParseRecommendations(content string) (*models.Recommendations, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object found", ErrInvalidResponse)
	}

	var raw rawResponse
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	if err := validate(raw.Categories); err != nil {
		return nil, err
	}

	return &models.Recommendations{
		Theme:      raw.OverallTheme,
		Categories: raw.Categories,
	}, nil
}

func validate(categories []models.Category) error {
	if len(categories) != 3 {
		return fmt.Errorf("%w: expected 3 categories, got %d", ErrInvalidResponse, len(categories))
	}

	for i, cat := range categories {
		if strings.TrimSpace(cat.Name) == "" {
			return fmt.Errorf("%w: category %d missing name", ErrInvalidResponse, i)
		}
		if strings.TrimSpace(cat.Description) == "" {
			return fmt.Errorf("%w: category %q missing description", ErrInvalidResponse, cat.Name)
		}
		if len(cat.Books) == 0 {
			return fmt.Errorf("%w: category %q has no books", ErrInvalidResponse, cat.Name)
		}
		for j, book := range cat.Books {
			if strings.TrimSpace(book.Title) == "" ||
				strings.TrimSpace(book.Author) == "" ||
				strings.TrimSpace(book.WhyYoullLikeIt) == "" {
				return fmt.Errorf("%w: book %d in %q missing required fields", ErrInvalidResponse, j, cat.Name)
			}
		}
	}
	return nil
}
