package covers

import (
	"context"
	"fmt"
	"strings"

	"github.com/stacks-ai/stacks/pkg/models"
	"github.com/stacks-ai/stacks/pkg/provider"
)

const describeMaxTokens = 120

// BackendDescriber asks a generation backend for a one-sentence visual
// description of a cover, used when no image source produces anything.
type BackendDescriber struct {
	backend provider.Backend
}

// NewBackendDescriber wraps a backend as a Describer.
func NewBackendDescriber(b provider.Backend) *BackendDescriber {
	return &BackendDescriber{backend: b}
}

// Describe returns a short description of the book's likely cover design.
func (d *BackendDescriber) Describe(ctx context.Context, book models.Book) (string, error) {
	prompt := fmt.Sprintf(
		"In one short sentence, describe a plausible cover design for the book %q by %s. Respond with the description only.",
		book.Title, book.Author,
	)
	text, err := d.backend.Complete(ctx, prompt, describeMaxTokens)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
