package covers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/stacks-ai/stacks/pkg/config"
	"github.com/stacks-ai/stacks/pkg/models"
)

// Source proposes a cover candidate for a book. A nil result with nil error
// means the source has nothing; the resolver validates candidates itself.
type Source interface {
	Name() string
	Lookup(ctx context.Context, book models.Book) (*models.CoverResult, error)
}

// Sources builds the default source chain in descending confidence order.
func Sources(cfg config.CoversConfig, client *http.Client) []Source {
	return []Source{
		&openLibraryISBN{covers: cfg.CoversURL},
		&googleBooks{base: cfg.GoogleBooksURL, client: client},
		&openLibrarySearch{base: cfg.OpenLibraryURL, covers: cfg.CoversURL, client: client},
		&internetArchive{base: cfg.ArchiveURL, client: client},
	}
}

func getJSON(ctx context.Context, client *http.Client, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	return json.Unmarshal(body, out)
}

// openLibraryISBN constructs the direct ISBN cover URL. ISBN matches are the
// most trustworthy source; the resolver's probe confirms the image exists.
type openLibraryISBN struct {
	covers string
}

func (s *openLibraryISBN) Name() string { return models.SourceOpenLibrary + "-isbn" }

func (s *openLibraryISBN) Lookup(_ context.Context, book models.Book) (*models.CoverResult, error) {
	if book.ISBN == "" {
		return nil, nil
	}
	return &models.CoverResult{
		URL:        fmt.Sprintf("%s/b/isbn/%s-L.jpg", s.covers, book.ISBN),
		Source:     models.SourceOpenLibrary,
		Confidence: 95,
	}, nil
}

// googleBooks queries the volumes API, preferring ISBN lookups.
type googleBooks struct {
	base   string
	client *http.Client
}

func (s *googleBooks) Name() string { return models.SourceGoogleBooks }

func (s *googleBooks) Lookup(ctx context.Context, book models.Book) (*models.CoverResult, error) {
	query := fmt.Sprintf("intitle:%q inauthor:%q", book.Title, book.Author)
	confidence := 75
	if book.ISBN != "" {
		query = "isbn:" + book.ISBN
		confidence = 90
	}

	var data struct {
		Items []struct {
			VolumeInfo struct {
				ImageLinks struct {
					Thumbnail string `json:"thumbnail"`
				} `json:"imageLinks"`
			} `json:"volumeInfo"`
		} `json:"items"`
	}
	endpoint := fmt.Sprintf("%s/volumes?q=%s&maxResults=1", s.base, url.QueryEscape(query))
	if err := getJSON(ctx, s.client, endpoint, &data); err != nil {
		return nil, fmt.Errorf("google books: %w", err)
	}

	if len(data.Items) == 0 || data.Items[0].VolumeInfo.ImageLinks.Thumbnail == "" {
		return nil, nil
	}

	// Thumbnails come small and over plain http; request the large zoom.
	large := strings.ReplaceAll(data.Items[0].VolumeInfo.ImageLinks.Thumbnail, "&zoom=1", "&zoom=0")
	large = strings.Replace(large, "http://", "https://", 1)

	return &models.CoverResult{
		URL:        large,
		Source:     models.SourceGoogleBooks,
		Confidence: confidence,
	}, nil
}

// openLibrarySearch falls back to full-text search, trying progressively
// looser queries.
type openLibrarySearch struct {
	base   string
	covers string
	client *http.Client
}

func (s *openLibrarySearch) Name() string { return models.SourceOpenLibrary + "-search" }

func (s *openLibrarySearch) Lookup(ctx context.Context, book models.Book) (*models.CoverResult, error) {
	queries := []string{
		fmt.Sprintf("title:%q author:%q", book.Title, book.Author),
		book.Title + " " + book.Author,
		book.Title,
	}

	for _, q := range queries {
		var data struct {
			Docs []struct {
				CoverI     int64    `json:"cover_i"`
				AuthorName []string `json:"author_name"`
			} `json:"docs"`
		}
		endpoint := fmt.Sprintf("%s/search.json?q=%s&limit=5", s.base, url.QueryEscape(q))
		if err := getJSON(ctx, s.client, endpoint, &data); err != nil {
			continue
		}

		for _, doc := range data.Docs {
			if doc.CoverI == 0 {
				continue
			}
			confidence := 70
			if authorMatches(doc.AuthorName, book.Author) {
				confidence = 85
			}
			return &models.CoverResult{
				URL:        fmt.Sprintf("%s/b/id/%d-L.jpg", s.covers, doc.CoverI),
				Source:     models.SourceOpenLibrary,
				Confidence: confidence,
			}, nil
		}
	}
	return nil, nil
}

func authorMatches(candidates []string, author string) bool {
	want := strings.ToLower(author)
	for _, c := range candidates {
		got := strings.ToLower(c)
		if strings.Contains(got, want) || strings.Contains(want, got) {
			return true
		}
	}
	return false
}

// internetArchive is the lowest-confidence source; its item thumbnails are
// often scans rather than proper covers.
type internetArchive struct {
	base   string
	client *http.Client
}

func (s *internetArchive) Name() string { return models.SourceArchive }

func (s *internetArchive) Lookup(ctx context.Context, book models.Book) (*models.CoverResult, error) {
	query := fmt.Sprintf("(title:%q AND creator:%q) OR (title:%q)", book.Title, book.Author, book.Title)

	var data struct {
		Response struct {
			Docs []struct {
				Identifier string `json:"identifier"`
			} `json:"docs"`
		} `json:"response"`
	}
	endpoint := fmt.Sprintf("%s/advancedsearch.php?q=%s&fl=identifier,title,creator&rows=5&output=json",
		s.base, url.QueryEscape(query))
	if err := getJSON(ctx, s.client, endpoint, &data); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}

	for _, doc := range data.Response.Docs {
		if doc.Identifier == "" {
			continue
		}
		return &models.CoverResult{
			URL:        fmt.Sprintf("%s/services/img/%s", s.base, doc.Identifier),
			Source:     models.SourceArchive,
			Confidence: 60,
		}, nil
	}
	return nil, nil
}
