package models

import "time"

// Request is a caller-facing recommendation request.
type Request struct {
	Input        string `json:"input"`
	ForceRefresh bool   `json:"force_refresh,omitempty"`
}

// Recommendations is the complete response for one request. It always carries
// exactly three categories, each with at least one book.
type Recommendations struct {
	Theme      string     `json:"theme"`
	Categories []Category `json:"categories"`
	Input      string     `json:"input"`
	CreatedAt  time.Time  `json:"created_at"`
	Cost       float64    `json:"cost"`
	Backends   []string   `json:"backends"`
}

// Category groups books under one discovery angle (plot, characters, mood).
type Category struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Books       []Book `json:"books"`
}

// Book is a single recommended title. Cover is the only field rewritten after
// the initial response, by the background enhancement pass.
type Book struct {
	Title          string `json:"title"`
	Author         string `json:"author"`
	ISBN           string `json:"isbn,omitempty"`
	Year           string `json:"year,omitempty"`
	WhyYoullLikeIt string `json:"whyYoullLikeIt"`
	Summary        string `json:"summary"`
	PageCount      string `json:"pageCount,omitempty"`
	Publisher      string `json:"publisher,omitempty"`
	Cover          string `json:"cover,omitempty"`
}

// Books returns every book across all categories in category order.
func (r *Recommendations) Books() []*Book {
	var out []*Book
	for ci := range r.Categories {
		for bi := range r.Categories[ci].Books {
			out = append(out, &r.Categories[ci].Books[bi])
		}
	}
	return out
}
