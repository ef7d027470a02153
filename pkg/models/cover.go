package models

// Cover sources, in rough order of trust.
const (
	SourceOpenLibrary = "openlibrary"
	SourceGoogleBooks = "google"
	SourceArchive     = "archive"
	SourceDescribed   = "described"
	SourceGenerated   = "generated"
	SourceCache       = "cache"
)

// CoverResult is the outcome of resolving one book cover. The resolver always
// produces one, falling back to a generated gradient when no source validates.
type CoverResult struct {
	URL        string `json:"url"`
	Source     string `json:"source"`
	Confidence int    `json:"confidence"`
	Validated  bool   `json:"validated"`
}

// Real reports whether the result points at an actual cover image rather than
// a generated placeholder or textual description.
func (c CoverResult) Real() bool {
	return c.Source != SourceGenerated && c.Source != SourceDescribed && c.URL != ""
}
