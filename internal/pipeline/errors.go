package pipeline

import (
	"errors"
	"fmt"
)

// Validation failures map to 400 responses and are never retried.
var (
	ErrInvalidURL     = errors.New("invalid URL provided, should be a full URL starting with http:// or https://")
	ErrCrawlNeedsJSON = errors.New("crawl subpages can only be enabled with JSON content type")
)

// ErrSessionUnavailable indicates the browser session could not be launched
// after retries. No extraction is attempted.
var ErrSessionUnavailable = errors.New("could not start browser session")

// ExtractionError wraps a navigation or extraction failure that survived the
// extractor's own retry loop.
type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// SocialFetchError wraps a terminal syndication failure (empty-body responses
// degrade locally instead and never produce this).
type SocialFetchError struct {
	PostID string
	Err    error
}

func (e *SocialFetchError) Error() string {
	return fmt.Sprintf("social fetch failed for post %s: %v", e.PostID, e.Err)
}

func (e *SocialFetchError) Unwrap() error { return e.Err }
