// Package content defines the core types shared by the loader, prefetch, storage and queue packages.
package content

import "strings"

// ContentStatus is the backend-reported state of asynchronous article extraction.
type ContentStatus string

// Content status values reported by the Article Content Fetch Service.
const (
	StatusProcessing ContentStatus = "PROCESSING"
	StatusSucceeded  ContentStatus = "SUCCEEDED"
	StatusFailed     ContentStatus = "FAILED"
	StatusUnknown    ContentStatus = "UNKNOWN"
)

// ParseContentStatus maps a wire value onto the closed status set.
// Anything unrecognized becomes StatusUnknown.
func ParseContentStatus(raw string) ContentStatus {
	switch ContentStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatusProcessing:
		return StatusProcessing
	case StatusSucceeded:
		return StatusSucceeded
	case StatusFailed:
		return StatusFailed
	default:
		return StatusUnknown
	}
}

// Terminal reports whether the status ends a retry chain.
func (s ContentStatus) Terminal() bool {
	return s != StatusProcessing
}

// ArticleContent is the parsed article returned by the fetch service.
// HTMLContent is only meaningful when Status is StatusSucceeded.
type ArticleContent struct {
	ItemID         string        `json:"item_id"`
	Title          string        `json:"title,omitempty"`
	HTMLContent    string        `json:"content,omitempty"`
	HighlightsJSON string        `json:"highlights,omitempty"`
	Status         ContentStatus `json:"status"`
}

// FetchRequest is one attempt in a retry chain.
type FetchRequest struct {
	ItemID   string
	Username string
	Attempt  int
}

// PendingLink seeds a prefetch task.
type PendingLink struct {
	ItemID     string `json:"item_id"`
	RetryCount int    `json:"retry_count"`
}

// PrefetchRequest carries a batch of item IDs to warm for one user.
type PrefetchRequest struct {
	BatchID  string   `json:"batch_id,omitempty"`
	Username string   `json:"username"`
	ItemIDs  []string `json:"item_ids"`
}
