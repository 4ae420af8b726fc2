// Package memory provides in-process content and link stores for local development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/readlater-content-loader/internal/content"
	"github.com/JakeFAU/readlater-content-loader/internal/storage"
)

// ContentStore keeps article content in a map keyed by user and item.
type ContentStore struct {
	mu       sync.RWMutex
	articles map[string]content.ArticleContent
}

// NewContentStore constructs an empty ContentStore.
func NewContentStore() *ContentStore {
	return &ContentStore{articles: make(map[string]content.ArticleContent)}
}

// GetContent returns the stored article or content.ErrNotFound.
func (s *ContentStore) GetContent(_ context.Context, username, itemID string) (content.ArticleContent, error) {
	key, err := storage.ContentKey("", username, itemID)
	if err != nil {
		return content.ArticleContent{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	article, ok := s.articles[key]
	if !ok {
		return content.ArticleContent{}, fmt.Errorf("content %s/%s: %w", username, itemID, content.ErrNotFound)
	}
	return article, nil
}

// PutContent stores article under its ItemID, replacing any earlier copy.
func (s *ContentStore) PutContent(_ context.Context, username string, article content.ArticleContent) error {
	key, err := storage.ContentKey("", username, article.ItemID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles[key] = article
	return nil
}

// Len reports how many articles are stored.
func (s *ContentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.articles)
}
