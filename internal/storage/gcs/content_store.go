// Package gcs provides a content store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/readlater-content-loader/internal/content"
	keys "github.com/JakeFAU/readlater-content-loader/internal/storage"
)

// Config captures the parameters required to store content in GCS.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// ContentStore persists article content as JSON objects in a bucket.
type ContentStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed content store.
func New(client *storage.Client, cfg Config) (*ContentStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &ContentStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// GetContent downloads the stored article or returns content.ErrNotFound.
func (s *ContentStore) GetContent(ctx context.Context, username, itemID string) (content.ArticleContent, error) {
	key, err := keys.ContentKey(s.prefix, username, itemID)
	if err != nil {
		return content.ArticleContent{}, err
	}
	reader, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return content.ArticleContent{}, fmt.Errorf("object gs://%s/%s: %w", s.bucket, key, content.ErrNotFound)
	}
	if err != nil {
		return content.ArticleContent{}, fmt.Errorf("open object: %w", err)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return content.ArticleContent{}, fmt.Errorf("read object: %w", err)
	}
	var article content.ArticleContent
	if err := json.Unmarshal(data, &article); err != nil {
		return content.ArticleContent{}, fmt.Errorf("decode object gs://%s/%s: %w", s.bucket, key, err)
	}
	return article, nil
}

// PutContent uploads article as JSON, replacing any earlier copy.
func (s *ContentStore) PutContent(ctx context.Context, username string, article content.ArticleContent) error {
	key, err := keys.ContentKey(s.prefix, username, article.ItemID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(article)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}

	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}
