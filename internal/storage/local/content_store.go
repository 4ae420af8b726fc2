// Package local implements a content store on the local filesystem.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/readlater-content-loader/internal/content"
	"github.com/JakeFAU/readlater-content-loader/internal/storage"
)

// Config captures the parameters for the local filesystem store.
type Config struct {
	// BaseDir is the root directory articles are written under.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// ContentStore writes one JSON document per article at <base_dir>/<username>/<item>.json.
type ContentStore struct {
	baseDir string
}

// New creates the base directory if needed and verifies it is writable.
func New(cfg Config) (*ContentStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe, err := os.CreateTemp(cfg.BaseDir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("failed to clean up probe file: %w", err)
	}

	return &ContentStore{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// GetContent reads a stored article or returns content.ErrNotFound.
func (s *ContentStore) GetContent(_ context.Context, username, itemID string) (content.ArticleContent, error) {
	fullPath, err := s.path(username, itemID)
	if err != nil {
		return content.ArticleContent{}, err
	}
	data, err := os.ReadFile(fullPath) // #nosec G304 -- path is confined to baseDir
	if errors.Is(err, fs.ErrNotExist) {
		return content.ArticleContent{}, fmt.Errorf("content %s/%s: %w", username, itemID, content.ErrNotFound)
	}
	if err != nil {
		return content.ArticleContent{}, fmt.Errorf("read content: %w", err)
	}
	var article content.ArticleContent
	if err := json.Unmarshal(data, &article); err != nil {
		return content.ArticleContent{}, fmt.Errorf("decode content %s: %w", fullPath, err)
	}
	return article, nil
}

// PutContent writes article atomically, replacing any earlier copy.
func (s *ContentStore) PutContent(_ context.Context, username string, article content.ArticleContent) error {
	fullPath, err := s.path(username, article.ItemID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(article)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (s *ContentStore) path(username, itemID string) (string, error) {
	key, err := storage.ContentKey("", username, itemID)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Clean(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}
