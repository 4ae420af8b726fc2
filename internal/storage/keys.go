// Package storage holds helpers shared by the content store implementations.
package storage

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// ErrInvalidKey is returned when a username or item ID cannot be turned into a storage key.
var ErrInvalidKey = errors.New("invalid storage key")

// ContentKey returns "<prefix>/<username>/<itemID>.json" with each segment path-escaped.
func ContentKey(prefix, username, itemID string) (string, error) {
	user, err := segment(username)
	if err != nil {
		return "", fmt.Errorf("username: %w", err)
	}
	item, err := segment(itemID)
	if err != nil {
		return "", fmt.Errorf("item id: %w", err)
	}
	key := path.Join(user, item+".json")
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		key = path.Join(prefix, key)
	}
	return key, nil
}

func segment(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "." || trimmed == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, raw)
	}
	return url.PathEscape(trimmed), nil
}
