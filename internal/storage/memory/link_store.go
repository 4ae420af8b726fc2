package memory

import (
	"context"
	"errors"
	"sync"
)

// MaxLinkHops bounds how many reassignments Resolve follows before giving up on a chain.
const MaxLinkHops = 8

var errEmptyLink = errors.New("link requires both item id and canonical id")

// LinkStore records item ID reassignments.
type LinkStore struct {
	mu    sync.RWMutex
	links map[string]string
}

// NewLinkStore constructs an empty LinkStore.
func NewLinkStore() *LinkStore {
	return &LinkStore{links: make(map[string]string)}
}

// RecordLink remembers that itemID now lives at canonicalID. Self links are ignored.
func (s *LinkStore) RecordLink(_ context.Context, itemID, canonicalID string) error {
	if itemID == "" || canonicalID == "" {
		return errEmptyLink
	}
	if itemID == canonicalID {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[itemID] = canonicalID
	return nil
}

// Resolve follows recorded links from itemID and returns the last ID in the chain.
// Cycles and chains longer than MaxLinkHops stop at the last ID reached.
func (s *LinkStore) Resolve(_ context.Context, itemID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	current := itemID
	visited := map[string]struct{}{itemID: {}}
	for range MaxLinkHops {
		next, ok := s.links[current]
		if !ok {
			break
		}
		if _, seen := visited[next]; seen {
			break
		}
		visited[next] = struct{}{}
		current = next
	}
	if current == itemID {
		return "", false, nil
	}
	return current, true, nil
}
