// Package uuid generates prefetch batch identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator implements content.IDGenerator with UUIDv7 values. Batch IDs
// therefore sort by submission time in logs and on the Pub/Sub topic.
type Generator struct{}

// New returns a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a fresh batch ID.
func (*Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("new batch id: %w", err)
	}
	return id.String(), nil
}
