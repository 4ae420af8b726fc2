package content

import (
	"errors"
	"fmt"
)

var (
	// ErrBadData is reported when content could not be loaded: either the attempt cap was
	// reached or the backend gave a definitive failure.
	ErrBadData = errors.New("bad data")
	// ErrNotFound is returned by stores and the backend client when an item is unknown.
	ErrNotFound = errors.New("not found")
	// ErrQueueClosed is returned by queues after shutdown.
	ErrQueueClosed = errors.New("queue closed")
)

// LoadErrorReason distinguishes the causes folded into ErrBadData.
type LoadErrorReason string

// Reasons a load can end in ErrBadData.
const (
	ReasonAttemptsExhausted  LoadErrorReason = "attempts_exhausted"
	ReasonContentFailed      LoadErrorReason = "content_failed"
	ReasonUnrecognizedStatus LoadErrorReason = "unrecognized_status"
)

// LoadError is the terminal failure of a retry chain. It always matches ErrBadData.
type LoadError struct {
	Reason  LoadErrorReason
	ItemID  string
	Attempt int
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load content %s: %s after attempt %d: %v", e.ItemID, e.Reason, e.Attempt, ErrBadData)
}

// Unwrap exposes ErrBadData to errors.Is.
func (e *LoadError) Unwrap() error {
	return ErrBadData
}
