// Package system provides the process clock used to time retry chains.
package system

import "time"

// Clock implements content.Clock. The zero value is ready to use.
type Clock struct{}

// New returns a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns time.Now with its monotonic reading intact, so the difference
// of two readings is a true elapsed duration even across wall-clock steps.
func (*Clock) Now() time.Time {
	return time.Now()
}
