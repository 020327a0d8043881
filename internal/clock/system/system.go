// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

var _ collector.Clock = Clock{}

// Clock implements collector.Clock. Times are UTC so persisted due times
// compare the same across hosts.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
