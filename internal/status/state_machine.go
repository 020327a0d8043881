// Package status owns collection job state transitions, the per-entry
// single-flight index and the consecutive-failure circuit breaker.
package status

import (
	"fmt"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

var validTransitions = map[collector.JobState][]collector.JobState{
	collector.JobPending: {
		collector.JobRunning, // Picked up by a worker
		collector.JobFailed,  // Cancelled before it ran
	},
	collector.JobRunning: {
		collector.JobCompleted, // Fetched and stored
		collector.JobFailed,    // Permanent error or attempts exhausted
		collector.JobRetrying,  // Transient error, backoff scheduled
	},
	collector.JobRetrying: {
		collector.JobPending, // Backoff elapsed
		collector.JobFailed,  // Cancelled during backoff
	},
	// Terminal states
	collector.JobCompleted: {},
	collector.JobFailed:    {},
}

// ValidateTransition checks if a state transition is valid.
func ValidateTransition(from, to collector.JobState) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("%w: unknown source state %q", collector.ErrInvalidTransition, from)
	}
	for _, state := range allowed {
		if state == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", collector.ErrInvalidTransition, from, to)
}
