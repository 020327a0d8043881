// Package sink composes collection result sinks.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/intel-collector/internal/collector"
	"github.com/JakeFAU/intel-collector/internal/metrics"
)

// Named pairs a sink with the label used in logs and metrics.
type Named struct {
	Name string
	Sink collector.ResultSink
}

// Multi delivers each result to every configured sink. A failing sink does
// not prevent delivery to the others.
type Multi struct {
	sinks []Named
}

// NewMulti builds a fan-out sink. Nil sinks are skipped.
func NewMulti(sinks ...Named) *Multi {
	m := &Multi{sinks: make([]Named, 0, len(sinks))}
	for _, s := range sinks {
		if s.Sink != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len reports how many sinks receive results.
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Store implements collector.ResultSink. The returned error joins every
// individual sink failure.
func (m *Multi) Store(ctx context.Context, result collector.CollectionResult) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Sink.Store(ctx, result); err != nil {
			metrics.ObserveSinkError(s.Name)
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
