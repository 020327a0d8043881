package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

// ResultSink keeps collection results in memory.
type ResultSink struct {
	mu      sync.RWMutex
	results []collector.CollectionResult
}

// NewResultSink creates a new in-memory result sink.
func NewResultSink() *ResultSink {
	return &ResultSink{}
}

// Store appends a copy of the result.
func (s *ResultSink) Store(_ context.Context, result collector.CollectionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	result.Data = append([]byte(nil), result.Data...)
	s.results = append(s.results, result)
	return nil
}

// Results returns a snapshot of stored results.
func (s *ResultSink) Results() []collector.CollectionResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]collector.CollectionResult, len(s.results))
	copy(out, s.results)
	return out
}
