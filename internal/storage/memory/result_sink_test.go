package memory

import (
	"context"
	"testing"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

func TestResultSinkStoresCopies(t *testing.T) {
	t.Parallel()

	sink := NewResultSink()
	payload := []byte("content")
	if err := sink.Store(context.Background(), collector.CollectionResult{URL: "https://a.test", Data: payload}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	payload[0] = 'C'
	results := sink.Results()
	if len(results) != 1 || string(results[0].Data) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %+v", results)
	}
}
