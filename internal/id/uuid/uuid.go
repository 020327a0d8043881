// Package uuid generates the IDs of watchlist entries and collection jobs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

var _ collector.IDGenerator = Generator{}

// Generator creates UUIDv7 strings, so IDs sort by creation time.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
