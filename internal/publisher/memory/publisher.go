// Package memory contains an in-memory Pub/Sub topic for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
)

// Topic stores published messages for inspection.
type Topic struct {
	mu       sync.RWMutex
	messages []*pubsub.Message
	err      error
}

// New returns a memory Topic.
func New() *Topic {
	return &Topic{}
}

// FailWith makes subsequent publishes return err.
func (t *Topic) FailWith(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

// Publish records the message and returns a pseudo ID.
func (t *Topic) Publish(_ context.Context, msg *pubsub.Message) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return "", t.err
	}
	t.messages = append(t.messages, msg)
	return fmt.Sprintf("memory-%d", len(t.messages)), nil
}

// Messages returns the recorded publishes.
func (t *Topic) Messages() []*pubsub.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*pubsub.Message, len(t.messages))
	copy(out, t.messages)
	return out
}
