// Package pubsub publishes collection results to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

// Topic publishes a single message and waits for the server ID.
type Topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) (string, error)
}

// ClientTopic adapts a *pubsub.Topic to Topic.
type ClientTopic struct {
	topic *pubsub.Topic
}

// NewClientTopic wraps the named topic of client.
func NewClientTopic(client *pubsub.Client, topicID string) (*ClientTopic, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if topicID == "" {
		return nil, fmt.Errorf("topic id is required")
	}
	return &ClientTopic{topic: client.Topic(topicID)}, nil
}

// Publish implements Topic.
func (t *ClientTopic) Publish(ctx context.Context, msg *pubsub.Message) (string, error) {
	id, err := t.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages and releases the topic's goroutines.
func (t *ClientTopic) Stop() {
	t.topic.Stop()
}

// Publisher is a collector.ResultSink that emits each result as a JSON message.
type Publisher struct {
	topic Topic
}

// New creates a Publisher for the provided topic.
func New(topic Topic) *Publisher {
	return &Publisher{topic: topic}
}

// Store implements collector.ResultSink. Subscribers can filter on the
// target_id, source_kind and success attributes without decoding the body.
func (p *Publisher) Store(ctx context.Context, result collector.CollectionResult) error {
	if p.topic == nil {
		return fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"job_id":      result.JobID,
			"target_id":   result.TargetID,
			"source_kind": string(result.SourceKind),
			"success":     strconv.FormatBool(result.Success),
		},
	}
	if _, err := p.topic.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish result %s: %w", result.JobID, err)
	}
	return nil
}
