package queue

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// topic abstracts *pubsub.Topic so tests can publish without a broker.
type topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// Publisher enqueues crawl work on a Pub/Sub topic.
type Publisher struct {
	topic topic
}

// NewPublisher wraps a topic handle.
func NewPublisher(t *pubsub.Topic) *Publisher {
	return &Publisher{topic: t}
}

// Publish sends one payload and waits for the server-assigned message ID.
func (p *Publisher) Publish(ctx context.Context, data []byte) (string, error) {
	if p.topic == nil {
		return "", fmt.Errorf("publisher topic is not configured")
	}
	result := p.topic.Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}
