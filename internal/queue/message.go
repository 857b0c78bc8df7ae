// Package queue connects the pipeline stages to Google Cloud Pub/Sub: a
// batching runner on the consume side and a small publisher on the produce
// side.
package queue

import (
	"context"
	"time"

	"cloud.google.com/go/pubsub"
)

// ackTimeout bounds how long an acknowledgement may wait for server
// confirmation on exactly-once subscriptions.
const ackTimeout = 30 * time.Second

// Message is one delivery pulled from a subscription. It satisfies
// pipeline.Delivery: the stages acknowledge successful items through it,
// and the runner nacks what they report failed.
type Message struct {
	id    string
	body  []byte
	attrs map[string]string
	ack   func() error
	nack  func()
}

// NewMessage builds a Message from raw parts. Production messages come from
// wrapPubSub; this constructor exists for tests and in-memory queues.
func NewMessage(id string, body []byte, attrs map[string]string, ack func() error, nack func()) *Message {
	return &Message{id: id, body: body, attrs: attrs, ack: ack, nack: nack}
}

// ID returns the queue-assigned delivery identifier.
func (m *Message) ID() string { return m.id }

// Body returns the message payload.
func (m *Message) Body() []byte { return m.body }

// Attributes returns the message attributes; it may be nil.
func (m *Message) Attributes() map[string]string { return m.attrs }

// Ack confirms-and-removes the delivery. On exactly-once subscriptions the
// error reports whether the server accepted the acknowledgement.
func (m *Message) Ack() error {
	if m.ack == nil {
		return nil
	}
	return m.ack()
}

// Nack releases the delivery for prompt redelivery.
func (m *Message) Nack() {
	if m.nack != nil {
		m.nack()
	}
}

func wrapPubSub(msg *pubsub.Message) *Message {
	return &Message{
		id:    msg.ID,
		body:  msg.Data,
		attrs: msg.Attributes,
		ack: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
			defer cancel()
			_, err := msg.AckWithResult().Get(ctx)
			return err
		},
		nack: msg.Nack,
	}
}
