package event

import (
	"context"

	"github.com/aidant64/atlas/service/messaging"
)

// Publisher publishes and consumes events of a single topic.
type Publisher[T any] struct {
	name  string
	queue messaging.Queue[Event[T]]
}

func NewPublisher[T any](name string, queue messaging.Queue[Event[T]]) *Publisher[T] {
	return &Publisher[T]{name: name, queue: queue}
}

// Name returns the topic name.
func (p *Publisher[T]) Name() string { return p.name }

// Publish wraps data in an event envelope and enqueues it.
func (p *Publisher[T]) Publish(ctx context.Context, data T) (*Event[T], error) {
	event := NewEvent(p.name, data)
	if err := p.queue.Publish(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// Consume blocks for the next message. The caller must Ack or Nack it.
func (p *Publisher[T]) Consume(ctx context.Context) (messaging.Message[Event[T]], error) {
	return p.queue.Consume(ctx)
}
