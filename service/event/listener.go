package event

import (
	"context"
	"errors"
	"log/slog"
)

// Handler processes one event. A returned error nacks the message so the
// queue redelivers it.
type Handler[T any] func(ctx context.Context, event *Event[T]) error

// Listener drives a Handler from a Publisher until its context is done.
type Listener[T any] struct {
	publisher *Publisher[T]
	handler   Handler[T]
	fatal     func(error) bool
	logger    *slog.Logger
}

// NewListener creates a listener; fatal reports handler errors that must stop
// the listener instead of being retried.
func NewListener[T any](publisher *Publisher[T], handler Handler[T], fatal func(error) bool, logger *slog.Logger) *Listener[T] {
	if fatal == nil {
		fatal = func(error) bool { return false }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener[T]{publisher: publisher, handler: handler, fatal: fatal, logger: logger}
}

// Run consumes until ctx is cancelled (returning nil), the queue fails, or
// the handler returns a fatal error.
func (l *Listener[T]) Run(ctx context.Context) error {
	for {
		msg, err := l.publisher.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				return nil
			}
			return err
		}
		event := msg.T()
		if err := l.handler(ctx, event); err != nil {
			if nackErr := msg.Nack(err); nackErr != nil {
				l.logger.ErrorContext(ctx, "nack failed", "topic", l.publisher.Name(), "event_id", event.ID, "error", nackErr)
			}
			if l.fatal(err) {
				return err
			}
			l.logger.WarnContext(ctx, "event handling failed, redelivering", "topic", l.publisher.Name(), "event_id", event.ID, "error", err)
			continue
		}
		if err := msg.Ack(); err != nil {
			l.logger.ErrorContext(ctx, "ack failed", "topic", l.publisher.Name(), "event_id", event.ID, "error", err)
		}
	}
}
