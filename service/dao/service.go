package dao

import (
	"context"
)

// Service is a generic keyed persistence contract shared by the run store,
// the suspension bookmarks and any other durable entity.
type Service[K comparable, T any] interface {
	Save(ctx context.Context, t *T) error

	Load(ctx context.Context, id K) (*T, error)

	Delete(ctx context.Context, id K) error

	List(ctx context.Context, parameters ...*Parameter) ([]*T, error)
}

// Options holds behaviour shared by all store implementations.
type Options[T any] struct {
	// Clone copies values crossing the store boundary; nil keeps pointers.
	Clone func(*T) *T
	// Filter evaluates List parameters; nil matches everything.
	Filter func(t *T, parameters []*Parameter) bool
}

// Option customises Options.
type Option[T any] func(*Options[T])

// WithClone sets the copy function used on Save and Load.
func WithClone[T any](fn func(*T) *T) Option[T] {
	return func(o *Options[T]) { o.Clone = fn }
}

// WithFilter sets the List parameter evaluator.
func WithFilter[T any](fn func(t *T, parameters []*Parameter) bool) Option[T] {
	return func(o *Options[T]) { o.Filter = fn }
}

// NewOptions applies options.
func NewOptions[T any](options ...Option[T]) *Options[T] {
	ret := &Options[T]{}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Copy returns a clone of t when a clone function is configured.
func (o *Options[T]) Copy(t *T) *T {
	if o.Clone == nil || t == nil {
		return t
	}
	return o.Clone(t)
}

// Match evaluates parameters against t.
func (o *Options[T]) Match(t *T, parameters []*Parameter) bool {
	if o.Filter == nil || len(parameters) == 0 {
		return true
	}
	return o.Filter(t, parameters)
}
