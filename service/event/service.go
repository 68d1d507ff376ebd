package event

import (
	"fmt"

	"github.com/aidant64/atlas/model/run"
	"github.com/aidant64/atlas/service/messaging"
	"github.com/aidant64/atlas/service/messaging/fs"
	"github.com/aidant64/atlas/service/messaging/memory"
	"github.com/viant/afs"
)

// Service is the event bus carrying execution requests and reviewer decisions.
type Service struct {
	queueVendor       messaging.Vendor
	fsNewQueueConfig  func(name string) fs.QueueConfig
	memNewQueueConfig func(name string) memory.Config
	requests          *Publisher[run.Request]
	decisions         *Publisher[run.DecisionEvent]
}

// New creates a bus on the given queue vendor.
func New(queueVendor messaging.Vendor, opts ...Option) (*Service, error) {
	ret := &Service{
		queueVendor:       queueVendor,
		memNewQueueConfig: func(string) memory.Config { return memory.DefaultConfig() },
	}
	for _, opt := range opts {
		opt(ret)
	}
	switch queueVendor {
	case messaging.VendorFS:
		if ret.fsNewQueueConfig == nil {
			return nil, fmt.Errorf("fs queue vendor requires a base path")
		}
	case messaging.VendorMemory:
	default:
		return nil, fmt.Errorf("unsupported queue vendor: %s", queueVendor)
	}
	var err error
	if ret.requests, err = PublisherOf[run.Request](ret, ExecutionRequested); err != nil {
		return nil, err
	}
	if ret.decisions, err = PublisherOf[run.DecisionEvent](ret, HumanDecision); err != nil {
		return nil, err
	}
	return ret, nil
}

// Requests returns the tool.execution_requested topic.
func (s *Service) Requests() *Publisher[run.Request] { return s.requests }

// Decisions returns the human.decision topic.
func (s *Service) Decisions() *Publisher[run.DecisionEvent] { return s.decisions }

// QueueOf creates a queue for the named topic on the configured vendor.
func QueueOf[T any](s *Service, name string) (messaging.Queue[T], error) {
	switch s.queueVendor {
	case messaging.VendorFS:
		return fs.NewQueue[T](afs.New(), s.fsNewQueueConfig(name))
	case messaging.VendorMemory:
		return memory.NewQueue[T](s.memNewQueueConfig(name)), nil
	}
	return nil, fmt.Errorf("unsupported queue vendor: %s", s.queueVendor)
}

// PublisherOf returns a publisher for the named topic
func PublisherOf[T any](s *Service, name string) (*Publisher[T], error) {
	queue, err := QueueOf[Event[T]](s, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s queue: %w", name, err)
	}
	return NewPublisher[T](name, queue), nil
}
