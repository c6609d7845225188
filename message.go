package hyperq

import (
	"github.com/fathomdata/hyperq/internal/fanout"
	"github.com/fathomdata/hyperq/internal/handlers"
	"github.com/fathomdata/hyperq/internal/queue"
)

// Table is a queue's body-type registry. StartFleet creates the fleet's
// table itself and hands it to the BuildTable callback, which registers
// every type the fleet will ever see (§4.2).
type Table = handlers.Table

// NewTable returns an empty handlers table.
var NewTable = handlers.NewTable

// Register adds T to table, deriving its handler and destructor thunks
// from T's Message and (optional) Destroyer implementations. PT must be a
// pointer type whose pointee implements fanout.Message[C, H] (Construct on
// the publisher side, Handle on the consumer side).
func Register[T any, C any, H any, PT fanout.MessagePtr[T, C, H]](table *Table) (uint8, error) {
	tag, err := fanout.Register[T, C, H, PT](table)
	if err != nil {
		return 0, NewRegistrationError("Register", int(tag), err)
	}
	return tag, nil
}

// Publisher caches per-queue tag resolution for one message type across a
// fleet (§4.5).
type Publisher[T any, C any, H any, PT fanout.MessagePtr[T, C, H]] struct {
	*fanout.Publisher[T, C, H, PT]
}

// NewPublisher resolves T's tag against every queue in fleet and returns a
// Publisher ready to send to any hyper-thread in it.
func NewPublisher[T any, C any, H any, PT fanout.MessagePtr[T, C, H]](fleet *Fleet, defaultHyperThread int) (*Publisher[T, C, H, PT], error) {
	inner, err := fanout.NewPublisher[T, C, H, PT](fleet.Queues(), defaultHyperThread)
	if err != nil {
		return nil, err
	}
	return &Publisher[T, C, H, PT]{inner}, nil
}

// Subscriber wraps one fleet queue on the consumer side.
type Subscriber[H any] struct {
	*fanout.Subscriber[H]
}

// NewSubscriber binds q as the subscriber for hyperThread.
func NewSubscriber[H any](q *queue.Queue, hyperThread int) *Subscriber[H] {
	return &Subscriber[H]{fanout.NewSubscriber[H](q, hyperThread)}
}

// RoundRobinPublisher cycles publish calls across a fixed, ordered sequence
// of hyper-thread targets (§4.6).
type RoundRobinPublisher[T any, C any, H any, PT fanout.MessagePtr[T, C, H]] struct {
	*fanout.RoundRobinPublisher[T, C, H, PT]
}

// NewRoundRobinPublisher binds pub to the given ordered sequence of
// hyper-thread targets.
func NewRoundRobinPublisher[T any, C any, H any, PT fanout.MessagePtr[T, C, H]](pub *Publisher[T, C, H, PT], targets []int) (*RoundRobinPublisher[T, C, H, PT], error) {
	inner, err := fanout.NewRoundRobinPublisher[T, C, H, PT](pub.Publisher, targets)
	if err != nil {
		return nil, err
	}
	return &RoundRobinPublisher[T, C, H, PT]{inner}, nil
}

// PublishSlow resolves T's tag against targetHyperThread's queue by hash
// lookup on every call instead of through a cached Publisher.
func PublishSlow[T any, C any, H any, PT fanout.MessagePtr[T, C, H]](fleet *Fleet, targetHyperThread int, args C) (int, error) {
	return fanout.PublishSlow[T, C, H, PT](fleet, targetHyperThread, args)
}
