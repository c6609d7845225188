package fanout

import "github.com/fathomdata/hyperq/internal/queue"

// Subscriber wraps exactly one queue on the consumer side. It exists
// separately from queue.Queue so fleet wiring has a place to hang the
// hyper-thread a subscriber is pinned to without widening Queue's own API
// (§4.5 "Subscriber").
type Subscriber[H any] struct {
	q           *queue.Queue
	hyperThread int
}

// NewSubscriber binds q as the subscriber for hyperThread.
func NewSubscriber[H any](q *queue.Queue, hyperThread int) *Subscriber[H] {
	return &Subscriber[H]{q: q, hyperThread: hyperThread}
}

// HyperThread reports which hyper-thread this subscriber was bound to.
func (s *Subscriber[H]) HyperThread() int { return s.hyperThread }

// ReceiveAndHandle drains s's queue, invoking each registered handler with
// args, until no frames remain this pass, a handler returns an error, or
// terminate reports it should stop.
func (s *Subscriber[H]) ReceiveAndHandle(terminate queue.Terminate, args H) error {
	return s.q.Dequeue(terminate, args)
}
