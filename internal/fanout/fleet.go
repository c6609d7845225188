package fanout

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/fathomdata/hyperq/internal/bitset"
	"github.com/fathomdata/hyperq/internal/queue"
)

// Fleet owns one queue per hyper-thread. It is the bitset-indexed map from
// hyper-thread id to queue that Publisher and Subscriber are built on top
// of (§6 "bit-set-indexed map from hyper-thread id to queue").
type Fleet struct {
	queues bitset.Map[*queue.Queue]
}

// NewFleet returns an empty fleet.
func NewFleet() *Fleet { return &Fleet{} }

// Add binds q to hyperThread. Add is pre-start setup, done once per
// hyper-thread before any producer or consumer touches the fleet.
func (f *Fleet) Add(hyperThread int, q *queue.Queue) {
	f.queues.Set(hyperThread, q)
}

// Queue returns the queue bound to hyperThread, if any.
func (f *Fleet) Queue(hyperThread int) (*queue.Queue, bool) {
	return f.queues.Get(hyperThread)
}

// Queues exposes the fleet's underlying hyper-thread-to-queue map, so
// Publisher and RoundRobinPublisher construction can iterate it directly.
func (f *Fleet) Queues() *bitset.Map[*queue.Queue] {
	return &f.queues
}

// Close tears the fleet down in hyper-thread order: each queue is drained
// of residual frames (destructors only, no handlers run) and its ring
// released via Queue.Close, which in turn releases the ring's mirrored
// mapping. Handlers tables are not owned by the fleet and are left to the
// caller, since a table may be shared across more than one queue.
//
// Close keeps going after the first queue error so every queue gets a
// chance to release its ring, and returns the first error encountered.
func (f *Fleet) Close() error {
	var firstErr error
	for _, ht := range f.queues.Ids() {
		q, _ := f.queues.Get(ht)
		if err := q.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PublishSlow resolves T's tag against targetHyperThread's queue by hash
// lookup on every call, rather than through a pre-resolved Publisher. It
// trades hot-path speed for not needing to construct and hold a Publisher,
// useful for cold paths and diagnostics (original_source's
// publish_safe_but_slow; see §13).
func PublishSlow[T any, C any, H any, PT MessagePtr[T, C, H]](f *Fleet, targetHyperThread int, args C) (int, error) {
	q, ok := f.queues.Get(targetHyperThread)
	if !ok {
		return 0, fmt.Errorf("fanout: no queue registered for hyper-thread %d", targetHyperThread)
	}

	var zero T
	t := reflect.TypeOf(zero)
	tag, ok := q.Table().FindTag(t)
	if !ok {
		return 0, fmt.Errorf("fanout: type %s is not registered on the queue for hyper-thread %d", t, targetHyperThread)
	}

	construct := func(bodyPtr unsafe.Pointer, a any) {
		body := PT((*T)(bodyPtr))
		body.Construct(a.(C))
	}
	if err := q.Enqueue(tag, args, construct); err != nil {
		return 0, err
	}
	return targetHyperThread, nil
}
