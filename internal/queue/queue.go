// Package queue binds one mirrored ring buffer to one handlers table,
// offering tag-driven enqueue to producers and a drain loop to the single
// consumer (§4.4).
package queue

import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/fathomdata/hyperq/internal/constants"
	"github.com/fathomdata/hyperq/internal/frame"
	"github.com/fathomdata/hyperq/internal/handlers"
	"github.com/fathomdata/hyperq/internal/interfaces"
	"github.com/fathomdata/hyperq/internal/ring"
)

// Terminate is checked between frames in Dequeue's drain loop; once it
// reports false, Dequeue returns having processed at most one more frame.
type Terminate interface {
	ShouldContinue() bool
}

// Queue binds one ring to one handlers table. Enqueue may be called from
// any number of producer goroutines; Dequeue and Close must only ever be
// called from the single consumer that owns this Queue.
type Queue struct {
	ring   *ring.Ring
	table  *handlers.Table
	logger  interfaces.Logger
	observer interfaces.Observer
	closed atomic.Bool
}

// Option configures a Queue at construction.
type Option func(*Queue)

// WithLogger attaches a logger for drain-loop diagnostics.
func WithLogger(l interfaces.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithObserver attaches a metrics observer invoked once per handled message.
func WithObserver(o interfaces.Observer) Option {
	return func(q *Queue) { q.observer = o }
}

// Table returns the handlers table this queue was constructed with, so
// fan-out code can resolve tags per queue.
func (q *Queue) Table() *handlers.Table { return q.table }

// New binds r and table into a Queue. table must already hold every body
// type this queue will ever see; it is treated as sealed from this point on.
func New(r *ring.Ring, table *handlers.Table, opts ...Option) *Queue {
	q := &Queue{ring: r, table: table}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue asks the ring for a window sized to tag's worst-case framed size,
// frames it, and invokes construct with a pointer to the uninitialized body
// so the caller can write exactly sizeof(T) bytes in place (§4.4 "enqueue").
// The caller asserts that tag was registered for the exact body type
// construct initializes; Enqueue has no way to check this itself since the
// body is type-erased by the time it reaches the ring.
func (q *Queue) Enqueue(tag uint8, args any, construct func(bodyPtr unsafe.Pointer, args any)) error {
	entry, err := q.table.Entry(tag)
	if err != nil {
		return err
	}

	var frameErr error
	err = q.ring.WriteSome(int(entry.WorstCase), func(window []byte) int {
		body, total, ferr := frame.Enqueue(window, tag, entry.Size, entry.Align)
		if ferr != nil {
			frameErr = ferr
			return 0
		}
		// SliceData is non-nil even for a zero-sized body, so a
		// value-receiver Construct on an empty type can run through it.
		bodyPtr := unsafe.Pointer(unsafe.SliceData(body))
		construct(bodyPtr, args)
		if q.observer != nil {
			q.observer.ObserveEnqueue(tag, true)
		}
		return int(total)
	})
	if err != nil {
		return err
	}
	return frameErr
}

// Dequeue drains published frames until either none remain this pass, a
// handler returns an error, or terminate reports it should stop (§4.4
// "dequeue"). For each frame it invokes the registered handler, then the
// registered destructor — even when the handler errors.
func (q *Queue) Dequeue(terminate Terminate, args any) error {
	for {
		if terminate != nil && !terminate.ShouldContinue() {
			return nil
		}

		more, err := q.ring.SingleReaderReadSome(func(buf []byte) (int, bool, error) {
			return q.handleOne(buf, args)
		})
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

func (q *Queue) handleOne(buf []byte, args any) (consumed int, more bool, err error) {
	tag, bodyOffset, total, ferr := frame.ProcessNext(buf)
	if ferr != nil {
		return 0, false, ferr
	}
	more = uint64(total) < uint64(len(buf))

	if tag == constants.ReservedSkipTag {
		return int(total), more, nil
	}

	entry, eerr := q.table.Entry(tag)
	if eerr != nil {
		return 0, false, eerr
	}

	var bodyPtr unsafe.Pointer
	if entry.Size > 0 {
		bodyPtr = unsafe.Pointer(&buf[bodyOffset])
	}

	start := time.Now()
	herr := entry.Handle(bodyPtr, args)
	if q.observer != nil {
		q.observer.ObserveHandle(tag, uint64(time.Since(start).Nanoseconds()), herr)
	}
	entry.Destroy(bodyPtr)

	if herr != nil {
		return int(total), false, herr
	}
	return int(total), more, nil
}

// WaitForData blocks the calling goroutine until the ring holds published
// data; a wake-up that finds the ring still empty waits again. A consumer loop
// that wants to avoid spinning between Dequeue passes should call this
// between them (§6 "blocking consumer wait").
func (q *Queue) WaitForData() error {
	return q.ring.WaitForData()
}

// Close drains any remaining published frames, invoking only their
// destructors (no handler runs), then releases the ring. Close is
// idempotent.
func (q *Queue) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}

	for {
		more, err := q.ring.SingleReaderReadSome(q.destroyOne)
		if err != nil {
			if q.logger != nil {
				q.logger.Printf("queue close: error draining residual frame: %v", err)
			}
			break
		}
		if !more {
			break
		}
	}

	if err := q.ring.Close(); err != nil {
		return fmt.Errorf("queue: closing ring: %w", err)
	}
	return nil
}

func (q *Queue) destroyOne(buf []byte) (consumed int, more bool, err error) {
	tag, bodyOffset, total, ferr := frame.ProcessNext(buf)
	if ferr != nil {
		return 0, false, ferr
	}
	more = uint64(total) < uint64(len(buf))

	if tag == constants.ReservedSkipTag {
		return int(total), more, nil
	}

	entry, eerr := q.table.Entry(tag)
	if eerr != nil {
		return 0, false, eerr
	}

	var bodyPtr unsafe.Pointer
	if entry.Size > 0 {
		bodyPtr = unsafe.Pointer(&buf[bodyOffset])
	}
	entry.Destroy(bodyPtr)
	return int(total), more, nil
}
