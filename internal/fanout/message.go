// Package fanout layers typed publish/subscribe conveniences over a plain
// queue.Queue and a bitset-indexed fleet of them: eager tag resolution for
// hot-path publishing, a drain-only subscriber wrapper, a round-robin
// distributor, and fleet-wide construction/teardown (§4.5, §4.6).
package fanout

import "unsafe"

// Message is implemented by a body type registered with a handlers table.
// ConstructArgs is supplied by the publisher and used to initialize the
// body in place; HandlerArgs is supplied by the subscriber and borrowed for
// the duration of one handler call.
type Message[ConstructArgs any, HandlerArgs any] interface {
	// Construct initializes the zero-valued memory the receiver points at.
	// It runs on the publisher's goroutine, before the frame is visible to
	// any consumer.
	Construct(args ConstructArgs)

	// Handle runs on the queue's single consumer goroutine once the frame
	// is dequeued. Its error is propagated to the caller of Dequeue after
	// the body's destructor (if any) has already run.
	Handle(args HandlerArgs) error
}

// MessagePtr constrains a registration or publish type parameter to a
// pointer type whose pointee implements Message. Construct and Handle are
// declared with pointer receivers in practice, since Construct necessarily
// writes through the pointer to initialize the body.
type MessagePtr[T any, C any, H any] interface {
	*T
	Message[C, H]
}

// constructThunk adapts a typed Message.Construct call into the type-erased
// construct callback queue.Enqueue expects.
func constructThunk[T any, C any, H any, PT MessagePtr[T, C, H]](bodyPtr unsafe.Pointer, args any) {
	body := PT((*T)(bodyPtr))
	body.Construct(args.(C))
}
