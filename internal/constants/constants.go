package constants

import "time"

const (
	// HeaderSize is the on-ring frame header size in bytes (tag, pre-pad,
	// little-endian total-size).
	HeaderSize = 4

	// HeaderAlignment is the required alignment of every frame's starting
	// address, and therefore of the next frame's starting address.
	HeaderAlignment = 2

	// MaxTags is the exclusive maximum number of distinct body types a
	// single HandlersTable may hold. An 8-bit tag gives 256 values; one is
	// reserved, leaving 0..254 assignable.
	MaxTags = 255

	// ReservedSkipTag is never assigned during registration; it marks a
	// frame whose constructor could not complete and that the consumer
	// should skip without invoking any handler or destructor.
	ReservedSkipTag = 255

	// MaxFrameSize is the largest total frame size encodable in the
	// header's 16-bit size field.
	MaxFrameSize = 1<<16 - 1

	// DefaultQueueDepthMessages is the default number of worst-case-sized
	// messages a queue's ring is sized to hold.
	DefaultQueueDepthMessages = 4096

	// DefaultInclusiveMaximumBytesWasted bounds how much of the mirrored
	// ring's virtual mapping may be wasted rounding up to a page multiple.
	DefaultInclusiveMaximumBytesWasted = 1 << 20
)

// RingAllocationRetryDelay is a pause length for retrying ring allocation
// under transient mmap/memfd_create resource pressure. Nothing in this
// module retries: ring allocation makes a single attempt.
const RingAllocationRetryDelay = 5 * time.Millisecond