package fanout

import "fmt"

// RoundRobinPublisher cycles publish calls across a fixed, non-empty,
// ordered sequence of hyper-thread targets, advancing and wrapping the
// cursor after every publish regardless of outcome (§4.6 "RoundRobinPublisher").
//
// The source this was ported from advanced the cursor only after confirming
// the previous publish landed, behind a guard it believed unreachable; that
// guard was in fact reachable whenever a target hyper-thread had no bound
// queue, leaving the cursor stuck retargeting the same slot forever. This
// implementation advances unconditionally instead.
//
// A RoundRobinPublisher is single-writer: concurrent callers must serialize
// their own Publish calls, since the cursor has no internal synchronization.
type RoundRobinPublisher[T any, C any, H any, PT MessagePtr[T, C, H]] struct {
	inner   *Publisher[T, C, H, PT]
	targets []int
	cursor  int
}

// NewRoundRobinPublisher binds inner to the given ordered sequence of
// hyper-thread targets. targets must be non-empty.
func NewRoundRobinPublisher[T any, C any, H any, PT MessagePtr[T, C, H]](inner *Publisher[T, C, H, PT], targets []int) (*RoundRobinPublisher[T, C, H, PT], error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("fanout: round-robin publisher needs at least one target hyper-thread")
	}
	cp := append([]int(nil), targets...)
	return &RoundRobinPublisher[T, C, H, PT]{inner: inner, targets: cp}, nil
}

// Publish sends to the current cursor target, then advances and wraps the
// cursor, and reports which hyper-thread actually received the message.
func (rr *RoundRobinPublisher[T, C, H, PT]) Publish(args C) (int, error) {
	target := rr.targets[rr.cursor]
	rr.cursor = (rr.cursor + 1) % len(rr.targets)
	return rr.inner.Publish(target, args)
}
