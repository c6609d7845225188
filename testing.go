package hyperq

import (
	"sync"
	"sync/atomic"

	"github.com/fathomdata/hyperq/internal/fanout"
)

// CountingBody is a message body for testing: it records how many times
// its Construct, Handle, and Destroy methods ran, so a test can assert on
// the exactly-once-construct / exactly-once-drop properties (§8) without
// hand-rolling a new body type per test.
type CountingBody struct {
	ConstructCalls atomic.Int64
	HandleCalls    atomic.Int64
	DestroyCalls   atomic.Int64
	Value          int
}

// Construct stores args as Value and bumps ConstructCalls.
func (b *CountingBody) Construct(args int) {
	b.ConstructCalls.Add(1)
	b.Value = args
}

// Handle records the handled Value into args (if non-nil) and bumps
// HandleCalls.
func (b *CountingBody) Handle(args *CountingBodyLog) error {
	b.HandleCalls.Add(1)
	if args != nil {
		args.record(b.Value)
	}
	return nil
}

// Destroy bumps DestroyCalls. CountingBody owns no external resource; this
// exists purely so tests can assert it runs exactly once per message,
// handled or not.
func (b *CountingBody) Destroy() {
	b.DestroyCalls.Add(1)
}

// Compile-time interface checks.
var (
	_ fanout.Message[int, *CountingBodyLog] = (*CountingBody)(nil)
	_ fanout.Message[int, *CountingBodyLog] = (*FailingCountingBody)(nil)
)

// CountingBodyLog accumulates handled values across goroutines, for tests
// that assert on the order or set of values a queue delivered.
type CountingBodyLog struct {
	mu     sync.Mutex
	Values []int
}

func (l *CountingBodyLog) record(v int) {
	l.mu.Lock()
	l.Values = append(l.Values, v)
	l.mu.Unlock()
}

// Snapshot returns a copy of the values recorded so far.
func (l *CountingBodyLog) Snapshot() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int, len(l.Values))
	copy(out, l.Values)
	return out
}

// FailingCountingBody is CountingBody's counterpart whose Handle always
// returns Err, for exercising the §4.4 "destructor still runs on handler
// error" guarantee from outside the internal/queue package.
type FailingCountingBody struct {
	CountingBody
	Err error
}

// Handle returns b.Err instead of nil, still recording the call.
func (b *FailingCountingBody) Handle(args *CountingBodyLog) error {
	b.HandleCalls.Add(1)
	if args != nil {
		args.record(b.Value)
	}
	return b.Err
}
