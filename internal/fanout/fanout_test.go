package fanout

import (
	"sync"
	"testing"

	"github.com/fathomdata/hyperq/internal/handlers"
	"github.com/fathomdata/hyperq/internal/queue"
	"github.com/fathomdata/hyperq/internal/ring"
)

type recorder struct {
	mu    sync.Mutex
	order []int
}

func (r *recorder) record(n int) {
	r.mu.Lock()
	r.order = append(r.order, n)
	r.mu.Unlock()
}

type pingBody struct {
	N int
}

func (b *pingBody) Construct(args int) { b.N = args }

func (b *pingBody) Handle(args *recorder) error {
	args.record(b.N)
	return nil
}

func newFleetQueue(t *testing.T, table *handlers.Table) *queue.Queue {
	t.Helper()
	r, err := ring.Allocate(ring.Config{ByteCapacity: 4096})
	if err != nil {
		t.Fatalf("ring.Allocate: %v", err)
	}
	q := queue.New(r, table)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func drainAll(t *testing.T, q *queue.Queue, args *recorder) {
	t.Helper()
	if err := q.Dequeue(nil, args); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
}

func TestPublishAndSubscribeSingleQueue(t *testing.T) {
	table := handlers.NewTable()
	if _, err := Register[pingBody, int, *recorder, *pingBody](table); err != nil {
		t.Fatalf("Register: %v", err)
	}

	fleet := NewFleet()
	fleet.Add(0, newFleetQueue(t, table))

	pub, err := NewPublisher[pingBody, int, *recorder, *pingBody](fleet.Queues(), 0)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}

	usedHT, err := pub.Publish(0, 42)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if usedHT != 0 {
		t.Errorf("usedHT = %d, want 0", usedHT)
	}

	q, _ := fleet.Queue(0)
	rec := &recorder{}
	drainAll(t, q, rec)

	if len(rec.order) != 1 || rec.order[0] != 42 {
		t.Fatalf("order = %v, want [42]", rec.order)
	}
}

func TestPublishFallsBackToDefaultHyperThread(t *testing.T) {
	table := handlers.NewTable()
	if _, err := Register[pingBody, int, *recorder, *pingBody](table); err != nil {
		t.Fatalf("Register: %v", err)
	}

	fleet := NewFleet()
	fleet.Add(0, newFleetQueue(t, table))

	pub, err := NewPublisher[pingBody, int, *recorder, *pingBody](fleet.Queues(), 0)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}

	usedHT, err := pub.Publish(7, 99)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if usedHT != 0 {
		t.Errorf("usedHT = %d, want the default hyper-thread 0", usedHT)
	}
}

func TestRoundRobinDistribution(t *testing.T) {
	table := handlers.NewTable()
	if _, err := Register[pingBody, int, *recorder, *pingBody](table); err != nil {
		t.Fatalf("Register: %v", err)
	}

	fleet := NewFleet()
	fleet.Add(0, newFleetQueue(t, table)) // A
	fleet.Add(1, newFleetQueue(t, table)) // B
	fleet.Add(2, newFleetQueue(t, table)) // C

	pub, err := NewPublisher[pingBody, int, *recorder, *pingBody](fleet.Queues(), 0)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	rr, err := NewRoundRobinPublisher[pingBody, int, *recorder, *pingBody](pub, []int{0, 1, 2})
	if err != nil {
		t.Fatalf("NewRoundRobinPublisher: %v", err)
	}

	var targets []int
	for i := 0; i < 7; i++ {
		ht, err := rr.Publish(i)
		if err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
		targets = append(targets, ht)
	}

	wantTargets := []int{0, 1, 2, 0, 1, 2, 0}
	if len(targets) != len(wantTargets) {
		t.Fatalf("targets = %v, want %v", targets, wantTargets)
	}
	for i := range wantTargets {
		if targets[i] != wantTargets[i] {
			t.Errorf("targets[%d] = %d, want %d", i, targets[i], wantTargets[i])
		}
	}

	counts := map[int]int{}
	for _, ht := range targets {
		counts[ht]++
	}
	if counts[0] != 3 || counts[1] != 2 || counts[2] != 2 {
		t.Errorf("counts = %v, want {0:3 1:2 2:2}", counts)
	}
}

func TestRoundRobinPublisherRejectsEmptyTargets(t *testing.T) {
	table := handlers.NewTable()
	if _, err := Register[pingBody, int, *recorder, *pingBody](table); err != nil {
		t.Fatalf("Register: %v", err)
	}
	fleet := NewFleet()
	fleet.Add(0, newFleetQueue(t, table))
	pub, err := NewPublisher[pingBody, int, *recorder, *pingBody](fleet.Queues(), 0)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	if _, err := NewRoundRobinPublisher[pingBody, int, *recorder, *pingBody](pub, nil); err == nil {
		t.Fatal("expected an error with no targets")
	}
}

func TestSubscriberReceiveAndHandle(t *testing.T) {
	table := handlers.NewTable()
	if _, err := Register[pingBody, int, *recorder, *pingBody](table); err != nil {
		t.Fatalf("Register: %v", err)
	}

	fleet := NewFleet()
	q := newFleetQueue(t, table)
	fleet.Add(0, q)

	pub, err := NewPublisher[pingBody, int, *recorder, *pingBody](fleet.Queues(), 0)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	if _, err := pub.Publish(0, 5); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	sub := NewSubscriber[*recorder](q, 0)
	if sub.HyperThread() != 0 {
		t.Errorf("HyperThread() = %d, want 0", sub.HyperThread())
	}
	rec := &recorder{}
	if err := sub.ReceiveAndHandle(nil, rec); err != nil {
		t.Fatalf("ReceiveAndHandle: %v", err)
	}
	if len(rec.order) != 1 || rec.order[0] != 5 {
		t.Fatalf("order = %v, want [5]", rec.order)
	}
}

func TestFleetCloseDrainsAllQueues(t *testing.T) {
	table := handlers.NewTable()
	if _, err := Register[pingBody, int, *recorder, *pingBody](table); err != nil {
		t.Fatalf("Register: %v", err)
	}

	r0, err := ring.Allocate(ring.Config{ByteCapacity: 4096})
	if err != nil {
		t.Fatalf("ring.Allocate: %v", err)
	}
	r1, err := ring.Allocate(ring.Config{ByteCapacity: 4096})
	if err != nil {
		t.Fatalf("ring.Allocate: %v", err)
	}

	fleet := NewFleet()
	fleet.Add(0, queue.New(r0, table))
	fleet.Add(1, queue.New(r1, table))

	pub, err := NewPublisher[pingBody, int, *recorder, *pingBody](fleet.Queues(), 0)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	if _, err := pub.Publish(0, 1); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := pub.Publish(1, 2); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if err := fleet.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPublishSlowResolvesWithoutCachedPublisher(t *testing.T) {
	table := handlers.NewTable()
	if _, err := Register[pingBody, int, *recorder, *pingBody](table); err != nil {
		t.Fatalf("Register: %v", err)
	}

	fleet := NewFleet()
	q := newFleetQueue(t, table)
	fleet.Add(0, q)

	usedHT, err := PublishSlow[pingBody, int, *recorder, *pingBody](fleet, 0, 3)
	if err != nil {
		t.Fatalf("PublishSlow: %v", err)
	}
	if usedHT != 0 {
		t.Errorf("usedHT = %d, want 0", usedHT)
	}

	rec := &recorder{}
	drainAll(t, q, rec)
	if len(rec.order) != 1 || rec.order[0] != 3 {
		t.Fatalf("order = %v, want [3]", rec.order)
	}
}
