// Package hyperq is the public API for a many-producer/single-consumer
// in-process message dispatch fabric: mirrored ring buffers, compressed
// per-type tags, and type-erased handler dispatch, fanned out across one
// queue per hyper-thread (§1 OVERVIEW).
package hyperq

import (
	"context"

	"github.com/fathomdata/hyperq/internal/affinity"
	"github.com/fathomdata/hyperq/internal/constants"
	"github.com/fathomdata/hyperq/internal/fanout"
	"github.com/fathomdata/hyperq/internal/interfaces"
	"github.com/fathomdata/hyperq/internal/queue"
	"github.com/fathomdata/hyperq/internal/ring"
)

// Fleet owns one queue per hyper-thread (§6).
type Fleet = fanout.Fleet

// NewFleet returns an empty fleet with no queues. Most callers should use
// StartFleet instead; NewFleet is for building a fleet's topology by hand
// (manual ring sizing per hyper-thread, custom consumer loops, tests).
func NewFleet() *Fleet {
	return fanout.NewFleet()
}

// FleetParams configures a Fleet's hyper-thread topology and ring sizing.
type FleetParams struct {
	// HyperThreads is the number of queues (and consumer goroutines) to
	// start. Defaults to 1 if zero or negative.
	HyperThreads int

	// CPUAffinity lists eligible CPUs for pinning consumer goroutines,
	// assigned round-robin across hyper-threads (internal/affinity.ForHyperThread).
	// Leave nil to run consumer goroutines unpinned.
	CPUAffinity []int

	// RingByteCapacity sets an explicit per-queue ring size. Zero derives
	// it from the registered handlers table via QueueByteBudget using
	// PreferredMessagesOfWorstCaseSize.
	RingByteCapacity uint64

	// PreferredMessagesOfWorstCaseSize is how many worst-case-framed
	// messages a ring should be sized to hold when RingByteCapacity is
	// zero. Defaults to DefaultQueueDepthMessages.
	PreferredMessagesOfWorstCaseSize int

	// MaxWastedBytes bounds the gap ring allocation may round up to reach
	// a mappable size before failing (§6). Zero enforces no bound.
	MaxWastedBytes uint64
}

// Options carries optional cross-cutting dependencies for StartFleet.
type Options struct {
	// Context governs every consumer goroutine's lifetime: a consumer
	// checks it before each frame and stops once it is cancelled. A
	// consumer blocked waiting on an empty queue does not see the
	// cancellation until data is next published to its queue.
	Context context.Context

	// Logger receives drain-loop diagnostics, if set.
	Logger interfaces.Logger

	// Observer receives per-message metrics. Defaults to NoOpObserver.
	Observer interfaces.Observer

	// HandlerArgs builds the per-hyper-thread argument value passed to
	// every Handle call on that hyper-thread's consumer loop. Leave nil to
	// pass nil.
	HandlerArgs func(hyperThread int) any
}

// BuildTable registers every body type a fleet will ever see. It runs once,
// before any ring is allocated, since every queue in the fleet must resolve
// the same tag to the same type.
type BuildTable func(table *Table) error

// StartFleet runs build against a fresh handlers table, allocates one ring
// and consumer goroutine per hyper-thread, and starts draining. It returns
// the running fleet and the sealed table the fleet was built against (for
// Publisher/PublishSlow tag resolution).
func StartFleet(params FleetParams, build BuildTable, options *Options) (*Fleet, *Table, error) {
	if options == nil {
		options = &Options{}
	}
	ctx := options.Context
	if ctx == nil {
		ctx = context.Background()
	}

	table := NewTable()
	if build != nil {
		if err := build(table); err != nil {
			return nil, nil, NewRegistrationError("StartFleet", -1, err)
		}
	}

	hyperThreads := params.HyperThreads
	if hyperThreads <= 0 {
		hyperThreads = 1
	}

	byteCap := params.RingByteCapacity
	if byteCap == 0 {
		preferred := params.PreferredMessagesOfWorstCaseSize
		if preferred <= 0 {
			preferred = constants.DefaultQueueDepthMessages
		}
		byteCap = table.QueueByteBudget(preferred)
	}

	var observer interfaces.Observer = NoOpObserver{}
	if options.Observer != nil {
		observer = options.Observer
	}

	fleet := fanout.NewFleet()
	for ht := 0; ht < hyperThreads; ht++ {
		r, err := ring.Allocate(ring.Config{ByteCapacity: byteCap, MaxWastedBytes: params.MaxWastedBytes})
		if err != nil {
			fleet.Close()
			return nil, nil, NewAllocationError("StartFleet", ht, err)
		}

		qopts := []queue.Option{queue.WithObserver(observer)}
		if options.Logger != nil {
			qopts = append(qopts, queue.WithLogger(options.Logger))
		}
		fleet.Add(ht, queue.New(r, table, qopts...))
	}

	for _, ht := range fleet.Queues().Ids() {
		q, _ := fleet.Queue(ht)
		go runConsumer(ctx, q, ht, params.CPUAffinity, options)
	}

	return fleet, table, nil
}

// runConsumer pins (if requested) and repeatedly drains q, blocking between
// passes instead of spinning. It returns when ctx is found cancelled (checked
// before each frame and after each wait), when a handler returns an error,
// or when WaitForData fails; while blocked in WaitForData on an empty queue
// it does not observe ctx.
func runConsumer(ctx context.Context, q *queue.Queue, hyperThread int, cpus []int, options *Options) {
	if len(cpus) > 0 {
		if cpu, err := affinity.ForHyperThread(hyperThread, cpus); err == nil {
			if unpin, err := affinity.Pin(cpu); err == nil {
				defer unpin()
			}
		}
	}

	var args any
	if options.HandlerArgs != nil {
		args = options.HandlerArgs(hyperThread)
	}

	term := ctxTerminate{ctx}
	for term.ShouldContinue() {
		if err := q.Dequeue(term, args); err != nil {
			if options.Logger != nil {
				options.Logger.Printf("hyperq: hyper-thread %d consumer stopped: %v", hyperThread, err)
			}
			return
		}
		if err := q.WaitForData(); err != nil {
			return
		}
	}
}

type ctxTerminate struct{ ctx context.Context }

func (c ctxTerminate) ShouldContinue() bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
		return true
	}
}
