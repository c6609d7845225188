package fanout

import (
	"fmt"
	"reflect"

	"github.com/fathomdata/hyperq/internal/affinity"
	"github.com/fathomdata/hyperq/internal/bitset"
	"github.com/fathomdata/hyperq/internal/queue"
)

type queueTag struct {
	q   *queue.Queue
	tag uint8
}

// Publisher caches the (queue, tag) pair for one message type across every
// queue of a fleet at construction time, so a hot-path Publish call costs
// only a bitset-indexed slice lookup rather than a hash lookup per send
// (§4.5 "Publisher<M>").
type Publisher[T any, C any, H any, PT MessagePtr[T, C, H]] struct {
	byHyperThread bitset.Map[queueTag]
	defaultHT     int
}

// NewPublisher resolves T's tag against every queue in queues and binds
// them into a Publisher. defaultHyperThread is used by Publish when asked
// to target a hyper-thread with no queue of its own. NewPublisher fails if
// T was not registered on every queue's handlers table.
func NewPublisher[T any, C any, H any, PT MessagePtr[T, C, H]](queues *bitset.Map[*queue.Queue], defaultHyperThread int) (*Publisher[T, C, H, PT], error) {
	var zero T
	t := reflect.TypeOf(zero)

	p := &Publisher[T, C, H, PT]{defaultHT: defaultHyperThread}
	for _, ht := range queues.Ids() {
		q, _ := queues.Get(ht)
		tag, ok := q.Table().FindTag(t)
		if !ok {
			return nil, fmt.Errorf("fanout: type %s is not registered on the queue for hyper-thread %d", t, ht)
		}
		p.byHyperThread.Set(ht, queueTag{q: q, tag: tag})
	}
	return p, nil
}

// Publish enqueues a message of type T onto the queue for targetHyperThread,
// falling back to the publisher's configured default hyper-thread if no
// queue is bound for the target, and reports which hyper-thread's queue
// actually received the message (§4.5 "publish").
func (p *Publisher[T, C, H, PT]) Publish(targetHyperThread int, args C) (int, error) {
	if entry, ok := p.byHyperThread.Get(targetHyperThread); ok {
		return p.publishTo(entry, targetHyperThread, args)
	}
	entry, ok := p.byHyperThread.Get(p.defaultHT)
	if !ok {
		return 0, fmt.Errorf("fanout: no queue registered for hyper-thread %d or the default hyper-thread %d", targetHyperThread, p.defaultHT)
	}
	return p.publishTo(entry, p.defaultHT, args)
}

// PublishOrCurrent behaves like Publish, but on a missing target queue falls
// back to the queue bound to the hyper-thread the calling goroutine is
// currently pinned to, rather than the publisher's configured default
// (original_source's get_or_current fallback).
func (p *Publisher[T, C, H, PT]) PublishOrCurrent(targetHyperThread int, args C) (int, error) {
	if entry, ok := p.byHyperThread.Get(targetHyperThread); ok {
		return p.publishTo(entry, targetHyperThread, args)
	}

	current, err := affinity.CurrentCPU()
	if err != nil {
		return 0, err
	}
	entry, ok := p.byHyperThread.Get(current)
	if !ok {
		return 0, fmt.Errorf("fanout: no queue for hyper-thread %d nor for the current hyper-thread %d", targetHyperThread, current)
	}
	return p.publishTo(entry, current, args)
}

func (p *Publisher[T, C, H, PT]) publishTo(entry queueTag, usedHT int, args C) (int, error) {
	if err := entry.q.Enqueue(entry.tag, args, constructThunk[T, C, H, PT]); err != nil {
		return 0, err
	}
	return usedHT, nil
}
