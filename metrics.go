package hyperq

import (
	"sync/atomic"
	"time"

	"github.com/fathomdata/hyperq/internal/interfaces"
)

// LatencyBuckets defines the handler-latency histogram buckets in
// nanoseconds. Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks per-fleet enqueue/handle statistics. A zero Metrics is
// usable; use NewMetrics to also stamp a start time.
type Metrics struct {
	EnqueueOps      atomic.Uint64
	EnqueueFailures atomic.Uint64

	HandleOps    atomic.Uint64
	HandleErrors atomic.Uint64

	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	TotalLatencyNs atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics returns a Metrics instance stamped with the current time as
// its start time.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordEnqueue records one Enqueue call's outcome (§4.5 "publish").
func (m *Metrics) RecordEnqueue(success bool) {
	m.EnqueueOps.Add(1)
	if !success {
		m.EnqueueFailures.Add(1)
	}
}

// RecordHandle records one dequeued message's handler outcome and latency.
func (m *Metrics) RecordHandle(latencyNs uint64, err error) {
	m.HandleOps.Add(1)
	if err != nil {
		m.HandleErrors.Add(1)
	}
	m.TotalLatencyNs.Add(latencyNs)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// RecordQueueDepth records a queue-depth sample.
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)
	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

// Stop marks the fleet as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics with derived rates.
type MetricsSnapshot struct {
	EnqueueOps      uint64
	EnqueueFailures uint64
	HandleOps       uint64
	HandleErrors    uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	HandleRate float64 // handled messages per second
	ErrorRate  float64 // percentage of handled messages that errored
}

// Snapshot takes a point-in-time snapshot of m.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		EnqueueOps:      m.EnqueueOps.Load(),
		EnqueueFailures: m.EnqueueFailures.Load(),
		HandleOps:       m.HandleOps.Load(),
		HandleErrors:    m.HandleErrors.Load(),
		MaxQueueDepth:   m.MaxQueueDepth.Load(),
	}

	queueDepthTotal := m.QueueDepthTotal.Load()
	queueDepthCount := m.QueueDepthCount.Load()
	if queueDepthCount > 0 {
		snap.AvgQueueDepth = float64(queueDepthTotal) / float64(queueDepthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	if snap.HandleOps > 0 {
		snap.AvgLatencyNs = totalLatencyNs / snap.HandleOps
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		snap.HandleRate = float64(snap.HandleOps) / (float64(snap.UptimeNs) / 1e9)
	}
	if snap.HandleOps > 0 {
		snap.ErrorRate = float64(snap.HandleErrors) / float64(snap.HandleOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if snap.HandleOps > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) by linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.HandleOps.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes every counter and restamps the start time, useful between
// test runs or benchmark phases.
func (m *Metrics) Reset() {
	m.EnqueueOps.Store(0)
	m.EnqueueFailures.Store(0)
	m.HandleOps.Store(0)
	m.HandleErrors.Store(0)
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// NoOpObserver discards every observation. It implements the internal
// interfaces.Observer contract so a Fleet can be built without a Metrics.
type NoOpObserver struct{}

func (NoOpObserver) ObserveHandle(uint8, uint64, error) {}
func (NoOpObserver) ObserveEnqueue(uint8, bool)         {}
func (NoOpObserver) ObserveQueueDepth(uint32)           {}

// MetricsObserver adapts Metrics to the internal interfaces.Observer
// contract queue.Queue expects.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver returns an observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveHandle(tag uint8, latencyNs uint64, err error) {
	o.metrics.RecordHandle(latencyNs, err)
}

func (o *MetricsObserver) ObserveEnqueue(tag uint8, success bool) {
	o.metrics.RecordEnqueue(success)
}

func (o *MetricsObserver) ObserveQueueDepth(depth uint32) {
	o.metrics.RecordQueueDepth(depth)
}

var _ interfaces.Observer = (*MetricsObserver)(nil)
var _ interfaces.Observer = NoOpObserver{}
