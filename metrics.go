package supersonic

import (
	"sync/atomic"
	"time"

	"github.com/supersonic-audio/supersonic/internal/classify"
)

// Category re-exports the classifier's routing verdict so callers of the
// public API don't need to import the internal package directly.
type Category = classify.Category

const (
	CategoryNonBundle  = classify.NonBundle
	CategoryImmediate  = classify.Immediate
	CategoryNearFuture = classify.NearFuture
	CategoryLate       = classify.Late
	CategoryFarFuture  = classify.FarFuture
)

// ScheduleLatencyBuckets defines the schedule-accuracy histogram buckets
// in nanoseconds (testable property 4: records should land within one
// audio buffer period of their target). Logarithmically spaced from
// 100us to 1s.
var ScheduleLatencyBuckets = []uint64{
	100_000,       // 100us
	1_000_000,     // 1ms
	5_000_000,     // 5ms
	10_000_000,    // 10ms
	50_000_000,    // 50ms
	100_000_000,   // 100ms
	500_000_000,   // 500ms
	1_000_000_000, // 1s
}

const numLatencyBuckets = 8

// Metrics tracks the operational counters described in the shared
// region's metrics block (spec.md §3.1) plus derived rates, mirroring
// go-ublk's Metrics shape (atomic counters + Snapshot()).
type Metrics struct {
	// Transport counters.
	MessagesSent     atomic.Uint64 // total records accepted by a channel send (ring write or prescheduler enqueue)
	MessagesReceived atomic.Uint64 // total records drained by a ring reader
	BytesSent        atomic.Uint64
	BytesReceived    atomic.Uint64

	// Classifier category counters (spec.md §4.5).
	NonBundle  atomic.Uint64
	Immediate  atomic.Uint64
	NearFuture atomic.Uint64
	Late       atomic.Uint64
	FarFuture  atomic.Uint64

	// Routing and scheduling.
	PreschedulerBypassed  atomic.Uint64 // records sent straight to the ring
	PreschedulerScheduled atomic.Uint64 // records handed to the prescheduler
	Cancelled             atomic.Uint64 // bundles dropped by cancel_*
	DirectWriteFallbacks  atomic.Uint64 // main-thread lock misses rerouted to the prescheduler
	RingWriteRetries      atomic.Uint64

	// Error counters (spec.md §7).
	RingCorruptEvents atomic.Uint64
	DecodeFailures    atomic.Uint64
	AllocationFailed  atomic.Uint64

	// Prescheduler heap occupancy.
	HeapDepthTotal atomic.Uint64
	HeapDepthCount atomic.Uint64
	MaxHeapDepth   atomic.Uint32

	// Schedule-accuracy tracking: signed nanosecond delta between actual
	// ring-entry time and the requested release time, recorded unsigned
	// via its absolute value for the histogram.
	TotalScheduleErrorNs atomic.Uint64
	ScheduleSampleCount  atomic.Uint64
	ScheduleLatencyHist  [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64 // UnixNano
	StopTime  atomic.Int64 // UnixNano
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSend records an accepted outbound record.
func (m *Metrics) RecordSend(bytes uint64) {
	m.MessagesSent.Add(1)
	m.BytesSent.Add(bytes)
}

// RecordReceive records a drained inbound record.
func (m *Metrics) RecordReceive(bytes uint64) {
	m.MessagesReceived.Add(1)
	m.BytesReceived.Add(bytes)
}

// RecordClassification increments the counter for a classifier category.
func (m *Metrics) RecordClassification(category Category) {
	switch category {
	case CategoryNonBundle:
		m.NonBundle.Add(1)
	case CategoryImmediate:
		m.Immediate.Add(1)
	case CategoryNearFuture:
		m.NearFuture.Add(1)
	case CategoryLate:
		m.Late.Add(1)
	case CategoryFarFuture:
		m.FarFuture.Add(1)
	}
}

// RecordBypass records a record routed straight to the ring.
func (m *Metrics) RecordBypass() { m.PreschedulerBypassed.Add(1) }

// RecordScheduled records a record handed to the prescheduler.
func (m *Metrics) RecordScheduled() { m.PreschedulerScheduled.Add(1) }

// RecordCancelled records n bundles dropped by a cancel_* call.
func (m *Metrics) RecordCancelled(n uint64) { m.Cancelled.Add(n) }

// RecordDirectWriteFallback records a main-thread lock-contention fallback.
func (m *Metrics) RecordDirectWriteFallback() { m.DirectWriteFallbacks.Add(1) }

// RecordRingWriteRetry records a worker-thread blocking retry.
func (m *Metrics) RecordRingWriteRetry() { m.RingWriteRetries.Add(1) }

// RecordRingCorrupt records a reader resync event.
func (m *Metrics) RecordRingCorrupt() { m.RingCorruptEvents.Add(1) }

// RecordDecodeFailure records a codec error on an inbound message.
func (m *Metrics) RecordDecodeFailure() { m.DecodeFailures.Add(1) }

// RecordAllocationFailed records a rejected buffer-pool allocation.
func (m *Metrics) RecordAllocationFailed() { m.AllocationFailed.Add(1) }

// RecordHeapDepth records the prescheduler heap's current size.
func (m *Metrics) RecordHeapDepth(depth uint32) {
	m.HeapDepthTotal.Add(uint64(depth))
	m.HeapDepthCount.Add(1)
	for {
		current := m.MaxHeapDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxHeapDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

// RecordScheduleError records the signed nanosecond delta between a
// bundle's requested release time and the wall time it actually entered
// the ring.
func (m *Metrics) RecordScheduleError(deltaNs int64) {
	abs := deltaNs
	if abs < 0 {
		abs = -abs
	}
	absU := uint64(abs)
	m.TotalScheduleErrorNs.Add(absU)
	m.ScheduleSampleCount.Add(1)
	for i, bucket := range ScheduleLatencyBuckets {
		if absU <= bucket {
			m.ScheduleLatencyHist[i].Add(1)
		}
	}
}

// Stop marks the collection period as ended.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time, non-atomic copy of Metrics plus
// derived rates.
type MetricsSnapshot struct {
	MessagesSent     uint64
	MessagesReceived uint64
	BytesSent        uint64
	BytesReceived    uint64

	NonBundle  uint64
	Immediate  uint64
	NearFuture uint64
	Late       uint64
	FarFuture  uint64

	PreschedulerBypassed  uint64
	PreschedulerScheduled uint64
	Cancelled             uint64
	DirectWriteFallbacks  uint64
	RingWriteRetries      uint64

	RingCorruptEvents uint64
	DecodeFailures    uint64
	AllocationFailed  uint64

	AvgHeapDepth float64
	MaxHeapDepth uint32

	AvgScheduleErrorNs uint64
	UptimeNs           uint64

	ScheduleErrorP50Ns  uint64
	ScheduleErrorP99Ns  uint64
	ScheduleErrorP999Ns uint64

	ScheduleLatencyHistogram [numLatencyBuckets]uint64

	SendRate    float64 // messages/sec
	ReceiveRate float64
	ErrorRate   float64 // % of sends that hit a corrupt/decode/allocation error
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		MessagesSent:          m.MessagesSent.Load(),
		MessagesReceived:      m.MessagesReceived.Load(),
		BytesSent:             m.BytesSent.Load(),
		BytesReceived:         m.BytesReceived.Load(),
		NonBundle:             m.NonBundle.Load(),
		Immediate:             m.Immediate.Load(),
		NearFuture:            m.NearFuture.Load(),
		Late:                  m.Late.Load(),
		FarFuture:             m.FarFuture.Load(),
		PreschedulerBypassed:  m.PreschedulerBypassed.Load(),
		PreschedulerScheduled: m.PreschedulerScheduled.Load(),
		Cancelled:             m.Cancelled.Load(),
		DirectWriteFallbacks:  m.DirectWriteFallbacks.Load(),
		RingWriteRetries:      m.RingWriteRetries.Load(),
		RingCorruptEvents:     m.RingCorruptEvents.Load(),
		DecodeFailures:        m.DecodeFailures.Load(),
		AllocationFailed:      m.AllocationFailed.Load(),
		MaxHeapDepth:          m.MaxHeapDepth.Load(),
	}

	heapTotal := m.HeapDepthTotal.Load()
	heapCount := m.HeapDepthCount.Load()
	if heapCount > 0 {
		snap.AvgHeapDepth = float64(heapTotal) / float64(heapCount)
	}

	totalErrNs := m.TotalScheduleErrorNs.Load()
	sampleCount := m.ScheduleSampleCount.Load()
	if sampleCount > 0 {
		snap.AvgScheduleErrorNs = totalErrNs / sampleCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.SendRate = float64(snap.MessagesSent) / uptimeSeconds
		snap.ReceiveRate = float64(snap.MessagesReceived) / uptimeSeconds
	}

	totalErrors := snap.RingCorruptEvents + snap.DecodeFailures + snap.AllocationFailed
	if snap.MessagesSent > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.MessagesSent) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.ScheduleLatencyHistogram[i] = m.ScheduleLatencyHist[i].Load()
	}

	if sampleCount > 0 {
		snap.ScheduleErrorP50Ns = m.calculatePercentile(0.50)
		snap.ScheduleErrorP99Ns = m.calculatePercentile(0.99)
		snap.ScheduleErrorP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the schedule error at the given
// percentile (0.0-1.0) using linear interpolation between histogram
// buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalSamples := m.ScheduleSampleCount.Load()
	if totalSamples == 0 {
		return 0
	}

	targetCount := uint64(float64(totalSamples) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range ScheduleLatencyBuckets {
		bucketCount := m.ScheduleLatencyHist[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.ScheduleLatencyHist[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return ScheduleLatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing).
func (m *Metrics) Reset() {
	m.MessagesSent.Store(0)
	m.MessagesReceived.Store(0)
	m.BytesSent.Store(0)
	m.BytesReceived.Store(0)
	m.NonBundle.Store(0)
	m.Immediate.Store(0)
	m.NearFuture.Store(0)
	m.Late.Store(0)
	m.FarFuture.Store(0)
	m.PreschedulerBypassed.Store(0)
	m.PreschedulerScheduled.Store(0)
	m.Cancelled.Store(0)
	m.DirectWriteFallbacks.Store(0)
	m.RingWriteRetries.Store(0)
	m.RingCorruptEvents.Store(0)
	m.DecodeFailures.Store(0)
	m.AllocationFailed.Store(0)
	m.HeapDepthTotal.Store(0)
	m.HeapDepthCount.Store(0)
	m.MaxHeapDepth.Store(0)
	m.TotalScheduleErrorNs.Store(0)
	m.ScheduleSampleCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.ScheduleLatencyHist[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection so channel/prescheduler/
// inbound code doesn't need a concrete *Metrics to exercise its
// instrumentation points (go-ublk's Observer/NoOpObserver/MetricsObserver
// shape, kept verbatim).
type Observer interface {
	ObserveSend(bytes uint64)
	ObserveReceive(bytes uint64)
	ObserveClassification(category Category)
	ObserveBypass()
	ObserveScheduled()
	ObserveCancelled(n uint64)
	ObserveDirectWriteFallback()
	ObserveRingWriteRetry()
	ObserveRingCorrupt()
	ObserveDecodeFailure()
	ObserveAllocationFailed()
	ObserveHeapDepth(depth uint32)
	ObserveScheduleError(deltaNs int64)
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSend(uint64)              {}
func (NoOpObserver) ObserveReceive(uint64)            {}
func (NoOpObserver) ObserveClassification(Category)   {}
func (NoOpObserver) ObserveBypass()                   {}
func (NoOpObserver) ObserveScheduled()                {}
func (NoOpObserver) ObserveCancelled(uint64)           {}
func (NoOpObserver) ObserveDirectWriteFallback()       {}
func (NoOpObserver) ObserveRingWriteRetry()            {}
func (NoOpObserver) ObserveRingCorrupt()               {}
func (NoOpObserver) ObserveDecodeFailure()             {}
func (NoOpObserver) ObserveAllocationFailed()          {}
func (NoOpObserver) ObserveHeapDepth(uint32)           {}
func (NoOpObserver) ObserveScheduleError(int64)        {}

// MetricsObserver implements Observer using the built-in Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSend(bytes uint64)            { o.metrics.RecordSend(bytes) }
func (o *MetricsObserver) ObserveReceive(bytes uint64)         { o.metrics.RecordReceive(bytes) }
func (o *MetricsObserver) ObserveClassification(c Category)    { o.metrics.RecordClassification(c) }
func (o *MetricsObserver) ObserveBypass()                      { o.metrics.RecordBypass() }
func (o *MetricsObserver) ObserveScheduled()                   { o.metrics.RecordScheduled() }
func (o *MetricsObserver) ObserveCancelled(n uint64)           { o.metrics.RecordCancelled(n) }
func (o *MetricsObserver) ObserveDirectWriteFallback()         { o.metrics.RecordDirectWriteFallback() }
func (o *MetricsObserver) ObserveRingWriteRetry()               { o.metrics.RecordRingWriteRetry() }
func (o *MetricsObserver) ObserveRingCorrupt()                 { o.metrics.RecordRingCorrupt() }
func (o *MetricsObserver) ObserveDecodeFailure()               { o.metrics.RecordDecodeFailure() }
func (o *MetricsObserver) ObserveAllocationFailed()            { o.metrics.RecordAllocationFailed() }
func (o *MetricsObserver) ObserveHeapDepth(depth uint32)       { o.metrics.RecordHeapDepth(depth) }
func (o *MetricsObserver) ObserveScheduleError(deltaNs int64)  { o.metrics.RecordScheduleError(deltaNs) }

// Compile-time interface checks.
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
