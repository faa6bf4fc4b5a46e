package supersonic

import (
	"testing"
	"time"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.MessagesSent != 0 {
		t.Errorf("Expected 0 initial sends, got %d", snap.MessagesSent)
	}

	m.RecordSend(12)
	m.RecordSend(64)
	m.RecordReceive(12)

	snap = m.Snapshot()
	if snap.MessagesSent != 2 {
		t.Errorf("Expected 2 sends, got %d", snap.MessagesSent)
	}
	if snap.MessagesReceived != 1 {
		t.Errorf("Expected 1 receive, got %d", snap.MessagesReceived)
	}
	if snap.BytesSent != 76 {
		t.Errorf("Expected 76 bytes sent, got %d", snap.BytesSent)
	}
}

func TestMetricsClassification(t *testing.T) {
	m := NewMetrics()

	m.RecordClassification(CategoryNonBundle)
	m.RecordClassification(CategoryNonBundle)
	m.RecordClassification(CategoryFarFuture)

	snap := m.Snapshot()
	if snap.NonBundle != 2 {
		t.Errorf("Expected 2 non-bundle, got %d", snap.NonBundle)
	}
	if snap.FarFuture != 1 {
		t.Errorf("Expected 1 far-future, got %d", snap.FarFuture)
	}
}

func TestMetricsHeapDepth(t *testing.T) {
	m := NewMetrics()

	m.RecordHeapDepth(10)
	m.RecordHeapDepth(20)
	m.RecordHeapDepth(15)

	snap := m.Snapshot()
	if snap.MaxHeapDepth != 20 {
		t.Errorf("Expected max heap depth 20, got %d", snap.MaxHeapDepth)
	}

	expectedAvg := float64(10+20+15) / 3.0
	if snap.AvgHeapDepth < expectedAvg-0.1 || snap.AvgHeapDepth > expectedAvg+0.1 {
		t.Errorf("Expected avg heap depth %.1f, got %.1f", expectedAvg, snap.AvgHeapDepth)
	}
}

func TestMetricsScheduleError(t *testing.T) {
	m := NewMetrics()

	m.RecordScheduleError(1_000_000)  // 1ms late
	m.RecordScheduleError(-2_000_000) // 2ms early

	snap := m.Snapshot()
	expectedAvgNs := uint64(1_500_000)
	if snap.AvgScheduleErrorNs != expectedAvgNs {
		t.Errorf("Expected avg schedule error %d ns, got %d ns", expectedAvgNs, snap.AvgScheduleErrorNs)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)
	snap := m.Snapshot()
	if snap.UptimeNs < 10*1_000_000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()
	if snap2.UptimeNs > snap.UptimeNs+2*1_000_000 {
		t.Errorf("Uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordSend(12)
	m.RecordHeapDepth(10)

	snap := m.Snapshot()
	if snap.MessagesSent == 0 {
		t.Error("Expected some sends before reset")
	}

	m.Reset()

	snap = m.Snapshot()
	if snap.MessagesSent != 0 {
		t.Errorf("Expected 0 sends after reset, got %d", snap.MessagesSent)
	}
	if snap.MaxHeapDepth != 0 {
		t.Errorf("Expected 0 max heap depth after reset, got %d", snap.MaxHeapDepth)
	}
}

func TestObserver(t *testing.T) {
	observer := &NoOpObserver{}
	observer.ObserveSend(12)
	observer.ObserveReceive(12)
	observer.ObserveClassification(CategoryImmediate)
	observer.ObserveHeapDepth(10)
	observer.ObserveScheduleError(1000)

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObserveSend(12)
	metricsObserver.ObserveReceive(24)

	snap := m.Snapshot()
	if snap.MessagesSent != 1 {
		t.Errorf("Expected 1 send from observer, got %d", snap.MessagesSent)
	}
	if snap.BytesReceived != 24 {
		t.Errorf("Expected 24 bytes received from observer, got %d", snap.BytesReceived)
	}
}

func TestMetricsRates(t *testing.T) {
	m := NewMetrics()

	startTime := time.Now()
	m.StartTime.Store(startTime.UnixNano())

	m.RecordSend(12)
	m.RecordReceive(12)

	stopTime := startTime.Add(1 * time.Second)
	m.StopTime.Store(stopTime.UnixNano())

	snap := m.Snapshot()
	if snap.SendRate < 0.9 || snap.SendRate > 1.1 {
		t.Errorf("Expected SendRate ~1.0, got %.2f", snap.SendRate)
	}
	if snap.ReceiveRate < 0.9 || snap.ReceiveRate > 1.1 {
		t.Errorf("Expected ReceiveRate ~1.0, got %.2f", snap.ReceiveRate)
	}
}

func TestMetricsScheduleHistogram(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordScheduleError(50_000) // 50us
	}
	for i := 0; i < 49; i++ {
		m.RecordScheduleError(5_000_000) // 5ms
	}
	m.RecordScheduleError(500_000_000) // 500ms, the P99 tail

	snap := m.Snapshot()
	if snap.ScheduleErrorP50Ns < 0 || snap.ScheduleErrorP50Ns > 1_000_000 {
		t.Errorf("Expected P50 in 0-1ms range, got %d ns", snap.ScheduleErrorP50Ns)
	}
	if snap.ScheduleErrorP99Ns < 5_000_000 {
		t.Errorf("Expected P99 >= 5ms, got %d ns", snap.ScheduleErrorP99Ns)
	}

	var totalInBuckets uint64
	for i := 0; i < len(snap.ScheduleLatencyHistogram); i++ {
		totalInBuckets += snap.ScheduleLatencyHistogram[i]
	}
	if totalInBuckets == 0 {
		t.Error("Expected histogram buckets to be populated")
	}
}
