package prescheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/supersonic-audio/supersonic/internal/timing"
)

type fakeWriter struct {
	mu      sync.Mutex
	written [][]byte
	fail    bool
}

func (f *fakeWriter) WriteBlocking(ctx context.Context, payload []byte, sourceID uint32) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, context.DeadlineExceeded
	}
	cp := append([]byte(nil), payload...)
	f.written = append(f.written, cp)
	return uint32(len(f.written)), nil
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

type fakeMetrics struct {
	mu         sync.Mutex
	cancelled  uint64
	heapDepths []uint32
	retries    int
	allocFail  int
}

func (m *fakeMetrics) ObserveHeapDepth(depth uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heapDepths = append(m.heapDepths, depth)
}
func (m *fakeMetrics) ObserveCancelled(n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled += n
}
func (m *fakeMetrics) ObserveRingWriteRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}
func (m *fakeMetrics) ObserveAllocationFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocFail++
}
func (m *fakeMetrics) ObserveScheduleError(deltaNs int64) {}

func TestEnqueueReleasesWhenDue(t *testing.T) {
	writer := &fakeWriter{}
	metrics := &fakeMetrics{}
	w := NewWorker(Config{Capacity: 10, DispatchSlack: 5 * time.Millisecond}, writer, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if err := w.Enqueue(EnqueueRequest{Bytes: []byte("past due"), ReleaseNTP: timing.CurrentNTP() - 1}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	deadline := time.After(time.Second)
	for writer.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for release")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestEnqueueRejectsAtCapacity(t *testing.T) {
	writer := &fakeWriter{}
	metrics := &fakeMetrics{}
	w := NewWorker(Config{Capacity: 1, DispatchSlack: time.Millisecond}, writer, metrics)

	far := timing.CurrentNTP() + 3600
	if err := w.Enqueue(EnqueueRequest{Bytes: []byte("a"), ReleaseNTP: far}); err != nil {
		t.Fatalf("first enqueue should succeed: %v", err)
	}
	if err := w.Enqueue(EnqueueRequest{Bytes: []byte("b"), ReleaseNTP: far}); err == nil {
		t.Fatal("expected capacity rejection on second enqueue")
	}
	if metrics.allocFail != 1 {
		t.Errorf("expected 1 allocation-failed observation, got %d", metrics.allocFail)
	}
}

func TestCancelSessionTagDropsOnlyMatching(t *testing.T) {
	writer := &fakeWriter{}
	metrics := &fakeMetrics{}
	w := NewWorker(Config{Capacity: 10, DispatchSlack: time.Millisecond}, writer, metrics)

	far := timing.CurrentNTP() + 3600
	w.Enqueue(EnqueueRequest{Bytes: []byte("a"), ReleaseNTP: far, SessionID: 1, RunTag: 100})
	w.Enqueue(EnqueueRequest{Bytes: []byte("b"), ReleaseNTP: far, SessionID: 1, RunTag: 200})
	w.Enqueue(EnqueueRequest{Bytes: []byte("c"), ReleaseNTP: far, SessionID: 2, RunTag: 100})

	n := w.CancelSessionTag(1, 100)
	if n != 1 {
		t.Errorf("expected 1 cancelled, got %d", n)
	}
	if w.Len() != 2 {
		t.Errorf("expected 2 remaining, got %d", w.Len())
	}
	if metrics.cancelled != 1 {
		t.Errorf("expected metrics.cancelled == 1, got %d", metrics.cancelled)
	}
}

func TestCancelAllClearsHeap(t *testing.T) {
	writer := &fakeWriter{}
	metrics := &fakeMetrics{}
	w := NewWorker(Config{Capacity: 10, DispatchSlack: time.Millisecond}, writer, metrics)

	far := timing.CurrentNTP() + 3600
	w.Enqueue(EnqueueRequest{Bytes: []byte("a"), ReleaseNTP: far})
	w.Enqueue(EnqueueRequest{Bytes: []byte("b"), ReleaseNTP: far})

	n := w.CancelAll()
	if n != 2 {
		t.Errorf("expected 2 cancelled, got %d", n)
	}
	if w.Len() != 0 {
		t.Errorf("expected empty heap, got %d", w.Len())
	}
}

func TestDirectDispatchBypassesIndices(t *testing.T) {
	writer := &fakeWriter{}
	metrics := &fakeMetrics{}
	w := NewWorker(Config{Capacity: 10, DispatchSlack: time.Millisecond}, writer, metrics)

	w.DirectDispatch([]byte("urgent"), 7)
	if n := w.CancelSession(0); n != 0 {
		t.Errorf("expected a direct dispatch to be outside the cancellation indices, cancelled %d", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	deadline := time.After(time.Second)
	for writer.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for direct dispatch release")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestTieBreakByArrivalOrder(t *testing.T) {
	idx := newIndex()
	same := timing.CurrentNTP()
	a := &entry{bytes: []byte("first"), releaseNTP: same, arrivalSeq: 1}
	b := &entry{bytes: []byte("second"), releaseNTP: same, arrivalSeq: 2}
	idx.insert(b)
	idx.insert(a)

	due := idx.popDue(same)
	if len(due) != 2 {
		t.Fatalf("expected 2 due records, got %d", len(due))
	}
	if string(due[0].bytes) != "first" || string(due[1].bytes) != "second" {
		t.Errorf("expected arrival order first,second; got %s,%s", due[0].bytes, due[1].bytes)
	}
}
