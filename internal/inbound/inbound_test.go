package inbound

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/supersonic-audio/supersonic/internal/osc"
	"github.com/supersonic-audio/supersonic/internal/region"
	"github.com/supersonic-audio/supersonic/internal/ring"
)

type fakeDrainer struct {
	mu      sync.Mutex
	pending [][]ring.Record
	waited  chan struct{}
}

func newFakeDrainer(batches ...[]ring.Record) *fakeDrainer {
	return &fakeDrainer{pending: batches, waited: make(chan struct{}, len(batches)+1)}
}

func (f *fakeDrainer) Wait(ctx context.Context) bool {
	f.mu.Lock()
	empty := len(f.pending) == 0
	f.mu.Unlock()
	if empty {
		<-ctx.Done()
		return false
	}
	select {
	case f.waited <- struct{}{}:
	default:
	}
	return true
}

func (f *fakeDrainer) Drain(maxRecords int) []ring.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil
	}
	batch := f.pending[0]
	f.pending = f.pending[1:]
	return batch
}

type fakeMetrics struct {
	mu              sync.Mutex
	received        uint64
	decodeFailures  int
}

func (f *fakeMetrics) ObserveReceive(bytes uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received += bytes
}

func (f *fakeMetrics) ObserveDecodeFailure() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decodeFailures++
}

func TestBusDispatchesToRegisteredListeners(t *testing.T) {
	bus := NewBus()
	var got []Event
	var mu sync.Mutex
	bus.On("message", func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})

	bus.Emit(Event{Name: "message", Text: "hi"})
	bus.Emit(Event{Name: "debug"}) // no listener registered, must not panic

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Text != "hi" {
		t.Fatalf("expected one dispatched message event, got %+v", got)
	}
}

func encodedNonBundle(t *testing.T) []byte {
	t.Helper()
	w := osc.GetWriter()
	defer osc.PutWriter(w)
	bytes, err := w.EncodeMessage(&osc.Message{Address: "/n_free", Args: []osc.Arg{osc.Int32Arg(1)}})
	if err != nil {
		t.Fatalf("EncodeMessage failed: %v", err)
	}
	return append([]byte(nil), bytes...)
}

func TestReplyReaderDecodesAndEmitsMessages(t *testing.T) {
	payload := encodedNonBundle(t)
	drainer := newFakeDrainer([]ring.Record{{Sequence: 1, SourceID: 0, Bytes: payload}})

	bus := NewBus()
	var received *Event
	bus.On("message", func(e Event) { received = &e })

	metrics := &fakeMetrics{}
	rr := NewReplyReader(drainer, bus, metrics)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = rr.Run(ctx)

	if received == nil {
		t.Fatal("expected a message event to be emitted")
	}
	if _, ok := received.Message.(*osc.Message); !ok {
		t.Errorf("expected decoded *osc.Message, got %T", received.Message)
	}
	if metrics.received == 0 {
		t.Error("expected ObserveReceive to be called with the decoded record's size")
	}
}

func TestReplyReaderEmitsErrorOnDecodeFailure(t *testing.T) {
	drainer := newFakeDrainer([]ring.Record{{Sequence: 1, SourceID: 0, Bytes: []byte{0x00}}})

	bus := NewBus()
	var gotErr bool
	bus.On("error", func(e Event) { gotErr = e.Err != nil })

	metrics := &fakeMetrics{}
	rr := NewReplyReader(drainer, bus, metrics)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = rr.Run(ctx)

	if !gotErr {
		t.Fatal("expected an error event for undecodable bytes")
	}
	if metrics.decodeFailures != 1 {
		t.Errorf("expected one ObserveDecodeFailure call, got %d", metrics.decodeFailures)
	}
}

func TestDebugReaderForwardsTextFrames(t *testing.T) {
	drainer := newFakeDrainer([]ring.Record{{Bytes: []byte("engine started")}})
	bus := NewBus()
	var text string
	bus.On("debug", func(e Event) { text = e.Text })

	dr := NewDebugReader(drainer, bus, &fakeMetrics{})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = dr.Run(ctx)

	if text != "engine started" {
		t.Errorf("expected forwarded debug text, got %q", text)
	}
}

func TestManagerRunsReadersConcurrentlyAndStopsCleanly(t *testing.T) {
	reply := newFakeDrainer()
	debug := newFakeDrainer()

	bus := NewBus()
	mgr := NewManager(NewReplyReader(reply, bus, &fakeMetrics{}), NewDebugReader(debug, bus, &fakeMetrics{}))

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := mgr.Stop(); err != nil {
		t.Errorf("expected clean shutdown, got %v", err)
	}
}

func TestTreeReaderForwardsRegionSnapshot(t *testing.T) {
	layout := region.NewLayout(64, 64, 64, 4, 0)
	r := region.New(layout)
	tr := NewTreeReader(r)

	entries, version, dropped := tr.QueryTree()
	if len(entries) != 0 {
		t.Fatalf("expected an empty (not nil-panicking) entry list on a fresh region")
	}
	if version != 0 || dropped != 0 {
		t.Errorf("expected a fresh region to report version=0 dropped=0, got version=%d dropped=%d", version, dropped)
	}
}
