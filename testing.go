package supersonic

import "sync"

// FakeEngine is an in-process stand-in for the one real collaborator a
// host adaptor has: the WASM-hosted synthesis engine. It tracks method
// calls for verification the same way go-ublk's MockBackend tracked
// ReadAt/WriteAt/Flush calls, letting adaptor tests and
// cmd/supersonic-host run without a real engine.
type FakeEngine struct {
	mu sync.RWMutex

	contextTime float64
	ready       bool
	closed      bool

	contextTimeCalls int
	readyCalls       int
}

// NewFakeEngine creates a fake engine whose context clock starts at 0,
// matching a freshly loaded WASM module before its audio clock starts.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{}
}

// ContextTime implements Engine.
func (f *FakeEngine) ContextTime() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contextTimeCalls++
	return f.contextTime
}

// Ready implements Engine.
func (f *FakeEngine) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readyCalls++
	return f.ready
}

// Close implements Engine.
func (f *FakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// SetContextTime advances the fake audio clock, as if the WASM engine's
// render loop had ticked forward.
func (f *FakeEngine) SetContextTime(t float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contextTime = t
}

// SetReady marks the fake engine as having completed its load sequence.
func (f *FakeEngine) SetReady(ready bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = ready
}

// IsClosed reports whether Close has been called.
func (f *FakeEngine) IsClosed() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.closed
}

// CallCounts returns the number of times each method has been called,
// for assertions in tests that exercise the timing resync loop.
func (f *FakeEngine) CallCounts() map[string]int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return map[string]int{
		"context_time": f.contextTimeCalls,
		"ready":        f.readyCalls,
	}
}

// Reset clears all call counters and state flags.
func (f *FakeEngine) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contextTime = 0
	f.ready = false
	f.closed = false
	f.contextTimeCalls = 0
	f.readyCalls = 0
}

var _ Engine = (*FakeEngine)(nil)
