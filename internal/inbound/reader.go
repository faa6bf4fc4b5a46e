package inbound

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/supersonic-audio/supersonic/internal/ring"
)

// RingDrainer is the read surface every reader in this package drains
// from. *ring.Reader satisfies it directly; tests use a fake that never
// touches a real shared byte buffer.
type RingDrainer interface {
	Drain(maxRecords int) []ring.Record
	Wait(ctx context.Context) bool
}

// Runner is one inbound reader's blocking loop, run concurrently by a
// Manager the way sakateka-yanet2's pdump ring collector runs one
// goroutine per worker inside a single errgroup.
type Runner interface {
	Run(ctx context.Context) error
}

// Manager starts every registered Runner under one errgroup and exposes
// a Start/Stop lifecycle matching internal/prescheduler.Worker's shape,
// so the host adaptor can treat every background subsystem uniformly.
type Manager struct {
	runners []Runner

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewManager constructs a Manager over a fixed set of readers.
func NewManager(runners ...Runner) *Manager {
	return &Manager{runners: runners}
}

// Start launches every runner in its own goroutine, all sharing one
// errgroup-derived context: the first runner to return an error cancels
// the rest (golang.org/x/sync/errgroup.WithContext).
func (m *Manager) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	started := make(chan error, 1)
	go func() {
		started <- nil
		g, gctx := errgroup.WithContext(ctx)
		for _, r := range m.runners {
			r := r
			g.Go(func() error { return r.Run(gctx) })
		}
		m.err = g.Wait()
		close(m.done)
	}()
	return <-started
}

// Stop cancels every runner and waits for them to exit. A plain context
// cancellation is not reported as an error — it's the expected shutdown
// path (spec.md §5's "stop unparks via a dummy notify after setting
// running = false").
func (m *Manager) Stop() error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}
	if errors.Is(m.err, context.Canceled) {
		return nil
	}
	return m.err
}
