// Package supersonic provides the host-side API for wiring a producer
// channel, a prescheduler, and an inbound reply pipeline around a
// browser-hosted audio synthesis engine over a lock-free shared-memory
// OSC transport.
package supersonic

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/c2h5oh/datasize"

	"github.com/supersonic-audio/supersonic/internal/channel"
	"github.com/supersonic-audio/supersonic/internal/constants"
	"github.com/supersonic-audio/supersonic/internal/inbound"
	"github.com/supersonic-audio/supersonic/internal/logging"
	"github.com/supersonic-audio/supersonic/internal/prescheduler"
	"github.com/supersonic-audio/supersonic/internal/region"
	"github.com/supersonic-audio/supersonic/internal/ring"
	"github.com/supersonic-audio/supersonic/internal/timing"
)

// Engine is the minimal surface a host adaptor needs from the
// WASM-hosted synthesis engine (spec.md §6.1): its own audio clock,
// whether it has finished loading, and a way to tear it down. Everything
// else an adaptor needs from the engine — consuming IN, producing
// OUT/DEBUG, publishing the node-tree mirror — happens over the shared
// region this package wires up, not through direct calls.
type Engine interface {
	ContextTime() float64
	Ready() bool
	Close() error
}

// Mode selects between the two channel transports spec.md §4.7
// describes.
type Mode string

const (
	// ModeShared gives every channel direct fetch-add access to the
	// region's node-ID counter and writes straight into the IN ring.
	ModeShared Mode = "shared"
	// ModeMessage routes every channel through a node-ID range allocator
	// instead of a shared atomic counter, the shape a cross-thread worker
	// channel needs once it no longer has direct region access.
	ModeMessage Mode = "message"
)

// Config tunes one adaptor (spec.md §6.3's init(config)).
type Config struct {
	Mode Mode

	InRingSize       datasize.ByteSize
	OutRingSize      datasize.ByteSize
	DebugRingSize    datasize.ByteSize
	AudioCaptureSize datasize.ByteSize
	NodeTreeCapacity int

	PreschedulerCapacity   int     // spec.md §6.3, default 65536
	BypassLookaheadSeconds float64 // spec.md §6.3, default 0.2
	MaxBuffers             int     // spec.md §6.3, default 1024

	WorkerNodeIDRangeSize        uint32 // spec.md §4.7, default 1000
	InitialWorkerNodeIDRangeSize uint32 // spec.md §4.7, default 10000

	ResyncInterval    time.Duration // spec.md §4.4, default 1s
	DriftWarmup       time.Duration // spec.md §4.4, default 500ms
	DispatchSlack     time.Duration // spec.md §4.6, default one audio buffer
	WorkerInitTimeout time.Duration // spec.md §5's WorkerInitTimeout budget

	AudioBaseURL    string
	SynthDefBaseURL string
	AudioPathMap    map[string]string
}

// DefaultConfig matches spec.md §6.3's stated defaults.
func DefaultConfig() Config {
	return Config{
		Mode: ModeShared,

		InRingSize:       1 * datasize.MB,
		OutRingSize:      256 * datasize.KB,
		DebugRingSize:    64 * datasize.KB,
		AudioCaptureSize: 0,
		NodeTreeCapacity: 4096,

		PreschedulerCapacity:   constants.DefaultPreschedulerCapacity,
		BypassLookaheadSeconds: constants.DefaultBypassLookaheadSeconds,
		MaxBuffers:             constants.DefaultMaxBuffers,

		WorkerNodeIDRangeSize:        constants.DefaultWorkerNodeIDRangeSize,
		InitialWorkerNodeIDRangeSize: constants.InitialWorkerNodeIDRangeSize,

		ResyncInterval:    constants.DefaultResyncInterval,
		DriftWarmup:       constants.DriftWarmup,
		DispatchSlack:     constants.DefaultDispatchSlack,
		WorkerInitTimeout: constants.AllocateTimeout,

		AudioPathMap: map[string]string{},
	}
}

// Options carries an adaptor's one required collaborator plus overridable
// cross-cutting concerns — the same shape go-ublk's Options{Context,
// Logger, Observer} takes for CreateAndServe.
type Options struct {
	Context  context.Context
	Engine   Engine
	Logger   *logging.Logger
	Observer Observer
}

// SendOptions carries per-call overrides for Adaptor.Send (spec.md
// §6.3's send(bytes, {session_id?, run_tag?, ...})). A channel's own
// source_id is always its cancellation session, so only RunTag has any
// effect here; AudioTimeS/CurrentTimeS are accepted for API parity with
// the browser host but the classifier always reads the live NTP clock.
type SendOptions struct {
	RunTag       uint32
	AudioTimeS   float64
	CurrentTimeS float64
}

// AdaptorState mirrors go-ublk's DeviceState for a host adaptor's
// lifecycle.
type AdaptorState string

const (
	AdaptorStateCreated AdaptorState = "created"
	AdaptorStateRunning AdaptorState = "running"
	AdaptorStateStopped AdaptorState = "stopped"
)

// Adaptor is the host-side API spec.md §4.9 describes: it allocates and
// publishes the shared region, spawns the reply/debug/prescheduler
// workers (plus a shared-memory-only log sniffer), and hands out
// per-producer channels bound to that one region.
type Adaptor struct {
	cfg    Config
	engine Engine

	region *region.Region
	anchor *timing.Anchor

	inWriter     *ring.Writer
	prescheduler *prescheduler.Worker
	inbound      *inbound.Manager
	bus          *inbound.Bus
	tree         *inbound.TreeReader

	mainChannel        channel.Channel
	nextWorkerSourceID atomic.Uint32

	metrics  *Metrics
	observer Observer
	logger   *logging.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// regionRangeSource adapts *region.Region's contiguous-range allocator to
// channel.RangeSource, so a message-passing channel draws from the same
// global node-ID counter a shared-memory channel's fetch-add uses (spec.md
// property 6: node-ID uniqueness holds across every channel, of either
// mode, in the same adaptor).
type regionRangeSource struct {
	region *region.Region
}

func (s regionRangeSource) AllocateRange(ctx context.Context, size uint32) (uint32, error) {
	return s.region.AllocateNodeIDRange(constants.DefaultNodeIDStart, size), nil
}

// NewAdaptor allocates the shared region, anchors the timing model, and
// starts every background worker (spec.md §4.9). The returned Adaptor's
// main channel (source_id 0) is ready to use immediately; call
// NewWorkerChannel for any additional producer.
func NewAdaptor(ctx context.Context, cfg Config, options *Options) (*Adaptor, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if options == nil {
		options = &Options{}
	}
	if options.Context != nil {
		ctx = options.Context
	}
	if options.Engine == nil {
		return nil, NewError("new_adaptor", ErrCodeStateMisuse, "Options.Engine is required")
	}

	cfg = fillConfigDefaults(cfg)

	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}

	metrics := NewMetrics()
	var observer Observer = NewMetricsObserver(metrics)
	if options.Observer != nil {
		observer = options.Observer
	}

	layout := region.NewLayout(
		int(cfg.InRingSize.Bytes()),
		int(cfg.OutRingSize.Bytes()),
		int(cfg.DebugRingSize.Bytes()),
		cfg.NodeTreeCapacity,
		int(cfg.AudioCaptureSize.Bytes()),
	)
	reg := region.New(layout)

	a := &Adaptor{
		cfg:      cfg,
		engine:   options.Engine,
		region:   reg,
		metrics:  metrics,
		observer: observer,
		logger:   logger,
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.nextWorkerSourceID.Store(1)

	a.inWriter = ring.NewWriter(reg.InRing(), reg.InHead(), reg.InTail(), reg.InSequence(), reg.InWriteLock())

	a.anchor = timing.NewAnchor(reg, options.Engine, timing.Config{
		ResyncInterval: cfg.ResyncInterval,
		DriftWarmup:    cfg.DriftWarmup,
	})
	if err := a.anchor.WaitUntilReady(a.ctx, cfg.WorkerInitTimeout); err != nil {
		a.cancel()
		return nil, &Error{Op: "new_adaptor", Code: ErrCodeWorkerInitTimeout, Msg: err.Error(), Inner: err}
	}

	a.prescheduler = prescheduler.NewWorker(prescheduler.Config{
		Capacity:      cfg.PreschedulerCapacity,
		DispatchSlack: cfg.DispatchSlack,
	}, a.inWriter, observer)

	a.bus = inbound.NewBus()
	a.tree = inbound.NewTreeReader(reg)

	outReader := ring.NewReader(reg.OutRing(), reg.OutHead(), reg.OutTail(), func() { observer.ObserveRingCorrupt() })
	debugReader := ring.NewReader(reg.DebugRing(), reg.DebugHead(), reg.DebugTail(), func() { observer.ObserveRingCorrupt() })

	runners := []inbound.Runner{
		inbound.NewReplyReader(outReader, a.bus, observer),
		inbound.NewDebugReader(debugReader, a.bus, observer),
	}
	if cfg.Mode == ModeShared {
		logTail := atomic.LoadUint32(reg.InTail())
		logReader := ring.NewNonConsumingReader(reg.InRing(), reg.InHead(), logTail, func() { observer.ObserveRingCorrupt() })
		runners = append(runners, inbound.NewLogSniffer(logReader))
	}
	a.inbound = inbound.NewManager(runners...)

	chanCfg := channel.Config{SourceID: 0, LookaheadSeconds: cfg.BypassLookaheadSeconds}
	switch cfg.Mode {
	case ModeMessage:
		a.mainChannel = channel.NewMessageChannel(chanCfg, a.inWriter, a.prescheduler, regionRangeSource{reg}, cfg.WorkerNodeIDRangeSize, cfg.InitialWorkerNodeIDRangeSize, observer)
	default:
		a.mainChannel = channel.NewSharedChannel(chanCfg, a.inWriter, a.prescheduler, reg, constants.DefaultNodeIDStart, observer)
	}

	if err := a.prescheduler.Start(a.ctx); err != nil {
		a.cancel()
		return nil, WrapError("new_adaptor", err)
	}
	if err := a.inbound.Start(a.ctx); err != nil {
		a.prescheduler.Stop()
		a.cancel()
		return nil, WrapError("new_adaptor", err)
	}
	go a.anchor.Run(a.ctx)

	atomic.StoreUint32(reg.StatusFlags(), region.StatusReady)
	a.started = true

	logger.Info("adaptor initialization complete", "mode", string(cfg.Mode))
	return a, nil
}

func fillConfigDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.Mode == "" {
		cfg.Mode = d.Mode
	}
	if cfg.InRingSize == 0 {
		cfg.InRingSize = d.InRingSize
	}
	if cfg.OutRingSize == 0 {
		cfg.OutRingSize = d.OutRingSize
	}
	if cfg.DebugRingSize == 0 {
		cfg.DebugRingSize = d.DebugRingSize
	}
	if cfg.NodeTreeCapacity == 0 {
		cfg.NodeTreeCapacity = d.NodeTreeCapacity
	}
	if cfg.PreschedulerCapacity == 0 {
		cfg.PreschedulerCapacity = d.PreschedulerCapacity
	}
	if cfg.BypassLookaheadSeconds == 0 {
		cfg.BypassLookaheadSeconds = d.BypassLookaheadSeconds
	}
	if cfg.MaxBuffers == 0 {
		cfg.MaxBuffers = d.MaxBuffers
	}
	if cfg.WorkerNodeIDRangeSize == 0 {
		cfg.WorkerNodeIDRangeSize = d.WorkerNodeIDRangeSize
	}
	if cfg.InitialWorkerNodeIDRangeSize == 0 {
		cfg.InitialWorkerNodeIDRangeSize = d.InitialWorkerNodeIDRangeSize
	}
	if cfg.ResyncInterval == 0 {
		cfg.ResyncInterval = d.ResyncInterval
	}
	if cfg.DriftWarmup == 0 {
		cfg.DriftWarmup = d.DriftWarmup
	}
	if cfg.DispatchSlack == 0 {
		cfg.DispatchSlack = d.DispatchSlack
	}
	if cfg.WorkerInitTimeout == 0 {
		cfg.WorkerInitTimeout = d.WorkerInitTimeout
	}
	if cfg.AudioPathMap == nil {
		cfg.AudioPathMap = map[string]string{}
	}
	return cfg
}

// State returns the current lifecycle state of the adaptor.
func (a *Adaptor) State() AdaptorState {
	if a == nil || !a.started {
		return AdaptorStateStopped
	}
	select {
	case <-a.ctx.Done():
		return AdaptorStateStopped
	default:
		return AdaptorStateRunning
	}
}

// AdaptorInfo summarizes one adaptor for diagnostics/CLI display.
type AdaptorInfo struct {
	Mode             Mode         `json:"mode"`
	State            AdaptorState `json:"state"`
	PreschedulerLen  int          `json:"prescheduler_len"`
	EngineReady      bool         `json:"engine_ready"`
	NodeTreeCapacity int          `json:"node_tree_capacity"`
}

// Info returns comprehensive information about the adaptor.
func (a *Adaptor) Info() AdaptorInfo {
	if a == nil {
		return AdaptorInfo{}
	}
	return AdaptorInfo{
		Mode:             a.cfg.Mode,
		State:            a.State(),
		PreschedulerLen:  a.prescheduler.Len(),
		EngineReady:      a.engine.Ready(),
		NodeTreeCapacity: a.cfg.NodeTreeCapacity,
	}
}

// Metrics returns the adaptor's metrics instance.
func (a *Adaptor) Metrics() *Metrics {
	if a == nil {
		return nil
	}
	return a.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of adaptor metrics.
func (a *Adaptor) MetricsSnapshot() MetricsSnapshot {
	if a == nil || a.metrics == nil {
		return MetricsSnapshot{}
	}
	return a.metrics.Snapshot()
}

// Send classifies and routes bytes through the main channel (spec.md
// §6.3's send(bytes, opts)).
func (a *Adaptor) Send(bytes []byte, opts SendOptions) error {
	if opts.RunTag != 0 {
		return a.mainChannel.SendTagged(bytes, opts.RunTag)
	}
	return a.mainChannel.Send(bytes)
}

// SendImmediate forces bypass regardless of the record's timetag
// (spec.md §6.3's send_immediate(bytes)).
func (a *Adaptor) SendImmediate(bytes []byte) error {
	return a.mainChannel.SendDirect(bytes)
}

// CancelSessionTag cancels every queued bundle matching (sessionID, runTag).
func (a *Adaptor) CancelSessionTag(sessionID, runTag uint32) int {
	return a.mainChannel.CancelSessionTag(sessionID, runTag)
}

// CancelSession cancels every queued bundle for sessionID.
func (a *Adaptor) CancelSession(sessionID uint32) int {
	return a.mainChannel.CancelSession(sessionID)
}

// CancelTag cancels every queued bundle with runTag, across sessions.
func (a *Adaptor) CancelTag(runTag uint32) int {
	return a.mainChannel.CancelTag(runTag)
}

// CancelAll clears the prescheduler's heap.
func (a *Adaptor) CancelAll() int {
	return a.mainChannel.CancelAll()
}

// GetTree returns a parsed, filtered node-tree snapshot (spec.md §6.3's
// get_tree()).
func (a *Adaptor) GetTree() (entries []region.NodeTreeEntry, version uint32, dropped uint32) {
	return a.tree.QueryTree()
}

// GetRawTree returns the node-tree mirror's unparsed backing bytes
// (spec.md §6.3's get_raw_tree()).
func (a *Adaptor) GetRawTree() []byte {
	return a.tree.QueryRawTree()
}

// On registers a listener for one of {message, debug, error, ready,
// shutdown} (spec.md §6.3's on(event, handler)).
func (a *Adaptor) On(event string, handler inbound.Listener) inbound.Subscription {
	return a.bus.On(event, handler)
}

// Off unregisters a listener previously returned by On (spec.md §6.3's
// off(event, handler)).
func (a *Adaptor) Off(sub inbound.Subscription) {
	a.bus.Off(sub)
}

// NewWorkerChannel creates and hands out a new producer channel at the
// next worker source_id (1, 2, ...), per spec.md §4.9.
func (a *Adaptor) NewWorkerChannel() (channel.Channel, uint32, error) {
	sourceID := a.nextWorkerSourceID.Add(1) - 1
	cfg := channel.Config{SourceID: sourceID, LookaheadSeconds: a.cfg.BypassLookaheadSeconds}

	var ch channel.Channel
	switch a.cfg.Mode {
	case ModeMessage:
		ch = channel.NewMessageChannel(cfg, a.inWriter, a.prescheduler, regionRangeSource{a.region}, a.cfg.WorkerNodeIDRangeSize, a.cfg.InitialWorkerNodeIDRangeSize, a.observer)
	default:
		ch = channel.NewSharedChannel(cfg, a.inWriter, a.prescheduler, a.region, constants.DefaultNodeIDStart, a.observer)
	}
	return ch, sourceID, nil
}

// Close tears down the adaptor: it signals every worker to stop, closes
// the engine, and marks the region as shutting down (spec.md §4.9's
// "send stop signal to every worker, close ports, release the region").
// Close is go-ublk's StopAndDelete, generalized to this domain.
func (a *Adaptor) Close() error {
	if a == nil {
		return NewError("close", ErrCodeStateMisuse, "nil adaptor")
	}
	if a.region != nil {
		atomic.StoreUint32(a.region.StatusFlags(), region.StatusShuttingDown)
	}
	a.bus.Emit(inbound.Event{Name: "shutdown"})

	if a.cancel != nil {
		a.cancel()
	}
	var errs []error
	if a.prescheduler != nil {
		if err := a.prescheduler.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.inbound != nil {
		if err := a.inbound.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.metrics != nil {
		a.metrics.Stop()
	}
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.started = false

	if len(errs) > 0 {
		return WrapError("close", fmt.Errorf("%d worker(s) failed to stop cleanly: %v", len(errs), errs))
	}
	return nil
}
