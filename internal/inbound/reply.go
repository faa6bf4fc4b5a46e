package inbound

import (
	"context"

	"github.com/supersonic-audio/supersonic/internal/logging"
	"github.com/supersonic-audio/supersonic/internal/osc"
)

// DefaultBatchSize bounds how many records one drain pass pulls off the
// ring before yielding back to Wait, keeping any single batch from
// starving other readers sharing the same errgroup.
const DefaultBatchSize = 256

// MetricsSink is the subset of the root Observer contract the reply and
// debug readers report through, satisfied structurally by
// *supersonic.MetricsObserver and supersonic.NoOpObserver without an
// import, same trick as internal/channel and internal/prescheduler use.
type MetricsSink interface {
	ObserveReceive(bytes uint64)
	ObserveDecodeFailure()
}

// ReplyReader decodes OSC records out of the OUT ring and dispatches
// both the raw bytes and the decoded packet to the bus (spec.md §4.8).
// In the message-passing variant the engine host posts replies directly
// and this reader only decodes — that distinction lives in what
// RingDrainer it's constructed over, not in this type.
type ReplyReader struct {
	reader  RingDrainer
	bus     *Bus
	metrics MetricsSink
	logger  *logging.Logger
	batch   int
}

// NewReplyReader constructs a reply reader over the OUT ring.
func NewReplyReader(reader RingDrainer, bus *Bus, metrics MetricsSink) *ReplyReader {
	return &ReplyReader{reader: reader, bus: bus, metrics: metrics, logger: logging.Default(), batch: DefaultBatchSize}
}

// Run drains decoded replies until ctx is cancelled, implementing Runner.
func (rr *ReplyReader) Run(ctx context.Context) error {
	for {
		if !rr.reader.Wait(ctx) {
			return ctx.Err()
		}
		for _, rec := range rr.reader.Drain(rr.batch) {
			rr.metrics.ObserveReceive(uint64(len(rec.Bytes)))
			pkt, err := osc.Decode(rec.Bytes)
			if err != nil {
				rr.logger.Warnf("reply reader: decode failed: %v", err)
				rr.metrics.ObserveDecodeFailure()
				rr.bus.Emit(Event{Name: "error", Err: err})
				continue
			}
			rr.bus.Emit(Event{Name: "message", Bytes: rec.Bytes, Message: pkt})
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
