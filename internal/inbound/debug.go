package inbound

import (
	"context"

	"github.com/supersonic-audio/supersonic/internal/logging"
)

// DebugReader ingests UTF-8 text frames off the DEBUG ring and forwards
// them to the bus as-is (spec.md §4.8) — no OSC decoding applies here,
// the engine writes plain log lines into this ring.
type DebugReader struct {
	reader  RingDrainer
	bus     *Bus
	metrics MetricsSink
	logger  *logging.Logger
	batch   int
}

// NewDebugReader constructs a debug reader over the DEBUG ring.
func NewDebugReader(reader RingDrainer, bus *Bus, metrics MetricsSink) *DebugReader {
	return &DebugReader{reader: reader, bus: bus, metrics: metrics, logger: logging.Default(), batch: DefaultBatchSize}
}

// Run drains debug text frames until ctx is cancelled, implementing Runner.
func (dr *DebugReader) Run(ctx context.Context) error {
	for {
		if !dr.reader.Wait(ctx) {
			return ctx.Err()
		}
		for _, rec := range dr.reader.Drain(dr.batch) {
			dr.metrics.ObserveReceive(uint64(len(rec.Bytes)))
			dr.bus.Emit(Event{Name: "debug", Bytes: rec.Bytes, Text: string(rec.Bytes)})
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
