package inbound

import (
	"context"

	"github.com/supersonic-audio/supersonic/internal/logging"
)

// LogSniffer is the shared-memory-only worker spec.md §4.9 lists
// alongside reply/debug/prescheduler: it drains IN_LOG_TAIL, the IN
// ring's non-consuming secondary tail, purely for diagnostics. It never
// advances the ring's real tail (that's the engine's job) and may lag or
// drop arbitrarily far behind under load, so its only effect is logging.
type LogSniffer struct {
	reader RingDrainer
	logger *logging.Logger
	batch  int
}

// NewLogSniffer constructs a sniffer over a non-consuming IN reader
// (internal/ring.NewNonConsumingReader).
func NewLogSniffer(reader RingDrainer) *LogSniffer {
	return &LogSniffer{reader: reader, logger: logging.Default(), batch: DefaultBatchSize}
}

// Run drains and logs IN records until ctx is cancelled, implementing Runner.
func (ls *LogSniffer) Run(ctx context.Context) error {
	for {
		if !ls.reader.Wait(ctx) {
			return ctx.Err()
		}
		for _, rec := range ls.reader.Drain(ls.batch) {
			ls.logger.Debugf("in-ring sniff: source_id=%d sequence=%d bytes=%d", rec.SourceID, rec.Sequence, len(rec.Bytes))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
