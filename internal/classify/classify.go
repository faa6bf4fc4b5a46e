// Package classify buckets encoded OSC bytes into a routing category so
// the channel façade (internal/channel) can decide between a direct ring
// write and handing the record to the prescheduler.
package classify

import (
	"encoding/binary"
)

// Category is the classifier's verdict for one outbound record.
type Category int

const (
	// NonBundle is a plain OSC message, always dispatched immediately.
	NonBundle Category = iota
	// Immediate is a bundle whose timetag means "now" ((0,0) or (0,1)).
	Immediate
	// NearFuture is a bundle due within the channel's lookahead window.
	NearFuture
	// Late is a bundle whose release time has already passed.
	Late
	// FarFuture is a bundle that must be queued in the prescheduler.
	FarFuture
)

func (c Category) String() string {
	switch c {
	case NonBundle:
		return "non_bundle"
	case Immediate:
		return "immediate"
	case NearFuture:
		return "near_future"
	case Late:
		return "late"
	case FarFuture:
		return "far_future"
	default:
		return "unknown"
	}
}

// Bypass reports whether the category should be written directly to the
// ring rather than routed through the prescheduler.
func (c Category) Bypass() bool {
	return c != FarFuture
}

var bundlePrefix = [8]byte{'#', 'b', 'u', 'n', 'd', 'l', 'e', 0}

// Classify inspects encoded bytes against the current NTP time and the
// channel's lookahead window (spec.md §4.5) and returns the category
// plus, for bundle payloads, the decoded release NTP time.
func Classify(encoded []byte, currentNTP float64, lookaheadSeconds float64) (Category, float64) {
	if len(encoded) < 16 || [8]byte(encoded[:8]) != bundlePrefix {
		return NonBundle, 0
	}

	seconds := binary.BigEndian.Uint32(encoded[8:12])
	fraction := binary.BigEndian.Uint32(encoded[12:16])

	if seconds == 0 && fraction <= 1 {
		return Immediate, currentNTP
	}

	releaseNTP := float64(seconds) + float64(fraction)/4294967296.0

	switch {
	case releaseNTP < currentNTP:
		return Late, releaseNTP
	case releaseNTP <= currentNTP+lookaheadSeconds:
		return NearFuture, releaseNTP
	default:
		return FarFuture, releaseNTP
	}
}
