package supersonic

import "github.com/supersonic-audio/supersonic/internal/constants"

// Re-export the tuning defaults callers most commonly need so they don't
// have to import the internal package directly.
const (
	DefaultPreschedulerCapacity  = constants.DefaultPreschedulerCapacity
	DefaultBypassLookaheadSeconds = constants.DefaultBypassLookaheadSeconds
	DefaultMaxBuffers            = constants.DefaultMaxBuffers
	DefaultNodeIDStart           = constants.DefaultNodeIDStart
	DefaultWorkerNodeIDRangeSize = constants.DefaultWorkerNodeIDRangeSize
)
