package hyperq

import "github.com/fathomdata/hyperq/internal/constants"

// Re-exported sizing defaults, so callers don't need to import the
// internal/constants package directly.
const (
	MaxTags                   = constants.MaxTags
	ReservedSkipTag            = constants.ReservedSkipTag
	MaxFrameSize               = constants.MaxFrameSize
	DefaultQueueDepthMessages  = constants.DefaultQueueDepthMessages
)
