package lowlevel

import "math"

// StatFs constants for the synthetic, always-generous usage answer a
// read-only content-addressed tree reports: there is no notion of free
// space that means anything here, so we report an amount no client
// will ever bump into.
const (
	BlockSize     = 4096
	MaximumSpace  = 1024 * 1024 * 1024 * 1024 * 1024 // 1 PiB
	MaximumBlocks = MaximumSpace / BlockSize
	MaximumInodes = math.MaxUint64
)
