package exception

import "errors"

// Allocation errors
var (
	ErrAllocationNoSeries    = errors.New("allocation: no return series")
	ErrAllocationShortWindow = errors.New("allocation: common window too short")
	ErrAllocationBadBounds   = errors.New("allocation: invalid weight bounds")
)
