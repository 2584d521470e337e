package sph

import "errors"

// Error kinds from spec §7. ErrResourceExhausted marks arena/allocation
// overflow; ErrInvariantBreach marks a fatal, non-recoverable input or
// cell-tree fault (a negative h, a non-positive domain side or cell_max, an
// octant partition that loses particles). A direction-table miss panics
// rather than returning an error. Neither is retried: a graph either
// completes fully or the caller aborts.
var (
	ErrResourceExhausted = errors.New("sph: resource exhausted")
	ErrInvariantBreach   = errors.New("sph: invariant breach")
)
