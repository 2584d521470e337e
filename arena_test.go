package sph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArenaHandlesStableAcrossGrowth(t *testing.T) {
	var a arena[int]

	h0 := a.add(10)
	p0 := a.at(h0)
	require.Equal(t, 10, *p0)

	// Growing the arena past its current capacity may reallocate the
	// backing slice; a handle taken before growth must still resolve to
	// the same logical element afterward even though p0 itself may now
	// point at stale memory.
	for i := 0; i < 1000; i++ {
		a.add(i)
	}
	require.Equal(t, 10, *a.at(h0))
}

func TestArenaReset(t *testing.T) {
	var a arena[int]
	a.add(1)
	a.add(2)
	require.Equal(t, 2, a.len())
	a.reset()
	require.Equal(t, 0, a.len())
}
