package sph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirectionOppositeOffsetsShareID(t *testing.T) {
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				require.Equal(t, direction(dx, dy, dz), direction(-dx, -dy, -dz))
			}
		}
	}
}

func TestDirectionCoversExactlyThirteenIDs(t *testing.T) {
	seen := make(map[int]bool)
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				seen[direction(dx, dy, dz)] = true
			}
		}
	}
	require.Len(t, seen, numDirections)
}

func TestDirectionPanicsOutOfRange(t *testing.T) {
	require.Panics(t, func() { direction(2, 0, 0) })
}

func TestFaceDirectionsAreExactlyThree(t *testing.T) {
	require.Len(t, faceDirections, 3)
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				nz := 0
				for _, v := range []int{dx, dy, dz} {
					if v != 0 {
						nz++
					}
				}
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				sid := direction(dx, dy, dz)
				require.Equal(t, nz == 1, isFaceDirection(sid))
			}
		}
	}
}

func TestDirectionVectorsAreUnitLength(t *testing.T) {
	for d := 0; d < numDirections; d++ {
		v := directionVectors[d]
		require.InDelta(t, 1.0, float64(v.Len()), 1e-5)
	}
}
