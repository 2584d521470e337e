package kernel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	sph "github.com/gekko3d/gekko-sph"
)

func TestNeighbourCountSymmetric(t *testing.T) {
	parts := []sph.Particle{
		{X: [3]float64{0.1, 0.1, 0.1}, H: 0.2},
		{X: [3]float64{0.15, 0.1, 0.1}, H: 0.2},
		{X: [3]float64{0.9, 0.9, 0.9}, H: 0.01}, // isolated, no neighbours
	}
	sp, err := sph.NewSpace([3]float64{1, 1, 1}, parts)
	require.NoError(t, err)
	_, err = sp.Rebuild(true, 0.5)
	require.NoError(t, err)
	require.NoError(t, sp.BuildGraph())

	k := NewNeighbourCount(len(parts))
	require.NoError(t, sph.Run(context.Background(), sp, k))

	require.Greater(t, k.Counts[0], int32(0))
	require.Equal(t, k.Counts[0], k.Counts[1])
	require.EqualValues(t, 0, k.Counts[2])
}
