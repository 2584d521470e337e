package sph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCondenseMirrorsParticle(t *testing.T) {
	p := Particle{X: [3]float64{1, 2, 3}, H: 0.5, Dt: 0.01, Tag: 7}
	cp := condense(&p)

	require.Equal(t, float32(1), cp.Pos.X())
	require.Equal(t, float32(2), cp.Pos.Y())
	require.Equal(t, float32(3), cp.Pos.Z())
	require.Equal(t, p.H, cp.H)
	require.Equal(t, p.Dt, cp.Dt)
}

func TestNewSpaceRejectsNegativeH(t *testing.T) {
	parts := []Particle{{X: [3]float64{0, 0, 0}, H: -1}}
	_, err := NewSpace([3]float64{1, 1, 1}, parts)
	require.ErrorIs(t, err, ErrInvariantBreach)
}

func TestNewSpaceRejectsNonPositiveDomain(t *testing.T) {
	_, err := NewSpace([3]float64{0, 1, 1}, nil)
	require.ErrorIs(t, err, ErrInvariantBreach)
}

func TestNewSpaceCondensesEveryParticle(t *testing.T) {
	parts := []Particle{
		{X: [3]float64{0.1, 0.1, 0.1}, H: 0.05},
		{X: [3]float64{0.9, 0.9, 0.9}, H: 0.05},
	}
	sp, err := NewSpace([3]float64{1, 1, 1}, parts)
	require.NoError(t, err)
	require.Len(t, sp.CParts, 2)
	require.Equal(t, sp.CParts[0].H, parts[0].H)
}
