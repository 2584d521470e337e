// Package kernel provides reference sph.Kernel implementations. The
// physics itself (the actual density/force formulas) is out of scope for
// the core engine; what lives here is instrumentation and a toy neighbour
// counter, useful for exercising the scheduler and for the demo binary.
package kernel

import (
	"sync/atomic"

	sph "github.com/gekko3d/gekko-sph"
)

// NeighbourCount is a reference sph.Kernel that does no physics: its
// density pass counts, per particle, how many other particles in the
// acting cell(s) fall within the interaction radius |x_i-x_j| <= h_i+h_j,
// and its force pass is a no-op. It exists so the demo binary and tests
// have a cheap, deterministic stand-in kernel to drive the scheduler with.
type NeighbourCount struct {
	sph.NopGhost

	Counts []int32 // Counts[i] is particle i's neighbour count
}

func NewNeighbourCount(n int) *NeighbourCount {
	return &NeighbourCount{Counts: make([]int32, n)}
}

func (k *NeighbourCount) Density(sp *sph.Space, ci, cj sph.CellHandle) {
	parts := sp.CParts
	aStart, aEnd := sp.CellRange(ci)
	if cj == sph.NilCell {
		k.selfPass(parts, aStart, aEnd)
		return
	}
	bStart, bEnd := sp.CellRange(cj)
	k.pairPass(parts, aStart, aEnd, bStart, bEnd)
}

func (k *NeighbourCount) Force(sp *sph.Space, ci, cj sph.CellHandle) {}

func (k *NeighbourCount) selfPass(parts []sph.CParticle, start, end int) {
	for i := start; i < end; i++ {
		for j := i + 1; j < end; j++ {
			if withinRange(parts[i], parts[j]) {
				atomic.AddInt32(&k.Counts[i], 1)
				atomic.AddInt32(&k.Counts[j], 1)
			}
		}
	}
}

func (k *NeighbourCount) pairPass(parts []sph.CParticle, aStart, aEnd, bStart, bEnd int) {
	for i := aStart; i < aEnd; i++ {
		for j := bStart; j < bEnd; j++ {
			if withinRange(parts[i], parts[j]) {
				atomic.AddInt32(&k.Counts[i], 1)
				atomic.AddInt32(&k.Counts[j], 1)
			}
		}
	}
}

func withinRange(a, b sph.CParticle) bool {
	d := a.Pos.Sub(b.Pos).Len()
	return d <= a.H+b.H
}
