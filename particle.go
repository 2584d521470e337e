package sph

import "github.com/go-gl/mathgl/mgl32"

// Particle is a fluid sample (spec §3.1). Position is kept in double
// precision; smoothing length and time-step hint are single precision, as
// the spec requires. Tag is an opaque slot index into physics-owned arrays
// that the core never reads or writes — density, force, chemistry, and
// every other physics field live outside this package (spec §1 scope).
type Particle struct {
	X  [3]float64
	H  float32
	Dt float32

	// Tag lets a hosting simulation correlate a Particle back to its own
	// storage (e.g. an index into a separate physics-state array) across
	// the sort permutations Rebuild performs. The core does not use it.
	Tag int64
}

// CParticle is the condensed shadow of a Particle (spec §3.1): a packed,
// single-precision view used by the neighbour loops so more particles fit
// per cache line. Pos uses mgl32.Vec3, the same packing render-hot-path
// structs use for positions elsewhere in this stack — cache density
// matters more than double precision once a particle is condensed.
type CParticle struct {
	Pos mgl32.Vec3
	H   float32
	Dt  float32
}

// condense mirrors p into its condensed shadow. Rebuild guarantees that
// after it returns, cparts[i] mirrors parts[i] for every i (spec §3.1).
func condense(p *Particle) CParticle {
	return CParticle{
		Pos: mgl32.Vec3{float32(p.X[0]), float32(p.X[1]), float32(p.X[2])},
		H:   p.H,
		Dt:  p.Dt,
	}
}
