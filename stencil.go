package sph

import "github.com/go-gl/mathgl/mgl32"

// The 27-neighbour stencil folds each of the 26 non-self integer offsets
// (dx,dy,dz) ∈ {-1,0,1}³ to one of 13 canonical direction ids, since a pair
// interaction is symmetric: direction d and its opposite -d describe the
// same two cells. sortlistID is that fold, spec §4.3.1 ("sortlistID is a
// reproducible constant"). It is built once at init time from a simple
// canonical rule — the first non-zero component of a representative offset
// is positive — rather than hand-transcribed as a literal 27-entry table;
// the rule is deterministic so the resulting table is exactly as
// reproducible as a literal one, and self-checking (selfDirection never
// collides with a real direction, and sortlistID[δ] == sortlistID[-δ] by
// construction).
const (
	numDirections = 13
	selfDirection = -1
)

// sortlistID[dx+1][dy+1][dz+1] gives the direction id (0..12) of the offset
// (dx,dy,dz), or selfDirection for (0,0,0).
var sortlistID [3][3][3]int

func init() {
	next := 0
	seen := make(map[[3]int]int)
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				if dx == 0 && dy == 0 && dz == 0 {
					sortlistID[dx+1][dy+1][dz+1] = selfDirection
					continue
				}
				off := [3]int{dx, dy, dz}
				neg := [3]int{-dx, -dy, -dz}
				if id, ok := seen[neg]; ok {
					seen[off] = id
					sortlistID[dx+1][dy+1][dz+1] = id
					continue
				}
				id := next
				next++
				seen[off] = id
				sortlistID[dx+1][dy+1][dz+1] = id
			}
		}
	}
	if next != numDirections {
		panic("sph: sortlistID generation produced the wrong direction count")
	}
}

// direction looks up the stencil id for an integer offset with components
// each in {-1,0,1}. It panics on a component outside that range: per spec
// §7 a direction-table miss is an invariant breach, not a recoverable
// error, since it can only be caused by a cell-tree bug upstream.
func direction(dx, dy, dz int) int {
	if dx < -1 || dx > 1 || dy < -1 || dy > 1 || dz < -1 || dz > 1 {
		panic("sph: direction offset out of range")
	}
	return sortlistID[dx+1][dy+1][dz+1]
}

// faceDirections are the three stencil ids that represent a face-adjacent
// (not edge- or corner-adjacent) pair of cells: offsets with exactly one
// non-zero component, each folded together with its opposite. Only these
// ids take the sub(pair) fast path in refinePair; edge and corner ids do
// not. The set is computed from the stencil geometry rather than kept as a
// literal list.
var faceDirections = computeFaceDirections()

func computeFaceDirections() map[int]bool {
	faces := make(map[int]bool, 6)
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				nz := 0
				if dx != 0 {
					nz++
				}
				if dy != 0 {
					nz++
				}
				if dz != 0 {
					nz++
				}
				if nz == 1 {
					faces[direction(dx, dy, dz)] = true
				}
			}
		}
	}
	return faces
}

// isFaceDirection reports whether sid (a folded id in 0..12) corresponds to
// a face-adjacent pair rather than an edge or corner.
func isFaceDirection(sid int) bool {
	return faceDirections[sid]
}

// directionVectors gives, for each of the 13 stencil ids, a representative
// unit axis used by the directional sort (spec §4.2) to project particle
// positions for that direction. Built alongside sortlistID so the two
// tables always agree on which offset maps to which id.
var directionVectors [numDirections]mgl32.Vec3

func init() {
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				id := sortlistID[dx+1][dy+1][dz+1]
				if directionVectors[id] == (mgl32.Vec3{}) {
					directionVectors[id] = mgl32.Vec3{float32(dx), float32(dy), float32(dz)}.Normalize()
				}
			}
		}
	}
}
