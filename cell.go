package sph

// CellHandle is a stable index into a Space's cell arena (spec §9: cells
// reference each other — parent, super, progeny — via handles, not
// pointers, because the cell tree has parent/child cycles and the arena
// backing array is reallocated during rebuild).
type CellHandle int32

const nilCell CellHandle = -1

// NilCell is nilCell's exported form, for callers outside this package
// (e.g. a Kernel implementation) that need to tell a self task's absent
// second cell apart from a real one.
const NilCell = nilCell

// Cell is a node of the oct-tree (spec §3.2).
type Cell struct {
	Loc [3]float64 // lower corner
	H   [3]float64 // side lengths

	Depth int
	Split bool
	Count int
	HMax  float32 // largest h of any particle in this cell's subtree

	// Start/End index a contiguous subrange of the Space's Parts/CParts
	// arrays. End is exclusive.
	Start int
	End   int

	Progeny [8]CellHandle
	Parent  CellHandle
	Super   CellHandle

	// Sorts holds the 13 directional sort tasks (plus one unused slot to
	// match spec §3.2's sorts[14]); multiple directions may alias the same
	// task when sort tasks are grouped (spec §4.2).
	Sorts [14]TaskHandle

	// Sorted holds, per direction, the local (Start-relative) particle
	// index permutation produced once that direction's sort task has run.
	Sorted [numDirections][]int32

	// Density lists the density tasks that touch this cell as an acting
	// cell (spec §3.2's density[]); NrDensity/NrPairs/NrTasks are the
	// corresponding counts used by the super-cell computation (§4.3.4).
	Density   []TaskHandle
	NrDensity int
	NrTasks   int
	NrPairs   int
	Ghost     TaskHandle

	lock spinlock

	// IsTop and TopLoc are set for top-level cells only; they let the task
	// generator walk the uniform grid by integer coordinate instead of by
	// floating-point geometry for the base 26-neighbour stencil.
	IsTop  bool
	TopLoc [3]int
}

func newCell() Cell {
	c := Cell{Parent: nilCell, Super: nilCell, Ghost: nilTask}
	for i := range c.Progeny {
		c.Progeny[i] = nilCell
	}
	for i := range c.Sorts {
		c.Sorts[i] = nilTask
	}
	return c
}

// Empty reports whether the cell currently holds no particles.
func (c *Cell) Empty() bool { return c.Count == 0 }

// progenyOffset returns the lower-corner offset, as a fraction of the
// parent's side length, of progeny slot i (spec §3.2: ordered by the bit
// pattern (x-bit, y-bit, z-bit)).
func progenyOffset(i int) [3]float64 {
	return [3]float64{
		float64((i >> 2) & 1),
		float64((i >> 1) & 1),
		float64(i & 1),
	}
}

// progenyBits returns the (x,y,z) bit triple for progeny slot i, the
// inverse of the packing progenyOffset uses.
func progenyBits(i int) [3]int {
	return [3]int{(i >> 2) & 1, (i >> 1) & 1, i & 1}
}
