package sph

import "math"

// neighbourOffsets are the 26 non-zero integer offsets in {-1,0,1}^3, used
// to walk a top-level cell's 26 neighbours for the base graph (spec
// §4.3.2).
var neighbourOffsets = func() [][3]int {
	var offs [][3]int
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				offs = append(offs, [3]int{dx, dy, dz})
			}
		}
	}
	return offs
}()

// BuildGraph constructs the task dependency graph for the current cell
// tree (spec §4.3): a base 26-neighbour stencil over the top-level grid,
// recursive refinement into child/sub tasks, super-cell ghost barriers,
// and force twins. Call after Rebuild; the graph is invalid once the next
// Rebuild changes the tree.
func (sp *Space) BuildGraph() error {
	sp.graph.reset()
	sp.resetTaskBookkeeping()

	for _, h := range sp.topLevel {
		sp.assignSortTasks(h)
	}

	if err := sp.createBaseGraph(); err != nil {
		return err
	}
	sp.refineTasks()
	sp.assignGhosts()
	sp.addForceTwins()
	sp.graph.pruneDeadSorts()

	if sp.log.DebugEnabled() {
		s := sp.Stats()
		sp.log.Debugf("build_graph: generation=%s tasks=%d ghosts=%d live_cells=%d/%d",
			s.Generation, s.NumTasks, s.NumGhosts, s.NumLiveCells, s.NumCells)
	}
	return nil
}

// resetTaskBookkeeping clears the per-cell task-hosting counters left over
// from a previous BuildGraph call.
func (sp *Space) resetTaskBookkeeping() {
	n := sp.cells.len()
	for i := 0; i < n; i++ {
		c := sp.cells.at(i)
		c.Density = nil
		c.NrDensity = 0
		c.NrTasks = 0
		c.NrPairs = 0
		c.Ghost = nilTask
	}
}

// bumpNrTasks records that a density task now touches cell ch (spec §3.2's
// nr_tasks/nr_density/density[] bookkeeping, consumed by the super-cell
// computation in §4.3.4).
func (sp *Space) bumpNrTasks(ch CellHandle, th TaskHandle, isPair bool) {
	c := sp.cellAt(ch)
	c.NrTasks++
	c.NrDensity++
	if isPair {
		c.NrPairs++
	}
	c.Density = append(c.Density, th)
}

// wireCellLocks registers, for pair and sub tasks only, which cells the
// scheduler must release once the task completes (spec §4.4: "for
// unlock_cells(T), release each cell's spinlock"). Self tasks never take a
// cell lock (spec §4.4's "Cell locking" names only pair and sub).
func (sp *Space) wireCellLocks(th TaskHandle, typ TaskType, ci, cj CellHandle) {
	if typ != TaskPair && typ != TaskSub {
		return
	}
	sp.graph.addUnlockCell(th, ci)
	if cj != nilCell {
		sp.graph.addUnlockCell(th, cj)
	}
}

// createBaseGraph creates one self task per non-empty top-level cell and
// one pair task per non-empty, higher-binned neighbour (spec §4.3.2).
func (sp *Space) createBaseGraph() error {
	for _, ha := range sp.topLevel {
		a := sp.cellAt(ha)
		if a.Count == 0 {
			continue
		}

		selfT := sp.graph.newSelfTask(SubtypeDensity, ha)
		sp.bumpNrTasks(ha, selfT, false)

		binA := flattenBin(a.TopLoc, sp.Cdim)
		for _, off := range neighbourOffsets {
			loc, ok := sp.wrapTopLoc(a.TopLoc, off)
			if !ok {
				continue
			}
			idxB := flattenBin(loc, sp.Cdim)
			if idxB <= binA {
				continue
			}
			hb := sp.topLevel[idxB]
			b := sp.cellAt(hb)
			if b.Count == 0 {
				continue
			}
			d := direction(off[0], off[1], off[2])
			pairT := sp.graph.newPairTask(SubtypeDensity, ha, hb, d)
			sp.bumpNrTasks(ha, pairT, true)
			sp.bumpNrTasks(hb, pairT, true)
			sp.wireCellLocks(pairT, TaskPair, ha, hb)
			sp.graph.addDependency(a.Sorts[d], pairT)
			sp.graph.addDependency(b.Sorts[d], pairT)
		}
	}
	return nil
}

// wrapTopLoc applies offset to a top-level grid coordinate, wrapping mod
// Cdim when the space is periodic and reporting false when the result
// falls outside the grid in a non-periodic space.
func (sp *Space) wrapTopLoc(loc [3]int, off [3]int) ([3]int, bool) {
	var out [3]int
	for k := 0; k < 3; k++ {
		v := loc[k] + off[k]
		if sp.Periodic {
			v = ((v % sp.Cdim[k]) + sp.Cdim[k]) % sp.Cdim[k]
		} else if v < 0 || v >= sp.Cdim[k] {
			return out, false
		}
		out[k] = v
	}
	return out, true
}

// refineTasks walks the task list, expanding split self tasks and
// refinable pair tasks (spec §4.3.3). The list grows while iterating;
// newly appended tasks are observed within the same sweep by re-checking
// the graph's current length rather than a length snapshot.
func (sp *Space) refineTasks() {
	i := 0
	for i < sp.graph.Len() {
		th := TaskHandle(i)
		switch sp.graph.Task(th).Type {
		case TaskSelf:
			sp.refineSelf(th)
		case TaskPair:
			sp.refinePair(th)
		}
		i++
	}
}

// refineSelf expands a self task over a split cell: below subSize it
// becomes a sub(self) depending on all 14 sort slots; otherwise it is
// replaced by per-child self tasks plus one pair task per non-empty child
// combination (spec §4.3.3).
func (sp *Space) refineSelf(th TaskHandle) {
	t := sp.graph.Task(th)
	ci := t.Ci
	c := sp.cellAt(ci)
	if !c.Split {
		return
	}

	if c.Count < sp.cfg.SubSize {
		t.Type = TaskSub
		sp.wireCellLocks(th, TaskSub, ci, nilCell)
		for d := 0; d < len(c.Sorts); d++ {
			sp.graph.addDependency(c.Sorts[d], th)
		}
		return
	}

	t.Type = TaskNone
	c.NrTasks--
	c.NrDensity--

	var nonEmpty []CellHandle
	for _, p := range c.Progeny {
		if p != nilCell && sp.cellAt(p).Count > 0 {
			nonEmpty = append(nonEmpty, p)
		}
	}

	for _, p := range nonEmpty {
		selfT := sp.graph.newSelfTask(SubtypeDensity, p)
		sp.bumpNrTasks(p, selfT, false)
	}

	for i := 0; i < len(nonEmpty); i++ {
		for j := i + 1; j < len(nonEmpty); j++ {
			cp, cq := nonEmpty[i], nonEmpty[j]
			off := sp.cellOffset(sp.cellAt(cp), sp.cellAt(cq))
			d := direction(off[0], off[1], off[2])
			pairT := sp.graph.newPairTask(SubtypeDensity, cp, cq, d)
			sp.bumpNrTasks(cp, pairT, true)
			sp.bumpNrTasks(cq, pairT, true)
			sp.wireCellLocks(pairT, TaskPair, cp, cq)
			sp.graph.addDependency(sp.cellAt(cp).Sorts[d], pairT)
			sp.graph.addDependency(sp.cellAt(cq).Sorts[d], pairT)
		}
	}
}

// refinePair expands a refinable pair task into either a single sub(pair)
// (face direction, both acting cells small) or an explicit set of
// child-to-child pairs that preserve the stencil's locality (spec §4.3.3).
func (sp *Space) refinePair(th TaskHandle) {
	t := sp.graph.Task(th)
	ci, cj, sid := t.Ci, t.Cj, t.Flags
	a, b := sp.cellAt(ci), sp.cellAt(cj)

	if !sp.pairRefinable(a, b) {
		return
	}

	if a.Count < sp.cfg.SubSize && b.Count < sp.cfg.SubSize && isFaceDirection(sid) {
		t.Type = TaskSub
		sp.wireCellLocks(th, TaskSub, ci, cj)
		sp.addGrandchildSortDeps(a, th)
		sp.addGrandchildSortDeps(b, th)
		return
	}

	t.Type = TaskNone
	a.NrTasks--
	a.NrPairs--
	b.NrTasks--
	b.NrPairs--

	parentOff := sp.cellOffset(a, b)
	for ia := 0; ia < 8; ia++ {
		pa := a.Progeny[ia]
		if pa == nilCell {
			continue
		}
		ca := sp.cellAt(pa)
		if ca.Count == 0 {
			continue
		}
		bitsA := progenyBits(ia)

		for ib := 0; ib < 8; ib++ {
			pb := b.Progeny[ib]
			if pb == nilCell {
				continue
			}
			cb := sp.cellAt(pb)
			if cb.Count == 0 {
				continue
			}
			bitsB := progenyBits(ib)

			if !childPairAdjacent(parentOff, bitsA, bitsB) {
				continue
			}

			pairT := sp.graph.newPairTask(SubtypeDensity, pa, pb, sid)
			sp.bumpNrTasks(pa, pairT, true)
			sp.bumpNrTasks(pb, pairT, true)
			sp.wireCellLocks(pairT, TaskPair, pa, pb)
			sp.graph.addDependency(sp.cellAt(pa).Sorts[sid], pairT)
			sp.graph.addDependency(sp.cellAt(pb).Sorts[sid], pairT)
		}
	}
}

// childPairAdjacent reports whether children at octant bitsA (of the
// first parent) and bitsB (of the second) actually touch along the
// parents' relative direction parentOff: along an axis the parents
// differ on, the children must occupy the touching faces; along an axis
// the parents agree on (offset 0), the children must occupy the same
// side, or they don't overlap in that axis at all.
func childPairAdjacent(parentOff [3]int, bitsA, bitsB [3]int) bool {
	for k := 0; k < 3; k++ {
		switch {
		case parentOff[k] > 0:
			if bitsA[k] != 1 || bitsB[k] != 0 {
				return false
			}
		case parentOff[k] < 0:
			if bitsA[k] != 0 || bitsB[k] != 1 {
				return false
			}
		default:
			if bitsA[k] != bitsB[k] {
				return false
			}
		}
	}
	return true
}

// addGrandchildSortDeps adds all 14 sort-slot predecessors of every
// non-empty child of c to task th (spec §4.3.3's sub(pair) conversion).
func (sp *Space) addGrandchildSortDeps(c *Cell, th TaskHandle) {
	for _, p := range c.Progeny {
		if p == nilCell {
			continue
		}
		pc := sp.cellAt(p)
		if pc.Count == 0 {
			continue
		}
		for d := 0; d < len(pc.Sorts); d++ {
			sp.graph.addDependency(pc.Sorts[d], th)
		}
	}
}

// pairRefinable reports whether a pair's two acting cells both still have
// room to interact one level deeper without crossing two levels at once
// (spec §4.3.3).
func (sp *Space) pairRefinable(a, b *Cell) bool {
	if !a.Split || !b.Split {
		return false
	}
	stretch := sp.cfg.Stretch
	return float64(a.HMax)*stretch < minSide(a)/2 && float64(b.HMax)*stretch < minSide(b)/2
}

func minSide(c *Cell) float64 {
	return math.Min(c.H[0], math.Min(c.H[1], c.H[2]))
}

// cellOffset derives the signed {-1,0,1}^3 offset from cell a to cell b,
// wrapping through the periodic domain when configured so that two cells
// adjacent across the domain seam still report a unit offset rather than
// one spanning almost the whole domain (spec §4.3.3: "accounting for
// wrap, choose the representative within half the domain").
func (sp *Space) cellOffset(a, b *Cell) [3]int {
	var off [3]int
	for k := 0; k < 3; k++ {
		ca := a.Loc[k] + a.H[k]/2
		cb := b.Loc[k] + b.H[k]/2
		delta := cb - ca
		if sp.Periodic {
			dim := sp.Dim[k]
			delta -= dim * math.Round(delta/dim)
		}
		ref := a.H[k]
		off[k] = int(math.Round(delta / ref))
		if off[k] > 1 {
			off[k] = 1
		} else if off[k] < -1 {
			off[k] = -1
		}
	}
	return off
}

// computeSuper walks up from ch through the contiguous run of ancestors
// that themselves host tasks, returning the topmost such cell (spec
// §4.3.4: "the highest ancestor, including C, with nr_tasks > 0").
func (sp *Space) computeSuper(ch CellHandle) CellHandle {
	c := sp.cellAt(ch)
	if c.Parent == nilCell {
		return ch
	}
	if sp.cellAt(c.Parent).NrTasks == 0 {
		return ch
	}
	return sp.computeSuper(c.Parent)
}

// assignGhosts creates a ghost task for every task-hosting cell and wires
// each non-super ghost to depend on its parent's ghost (spec §4.3.4).
func (sp *Space) assignGhosts() {
	n := sp.cells.len()
	for i := 0; i < n; i++ {
		c := sp.cells.at(i)
		if c.NrTasks > 0 {
			c.Ghost = sp.graph.newGhostTask(CellHandle(i))
		}
	}
	for i := 0; i < n; i++ {
		c := sp.cells.at(i)
		if c.Ghost == nilTask || c.Parent == nilCell {
			continue
		}
		parent := sp.cellAt(c.Parent)
		if parent.Ghost != nilTask {
			sp.graph.addDependency(parent.Ghost, c.Ghost)
		}
	}
}

// addForceTwins creates, for every surviving density task, a force task of
// the same shape gated by the ghost of each acting cell's super (spec
// §4.3.5): density happens-before the ghost, the ghost happens-before
// force, so every density contribution to a super-cell's subtree is in
// before any force kernel over it begins.
func (sp *Space) addForceTwins() {
	n := sp.graph.Len()
	for i := 0; i < n; i++ {
		th := TaskHandle(i)
		t := sp.graph.Task(th)
		if t.Subtype != SubtypeDensity {
			continue
		}
		if t.Type != TaskSelf && t.Type != TaskPair && t.Type != TaskSub {
			continue
		}
		ttype, ci, cj, flags := t.Type, t.Ci, t.Cj, t.Flags

		twin := sp.graph.newTask(Task{Type: ttype, Subtype: SubtypeForce, Ci: ci, Cj: cj, Flags: flags})
		sp.graph.Task(th).twin = twin
		sp.graph.Task(twin).twin = th
		sp.wireCellLocks(twin, ttype, ci, cj)

		superCi := sp.computeSuper(ci)
		ghostCi := sp.cellAt(superCi).Ghost
		sp.graph.addDependency(th, ghostCi)
		sp.graph.addDependency(ghostCi, twin)

		if cj != nilCell {
			superCj := sp.computeSuper(cj)
			ghostCj := sp.cellAt(superCj).Ghost
			sp.graph.addDependency(th, ghostCj)
			sp.graph.addDependency(ghostCj, twin)
		}
	}
}
