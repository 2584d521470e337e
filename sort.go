package sph

import "sort"

// sortGroups partitions the 13 stencil directions into sort-task groups
// according to spec §4.2's granularity rule, returning one bitmask per
// task. The spec's "two tasks, 7 and 7 directions" doesn't itself divide
// 13 directions evenly; we split 7/6 so every direction is covered by
// exactly one task, which is the property the rest of the spec (and the
// dedup rule in §9) actually depends on.
func sortGroups(count, splitMid, splitHigh int) []int {
	switch {
	case count < splitMid:
		return []int{(1 << numDirections) - 1}
	case count < splitHigh:
		return []int{0x7F, ((1 << numDirections) - 1) &^ 0x7F}
	default:
		groups := make([]int, 0, (numDirections+1)/2)
		d := 0
		for d+1 < numDirections {
			groups = append(groups, (1<<uint(d))|(1<<uint(d+1)))
			d += 2
		}
		if d < numDirections {
			groups = append(groups, 1<<uint(d))
		}
		return groups
	}
}

const (
	sortGroupMidThreshold  = 1000
	sortGroupHighThreshold = 5000
)

// assignSortTasks walks the cell tree depth-first, creating the sort
// task(s) for every live cell and wiring a split cell's sort tasks to
// depend on the matching direction's sort task in each non-empty child
// (spec §4.2 composition). Pre-order (parent before recursing) would see
// children that don't exist yet, so this recurses first and wires on the
// way back up.
func (sp *Space) assignSortTasks(ch CellHandle) {
	c := sp.cellAt(ch)
	if c.Count == 0 {
		return
	}

	if c.Split {
		for _, pch := range c.Progeny {
			if pch == nilCell {
				continue
			}
			sp.assignSortTasks(pch)
		}
	}

	groups := sortGroups(c.Count, sortGroupMidThreshold, sortGroupHighThreshold)
	for _, mask := range groups {
		t := sp.graph.newSortTask(ch, mask)
		for d := 0; d < numDirections; d++ {
			if mask&(1<<uint(d)) != 0 {
				c.Sorts[d] = t
			}
		}
	}

	if c.Split {
		for _, pch := range c.Progeny {
			if pch == nilCell {
				continue
			}
			child := sp.cellAt(pch)
			for d := 0; d < numDirections; d++ {
				if child.Sorts[d] != nilTask && c.Sorts[d] != nilTask {
					sp.graph.addDependency(child.Sorts[d], c.Sorts[d])
				}
			}
		}
	}
}

// pruneDeadSorts removes (by converting to no-ops) sort tasks that, once
// the full graph is built, have no live pair/self/sub consumer reachable
// through the sort-composition chain (spec §4.2, §8 invariant 8). A sort
// task is live if it unlocks a non-sort task that has not been retired to
// TaskNone, or unlocks another live sort task.
func (g *Graph) pruneDeadSorts() {
	n := g.tasks.len()
	live := make([]bool, n)
	changed := true
	for changed {
		changed = false
		for i := 0; i < n; i++ {
			t := g.tasks.at(i)
			if t.Type != TaskSort || live[i] {
				continue
			}
			for _, succ := range t.unlockTasks {
				st := g.tasks.at(int(succ))
				if (st.Type != TaskSort && st.Type != TaskNone) || live[int(succ)] {
					live[i] = true
					changed = true
					break
				}
			}
		}
	}
	for i := 0; i < n; i++ {
		t := g.tasks.at(i)
		if t.Type == TaskSort && !live[i] {
			t.Type = TaskNone
			t.unlockTasks = nil
			t.unlockCells = nil
		}
	}
}

// executeSortTask runs the work body of a sort task: for every direction
// named in Flags, it produces (or, for a split cell, merges) the
// projected-distance-ordered permutation of the cell's local particles.
func (sp *Space) executeSortTask(t *Task) {
	c := sp.cellAt(t.Ci)
	for d := 0; d < numDirections; d++ {
		if t.Flags&(1<<uint(d)) == 0 {
			continue
		}
		sp.sortDirection(c, d)
	}
}

func (sp *Space) sortDirection(c *Cell, d int) {
	if c.Split {
		c.Sorted[d] = sp.mergeChildSorted(c, d)
		return
	}

	n := c.End - c.Start
	idx := make([]int32, n)
	for i := range idx {
		idx[i] = int32(i)
	}
	axis := directionVectors[d]
	key := func(i int32) float32 { return sp.CParts[c.Start+int(i)].Pos.Dot(axis) }
	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := key(idx[a]), key(idx[b])
		if ka != kb {
			return ka < kb
		}
		// Open Question 1 (spec §9): break ties on local index, which is
		// already bin-then-index ordered by Rebuild's binning sort, never
		// on float equality.
		return idx[a] < idx[b]
	})
	c.Sorted[d] = idx
}

// mergeChildSorted k-way merges the already-sorted streams of c's non-empty
// children for direction d into c's own local index space.
func (sp *Space) mergeChildSorted(c *Cell, d int) []int32 {
	axis := directionVectors[d]

	type stream struct {
		idx    []int32
		offset int32 // child.Start - c.Start
		pos    int
	}
	var streams []*stream
	for _, ph := range c.Progeny {
		if ph == nilCell {
			continue
		}
		child := sp.cellAt(ph)
		if child.Count == 0 {
			continue
		}
		streams = append(streams, &stream{idx: child.Sorted[d], offset: int32(child.Start - c.Start)})
	}

	out := make([]int32, 0, c.Count)
	keyOf := func(s *stream) float32 {
		return sp.CParts[c.Start+int(s.idx[s.pos]+s.offset)].Pos.Dot(axis)
	}
	for len(streams) > 0 {
		best := 0
		bestKey := keyOf(streams[0])
		for i := 1; i < len(streams); i++ {
			if k := keyOf(streams[i]); k < bestKey {
				bestKey = k
				best = i
			}
		}
		s := streams[best]
		out = append(out, s.idx[s.pos]+s.offset)
		s.pos++
		if s.pos >= len(s.idx) {
			streams = append(streams[:best], streams[best+1:]...)
		}
	}
	return out
}
