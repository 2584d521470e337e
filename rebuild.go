package sph

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Rebuild regenerates the top-level grid (if it must shrink to fit a larger
// HMax, or on first call) and the recursive cell split under it (spec
// §4.1). It reports whether anything about the tree's shape changed; a
// caller uses that to decide whether BuildGraph needs to run again.
func (sp *Space) Rebuild(force bool, cellMax float64) (bool, error) {
	if cellMax <= 0 {
		return false, fmt.Errorf("sph: cell_max must be positive: %w", ErrInvariantBreach)
	}

	hMin, hMax, err := sp.scanSmoothingLengths()
	if err != nil {
		return false, err
	}
	sp.HMin, sp.HMax = hMin, hMax

	desired := [3]int{}
	for k := 0; k < 3; k++ {
		unit := math.Max(float64(hMax)*sp.cfg.Stretch, cellMax)
		n := int(math.Floor(sp.Dim[k] / unit))
		if n < 1 {
			n = 1
		}
		desired[k] = n
	}

	mustRealloc := force || sp.topLevel == nil
	if !mustRealloc {
		for k := 0; k < 3; k++ {
			if desired[k] < sp.Cdim[k] {
				mustRealloc = true
				break
			}
		}
	}

	changes := false
	var prevSplit []bool
	var prevLive []bool

	if mustRealloc {
		changes = true
		for _, h := range sp.topLevel {
			sp.freeCell(h)
		}
		sp.Cdim = desired
		for k := 0; k < 3; k++ {
			sp.CellH[k] = sp.Dim[k] / float64(sp.Cdim[k])
		}
		n := sp.Cdim[0] * sp.Cdim[1] * sp.Cdim[2]
		sp.topLevel = make([]CellHandle, n)
		for i := range sp.topLevel {
			h, err := sp.allocCell()
			if err != nil {
				return false, err
			}
			sp.topLevel[i] = h
		}
	} else {
		prevSplit = make([]bool, len(sp.topLevel))
		prevLive = make([]bool, len(sp.topLevel))
		for i, h := range sp.topLevel {
			c := sp.cellAt(h)
			prevSplit[i] = c.Split
			prevLive[i] = c.Count > 0
		}
	}

	if err := sp.binParticles(); err != nil {
		return false, err
	}

	sp.MaxDepth = 0
	for i, h := range sp.topLevel {
		bx, by, bz := unflattenBin(i, sp.Cdim)
		if mustRealloc {
			c := sp.cellAt(h)
			c.Loc = [3]float64{float64(bx) * sp.CellH[0], float64(by) * sp.CellH[1], float64(bz) * sp.CellH[2]}
			c.H = sp.CellH
			c.Depth = 0
			c.IsTop = true
			c.TopLoc = [3]int{bx, by, bz}
			c.Parent = nilCell
		}

		// splitCell may grow the cell arena (via allocCell), so every read
		// of this cell's fields after the call goes through a fresh
		// sp.cellAt(h) rather than a pointer taken before the call.
		changed, err := sp.splitCell(h)
		if err != nil {
			return false, err
		}
		c := sp.cellAt(h)
		if changed {
			changes = true
		} else if !mustRealloc {
			if c.Split != prevSplit[i] || (c.Count > 0) != prevLive[i] {
				changes = true
			}
		}
		if c.Depth > sp.MaxDepth {
			sp.MaxDepth = c.Depth
		}
	}

	if changes {
		sp.Generation = uuid.New()
	}
	sp.log.Debugf("rebuild: cdim=%v cells=%d changes=%v", sp.Cdim, sp.cells.len(), changes)
	return changes, nil
}

func (sp *Space) scanSmoothingLengths() (hMin, hMax float32, err error) {
	if len(sp.Parts) == 0 {
		return 0, 0, nil
	}
	hMin = float32(math.Inf(1))
	hMax = float32(math.Inf(-1))
	for i := range sp.Parts {
		h := sp.Parts[i].H
		if h < 0 {
			return 0, 0, fmt.Errorf("sph: particle %d has negative h: %w", i, ErrInvariantBreach)
		}
		if h < hMin {
			hMin = h
		}
		if h > hMax {
			hMax = h
		}
	}
	return hMin, hMax, nil
}

func binOf(x [3]float64, dim, cellH [3]float64, cdim [3]int, periodic bool) [3]int {
	var b [3]int
	for k := 0; k < 3; k++ {
		v := x[k]
		if periodic {
			v = math.Mod(v, dim[k])
			if v < 0 {
				v += dim[k]
			}
		}
		idx := int(math.Floor(v / cellH[k]))
		if idx < 0 {
			idx = 0
		}
		if idx >= cdim[k] {
			idx = cdim[k] - 1
		}
		b[k] = idx
	}
	return b
}

func flattenBin(b, cdim [3]int) int {
	return (b[0]*cdim[1]+b[1])*cdim[2] + b[2]
}

func unflattenBin(i int, cdim [3]int) (x, y, z int) {
	z = i % cdim[2]
	i /= cdim[2]
	y = i % cdim[1]
	x = i / cdim[1]
	return
}

const (
	binSortParallelThreshold = 100
	binSortInsertionThreshold = 16
)

// binParticles sorts Parts/CParts by top-level bin index using a hybrid
// quicksort/insertion sort (spec §4.1) whose large partitions may run on
// independent workers, then assigns each top-level cell its contiguous
// particle subrange.
func (sp *Space) binParticles() error {
	n := len(sp.Parts)
	if n == 0 {
		for _, h := range sp.topLevel {
			c := sp.cellAt(h)
			c.Start, c.End, c.Count = 0, 0, 0
		}
		return nil
	}

	bins := make([]int32, n)
	for i := range sp.Parts {
		b := binOf(sp.Parts[i].X, sp.Dim, sp.CellH, sp.Cdim, sp.Periodic)
		bins[i] = int32(flattenBin(b, sp.Cdim))
	}

	idx := make([]int32, n)
	for i := range idx {
		idx[i] = int32(i)
	}

	less := func(a, b int32) bool {
		if bins[a] != bins[b] {
			return bins[a] < bins[b]
		}
		// Open Question 1 (spec §9): deterministic total order on
		// (bin, index), never float equality.
		return a < b
	}

	workers := sp.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(workers)
	quicksortIdx(idx, less, binSortParallelThreshold, binSortInsertionThreshold, g)
	if err := g.Wait(); err != nil {
		return err
	}

	newParts := make([]Particle, n)
	newCParts := make([]CParticle, n)
	newBins := make([]int32, n)
	for newPos, oldIdx := range idx {
		newParts[newPos] = sp.Parts[oldIdx]
		newCParts[newPos] = sp.CParts[oldIdx]
		newBins[newPos] = bins[oldIdx]
	}
	sp.Parts = newParts
	sp.CParts = newCParts

	pos := 0
	for i, h := range sp.topLevel {
		c := sp.cellAt(h)
		start := pos
		for pos < n && int(newBins[pos]) == i {
			pos++
		}
		c.Start, c.End = start, pos
		c.Count = pos - start
	}
	return nil
}

// quicksortIdx sorts idx in place according to less, using insertion sort
// below insThreshold and dispatching each partition of a larger split to
// an independent worker when that partition exceeds parThreshold and a
// worker slot is free (spec §4.1: "independent workers when the partition
// is larger than a threshold (≈100)"); otherwise the partition is sorted
// on the calling goroutine.
func quicksortIdx(idx []int32, less func(a, b int32) bool, parThreshold, insThreshold int, g *errgroup.Group) {
	if len(idx) <= insThreshold {
		insertionSortIdx(idx, less)
		return
	}
	p := partitionIdx(idx, less)
	left, right := idx[:p], idx[p+1:]

	dispatch := func(s []int32) {
		if g != nil && len(s) > parThreshold {
			s := s
			if g.TryGo(func() error {
				quicksortIdx(s, less, parThreshold, insThreshold, g)
				return nil
			}) {
				return
			}
		}
		quicksortIdx(s, less, parThreshold, insThreshold, g)
	}
	dispatch(left)
	dispatch(right)
}

func partitionIdx(idx []int32, less func(a, b int32) bool) int {
	mid := len(idx) / 2
	idx[mid], idx[len(idx)-1] = idx[len(idx)-1], idx[mid]
	pivot := idx[len(idx)-1]
	store := 0
	for i := 0; i < len(idx)-1; i++ {
		if less(idx[i], pivot) {
			idx[i], idx[store] = idx[store], idx[i]
			store++
		}
	}
	idx[store], idx[len(idx)-1] = idx[len(idx)-1], idx[store]
	return store
}

func insertionSortIdx(idx []int32, less func(a, b int32) bool) {
	for i := 1; i < len(idx); i++ {
		for j := i; j > 0 && less(idx[j], idx[j-1]); j-- {
			idx[j], idx[j-1] = idx[j-1], idx[j]
		}
	}
}

// splitCell recursively applies the split criterion to cell h and its
// descendants (spec §4.1), returning whether the cell or any descendant's
// split state or occupancy changed.
func (sp *Space) splitCell(h CellHandle) (bool, error) {
	// c is only safe to hold across the calls below because none of them
	// — dismantle/freeCell never grow the cell arena — can reallocate its
	// backing array. The moment the loop below can call allocCell or
	// recurse into splitCell, a held *Cell becomes unsafe (spec §9: cells
	// are addressed by handle, not pointer, precisely because of this);
	// from there on this function re-fetches sp.cellAt(h) after every
	// such call instead of trusting a cached pointer.
	c := sp.cellAt(h)
	prevSplit := c.Split
	total := c.Count

	if total == 0 {
		changed := prevSplit
		if prevSplit {
			sp.dismantle(c)
		}
		sp.cellAt(h).HMax = 0
		return changed, nil
	}

	hLimit := math.Min(c.H[0], math.Min(c.H[1], c.H[2])) / 2
	start, end := c.Start, c.End
	var belowLimit int
	var hmax float32
	for i := start; i < end; i++ {
		hp := sp.CParts[i].H
		if hp > hmax {
			hmax = hp
		}
		if float64(hp) <= hLimit {
			belowLimit++
		}
	}
	sp.cellAt(h).HMax = hmax

	doSplit := float64(belowLimit) > float64(total)*sp.cfg.SplitRatio && total > sp.cfg.SplitSize

	if !doSplit {
		changed := prevSplit
		if prevSplit {
			sp.dismantle(sp.cellAt(h))
		}
		sp.cellAt(h).Split = false
		return changed, nil
	}

	changed := !prevSplit
	sp.cellAt(h).Split = true

	// No allocation has happened yet, so c is still the current backing
	// array's cell; partitionByOctant itself never allocates either.
	buckets, err := sp.partitionByOctant(c)
	if err != nil {
		return false, err
	}

	childHMax := float32(0)
	for i := 0; i < 8; i++ {
		count := buckets[i].end - buckets[i].start
		existing := sp.cellAt(h).Progeny[i]

		if count == 0 {
			if existing != nilCell {
				sp.freeCell(existing)
				sp.cellAt(h).Progeny[i] = nilCell
				changed = true
			}
			continue
		}

		var ch CellHandle
		if existing != nilCell {
			ch = existing
		} else {
			ch, err = sp.allocCell()
			if err != nil {
				return false, err
			}
			sp.cellAt(h).Progeny[i] = ch
			changed = true
		}

		parent := sp.cellAt(h)
		bits := progenyBits(i)
		childH := [3]float64{parent.H[0] / 2, parent.H[1] / 2, parent.H[2] / 2}
		childLoc := [3]float64{
			parent.Loc[0] + float64(bits[0])*childH[0],
			parent.Loc[1] + float64(bits[1])*childH[1],
			parent.Loc[2] + float64(bits[2])*childH[2],
		}
		childDepth := parent.Depth + 1

		child := sp.cellAt(ch)
		child.H = childH
		child.Loc = childLoc
		child.Depth = childDepth
		child.Parent = h
		child.Start, child.End = buckets[i].start, buckets[i].end
		child.Count = count
		child.IsTop = false

		childChanged, err := sp.splitCell(ch)
		if err != nil {
			return false, err
		}
		if childChanged {
			changed = true
		}
		if childAfter := sp.cellAt(ch); childAfter.HMax > childHMax {
			childHMax = childAfter.HMax
		}
	}
	if final := sp.cellAt(h); childHMax > final.HMax {
		final.HMax = childHMax
	}
	return changed, nil
}

// dismantle recycles all of c's descendants, leaving c a leaf.
func (sp *Space) dismantle(c *Cell) {
	for i, p := range c.Progeny {
		if p != nilCell {
			sp.freeCell(p)
			c.Progeny[i] = nilCell
		}
	}
	c.Split = false
}

type octantRange struct{ start, end int }

// partitionByOctant reorders c's particle subrange in place into eight
// contiguous runs by octant (spec §4.1: "partition the parent's particle
// range in place so each child's particles are contiguous"), and returns
// each run's bounds.
func (sp *Space) partitionByOctant(c *Cell) ([8]octantRange, error) {
	center := [3]float64{
		c.Loc[0] + c.H[0]/2,
		c.Loc[1] + c.H[1]/2,
		c.Loc[2] + c.H[2]/2,
	}

	octantOf := func(i int) int {
		x := sp.Parts[i].X
		bit := func(v, mid float64) int {
			if v >= mid {
				return 1
			}
			return 0
		}
		bx, by, bz := bit(x[0], center[0]), bit(x[1], center[1]), bit(x[2], center[2])
		return (bx << 2) | (by << 1) | bz
	}

	n := c.End - c.Start
	octant := make([]int8, n)
	var counts [8]int
	for i := 0; i < n; i++ {
		o := octantOf(c.Start + i)
		octant[i] = int8(o)
		counts[o]++
	}

	var offsets [8]int
	acc := 0
	for i := 0; i < 8; i++ {
		offsets[i] = acc
		acc += counts[i]
	}
	if acc != n {
		return [8]octantRange{}, fmt.Errorf("sph: octant partition count mismatch: %w", ErrInvariantBreach)
	}

	destParts := make([]Particle, n)
	destCParts := make([]CParticle, n)
	cursor := offsets
	for i := 0; i < n; i++ {
		o := octant[i]
		pos := cursor[o]
		cursor[o]++
		destParts[pos] = sp.Parts[c.Start+i]
		destCParts[pos] = sp.CParts[c.Start+i]
	}
	copy(sp.Parts[c.Start:c.End], destParts)
	copy(sp.CParts[c.Start:c.End], destCParts)

	var ranges [8]octantRange
	for i := 0; i < 8; i++ {
		start := c.Start + offsets[i]
		end := start + counts[i]
		ranges[i] = octantRange{start, end}
	}
	return ranges, nil
}
