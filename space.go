package sph

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Space is the root container for the cell tree, particle arrays, and task
// graph (spec §3.4).
type Space struct {
	Dim      [3]float64
	Periodic bool

	Cdim  [3]int
	CellH [3]float64

	HMin     float32
	HMax     float32
	MaxDepth int

	Parts  []Particle
	CParts []CParticle

	cells    arena[Cell]
	topLevel []CellHandle // len == Cdim[0]*Cdim[1]*Cdim[2]
	freeList []CellHandle

	graph Graph

	// Generation identifies the current rebuild; it is re-minted whenever
	// Rebuild reports changes, so logs and diagnostics can correlate a
	// task graph with the rebuild that produced it.
	Generation uuid.UUID

	cfg Config
	log Logger

	// mu protects cell allocation and the cell free-list only; task
	// appends take the Graph's own mutex. The worker loop and kernel
	// execution must never take it.
	mu sync.Mutex
}

// Stats is a read-only snapshot of a Space, useful for logging and the
// diagnostics dump. Not part of spec.md's interface list, but implied by
// "emit a diagnostic" (§7) and by the task-count assertions in §8's
// end-to-end scenarios.
type Stats struct {
	Generation       uuid.UUID
	NumCells         int
	NumTopLevelCells int
	NumLiveCells     int
	NumTasks         int
	NumGhosts        int
	MaxDepth         int
}

// NewSpace constructs a Space over the given domain and initial particle
// set. It rejects a non-positive domain side or a negative h. The
// top-level grid is sized by the first Rebuild call, from the particles'
// smoothing lengths.
func NewSpace(dim [3]float64, parts []Particle, opts ...Option) (*Space, error) {
	for k := 0; k < 3; k++ {
		if dim[k] <= 0 {
			return nil, fmt.Errorf("sph: invalid domain size %v: %w", dim, ErrInvariantBreach)
		}
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	sp := &Space{
		Dim:        dim,
		Periodic:   cfg.Periodic,
		Parts:      parts,
		CParts:     make([]CParticle, len(parts)),
		cfg:        cfg,
		log:        NewNopLogger(),
		Generation: uuid.New(),
	}
	for i := range sp.Parts {
		if sp.Parts[i].H < 0 {
			return nil, fmt.Errorf("sph: particle %d has negative h: %w", i, ErrInvariantBreach)
		}
		sp.CParts[i] = condense(&sp.Parts[i])
	}
	return sp, nil
}

// SetLogger installs a logger; nil installs a no-op logger.
func (sp *Space) SetLogger(l Logger) {
	if l == nil {
		l = NewNopLogger()
	}
	sp.log = l
}

func (sp *Space) cellAt(h CellHandle) *Cell {
	return sp.cells.at(int(h))
}

// CellRange returns the [start, end) subrange of Parts/CParts that cell h
// owns, for a Kernel's density/force callback to sweep (spec §6).
func (sp *Space) CellRange(h CellHandle) (start, end int) {
	c := sp.cellAt(h)
	return c.Start, c.End
}

// allocCell returns a handle to a zeroed cell, reusing the free-list when
// possible (spec §3.2: "the space owns a free-list of cells").
func (sp *Space) allocCell() (CellHandle, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if n := len(sp.freeList); n > 0 {
		h := sp.freeList[n-1]
		sp.freeList = sp.freeList[:n-1]
		*sp.cellAt(h) = newCell()
		return h, nil
	}

	if sp.cells.len() >= maxCellArena {
		return nilCell, fmt.Errorf("sph: cell arena exhausted at %d cells: %w", sp.cells.len(), ErrResourceExhausted)
	}
	sp.cells.growStep(sp.cfg.CellAllocChunk)
	return CellHandle(sp.cells.add(newCell())), nil
}

// freeCell recycles a cell and its progeny back onto the free-list.
func (sp *Space) freeCell(h CellHandle) {
	if h == nilCell {
		return
	}
	c := sp.cellAt(h)
	for _, p := range c.Progeny {
		if p != nilCell {
			sp.freeCell(p)
		}
	}
	sp.mu.Lock()
	sp.freeList = append(sp.freeList, h)
	sp.mu.Unlock()
}

// maxCellArena bounds the cell arena so that a runaway split (a caller
// bug, not a spec'd scenario) fails fast with ErrResourceExhausted instead
// of growing without limit. Sized generously relative to any plausible
// tree for the particle counts this engine targets.
const maxCellArena = 1 << 24

// DOT renders the current task graph as Graphviz digraph text.
func (sp *Space) DOT() string { return sp.graph.DOT() }

// TopLevelOccupancy returns, per top-level cell in flattened Cdim order, the
// particle count held by that cell's subtree. Diagnostic use only
// (internal/diag's heat-map).
func (sp *Space) TopLevelOccupancy() []int {
	counts := make([]int, len(sp.topLevel))
	for i, h := range sp.topLevel {
		counts[i] = sp.cellAt(h).Count
	}
	return counts
}

// TopLevelTaskDensity returns, per top-level cell in flattened Cdim order,
// the number of density tasks recorded on the cells of that cell's subtree
// (a pair task counts once for each acting cell; force twins are not
// counted). Diagnostic use only.
func (sp *Space) TopLevelTaskDensity() []int {
	counts := make([]int, len(sp.topLevel))
	for i, h := range sp.topLevel {
		counts[i] = sp.subtreeTaskCount(h)
	}
	return counts
}

func (sp *Space) subtreeTaskCount(h CellHandle) int {
	if h == nilCell {
		return 0
	}
	c := sp.cellAt(h)
	n := c.NrTasks
	for _, p := range c.Progeny {
		n += sp.subtreeTaskCount(p)
	}
	return n
}

// Stats returns a snapshot of the current tree and graph.
func (sp *Space) Stats() Stats {
	s := Stats{
		Generation:       sp.Generation,
		NumCells:         sp.cells.len(),
		NumTopLevelCells: len(sp.topLevel),
		NumTasks:         sp.graph.Len(),
		MaxDepth:         sp.MaxDepth,
	}
	for i := 0; i < sp.cells.len(); i++ {
		c := sp.cells.at(i)
		if c.Count > 0 {
			s.NumLiveCells++
		}
		if c.Ghost != nilTask {
			s.NumGhosts++
		}
	}
	return s
}
