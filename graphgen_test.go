package sph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// countByType counts the density-phase tasks of type typ. Every density
// self/pair/sub task also gets a force twin of the same type; those twins
// are left out so the counts are the scenarios' density task counts.
func countByType(sp *Space, typ TaskType) int {
	n := 0
	for i := 0; i < sp.graph.Len(); i++ {
		if tk := sp.graph.Task(TaskHandle(i)); tk.Type == typ && tk.Subtype == SubtypeDensity {
			n++
		}
	}
	return n
}

// assertAcyclic runs Kahn's algorithm over the live tasks using each task's
// recorded wait count as its in-degree (spec §8 invariant 5: the graph is a
// DAG). It fails the test if any live task is never reached, which can only
// happen if a cycle keeps its wait counter above zero forever.
func assertAcyclic(t *testing.T, sp *Space) {
	t.Helper()
	n := sp.graph.Len()
	indeg := make([]int32, n)
	live := make([]bool, n)
	liveCount := 0
	for i := 0; i < n; i++ {
		tk := sp.graph.Task(TaskHandle(i))
		if tk.Type == TaskNone {
			continue
		}
		live[i] = true
		liveCount++
		indeg[i] = tk.wait
	}

	queue := make([]int, 0, liveCount)
	for i := 0; i < n; i++ {
		if live[i] && indeg[i] == 0 {
			queue = append(queue, i)
		}
	}
	processed := 0
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		processed++
		for _, succ := range sp.graph.Task(TaskHandle(i)).unlockTasks {
			indeg[succ]--
			if indeg[succ] == 0 {
				queue = append(queue, int(succ))
			}
		}
	}
	require.Equal(t, liveCount, processed, "task graph has a cycle")
}

func TestBuildGraphEmptySpace(t *testing.T) {
	sp, err := NewSpace([3]float64{1, 1, 1}, nil)
	require.NoError(t, err)
	_, err = sp.Rebuild(true, 0.2)
	require.NoError(t, err)
	require.NoError(t, sp.BuildGraph())
	require.Equal(t, 0, countByType(sp, TaskSelf))
	require.Equal(t, 0, countByType(sp, TaskPair))
}

// S1: single cell, four particles, non-periodic: one self task, no pairs.
func TestBuildGraphS1SingleCellFourParticles(t *testing.T) {
	parts := []Particle{
		{X: [3]float64{0.1, 0.1, 0.1}, H: 0.1},
		{X: [3]float64{0.2, 0.15, 0.1}, H: 0.1},
		{X: [3]float64{0.15, 0.2, 0.2}, H: 0.1},
		{X: [3]float64{0.2, 0.2, 0.15}, H: 0.1},
	}
	sp, err := NewSpace([3]float64{1, 1, 1}, parts)
	require.NoError(t, err)
	_, err = sp.Rebuild(true, 0.5)
	require.NoError(t, err)
	require.Equal(t, [3]int{2, 2, 2}, sp.Cdim)

	require.NoError(t, sp.BuildGraph())
	require.Equal(t, 1, countByType(sp, TaskSelf))
	require.Equal(t, 0, countByType(sp, TaskPair))
	assertAcyclic(t, sp)
}

// S2: two particles near opposite faces of a periodic domain must be
// linked by a wrap pair task along the x axis.
func TestBuildGraphS2PeriodicWrapPair(t *testing.T) {
	parts := []Particle{
		{X: [3]float64{0.05, 0.5, 0.5}, H: 0.2},
		{X: [3]float64{0.95, 0.5, 0.5}, H: 0.2},
	}
	sp, err := NewSpace([3]float64{1, 1, 1}, parts, WithPeriodic(true))
	require.NoError(t, err)
	_, err = sp.Rebuild(true, 0.3)
	require.NoError(t, err)
	require.Equal(t, [3]int{3, 3, 3}, sp.Cdim)

	require.NoError(t, sp.BuildGraph())
	require.Equal(t, 1, countByType(sp, TaskPair))

	var pair *Task
	for i := 0; i < sp.graph.Len(); i++ {
		if tk := sp.graph.Task(TaskHandle(i)); tk.Type == TaskPair {
			pair = tk
		}
	}
	require.NotNil(t, pair)
	xAxisID := direction(1, 0, 0)
	yAxisID := direction(0, 1, 0)
	zAxisID := direction(0, 0, 1)
	require.Equal(t, xAxisID, pair.Flags)
	require.NotEqual(t, yAxisID, pair.Flags)
	require.NotEqual(t, zAxisID, pair.Flags)
	assertAcyclic(t, sp)
}

// S3: a dense single top-level cell splits into 8 children and all 28
// pairwise child combinations get an initial pair task.
func TestBuildGraphS3SplitTriggerGeneratesPairs(t *testing.T) {
	var parts []Particle
	nx, ny, nz := 10, 10, 8 // 800 particles, spans all 8 octants
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			for k := 0; k < nz; k++ {
				parts = append(parts, Particle{
					X: [3]float64{
						(float64(i) + 0.5) / float64(nx) * 0.5,
						(float64(j) + 0.5) / float64(ny) * 0.5,
						(float64(k) + 0.5) / float64(nz) * 0.5,
					},
					H: 0.01,
				})
			}
		}
	}
	require.Len(t, parts, 800)

	sp, err := NewSpace([3]float64{0.5, 0.5, 0.5}, parts, WithSplitSize(400), WithSplitRatio(0.5))
	require.NoError(t, err)
	_, err = sp.Rebuild(true, 0.5)
	require.NoError(t, err)
	require.Equal(t, [3]int{1, 1, 1}, sp.Cdim)

	root := sp.cellAt(sp.topLevel[0])
	require.True(t, root.Split)
	nonEmpty := 0
	for _, p := range root.Progeny {
		if p != nilCell && sp.cellAt(p).Count > 0 {
			nonEmpty++
		}
	}
	require.Equal(t, 8, nonEmpty)

	// Build the graph with a SubSize of 0 so refineSelf always takes the
	// per-child fan-out branch instead of collapsing to a sub(self). Each
	// of the 8 children holds ~100 particles, well under split_size, so
	// none of them split again and none of the 28 child-pairs qualify for
	// further sub-pair conversion (pairRefinable requires both sides
	// split) — they survive exactly as the 28 pairs the scenario names.
	sp.cfg.SubSize = 0
	require.NoError(t, sp.BuildGraph())
	require.Equal(t, 28, countByType(sp, TaskPair))
	assertAcyclic(t, sp)
}

func TestBuildGraphForceTwinsWired(t *testing.T) {
	parts := gridParticles(4, 0.05)
	sp, err := NewSpace([3]float64{1, 1, 1}, parts)
	require.NoError(t, err)
	_, err = sp.Rebuild(true, 0.3)
	require.NoError(t, err)
	require.NoError(t, sp.BuildGraph())

	densityCount := 0
	for i := 0; i < sp.graph.Len(); i++ {
		th := TaskHandle(i)
		tk := sp.graph.Task(th)
		if tk.Subtype != SubtypeDensity {
			continue
		}
		if tk.Type != TaskSelf && tk.Type != TaskPair && tk.Type != TaskSub {
			continue
		}
		densityCount++
		require.NotEqual(t, nilTask, tk.twin)
		twin := sp.graph.Task(tk.twin)
		require.Equal(t, SubtypeForce, twin.Subtype)
		require.Equal(t, tk.Ci, twin.Ci)
		require.Equal(t, tk.Cj, twin.Cj)
	}
	require.Greater(t, densityCount, 0)
	assertAcyclic(t, sp)
}

func TestPruneDeadSortsConvertsUnusedToNone(t *testing.T) {
	sp, err := NewSpace([3]float64{1, 1, 1}, gridParticles(2, 0.05))
	require.NoError(t, err)
	_, err = sp.Rebuild(true, 0.6)
	require.NoError(t, err)
	require.NoError(t, sp.BuildGraph())

	for i := 0; i < sp.graph.Len(); i++ {
		tk := sp.graph.Task(TaskHandle(i))
		if tk.Type != TaskSort {
			continue
		}
		hasLiveSucc := false
		for _, succ := range tk.unlockTasks {
			if sp.graph.Task(succ).Type != TaskNone {
				hasLiveSucc = true
			}
		}
		require.True(t, hasLiveSucc, "surviving sort task %d must unlock a live task", i)
	}
}
