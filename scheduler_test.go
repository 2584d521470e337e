package sph

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// countingKernel counts how many times each phase fires; used to assert the
// scheduler visits every surviving density/force task exactly once.
type countingKernel struct {
	NopGhost
	densityCalls int64
	forceCalls   int64
	ghostCalls   int64
}

func (k *countingKernel) Density(sp *Space, ci, cj CellHandle) {
	atomic.AddInt64(&k.densityCalls, 1)
}
func (k *countingKernel) Force(sp *Space, ci, cj CellHandle) {
	atomic.AddInt64(&k.forceCalls, 1)
}
func (k *countingKernel) Ghost(sp *Space, c CellHandle) {
	atomic.AddInt64(&k.ghostCalls, 1)
}

func buildRunnableSpace(t *testing.T, opts ...Option) *Space {
	t.Helper()
	sp, err := NewSpace([3]float64{1, 1, 1}, gridParticles(5, 0.03), opts...)
	require.NoError(t, err)
	_, err = sp.Rebuild(true, 0.3)
	require.NoError(t, err)
	require.NoError(t, sp.BuildGraph())
	return sp
}

func TestRunExecutesEveryDensityAndForceTaskOnce(t *testing.T) {
	sp := buildRunnableSpace(t, WithWorkers(4))
	k := &countingKernel{}
	require.NoError(t, Run(context.Background(), sp, k))

	var wantDensity, wantForce, wantGhost int64
	for i := 0; i < sp.graph.Len(); i++ {
		tk := sp.graph.Task(TaskHandle(i))
		switch {
		case tk.Type == TaskGhost:
			wantGhost++
		case tk.Subtype == SubtypeDensity && tk.Type != TaskNone && tk.Type != TaskSort:
			wantDensity++
		case tk.Subtype == SubtypeForce && tk.Type != TaskNone && tk.Type != TaskSort:
			wantForce++
		}
	}

	require.Equal(t, wantDensity, k.densityCalls)
	require.Equal(t, wantForce, k.forceCalls)
	require.Equal(t, wantGhost, k.ghostCalls)
}

func TestRunOnEmptyGraphIsNoop(t *testing.T) {
	sp, err := NewSpace([3]float64{1, 1, 1}, nil)
	require.NoError(t, err)
	_, err = sp.Rebuild(true, 0.3)
	require.NoError(t, err)
	require.NoError(t, sp.BuildGraph())

	k := &countingKernel{}
	require.NoError(t, Run(context.Background(), sp, k))
	require.EqualValues(t, 0, k.densityCalls)
}

func TestRunIsDeterministicAcrossWorkerCounts(t *testing.T) {
	first := int64(-1)
	for _, workers := range []int{1, 2, 8} {
		sp := buildRunnableSpace(t, WithWorkers(workers))
		k := &countingKernel{}
		require.NoError(t, Run(context.Background(), sp, k))
		require.Greater(t, k.densityCalls, int64(0))
		require.Equal(t, k.densityCalls, k.forceCalls)
		if first < 0 {
			first = k.densityCalls
		}
		require.Equal(t, first, k.densityCalls, "workers=%d", workers)
	}
}

func TestLockCellsFixedOrderAvoidsDeadlock(t *testing.T) {
	sp := buildRunnableSpace(t, WithWorkers(1))
	var ci, cj CellHandle
	for i := 0; i < sp.graph.Len(); i++ {
		tk := sp.graph.Task(TaskHandle(i))
		if tk.Type == TaskPair {
			ci, cj = tk.Ci, tk.Cj
			break
		}
	}
	require.NotEqual(t, nilCell, ci)
	require.True(t, sp.lockCells(ci, cj))
	require.False(t, sp.lockCells(cj, ci)) // already held, in either argument order
	sp.cellAt(ci).lock.Unlock()
	sp.cellAt(cj).lock.Unlock()
}
