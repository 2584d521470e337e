package sph

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// Kernel is the set of callbacks the scheduler invokes while draining a
// task graph (spec §6). Callbacks receive contiguous particle slices for
// cache-friendly sweeps and must not mutate scheduler state (cell
// locks, wait counters, queues) — only physics fields on the particles
// they own.
type Kernel interface {
	// Density runs a density self/sub task (cj is nilCell) or pair/sub
	// task (cj is the second acting cell).
	Density(sp *Space, ci, cj CellHandle)
	// Force runs a force self/pair/sub task, mirroring Density's shape.
	Force(sp *Space, ci, cj CellHandle)
	// Ghost runs optional per-cell post-density work; kernels that have
	// nothing to do at the barrier can embed NopGhost.
	Ghost(sp *Space, c CellHandle)
}

// NopGhost can be embedded by a Kernel implementation that has no ghost
// work, so it only needs to provide Density and Force.
type NopGhost struct{}

func (NopGhost) Ghost(sp *Space, c CellHandle) {}

// taskQueue is a mutex-guarded LIFO stack of ready task handles. Workers
// push/pop under the mutex; contention here is expected to be brief (spec
// §5: "O(1) except sort-grouping decisions... serialised on the space
// mutex" — the ready-queue is the other short critical section).
type taskQueue struct {
	mu      sync.Mutex
	cond    sync.Cond
	items   []TaskHandle
	closed  bool
	pending int64 // not maintained; Run counts completed tasks itself
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{}
	q.cond.L = &q.mu
	return q
}

func (q *taskQueue) push(h TaskHandle) {
	q.mu.Lock()
	q.items = append(q.items, h)
	q.cond.Signal()
	q.mu.Unlock()
}

// pop blocks until a task is ready or the queue is closed. ctx is checked
// only before each wait, so a cancellation that arrives while waiting is
// seen after the next push or close.
func (q *taskQueue) pop(ctx context.Context) (TaskHandle, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		if ctx.Err() != nil {
			return nilTask, false
		}
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nilTask, false
	}
	h := q.items[len(q.items)-1]
	q.items = q.items[:len(q.items)-1]
	return h, true
}

func (q *taskQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Run drains the Space's current task graph on a fixed pool of worker
// goroutines (spec §4.4). It returns once every task has executed exactly
// once, or aborts with an error on the first invariant breach or
// resource-exhaustion condition any worker hits (spec §7: "no partial
// completion of a graph").
func Run(ctx context.Context, sp *Space, k Kernel) error {
	n := sp.graph.Len()
	if n == 0 {
		return nil
	}

	ready := newTaskQueue()
	var remaining int64
	for i := 0; i < n; i++ {
		t := sp.graph.Task(TaskHandle(i))
		if t.Type == TaskNone {
			continue
		}
		remaining++
		if t.waitCount() == 0 {
			ready.push(TaskHandle(i))
		}
	}
	if remaining == 0 {
		return nil
	}

	workers := sp.cfg.Workers
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	sp.log.Debugf("run: generation=%s tasks=%d workers=%d", sp.Generation, remaining, workers)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var firstErr error
	var errOnce sync.Once
	recordErr := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	var wg sync.WaitGroup
	var done int64
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				h, ok := ready.pop(runCtx)
				if !ok {
					return
				}
				err := sp.runOne(h, k)
				if err == errContended {
					// Not an error (spec §7): back off and let another
					// worker make progress on the cells we wanted before
					// we try this task again.
					runtime.Gosched()
					ready.push(h)
					continue
				}
				if err != nil {
					recordErr(err)
					ready.close()
					return
				}
				sp.completeTask(h, ready)
				if atomic.AddInt64(&done, 1) == remaining {
					ready.close()
					return
				}
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		sp.log.Errorf("run: generation=%s failed after %d/%d tasks: %v", sp.Generation, atomic.LoadInt64(&done), remaining, firstErr)
		return firstErr
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	sp.log.Debugf("run: generation=%s completed %d tasks", sp.Generation, remaining)
	return nil
}

// runOne executes a single task's work body, acquiring its acting cells'
// locks with try-lock-and-requeue semantics for pair/sub tasks (spec §4.4:
// "Cell locking"). Ghost tasks are pure synchronisation and run the
// optional Kernel.Ghost hook; sort tasks run the directional sort.
func (sp *Space) runOne(h TaskHandle, k Kernel) error {
	t := sp.graph.Task(h)

	switch t.Type {
	case TaskSort:
		sp.executeSortTask(t)
		t.done.Store(true)
		return nil
	case TaskGhost:
		if k != nil {
			k.Ghost(sp, t.Ci)
		}
		t.done.Store(true)
		return nil
	}

	ci, cj := t.Ci, t.Cj

	// Self tasks act on a single cell with no concurrent co-owner and never
	// appear in any unlockCells list (wireCellLocks only registers pair/sub
	// tasks); taking a lock here would hold it forever.
	if t.Type != TaskSelf {
		if !sp.lockCells(ci, cj) {
			// Contention: this is not an error (spec §7); the caller requeues.
			return errContended
		}
	}

	switch t.Subtype {
	case SubtypeDensity:
		k.Density(sp, ci, cj)
	case SubtypeForce:
		k.Force(sp, ci, cj)
	}
	t.done.Store(true)
	return nil
}

// errContended signals try-lock contention, a control-flow sentinel
// handled entirely within this file; it never escapes Run.
var errContended = fmt.Errorf("sph: cell contended")

// lockCells acquires ci's (and cj's, if present) spinlock via try-lock in
// a fixed address order (lower handle first) to avoid deadlock between two
// pair tasks sharing both cells in opposite order (spec §4.4).
func (sp *Space) lockCells(ci, cj CellHandle) bool {
	if cj == nilCell {
		return sp.cellAt(ci).lock.TryLock()
	}
	first, second := ci, cj
	if second < first {
		first, second = second, first
	}
	if !sp.cellAt(first).lock.TryLock() {
		return false
	}
	if !sp.cellAt(second).lock.TryLock() {
		sp.cellAt(first).lock.Unlock()
		return false
	}
	return true
}

// completeTask applies a finished task's effects to the graph: release
// every cell in unlock_cells(T) (the locks runOne acquired but left held
// across the kernel call), then decrement every successor's wait counter,
// pushing it when it reaches zero (spec §4.4). Successors retired to
// TaskNone by refinement or sort pruning are never pushed, since Run does
// not count them. Pair/sub tasks that hit errContended in runOne never
// acquired a lock and are requeued by the caller instead of reaching here.
func (sp *Space) completeTask(h TaskHandle, ready *taskQueue) {
	t := sp.graph.Task(h)
	for _, c := range t.unlockCells {
		sp.cellAt(c).lock.Unlock()
	}
	for _, succ := range t.unlockTasks {
		st := sp.graph.Task(succ)
		if st.decWait() && st.Type != TaskNone {
			ready.push(succ)
		}
	}
}
