package sph

import "sync/atomic"

// TaskHandle is a stable index into a Graph's task arena.
type TaskHandle int32

const nilTask TaskHandle = -1

// TaskType is the kind of work a Task performs (spec §3.3).
type TaskType int

const (
	TaskNone TaskType = iota
	TaskSort
	TaskSelf
	TaskPair
	TaskSub
	TaskGhost
)

func (t TaskType) String() string {
	switch t {
	case TaskSort:
		return "sort"
	case TaskSelf:
		return "self"
	case TaskPair:
		return "pair"
	case TaskSub:
		return "sub"
	case TaskGhost:
		return "ghost"
	default:
		return "none"
	}
}

// TaskSubtype distinguishes the physics phase a density/force task belongs
// to. The core never executes physics itself; subtype only routes a task
// to the right kernel callback (spec §6).
type TaskSubtype int

const (
	SubtypeNone TaskSubtype = iota
	SubtypeDensity
	SubtypeForce
)

func (s TaskSubtype) String() string {
	switch s {
	case SubtypeDensity:
		return "density"
	case SubtypeForce:
		return "force"
	default:
		return "none"
	}
}

// Task is a single work unit in the dependency graph (spec §3.3).
type Task struct {
	Type    TaskType
	Subtype TaskSubtype

	// Flags is a 13-bit direction mask for sort tasks, or the stencil
	// index (0..12) for sub/pair tasks where applicable.
	Flags int

	Ci CellHandle
	Cj CellHandle // nilCell when the task acts on one cell only

	// wait is the number of unmet predecessors, atomically decremented as
	// predecessors complete (spec §3.3: "wait(T) = |predecessors(T)| at
	// graph submission").
	wait int32

	unlockTasks []TaskHandle
	unlockCells []CellHandle

	// twin links a density task to its force counterpart (spec §4.3.5),
	// set once both halves exist.
	twin TaskHandle

	// done is set once a ready-queue worker has executed this task, for
	// re-entrancy and testing assertions only; the scheduler itself never
	// reads it to decide readiness (wait==0 is the only readiness test).
	done atomic.Bool
}

// Kind renders a short human-readable label for diagnostics and tests
// (e.g. "pair/density", "sort", "ghost").
func (t *Task) Kind() string {
	if t.Subtype == SubtypeNone {
		return t.Type.String()
	}
	return t.Type.String() + "/" + t.Subtype.String()
}

func (t *Task) waitCount() int32 { return atomic.LoadInt32(&t.wait) }

func (t *Task) addWait(n int32) { atomic.AddInt32(&t.wait, n) }

// decWait atomically decrements the wait counter and reports whether it
// just reached zero (i.e. this call made the task ready).
func (t *Task) decWait() bool {
	return atomic.AddInt32(&t.wait, -1) == 0
}
