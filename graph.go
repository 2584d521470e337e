package sph

import (
	"fmt"
	"strings"
	"sync"
)

// Graph is the task dependency graph built for one rebuild generation
// (spec §3.3, §3.4). Task append happens only during BuildGraph, guarded by
// a mutex (spec §5: "space-wide mutex taken briefly during addtask"); once
// BuildGraph returns, the graph is read-only until the next rebuild resets
// it (spec §3.4: "task arena is append-only during build; reset between
// graph regens").
type Graph struct {
	tasks arena[Task]
	mu    sync.Mutex
}

func (g *Graph) reset() {
	g.tasks.reset()
}

// Len reports the number of tasks currently in the graph.
func (g *Graph) Len() int { return g.tasks.len() }

// Task returns the task at handle h.
func (g *Graph) Task(h TaskHandle) *Task { return g.tasks.at(int(h)) }

func (g *Graph) newTask(t Task) TaskHandle {
	g.mu.Lock()
	defer g.mu.Unlock()
	t.twin = nilTask
	return TaskHandle(g.tasks.add(t))
}

// addDependency wires pred -> succ: succ may not run until pred completes.
// Idempotent for a given (pred, succ) pair, since a cell's sorts[] entries
// may alias across directions (spec §4.2, §9).
func (g *Graph) addDependency(pred, succ TaskHandle) {
	if pred == nilTask || succ == nilTask || pred == succ {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	pt := g.tasks.at(int(pred))
	for _, u := range pt.unlockTasks {
		if u == succ {
			return
		}
	}
	pt.unlockTasks = append(pt.unlockTasks, succ)
	st := g.tasks.at(int(succ))
	st.wait++
}

// addUnlockCell records that completing t should release cell c's lock.
func (g *Graph) addUnlockCell(t TaskHandle, c CellHandle) {
	if t == nilTask || c == nilCell {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	tt := g.tasks.at(int(t))
	for _, u := range tt.unlockCells {
		if u == c {
			return
		}
	}
	tt.unlockCells = append(tt.unlockCells, c)
}

func (g *Graph) newGhostTask(ci CellHandle) TaskHandle {
	return g.newTask(Task{Type: TaskGhost, Ci: ci, Cj: nilCell})
}

func (g *Graph) newSelfTask(subtype TaskSubtype, ci CellHandle) TaskHandle {
	return g.newTask(Task{Type: TaskSelf, Subtype: subtype, Ci: ci, Cj: nilCell})
}

func (g *Graph) newPairTask(subtype TaskSubtype, ci, cj CellHandle, sid int) TaskHandle {
	return g.newTask(Task{Type: TaskPair, Subtype: subtype, Ci: ci, Cj: cj, Flags: sid})
}

func (g *Graph) newSubSelfTask(subtype TaskSubtype, ci CellHandle) TaskHandle {
	return g.newTask(Task{Type: TaskSub, Subtype: subtype, Ci: ci, Cj: nilCell})
}

func (g *Graph) newSubPairTask(subtype TaskSubtype, ci, cj CellHandle, sid int) TaskHandle {
	return g.newTask(Task{Type: TaskSub, Subtype: subtype, Ci: ci, Cj: cj, Flags: sid})
}

func (g *Graph) newSortTask(ci CellHandle, flags int) TaskHandle {
	return g.newTask(Task{Type: TaskSort, Ci: ci, Cj: nilCell, Flags: flags})
}

// DOT renders the graph as Graphviz digraph text. Diagnostic only: it exists
// so tests can dump a failing graph and so acyclicity can be eyeballed or
// checked with an external tool; the scheduler never calls it.
func (g *Graph) DOT() string {
	var b strings.Builder
	b.WriteString("digraph tasks {\n")
	for i := 0; i < g.tasks.len(); i++ {
		t := g.tasks.at(i)
		if t.Type == TaskNone {
			continue
		}
		fmt.Fprintf(&b, "  t%d [label=%q];\n", i, t.Kind())
		for _, succ := range t.unlockTasks {
			fmt.Fprintf(&b, "  t%d -> t%d;\n", i, succ)
		}
	}
	b.WriteString("}\n")
	return b.String()
}
