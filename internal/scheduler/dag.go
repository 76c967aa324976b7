package scheduler

import (
	"fmt"

	"github.com/gammazero/toposort"
)

// Graph is the validated dependency graph of one phase.
// It is immutable after Build returns.
type Graph struct {
	index      map[string]int      // task ID -> insertion position
	order      []string            // Stable topological order
	prereqs    map[string][]string // task ID -> prerequisites inside the phase
	external   map[string][]string // task ID -> prerequisites satisfied out-of-band
	dependents map[string][]string // task ID -> tasks that depend on it, insertion order
}

// Build validates tasks and returns their dependency graph.
//
// external lists IDs that are satisfied outside the phase (earlier phases or
// the shared context). Any other dependency that is not a task in the list
// yields an UnknownDependencyError. Cycles yield a CycleError naming the
// tasks that could not be ordered.
func Build(tasks []*Task, external []string) (*Graph, error) {
	g := &Graph{
		index:      make(map[string]int, len(tasks)),
		prereqs:    make(map[string][]string, len(tasks)),
		external:   make(map[string][]string),
		dependents: make(map[string][]string, len(tasks)),
	}

	for i, task := range tasks {
		if task == nil || task.ID == "" {
			return nil, fmt.Errorf("task at position %d has no ID", i)
		}
		if _, exists := g.index[task.ID]; exists {
			return nil, fmt.Errorf("task with ID %q already exists", task.ID)
		}
		g.index[task.ID] = i
	}

	outside := make(map[string]bool, len(external))
	for _, id := range external {
		outside[id] = true
	}

	// Split declared dependencies into in-phase and out-of-band edges.
	for _, task := range tasks {
		seen := make(map[string]bool, len(task.DependsOn))
		prereqs := []string{}
		for _, depID := range task.DependsOn {
			if seen[depID] {
				continue
			}
			seen[depID] = true

			if _, inPhase := g.index[depID]; inPhase {
				prereqs = append(prereqs, depID)
				g.dependents[depID] = append(g.dependents[depID], task.ID)
				continue
			}
			if outside[depID] {
				g.external[task.ID] = append(g.external[task.ID], depID)
				continue
			}
			return nil, &UnknownDependencyError{TaskID: task.ID, DependencyID: depID}
		}
		g.prereqs[task.ID] = prereqs
	}

	if err := g.detectCycle(tasks); err != nil {
		return nil, err
	}

	order, residual := g.kahn(tasks)
	if len(residual) > 0 {
		return nil, &CycleError{IDs: residual}
	}
	g.order = order

	return g, nil
}

// detectCycle runs gammazero/toposort over the in-phase edges. On failure the
// stable Kahn pass is used to name the tasks caught in the cycle.
func (g *Graph) detectCycle(tasks []*Task) error {
	var edges []toposort.Edge
	for _, task := range tasks {
		prereqs := g.prereqs[task.ID]
		if len(prereqs) == 0 {
			// Isolated tasks still need to appear in the sort
			edges = append(edges, toposort.Edge{nil, task.ID})
			continue
		}
		for _, depID := range prereqs {
			// Edge (depID, taskID) means depID must come before taskID
			edges = append(edges, toposort.Edge{depID, task.ID})
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		_, residual := g.kahn(tasks)
		if len(residual) == 0 {
			// toposort and Kahn disagree; report every task rather than nothing
			for _, task := range tasks {
				residual = append(residual, task.ID)
			}
		}
		return &CycleError{IDs: residual}
	}
	return nil
}

// kahn repeatedly extracts tasks with no remaining prerequisites. Ties are
// broken by insertion order so the result is reproducible. Tasks that can
// never be extracted are returned as residual, in insertion order.
func (g *Graph) kahn(tasks []*Task) (order []string, residual []string) {
	inDegree := make(map[string]int, len(tasks))
	queue := make([]string, 0, len(tasks))
	for _, task := range tasks {
		inDegree[task.ID] = len(g.prereqs[task.ID])
		if inDegree[task.ID] == 0 {
			queue = append(queue, task.ID)
		}
	}

	order = make([]string, 0, len(tasks))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, dependent := range g.dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) == len(tasks) {
		return order, nil
	}

	for _, task := range tasks {
		if inDegree[task.ID] > 0 {
			residual = append(residual, task.ID)
		}
	}
	return order, residual
}

// Order returns task IDs in a topological order. Executing tasks
// sequentially in this order satisfies every dependency.
func (g *Graph) Order() []string {
	return append([]string(nil), g.order...)
}

// Len returns the number of tasks in the graph.
func (g *Graph) Len() int {
	return len(g.order)
}

// Has reports whether id is a task of this phase.
func (g *Graph) Has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Prerequisites returns the in-phase prerequisites of a task.
func (g *Graph) Prerequisites(id string) []string {
	return append([]string(nil), g.prereqs[id]...)
}

// External returns the prerequisites of a task that come from outside the phase.
func (g *Graph) External(id string) []string {
	return append([]string(nil), g.external[id]...)
}

// Dependents returns the in-phase tasks that list id as a prerequisite.
func (g *Graph) Dependents(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}

// Adjacency returns a copy of the mapping from task ID to its in-phase prerequisites.
func (g *Graph) Adjacency() map[string][]string {
	adj := make(map[string][]string, len(g.prereqs))
	for id, prereqs := range g.prereqs {
		adj[id] = append([]string{}, prereqs...)
	}
	return adj
}
