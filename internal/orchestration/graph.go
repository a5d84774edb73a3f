package orchestration

import (
	"context"
	"sort"
)

// TaskFunc is one unit of work. It must honour ctx cancellation at its I/O points.
type TaskFunc func(ctx context.Context) error

// Task is a named node and its predecessors.
type Task struct {
	Name      string
	DependsOn []string
	Run       TaskFunc
}

// Graph is an immutable, validated DAG. Tasks keep their declaration order,
// which breaks ties when several tasks are ready at once.
type Graph struct {
	tasks    []Task
	index    map[string]int
	incoming [][]int
	outgoing [][]int
	order    []int
}

// NewGraph validates tasks and builds the graph. It rejects empty or duplicate
// names, missing run functions, unknown or duplicate dependencies, self-loops and cycles.
func NewGraph(tasks ...Task) (*Graph, error) {
	if len(tasks) == 0 {
		return nil, invalidf("no tasks")
	}

	g := &Graph{
		tasks:    make([]Task, len(tasks)),
		index:    make(map[string]int, len(tasks)),
		incoming: make([][]int, len(tasks)),
		outgoing: make([][]int, len(tasks)),
	}
	for i, t := range tasks {
		if t.Name == "" {
			return nil, invalidf("task name is required")
		}
		if _, dup := g.index[t.Name]; dup {
			return nil, invalidf("duplicate task name: %q", t.Name)
		}
		if t.Run == nil {
			return nil, invalidf("task %q has no run function", t.Name)
		}
		t.DependsOn = append([]string(nil), t.DependsOn...)
		g.tasks[i] = t
		g.index[t.Name] = i
	}

	for i, t := range g.tasks {
		seen := make(map[string]struct{}, len(t.DependsOn))
		for _, dep := range t.DependsOn {
			if dep == t.Name {
				return nil, invalidf("self-loop: %q", t.Name)
			}
			j, ok := g.index[dep]
			if !ok {
				return nil, invalidf("task %q depends on unknown task %q", t.Name, dep)
			}
			if _, dup := seen[dep]; dup {
				return nil, invalidf("task %q lists dependency %q twice", t.Name, dep)
			}
			seen[dep] = struct{}{}
			g.incoming[i] = append(g.incoming[i], j)
			g.outgoing[j] = append(g.outgoing[j], i)
		}
	}
	for i := range g.outgoing {
		sort.Ints(g.outgoing[i])
		sort.Ints(g.incoming[i])
	}

	order, ok := g.topoOrder()
	if !ok {
		return nil, cycleError(g.findCycle())
	}
	g.order = order
	return g, nil
}

// Names returns task names in topological order.
func (g *Graph) Names() []string {
	out := make([]string, len(g.order))
	for i, idx := range g.order {
		out[i] = g.tasks[idx].Name
	}
	return out
}

// Task returns the named task.
func (g *Graph) Task(name string) (Task, bool) {
	i, ok := g.index[name]
	if !ok {
		return Task{}, false
	}
	return g.tasks[i], true
}

func (g *Graph) Len() int { return len(g.tasks) }

// Descendants returns every task transitively depending on name, in topological order.
func (g *Graph) Descendants(name string) []string {
	start, ok := g.index[name]
	if !ok {
		return nil
	}
	reached := make([]bool, len(g.tasks))
	stack := append([]int(nil), g.outgoing[start]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reached[n] {
			continue
		}
		reached[n] = true
		stack = append(stack, g.outgoing[n]...)
	}
	var out []string
	for _, idx := range g.order {
		if reached[idx] {
			out = append(out, g.tasks[idx].Name)
		}
	}
	return out
}

// topoOrder is Kahn's algorithm, always picking the lowest declaration index.
func (g *Graph) topoOrder() ([]int, bool) {
	indeg := make([]int, len(g.tasks))
	for i := range g.tasks {
		indeg[i] = len(g.incoming[i])
	}
	var ready []int
	for i, d := range indeg {
		if d == 0 {
			ready = append(ready, i)
		}
	}
	out := make([]int, 0, len(g.tasks))
	for len(ready) > 0 {
		sort.Ints(ready)
		n := ready[0]
		ready = ready[1:]
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				ready = append(ready, m)
			}
		}
	}
	return out, len(out) == len(g.tasks)
}

// findCycle returns one cycle as a name path, first node repeated at the end.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(g.tasks))
	parent := make([]int, len(g.tasks))
	var cycle []string

	var visit func(int) bool
	visit = func(u int) bool {
		color[u] = gray
		for _, v := range g.outgoing[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if visit(v) {
					return true
				}
			case gray:
				path := []string{g.tasks[v].Name}
				for x := u; x != v; x = parent[x] {
					path = append(path, g.tasks[x].Name)
				}
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				cycle = append([]string{g.tasks[v].Name}, path[:len(path)-1]...)
				cycle = append(cycle, g.tasks[v].Name)
				return true
			}
		}
		color[u] = black
		return false
	}
	for i := range g.tasks {
		if color[i] == white && visit(i) {
			break
		}
	}
	return cycle
}
