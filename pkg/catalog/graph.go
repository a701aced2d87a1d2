package catalog

import (
	"sort"
)

// Graph holds dependency edges between external-reference records
type Graph struct {
	edges map[string][]string // id -> direct dependencies present in the catalog
}

// NewGraph creates an empty graph
func NewGraph() *Graph {
	return &Graph{edges: make(map[string][]string)}
}

// AddEdge records that from depends on to. Duplicate edges are ignored.
func (g *Graph) AddEdge(from, to string) {
	for _, existing := range g.edges[from] {
		if existing == to {
			return
		}
	}
	g.edges[from] = append(g.edges[from], to)
}

// Dependencies returns the direct dependencies of id
func (g *Graph) Dependencies(id string) []string {
	return append([]string(nil), g.edges[id]...)
}

// Dependents returns the ids that directly depend on id, sorted
func (g *Graph) Dependents(id string) []string {
	var dependents []string
	for from, edges := range g.edges {
		for _, to := range edges {
			if to == id {
				dependents = append(dependents, from)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents
}

// Edges returns a copy of every edge list
func (g *Graph) Edges() map[string][]string {
	out := make(map[string][]string, len(g.edges))
	for from, edges := range g.edges {
		out[from] = append([]string(nil), edges...)
	}
	return out
}

// Cycle returns one dependency cycle reachable from id, or nil. Cycles are
// legal; callers only report them.
func (g *Graph) Cycle(id string) []string {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int)

	type frame struct {
		id   string
		next int
	}
	stack := []frame{{id: id}}
	state[id] = onStack

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		edges := g.edges[top.id]
		if top.next >= len(edges) {
			state[top.id] = done
			stack = stack[:len(stack)-1]
			continue
		}
		dep := edges[top.next]
		top.next++

		switch state[dep] {
		case onStack:
			var cycle []string
			for i := len(stack) - 1; i >= 0; i-- {
				cycle = append([]string{stack[i].id}, cycle...)
				if stack[i].id == dep {
					break
				}
			}
			return append(cycle, dep)
		case unvisited:
			state[dep] = onStack
			stack = append(stack, frame{id: dep})
		}
	}
	return nil
}
