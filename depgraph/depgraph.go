// File: depgraph/depgraph.go
// Package depgraph implements the service dependency graph (component C5):
// directed edges service -> depends_on, cycle detection on insertion, and
// topological ordering on demand.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package depgraph

import (
	"sort"
	"strings"
	"sync"

	"github.com/krakenos/kernel/api"
)

// Graph stores directed "depends on" edges between service names.
type Graph struct {
	mu          sync.Mutex
	nodes       map[string]struct{}
	edges       map[string][]string // service -> list of depends_on
	initialized map[string]bool
	order       []string // insertion order, for stable iteration
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		nodes:       make(map[string]struct{}),
		edges:       make(map[string][]string),
		initialized: make(map[string]bool),
	}
}

func (g *Graph) ensureNode(name string) {
	if _, ok := g.nodes[name]; !ok {
		g.nodes[name] = struct{}{}
		g.order = append(g.order, name)
	}
}

// Add inserts the edge service -> dependsOn. If the edge would close a
// cycle it is rejected with api.CodeCircularDependency and the graph is
// left exactly as it was before the call.
func (g *Graph) Add(service, dependsOn string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	prevOrder := len(g.order)
	g.ensureNode(service)
	g.ensureNode(dependsOn)
	g.edges[service] = append(g.edges[service], dependsOn)

	if g.hasCycleFrom(service) {
		// Roll back: the edge we just appended is always the last entry
		// for `service`, and any node this call created is dropped again.
		list := g.edges[service]
		g.edges[service] = list[:len(list)-1]
		for _, n := range g.order[prevOrder:] {
			delete(g.nodes, n)
			delete(g.edges, n)
		}
		g.order = g.order[:prevOrder]
		return api.NewFault(api.CodeCircularDependency, "dependency edge would close a cycle").
			WithContext("service", service).
			WithContext("depends_on", dependsOn)
	}
	return nil
}

func (g *Graph) hasCycleFrom(start string) bool {
	onStack := make(map[string]bool)
	visited := make(map[string]bool)
	var visit func(n string) bool
	visit = func(n string) bool {
		if onStack[n] {
			return true
		}
		if visited[n] {
			return false
		}
		visited[n] = true
		onStack[n] = true
		for _, dep := range g.edges[n] {
			if visit(dep) {
				return true
			}
		}
		onStack[n] = false
		return false
	}
	return visit(start)
}

// TopoOrder returns a DFS post-order traversal over all nodes, listing
// dependencies before dependents. Iteration over roots is in a stable,
// deterministic (lexicographic) order so repeated calls are reproducible.
func (g *Graph) TopoOrder() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	roots := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		roots = append(roots, n)
	}
	sort.Strings(roots)

	visited := make(map[string]bool)
	var out []string
	var visit func(n string)
	visit = func(n string) {
		if visited[n] {
			return
		}
		visited[n] = true
		deps := append([]string(nil), g.edges[n]...)
		sort.Strings(deps)
		for _, dep := range deps {
			visit(dep)
		}
		out = append(out, n)
	}
	for _, n := range roots {
		visit(n)
	}
	return out
}

// CanInit reports whether every dependency declared for name has already
// been marked initialized via MarkInitialized.
func (g *Graph) CanInit(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, dep := range g.edges[name] {
		if !g.initialized[dep] {
			return false
		}
	}
	return true
}

// MarkInitialized records that name has completed its own init step.
func (g *Graph) MarkInitialized(name string) {
	g.mu.Lock()
	g.initialized[name] = true
	g.mu.Unlock()
}

// Dump renders the graph as a human-readable edge list for operator logs.
// The kernel core owns no logging backend, so callers log the returned
// string themselves.
func (g *Graph) Dump() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var b strings.Builder
	for _, n := range g.order {
		deps := g.edges[n]
		if len(deps) == 0 {
			b.WriteString(n)
			b.WriteString(" (no dependencies)\n")
			continue
		}
		b.WriteString(n)
		b.WriteString(" -> ")
		b.WriteString(strings.Join(deps, ", "))
		b.WriteByte('\n')
	}
	return b.String()
}
