package depgraph_test

import (
	"testing"

	"github.com/krakenos/kernel/api"
	"github.com/krakenos/kernel/depgraph"
)

func TestAddRejectsCycle(t *testing.T) {
	g := depgraph.New()

	if err := g.Add("A", "B"); err != nil {
		t.Fatalf("A->B: %v", err)
	}
	if err := g.Add("B", "C"); err != nil {
		t.Fatalf("B->C: %v", err)
	}
	err := g.Add("C", "A")
	if api.CodeOf(err) != api.CodeCircularDependency {
		t.Fatalf("C->A err = %v, want CircularDependency", err)
	}

	order := g.TopoOrder()
	posA, posB, posC := -1, -1, -1
	for i, n := range order {
		switch n {
		case "A":
			posA = i
		case "B":
			posB = i
		case "C":
			posC = i
		}
	}
	if posB > posA || posC > posA {
		t.Fatalf("order %v does not place B, C before A", order)
	}
}

func TestCanInitRequiresAllDependenciesInitialized(t *testing.T) {
	g := depgraph.New()
	_ = g.Add("ui", "display")

	if g.CanInit("ui") {
		t.Fatal("expected ui not ready before display initializes")
	}
	g.MarkInitialized("display")
	if !g.CanInit("ui") {
		t.Fatal("expected ui ready after display initializes")
	}
}

func TestAddSelfLoopIsRejected(t *testing.T) {
	g := depgraph.New()
	err := g.Add("A", "A")
	if api.CodeOf(err) != api.CodeCircularDependency {
		t.Fatalf("self loop err = %v, want CircularDependency", err)
	}
}
