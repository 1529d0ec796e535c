package depgraph

import "testing"

func TestUpsert_SimpleEdge(t *testing.T) {
	g := New()
	if err := g.Upsert(Cell{ID: "c1", Position: 0, Writes: []string{"x"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.Upsert(Cell{ID: "c2", Position: 1, Reads: []string{"x"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	affected := g.AffectedOnChange("c1")
	if len(affected) != 2 || affected[0] != "c1" || affected[1] != "c2" {
		t.Fatalf("expected [c1 c2], got %v", affected)
	}
}

func TestUpsert_LastWriterWinsShadowsEarlierWriter(t *testing.T) {
	g := New()
	_ = g.Upsert(Cell{ID: "c1", Position: 0, Writes: []string{"x"}})
	_ = g.Upsert(Cell{ID: "c2", Position: 1, Writes: []string{"x"}})
	_ = g.Upsert(Cell{ID: "c3", Position: 2, Reads: []string{"x"}})

	writers := g.Writers()
	if writers["x"] != "c2" {
		t.Fatalf("expected c2 to be the current writer of x, got %v", writers["x"])
	}
	affected := g.AffectedOnChange("c2")
	if len(affected) != 2 || affected[0] != "c2" || affected[1] != "c3" {
		t.Fatalf("expected [c2 c3], got %v", affected)
	}
	affected = g.AffectedOnChange("c1")
	if len(affected) != 1 || affected[0] != "c1" {
		t.Fatalf("expected only c1 itself after being shadowed, got %v", affected)
	}
}

func TestUpsert_CycleRejectedLeavesGraphUnchanged(t *testing.T) {
	g := New()
	_ = g.Upsert(Cell{ID: "c1", Position: 0, Writes: []string{"a"}})
	_ = g.Upsert(Cell{ID: "c2", Position: 1, Reads: []string{"a"}, Writes: []string{"b"}})

	before := g.AffectedOnChange("c1")

	err := g.Upsert(Cell{ID: "c1", Position: 0, Reads: []string{"b"}, Writes: []string{"a"}})
	if err == nil {
		t.Fatalf("expected cycle error, got nil")
	}
	if _, ok := err.(*CycleError); !ok {
		t.Fatalf("expected *CycleError, got %T", err)
	}

	after := g.AffectedOnChange("c1")
	if len(before) != len(after) || before[0] != after[0] {
		t.Fatalf("graph changed after rejected cycle: before=%v after=%v", before, after)
	}
}

func TestAffectedOnRun_IncludesSelfAndTransitiveDependents(t *testing.T) {
	g := New()
	_ = g.Upsert(Cell{ID: "c1", Position: 0, Writes: []string{"a"}})
	_ = g.Upsert(Cell{ID: "c2", Position: 1, Reads: []string{"a"}, Writes: []string{"b"}})
	_ = g.Upsert(Cell{ID: "c3", Position: 2, Reads: []string{"b"}})

	run := g.AffectedOnRun("c1", nil)
	want := []string{"c1", "c2", "c3"}
	for i, id := range want {
		if run[i] != id {
			t.Fatalf("expected order %v, got %v", want, run)
		}
	}
}

func TestAffectedOnRun_IncludesStaleAncestorsNotFreshOnes(t *testing.T) {
	g := New()
	_ = g.Upsert(Cell{ID: "c1", Position: 0, Writes: []string{"x"}})
	_ = g.Upsert(Cell{ID: "c2", Position: 1, Reads: []string{"x"}, Writes: []string{"y"}})
	_ = g.Upsert(Cell{ID: "c3", Position: 2, Reads: []string{"y"}})

	hasRun := map[string]bool{"c1": true, "c2": false}
	run := g.AffectedOnRun("c3", func(id string) bool { return hasRun[id] })
	want := []string{"c2", "c3"}
	if len(run) != len(want) {
		t.Fatalf("expected %v, got %v", want, run)
	}
	for i, id := range want {
		if run[i] != id {
			t.Fatalf("expected order %v, got %v", want, run)
		}
	}
}

func TestAffectedOnRun_DiamondBothBranchesPrecedeJoin(t *testing.T) {
	g := New()
	_ = g.Upsert(Cell{ID: "a", Position: 0, Writes: []string{"x"}})
	_ = g.Upsert(Cell{ID: "b", Position: 1, Reads: []string{"x"}, Writes: []string{"y"}})
	_ = g.Upsert(Cell{ID: "c", Position: 2, Reads: []string{"x"}, Writes: []string{"z"}})
	_ = g.Upsert(Cell{ID: "d", Position: 3, Reads: []string{"y", "z"}})

	run := g.AffectedOnRun("a", nil)
	pos := make(map[string]int, len(run))
	for i, id := range run {
		pos[id] = i
	}
	if pos["d"] <= pos["b"] || pos["d"] <= pos["c"] {
		t.Fatalf("expected d last, got order %v", run)
	}
	if pos["a"] != 0 {
		t.Fatalf("expected a first, got order %v", run)
	}
}

func TestRemove_ClearsEdgesAndShadow(t *testing.T) {
	g := New()
	_ = g.Upsert(Cell{ID: "c1", Position: 0, Writes: []string{"x"}})
	_ = g.Upsert(Cell{ID: "c2", Position: 1, Reads: []string{"x"}})

	g.Remove("c1")
	if _, ok := g.Writers()["x"]; ok {
		t.Fatalf("expected writer shadow for x to be cleared")
	}
	if got := g.AffectedOnChange("c2"); len(got) != 1 || got[0] != "c2" {
		t.Fatalf("expected only c2 itself after its writer was removed, got %v", got)
	}
}

func TestUpsert_UnrelatedCellsHaveNoEdge(t *testing.T) {
	g := New()
	_ = g.Upsert(Cell{ID: "c1", Position: 0, Writes: []string{"x"}})
	_ = g.Upsert(Cell{ID: "c2", Position: 1, Writes: []string{"y"}})
	if got := g.AffectedOnChange("c1"); len(got) != 1 || got[0] != "c1" {
		t.Fatalf("expected no dependents for unrelated writer, got %v", got)
	}
}

func TestSetPosition_ChangesTieBreakOrder(t *testing.T) {
	g := New()
	_ = g.Upsert(Cell{ID: "w", Position: 0, Writes: []string{"x"}})
	_ = g.Upsert(Cell{ID: "r1", Position: 1, Reads: []string{"x"}})
	_ = g.Upsert(Cell{ID: "r2", Position: 2, Reads: []string{"x"}})

	run := g.AffectedOnRun("w", nil)
	if run[1] != "r1" || run[2] != "r2" {
		t.Fatalf("expected position order r1 then r2, got %v", run)
	}

	// Simulate the notebook reordering r2 above r1.
	g.SetPosition("r2", 1)
	g.SetPosition("r1", 2)

	run = g.AffectedOnRun("w", nil)
	if run[1] != "r2" || run[2] != "r1" {
		t.Fatalf("expected position order r2 then r1 after resync, got %v", run)
	}
}

func TestClone_IsDetached(t *testing.T) {
	g := New()
	_ = g.Upsert(Cell{ID: "c1", Position: 0, Writes: []string{"x"}})
	backup := g.Clone()

	_ = g.Upsert(Cell{ID: "c2", Position: 1, Reads: []string{"x"}})
	if backup.Contains("c2") {
		t.Fatalf("clone should not see mutations applied after it was taken")
	}
	if !backup.Contains("c1") {
		t.Fatalf("clone lost pre-existing cell")
	}
}

func TestUpsert_ShadowingOneSharedNameKeepsEdgeJustifiedByAnother(t *testing.T) {
	g := New()
	_ = g.Upsert(Cell{ID: "a", Position: 0, Writes: []string{"x", "y"}})
	_ = g.Upsert(Cell{ID: "b", Position: 1, Reads: []string{"x", "y"}})

	// c takes over x only; a stays the designated writer of y, so the
	// a->b edge must survive alongside the new c->b edge.
	_ = g.Upsert(Cell{ID: "c", Position: 2, Writes: []string{"x"}})

	affected := g.AffectedOnChange("a")
	foundB := false
	for _, id := range affected {
		if id == "b" {
			foundB = true
		}
	}
	if !foundB {
		t.Fatalf("expected b to still depend on a through y, got %v", affected)
	}

	affected = g.AffectedOnChange("c")
	foundB = false
	for _, id := range affected {
		if id == "b" {
			foundB = true
		}
	}
	if !foundB {
		t.Fatalf("expected b to depend on c through x, got %v", affected)
	}
}

func TestUpsert_ShadowingSoleSharedNameDropsOldEdge(t *testing.T) {
	g := New()
	_ = g.Upsert(Cell{ID: "a", Position: 0, Writes: []string{"x"}})
	_ = g.Upsert(Cell{ID: "b", Position: 1, Reads: []string{"x"}})
	_ = g.Upsert(Cell{ID: "c", Position: 2, Writes: []string{"x"}})

	if got := g.AffectedOnChange("a"); len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected a to lose its reader once fully shadowed, got %v", got)
	}
	if got := g.AffectedOnChange("c"); len(got) != 2 || got[1] != "b" {
		t.Fatalf("expected b to follow c, got %v", got)
	}
}
