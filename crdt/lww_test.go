package crdt

import "testing"

func TestLWWRegisterTieBreakOnNodeID(t *testing.T) {
	r1 := NewLWWRegister("A", 5, "node1", nil)
	r2 := NewLWWRegister("B", 5, "node9", nil)

	merged := r1.Merge(r2)
	if merged.Value != "B" {
		t.Fatalf("merge = %q, want %q (node9 > node1 at equal ts)", merged.Value, "B")
	}

	mergedRev := r2.Merge(r1)
	if mergedRev.Value != merged.Value {
		t.Fatal("merge is not commutative across tie-break order")
	}
}

func TestLWWRegisterHigherTimestampWins(t *testing.T) {
	old := NewLWWRegister("old", 1, "n1", nil)
	newer := NewLWWRegister("new", 2, "n2", nil)

	if got := old.Merge(newer).Value; got != "new" {
		t.Fatalf("merge = %q, want %q", got, "new")
	}
	if got := newer.Merge(old).Value; got != "new" {
		t.Fatalf("merge = %q, want %q", got, "new")
	}
}

func TestLWWRegisterMergeCommutativeAssociativeIdempotent(t *testing.T) {
	a := NewLWWRegister(1, 10, "n1", nil)
	b := NewLWWRegister(2, 20, "n2", nil)
	c := NewLWWRegister(3, 5, "n3", nil)

	ab := a.Merge(b)
	ba := b.Merge(a)
	if ab.Value != ba.Value {
		t.Fatal("merge not commutative")
	}

	abc1 := ab.Merge(c)
	bc := b.Merge(c)
	abc2 := a.Merge(bc)
	if abc1.Value != abc2.Value {
		t.Fatal("merge not associative")
	}

	if a.Merge(a).Value != a.Value {
		t.Fatal("merge not idempotent")
	}
}
