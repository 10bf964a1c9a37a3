package crdt

import (
	"reflect"
	"sort"
	"testing"
)

func sortedStrings(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func TestORSetAddObserve(t *testing.T) {
	s := NewORSet[string]()
	s.Add("alice", AddID{NodeID: "r1", Seq: 1})
	if !s.Observe("alice") {
		t.Fatal("alice should be observed after add")
	}
	if s.Observe("bob") {
		t.Fatal("bob should not be observed")
	}
}

func TestORSetRemoveOnlyTombstonesObservedAdds(t *testing.T) {
	s := NewORSet[string]()
	s.Add("alice", AddID{NodeID: "r1", Seq: 1})
	removed := s.Remove("alice")
	if len(removed) != 1 {
		t.Fatalf("Remove returned %d ids, want 1", len(removed))
	}
	if s.Observe("alice") {
		t.Fatal("alice should no longer be observed after remove")
	}
}

// A concurrent add must survive a remove it never observed.
func TestORSetConcurrentAddSurvivesRemove(t *testing.T) {
	r1 := NewORSet[string]()
	r1.Add("alice", AddID{NodeID: "r1", Seq: 1})
	r1.Add("bob", AddID{NodeID: "r1", Seq: 2})
	r1.Remove("alice")

	// r2 only ever saw the original adds, then concurrently re-adds alice
	// with a fresh add-id before ever seeing r1's remove.
	r2 := NewORSet[string]()
	r2.Add("alice", AddID{NodeID: "r1", Seq: 1})
	r2.Add("bob", AddID{NodeID: "r1", Seq: 2})
	r2.Add("alice", AddID{NodeID: "r2", Seq: 1})

	mergedA := r1.Merge(r2)
	mergedB := r2.Merge(r1)

	for _, m := range []*ORSet[string]{mergedA, mergedB} {
		if !m.Observe("alice") {
			t.Fatal("alice should survive merge due to concurrent add")
		}
		if !m.Observe("bob") {
			t.Fatal("bob should still be observed")
		}
		got := sortedStrings(m.Elements())
		want := []string{"alice", "bob"}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("Elements() = %v, want %v", got, want)
		}
	}
}

func TestORSetMergeCommutativeAssociativeIdempotent(t *testing.T) {
	a := NewORSet[string]()
	a.Add("x", AddID{"n1", 1})

	b := NewORSet[string]()
	b.Add("y", AddID{"n2", 1})
	b.Remove("y")

	c := NewORSet[string]()
	c.Add("z", AddID{"n3", 1})

	ab := a.Merge(b)
	ba := b.Merge(a)
	if !reflect.DeepEqual(sortedStrings(ab.Elements()), sortedStrings(ba.Elements())) {
		t.Fatal("merge not commutative")
	}

	abc1 := ab.Merge(c)
	bc := b.Merge(c)
	abc2 := a.Merge(bc)
	if !reflect.DeepEqual(sortedStrings(abc1.Elements()), sortedStrings(abc2.Elements())) {
		t.Fatal("merge not associative")
	}

	if !reflect.DeepEqual(sortedStrings(a.Merge(a).Elements()), sortedStrings(a.Elements())) {
		t.Fatal("merge not idempotent")
	}
}
