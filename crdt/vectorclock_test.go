package crdt

import "testing"

func TestVectorClockIncAndGet(t *testing.T) {
	vc := NewVectorClock()
	vc.Inc("a")
	vc.Inc("a")
	if got := vc.Get("a"); got != 2 {
		t.Fatalf("Get(a) = %d, want 2", got)
	}
	if got := vc.Get("b"); got != 0 {
		t.Fatalf("Get(b) = %d, want 0", got)
	}
}

func TestVectorClockMergeIsPointwiseMaxAndNonMutating(t *testing.T) {
	a := NewVectorClock()
	a.Inc("x")
	a.Inc("x")

	b := NewVectorClock()
	b.Inc("x")
	b.Inc("y")

	merged := a.Merge(b)
	if merged.Get("x") != 2 || merged.Get("y") != 1 {
		t.Fatalf("merge = %v, want x=2 y=1", merged.Snapshot())
	}
	if a.Get("y") != 0 {
		t.Fatal("Merge mutated its receiver")
	}
	if b.Get("x") != 1 {
		t.Fatal("Merge mutated its argument")
	}
}

func TestVectorClockMergeCommutativeAssociativeIdempotent(t *testing.T) {
	a := NewVectorClock()
	a.Inc("n1")
	b := NewVectorClock()
	b.Inc("n2")
	b.Inc("n2")
	c := NewVectorClock()
	c.Inc("n3")

	ab := a.Merge(b)
	ba := b.Merge(a)
	if !ab.Equal(ba) {
		t.Fatal("merge not commutative")
	}

	abc1 := ab.Merge(c)
	bc := b.Merge(c)
	abc2 := a.Merge(bc)
	if !abc1.Equal(abc2) {
		t.Fatal("merge not associative")
	}

	if !a.Merge(a).Equal(a) {
		t.Fatal("merge not idempotent")
	}
}

func TestVectorClockHappenedBeforeAndConcurrent(t *testing.T) {
	a := NewVectorClock()
	a.Inc("n1")

	b := a.Clone()
	b.Inc("n1")

	if !a.HappenedBefore(b) {
		t.Fatal("a should happen before b")
	}
	if b.HappenedBefore(a) {
		t.Fatal("b should not happen before a")
	}

	c := NewVectorClock()
	c.Inc("n2")
	if !a.Concurrent(c) {
		t.Fatal("a and c should be concurrent")
	}
	if a.HappenedBefore(c) || c.HappenedBefore(a) {
		t.Fatal("concurrent clocks must not satisfy happened-before either way")
	}
}

func TestVectorClockEqualIndependentOfInsertionOrder(t *testing.T) {
	a := NewVectorClock()
	a.Inc("n1")
	a.Inc("n2")

	b := NewVectorClock()
	b.Inc("n2")
	b.Inc("n1")

	if !a.Equal(b) {
		t.Fatal("clocks built in different insertion orders should be equal")
	}
}
