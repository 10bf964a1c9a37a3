package mlsgroup

import "testing"

func TestRatchetTreeGrowsAndBlanks(t *testing.T) {
	tree := NewRatchetTree()
	tree.SetLeaf(0, &LeafNode{Credential: []byte("a")}, []byte("secret-a"))
	tree.SetLeaf(1, &LeafNode{Credential: []byte("b")}, []byte("secret-b"))
	tree.SetLeaf(2, &LeafNode{Credential: []byte("c")}, []byte("secret-c"))

	if got := tree.MemberCount(); got != 3 {
		t.Fatalf("MemberCount() = %d, want 3", got)
	}

	tree.BlankLeaf(1)
	if tree.Leaf(1) != nil {
		t.Fatal("blanked leaf should have no occupant")
	}
	if got := tree.MemberCount(); got != 2 {
		t.Fatalf("MemberCount() after blank = %d, want 2", got)
	}

	free := tree.FirstFreeLeaf()
	if free != 1 {
		t.Fatalf("FirstFreeLeaf() = %d, want 1 (the blanked slot)", free)
	}
}

func TestRatchetTreeUpdatePathSecretPropagatesToRoot(t *testing.T) {
	tree := NewRatchetTree()
	tree.SetLeaf(0, &LeafNode{Credential: []byte("a")}, []byte("leaf-secret"))
	tree.SetLeaf(1, &LeafNode{Credential: []byte("b")}, []byte("leaf-secret-b"))

	before := tree.RootSecret()
	err := tree.UpdatePathSecret(0, func(prev []byte) []byte {
		out := make([]byte, len(prev))
		copy(out, prev)
		out = append(out, 0xFF)
		return out
	})
	if err != nil {
		t.Fatalf("UpdatePathSecret() error = %v", err)
	}
	after := tree.RootSecret()
	if string(before) == string(after) {
		t.Fatal("root secret should change after UpdatePathSecret")
	}
}

func TestRatchetTreeUpdatePathSecretRejectsBlankLeaf(t *testing.T) {
	tree := NewRatchetTree()
	tree.SetLeaf(0, &LeafNode{}, []byte("secret"))
	tree.growTo(2)

	if err := tree.UpdatePathSecret(1, func(prev []byte) []byte { return prev }); err == nil {
		t.Fatal("UpdatePathSecret() should reject a blank leaf")
	}
}
