package tree

import "testing"

func TestTreeMathFourLeaves(t *testing.T) {
	const numLeaves = 4

	if got := root(numLeaves); got != 3 {
		t.Fatalf("root(4) = %d, want 3", got)
	}

	if got := leafToNode(0); got != 0 {
		t.Fatalf("leafToNode(0) = %d, want 0", got)
	}
	if got := leafToNode(3); got != 6 {
		t.Fatalf("leafToNode(3) = %d, want 6", got)
	}
	if got := nodeToLeaf(6); got != 3 {
		t.Fatalf("nodeToLeaf(6) = %d, want 3", got)
	}

	p, err := parent(0, numLeaves)
	if err != nil || p != 1 {
		t.Fatalf("parent(0) = (%d, %v), want (1, nil)", p, err)
	}
	p, err = parent(2, numLeaves)
	if err != nil || p != 1 {
		t.Fatalf("parent(2) = (%d, %v), want (1, nil)", p, err)
	}
	p, err = parent(4, numLeaves)
	if err != nil || p != 5 {
		t.Fatalf("parent(4) = (%d, %v), want (5, nil)", p, err)
	}

	if _, err := parent(3, numLeaves); err == nil {
		t.Fatal("expected an error taking the parent of the root")
	}

	s, err := sibling(0, numLeaves)
	if err != nil || s != 2 {
		t.Fatalf("sibling(0) = (%d, %v), want (2, nil)", s, err)
	}
	s, err = sibling(2, numLeaves)
	if err != nil || s != 0 {
		t.Fatalf("sibling(2) = (%d, %v), want (0, nil)", s, err)
	}

	dp, err := directPath(0, numLeaves)
	if err != nil {
		t.Fatalf("directPath(0): %v", err)
	}
	if len(dp) != 2 || dp[0] != 1 || dp[1] != 3 {
		t.Fatalf("directPath(0) = %v, want [1 3]", dp)
	}

	cp, err := coPath(0, numLeaves)
	if err != nil {
		t.Fatalf("coPath(0): %v", err)
	}
	if len(cp) != 2 || cp[0] != 2 || cp[1] != 5 {
		t.Fatalf("coPath(0) = %v, want [2 5]", cp)
	}
}

func TestTreeMathIsLeafIndex(t *testing.T) {
	if !isLeafIndex(0) || !isLeafIndex(2) || !isLeafIndex(4) {
		t.Fatal("expected even indices to be leaves")
	}
	if isLeafIndex(1) || isLeafIndex(3) {
		t.Fatal("expected odd indices to be parents")
	}
}

func TestTreeMathSingleLeafHasNoParent(t *testing.T) {
	if _, err := parent(0, 1); err == nil {
		t.Fatal("expected the sole leaf of a one-leaf tree to have no parent")
	}
}
