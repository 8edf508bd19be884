package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
)

func leaf(i int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("leaf-%d", i)))
	return hex.EncodeToString(sum[:])
}

func leaves(n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, leaf(i))
	}
	return out
}

func TestRootEmptyChain(t *testing.T) {
	root, err := Root(nil)
	if err != nil {
		t.Fatalf("empty chain: %v", err)
	}
	if root != "" {
		t.Fatalf("empty chain root = %q, want empty string", root)
	}
}

func TestRootSingleLeaf(t *testing.T) {
	root, err := Root([]string{leaf(0)})
	if err != nil {
		t.Fatalf("single leaf: %v", err)
	}
	if root != leaf(0) {
		t.Fatalf("single leaf root = %q, want the leaf itself", root)
	}
}

func TestRootPairsAdjacentAndPromotesOdd(t *testing.T) {
	// Three leaves: level 1 is [H(l0+l1), l2], root is H(H(l0+l1)+l2).
	ls := leaves(3)
	wantLevel1 := nodeHash(ls[0], ls[1])
	want := nodeHash(wantLevel1, ls[2])

	root, err := Root(ls)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if root != want {
		t.Fatalf("root = %q, want %q", root, want)
	}
}

func TestRootFiveLeaves(t *testing.T) {
	ls := leaves(5)
	l1a := nodeHash(ls[0], ls[1])
	l1b := nodeHash(ls[2], ls[3])
	l2a := nodeHash(l1a, l1b)
	want := nodeHash(l2a, ls[4])

	root, err := Root(ls)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if root != want {
		t.Fatalf("root = %q, want %q", root, want)
	}
}

func TestRootDeterministicAndOrderSensitive(t *testing.T) {
	ls := leaves(6)
	a, err := Root(ls)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	b, err := Root(ls)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if a != b {
		t.Fatalf("root not deterministic: %q vs %q", a, b)
	}

	swapped := leaves(6)
	swapped[0], swapped[1] = swapped[1], swapped[0]
	c, err := Root(swapped)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if a == c {
		t.Fatal("reordering leaves did not change the root")
	}
}

func TestRootChangesOnAppend(t *testing.T) {
	before, err := Root(leaves(4))
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	after, err := Root(leaves(5))
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if before == after {
		t.Fatal("appending a leaf did not change the root")
	}
}

func TestRootRejectsMalformedLeaf(t *testing.T) {
	if _, err := Root([]string{"zz"}); !errors.Is(err, ErrInvalidLeaf) {
		t.Fatalf("short leaf: got %v, want ErrInvalidLeaf", err)
	}
	bad := leaves(2)
	bad[1] = bad[1][:63] + "G"
	if _, err := Root(bad); !errors.Is(err, ErrInvalidLeaf) {
		t.Fatalf("non-hex leaf: got %v, want ErrInvalidLeaf", err)
	}
}

func TestInclusionProofVerifiesEveryLeaf(t *testing.T) {
	for size := 1; size <= 9; size++ {
		ls := leaves(size)
		root, err := Root(ls)
		if err != nil {
			t.Fatalf("size %d: root: %v", size, err)
		}
		for i := 0; i < size; i++ {
			path, err := InclusionProof(ls, i)
			if err != nil {
				t.Fatalf("size %d leaf %d: proof: %v", size, i, err)
			}
			ok, err := VerifyInclusion(ls[i], path, root)
			if err != nil {
				t.Fatalf("size %d leaf %d: verify: %v", size, i, err)
			}
			if !ok {
				t.Fatalf("size %d leaf %d: proof did not verify", size, i)
			}
		}
	}
}

func TestInclusionProofRejectsWrongLeaf(t *testing.T) {
	ls := leaves(5)
	root, err := Root(ls)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	path, err := InclusionProof(ls, 2)
	if err != nil {
		t.Fatalf("proof: %v", err)
	}
	ok, err := VerifyInclusion(leaf(99), path, root)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatal("proof verified for a leaf outside the tree")
	}
}

func TestInclusionProofRejectsBadIndex(t *testing.T) {
	ls := leaves(3)
	if _, err := InclusionProof(ls, -1); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("negative index: got %v, want ErrInvalidIndex", err)
	}
	if _, err := InclusionProof(ls, 3); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("out-of-range index: got %v, want ErrInvalidIndex", err)
	}
}
