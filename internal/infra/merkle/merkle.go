// Package merkle folds a chain's ordered event hashes into a single root.
//
// The tree pairs adjacent leaves left-to-right and digests the concatenation
// of their hex strings; when a level has an odd count the last node is
// promoted to the next level unchanged, not duplicated. The construction is
// deterministic in leaf order, so reordering records changes the root even
// though the linked-list check would also catch it.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

const leafHexLen = 64

var (
	ErrInvalidLeaf  = errors.New("invalid leaf hash")
	ErrInvalidIndex = errors.New("invalid leaf index")
)

// ProofStep is one sibling on the path from a leaf to the root. Left
// reports which side the sibling sits on. Levels where the climbing node
// was promoted contribute no step.
type ProofStep struct {
	Sibling string
	Left    bool
}

// Root computes the chain's Merkle root. An empty leaf list yields the
// empty string, which is the documented sentinel for an empty chain rather
// than an error.
func Root(leaves []string) (string, error) {
	if len(leaves) == 0 {
		return "", nil
	}
	level, err := validateLeaves(leaves)
	if err != nil {
		return "", err
	}
	for len(level) > 1 {
		level = foldLevel(level)
	}
	return level[0], nil
}

// InclusionProof returns the sibling path proving that the leaf at
// leafIndex is covered by the root over the given leaves.
func InclusionProof(leaves []string, leafIndex int) ([]ProofStep, error) {
	level, err := validateLeaves(leaves)
	if err != nil {
		return nil, err
	}
	if leafIndex < 0 || leafIndex >= len(level) {
		return nil, ErrInvalidIndex
	}
	path := make([]ProofStep, 0)
	idx := leafIndex
	for len(level) > 1 {
		if sibling, left, ok := siblingOf(level, idx); ok {
			path = append(path, ProofStep{Sibling: sibling, Left: left})
		}
		level = foldLevel(level)
		idx /= 2
	}
	return path, nil
}

// VerifyInclusion folds a leaf hash up the proof path and compares the
// result against the expected root.
func VerifyInclusion(leafHash string, path []ProofStep, expectedRoot string) (bool, error) {
	if !isHexHash(leafHash) {
		return false, ErrInvalidLeaf
	}
	hash := leafHash
	for _, step := range path {
		if !isHexHash(step.Sibling) {
			return false, ErrInvalidLeaf
		}
		if step.Left {
			hash = nodeHash(step.Sibling, hash)
		} else {
			hash = nodeHash(hash, step.Sibling)
		}
	}
	return hash == expectedRoot, nil
}

func foldLevel(level []string) []string {
	next := make([]string, 0, (len(level)+1)/2)
	for i := 0; i+1 < len(level); i += 2 {
		next = append(next, nodeHash(level[i], level[i+1]))
	}
	if len(level)%2 == 1 {
		next = append(next, level[len(level)-1])
	}
	return next
}

func siblingOf(level []string, idx int) (sibling string, left bool, ok bool) {
	if idx%2 == 1 {
		return level[idx-1], true, true
	}
	if idx+1 < len(level) {
		return level[idx+1], false, true
	}
	// last node of an odd level is promoted without a sibling
	return "", false, false
}

func nodeHash(left, right string) string {
	sum := sha256.Sum256([]byte(left + right))
	return hex.EncodeToString(sum[:])
}

func validateLeaves(leaves []string) ([]string, error) {
	out := make([]string, len(leaves))
	for i, leaf := range leaves {
		if !isHexHash(leaf) {
			return nil, fmt.Errorf("leaf %d: %w", i, ErrInvalidLeaf)
		}
		out[i] = leaf
	}
	return out, nil
}

func isHexHash(s string) bool {
	if len(s) != leafHexLen {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
