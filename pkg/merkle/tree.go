// Package merkle builds Merkle trees over an entity's canonical triple
// lines. The root is embedded in each proof next to the flat content hash,
// which lets a verifier check membership of a single triple without the
// whole subgraph.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

const (
	leafPrefix = "certkernel:triple:v1"
	nodePrefix = "certkernel:node:v1"
)

// Leaf is one hashed triple line.
type Leaf struct {
	Line string
	Hash string
}

// Tree is a Merkle tree over sorted triple lines. Levels[0] holds the leaf
// hashes; the last level holds only the root.
type Tree struct {
	Leaves []Leaf
	Levels [][]string
	Root   string
}

// Build constructs a tree from triple lines. Lines are sorted and
// deduplicated first so the root only depends on the triple set. An empty
// set yields an empty root.
func Build(lines []string) *Tree {
	sorted := append([]string(nil), lines...)
	sort.Strings(sorted)
	sorted = dedup(sorted)

	if len(sorted) == 0 {
		return &Tree{}
	}

	leaves := make([]Leaf, len(sorted))
	level := make([]string, len(sorted))
	for i, line := range sorted {
		h := hashLeaf(line)
		leaves[i] = Leaf{Line: line, Hash: h}
		level[i] = h
	}

	tree := &Tree{Leaves: leaves}
	tree.Levels = append(tree.Levels, level)
	for len(level) > 1 {
		level = nextLevel(level)
		tree.Levels = append(tree.Levels, level)
	}
	tree.Root = level[0]
	return tree
}

// Proof is the sibling path for one leaf.
type Proof struct {
	Line     string
	Siblings []ProofStep
}

// ProofStep is one sibling hash and its side.
type ProofStep struct {
	Hash string
	Left bool
}

// Prove returns the inclusion proof for a triple line, or false if the line
// is not a leaf.
func (t *Tree) Prove(line string) (Proof, bool) {
	idx := -1
	for i, l := range t.Leaves {
		if l.Line == line {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Proof{}, false
	}

	proof := Proof{Line: line}
	for _, level := range t.Levels[:len(t.Levels)-1] {
		sibling := idx ^ 1
		if sibling >= len(level) {
			// Odd level: the last node pairs with itself.
			sibling = idx
		}
		proof.Siblings = append(proof.Siblings, ProofStep{Hash: level[sibling], Left: sibling < idx})
		idx /= 2
	}
	return proof, true
}

// Verify checks an inclusion proof against a root.
func Verify(proof Proof, root string) bool {
	h := hashLeaf(proof.Line)
	for _, step := range proof.Siblings {
		if step.Left {
			h = hashNode(step.Hash, h)
		} else {
			h = hashNode(h, step.Hash)
		}
	}
	return h == root
}

func nextLevel(hashes []string) []string {
	count := len(hashes)
	if count%2 != 0 {
		hashes = append(hashes, hashes[count-1])
		count++
	}
	next := make([]string, count/2)
	for i := 0; i < count; i += 2 {
		next[i/2] = hashNode(hashes[i], hashes[i+1])
	}
	return next
}

func hashLeaf(line string) string {
	var buf bytes.Buffer
	buf.WriteString(leafPrefix)
	buf.WriteByte(0)
	buf.WriteString(line)
	return sha256Hex(buf.Bytes())
}

func hashNode(left, right string) string {
	var buf bytes.Buffer
	buf.WriteString(nodePrefix)
	buf.WriteByte(0)
	buf.Write(hexToBytes(left))
	buf.Write(hexToBytes(right))
	return sha256Hex(buf.Bytes())
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func hexToBytes(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}

func dedup(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
