package state

import (
	"bytes"
	"fmt"

	"github.com/dotlanth/dotvm/pkg/dverr"
)

// Proof returns the encoded nodes along the path from the trie's
// current root to key, in root-to-leaf order, sufficient for Verify
// to confirm key maps to a specific value (or doesn't exist) against a
// given root hash without access to the rest of the trie.
func (t *Trie) Proof(key []byte) ([][]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var proof [][]byte
	cur := t.root
	path := keyToNibbles(key)

	for {
		node, ok, err := t.store.Get(cur)
		if err != nil {
			return nil, fmt.Errorf("state.Proof: %w", err)
		}
		if !ok || node.Kind == KindEmpty {
			return proof, nil
		}
		proof = append(proof, node.Encode())

		switch node.Kind {
		case KindLeaf:
			return proof, nil
		case KindExtension:
			if len(path) < len(node.Path) || !bytes.Equal(path[:len(node.Path)], node.Path) {
				return proof, nil
			}
			path = path[len(node.Path):]
			cur = node.Child
		case KindBranch:
			if len(path) == 0 {
				return proof, nil
			}
			cur = node.Children[path[0]]
			path = path[1:]
		}
	}
}

// Verify checks that proof is a valid path of nodes from root down to
// key, and that it resolves to value (verify a negative result by
// passing a nil value and checking the returned bool is false).
func Verify(root Hash, key, value []byte, proof [][]byte) (bool, error) {
	if len(proof) == 0 {
		return root == EmptyHash && value == nil, nil
	}

	path := keyToNibbles(key)
	expected := root

	for i, raw := range proof {
		n, err := decodeNode(raw)
		if err != nil {
			return false, dverr.Wrap(dverr.MalformedProof, "state.Verify", fmt.Errorf("decode proof node %d: %w", i, err))
		}
		if HashNode(n) != expected {
			return false, dverr.Wrap(dverr.RootMismatch, "state.Verify", fmt.Errorf("proof node %d does not match expected hash", i))
		}

		switch n.Kind {
		case KindLeaf:
			matches := bytes.Equal(n.Path, path)
			return matches && bytes.Equal(n.Value, value), nil
		case KindExtension:
			if len(path) < len(n.Path) || !bytes.Equal(path[:len(n.Path)], n.Path) {
				return false, nil
			}
			path = path[len(n.Path):]
			expected = n.Child
		case KindBranch:
			if len(path) == 0 {
				return n.HasValue && bytes.Equal(n.BranchValue, value), nil
			}
			expected = n.Children[path[0]]
			path = path[1:]
		}
	}

	// proof ended without reaching a leaf or a terminating branch
	// value: only valid as a negative proof if the expected next hash
	// is empty.
	return expected == EmptyHash && value == nil, nil
}
