package state

import "fmt"

// Diff reports the keys whose value differs between root r1 and root
// r2, walking both tries top-down and skipping any subtree whose hash
// is identical on both sides — the standard MPT diff shortcut, since
// equal hashes mean provably equal subtrees without comparing their
// contents. Where the two sides hold different node kinds (or
// extensions with different paths) at the same position, every key
// under both subtrees is reported, whether or not its value changed.
func (t *Trie) Diff(r1, r2 Hash) ([][]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var changed [][]byte
	if err := t.diff(r1, r2, nil, &changed); err != nil {
		return nil, fmt.Errorf("state: diff: %w", err)
	}
	return changed, nil
}

func (t *Trie) diff(h1, h2 Hash, prefix []byte, out *[][]byte) error {
	if h1 == h2 {
		return nil
	}

	n1, ok1, err := t.store.Get(h1)
	if err != nil {
		return err
	}
	n2, ok2, err := t.store.Get(h2)
	if err != nil {
		return err
	}

	if !ok1 && !ok2 {
		return nil
	}
	if !ok1 || !ok2 || n1.Kind != n2.Kind {
		t.collectKeys(h1, prefix, out)
		t.collectKeys(h2, prefix, out)
		return nil
	}

	switch n1.Kind {
	case KindLeaf:
		if string(n1.Path) != string(n2.Path) {
			*out = append(*out, nibblesToKey(append(append([]byte{}, prefix...), n1.Path...)))
			*out = append(*out, nibblesToKey(append(append([]byte{}, prefix...), n2.Path...)))
		} else if string(n1.Value) != string(n2.Value) {
			*out = append(*out, nibblesToKey(append(append([]byte{}, prefix...), n1.Path...)))
		}
	case KindExtension:
		if string(n1.Path) != string(n2.Path) {
			t.collectKeys(h1, prefix, out)
			t.collectKeys(h2, prefix, out)
			return nil
		}
		return t.diff(n1.Child, n2.Child, append(append([]byte{}, prefix...), n1.Path...), out)
	case KindBranch:
		if n1.HasValue != n2.HasValue || string(n1.BranchValue) != string(n2.BranchValue) {
			*out = append(*out, nibblesToKey(prefix))
		}
		for i := 0; i < 16; i++ {
			if n1.Children[i] == n2.Children[i] {
				continue
			}
			childPrefix := append(append([]byte{}, prefix...), byte(i))
			if err := t.diff(n1.Children[i], n2.Children[i], childPrefix, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// collectKeys walks the single subtree rooted at h, appending every
// key it terminates, for the case where a diff can't align the two
// sides (different node kinds) and has to fall back to enumerating
// both subtrees whole.
func (t *Trie) collectKeys(h Hash, prefix []byte, out *[][]byte) {
	node, ok, err := t.store.Get(h)
	if err != nil || !ok || node.Kind == KindEmpty {
		return
	}

	switch node.Kind {
	case KindLeaf:
		*out = append(*out, nibblesToKey(append(append([]byte{}, prefix...), node.Path...)))
	case KindExtension:
		t.collectKeys(node.Child, append(append([]byte{}, prefix...), node.Path...), out)
	case KindBranch:
		if node.HasValue {
			*out = append(*out, nibblesToKey(prefix))
		}
		for i := 0; i < 16; i++ {
			if node.Children[i] != EmptyHash {
				t.collectKeys(node.Children[i], append(append([]byte{}, prefix...), byte(i)), out)
			}
		}
	}
}

// nibblesToKey reassembles a byte key from a full-length nibble path.
// A path that doesn't end on a byte boundary indicates a malformed
// trie (every real key is an even number of nibbles) and is returned
// as-is for the caller to notice rather than silently truncated.
func nibblesToKey(nibbles []byte) []byte {
	if len(nibbles)%2 != 0 {
		return nibbles
	}
	key := make([]byte, len(nibbles)/2)
	for i := range key {
		key[i] = nibbles[i*2]<<4 | nibbles[i*2+1]
	}
	return key
}
