package state

import "fmt"

// PruneBy configures a Prune sweep. Retained roots (and the trie's own
// current root) are never reclaimed; Age and Depth are accepted for
// forward compatibility with a NodeStore that tracks node age or
// creation depth, but the in-memory and engine-backed stores in this
// package don't keep that bookkeeping today, so both are currently
// no-ops — only Retained is enforced.
type PruneBy struct {
	Age      int
	Depth    int
	Retained []SnapshotID
}

// Prune reclaims every node unreachable from the trie's current root
// or any retained snapshot, returning how many nodes were removed.
func (t *Trie) Prune(policy PruneBy) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tracker, ok := t.store.(trackingStore)
	if !ok {
		return 0, fmt.Errorf("state: prune: node store does not support enumeration")
	}

	live := make(map[Hash]struct{})
	t.markReachable(t.root, live)
	for _, snap := range policy.Retained {
		t.markReachable(Hash(snap), live)
	}

	removed := 0
	for _, h := range tracker.knownHashes() {
		if _, ok := live[h]; ok {
			continue
		}
		if err := t.store.Delete(h); err != nil {
			return removed, fmt.Errorf("state: prune: %w", err)
		}
		removed++
	}
	return removed, nil
}

func (t *Trie) markReachable(h Hash, live map[Hash]struct{}) {
	if h == EmptyHash {
		return
	}
	if _, seen := live[h]; seen {
		return
	}
	live[h] = struct{}{}

	node, ok, err := t.store.Get(h)
	if err != nil || !ok {
		return
	}

	switch node.Kind {
	case KindExtension:
		t.markReachable(node.Child, live)
	case KindBranch:
		for _, c := range node.Children {
			t.markReachable(c, live)
		}
	}
}
