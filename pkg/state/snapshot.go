package state

// SnapshotID identifies a frozen root hash a Prune policy can be told
// to retain.
type SnapshotID Hash

// Snapshot freezes the trie's current root, returning an id a later
// Prune call can name in PruneBy.Retained to keep this version's
// nodes alive even after the trie has moved on to newer roots.
func (t *Trie) Snapshot() SnapshotID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return SnapshotID(t.root)
}
