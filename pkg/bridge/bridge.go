// Package bridge implements C6, the database bridge: a document-
// collection CRUD facade over the authenticated state trie (C3), and
// the narrow exec.Bridge the database opcode family (C4) calls into
// at runtime.
package bridge

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/dotlanth/dotvm/pkg/dverr"
	"github.com/dotlanth/dotvm/pkg/state"
	"github.com/dotlanth/dotvm/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Document is one stored record: its raw JSON body plus the revision
// it was last written at, used by Update to detect a conflicting
// concurrent write.
type Document struct {
	ID       types.DocumentID
	Body     []byte
	Revision uint64
}

// Bridge is the concrete C6 facade. It is safe for concurrent use.
type Bridge struct {
	mu          sync.RWMutex
	trie        *state.Trie
	collections map[types.CollectionID]struct{}
}

// New builds a Bridge backed by trie. The caller owns trie's lifetime
// (opened/closed alongside the storage engine it reads through).
func New(trie *state.Trie) *Bridge {
	return &Bridge{
		trie:        trie,
		collections: make(map[types.CollectionID]struct{}),
	}
}

func docKey(coll types.CollectionID, id types.DocumentID) []byte {
	return []byte(fmt.Sprintf("doc/%s/%s", coll, id))
}

func revisionKey(coll types.CollectionID, id types.DocumentID) []byte {
	return []byte(fmt.Sprintf("rev/%s/%s", coll, id))
}

func indexKey(coll types.CollectionID) []byte {
	return []byte(fmt.Sprintf("idx/%s", coll))
}

// CreateCollection registers coll. Creating an already-existing
// collection is a no-op, matching the teacher's idempotent-create
// convention for its entity stores.
func (b *Bridge) CreateCollection(coll types.CollectionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.collections[coll] = struct{}{}
	if _, ok, _ := b.trie.Get(indexKey(coll)); ok {
		return nil
	}
	return b.trie.Put(indexKey(coll), []byte("[]"))
}

// DropCollection removes coll and every document id it knows about.
// The MPT nodes for individual documents are left for Trie.Prune to
// reclaim on its next sweep rather than deleted eagerly here, since
// Delete does not collapse branches (see pkg/state/trie.go) and a
// bulk drop would otherwise pay that cost document by document.
func (b *Bridge) DropCollection(coll types.CollectionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.collections[coll]; !ok {
		return dverr.New(dverr.CollectionNotFound, "bridge.DropCollection")
	}
	ids, err := b.listLocked(coll)
	if err != nil {
		return err
	}
	for _, id := range ids {
		_ = b.trie.Delete(docKey(coll, id))
		_ = b.trie.Delete(revisionKey(coll, id))
	}
	delete(b.collections, coll)
	return b.trie.Delete(indexKey(coll))
}

// Put inserts a new document, failing if id already exists so callers
// cannot silently clobber a document through the wrong method — use
// Update for that.
func (b *Bridge) Put(coll types.CollectionID, id types.DocumentID, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.requireCollectionLocked(coll); err != nil {
		return err
	}
	if !json.Valid(body) {
		return dverr.Wrap(dverr.ValidationFailed, "bridge.Put", fmt.Errorf("document body is not valid JSON"))
	}
	if _, ok, _ := b.trie.Get(docKey(coll, id)); ok {
		return dverr.Wrap(dverr.ValidationFailed, "bridge.Put", fmt.Errorf("document %s/%s already exists", coll, id))
	}
	if err := b.trie.Put(docKey(coll, id), body); err != nil {
		return err
	}
	if err := b.trie.Put(revisionKey(coll, id), encodeRevision(1)); err != nil {
		return err
	}
	return b.addToIndexLocked(coll, id)
}

// Get fetches a document's raw body.
func (b *Bridge) Get(coll types.CollectionID, id types.DocumentID) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.requireCollectionLocked(coll); err != nil {
		return nil, err
	}
	body, ok, err := b.trie.Get(docKey(coll, id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dverr.New(dverr.DocumentNotFound, "bridge.Get")
	}
	return body, nil
}

// Update replaces an existing document's body, failing with
// ConflictingUpdate if expectedRevision does not match the document's
// current revision. Passing expectedRevision 0 skips the check.
func (b *Bridge) Update(coll types.CollectionID, id types.DocumentID, body []byte, expectedRevision uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.requireCollectionLocked(coll); err != nil {
		return err
	}
	if !json.Valid(body) {
		return dverr.Wrap(dverr.ValidationFailed, "bridge.Update", fmt.Errorf("document body is not valid JSON"))
	}
	revBytes, ok, err := b.trie.Get(revisionKey(coll, id))
	if err != nil {
		return err
	}
	if !ok {
		return dverr.New(dverr.DocumentNotFound, "bridge.Update")
	}
	current := decodeRevision(revBytes)
	if expectedRevision != 0 && expectedRevision != current {
		return dverr.Wrap(dverr.ConflictingUpdate, "bridge.Update",
			fmt.Errorf("document %s/%s is at revision %d, expected %d", coll, id, current, expectedRevision))
	}
	if err := b.trie.Put(docKey(coll, id), body); err != nil {
		return err
	}
	return b.trie.Put(revisionKey(coll, id), encodeRevision(current+1))
}

// Delete removes a document. Deleting an id that does not exist
// reports DocumentNotFound rather than succeeding silently, since a
// guest dot relying on delete-then-recreate semantics needs to
// distinguish "already gone" from "just removed".
func (b *Bridge) Delete(coll types.CollectionID, id types.DocumentID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.requireCollectionLocked(coll); err != nil {
		return err
	}
	if _, ok, _ := b.trie.Get(docKey(coll, id)); !ok {
		return dverr.New(dverr.DocumentNotFound, "bridge.Delete")
	}
	if err := b.trie.Delete(docKey(coll, id)); err != nil {
		return err
	}
	if err := b.trie.Delete(revisionKey(coll, id)); err != nil {
		return err
	}
	return b.removeFromIndexLocked(coll, id)
}

func (b *Bridge) addToIndexLocked(coll types.CollectionID, id types.DocumentID) error {
	ids, err := b.listLocked(coll)
	if err != nil {
		return err
	}
	ids = append(ids, id)
	return b.putIndexLocked(coll, ids)
}

func (b *Bridge) removeFromIndexLocked(coll types.CollectionID, id types.DocumentID) error {
	ids, err := b.listLocked(coll)
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, existing := range ids {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	return b.putIndexLocked(coll, kept)
}

func (b *Bridge) putIndexLocked(coll types.CollectionID, ids []types.DocumentID) error {
	raw, err := json.Marshal(ids)
	if err != nil {
		return dverr.Wrap(dverr.ValidationFailed, "bridge.putIndex", err)
	}
	return b.trie.Put(indexKey(coll), raw)
}

// List returns every document id registered in coll.
func (b *Bridge) List(coll types.CollectionID) ([]types.DocumentID, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.listLocked(coll)
}

func (b *Bridge) listLocked(coll types.CollectionID) ([]types.DocumentID, error) {
	if err := b.requireCollectionLocked(coll); err != nil {
		return nil, err
	}
	raw, ok, err := b.trie.Get(indexKey(coll))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var ids []types.DocumentID
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &ids); err != nil {
			return nil, dverr.Wrap(dverr.ValidationFailed, "bridge.listLocked", err)
		}
	}
	return ids, nil
}

// Search performs a naive scan over List, keeping a document when
// field's JSON value, rendered as a string, contains substr. The
// query planner and any indexing beyond this is explicitly out of
// scope (see DESIGN.md); this exists to make the CRUD surface usable
// for simple lookups without one.
func (b *Bridge) Search(coll types.CollectionID, field, substr string) ([]Document, error) {
	ids, err := b.List(coll)
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []Document
	for _, id := range ids {
		body, err := b.Get(coll, id)
		if err != nil {
			continue
		}
		var decoded map[string]interface{}
		if err := json.Unmarshal(body, &decoded); err != nil {
			continue
		}
		val, ok := decoded[field]
		if !ok {
			continue
		}
		if strings.Contains(fmt.Sprintf("%v", val), substr) {
			out = append(out, Document{ID: id, Body: body})
		}
	}
	return out, nil
}

func (b *Bridge) requireCollectionLocked(coll types.CollectionID) error {
	if _, ok := b.collections[coll]; !ok {
		return dverr.New(dverr.CollectionNotFound, "bridge.requireCollection")
	}
	return nil
}

func encodeRevision(n uint64) []byte {
	return []byte(fmt.Sprintf("%d", n))
}

func decodeRevision(raw []byte) uint64 {
	var n uint64
	fmt.Sscanf(string(raw), "%d", &n)
	return n
}
