package bridge

import "github.com/dotlanth/dotvm/pkg/types"

// ExecAdapter narrows a *Bridge to the plain-string
// Get/Put/Delete/Update/CreateCollection shape pkg/vm/exec.Bridge
// expects, so the handler table in
// pkg/vm/isa/database.go never needs to import pkg/types or
// pkg/bridge itself.
type ExecAdapter struct {
	b *Bridge
}

// NewExecAdapter wraps b for attaching to an exec.Context via
// Context.WithBridge.
func NewExecAdapter(b *Bridge) *ExecAdapter {
	return &ExecAdapter{b: b}
}

func (a *ExecAdapter) Get(collection, id string) ([]byte, error) {
	return a.b.Get(types.CollectionID(collection), types.DocumentID(id))
}

func (a *ExecAdapter) Put(collection, id string, doc []byte) error {
	if _, err := a.b.Get(types.CollectionID(collection), types.DocumentID(id)); err == nil {
		return a.b.Update(types.CollectionID(collection), types.DocumentID(id), doc, 0)
	}
	return a.b.Put(types.CollectionID(collection), types.DocumentID(id), doc)
}

func (a *ExecAdapter) Delete(collection, id string) error {
	return a.b.Delete(types.CollectionID(collection), types.DocumentID(id))
}

func (a *ExecAdapter) Update(collection, id string, doc []byte, expectedRevision uint64) error {
	return a.b.Update(types.CollectionID(collection), types.DocumentID(id), doc, expectedRevision)
}

func (a *ExecAdapter) CreateCollection(collection string) error {
	return a.b.CreateCollection(types.CollectionID(collection))
}
