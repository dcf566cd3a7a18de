package bridge

import (
	"testing"

	"github.com/dotlanth/dotvm/pkg/state"
	"github.com/dotlanth/dotvm/pkg/types"
	"github.com/dotlanth/dotvm/pkg/vm/exec"
)

func TestExecAdapterSatisfiesExecBridge(t *testing.T) {
	var _ exec.Bridge = (*ExecAdapter)(nil)
}

func TestExecAdapterPutThenGet(t *testing.T) {
	store := state.NewStore(state.NewMemBackend())
	trie := state.New(store)
	b := New(trie)
	_ = b.CreateCollection(types.CollectionID("docs"))

	a := NewExecAdapter(b)
	if err := a.Put("docs", "d1", []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := a.Get("docs", "d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"ok":true}` {
		t.Fatalf("unexpected body: %s", got)
	}

	// Put again on an existing id goes through Update instead of failing.
	if err := a.Put("docs", "d1", []byte(`{"ok":false}`)); err != nil {
		t.Fatalf("put over existing: %v", err)
	}
	got, _ = a.Get("docs", "d1")
	if string(got) != `{"ok":false}` {
		t.Fatalf("expected updated body, got %s", got)
	}
}
