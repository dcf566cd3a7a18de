package isa

import (
	"fmt"

	"github.com/dotlanth/dotvm/pkg/types"
	"github.com/dotlanth/dotvm/pkg/vm/arch"
	"github.com/dotlanth/dotvm/pkg/vm/exec"
	"github.com/dotlanth/dotvm/pkg/vm/module"
)

// RegisterDatabaseOps installs DBGet/DBPut/DBDelete/DBUpdate/
// DBCreateCollection, each routed through the context's attached
// exec.Bridge (C6). Collection and document identifiers are read as
// constant-pool string operands: the first operand indexes the
// collection name, the second (where present) the document id.
// Document payloads travel through the attached exec.MemoryManager
// (C1) as a (pointer, length) pair on the stack rather than a single
// capped arch.Word, so a document's size is bounded only by the
// memory manager, not by one machine word.
func RegisterDatabaseOps(table *exec.HandlerTable) {
	table[OpDBGet] = dbGet
	table[OpDBPut] = dbPut
	table[OpDBDelete] = dbDelete
	table[OpDBUpdate] = dbUpdate
	table[OpDBCreateCollection] = dbCreateCollection
}

// readDoc reads n bytes starting at ptr out of the context's attached
// memory, the inverse of writeDoc.
func readDoc(c *exec.Context, ptr, n uint64) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	if c.Memory == nil {
		return nil, fmt.Errorf("no memory manager attached to context")
	}
	doc := make([]byte, n)
	for i := uint64(0); i < n; i++ {
		b, err := c.Memory.Load(ptr + i)
		if err != nil {
			return nil, fmt.Errorf("read document byte %d: %w", i, err)
		}
		doc[i] = b
	}
	c.RecordMemoryAccess(ptr + n - 1)
	return doc, nil
}

// writeDoc allocates len(doc) bytes of context memory, copies doc
// into it, and returns the base address — the inverse of readDoc.
func writeDoc(c *exec.Context, doc []byte) (uint64, error) {
	if len(doc) == 0 {
		return 0, nil
	}
	if c.Memory == nil {
		return 0, fmt.Errorf("no memory manager attached to context")
	}
	ptr, err := c.Memory.Allocate(uint64(len(doc)))
	if err != nil {
		return 0, fmt.Errorf("allocate document buffer: %w", err)
	}
	for i, b := range doc {
		if err := c.Memory.Store(ptr+uint64(i), b); err != nil {
			return 0, fmt.Errorf("write document byte %d: %w", i, err)
		}
	}
	c.RecordMemoryAccess(ptr + uint64(len(doc)) - 1)
	return ptr, nil
}

func constString(c *exec.Context, idx uint64) (string, error) {
	if idx >= uint64(len(c.Module.Constants)) {
		return "", fmt.Errorf("constant index %d out of range", idx)
	}
	k := c.Module.Constants[idx]
	if k.Kind != module.ConstString {
		return "", fmt.Errorf("constant index %d is not a string", idx)
	}
	return string(k.Bytes), nil
}

func dbGet(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	if err := c.Check(types.CapStorageRead); err != nil {
		return exec.SignalContinue, fmt.Errorf("db_get: %w", err)
	}
	if c.Bridge == nil {
		return exec.SignalContinue, fmt.Errorf("db_get: no bridge attached to context")
	}
	if len(instr.Operands) < 2 {
		return exec.SignalContinue, fmt.Errorf("db_get: requires collection and id operands")
	}

	collection, err := constString(c, instr.Operands[0])
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("db_get: %w", err)
	}
	id, err := constString(c, instr.Operands[1])
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("db_get: %w", err)
	}

	doc, err := c.Bridge.Get(collection, id)
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("db_get: %w", err)
	}
	c.RecordStorageRead()

	ptr, err := writeDoc(c, doc)
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("db_get: %w", err)
	}

	// Pushed ptr-then-len so a pop sequence of (len, ptr) matches every
	// other pair-popping handler's "last pushed, first popped" order.
	if err := c.Stack.Push(arch.FromUint64(ptr)); err != nil {
		return exec.SignalContinue, fmt.Errorf("db_get: %w", err)
	}
	if err := c.Stack.Push(arch.FromUint64(uint64(len(doc)))); err != nil {
		return exec.SignalContinue, fmt.Errorf("db_get: %w", err)
	}
	return exec.SignalContinue, nil
}

func dbPut(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	if err := c.Check(types.CapStorageWrite); err != nil {
		return exec.SignalContinue, fmt.Errorf("db_put: %w", err)
	}
	if c.Bridge == nil {
		return exec.SignalContinue, fmt.Errorf("db_put: no bridge attached to context")
	}
	if len(instr.Operands) < 2 {
		return exec.SignalContinue, fmt.Errorf("db_put: requires collection and id operands")
	}

	collection, err := constString(c, instr.Operands[0])
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("db_put: %w", err)
	}
	id, err := constString(c, instr.Operands[1])
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("db_put: %w", err)
	}

	lenWord, err := c.Stack.Pop()
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("db_put: %w", err)
	}
	ptrWord, err := c.Stack.Pop()
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("db_put: %w", err)
	}

	doc, err := readDoc(c, ptrWord.Uint64(), lenWord.Uint64())
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("db_put: %w", err)
	}

	if err := c.Bridge.Put(collection, id, doc); err != nil {
		return exec.SignalContinue, fmt.Errorf("db_put: %w", err)
	}
	c.RecordStorageWrite()
	return exec.SignalContinue, nil
}

func dbDelete(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	if err := c.Check(types.CapStorageWrite); err != nil {
		return exec.SignalContinue, fmt.Errorf("db_delete: %w", err)
	}
	if c.Bridge == nil {
		return exec.SignalContinue, fmt.Errorf("db_delete: no bridge attached to context")
	}
	if len(instr.Operands) < 2 {
		return exec.SignalContinue, fmt.Errorf("db_delete: requires collection and id operands")
	}

	collection, err := constString(c, instr.Operands[0])
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("db_delete: %w", err)
	}
	id, err := constString(c, instr.Operands[1])
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("db_delete: %w", err)
	}

	if err := c.Bridge.Delete(collection, id); err != nil {
		return exec.SignalContinue, fmt.Errorf("db_delete: %w", err)
	}
	c.RecordStorageWrite()
	return exec.SignalContinue, nil
}

// dbUpdate replaces an existing document, carrying an explicit
// expected-revision check for optimistic concurrency control — unlike
// DBPut's unconditional upsert, a mismatched revision surfaces
// ConflictingUpdate instead of silently overwriting a concurrent
// writer's change.
func dbUpdate(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	if err := c.Check(types.CapStorageWrite); err != nil {
		return exec.SignalContinue, fmt.Errorf("db_update: %w", err)
	}
	if c.Bridge == nil {
		return exec.SignalContinue, fmt.Errorf("db_update: no bridge attached to context")
	}
	if len(instr.Operands) < 2 {
		return exec.SignalContinue, fmt.Errorf("db_update: requires collection and id operands")
	}

	collection, err := constString(c, instr.Operands[0])
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("db_update: %w", err)
	}
	id, err := constString(c, instr.Operands[1])
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("db_update: %w", err)
	}

	revWord, err := c.Stack.Pop()
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("db_update: %w", err)
	}
	lenWord, err := c.Stack.Pop()
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("db_update: %w", err)
	}
	ptrWord, err := c.Stack.Pop()
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("db_update: %w", err)
	}

	doc, err := readDoc(c, ptrWord.Uint64(), lenWord.Uint64())
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("db_update: %w", err)
	}

	if err := c.Bridge.Update(collection, id, doc, revWord.Uint64()); err != nil {
		return exec.SignalContinue, fmt.Errorf("db_update: %w", err)
	}
	c.RecordStorageWrite()
	return exec.SignalContinue, nil
}

// dbCreateCollection registers a collection so DBPut/DBUpdate can
// target it. Creating an already-existing collection is a no-op,
// matching bridge.Bridge.CreateCollection's idempotent semantics.
func dbCreateCollection(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	if err := c.Check(types.CapStorageWrite); err != nil {
		return exec.SignalContinue, fmt.Errorf("db_create_collection: %w", err)
	}
	if c.Bridge == nil {
		return exec.SignalContinue, fmt.Errorf("db_create_collection: no bridge attached to context")
	}
	if len(instr.Operands) < 1 {
		return exec.SignalContinue, fmt.Errorf("db_create_collection: requires collection operand")
	}

	collection, err := constString(c, instr.Operands[0])
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("db_create_collection: %w", err)
	}

	if err := c.Bridge.CreateCollection(collection); err != nil {
		return exec.SignalContinue, fmt.Errorf("db_create_collection: %w", err)
	}
	c.RecordStorageWrite()
	return exec.SignalContinue, nil
}
