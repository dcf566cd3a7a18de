/*
Package types defines the shared vocabulary used across DotVM's
components: the architecture enum the bytecode engine dispatches on,
the capability/quota types the sandbox enforces, the isolation levels
the storage engine's transaction manager implements, and the id types
that thread a single dot or execution context through logs, metrics,
and the database bridge.

# Why a shared package

C1 through C6 each own their richer, package-local types (Page,
Instruction, TrieNode, Document). Cross-cutting vocabulary lives here
instead, to avoid C4 importing C2's page format just to know what an
IsolationLevel is, and to keep one canonical spelling of each enum.

# Enumeration pattern

Every enum except Priority uses typed string constants, matched to the
teacher's convention, so a bad value fails loudly in logs and JSON
instead of silently printing as a number. Priority is an ordered uint8
running from PriorityLow (0) to PriorityCritical:

	type Architecture string
	const (
	    Arch64  Architecture = "arch64"
	    Arch128 Architecture = "arch128"
	)

# Integration points

  - pkg/vm: Architecture, Capability, ResourceQuota, ContextState, Priority
  - pkg/storage: IsolationLevel, EvictionPolicyKind
  - pkg/bridge: CollectionID, DocumentID
  - pkg/sched: Priority, ContextID
*/
package types
