/*
store.go - Path-addressed key-value store contract

PURPOSE:
  Defines the interface between the reception ledger and the hierarchical
  key-value store that holds bookings, activities, financials and loans.
  The store is an external service; this package only fixes the contract.

KEY INTERFACE:
  Store: Get / Set / Update / Remove on slash-separated paths

ATOMICITY CONTRACT:
  Update() is the ONLY atomic unit. A single Update over several paths is
  applied all-or-nothing. Nothing spans two calls: an orchestration that
  issues two calls can be observed half-applied, and callers must be
  written so that a retry converges (idempotent merges, refolds).

DELETION:
  Writing a nil value (Set or an Update entry) removes the node. Empty
  maps are never stored: a node whose children all disappear disappears
  with them, the same way the hosted realtime database behaves.

AMOUNTS:
  Importing this package sets decimal.MarshalJSONWithoutQuotes for the
  whole process (value.go). Every decimal.Decimal marshaled by the binary,
  in store writes and HTTP responses alike, is a JSON number. Other readers
  of the hosted database do arithmetic on amounts and expect numbers.
  Decoding accepts both numbers and quoted strings.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory tree for tests and demos
  - store/sqlite/sqlite.go: Local durable store (also hosts the offline journal)
  - store/rtdb/rtdb.go:     Firebase Realtime Database

SEE ALSO:
  - path.go: Path helpers and multi-path validation
  - errors.go: Sentinel errors returned by implementations
*/
package ledger

import "context"

// =============================================================================
// STORE - Hierarchical key-value store
// =============================================================================

// Store is a path-addressed hierarchical key-value store.
type Store interface {
	// Get decodes the node at path into dest. Returns false when the node
	// does not exist; dest is left untouched in that case.
	Get(ctx context.Context, path string, dest any) (bool, error)

	// Set replaces the node at path. A nil value removes it.
	Set(ctx context.Context, path string, value any) error

	// Update applies every write atomically. Paths are relative to the root
	// and must not overlap (no path may be an ancestor of another).
	Update(ctx context.Context, writes Writes) error

	// Remove deletes the node at path and everything below it.
	Remove(ctx context.Context, path string) error
}

// Writes is a multi-path update: path -> value. A nil value deletes.
type Writes map[string]any

// Put adds a write and returns the receiver for chaining.
func (w Writes) Put(path string, value any) Writes {
	w[path] = value
	return w
}

// Delete adds a removal.
func (w Writes) Delete(path string) Writes {
	w[path] = nil
	return w
}
