package engine

import "context"

// Store is the abstract engine store contract. Every method is atomic; no
// multi-record transaction is ever required of an implementation.
type Store interface {
	// Insert writes a brand-new record. Returns apierr with CodeConflictState
	// if the id already exists (should not happen given id generation, but
	// the contract allows a store to detect it).
	Insert(ctx context.Context, rec Record) error

	// Get loads a record by id. Returns an apierr with CodeNotFound if absent.
	Get(ctx context.Context, id string) (Record, error)

	// List enumerates every record's id.
	List(ctx context.Context) ([]string, error)

	// CASState performs the conditional write state: expected -> next.
	// Returns an apierr with CodeConflictState(observed) on mismatch, or
	// CodeNotFound if the id does not exist.
	CASState(ctx context.Context, id string, expected, next State) error

	// DeleteIfState removes the record iff its current state is a member of
	// expectedSet. Returns CodeConflictState(observed) if not, CodeNotFound
	// if the id does not exist.
	DeleteIfState(ctx context.Context, id string, expectedSet []State) error

	// ScanByStates returns every record whose state is a member of states.
	ScanByStates(ctx context.Context, states []State) ([]Record, error)
}
