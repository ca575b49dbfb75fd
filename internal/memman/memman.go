// Package memman defines the memory-reservation broker contract the
// scheduler depends on, plus two concrete implementations: a
// budget-accounting in-process manager and an mlock-backed manager for
// real page residency guarantees.
package memman

import "context"

// TableRef identifies one table a task's working set touches: a (db,
// table, chunk) triple.
type TableRef struct {
	DB    string
	Table string
	Chunk int64
}

// Reservation is the opaque token representing locked pages for one task's
// table set. Resident records which tables actually ended up resident;
// this only differs from the requested set when Flexible is true and the
// manager granted a partial reservation.
type Reservation struct {
	Token    string
	Resident []TableRef
	Flexible bool
}

// MemMan is the memory reservation broker. Given a set of table refs it
// atomically either acquires a non-evictable lock on their backing pages
// and returns a Reservation, or fails. In flexible mode it may succeed
// with a partial reservation instead of failing outright.
//
// Reserve must not perform I/O that can block on the network; the
// scheduler's single mutex is held across this call.
type MemMan interface {
	Reserve(ctx context.Context, tables []TableRef, flexible bool) (Reservation, error)
	Release(r Reservation)
}
