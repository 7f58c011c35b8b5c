/*
store.go - Persistence interfaces for ledger entries and users

PURPOSE:
  Defines the boundary between the leave logic and the database.
  Different implementations use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  Store:         Ledger entry persistence (append batch, latest, page, soft delete)
  UserDirectory: Identity lookups used for authorization and display

APPEND-ONLY CONTRACT:
  - AppendBatch() is the only way to create entries
  - SoftDelete() is the only mutation; it flips IsDeleted and stamps DeletedAt
  - There is no hard delete

ATOMIC BATCHES:
  AppendBatch() is all-or-nothing. A batch adjusting five users writes five
  entries or none.

LOST UPDATE DETECTION:
  Every entry names the entry it was computed from (BasedOn). Inside the
  write transaction the store checks that BasedOn is still the user's latest
  non-deleted entry (earlier entries of the same batch included) and fails
  with ErrConcurrentModification otherwise.

IMPLEMENTATIONS:
  - ledger/store/memory.go:    In-memory for tests and dev
  - store/sqlite/sqlite.go:    SQLite (default)
  - store/postgres/postgres.go: PostgreSQL via pgx

SEE ALSO:
  - resolver.go: Uses Latest()
  - leave/service.go: Uses the full interface
*/
package ledger

import (
	"context"
	"time"
)

// Store handles persistence of ledger entries.
type Store interface {
	// AppendBatch persists entries atomically, assigning Seq.
	// Returns ErrConcurrentModification if any BasedOn is stale.
	AppendBatch(ctx context.Context, entries []Entry) error

	// Latest returns the most recent non-deleted entry for a user
	// (CreatedAt desc, Seq desc), or nil if there is none.
	Latest(ctx context.Context, userID UserID) (*Entry, error)

	// Get returns an entry by ID, deleted or not, or nil if missing.
	Get(ctx context.Context, id EntryID) (*Entry, error)

	// History returns every entry of a user, deleted ones included, newest first.
	History(ctx context.Context, userID UserID) ([]Entry, error)

	// SoftDelete marks a non-deleted entry as deleted at the given time and
	// returns it. Returns nil if no non-deleted entry has that ID.
	SoftDelete(ctx context.Context, id EntryID, at time.Time) (*Entry, error)

	// Page returns non-deleted entries joined with their users, ordered by
	// UpdatedAt desc, and the total number of such rows.
	Page(ctx context.Context, q PageQuery) ([]Row, int, error)
}

// UserDirectory resolves users.
type UserDirectory interface {
	// FindUser returns the user or nil if missing.
	FindUser(ctx context.Context, id UserID) (*User, error)
}

// UserStore is a UserDirectory that can also persist users.
type UserStore interface {
	UserDirectory
	SaveUser(ctx context.Context, u User) error
}
