/*
Package ledger provides the leave ledger: entries, users, balances and the
persistence contracts the rest of the system builds on.

PURPOSE:
  Every administrative leave adjustment is recorded as one immutable Entry.
  An entry carries a snapshot of BOTH pools (PL and CompOff) as they stand
  right after it was written, so the current balance of a user is simply
  the snapshot of their most recent non-deleted entry.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry:     One ledger row (credited/debited + post-entry snapshots)
  - Balances:  Available amount in each pool
  - LeaveType: Free-form leave code; "CL" selects the comp-off pool
  - User:      Identity record used for authorization and display

DESIGN PRINCIPLES:
  1. Append-only: entries are never edited, only soft-deleted
  2. Precision: decimal.Decimal for every amount
  3. Most recent wins: resolution is by creation order, not a running counter

SEE ALSO:
  - store.go: Persistence interfaces
  - resolver.go: Current balance resolution
  - errors.go: Error taxonomy
*/
package ledger

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntryID string
type UserID string
type CompanyID string

// =============================================================================
// LEAVE TYPES AND POOLS
// =============================================================================

// LeaveType is the leave code supplied by the administrator.
// Only LeaveTypeCompOff is special; every other code adjusts the PL pool.
type LeaveType string

const (
	LeaveTypeCompOff LeaveType = "CL"
	LeaveTypePL      LeaveType = "PL"
)

// Pool identifies one of the two independent balances.
type Pool string

const (
	PoolPL      Pool = "pl"
	PoolCompOff Pool = "compoff"
)

// Pool returns the pool adjusted by this leave type.
func (t LeaveType) Pool() Pool {
	if t == LeaveTypeCompOff {
		return PoolCompOff
	}
	return PoolPL
}

// =============================================================================
// BALANCES
// =============================================================================

type Balances struct {
	PL      decimal.Decimal
	CompOff decimal.Decimal
}

// Get returns the balance of a single pool.
func (b Balances) Get(p Pool) decimal.Decimal {
	if p == PoolCompOff {
		return b.CompOff
	}
	return b.PL
}

// With returns a copy with pool p set to v. The other pool is untouched.
func (b Balances) With(p Pool, v decimal.Decimal) Balances {
	if p == PoolCompOff {
		b.CompOff = v
	} else {
		b.PL = v
	}
	return b
}

// =============================================================================
// ENTRY - Immutable ledger row
// =============================================================================

type Entry struct {
	ID        EntryID
	CompanyID CompanyID
	UserID    UserID
	LeaveType LeaveType

	Credited decimal.Decimal
	Debited  decimal.Decimal

	// Snapshot of both pools immediately after this entry.
	AvailablePL      decimal.Decimal
	AvailableCompOff decimal.Decimal

	Description string

	// BasedOn is the entry whose snapshot this one was computed from.
	// Empty for a user's first entry. Stores use it to detect lost updates.
	BasedOn EntryID

	// Seq is assigned by the store and breaks ties between equal CreatedAt.
	Seq int64

	IsDeleted bool
	DeletedAt *time.Time

	CreatedBy UserID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Balances returns the snapshot carried by the entry.
func (e Entry) Balances() Balances {
	return Balances{PL: e.AvailablePL, CompOff: e.AvailableCompOff}
}

// =============================================================================
// USERS
// =============================================================================

type Role string

const (
	RoleEmployee   Role = "EMPLOYEE"
	RoleManager    Role = "MANAGER"
	RoleHR         Role = "HR"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

type User struct {
	ID        UserID
	Role      Role
	CompanyID CompanyID
	FirstName string
	LastName  string
}

func (u User) DisplayName() string {
	return u.FirstName + " " + u.LastName
}

// =============================================================================
// READ MODEL
// =============================================================================

// Row is a non-deleted entry joined with its user's name.
type Row struct {
	Entry     Entry
	FirstName string
	LastName  string
}

// PageQuery selects one page of rows. Offset is 1-based.
type PageQuery struct {
	Offset int
	Limit  int
}

// Skip is the number of rows before the page. It saturates at math.MaxInt
// so a page far past the end stays past the end.
func (q PageQuery) Skip() int {
	if q.Offset <= 1 || q.Limit <= 0 {
		return 0
	}
	if q.Offset-1 > math.MaxInt/q.Limit {
		return math.MaxInt
	}
	return (q.Offset - 1) * q.Limit
}
