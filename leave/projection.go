package leave

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/ledger"
)

const (
	DefaultPageLimit  = 10
	DefaultPageOffset = 1
)

// ManualLeave is the listing view of one ledger entry.
type ManualLeave struct {
	ID       ledger.EntryID
	UserID   ledger.UserID
	Name     string
	Credited decimal.Decimal
	Debited  decimal.Decimal

	// PreviousLeaves and TotalLeaves are derived from the PL snapshot even
	// for comp-off entries.
	PreviousLeaves decimal.Decimal
	TotalLeaves    decimal.Decimal

	UpdatedAt time.Time
}

type ListResult struct {
	Records    []ManualLeave
	TotalCount int
	PageSize   int
}

// Projector builds the manual leave listing from the store's joined rows.
type Projector struct {
	Store ledger.Store
}

func NewProjector(store ledger.Store) *Projector {
	return &Projector{Store: store}
}

func (p *Projector) List(ctx context.Context, q ledger.PageQuery) (ListResult, error) {
	if q.Offset < 1 {
		return ListResult{}, &ledger.ValidationError{Field: "offset", Message: "offset must be at least 1"}
	}
	if q.Limit < 1 {
		return ListResult{}, &ledger.ValidationError{Field: "limit", Message: "limit must be at least 1"}
	}

	rows, total, err := p.Store.Page(ctx, q)
	if err != nil {
		return ListResult{}, fmt.Errorf("failed to list manual leaves: %w", err)
	}

	records := make([]ManualLeave, 0, len(rows))
	for _, r := range rows {
		records = append(records, Project(r))
	}
	return ListResult{Records: records, TotalCount: total, PageSize: q.Limit}, nil
}

// Project derives the display fields of one row.
func Project(r ledger.Row) ManualLeave {
	previous := r.Entry.AvailablePL.Sub(r.Entry.Credited)
	return ManualLeave{
		ID:             r.Entry.ID,
		UserID:         r.Entry.UserID,
		Name:           r.FirstName + " " + r.LastName,
		Credited:       r.Entry.Credited,
		Debited:        r.Entry.Debited,
		PreviousLeaves: previous,
		TotalLeaves:    previous.Add(r.Entry.Credited),
		UpdatedAt:      r.Entry.UpdatedAt,
	}
}
