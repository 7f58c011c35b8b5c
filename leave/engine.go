/*
engine.go - Credit/debit computation for manual leave adjustments

PURPOSE:
  Turns one administrative adjustment request into one new ledger entry per
  user. Nothing is written here: the engine resolves and computes the whole
  batch, and the service persists it in a single AppendBatch.

RULES:
  - "CL" adjusts the comp-off pool, every other leave type adjusts PL
  - new = current + credit - debit, the other pool is carried forward
  - a debit larger than the current pool balance is rejected
  - the entry's company is always the actor's company

DUPLICATE USERS:
  A user listed twice in one batch is adjusted twice, the second entry built
  on the first.

SEE ALSO:
  - service.go: Authorization, locking, persistence and retries
  - ledger/resolver.go: Balance resolution
*/
package leave

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/ledger"
)

// Adjustment is a batch credit/debit request.
type Adjustment struct {
	ActorID     ledger.UserID
	UserIDs     []ledger.UserID
	LeaveType   ledger.LeaveType
	Credit      *decimal.Decimal
	Debit       *decimal.Decimal
	Description string
}

// Validate checks the request shape. The order of checks matches the order
// in which problems are reported to the caller.
func (a Adjustment) Validate() error {
	if len(a.UserIDs) == 0 {
		return &ledger.ValidationError{Field: "user_ids", Message: "users array is required and cannot be empty"}
	}
	for _, id := range a.UserIDs {
		if strings.TrimSpace(string(id)) == "" {
			return &ledger.ValidationError{Field: "user_ids", Message: "user ids cannot be blank"}
		}
	}
	if strings.TrimSpace(string(a.LeaveType)) == "" {
		return &ledger.ValidationError{Field: "leave_type", Message: "leave type is required"}
	}
	if a.Credit != nil && !a.Credit.IsPositive() {
		return &ledger.ValidationError{Field: "credit", Message: "credit must be a positive number"}
	}
	if a.Debit != nil && !a.Debit.IsPositive() {
		return &ledger.ValidationError{Field: "debit", Message: "debit must be a positive number"}
	}
	if strings.TrimSpace(a.Description) == "" {
		return &ledger.ValidationError{Field: "description", Message: "description is required"}
	}
	return nil
}

func (a Adjustment) credit() decimal.Decimal {
	if a.Credit == nil {
		return decimal.Zero
	}
	return *a.Credit
}

func (a Adjustment) debit() decimal.Decimal {
	if a.Debit == nil {
		return decimal.Zero
	}
	return *a.Debit
}

// Apply computes the balances after adjusting the pool selected by leaveType.
func Apply(user ledger.User, current ledger.Balances, leaveType ledger.LeaveType, credit, debit decimal.Decimal) (ledger.Balances, error) {
	pool := leaveType.Pool()
	available := current.Get(pool)
	if debit.GreaterThan(available) {
		return ledger.Balances{}, &ledger.InsufficientBalanceError{
			UserID:    user.ID,
			Name:      user.DisplayName(),
			Pool:      pool,
			Available: available,
			Requested: debit,
		}
	}
	return current.With(pool, available.Add(credit).Sub(debit)), nil
}

// =============================================================================
// ENGINE - Batch planning
// =============================================================================

type Engine struct {
	Users    ledger.UserDirectory
	Resolver *ledger.Resolver
	NewID    func() ledger.EntryID
}

// Plan resolves and computes the entries for a validated adjustment made by
// actor at time now. Entries are returned in input order.
func (e *Engine) Plan(ctx context.Context, actor *ledger.User, adj Adjustment, now time.Time) ([]ledger.Entry, error) {
	credit, debit := adj.credit(), adj.debit()

	// Entries already planned in this batch, per user
	planned := make(map[ledger.UserID]ledger.Entry)
	entries := make([]ledger.Entry, 0, len(adj.UserIDs))

	for _, userID := range adj.UserIDs {
		user, err := e.Users.FindUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
		}
		if user == nil {
			return nil, &ledger.NotFoundError{Kind: "user", ID: string(userID)}
		}
		if err := SameCompany(actor, user); err != nil {
			return nil, err
		}

		var (
			current ledger.Balances
			basedOn ledger.EntryID
			at      = now
		)
		if prev, ok := planned[userID]; ok {
			current, basedOn = prev.Balances(), prev.ID
			if prev.CreatedAt.After(at) {
				at = prev.CreatedAt
			}
		} else {
			balances, latest, err := e.Resolver.Resolve(ctx, userID)
			if err != nil {
				return nil, err
			}
			current = balances
			if latest != nil {
				basedOn = latest.ID
				// Never sort before the entry we build on, even if another
				// writer's clock ran ahead of ours.
				if latest.CreatedAt.After(at) {
					at = latest.CreatedAt
				}
			}
		}

		next, err := Apply(*user, current, adj.LeaveType, credit, debit)
		if err != nil {
			return nil, err
		}

		entry := ledger.Entry{
			ID:               e.NewID(),
			CompanyID:        actor.CompanyID,
			UserID:           userID,
			LeaveType:        adj.LeaveType,
			Credited:         credit,
			Debited:          debit,
			AvailablePL:      next.PL,
			AvailableCompOff: next.CompOff,
			Description:      strings.TrimSpace(adj.Description),
			BasedOn:          basedOn,
			CreatedBy:        actor.ID,
			CreatedAt:        at,
			UpdatedAt:        at,
		}
		planned[userID] = entry
		entries = append(entries, entry)
	}
	return entries, nil
}
