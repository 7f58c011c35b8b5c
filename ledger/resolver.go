package ledger

import (
	"context"
	"fmt"
)

// Resolver finds a user's current balances.
type Resolver struct {
	Store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{Store: store}
}

// Resolve returns the balances of the user's most recent non-deleted entry
// together with that entry. Both pools are zero and the entry is nil when
// the user has no entries yet.
func (r *Resolver) Resolve(ctx context.Context, userID UserID) (Balances, *Entry, error) {
	latest, err := r.Store.Latest(ctx, userID)
	if err != nil {
		return Balances{}, nil, fmt.Errorf("failed to resolve balance for %s: %w", userID, err)
	}
	if latest == nil {
		return Balances{}, nil, nil
	}
	return latest.Balances(), latest, nil
}

// CheckBasedOn verifies that next was computed from latest. Stores call it
// inside their write transaction.
func CheckBasedOn(latest *Entry, next Entry) error {
	var current EntryID
	if latest != nil {
		current = latest.ID
	}
	if current != next.BasedOn {
		return fmt.Errorf("%w: user %s latest entry is %q, entry based on %q",
			ErrConcurrentModification, next.UserID, current, next.BasedOn)
	}
	return nil
}
