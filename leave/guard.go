package leave

import (
	"context"
	"fmt"

	"github.com/warp/leave-ledger/ledger"
)

// Guard decides whether an actor may administer leave.
type Guard struct {
	Users ledger.UserDirectory
}

func NewGuard(users ledger.UserDirectory) *Guard {
	return &Guard{Users: users}
}

// CanAdministerLeave reports whether a role may adjust, list and delete
// manual leave records. Every role except the base employee role may.
func CanAdministerLeave(role ledger.Role) bool {
	return role != "" && role != ledger.RoleEmployee
}

// RequireAdmin resolves the actor and checks CanAdministerLeave.
func (g *Guard) RequireAdmin(ctx context.Context, actorID ledger.UserID) (*ledger.User, error) {
	actor, err := g.resolve(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !CanAdministerLeave(actor.Role) {
		return nil, &ledger.AuthorizationError{
			ActorID: actorID,
			Reason:  "you are not authorized to manage leave for other users",
		}
	}
	return actor, nil
}

// RequireSelfOrAdmin allows administrators and the subject user themself.
func (g *Guard) RequireSelfOrAdmin(ctx context.Context, actorID, subject ledger.UserID) (*ledger.User, error) {
	actor, err := g.resolve(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.ID != subject && !CanAdministerLeave(actor.Role) {
		return nil, &ledger.AuthorizationError{
			ActorID: actorID,
			Reason:  "you are not authorized to view leave of other users",
		}
	}
	return actor, nil
}

// SameCompany rejects targets that belong to another company than the actor.
// Users without a company are not checked.
func SameCompany(actor, target *ledger.User) error {
	if actor.CompanyID == "" || target.CompanyID == "" || actor.CompanyID == target.CompanyID {
		return nil
	}
	return &ledger.AuthorizationError{
		ActorID: actor.ID,
		Reason:  fmt.Sprintf("user %s belongs to another company", target.ID),
	}
}

func (g *Guard) resolve(ctx context.Context, actorID ledger.UserID) (*ledger.User, error) {
	if actorID == "" {
		return nil, &ledger.AuthorizationError{Reason: "acting user is required"}
	}
	actor, err := g.Users.FindUser(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load acting user: %w", err)
	}
	if actor == nil {
		return nil, &ledger.AuthorizationError{ActorID: actorID, Reason: "admin user not found"}
	}
	return actor, nil
}
