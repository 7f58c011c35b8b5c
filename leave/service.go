/*
service.go - Administrative leave ledger operations

PURPOSE:
  The three operations exposed to the HTTP boundary, plus read helpers:
    AddLeave           credit/debit one pool for a batch of users
    ListManualLeaves   paginated listing of non-deleted entries
    DeleteManualLeave  soft-delete one entry
    Balance / History / Entry  read helpers for audit and self-service

REQUEST FLOW (AddLeave):
  1. Guard: actor must administer leave
  2. Validate the request
  3. Lock every user of the batch (sorted, in-process)
  4. Engine plans one entry per user (nothing written yet)
  5. Store.AppendBatch writes all entries or none
  6. On ErrConcurrentModification, go back to 4 (bounded retries)
  7. Release the locks
  8. Publish the change event (failures are logged, never returned)

SOFT DELETE:
  Deleting an entry does not recompute later snapshots. If an older entry
  is deleted, the entries written after it keep the balances they had.

SEE ALSO:
  - engine.go: Balance computation
  - projection.go: Listing read model
  - guard.go: Authorization
*/
package leave

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/warp/leave-ledger/ledger"
)

const (
	DefaultWriteAttempts = 3
	DefaultTopic         = "leave-ledger"
)

type Service struct {
	store     ledger.Store
	guard     *Guard
	engine    *Engine
	resolver  *ledger.Resolver
	projector *Projector
	locks     *ledger.UserLocks

	publisher Publisher
	topic     string
	logger    *slog.Logger
	now       func() time.Time
	attempts  int
}

type Option func(*Service)

func WithPublisher(p Publisher, topic string) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
		if topic != "" {
			s.topic = topic
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(gen func() ledger.EntryID) Option {
	return func(s *Service) { s.engine.NewID = gen }
}

// WithWriteAttempts bounds how often a batch is recomputed after a
// concurrent modification. Values below 1 are ignored.
func WithWriteAttempts(n int) Option {
	return func(s *Service) {
		if n >= 1 {
			s.attempts = n
		}
	}
}

// NewService wires the leave operations over a store and a user directory.
func NewService(store ledger.Store, users ledger.UserDirectory, opts ...Option) *Service {
	resolver := ledger.NewResolver(store)
	s := &Service{
		store:    store,
		guard:    NewGuard(users),
		resolver: resolver,
		engine: &Engine{
			Users:    users,
			Resolver: resolver,
			NewID:    func() ledger.EntryID { return ledger.EntryID(uuid.NewString()) },
		},
		projector: NewProjector(store),
		locks:     ledger.NewUserLocks(),
		publisher: noopPublisher{},
		topic:     DefaultTopic,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		attempts:  DefaultWriteAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// ADD LEAVE
// =============================================================================

// AddLeave credits or debits one pool for every user in the batch and
// returns the created entries in input order. Either every entry is
// persisted or none is.
func (s *Service) AddLeave(ctx context.Context, adj Adjustment) ([]ledger.Entry, error) {
	actor, err := s.guard.RequireAdmin(ctx, adj.ActorID)
	if err != nil {
		return nil, err
	}
	if err := adj.Validate(); err != nil {
		return nil, err
	}

	entries, err := s.record(ctx, actor, adj)
	if err != nil {
		return nil, err
	}

	s.logger.Info("leave batch recorded",
		"actor_id", actor.ID,
		"company_id", actor.CompanyID,
		"leave_type", adj.LeaveType,
		"users", len(entries))

	s.publish(ctx, newAdjustedEvent(actor, adj.LeaveType, entries, s.now()))
	return entries, nil
}

// record plans and appends the batch while holding the users' locks. The
// locks are released before the change event is published.
func (s *Service) record(ctx context.Context, actor *ledger.User, adj Adjustment) ([]ledger.Entry, error) {
	unlock := s.locks.Lock(adj.UserIDs)
	defer unlock()

	for attempt := 1; ; attempt++ {
		entries, err := s.engine.Plan(ctx, actor, adj, s.now())
		if err != nil {
			return nil, err
		}
		err = s.store.AppendBatch(ctx, entries)
		if err == nil {
			return entries, nil
		}
		if !ledger.IsRetryable(err) || attempt >= s.attempts {
			return nil, fmt.Errorf("failed to record leave: %w", err)
		}
		s.logger.Warn("leave batch conflicted, retrying",
			"actor_id", actor.ID, "attempt", attempt, "error", err)
	}
}

// =============================================================================
// LIST / DELETE
// =============================================================================

func (s *Service) ListManualLeaves(ctx context.Context, actorID ledger.UserID, q ledger.PageQuery) (ListResult, error) {
	if _, err := s.guard.RequireAdmin(ctx, actorID); err != nil {
		return ListResult{}, err
	}
	return s.projector.List(ctx, q)
}

// DeleteManualLeave soft-deletes an entry. Later snapshots are left as is.
func (s *Service) DeleteManualLeave(ctx context.Context, actorID ledger.UserID, id ledger.EntryID) (*ledger.Entry, error) {
	actor, err := s.guard.RequireAdmin(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, &ledger.ValidationError{Field: "id", Message: "leave id is required"}
	}

	now := s.now()
	deleted, err := s.store.SoftDelete(ctx, id, now)
	if err != nil {
		return nil, fmt.Errorf("failed to delete leave: %w", err)
	}
	if deleted == nil {
		return nil, &ledger.NotFoundError{Kind: "leave", ID: string(id)}
	}

	s.logger.Info("leave soft-deleted", "actor_id", actor.ID, "entry_id", id, "user_id", deleted.UserID)
	s.publish(ctx, DeletedEvent{
		Type:    EventLeaveDeleted,
		ActorID: string(actor.ID),
		EntryID: string(deleted.ID),
		UserID:  string(deleted.UserID),
		At:      now,
	})
	return deleted, nil
}

// =============================================================================
// READ HELPERS
// =============================================================================

// Balance returns a user's current balances. Administrators may read any
// user, other users only themselves.
func (s *Service) Balance(ctx context.Context, actorID, userID ledger.UserID) (ledger.Balances, error) {
	if _, err := s.guard.RequireSelfOrAdmin(ctx, actorID, userID); err != nil {
		return ledger.Balances{}, err
	}
	user, err := s.guard.Users.FindUser(ctx, userID)
	if err != nil {
		return ledger.Balances{}, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	if user == nil {
		return ledger.Balances{}, &ledger.NotFoundError{Kind: "user", ID: string(userID)}
	}
	balances, _, err := s.resolver.Resolve(ctx, userID)
	return balances, err
}

// History returns every entry of a user, soft-deleted ones included.
func (s *Service) History(ctx context.Context, actorID, userID ledger.UserID) ([]ledger.Entry, error) {
	if _, err := s.guard.RequireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	entries, err := s.store.History(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", userID, err)
	}
	return entries, nil
}

// Entry returns one entry, soft-deleted or not.
func (s *Service) Entry(ctx context.Context, actorID ledger.UserID, id ledger.EntryID) (*ledger.Entry, error) {
	if _, err := s.guard.RequireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load leave %s: %w", id, err)
	}
	if e == nil {
		return nil, &ledger.NotFoundError{Kind: "leave", ID: string(id)}
	}
	return e, nil
}

func (s *Service) publish(ctx context.Context, event any) {
	if err := s.publisher.Publish(ctx, s.topic, event); err != nil {
		s.logger.Error("failed to publish leave event", "topic", s.topic, "error", err)
	}
}
