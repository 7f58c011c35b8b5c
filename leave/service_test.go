package leave_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-ledger/leave"
	"github.com/warp/leave-ledger/ledger"
	"github.com/warp/leave-ledger/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	svc   *leave.Service
	store *store.Memory
	clock *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

// Now advances one second per call so every write has a distinct time.
func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func seedUsers(t *testing.T, users ledger.UserStore) {
	ctx := context.Background()
	for _, u := range []ledger.User{
		{ID: "admin", Role: ledger.RoleAdmin, CompanyID: "acme", FirstName: "Ada", LastName: "Admin"},
		{ID: "hr", Role: ledger.RoleHR, CompanyID: "acme", FirstName: "Hal", LastName: "Resources"},
		{ID: "eve", Role: ledger.RoleEmployee, CompanyID: "acme", FirstName: "Eve", LastName: "Employee"},
		{ID: "alice", Role: ledger.RoleEmployee, CompanyID: "acme", FirstName: "Alice", LastName: "Smith"},
		{ID: "bob", Role: ledger.RoleEmployee, CompanyID: "acme", FirstName: "Bob", LastName: "Jones"},
		{ID: "olga", Role: ledger.RoleEmployee, CompanyID: "globex", FirstName: "Olga", LastName: "Other"},
	} {
		require.NoError(t, users.SaveUser(ctx, u))
	}
}

func newFixture(t *testing.T, opts ...leave.Option) *fixture {
	t.Helper()
	mem := store.NewMemory()
	seedUsers(t, mem)

	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	var n int
	var idMu sync.Mutex
	base := []leave.Option{
		leave.WithClock(clock.Now),
		leave.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		leave.WithIDGenerator(func() ledger.EntryID {
			idMu.Lock()
			defer idMu.Unlock()
			n++
			return ledger.EntryID(fmt.Sprintf("e-%d", n))
		}),
	}
	svc := leave.NewService(mem, mem, append(base, opts...)...)
	return &fixture{svc: svc, store: mem, clock: clock}
}

func (f *fixture) add(t *testing.T, leaveType ledger.LeaveType, credit, debit float64, users ...ledger.UserID) []ledger.Entry {
	t.Helper()
	adj := leave.Adjustment{
		ActorID:     "admin",
		UserIDs:     users,
		LeaveType:   leaveType,
		Description: "manual adjustment",
	}
	if credit > 0 {
		adj.Credit = dp(credit)
	}
	if debit > 0 {
		adj.Debit = dp(debit)
	}
	entries, err := f.svc.AddLeave(context.Background(), adj)
	require.NoError(t, err)
	return entries
}

func (f *fixture) balance(t *testing.T, user ledger.UserID) ledger.Balances {
	t.Helper()
	b, err := f.svc.Balance(context.Background(), "admin", user)
	require.NoError(t, err)
	return b
}

func assertDecimal(t *testing.T, want float64, got interface{ String() string }) {
	t.Helper()
	assert.Equal(t, d(want).String(), got.String())
}

// =============================================================================
// ADD LEAVE
// =============================================================================

func TestAddLeave_PLCreditFromZero(t *testing.T) {
	f := newFixture(t)

	entries := f.add(t, "PL", 100, 0, "alice")

	require.Len(t, entries, 1)
	e := entries[0]
	assertDecimal(t, 100, e.AvailablePL)
	assertDecimal(t, 0, e.AvailableCompOff)
	assertDecimal(t, 100, e.Credited)
	assertDecimal(t, 0, e.Debited)
	assert.Equal(t, ledger.CompanyID("acme"), e.CompanyID)
	assert.Equal(t, ledger.UserID("admin"), e.CreatedBy)
	assert.Empty(t, e.BasedOn)
	assert.False(t, e.IsDeleted)
}

func TestAddLeave_CompOffCreditCarriesPLForward(t *testing.T) {
	// GIVEN: Alice's only entry has PL 20, CompOff 3
	f := newFixture(t)
	ctx := context.Background()
	prior := ledger.Entry{
		ID: "seed", UserID: "alice", CompanyID: "acme", LeaveType: "PL",
		Credited: d(20), AvailablePL: d(20), AvailableCompOff: d(3),
		Description: "opening balance",
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.store.AppendBatch(ctx, []ledger.Entry{prior}))

	// WHEN: Crediting 5 comp-off days
	entries := f.add(t, "CL", 5, 0, "alice")

	// THEN: CompOff grows, PL is carried forward
	assertDecimal(t, 8, entries[0].AvailableCompOff)
	assertDecimal(t, 20, entries[0].AvailablePL)
	assert.Equal(t, ledger.EntryID("seed"), entries[0].BasedOn)
}

func TestAddLeave_InsufficientBalanceWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "PL", 2, 0, "alice")

	_, err := f.svc.AddLeave(ctx, leave.Adjustment{
		ActorID: "admin", UserIDs: []ledger.UserID{"alice"},
		LeaveType: "PL", Debit: dp(3), Description: "too much",
	})

	var balErr *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &balErr)
	assert.Equal(t, ledger.UserID("alice"), balErr.UserID)
	assertDecimal(t, 2, balErr.Available)
	assertDecimal(t, 3, balErr.Requested)

	history, err := f.svc.History(ctx, "admin", "alice")
	require.NoError(t, err)
	assert.Len(t, history, 1, "failed debit must not add an entry")
	assertDecimal(t, 2, f.balance(t, "alice").PL)
}

func TestAddLeave_BatchFailureWritesNothingForAnyUser(t *testing.T) {
	// GIVEN: Alice has 10 PL, Bob has none
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "PL", 10, 0, "alice")

	// WHEN: Debiting 5 PL from both, Bob second
	_, err := f.svc.AddLeave(ctx, leave.Adjustment{
		ActorID: "admin", UserIDs: []ledger.UserID{"alice", "bob"},
		LeaveType: "PL", Debit: dp(5), Description: "team day",
	})

	// THEN: The batch fails and neither user got an entry
	var balErr *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &balErr)
	assert.Equal(t, ledger.UserID("bob"), balErr.UserID)

	aliceHistory, err := f.svc.History(ctx, "admin", "alice")
	require.NoError(t, err)
	assert.Len(t, aliceHistory, 1)
	bobHistory, err := f.svc.History(ctx, "admin", "bob")
	require.NoError(t, err)
	assert.Empty(t, bobHistory)
	assertDecimal(t, 10, f.balance(t, "alice").PL)
}

func TestAddLeave_EntriesInInputOrder(t *testing.T) {
	f := newFixture(t)

	entries := f.add(t, "PL", 1, 0, "bob", "alice")

	require.Len(t, entries, 2)
	assert.Equal(t, ledger.UserID("bob"), entries[0].UserID)
	assert.Equal(t, ledger.UserID("alice"), entries[1].UserID)
}

func TestAddLeave_DuplicateUserBuildsOnEarlierEntry(t *testing.T) {
	f := newFixture(t)

	entries := f.add(t, "CL", 2, 0, "alice", "alice")

	require.Len(t, entries, 2)
	assertDecimal(t, 2, entries[0].AvailableCompOff)
	assertDecimal(t, 4, entries[1].AvailableCompOff)
	assert.Equal(t, entries[0].ID, entries[1].BasedOn)
	assertDecimal(t, 4, f.balance(t, "alice").CompOff)
}

func TestAddLeave_ResolvedBalanceEqualsCreditsMinusDebits(t *testing.T) {
	f := newFixture(t)
	ops := []struct {
		credit, debit float64
	}{
		{5, 0}, {0, 2}, {1.5, 0}, {0, 0.5}, {10, 4}, {0, 3},
	}

	want := d(0)
	for _, op := range ops {
		f.add(t, "PL", op.credit, op.debit, "alice")
		want = want.Add(d(op.credit)).Sub(d(op.debit))
	}

	got := f.balance(t, "alice")
	assert.True(t, want.Equal(got.PL), "want %s got %s", want, got.PL)
	assertDecimal(t, 0, got.CompOff)
}

func TestAddLeave_PoolsAreIndependent(t *testing.T) {
	f := newFixture(t)
	f.add(t, "PL", 12, 0, "alice")
	f.add(t, "CL", 2, 0, "alice")
	f.add(t, "EL", 0, 5, "alice") // any non-CL type debits PL

	b := f.balance(t, "alice")
	assertDecimal(t, 7, b.PL)
	assertDecimal(t, 2, b.CompOff)
}

func TestAddLeave_UnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AddLeave(context.Background(), leave.Adjustment{
		ActorID: "admin", UserIDs: []ledger.UserID{"alice", "ghost"},
		LeaveType: "PL", Credit: dp(1), Description: "x",
	})

	var nf *ledger.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "ghost", nf.ID)
	assert.True(t, ledger.IsNotFound(err))

	history, err := f.svc.History(context.Background(), "admin", "alice")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAddLeave_UserOfAnotherCompanyRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AddLeave(context.Background(), leave.Adjustment{
		ActorID: "admin", UserIDs: []ledger.UserID{"olga"},
		LeaveType: "PL", Credit: dp(1), Description: "x",
	})

	assert.True(t, ledger.IsUnauthorized(err))
}

func TestAddLeave_ValidationRunsAfterAuthorization(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AddLeave(context.Background(), leave.Adjustment{ActorID: "eve"})
	assert.True(t, ledger.IsUnauthorized(err))

	_, err = f.svc.AddLeave(context.Background(), leave.Adjustment{ActorID: "admin"})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// AUTHORIZATION
// =============================================================================

func TestNonAdministrativeActorsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry := f.add(t, "PL", 1, 0, "alice")[0]

	for _, actor := range []ledger.UserID{"eve", "ghost", ""} {
		t.Run(string(actor), func(t *testing.T) {
			_, err := f.svc.AddLeave(ctx, leave.Adjustment{
				ActorID: actor, UserIDs: []ledger.UserID{"alice"},
				LeaveType: "PL", Credit: dp(1), Description: "x",
			})
			var authErr *ledger.AuthorizationError
			assert.ErrorAs(t, err, &authErr)

			_, err = f.svc.ListManualLeaves(ctx, actor, ledger.PageQuery{Offset: 1, Limit: 10})
			assert.True(t, ledger.IsUnauthorized(err))

			_, err = f.svc.DeleteManualLeave(ctx, actor, entry.ID)
			assert.True(t, ledger.IsUnauthorized(err))
		})
	}

	got, err := f.svc.Entry(ctx, "admin", entry.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDeleted)
}

func TestBalance_SelfOrAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "PL", 3, 0, "alice")

	b, err := f.svc.Balance(ctx, "alice", "alice")
	require.NoError(t, err)
	assertDecimal(t, 3, b.PL)

	_, err = f.svc.Balance(ctx, "bob", "alice")
	assert.True(t, ledger.IsUnauthorized(err))

	_, err = f.svc.Balance(ctx, "hr", "ghost")
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
}

// =============================================================================
// LIST MANUAL LEAVES
// =============================================================================

func TestListManualLeaves_PaginatesNewestFirst(t *testing.T) {
	// GIVEN: 12 entries, one of them soft-deleted
	f := newFixture(t)
	ctx := context.Background()
	var all []ledger.Entry
	for i := 0; i < 12; i++ {
		user := ledger.UserID("alice")
		if i%2 == 1 {
			user = "bob"
		}
		all = append(all, f.add(t, "PL", 1, 0, user)...)
	}
	_, err := f.svc.DeleteManualLeave(ctx, "admin", all[3].ID)
	require.NoError(t, err)

	// WHEN: Reading the first page of 10
	page, err := f.svc.ListManualLeaves(ctx, "admin", ledger.PageQuery{Offset: 1, Limit: 10})
	require.NoError(t, err)

	// THEN: 10 records, newest update first, total counts all 11 live entries
	require.Len(t, page.Records, 10)
	assert.Equal(t, 11, page.TotalCount)
	assert.Equal(t, 10, page.PageSize)
	assert.Equal(t, all[11].ID, page.Records[0].ID)
	for i := 1; i < len(page.Records); i++ {
		assert.False(t, page.Records[i].UpdatedAt.After(page.Records[i-1].UpdatedAt))
	}
	for _, r := range page.Records {
		assert.NotEqual(t, all[3].ID, r.ID)
	}

	second, err := f.svc.ListManualLeaves(ctx, "admin", ledger.PageQuery{Offset: 2, Limit: 10})
	require.NoError(t, err)
	require.Len(t, second.Records, 1)
	assert.Equal(t, all[0].ID, second.Records[0].ID)
	assert.Equal(t, 11, second.TotalCount)

	beyond, err := f.svc.ListManualLeaves(ctx, "admin", ledger.PageQuery{Offset: 5, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, beyond.Records)
	assert.Equal(t, 11, beyond.TotalCount)
}

func TestListManualLeaves_Empty(t *testing.T) {
	f := newFixture(t)

	page, err := f.svc.ListManualLeaves(context.Background(), "admin", ledger.PageQuery{Offset: 1, Limit: 10})

	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.Zero(t, page.TotalCount)
}

func TestListManualLeaves_HugePageValues(t *testing.T) {
	// GIVEN: Two live entries
	f := newFixture(t)
	f.add(t, "PL", 1, 0, "alice", "bob")
	ctx := context.Background()

	// WHEN: The offset is so large that the row skip overflows
	page, err := f.svc.ListManualLeaves(ctx, "admin", ledger.PageQuery{Offset: math.MaxInt, Limit: 2})

	// THEN: Past the last page, with the real total
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.Equal(t, 2, page.TotalCount)

	// AND: A huge limit returns everything from the first page
	page, err = f.svc.ListManualLeaves(ctx, "admin", ledger.PageQuery{Offset: 1, Limit: math.MaxInt})
	require.NoError(t, err)
	assert.Len(t, page.Records, 2)
}

func TestListManualLeaves_RejectsBadPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ListManualLeaves(ctx, "admin", ledger.PageQuery{Offset: 0, Limit: 10})
	assert.ErrorIs(t, err, ledger.ErrValidation)
	_, err = f.svc.ListManualLeaves(ctx, "admin", ledger.PageQuery{Offset: 1, Limit: 0})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestListManualLeaves_DisplayFieldsUsePLEvenForCompOff(t *testing.T) {
	// Previous/total leaves are derived from the PL snapshot for every leave
	// type. A comp-off credit therefore shows PL minus the comp-off credit.
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "PL", 20, 0, "alice")
	f.add(t, "CL", 5, 0, "alice")

	page, err := f.svc.ListManualLeaves(ctx, "admin", ledger.PageQuery{Offset: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)

	cl := page.Records[0]
	assert.Equal(t, "Alice Smith", cl.Name)
	assertDecimal(t, 5, cl.Credited)
	assertDecimal(t, 15, cl.PreviousLeaves)
	assertDecimal(t, 20, cl.TotalLeaves)

	pl := page.Records[1]
	assertDecimal(t, 0, pl.PreviousLeaves)
	assertDecimal(t, 20, pl.TotalLeaves)
}

// =============================================================================
// SOFT DELETE
// =============================================================================

func TestDeleteManualLeave_HidesEntryButKeepsAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "PL", 10, 0, "alice")
	latest := f.add(t, "PL", 5, 0, "alice")[0]

	deleted, err := f.svc.DeleteManualLeave(ctx, "hr", latest.ID)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)
	require.NotNil(t, deleted.DeletedAt)

	// Resolver falls back to the previous entry
	assertDecimal(t, 10, f.balance(t, "alice").PL)

	page, err := f.svc.ListManualLeaves(ctx, "admin", ledger.PageQuery{Offset: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalCount)

	audit, err := f.svc.Entry(ctx, "admin", latest.ID)
	require.NoError(t, err)
	assert.True(t, audit.IsDeleted)
	assertDecimal(t, 15, audit.AvailablePL)
}

func TestDeleteManualLeave_DoesNotRecomputeLaterSnapshots(t *testing.T) {
	// Snapshots are authoritative at write time: deleting an older entry
	// leaves the newer snapshot (which still includes it) in place.
	f := newFixture(t)
	ctx := context.Background()
	first := f.add(t, "PL", 10, 0, "alice")[0]
	f.add(t, "PL", 5, 0, "alice")

	_, err := f.svc.DeleteManualLeave(ctx, "admin", first.ID)
	require.NoError(t, err)

	assertDecimal(t, 15, f.balance(t, "alice").PL)
}

func TestDeleteManualLeave_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry := f.add(t, "PL", 1, 0, "alice")[0]

	_, err := f.svc.DeleteManualLeave(ctx, "admin", "missing")
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)

	_, err = f.svc.DeleteManualLeave(ctx, "admin", entry.ID)
	require.NoError(t, err)
	_, err = f.svc.DeleteManualLeave(ctx, "admin", entry.ID)
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound, "already deleted entries are not found")
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestAddLeave_ConcurrentBatchesSameUserNoLostUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const n = 25

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AddLeave(ctx, leave.Adjustment{
				ActorID: "admin", UserIDs: []ledger.UserID{"bob", "alice"},
				LeaveType: "PL", Credit: dp(1), Description: "parallel",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assertDecimal(t, n, f.balance(t, "alice").PL)
	assertDecimal(t, n, f.balance(t, "bob").PL)
}

// conflictingStore fails the first N AppendBatch calls with a concurrent
// modification, as another process writing the same user would.
type conflictingStore struct {
	*store.Memory
	failures int
	calls    int
}

func (s *conflictingStore) AppendBatch(ctx context.Context, entries []ledger.Entry) error {
	s.calls++
	if s.calls <= s.failures {
		return ledger.ErrConcurrentModification
	}
	return s.Memory.AppendBatch(ctx, entries)
}

func TestAddLeave_RetriesConcurrentModification(t *testing.T) {
	mem := store.NewMemory()
	seedUsers(t, mem)
	cs := &conflictingStore{Memory: mem, failures: 2}
	svc := leave.NewService(cs, mem, leave.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	entries, err := svc.AddLeave(context.Background(), leave.Adjustment{
		ActorID: "admin", UserIDs: []ledger.UserID{"alice"},
		LeaveType: "PL", Credit: dp(2), Description: "retry",
	})

	require.NoError(t, err)
	assert.Equal(t, 3, cs.calls)
	assertDecimal(t, 2, entries[0].AvailablePL)
}

func TestAddLeave_GivesUpAfterWriteAttempts(t *testing.T) {
	mem := store.NewMemory()
	seedUsers(t, mem)
	cs := &conflictingStore{Memory: mem, failures: 10}
	svc := leave.NewService(cs, mem,
		leave.WithWriteAttempts(2),
		leave.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	_, err := svc.AddLeave(context.Background(), leave.Adjustment{
		ActorID: "admin", UserIDs: []ledger.UserID{"alice"},
		LeaveType: "PL", Credit: dp(2), Description: "retry",
	})

	assert.True(t, ledger.IsRetryable(err))
	assert.Equal(t, 2, cs.calls)
}

// =============================================================================
// CHANGE EVENTS
// =============================================================================

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []any
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return p.err
}

func TestAddLeave_PublishesEvents(t *testing.T) {
	pub := &recordingPublisher{}
	f := newFixture(t, leave.WithPublisher(pub, "hr-ledger"))
	ctx := context.Background()

	entries := f.add(t, "CL", 1, 0, "alice", "bob")
	_, err := f.svc.DeleteManualLeave(ctx, "admin", entries[0].ID)
	require.NoError(t, err)

	require.Len(t, pub.events, 2)
	assert.Equal(t, []string{"hr-ledger", "hr-ledger"}, pub.topics)

	adjusted, ok := pub.events[0].(leave.AdjustedEvent)
	require.True(t, ok)
	assert.Equal(t, leave.EventLeaveAdjusted, adjusted.Type)
	assert.Equal(t, "acme", adjusted.CompanyID)
	require.Len(t, adjusted.Entries, 2)
	assert.Equal(t, "1", adjusted.Entries[1].AvailableCompOff)

	deleted, ok := pub.events[1].(leave.DeletedEvent)
	require.True(t, ok)
	assert.Equal(t, string(entries[0].ID), deleted.EntryID)
}

func TestAddLeave_PublishFailureDoesNotFailRequest(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	f := newFixture(t, leave.WithPublisher(pub, ""))

	entries := f.add(t, "PL", 1, 0, "alice")

	require.Len(t, entries, 1)
	assert.Equal(t, []string{leave.DefaultTopic}, pub.topics)
	assertDecimal(t, 1, f.balance(t, "alice").PL)
}

func TestAddLeave_NeverSortsBeforeItsBase(t *testing.T) {
	// GIVEN: The latest entry was written by a server whose clock runs ahead
	f := newFixture(t)
	ahead := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.store.AppendBatch(context.Background(), []ledger.Entry{{
		ID: "future", UserID: "alice", LeaveType: "PL",
		Credited: d(5), Debited: d(0), AvailablePL: d(5), AvailableCompOff: d(0),
		Description: "seed", CreatedAt: ahead, UpdatedAt: ahead,
	}}))

	// WHEN: This server credits alice
	entries := f.add(t, "PL", 1, 0, "alice")

	// THEN: The new entry is still the latest
	assert.False(t, entries[0].CreatedAt.Before(ahead))
	assertDecimal(t, 6, f.balance(t, "alice").PL)
	_, latest, err := ledger.NewResolver(f.store).Resolve(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, entries[0].ID, latest.ID)
}

func TestAddLeave_DuplicateUserNeverSortsBeforeItsBase(t *testing.T) {
	// GIVEN: Alice's latest entry is stamped ahead of this server's clock
	f := newFixture(t)
	ahead := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.store.AppendBatch(context.Background(), []ledger.Entry{{
		ID: "future", UserID: "alice", LeaveType: "PL",
		Credited: d(5), Debited: d(0), AvailablePL: d(5), AvailableCompOff: d(0),
		Description: "seed", CreatedAt: ahead, UpdatedAt: ahead,
	}}))

	// WHEN: Alice is listed twice in one batch
	entries := f.add(t, "PL", 1, 0, "alice", "alice")

	// THEN: Both credits count and the second entry resolves as latest
	require.Len(t, entries, 2)
	assert.False(t, entries[1].CreatedAt.Before(entries[0].CreatedAt))
	assertDecimal(t, 7, f.balance(t, "alice").PL)
	_, latest, err := ledger.NewResolver(f.store).Resolve(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, entries[1].ID, latest.ID)
}

// stallingPublisher blocks its first Publish until released.
type stallingPublisher struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (p *stallingPublisher) Publish(context.Context, string, any) error {
	if p.calls.Add(1) == 1 {
		close(p.entered)
		<-p.release
	}
	return nil
}

func TestAddLeave_SlowPublisherDoesNotBlockWrites(t *testing.T) {
	// GIVEN: The first change event hangs in the publisher
	pub := &stallingPublisher{entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, leave.WithPublisher(pub, "t"))
	ctx := context.Background()
	adj := leave.Adjustment{
		ActorID: "admin", UserIDs: []ledger.UserID{"alice"},
		LeaveType: "PL", Credit: dp(1), Description: "manual adjustment",
	}

	first := make(chan error, 1)
	go func() {
		_, err := f.svc.AddLeave(ctx, adj)
		first <- err
	}()
	<-pub.entered

	// WHEN: Another batch for the same user arrives
	second := make(chan error, 1)
	go func() {
		_, err := f.svc.AddLeave(ctx, adj)
		second <- err
	}()

	// THEN: It commits without waiting for the stalled publish
	select {
	case err := <-second:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second batch blocked behind the publisher")
	}
	assertDecimal(t, 2, f.balance(t, "alice").PL)

	close(pub.release)
	require.NoError(t, <-first)
}
