/*
Package postgres provides a PostgreSQL implementation of the ledger interfaces
on top of pgx.

PER-USER SERIALIZATION:
  AppendBatch takes pg_advisory_xact_lock(hashtext(user_id)) for every user
  of the batch, in sorted order, before re-checking BasedOn. Two servers
  writing the same user therefore queue on the lock and the second one sees
  the first one's entry and fails with ErrConcurrentModification, which the
  service retries.

AMOUNTS:
  NUMERIC columns; values travel as text to keep decimal precision.

SEE ALSO:
  - store/sqlite/sqlite.go: Same contract on SQLite
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/ledger"
)

type Store struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL and migrates the schema.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		role TEXT NOT NULL,
		company_id TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS leave_entries (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		company_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL,
		leave_type TEXT NOT NULL,
		credited NUMERIC NOT NULL,
		debited NUMERIC NOT NULL,
		available_pl NUMERIC NOT NULL CHECK (available_pl >= 0),
		available_comp_off NUMERIC NOT NULL CHECK (available_comp_off >= 0),
		description TEXT NOT NULL,
		based_on TEXT NOT NULL DEFAULT '',
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_at TIMESTAMPTZ,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leave_entries_user_latest
		ON leave_entries(user_id, created_at DESC, seq DESC) WHERE NOT is_deleted;
	CREATE INDEX IF NOT EXISTS idx_leave_entries_listing
		ON leave_entries(updated_at DESC, seq DESC) WHERE NOT is_deleted;
	`)
	return err
}

// =============================================================================
// LEDGER STORE
// =============================================================================

const entryColumns = `seq, id, company_id, user_id, leave_type, credited::text, debited::text,
	available_pl::text, available_comp_off::text, description, based_on, is_deleted,
	deleted_at, created_by, created_at, updated_at`

func (s *Store) AppendBatch(ctx context.Context, entries []ledger.Entry) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	users := make([]string, 0, len(entries))
	seen := make(map[string]bool)
	for _, e := range entries {
		if !seen[string(e.UserID)] {
			seen[string(e.UserID)] = true
			users = append(users, string(e.UserID))
		}
	}
	sort.Strings(users)
	for _, u := range users {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", u); err != nil {
			return fmt.Errorf("failed to lock user %s: %w", u, err)
		}
	}

	for _, e := range entries {
		latest, err := latestEntry(ctx, tx, e.UserID)
		if err != nil {
			return err
		}
		if err := ledger.CheckBasedOn(latest, e); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO leave_entries
			(id, company_id, user_id, leave_type, credited, debited, available_pl,
			 available_comp_off, description, based_on, is_deleted, deleted_at,
			 created_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8::numeric,
			        $9, $10, $11, $12, $13, $14, $15)`,
			string(e.ID), string(e.CompanyID), string(e.UserID), string(e.LeaveType),
			e.Credited.String(), e.Debited.String(),
			e.AvailablePL.String(), e.AvailableCompOff.String(),
			e.Description, string(e.BasedOn), e.IsDeleted, e.DeletedAt,
			string(e.CreatedBy), e.CreatedAt, e.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: entry %s already exists", ledger.ErrConcurrentModification, e.ID)
			}
			return fmt.Errorf("failed to append leave entry: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) Latest(ctx context.Context, userID ledger.UserID) (*ledger.Entry, error) {
	return latestEntry(ctx, s.pool, userID)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func latestEntry(ctx context.Context, q queryRower, userID ledger.UserID) (*ledger.Entry, error) {
	e, err := scanEntry(q.QueryRow(ctx, `SELECT `+entryColumns+`
		FROM leave_entries
		WHERE user_id = $1 AND NOT is_deleted
		ORDER BY created_at DESC, seq DESC
		LIMIT 1`, string(userID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest entry: %w", err)
	}
	return &e, nil
}

func (s *Store) Get(ctx context.Context, id ledger.EntryID) (*ledger.Entry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM leave_entries WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get leave entry: %w", err)
	}
	return &e, nil
}

func (s *Store) History(ctx context.Context, userID ledger.UserID) ([]ledger.Entry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+entryColumns+`
		FROM leave_entries
		WHERE user_id = $1
		ORDER BY created_at DESC, seq DESC`, string(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := []ledger.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) SoftDelete(ctx context.Context, id ledger.EntryID, at time.Time) (*ledger.Entry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx, `
		UPDATE leave_entries
		SET is_deleted = TRUE, deleted_at = $2, updated_at = $2
		WHERE id = $1 AND NOT is_deleted
		RETURNING `+entryColumns, string(id), at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to soft-delete leave entry: %w", err)
	}
	return &e, nil
}

func (s *Store) Page(ctx context.Context, q ledger.PageQuery) ([]ledger.Row, int, error) {
	var total int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM leave_entries e
		JOIN users u ON u.id = e.user_id
		WHERE NOT e.is_deleted`).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count leave entries: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT e.seq, e.id, e.company_id, e.user_id, e.leave_type, e.credited::text,
		       e.debited::text, e.available_pl::text, e.available_comp_off::text,
		       e.description, e.based_on, e.is_deleted, e.deleted_at, e.created_by,
		       e.created_at, e.updated_at, u.first_name, u.last_name
		FROM leave_entries e
		JOIN users u ON u.id = e.user_id
		WHERE NOT e.is_deleted
		ORDER BY e.updated_at DESC, e.seq DESC
		LIMIT $1 OFFSET $2`, q.Limit, q.Skip())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to page leave entries: %w", err)
	}
	defer rows.Close()

	result := []ledger.Row{}
	for rows.Next() {
		var r ledger.Row
		e, err := scanEntry(rows, &r.FirstName, &r.LastName)
		if err != nil {
			return nil, 0, err
		}
		r.Entry = e
		result = append(result, r)
	}
	return result, total, rows.Err()
}

func scanEntry(row pgx.Row, extra ...any) (ledger.Entry, error) {
	var (
		e                                     ledger.Entry
		id, companyID, userID, leaveType      string
		credited, debited, availPL, availComp string
		basedOn, createdBy                    string
	)
	dest := []any{
		&e.Seq, &id, &companyID, &userID, &leaveType, &credited, &debited,
		&availPL, &availComp, &e.Description, &basedOn, &e.IsDeleted,
		&e.DeletedAt, &createdBy, &e.CreatedAt, &e.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return e, err
	}

	e.ID = ledger.EntryID(id)
	e.CompanyID = ledger.CompanyID(companyID)
	e.UserID = ledger.UserID(userID)
	e.LeaveType = ledger.LeaveType(leaveType)
	e.BasedOn = ledger.EntryID(basedOn)
	e.CreatedBy = ledger.UserID(createdBy)
	e.Credited = decimal.RequireFromString(credited)
	e.Debited = decimal.RequireFromString(debited)
	e.AvailablePL = decimal.RequireFromString(availPL)
	e.AvailableCompOff = decimal.RequireFromString(availComp)
	return e, nil
}

// =============================================================================
// USER STORE
// =============================================================================

func (s *Store) SaveUser(ctx context.Context, u ledger.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, role, company_id, first_name, last_name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			role = EXCLUDED.role,
			company_id = EXCLUDED.company_id,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name`,
		string(u.ID), string(u.Role), string(u.CompanyID), u.FirstName, u.LastName)
	return err
}

func (s *Store) FindUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	var userID, role, companyID string
	u := ledger.User{}
	err := s.pool.QueryRow(ctx,
		"SELECT id, role, company_id, first_name, last_name FROM users WHERE id = $1",
		string(id),
	).Scan(&userID, &role, &companyID, &u.FirstName, &u.LastName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.ID = ledger.UserID(userID)
	u.Role = ledger.Role(role)
	u.CompanyID = ledger.CompanyID(companyID)
	return &u, nil
}

// Reset empties both tables. Used by tests.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "TRUNCATE leave_entries, users RESTART IDENTITY")
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var (
	_ ledger.Store     = (*Store)(nil)
	_ ledger.UserStore = (*Store)(nil)
)
