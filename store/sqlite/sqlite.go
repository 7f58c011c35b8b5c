/*
Package sqlite provides a SQLite-backed implementation of the ledger interfaces.

PURPOSE:
  Implements ledger.Store and ledger.UserStore using SQLite. This is the
  default store of the server and the one the tests exercise end to end.

INTERFACES IMPLEMENTED:
  ledger.Store:     Leave entry persistence
  ledger.UserStore: Users (identity, role, company, display name)

APPEND-ONLY ENFORCEMENT:
  - Entries are only INSERTed by AppendBatch
  - The only UPDATE flips is_deleted/deleted_at/updated_at (soft delete)
  - No DELETE statements on leave_entries

KEY TABLES:
  leave_entries: Ledger of manual leave adjustments (with both pool snapshots)
  users:         Identity records

INDEXES:
  - idx_leave_entries_user_latest: Balance resolution (hot path)
  - idx_leave_entries_listing:     Manual leave listing

TIMESTAMPS:
  Stored as fixed-width UTC text so lexical order equals time order.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety; writes additionally run in a
  database transaction that re-checks each entry's BasedOn.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
  - store/postgres/postgres.go: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/ledger"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		role TEXT NOT NULL,
		company_id TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Leave entries (append-only, soft delete)
	CREATE TABLE IF NOT EXISTS leave_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		company_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL,
		leave_type TEXT NOT NULL,
		credited TEXT NOT NULL,
		debited TEXT NOT NULL,
		available_pl TEXT NOT NULL,
		available_comp_off TEXT NOT NULL,
		description TEXT NOT NULL,
		based_on TEXT NOT NULL DEFAULT '',
		is_deleted INTEGER NOT NULL DEFAULT 0,
		deleted_at TEXT,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leave_entries_user_latest
		ON leave_entries(user_id, is_deleted, created_at DESC, seq DESC);
	CREATE INDEX IF NOT EXISTS idx_leave_entries_listing
		ON leave_entries(is_deleted, updated_at DESC, seq DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

const entryColumns = `seq, id, company_id, user_id, leave_type, credited, debited,
	available_pl, available_comp_off, description, based_on, is_deleted, deleted_at,
	created_by, created_at, updated_at`

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// AppendBatch adds entries atomically.
func (s *Store) AppendBatch(ctx context.Context, entries []ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, e := range entries {
		// Rows inserted earlier in this transaction are visible here
		latest, err := s.latest(ctx, sqlTx, e.UserID)
		if err != nil {
			return err
		}
		if err := ledger.CheckBasedOn(latest, e); err != nil {
			return err
		}
		if err := s.insertEntry(ctx, sqlTx, e); err != nil {
			return err
		}
	}

	return sqlTx.Commit()
}

func (s *Store) insertEntry(ctx context.Context, db querier, e ledger.Entry) error {
	query := `
		INSERT INTO leave_entries
		(id, company_id, user_id, leave_type, credited, debited, available_pl,
		 available_comp_off, description, based_on, is_deleted, deleted_at,
		 created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		e.ID,
		e.CompanyID,
		e.UserID,
		e.LeaveType,
		e.Credited.String(),
		e.Debited.String(),
		e.AvailablePL.String(),
		e.AvailableCompOff.String(),
		e.Description,
		e.BasedOn,
		e.IsDeleted,
		formatNullTime(e.DeletedAt),
		e.CreatedBy,
		formatTime(e.CreatedAt),
		formatTime(e.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: entry %s already exists", ledger.ErrConcurrentModification, e.ID)
		}
		return fmt.Errorf("failed to append leave entry: %w", err)
	}
	return nil
}

// Latest returns the most recent non-deleted entry of a user.
func (s *Store) Latest(ctx context.Context, userID ledger.UserID) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.latest(ctx, s.db, userID)
}

func (s *Store) latest(ctx context.Context, db querier, userID ledger.UserID) (*ledger.Entry, error) {
	query := `SELECT ` + entryColumns + `
		FROM leave_entries
		WHERE user_id = ? AND is_deleted = 0
		ORDER BY created_at DESC, seq DESC
		LIMIT 1`

	e, err := scanEntry(db.QueryRowContext(ctx, query, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest entry: %w", err)
	}
	return &e, nil
}

// Get returns an entry by ID, including soft-deleted ones.
func (s *Store) Get(ctx context.Context, id ledger.EntryID) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := scanEntry(s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM leave_entries WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get leave entry: %w", err)
	}
	return &e, nil
}

// History returns all entries of a user, newest first.
func (s *Store) History(ctx context.Context, userID ledger.UserID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+entryColumns+`
		FROM leave_entries
		WHERE user_id = ?
		ORDER BY created_at DESC, seq DESC`, userID)
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

// SoftDelete marks a live entry deleted.
func (s *Store) SoftDelete(ctx context.Context, id ledger.EntryID, at time.Time) (*ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE leave_entries
		SET is_deleted = 1, deleted_at = ?, updated_at = ?
		WHERE id = ? AND is_deleted = 0`,
		formatTime(at), formatTime(at), id)
	if err != nil {
		return nil, fmt.Errorf("failed to soft-delete leave entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	e, err := scanEntry(s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM leave_entries WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to reload leave entry: %w", err)
	}
	return &e, nil
}

// Page returns live entries joined with users, newest update first.
// Entries whose user is missing are neither returned nor counted.
func (s *Store) Page(ctx context.Context, q ledger.PageQuery) ([]ledger.Row, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM leave_entries e
		JOIN users u ON u.id = e.user_id
		WHERE e.is_deleted = 0`).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count leave entries: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.seq, e.id, e.company_id, e.user_id, e.leave_type, e.credited, e.debited,
		       e.available_pl, e.available_comp_off, e.description, e.based_on, e.is_deleted,
		       e.deleted_at, e.created_by, e.created_at, e.updated_at,
		       u.first_name, u.last_name
		FROM leave_entries e
		JOIN users u ON u.id = e.user_id
		WHERE e.is_deleted = 0
		ORDER BY e.updated_at DESC, e.seq DESC
		LIMIT ? OFFSET ?`, q.Limit, q.Skip())
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

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner, extra ...any) (ledger.Entry, error) {
	var (
		e                          ledger.Entry
		credited, debited          string
		availablePL, availableComp string
		deletedAt                  sql.NullString
		createdAt, updatedAt       string
	)

	dest := []any{
		&e.Seq, &e.ID, &e.CompanyID, &e.UserID, &e.LeaveType, &credited, &debited,
		&availablePL, &availableComp, &e.Description, &e.BasedOn, &e.IsDeleted,
		&deletedAt, &e.CreatedBy, &createdAt, &updatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if err == sql.ErrNoRows {
			return e, err
		}
		return e, fmt.Errorf("failed to scan leave entry: %w", err)
	}

	var err error
	amounts := []struct {
		dst *decimal.Decimal
		col string
		raw string
	}{
		{&e.Credited, "credited", credited},
		{&e.Debited, "debited", debited},
		{&e.AvailablePL, "available_pl", availablePL},
		{&e.AvailableCompOff, "available_comp_off", availableComp},
	}
	for _, a := range amounts {
		if *a.dst, err = decimal.NewFromString(a.raw); err != nil {
			return e, fmt.Errorf("corrupt %s on leave entry %s: %w", a.col, e.ID, err)
		}
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return e, fmt.Errorf("corrupt created_at on leave entry %s: %w", e.ID, err)
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return e, fmt.Errorf("corrupt updated_at on leave entry %s: %w", e.ID, err)
	}
	if deletedAt.Valid {
		t, err := parseTime(deletedAt.String)
		if err != nil {
			return e, fmt.Errorf("corrupt deleted_at on leave entry %s: %w", e.ID, err)
		}
		e.DeletedAt = &t
	}
	return e, nil
}

// =============================================================================
// USER STORE (ledger.UserStore interface)
// =============================================================================

// SaveUser inserts or updates a user.
func (s *Store) SaveUser(ctx context.Context, u ledger.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO users (id, role, company_id, first_name, last_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			role = excluded.role,
			company_id = excluded.company_id,
			first_name = excluded.first_name,
			last_name = excluded.last_name
	`

	_, err := s.db.ExecContext(ctx, query,
		u.ID, u.Role, u.CompanyID, u.FirstName, u.LastName,
		formatTime(time.Now()),
	)
	return err
}

// FindUser retrieves a user by ID.
func (s *Store) FindUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var u ledger.User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, role, company_id, first_name, last_name FROM users WHERE id = ?",
		id,
	).Scan(&u.ID, &u.Role, &u.CompanyID, &u.FirstName, &u.LastName)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var (
	_ ledger.Store     = (*Store)(nil)
	_ ledger.UserStore = (*Store)(nil)
)
