// Package store provides an in-memory ledger.Store implementation.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/leave-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	entries []ledger.Entry // append order, index == Seq-1
	byUser  map[ledger.UserID][]int
	byID    map[ledger.EntryID]int
	users   map[ledger.UserID]ledger.User
}

func NewMemory() *Memory {
	return &Memory{
		byUser: make(map[ledger.UserID][]int),
		byID:   make(map[ledger.EntryID]int),
		users:  make(map[ledger.UserID]ledger.User),
	}
}

// =============================================================================
// LEDGER STORE
// =============================================================================

// AppendBatch adds entries atomically: every BasedOn is checked before
// anything is written.
func (m *Memory) AppendBatch(_ context.Context, entries []ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Latest per user as the batch would leave it
	pending := make(map[ledger.UserID]*ledger.Entry)
	for i := range entries {
		e := entries[i]
		latest, seen := pending[e.UserID]
		if !seen {
			latest = m.latestLocked(e.UserID)
		}
		if err := ledger.CheckBasedOn(latest, e); err != nil {
			return err
		}
		if _, dup := m.byID[e.ID]; dup {
			return ledger.ErrConcurrentModification
		}
		pending[e.UserID] = &entries[i]
	}

	for _, e := range entries {
		e.Seq = int64(len(m.entries) + 1)
		m.entries = append(m.entries, e)
		idx := len(m.entries) - 1
		m.byUser[e.UserID] = append(m.byUser[e.UserID], idx)
		m.byID[e.ID] = idx
	}
	return nil
}

func (m *Memory) Latest(_ context.Context, userID ledger.UserID) (*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latestLocked(userID), nil
}

func (m *Memory) latestLocked(userID ledger.UserID) *ledger.Entry {
	var latest *ledger.Entry
	for _, idx := range m.byUser[userID] {
		e := m.entries[idx]
		if e.IsDeleted {
			continue
		}
		if latest == nil || newer(e.CreatedAt, e.Seq, latest.CreatedAt, latest.Seq) {
			found := e
			latest = &found
		}
	}
	return latest
}

func (m *Memory) Get(_ context.Context, id ledger.EntryID) (*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	e := m.entries[idx]
	return &e, nil
}

func (m *Memory) History(_ context.Context, userID ledger.UserID) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Entry, 0, len(m.byUser[userID]))
	for _, idx := range m.byUser[userID] {
		result = append(result, m.entries[idx])
	}
	sort.Slice(result, func(i, j int) bool {
		return newer(result[i].CreatedAt, result[i].Seq, result[j].CreatedAt, result[j].Seq)
	})
	return result, nil
}

func (m *Memory) SoftDelete(_ context.Context, id ledger.EntryID, at time.Time) (*ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.byID[id]
	if !ok || m.entries[idx].IsDeleted {
		return nil, nil
	}
	deletedAt := at
	m.entries[idx].IsDeleted = true
	m.entries[idx].DeletedAt = &deletedAt
	m.entries[idx].UpdatedAt = at

	e := m.entries[idx]
	return &e, nil
}

func (m *Memory) Page(_ context.Context, q ledger.PageQuery) ([]ledger.Row, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []ledger.Row
	for _, e := range m.entries {
		if e.IsDeleted {
			continue
		}
		u, ok := m.users[e.UserID]
		if !ok {
			continue
		}
		rows = append(rows, ledger.Row{Entry: e, FirstName: u.FirstName, LastName: u.LastName})
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i].Entry, rows[j].Entry
		return newer(a.UpdatedAt, a.Seq, b.UpdatedAt, b.Seq)
	})

	total := len(rows)
	skip := q.Skip()
	if skip >= total {
		return []ledger.Row{}, total, nil
	}
	end := total
	if q.Limit < total-skip {
		end = skip + q.Limit
	}
	return rows[skip:end], total, nil
}

// =============================================================================
// USER DIRECTORY
// =============================================================================

func (m *Memory) SaveUser(_ context.Context, u ledger.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *Memory) FindUser(_ context.Context, id ledger.UserID) (*ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// newer orders by time then sequence, both descending.
func newer(at time.Time, seq int64, otherAt time.Time, otherSeq int64) bool {
	if !at.Equal(otherAt) {
		return at.After(otherAt)
	}
	return seq > otherSeq
}

var (
	_ ledger.Store     = (*Memory)(nil)
	_ ledger.UserStore = (*Memory)(nil)
)
