package ledger

import (
	"sort"
	"sync"
)

// UserLocks serializes ledger writes per user within a process. A user's
// mutex exists only while someone holds or waits for it.
type UserLocks struct {
	mapMu sync.Mutex
	locks map[UserID]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func NewUserLocks() *UserLocks {
	return &UserLocks{locks: make(map[UserID]*userLock)}
}

func (l *UserLocks) acquire(id UserID) *userLock {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	ul, ok := l.locks[id]
	if !ok {
		ul = &userLock{}
		l.locks[id] = ul
	}
	ul.refs++
	return ul
}

func (l *UserLocks) release(id UserID, ul *userLock) {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	ul.refs--
	if ul.refs == 0 {
		delete(l.locks, id)
	}
}

// Lock acquires the locks of all given users and returns the release func.
// Locks are taken in sorted order so overlapping batches cannot deadlock.
// Duplicate IDs are locked once.
func (l *UserLocks) Lock(ids []UserID) (unlock func()) {
	unique := make([]UserID, 0, len(ids))
	seen := make(map[UserID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })

	held := make([]*userLock, 0, len(unique))
	for _, id := range unique {
		ul := l.acquire(id)
		ul.mu.Lock()
		held = append(held, ul)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.release(unique[i], held[i])
		}
	}
}

// Len reports how many users currently have a lock entry.
func (l *UserLocks) Len() int {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()
	return len(l.locks)
}
