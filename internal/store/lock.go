package store

import "sync"

// slotMutex serializes lock holders per slot id inside this process. The row
// lock covers other processes on Postgres; on SQLite, which has no row
// locks, this is what keeps check-then-write sections exclusive.
type slotMutex struct {
	mu    sync.Mutex
	locks map[int64]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newSlotMutex() *slotMutex {
	return &slotMutex{locks: make(map[int64]*refMutex)}
}

// Lock blocks until the slot is free and returns the matching unlock func.
func (m *slotMutex) Lock(slotID int64) func() {
	m.mu.Lock()
	l, ok := m.locks[slotID]
	if !ok {
		l = &refMutex{}
		m.locks[slotID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, slotID)
		}
		m.mu.Unlock()
	}
}
