package engine

import (
	"sync"

	"github.com/google/uuid"
)

// lockTable serializes mutation per payment id. Entries are reference
// counted and removed once the last holder releases, so the table does not
// grow with the number of payments ever seen.
type lockTable struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[uuid.UUID]*lockEntry)}
}

func (t *lockTable) lock(id uuid.UUID) {
	t.mu.Lock()
	entry, ok := t.locks[id]
	if !ok {
		entry = &lockEntry{}
		t.locks[id] = entry
	}
	entry.refs++
	t.mu.Unlock()

	entry.mu.Lock()
}

func (t *lockTable) unlock(id uuid.UUID) {
	t.mu.Lock()
	entry := t.locks[id]
	entry.refs--
	if entry.refs == 0 {
		delete(t.locks, id)
	}
	t.mu.Unlock()

	entry.mu.Unlock()
}
