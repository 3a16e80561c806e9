package server

import (
	"strings"
	"sync"
)

// vaultLocks serialises operations per vault. Entries are dropped once no
// caller holds or waits on them.
type vaultLocks struct {
	mu    sync.Mutex
	locks map[string]*vaultLock
}

type vaultLock struct {
	mu   sync.Mutex
	refs int
}

func newVaultLocks() *vaultLocks {
	return &vaultLocks{locks: make(map[string]*vaultLock)}
}

// Lock acquires the lock for id and returns its release function. IDs are
// keyed the way the engine resolves them, so padded forms share a lock.
func (l *vaultLocks) Lock(id string) func() {
	id = strings.TrimSpace(id)
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &vaultLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *vaultLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
