package engine

import "sync"

// accountLocks serializes settlement per account. Different accounts proceed
// fully in parallel; there is no global lock. Entries live for the process
// lifetime, bounded by the number of accounts touched.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for accountID and returns its unlock function.
func (l *accountLocks) lock(accountID string) func() {
	l.mu.Lock()
	m, ok := l.locks[accountID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[accountID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
