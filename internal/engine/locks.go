package engine

import "sync"

// lotLocks hands out one mutex per lot so admissions for the same lot
// serialize their read-then-decide step while different lots never contend.
// It is a best-effort in-process throttle: admission stays advisory and the
// ledger's row lock is the only guard against overselling.  The catalog is
// fixed, so the map is bounded by the number of lots.
type lotLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLotLocks() *lotLocks {
	return &lotLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for lotID and returns its release func.
func (l *lotLocks) lock(lotID string) func() {
	l.mu.Lock()
	m, ok := l.locks[lotID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[lotID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
