package coordinator

import "sync"

// accountLocks hands out one exclusive mutex per numeric account identity.
type accountLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[int64]*sync.Mutex)}
}

func (l *accountLocks) get(id int64) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}

// lockPair locks both accounts, lower identity first, and returns the unlock
// function. The order is independent of the transfer direction.
func (l *accountLocks) lockPair(a, b int64) func() {
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	m1 := l.get(first)
	m2 := l.get(second)
	m1.Lock()
	m2.Lock()
	return func() {
		m2.Unlock()
		m1.Unlock()
	}
}

func (l *accountLocks) lockOne(id int64) func() {
	m := l.get(id)
	m.Lock()
	return m.Unlock
}
