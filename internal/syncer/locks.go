package syncer

import "sync"

// binderLocks hands out one mutex per binder id.
type binderLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newBinderLocks() *binderLocks {
	return &binderLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *binderLocks) get(binderID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[binderID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[binderID] = lock
	}
	return lock
}

func (l *binderLocks) lock(binderID string) func() {
	lock := l.get(binderID)
	lock.Lock()
	return lock.Unlock
}

// tryLock acquires the binder lock only when no other operation holds it.
func (l *binderLocks) tryLock(binderID string) (func(), bool) {
	lock := l.get(binderID)
	if !lock.TryLock() {
		return nil, false
	}
	return lock.Unlock, true
}
