package registry

import "sync"

// keyedLocks hands out one mutex per record id. Entries are reference
// counted and dropped when the last holder releases them.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedLocks) lock(id string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[id]
	if !ok {
		l = &keyedLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			k.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(k.locks, id)
			}
			k.mu.Unlock()
		})
	}
}

// Lock serialises work on a single record across the scheduler, the
// reconciler and notification handlers. It is independent of the
// registry's internal map lock, so registry methods may be called while
// holding it. The returned function releases the lock.
func (r *Registry) Lock(id string) (unlock func()) {
	return r.recordLocks.lock(id)
}
