// ABOUTME: Arena of per-key mutexes created on demand and freed when idle
// ABOUTME: Serializes work for one wallet without blocking any other wallet

package session

import "sync"

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// lockArena hands out one mutex per key. Entries exist only while some
// goroutine holds or waits for them.
type lockArena struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func newLockArena() *lockArena {
	return &lockArena{locks: make(map[string]*keyLock)}
}

// lock acquires the mutex for key and returns the function releasing it.
func (a *lockArena) lock(key string) func() {
	a.mu.Lock()
	kl, ok := a.locks[key]
	if !ok {
		kl = &keyLock{}
		a.locks[key] = kl
	}
	kl.refs++
	a.mu.Unlock()

	kl.mu.Lock()

	return func() {
		kl.mu.Unlock()

		a.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(a.locks, key)
		}
		a.mu.Unlock()
	}
}

// size reports how many keys currently have a live lock entry.
func (a *lockArena) size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.locks)
}
