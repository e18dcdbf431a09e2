package dispatch

import "sync"

// UserLocks serializes work per user ID. Locks are created lazily on
// first use and live for the process lifetime; the registry mutex is held
// only for map access, never across the caller's work.
type UserLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewUserLocks returns an empty registry.
func NewUserLocks() *UserLocks {
	return &UserLocks{locks: make(map[string]*sync.Mutex)}
}

// Do runs fn while holding the lock for userID. The lock is released on
// every exit path, including a panic inside fn.
func (u *UserLocks) Do(userID string, fn func()) {
	lock := u.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()
	fn()
}

func (u *UserLocks) lockFor(userID string) *sync.Mutex {
	u.mu.Lock()
	defer u.mu.Unlock()
	lock, ok := u.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		u.locks[userID] = lock
	}
	return lock
}
