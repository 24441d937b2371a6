package engine

import "sync"

// userLocks hands out one mutex per user id so same-user commits serialize
// in-process. Entries are never evicted; the user population of one node is
// small and bounded.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (u *userLocks) lock(userID string) (unlock func()) {
	u.mu.Lock()
	if u.locks == nil {
		u.locks = make(map[string]*sync.Mutex)
	}
	l, ok := u.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		u.locks[userID] = l
	}
	u.mu.Unlock()
	l.Lock()
	return l.Unlock
}
