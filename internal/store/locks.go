package store

import "sync"

// keyedLocks hands out one RWMutex per key and forgets it once no holder or
// waiter remains, so the map stays bounded by in-flight work.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.RWMutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*refLock)}
}

// acquire blocks until key is held (shared or exclusive) and returns the
// matching release func.
func (k *keyedLocks) acquire(key string, shared bool) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	if shared {
		l.RLock()
	} else {
		l.Lock()
	}

	return func() {
		if shared {
			l.RUnlock()
		} else {
			l.Unlock()
		}
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func leagueLockKey(id string) string { return "league:" + id }
func userLockKey(id string) string   { return "user:" + id }

func accountLockKey(userID, leagueID string) string {
	return "account:" + userID + ":" + leagueID
}

func positionLockKey(userID, leagueID, symbol string) string {
	return "position:" + userID + ":" + leagueID + ":" + symbol
}
