package identity

import (
	"sort"
	"sync"
)

// Locks is a keyed mutex. Entries are reference counted and dropped once
// no goroutine holds or waits for them.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocks returns an empty lock table.
func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*keyLock)}
}

// Lock acquires every key in sorted order and returns a function that
// releases them. Duplicate and empty keys are ignored.
func (l *Locks) Lock(keys ...string) (unlock func()) {
	keys = sortedUnique(keys)
	held := make([]*keyLock, 0, len(keys))
	for _, k := range keys {
		kl := l.acquire(k)
		kl.mu.Lock()
		held = append(held, kl)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].mu.Unlock()
				l.release(keys[i])
			}
		})
	}
}

// Len returns the number of live entries.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *Locks) acquire(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl := l.locks[key]
	if kl == nil {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *Locks) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl := l.locks[key]
	if kl == nil {
		return
	}
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

func sortedUnique(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
