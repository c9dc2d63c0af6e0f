package usecase

import "sync"

// keyedMutex hands out one mutex per key, so operations on the same
// key serialize while different keys proceed independently.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*sync.Mutex{}}
}

func (k *keyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

func (k *keyedMutex) Lock(key string) func() {
	m := k.get(key)
	m.Lock()
	return m.Unlock
}

// LockPair locks two keys in lexicographic order, so concurrent
// cross-key operations cannot deadlock.
func (k *keyedMutex) LockPair(a, b string) func() {
	if a == b {
		return k.Lock(a)
	}
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	m1, m2 := k.get(first), k.get(second)
	m1.Lock()
	m2.Lock()
	return func() {
		m2.Unlock()
		m1.Unlock()
	}
}
