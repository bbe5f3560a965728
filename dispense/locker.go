package dispense

import "sync"

// KeyLocker hands out one mutex per key, so dispensing for different
// medications proceeds in parallel while requests for the same medication
// are serialized.
type KeyLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewKeyLocker() *KeyLocker {
	return &KeyLocker{locks: make(map[string]*sync.Mutex)}
}

// Lock blocks until key is held and returns the matching unlock func.
func (k *KeyLocker) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
