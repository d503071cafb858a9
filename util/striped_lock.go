package util

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

// StripedLock hands out one of a fixed set of mutexes per key. Two keys may
// share a stripe; a key always maps to the same one.
type StripedLock struct {
	stripes []sync.Mutex
}

func NewStripedLock(n int) *StripedLock {
	if n <= 0 {
		n = 64
	}
	return &StripedLock{stripes: make([]sync.Mutex, n)}
}

func (l *StripedLock) stripe(key string) *sync.Mutex {
	return &l.stripes[murmur3.Sum32([]byte(key))%uint32(len(l.stripes))]
}

func (l *StripedLock) Lock(key string) {
	l.stripe(key).Lock()
}

func (l *StripedLock) Unlock(key string) {
	l.stripe(key).Unlock()
}
