package community

import (
	"sync"
)

// keyedMutex hands out one mutex per string key. Keys are identities and
// struct storage units, which only ever accumulate, so entries are never
// evicted.
type keyedMutex struct {
	stateLock sync.Mutex
	locks     map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{
		locks: map[string]*sync.Mutex{},
	}
}

// lock acquires the mutex for `key` and returns the unlock function
func (self *keyedMutex) lock(key string) func() {
	self.stateLock.Lock()
	mutex, ok := self.locks[key]
	if !ok {
		mutex = &sync.Mutex{}
		self.locks[key] = mutex
	}
	self.stateLock.Unlock()

	mutex.Lock()
	return mutex.Unlock
}
