/*
clinic/locks.go - Keyed mutexes for check-then-act critical sections

PURPOSE:
  Booking and credit draws are check-then-insert sequences: availability
  (or the credit balance) is read, then a row is written. Two concurrent
  requests for the same patient or the same (party, date) calendar page
  must serialize across the whole sequence, not just the write. KeyedMutex
  provides a mutex per string key so unrelated patients never contend.

USAGE:
  unlock := locks.Lock("patient:" + string(id))
  defer unlock()
*/
package clinic

import (
	"sort"
	"sync"
)

// KeyedMutex serializes critical sections per string key. Mutex entries
// are reference-counted and removed once unused, so the map does not grow
// with the key space.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyedEntry)}
}

// Lock acquires the mutex for key and returns the matching unlock func.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &keyedEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}

// LockAll acquires every key in sorted order to avoid deadlocks between
// callers locking overlapping key sets, and returns one unlock func.
func (k *KeyedMutex) LockAll(keys ...string) func() {
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	unlocks := make([]func(), 0, len(sorted))
	seen := make(map[string]bool, len(sorted))
	for _, key := range sorted {
		if seen[key] {
			continue
		}
		seen[key] = true
		unlocks = append(unlocks, k.Lock(key))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}
