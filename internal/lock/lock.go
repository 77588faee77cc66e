// Package lock serializes work on stock keys, either inside one process or
// across instances through Redis.
package lock

import (
	"context"
	"errors"
	"slices"
	"sync"
)

var ErrLockBusy = errors.New("system busy, please try again later (lock)")

// Locker acquires every key or none. The returned unlock releases all of them
// and is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (func(), error)
}

// StockKey is the lock key for one product in one store.
func StockKey(storeID string, sku string) string {
	return "lock:inventory:" + storeID + ":" + sku
}

// StockCountKey is the lock key for one count session.
func StockCountKey(id string) string {
	return "lock:stockcount:" + id
}

// normalizeKeys sorts and dedupes so multi-key callers always acquire in the
// same order.
func normalizeKeys(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// KeyedMutex is the in-process Locker.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyedEntry)}
}

func (m *KeyedMutex) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalizeKeys(keys)
	held := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := m.lockOne(ctx, key); err != nil {
			m.unlockAll(held)
			return nil, err
		}
		held = append(held, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.unlockAll(held) })
	}, nil
}

func (m *KeyedMutex) lockOne(ctx context.Context, key string) error {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if !ok {
		entry = &keyedEntry{ch: make(chan struct{}, 1)}
		m.entries[key] = entry
	}
	entry.refs++
	m.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		m.release(key, entry, false)
		return ctx.Err()
	}
}

func (m *KeyedMutex) unlockAll(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		m.mu.Lock()
		entry := m.entries[keys[i]]
		m.mu.Unlock()
		if entry != nil {
			m.release(keys[i], entry, true)
		}
	}
}

func (m *KeyedMutex) release(key string, entry *keyedEntry, held bool) {
	if held {
		<-entry.ch
	}
	m.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(m.entries, key)
	}
	m.mu.Unlock()
}
