package generic

import (
	"context"
	"sort"
	"sync"
)

// =============================================================================
// KEY LOCKER - Per-balance-key serialization
// =============================================================================

// KeyLocker serializes work per BalanceKey. There is no global lock: two
// operations on different keys never wait for each other.
//
// Locks are acquired in sorted key order so operations touching several
// keys (carry-forward touches two years) cannot deadlock.
type KeyLocker struct {
	mu    sync.Mutex
	locks map[BalanceKey]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyLocker() *KeyLocker {
	return &KeyLocker{locks: make(map[BalanceKey]*keyLock)}
}

// Lock blocks until every key is held or ctx is done. The returned function
// releases all of them.
func (k *KeyLocker) Lock(ctx context.Context, keys ...BalanceKey) (func(), error) {
	keys = sortedUnique(keys)

	var held []BalanceKey
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			k.unlock(held[i])
		}
	}

	for _, key := range keys {
		l := k.acquireRef(key)
		select {
		case l.ch <- struct{}{}:
			held = append(held, key)
		case <-ctx.Done():
			k.dropRef(key)
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}

func (k *KeyLocker) acquireRef(key BalanceKey) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *KeyLocker) dropRef(key BalanceKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l := k.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *KeyLocker) unlock(key BalanceKey) {
	k.mu.Lock()
	l := k.locks[key]
	k.mu.Unlock()
	<-l.ch
	k.dropRef(key)
}

func sortedUnique(keys []BalanceKey) []BalanceKey {
	seen := make(map[BalanceKey]bool, len(keys))
	out := make([]BalanceKey, 0, len(keys))
	for _, key := range keys {
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if a.CategoryID != b.CategoryID {
			return a.CategoryID < b.CategoryID
		}
		return a.Year < b.Year
	})
	return out
}
