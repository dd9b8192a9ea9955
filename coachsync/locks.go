// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package coachsync

import (
	"context"
	"sync"
)

// entityLocks hands out one lock per entity key. Entries are reference counted
// and dropped once nobody holds or waits on them.
type entityLocks struct {
	mu    sync.Mutex
	locks map[string]*entityLock
}

type entityLock struct {
	ch   chan struct{} // capacity 1; a token in the channel means held
	refs int
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: make(map[string]*entityLock)}
}

// lock blocks until the key is free or ctx is done. The returned func releases it.
func (l *entityLocks) lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	el, ok := l.locks[key]
	if !ok {
		el = &entityLock{ch: make(chan struct{}, 1)}
		l.locks[key] = el
	}
	el.refs++
	l.mu.Unlock()

	select {
	case el.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, el, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() { once.Do(func() { l.release(key, el, true) }) }, nil
}

func (l *entityLocks) release(key string, el *entityLock, held bool) {
	if held {
		<-el.ch
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	el.refs--
	if el.refs == 0 {
		delete(l.locks, key)
	}
}

// size is the number of live entries
func (l *entityLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
