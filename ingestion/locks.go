package ingestion

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// documentLocks serializes work on a single document id. Ingest and Delete
// of the same id never overlap; different ids proceed in parallel.
type documentLocks struct {
	mu    sync.Mutex
	locks map[string]*documentLock
}

type documentLock struct {
	sem  *semaphore.Weighted
	refs int
}

// acquire blocks until the lock for id is held or ctx is done.
// The returned func releases the lock.
func (l *documentLocks) acquire(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*documentLock)
	}
	lock, ok := l.locks[id]
	if !ok {
		lock = &documentLock{sem: semaphore.NewWeighted(1)}
		l.locks[id] = lock
	}
	lock.refs++
	l.mu.Unlock()

	if err := lock.sem.Acquire(ctx, 1); err != nil {
		l.unref(id, lock)
		return nil, err
	}
	return func() {
		lock.sem.Release(1)
		l.unref(id, lock)
	}, nil
}

func (l *documentLocks) unref(id string, lock *documentLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, id)
	}
}

// held reports how many ids currently have a holder or waiter.
func (l *documentLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
