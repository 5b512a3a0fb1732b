package credential

import (
	"context"
	"sync"
)

type (
	// productLocks serialises issuance per product, so that the credential count checked against the cap cannot
	// change before the new credential is stored.
	productLocks struct {
		mu    sync.Mutex
		locks map[string]*productLock
	}

	productLock struct {
		ch   chan struct{}
		refs int
	}
)

func newProductLocks() *productLocks {
	return &productLocks{
		locks: make(map[string]*productLock),
	}
}

// acquire blocks until the lock for productID is held or ctx is done. The returned function releases the lock.
func (l *productLocks) acquire(ctx context.Context, productID string) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[productID]
	if !ok {
		lock = &productLock{ch: make(chan struct{}, 1)}
		l.locks[productID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
		return func() {
			<-lock.ch
			l.unref(productID, lock)
		}, nil
	case <-ctx.Done():
		l.unref(productID, lock)
		return nil, ctx.Err()
	}
}

func (l *productLocks) unref(productID string, lock *productLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, productID)
	}
}

func (l *productLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.locks)
}
