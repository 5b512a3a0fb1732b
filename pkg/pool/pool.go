// Package pool load-balances calls across a set of interchangeable connections, e.g. RPC clients for each ledger
// node. A connection may be handed to many callers at once, so T must be safe for concurrent use.
package pool

import (
	"context"
	"errors"
	"golang.org/x/sync/errgroup"
	"sync"
	"time"
)

type (
	ProbeFunc[T any] func(T) bool
	CloseFunc[T any] func(T) error

	Options[T any] struct {
		// Probe reports whether a connection is usable. Nil treats every connection as alive.
		Probe ProbeFunc[T]
		// ProbeTTL is how long a successful probe is trusted before the connection is probed again.
		ProbeTTL time.Duration
		// ReviveInterval, if set, periodically re-probes dead connections and returns them to rotation.
		ReviveInterval time.Duration
		Close          CloseFunc[T]
	}

	Pool[T comparable] struct {
		opts Options[T]

		mu         sync.Mutex
		next       int
		alive      []T
		dead       []T
		lastProbed map[T]time.Time

		stopCh chan struct{}
		stop   sync.Once
	}
)

var ErrPoolEmpty = errors.New("pool is empty")

func New[T comparable](conns []T, opts Options[T]) *Pool[T] {
	if opts.Probe == nil {
		opts.Probe = func(T) bool { return true }
	}

	p := &Pool[T]{
		opts:       opts,
		lastProbed: make(map[T]time.Time),
		stopCh:     make(chan struct{}),
	}

	p.Add(conns...)

	if opts.ReviveInterval > 0 {
		go p.reviveLoop()
	}

	return p
}

// Add probes each connection and places it in the alive or dead set accordingly.
func (p *Pool[T]) Add(conns ...T) {
	for _, conn := range conns {
		ok := p.opts.Probe(conn)

		p.mu.Lock()
		p.lastProbed[conn] = time.Now()
		if ok {
			p.alive = append(p.alive, conn)
		} else {
			p.dead = append(p.dead, conn)
		}
		p.mu.Unlock()
	}
}

// Next returns the next live connection in round-robin order. Connections whose probe has expired are re-probed,
// and moved to the dead set if they fail.
func (p *Pool[T]) Next() (T, error) {
	for {
		p.mu.Lock()
		if len(p.alive) == 0 {
			p.mu.Unlock()

			var zero T
			return zero, ErrPoolEmpty
		}

		if p.next >= len(p.alive) {
			p.next = 0
		}

		conn := p.alive[p.next]
		p.next++

		fresh := time.Since(p.lastProbed[conn]) <= p.opts.ProbeTTL
		p.mu.Unlock()

		if fresh {
			return conn, nil
		}

		ok := p.opts.Probe(conn)

		p.mu.Lock()
		p.lastProbed[conn] = time.Now()
		if !ok {
			p.markDead(conn)
		}
		p.mu.Unlock()

		if ok {
			return conn, nil
		}
	}
}

// All returns every connection, alive ones first.
func (p *Pool[T]) All() []T {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns := make([]T, 0, len(p.alive)+len(p.dead))
	conns = append(conns, p.alive...)
	return append(conns, p.dead...)
}

func (p *Pool[T]) Size() (alive, dead int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.alive), len(p.dead)
}

// Close stops the revive loop and closes every connection concurrently.
func (p *Pool[T]) Close(ctx context.Context) error {
	p.stop.Do(func() {
		close(p.stopCh)
	})

	if p.opts.Close == nil {
		return nil
	}

	group, _ := errgroup.WithContext(ctx)
	for _, conn := range p.All() {
		conn := conn
		group.Go(func() error {
			return p.opts.Close(conn)
		})
	}

	return group.Wait()
}

// markDead must be called with the lock held.
func (p *Pool[T]) markDead(conn T) {
	for i, c := range p.alive {
		if c == conn {
			p.alive = append(p.alive[:i], p.alive[i+1:]...)
			p.dead = append(p.dead, conn)
			return
		}
	}
}

func (p *Pool[T]) reviveLoop() {
	ticker := time.NewTicker(p.opts.ReviveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.revive()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool[T]) revive() {
	p.mu.Lock()
	candidates := append([]T(nil), p.dead...)
	p.mu.Unlock()

	for _, conn := range candidates {
		if !p.opts.Probe(conn) {
			continue
		}

		p.mu.Lock()
		for i, c := range p.dead {
			if c == conn {
				p.dead = append(p.dead[:i], p.dead[i+1:]...)
				p.alive = append(p.alive, conn)
				p.lastProbed[conn] = time.Now()
				break
			}
		}
		p.mu.Unlock()
	}
}
