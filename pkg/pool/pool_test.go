package pool

import (
	"context"
	"errors"
	"github.com/stretchr/testify/require"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type node struct {
	id int
}

func TestRoundRobin(t *testing.T) {
	n1, n2 := &node{1}, &node{2}
	p := New([]*node{n1, n2}, Options[*node]{ProbeTTL: time.Minute})

	var got []*node
	for i := 0; i < 5; i++ {
		conn, err := p.Next()
		require.NoError(t, err)
		got = append(got, conn)
	}

	require.Equal(t, []*node{n1, n2, n1, n2, n1}, got)
}

func TestDeadConnectionsAreSkipped(t *testing.T) {
	n1, n2 := &node{1}, &node{2}
	p := New([]*node{n1, n2}, Options[*node]{
		Probe: func(n *node) bool { return n.id != 1 },
	})

	for i := 0; i < 10; i++ {
		conn, err := p.Next()
		require.NoError(t, err)
		require.Same(t, n2, conn)
	}

	alive, dead := p.Size()
	require.Equal(t, 1, alive)
	require.Equal(t, 1, dead)
}

func TestEmptyPool(t *testing.T) {
	p := New([]*node{{1}}, Options[*node]{
		Probe: func(*node) bool { return false },
	})

	_, err := p.Next()
	require.ErrorIs(t, err, ErrPoolEmpty)
}

func TestExpiredProbeRemovesConnection(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)

	p := New([]*node{{1}, {2}}, Options[*node]{
		Probe:    func(*node) bool { return healthy.Load() },
		ProbeTTL: 50 * time.Millisecond,
	})

	_, err := p.Next()
	require.NoError(t, err)

	healthy.Store(false)

	// Still trusted until the probe expires
	_, err = p.Next()
	require.NoError(t, err)

	time.Sleep(75 * time.Millisecond)

	_, err = p.Next()
	require.ErrorIs(t, err, ErrPoolEmpty)
}

func TestReviveLoop(t *testing.T) {
	var healthy atomic.Bool

	p := New([]*node{{1}}, Options[*node]{
		Probe:          func(*node) bool { return healthy.Load() },
		ProbeTTL:       time.Minute,
		ReviveInterval: 10 * time.Millisecond,
	})
	defer p.Close(context.Background())

	_, err := p.Next()
	require.ErrorIs(t, err, ErrPoolEmpty)

	healthy.Store(true)
	require.Eventually(t, func() bool {
		_, err := p.Next()
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestCloseClosesEveryConnection(t *testing.T) {
	var mu sync.Mutex
	closed := make(map[int]bool)

	p := New([]*node{{1}, {2}, {3}}, Options[*node]{
		Probe: func(n *node) bool { return n.id != 3 },
		Close: func(n *node) error {
			mu.Lock()
			closed[n.id] = true
			mu.Unlock()

			if n.id == 2 {
				return errors.New("already closed")
			}

			return nil
		},
	})

	require.Error(t, p.Close(context.Background()))
	require.Equal(t, map[int]bool{1: true, 2: true, 3: true}, closed)
}
