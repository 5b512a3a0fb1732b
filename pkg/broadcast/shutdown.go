// Package broadcast coordinates graceful shutdown of long-running goroutines.
package broadcast

import (
	"errors"
	"sync"
	"time"
)

// Shutdown fans a shutdown request out to every subscriber, and collects the error each one reports once it has
// stopped. A subscriber receives a reply channel on its subscription channel and must send exactly one value on it.
type Shutdown struct {
	mu          sync.Mutex
	subscribers []chan chan error
}

func NewShutdown() *Shutdown {
	return &Shutdown{}
}

func (s *Shutdown) Subscribe() chan chan error {
	ch := make(chan chan error, 1)

	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()

	return ch
}

// Await signals every subscriber and waits up to timeout for all of them to reply. The returned error joins the
// errors reported by subscribers; subscribers that fail to reply in time are reported as ErrShutdownTimeout.
func (s *Shutdown) Await(timeout time.Duration) error {
	s.mu.Lock()
	subscribers := s.subscribers
	s.subscribers = nil
	s.mu.Unlock()

	if len(subscribers) == 0 {
		return nil
	}

	replies := make(chan error, len(subscribers))
	for _, sub := range subscribers {
		reply := make(chan error, 1)
		sub <- reply

		go func() {
			replies <- <-reply
		}()
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var errs []error
	for received := 0; received < len(subscribers); received++ {
		select {
		case err := <-replies:
			errs = append(errs, err)
		case <-deadline.C:
			return errors.Join(append(errs, ErrShutdownTimeout)...)
		}
	}

	return errors.Join(errs...)
}

var ErrShutdownTimeout = errors.New("timed out waiting for shutdown")
