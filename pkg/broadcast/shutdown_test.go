package broadcast

import (
	"errors"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestAwaitCollectsErrors(t *testing.T) {
	s := NewShutdown()

	failure := errors.New("websocket close failed")
	for i := 0; i < 5; i++ {
		go func(i int, sub chan chan error) {
			reply := <-sub
			if i == 3 {
				reply <- failure
			} else {
				reply <- nil
			}
		}(i, s.Subscribe())
	}

	err := s.Await(time.Second)
	require.ErrorIs(t, err, failure)
}

func TestAwaitNoSubscribers(t *testing.T) {
	require.NoError(t, NewShutdown().Await(time.Second))
}

func TestAwaitTimeout(t *testing.T) {
	s := NewShutdown()

	go func(sub chan chan error) {
		reply := <-sub
		time.Sleep(time.Second)
		reply <- nil
	}(s.Subscribe())

	err := s.Await(50 * time.Millisecond)
	require.ErrorIs(t, err, ErrShutdownTimeout)
}
