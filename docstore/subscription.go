package docstore

import (
	"context"
	"sync"
)

// Subscription is a live stream of snapshots. Each snapshot is a complete
// value, so delivery keeps only the latest undelivered one: a slow reader
// skips intermediate states but always ends up on the current value.
//
// The channel returned by C is closed once the subscription is cancelled.
// An undelivered value is discarded on close, so after Cancel returns a
// receive only ever reports the closed channel.
type Subscription[T any] struct {
	c    chan T
	once sync.Once

	mu          sync.Mutex
	unsubscribe func()
	stop        func() bool
}

func newSubscription[T any](ctx context.Context, unsubscribe func()) *Subscription[T] {
	s := &Subscription[T]{
		c:           make(chan T, 1),
		unsubscribe: unsubscribe,
	}
	stop := context.AfterFunc(ctx, s.Cancel)
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()
	return s
}

// NewSubscription returns a subscription fed through Send. It is meant for
// types that derive one stream from others (a tally from responses and a
// preset). The caller must serialize Send and Close.
func NewSubscription[T any](ctx context.Context, unsubscribe func()) *Subscription[T] {
	return newSubscription[T](ctx, unsubscribe)
}

func (s *Subscription[T]) C() <-chan T {
	return s.c
}

// Cancel detaches the subscription. It is safe to call more than once.
func (s *Subscription[T]) Cancel() {
	s.once.Do(func() {
		s.mu.Lock()
		stop := s.stop
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	})
}

// Send replaces any undelivered value with v. It never blocks.
func (s *Subscription[T]) Send(v T) {
	select {
	case s.c <- v:
		return
	default:
	}

	select {
	case <-s.c:
	default:
	}

	select {
	case s.c <- v:
	default:
	}
}

// Close discards any undelivered value and closes the delivery channel.
// Only the owner of the subscription calls it, exactly once, after its
// last Send.
func (s *Subscription[T]) Close() {
	select {
	case <-s.c:
	default:
	}
	close(s.c)
}
