package stream

import (
	"context"
	"sync"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 16

// Stream fan-outs values of T to all active subscribers.
type Stream[T any] struct {
	mu     sync.RWMutex
	subs   map[int]chan T
	next   int
	buffer int
	onDrop func()
}

// Option configures a Stream.
type Option func(*config)

type config struct {
	buffer int
	onDrop func()
}

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// WithDropHook is called once per value dropped for a slow subscriber.
func WithDropHook(fn func()) Option {
	return func(c *config) { c.onDrop = fn }
}

// New initialises an empty stream.
func New[T any](opts ...Option) *Stream[T] {
	cfg := config{buffer: DefaultBuffer}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Stream[T]{
		subs:   make(map[int]chan T),
		buffer: cfg.buffer,
		onDrop: cfg.onDrop,
	}
}

// Subscribe registers a subscriber and returns a channel which will receive values.
// The channel is closed when ctx ends or the returned cancel func is called,
// whichever happens first. cancel is safe to call any number of times from any goroutine.
func (s *Stream[T]) Subscribe(ctx context.Context) (<-chan T, func()) {
	ch := make(chan T, s.buffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	stop := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			close(ch)
			s.mu.Unlock()
			close(stop)
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-stop:
		}
	}()

	return ch, cancel
}

// Publish fan-outs the value to all subscribers and reports how many received it.
func (s *Stream[T]) Publish(v T) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	delivered := 0
	for _, ch := range s.subs {
		select {
		case ch <- v:
			delivered++
		default:
			// Drop when subscriber is slow to avoid blocking.
			if s.onDrop != nil {
				s.onDrop()
			}
		}
	}
	return delivered
}

// Subscribers returns the number of active subscribers.
func (s *Stream[T]) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
