package identity

import (
	"context"

	"zippytrip.org/internal/obs"
	"zippytrip.org/internal/stream"
)

// Broadcaster fans AuthEvents out to subscribers. Providers embed it to
// implement EventSource.
type Broadcaster struct {
	s *stream.Stream[AuthEvent]
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{s: stream.New[AuthEvent](stream.WithDropHook(obs.RecordDroppedEvent))}
}

func (b *Broadcaster) OnSessionEvent(ctx context.Context) (<-chan AuthEvent, func()) {
	return b.s.Subscribe(ctx)
}

// Emit publishes evt without blocking.
func (b *Broadcaster) Emit(evt AuthEvent) {
	b.s.Publish(evt)
}
