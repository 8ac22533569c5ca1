package audit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// EventPasswordReset is the audit event name for an admin password reset.
const EventPasswordReset = "admin.password_reset"

// Entry records one completed admin password reset.
type Entry struct {
	ID            string    `json:"id"`
	TargetUserID  string    `json:"user_id"`
	PerformedBy   string    `json:"reset_by"`
	SourceAddress string    `json:"ip_address"`
	OccurredAt    time.Time `json:"created_at"`
}

// Sink appends entries. Implementations must accept concurrent calls.
type Sink interface {
	Append(ctx context.Context, e Entry) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Entry) error

func (f SinkFunc) Append(ctx context.Context, e Entry) error { return f(ctx, e) }

// LogSink writes entries to the JSON log stream.
type LogSink struct{}

func (LogSink) Append(ctx context.Context, e Entry) error {
	return LogEvent(WithActor(ctx, e.PerformedBy), EventPasswordReset, map[string]any{
		"entry_id":   e.ID,
		"user_id":    e.TargetUserID,
		"ip_address": e.SourceAddress,
		"created_at": e.OccurredAt.UTC().Format(time.RFC3339Nano),
	})
}

// MultiSink appends to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Append(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink keeps entries in memory.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

func (m *MemorySink) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

// Entries returns a copy of the recorded entries.
func (m *MemorySink) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}
