// Package dispatch applies identity-provider session events to the local
// session store.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"zippytrip.org/internal/identity"
	"zippytrip.org/internal/nav"
	"zippytrip.org/internal/obs"
	"zippytrip.org/internal/session"
)

// Event outcomes, also used as metric labels.
const (
	OutcomeSaved      = "saved"
	OutcomePreserved  = "preserved"
	OutcomeSuppressed = "suppressed"
	OutcomeCleared    = "cleared"
	OutcomeRejected   = "rejected"
	OutcomeMalformed  = "malformed"
	OutcomeFailed     = "failed"
)

// Dispatcher reacts to AuthEvents. It never returns errors to the event source.
type Dispatcher struct {
	store    *session.Store
	source   identity.EventSource
	nav      nav.Navigator
	location func() string
	roles    session.RolePolicy
	now      func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithNavigator(n nav.Navigator) Option {
	return func(d *Dispatcher) {
		if n != nil {
			d.nav = n
		}
	}
}

// WithLocation reports the screen the user is currently on.
func WithLocation(fn func() string) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.location = fn
		}
	}
}

func WithRoles(p session.RolePolicy) Option {
	return func(d *Dispatcher) {
		if len(p) > 0 {
			d.roles = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func New(store *session.Store, source identity.EventSource, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:    store,
		source:   source,
		nav:      nav.Discard,
		location: func() string { return "" },
		roles:    session.NewRolePolicy(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle applies one event and returns the outcome label.
func (d *Dispatcher) Handle(ctx context.Context, evt identity.AuthEvent) (outcome string) {
	defer func() {
		if r := recover(); r != nil {
			obs.Error("auth event handler panicked", map[string]any{"kind": evt.Kind.String(), "panic": fmt.Sprint(r)})
			outcome = OutcomeFailed
		}
		obs.RecordAuthEvent(evt.Kind.String(), outcome)
	}()

	switch evt.Kind {
	case identity.SignedIn, identity.TokenRefreshed:
		return d.establish(ctx, evt)
	case identity.PasswordRecovery:
		obs.Info("recovery token present; session not established", map[string]any{"kind": evt.Kind.String()})
		return OutcomeSuppressed
	case identity.SignedOut:
		if err := d.store.Clear(ctx); err != nil {
			obs.Error("clear session failed", map[string]any{"error": err.Error()})
			return OutcomeFailed
		}
		d.nav.Navigate(ctx, nav.Intent{Path: nav.PathSignIn, Reason: "signed out"})
		return OutcomeCleared
	default:
		obs.Warn("ignoring unknown auth event", map[string]any{"kind": evt.Kind.String()})
		return OutcomeMalformed
	}
}

func (d *Dispatcher) establish(ctx context.Context, evt identity.AuthEvent) string {
	kind := evt.Kind.String()
	if evt.Session == nil || strings.TrimSpace(evt.Session.User.ID) == "" {
		obs.Warn("ignoring auth event without user", map[string]any{"kind": kind})
		return OutcomeMalformed
	}
	if evt.Kind == identity.TokenRefreshed {
		if _, ok := d.store.Restore(ctx); ok {
			return OutcomePreserved
		}
	}
	u := evt.Session.User
	if !d.roles.Permits(u.Role) {
		obs.Warn("ignoring auth event for non-console role", map[string]any{"kind": kind, "user_id": u.ID, "role": u.Role})
		return OutcomeRejected
	}
	name := u.DisplayName
	if name == "" {
		name = u.Email
	}
	if err := d.store.Save(ctx, session.New(u.ID, name, u.Email, u.Role, d.now())); err != nil {
		obs.Error("save session failed", map[string]any{"kind": kind, "error": err.Error()})
		return OutcomeFailed
	}
	if nav.PreAuth(d.location()) {
		d.nav.Navigate(ctx, nav.Intent{Path: nav.PathHome, Reason: kind})
	}
	return OutcomeSaved
}

// Subscription is a running event loop started by Start.
type Subscription struct {
	cancel  func()
	stopped chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Start subscribes to the event source and handles events until ctx ends or
// Stop is called.
func (d *Dispatcher) Start(ctx context.Context) *Subscription {
	events, cancel := d.source.OnSessionEvent(ctx)
	sub := &Subscription{cancel: cancel, stopped: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for {
			select {
			case <-sub.stopped:
				return
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				select {
				case <-sub.stopped:
					return
				default:
				}
				d.Handle(ctx, evt)
			}
		}
	}()
	return sub
}

// Stop unsubscribes. It is safe to call repeatedly, concurrently and from
// inside a navigator callback; no event is handled after it returns except
// one already in progress.
func (s *Subscription) Stop() {
	s.once.Do(func() {
		close(s.stopped)
		s.cancel()
	})
}

// Done is closed when the event loop has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}
