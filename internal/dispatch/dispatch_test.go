package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"zippytrip.org/internal/identity"
	"zippytrip.org/internal/nav"
	"zippytrip.org/internal/session"
)

type recorder struct {
	mu      sync.Mutex
	intents []nav.Intent
}

func (r *recorder) Navigate(_ context.Context, in nav.Intent) {
	r.mu.Lock()
	r.intents = append(r.intents, in)
	r.mu.Unlock()
}

func (r *recorder) paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.intents))
	for i, in := range r.intents {
		out[i] = in.Path
	}
	return out
}

var fixed = time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)

func providerSession(id, role string) *identity.ProviderSession {
	return &identity.ProviderSession{
		AccessToken: "tok",
		User:        identity.User{ID: id, Email: id + "@example.com", DisplayName: "User " + id, Role: role},
	}
}

func newDispatcher(location string) (*Dispatcher, *session.Store, *recorder, *identity.Broadcaster) {
	store := session.NewStore(session.NewMemoryStorage())
	rec := &recorder{}
	src := identity.NewBroadcaster()
	d := New(store, src,
		WithNavigator(rec),
		WithLocation(func() string { return location }),
		WithClock(func() time.Time { return fixed }),
	)
	return d, store, rec, src
}

func TestSignedInSavesAndNavigatesFromPreAuthScreen(t *testing.T) {
	ctx := context.Background()
	d, store, rec, _ := newDispatcher(nav.PathSignIn)

	require.Equal(t, OutcomeSaved, d.Handle(ctx, identity.AuthEvent{Kind: identity.SignedIn, Session: providerSession("u1", "Administrator")}))
	got, ok := store.Restore(ctx)
	require.True(t, ok)
	require.Equal(t, session.New("u1", "User u1", "u1@example.com", "Administrator", fixed), got)
	require.Equal(t, []string{nav.PathHome}, rec.paths())
}

func TestSignedInElsewhereDoesNotNavigate(t *testing.T) {
	d, _, rec, _ := newDispatcher("/bookings")
	d.Handle(context.Background(), identity.AuthEvent{Kind: identity.SignedIn, Session: providerSession("u1", "Administrator")})
	require.Empty(t, rec.paths())
}

func TestSignedInWithoutConsoleRoleIsIgnored(t *testing.T) {
	ctx := context.Background()
	d, store, _, _ := newDispatcher(nav.PathSignIn)
	require.Equal(t, OutcomeRejected, d.Handle(ctx, identity.AuthEvent{Kind: identity.SignedIn, Session: providerSession("u2", "Manager")}))
	_, ok := store.Restore(ctx)
	require.False(t, ok)
}

func TestTokenRefreshedPreservesActiveSession(t *testing.T) {
	ctx := context.Background()
	d, store, _, _ := newDispatcher("/")
	s1 := session.New("u1", "Rich Name", "u1@example.com", "Administrator", fixed.Add(-time.Hour))
	require.NoError(t, store.Save(ctx, s1))

	require.Equal(t, OutcomePreserved, d.Handle(ctx, identity.AuthEvent{Kind: identity.TokenRefreshed, Session: providerSession("u1", "Administrator")}))
	got, _ := store.Restore(ctx)
	require.Equal(t, s1, got)
}

func TestTokenRefreshedWithoutSessionEstablishes(t *testing.T) {
	ctx := context.Background()
	d, store, _, _ := newDispatcher("/")
	require.Equal(t, OutcomeSaved, d.Handle(ctx, identity.AuthEvent{Kind: identity.TokenRefreshed, Session: providerSession("u1", "Administrator")}))
	_, ok := store.Restore(ctx)
	require.True(t, ok)
}

func TestPasswordRecoveryNeverEstablishesSession(t *testing.T) {
	ctx := context.Background()
	d, store, rec, _ := newDispatcher(nav.PathResetPassword)
	require.Equal(t, OutcomeSuppressed, d.Handle(ctx, identity.AuthEvent{Kind: identity.PasswordRecovery, Session: providerSession("u1", "Administrator")}))
	_, ok := store.Restore(ctx)
	require.False(t, ok)
	require.Empty(t, rec.paths())
}

func TestSignedOutClearsRegardlessOfPriorState(t *testing.T) {
	ctx := context.Background()
	d, store, rec, _ := newDispatcher("/")

	require.Equal(t, OutcomeCleared, d.Handle(ctx, identity.AuthEvent{Kind: identity.SignedOut}))
	require.NoError(t, store.Save(ctx, session.New("u1", "", "", "Administrator", fixed)))
	d.Handle(ctx, identity.AuthEvent{Kind: identity.SignedOut})

	_, ok := store.Restore(ctx)
	require.False(t, ok)
	require.Equal(t, []string{nav.PathSignIn, nav.PathSignIn}, rec.paths())
}

func TestMalformedEventsAreIgnored(t *testing.T) {
	ctx := context.Background()
	d, store, _, _ := newDispatcher(nav.PathSignIn)
	require.Equal(t, OutcomeMalformed, d.Handle(ctx, identity.AuthEvent{Kind: identity.SignedIn}))
	require.Equal(t, OutcomeMalformed, d.Handle(ctx, identity.AuthEvent{Kind: identity.SignedIn, Session: &identity.ProviderSession{}}))
	require.Equal(t, OutcomeMalformed, d.Handle(ctx, identity.AuthEvent{Kind: identity.EventKind(42)}))
	_, ok := store.Restore(ctx)
	require.False(t, ok)
}

func TestPanickingNavigatorDoesNotEscape(t *testing.T) {
	store := session.NewStore(nil)
	d := New(store, identity.NewBroadcaster(), WithNavigator(nav.NavigatorFunc(func(context.Context, nav.Intent) {
		panic("boom")
	})))
	require.Equal(t, OutcomeFailed, d.Handle(context.Background(), identity.AuthEvent{Kind: identity.SignedOut}))
}

func TestStartHandlesEventsUntilStopped(t *testing.T) {
	ctx := context.Background()
	d, store, _, src := newDispatcher("/")
	sub := d.Start(ctx)

	src.Emit(identity.AuthEvent{Kind: identity.SignedIn, Session: providerSession("u1", "Administrator")})
	require.Eventually(t, func() bool {
		_, ok := store.Restore(ctx)
		return ok
	}, time.Second, 5*time.Millisecond)

	sub.Stop()
	sub.Stop()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("event loop did not exit")
	}

	src.Emit(identity.AuthEvent{Kind: identity.SignedOut})
	_, ok := store.Restore(ctx)
	require.True(t, ok, "events after Stop must not be applied")
}

func TestStopFromInsideCallback(t *testing.T) {
	ctx := context.Background()
	store := session.NewStore(nil)
	src := identity.NewBroadcaster()
	var sub *Subscription
	ready := make(chan struct{})
	d := New(store, src, WithNavigator(nav.NavigatorFunc(func(context.Context, nav.Intent) {
		<-ready
		sub.Stop()
	})))
	sub = d.Start(ctx)
	close(ready)

	src.Emit(identity.AuthEvent{Kind: identity.SignedOut})
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("event loop did not exit after in-callback stop")
	}
}

func TestContextCancelEndsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d, _, _, _ := newDispatcher("/")
	sub := d.Start(ctx)
	cancel()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("event loop did not exit on context cancel")
	}
}
