package signin

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"zippytrip.org/internal/credential"
	"zippytrip.org/internal/identity"
	"zippytrip.org/internal/nav"
	"zippytrip.org/internal/session"
)

type stubProvider struct {
	*identity.Broadcaster
	signInFn   func(email, password string) (*identity.ProviderSession, error)
	signOutErr error
	signIns    int
	signOuts   int
}

func newStub() *stubProvider { return &stubProvider{Broadcaster: identity.NewBroadcaster()} }

func (s *stubProvider) SignInWithPassword(_ context.Context, email, password string) (*identity.ProviderSession, error) {
	s.signIns++
	return s.signInFn(email, password)
}
func (s *stubProvider) SignOut(context.Context) error { s.signOuts++; return s.signOutErr }
func (s *stubProvider) ResetPasswordForEmail(context.Context, string, string) error {
	return nil
}
func (s *stubProvider) UpdateCurrentUserPassword(context.Context, string) error { return nil }
func (s *stubProvider) GetUserByToken(context.Context, string) (*identity.User, error) {
	return nil, identity.ErrInvalidToken
}

var testTime = time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)

func navRecorder(paths *[]string) nav.Navigator {
	return nav.NavigatorFunc(func(_ context.Context, in nav.Intent) { *paths = append(*paths, in.Path) })
}

func TestSignInRequiresBothFields(t *testing.T) {
	p := newStub()
	c := New(p, session.NewStore(nil))
	_, err := c.SignIn(context.Background(), "a@x.com", "")
	if !errors.Is(err, credential.ErrValidation) || err.Error() != "Please enter both email and password" {
		t.Fatalf("unexpected error %v", err)
	}
	if p.signIns != 0 {
		t.Fatalf("provider must not be called, got %d calls", p.signIns)
	}
}

func TestSignInSuccess(t *testing.T) {
	var paths []string
	p := newStub()
	p.signInFn = func(email, _ string) (*identity.ProviderSession, error) {
		return &identity.ProviderSession{User: identity.User{ID: "u1", Email: email, Role: "Administrator"}}, nil
	}
	store := session.NewStore(nil)
	c := New(p, store, WithNavigator(navRecorder(&paths)))

	sess, err := c.SignIn(context.Background(), "admin@example.com", "admin123")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if sess.DisplayName != "admin@example.com" {
		t.Fatalf("expected email as display name fallback, got %q", sess.DisplayName)
	}
	if got, ok := c.Current(context.Background()); !ok || got != sess {
		t.Fatalf("session not stored: %+v", got)
	}
	if len(paths) != 1 || paths[0] != nav.PathHome {
		t.Fatalf("unexpected navigation %v", paths)
	}
}

func TestSignInProviderRejection(t *testing.T) {
	p := newStub()
	p.signInFn = func(string, string) (*identity.ProviderSession, error) {
		return nil, &identity.AuthError{Status: 400, Message: "Invalid login credentials"}
	}
	_, err := New(p, session.NewStore(nil)).SignIn(context.Background(), "a@x.com", "nope")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	p.signInFn = func(string, string) (*identity.ProviderSession, error) {
		return nil, fmt.Errorf("%w: timeout", identity.ErrNetwork)
	}
	_, err = New(p, session.NewStore(nil)).SignIn(context.Background(), "a@x.com", "nope")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestSignInRejectsNonConsoleRole(t *testing.T) {
	p := newStub()
	p.signInFn = func(email, _ string) (*identity.ProviderSession, error) {
		return &identity.ProviderSession{User: identity.User{ID: "u2", Email: email, Role: "Manager"}}, nil
	}
	store := session.NewStore(nil)
	_, err := New(p, store).SignIn(context.Background(), "m@x.com", "manager1")
	if !errors.Is(err, ErrNotPermitted) {
		t.Fatalf("expected ErrNotPermitted, got %v", err)
	}
	if p.signOuts != 1 {
		t.Fatalf("expected provider sign-out, got %d", p.signOuts)
	}
	if _, ok := store.Restore(context.Background()); ok {
		t.Fatal("no session must be stored")
	}
}

func TestSignOutClearsEvenWhenProviderFails(t *testing.T) {
	var paths []string
	p := newStub()
	p.signOutErr = errors.New("offline")
	store := session.NewStore(nil)
	_ = store.Save(context.Background(), session.New("u1", "A", "a@x.com", "Administrator", testTime))

	if err := New(p, store, WithNavigator(navRecorder(&paths))).SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if _, ok := store.Restore(context.Background()); ok {
		t.Fatal("session must be cleared")
	}
	if len(paths) != 1 || paths[0] != nav.PathSignIn {
		t.Fatalf("unexpected navigation %v", paths)
	}
}
